// Package romsim simulates the ESP32 ROM serial bootloader on top of an
// in-memory flash array, for exercising bootloader sessions without hardware.
package romsim

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/bigbag/papyrix-mtd/internal/protocol"
	"github.com/bigbag/papyrix-mtd/internal/slip"
)

// ROM is a simulated bootloader. It implements flasher.Transport.
type ROM struct {
	mu sync.Mutex

	Flash  []byte
	ChipID uint32

	// Fail makes a command answer with the given ROM error code.
	Fail map[byte]byte
	// Silent commands get no answer at all.
	Silent map[byte]bool

	Commands   []byte
	Resets     int
	HardResets int
	Rebooted   bool

	in  slip.Decoder
	out []byte

	writeAddr  uint32
	blockSize  uint32
	deflAddr   uint32
	compressed []byte
}

// New creates a ROM with size bytes of erased flash.
func New(size int) *ROM {
	return &ROM{
		Flash:  bytes.Repeat([]byte{0xFF}, size),
		ChipID: protocol.ChipIDESP32C3,
		Fail:   make(map[byte]byte),
		Silent: make(map[byte]bool),
	}
}

// Write accepts SLIP frames from the host and queues the answers.
func (r *ROM) Write(data []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.in.Feed(data)
	for {
		frame, ok := r.in.Next()
		if !ok {
			break
		}
		req, err := protocol.DecodeRequest(frame)
		if err != nil {
			continue
		}
		r.Commands = append(r.Commands, req.Command)
		if r.Silent[req.Command] {
			continue
		}
		resp := r.handle(req)
		r.out = append(r.out, slip.Encode(resp.Encode())...)
	}
	return len(data), nil
}

// ReadWithTimeout returns queued answers. With nothing queued it waits a
// millisecond at most, so a silent command still times out.
func (r *ROM) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	r.mu.Lock()
	n := copy(buf, r.out)
	r.out = r.out[n:]
	r.mu.Unlock()

	if n == 0 {
		time.Sleep(min(timeout, time.Millisecond))
	}
	return n, nil
}

// Flush drops unread answers.
func (r *ROM) Flush() error {
	r.mu.Lock()
	r.out = nil
	r.mu.Unlock()
	return nil
}

// ResetToBootloader counts reset requests.
func (r *ROM) ResetToBootloader() error {
	r.mu.Lock()
	r.Resets++
	r.mu.Unlock()
	return nil
}

// HardReset counts application resets.
func (r *ROM) HardReset() error {
	r.mu.Lock()
	r.HardResets++
	r.mu.Unlock()
	return nil
}

// Count returns how many times cmd was received.
func (r *ROM) Count(cmd byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.Commands {
		if c == cmd {
			n++
		}
	}
	return n
}

func (r *ROM) handle(req *protocol.Request) *protocol.Response {
	resp := &protocol.Response{Command: req.Command}
	if code, ok := r.Fail[req.Command]; ok {
		resp.Status, resp.Error = 1, code
		return resp
	}

	fail := func(code byte) *protocol.Response {
		resp.Status, resp.Error = 1, code
		return resp
	}
	word := func(i int) uint32 {
		if len(req.Data) < 4*(i+1) {
			return 0
		}
		return binary.LittleEndian.Uint32(req.Data[4*i:])
	}

	switch req.Command {
	case protocol.CmdSync, protocol.CmdSpiAttach, protocol.CmdSpiSetParams:

	case protocol.CmdGetSecurityInfo:
		resp.Data = make([]byte, 12)
		binary.LittleEndian.PutUint32(resp.Data, r.ChipID)

	case protocol.CmdFlashBegin:
		if !r.erase(word(3), word(0)) {
			return fail(protocol.ErrFailedToAct)
		}
		r.writeAddr, r.blockSize = word(3), word(2)

	case protocol.CmdFlashData:
		block, seq, ok := r.block(req)
		if !ok {
			return fail(protocol.ErrInvalidCRC)
		}
		if !r.program(r.writeAddr+seq*r.blockSize, block) {
			return fail(protocol.ErrFlashWriteErr)
		}

	case protocol.CmdFlashEnd, protocol.CmdFlashDeflEnd:
		if req.Command == protocol.CmdFlashDeflEnd && !r.inflate() {
			return fail(protocol.ErrDeflateError)
		}
		if word(0) == 0 {
			r.Rebooted = true
		}

	case protocol.CmdFlashDeflBegin:
		if !r.erase(word(3), word(0)) {
			return fail(protocol.ErrFailedToAct)
		}
		r.deflAddr = word(3)
		r.compressed = r.compressed[:0]

	case protocol.CmdFlashDeflData:
		block, _, ok := r.block(req)
		if !ok {
			return fail(protocol.ErrInvalidCRC)
		}
		r.compressed = append(r.compressed, block...)

	case protocol.CmdReadFlashSlow:
		addr, size := word(0), word(1)
		if size > protocol.ReadFlashSlowBlock || !r.inRange(addr, size) {
			return fail(protocol.ErrFlashReadLenErr)
		}
		resp.Data = append([]byte(nil), r.Flash[addr:addr+size]...)

	case protocol.CmdSpiFlashMD5:
		addr, size := word(0), word(1)
		if !r.inRange(addr, size) {
			return fail(protocol.ErrFlashReadErr)
		}
		sum := md5.Sum(r.Flash[addr : addr+size])
		resp.Data = []byte(hex.EncodeToString(sum[:]))

	default:
		return fail(protocol.ErrInvalidMessage)
	}
	return resp
}

func (r *ROM) block(req *protocol.Request) ([]byte, uint32, bool) {
	if len(req.Data) < 16 {
		return nil, 0, false
	}
	size := binary.LittleEndian.Uint32(req.Data[0:4])
	seq := binary.LittleEndian.Uint32(req.Data[4:8])
	block := req.Data[16:]
	if int(size) != len(block) || protocol.Checksum(block) != req.Checksum {
		return nil, 0, false
	}
	return block, seq, true
}

func (r *ROM) inRange(addr, size uint32) bool {
	return uint64(addr)+uint64(size) <= uint64(len(r.Flash))
}

// erase clears every sector touched by [addr, addr+size).
func (r *ROM) erase(addr, size uint32) bool {
	const sector = protocol.FlashSectorSize
	start := uint64(addr) &^ (sector - 1)
	end := (uint64(addr) + uint64(size) + sector - 1) &^ (sector - 1)
	if end > uint64(len(r.Flash)) {
		return false
	}
	for i := start; i < end; i++ {
		r.Flash[i] = 0xFF
	}
	return true
}

func (r *ROM) program(addr uint32, data []byte) bool {
	if !r.inRange(addr, uint32(len(data))) {
		return false
	}
	for i, b := range data {
		r.Flash[int(addr)+i] &= b
	}
	return true
}

func (r *ROM) inflate() bool {
	zr, err := zlib.NewReader(bytes.NewReader(r.compressed))
	if err != nil {
		return false
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return false
	}
	return r.program(r.deflAddr, data)
}
