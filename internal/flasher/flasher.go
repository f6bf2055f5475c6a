// Package flasher runs command sessions against the ESP32 ROM serial
// bootloader: sync, erase, program, read back and verify flash.
package flasher

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/bigbag/papyrix-mtd/internal/errno"
	"github.com/bigbag/papyrix-mtd/internal/protocol"
	"github.com/bigbag/papyrix-mtd/internal/slip"
)

// ErrTimeout is returned when the bootloader does not answer in time.
var ErrTimeout = errors.New("timeout waiting for response")

// Transport is the byte link to the bootloader. *serial.Port implements it.
type Transport interface {
	Write(data []byte) (int, error)
	// ReadWithTimeout returns what arrives within timeout; (0, nil) means
	// nothing arrived.
	ReadWithTimeout(buf []byte, timeout time.Duration) (int, error)
	Flush() error
	ResetToBootloader() error
	HardReset() error
}

// CommandError is a failure status reported by the bootloader.
type CommandError struct {
	Command byte
	Status  byte
	Code    byte
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s (0x%02X) failed: status=0x%02X error=0x%02X (%s)",
		protocol.CommandName(e.Command), e.Command, e.Status, e.Code, protocol.ErrorMessage(e.Code))
}

// Errno maps every bootloader failure to EIO.
func (e *CommandError) Errno() errno.Errno { return errno.EIO }

// ProgressCallback is called to report flash progress.
type ProgressCallback func(current, total int)

// Options tunes session timing.
type Options struct {
	CommandTimeout time.Duration
	EraseTimeoutMB time.Duration // erase budget per megabyte
	SyncAttempts   int
	SyncTimeout    time.Duration
	Logger         *slog.Logger
}

// DefaultOptions returns the timings used against real hardware.
func DefaultOptions() Options {
	return Options{
		CommandTimeout: 5 * time.Second,
		EraseTimeoutMB: 30 * time.Second,
		SyncAttempts:   10,
		SyncTimeout:    500 * time.Millisecond,
	}
}

// Flasher handles one bootloader session over a Transport.
type Flasher struct {
	t        Transport
	opts     Options
	dec      slip.Decoder
	progress ProgressCallback
	log      *slog.Logger
}

// New creates a Flasher with DefaultOptions.
func New(t Transport) *Flasher {
	return NewWithOptions(t, DefaultOptions())
}

// NewWithOptions creates a Flasher with explicit timings.
func NewWithOptions(t Transport, opts Options) *Flasher {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Flasher{t: t, opts: opts, log: log}
}

// SetProgressCallback sets the progress callback function.
func (f *Flasher) SetProgressCallback(cb ProgressCallback) {
	f.progress = cb
}

func (f *Flasher) reportProgress(current, total int) {
	if f.progress != nil {
		f.progress(current, total)
	}
}

// Connect resets the chip into the bootloader, syncs and attaches SPI flash.
func (f *Flasher) Connect() error {
	if err := f.t.ResetToBootloader(); err != nil {
		return fmt.Errorf("failed to reset into bootloader: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync with bootloader: %w", err)
	}
	if err := f.command(protocol.CmdSpiAttach, protocol.SpiAttachData(), f.opts.CommandTimeout); err != nil {
		return fmt.Errorf("failed to attach SPI flash: %w", err)
	}
	return nil
}

// Sync sends SYNC until the bootloader answers.
func (f *Flasher) Sync() error {
	frame := slip.Encode(protocol.NewRequest(protocol.CmdSync, protocol.SyncData()).Encode())

	for attempt := 0; attempt < f.opts.SyncAttempts; attempt++ {
		f.t.Flush()
		f.dec.Reset()

		if _, err := f.t.Write(frame); err != nil {
			continue
		}
		resp, err := f.readResponse(protocol.CmdSync, f.opts.SyncTimeout)
		if err != nil || !resp.IsSuccess() {
			continue
		}

		// The ROM answers one SYNC with several replies; drop the rest.
		f.t.Flush()
		f.dec.Reset()
		f.log.Debug("bootloader synced", "attempt", attempt+1)
		return nil
	}

	return fmt.Errorf("sync failed after %d attempts", f.opts.SyncAttempts)
}

// ChipID reads the chip identifier with GET_SECURITY_INFO.
func (f *Flasher) ChipID() (uint32, error) {
	resp, err := f.exchange(protocol.NewRequest(protocol.CmdGetSecurityInfo, nil), f.opts.CommandTimeout)
	if err != nil {
		return 0, err
	}
	info, err := protocol.ParseSecurityInfo(resp.Data)
	if err != nil {
		return 0, err
	}
	return info.ChipID, nil
}

// EraseRegion erases size bytes at address. Both are rounded out to whole
// sectors by the bootloader.
func (f *Flasher) EraseRegion(address, size uint32) error {
	begin := protocol.FlashBeginData(size, 0, protocol.FlashBlockSize, address)
	if err := f.command(protocol.CmdFlashBegin, begin, f.eraseTimeout(size)); err != nil {
		return fmt.Errorf("erase 0x%X+0x%X failed: %w", address, size, err)
	}
	return nil
}

// WriteRegion programs data at address. The bootloader erases the sectors
// it covers first. With compress set the image travels zlib-compressed over
// the FLASH_DEFL_* commands.
func (f *Flasher) WriteRegion(data []byte, address uint32, compress bool) error {
	if compress {
		return f.writeDeflated(data, address)
	}
	return f.writePlain(data, address)
}

func (f *Flasher) writePlain(data []byte, address uint32) error {
	numBlocks := protocol.CalculateFlashBlocks(len(data))
	eraseSize := protocol.CalculateEraseSize(len(data))

	begin := protocol.FlashBeginData(eraseSize, numBlocks, protocol.FlashBlockSize, address)
	if err := f.command(protocol.CmdFlashBegin, begin, f.eraseTimeout(eraseSize)); err != nil {
		return fmt.Errorf("flash begin failed: %w", err)
	}

	if err := f.sendBlocks(protocol.CmdFlashData, data, protocol.FlashDataData); err != nil {
		return err
	}

	if err := f.command(protocol.CmdFlashEnd, protocol.FlashEndData(false), f.opts.CommandTimeout); err != nil {
		return fmt.Errorf("flash end failed: %w", err)
	}
	return nil
}

func (f *Flasher) writeDeflated(data []byte, address uint32) error {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return err
	}
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("compress image: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress image: %w", err)
	}
	compressed := buf.Bytes()

	numBlocks := protocol.CalculateDeflBlocks(len(compressed), protocol.FlashBlockSize)
	eraseSize := uint32(len(data))

	f.log.Debug("deflated image",
		"address", address,
		"size", len(data),
		"compressed", len(compressed),
	)

	begin := protocol.FlashDeflBeginData(eraseSize, numBlocks, protocol.FlashBlockSize, address)
	if err := f.command(protocol.CmdFlashDeflBegin, begin, f.eraseTimeout(eraseSize)); err != nil {
		return fmt.Errorf("flash defl begin failed: %w", err)
	}

	if err := f.sendBlocks(protocol.CmdFlashDeflData, compressed, protocol.FlashDeflDataData); err != nil {
		return err
	}

	if err := f.command(protocol.CmdFlashDeflEnd, protocol.FlashDeflEndData(false), f.opts.CommandTimeout); err != nil {
		return fmt.Errorf("flash defl end failed: %w", err)
	}
	return nil
}

func (f *Flasher) sendBlocks(cmd byte, data []byte, payload func([]byte, uint32) []byte) error {
	total := int(protocol.CalculateDeflBlocks(len(data), protocol.FlashBlockSize))
	for seq := 0; seq < total; seq++ {
		start := seq * protocol.FlashBlockSize
		end := min(start+protocol.FlashBlockSize, len(data))

		req := protocol.NewDataRequest(cmd, payload(data[start:end], uint32(seq)))
		if _, err := f.exchange(req, f.opts.CommandTimeout); err != nil {
			return fmt.Errorf("flash data block %d failed: %w", seq, err)
		}
		f.reportProgress(seq+1, total)
	}
	return nil
}

// ReadRegion fills buf from flash at address using READ_FLASH_SLOW.
func (f *Flasher) ReadRegion(address uint32, buf []byte) error {
	for off := 0; off < len(buf); off += protocol.ReadFlashSlowBlock {
		n := min(protocol.ReadFlashSlowBlock, len(buf)-off)
		req := protocol.NewRequest(protocol.CmdReadFlashSlow, protocol.ReadFlashSlowData(address+uint32(off), uint32(n)))

		resp, err := f.exchange(req, f.opts.CommandTimeout)
		if err != nil {
			return fmt.Errorf("read 0x%X failed: %w", address+uint32(off), err)
		}
		if len(resp.Data) < n {
			return fmt.Errorf("read 0x%X returned %d bytes, want %d: %w", address+uint32(off), len(resp.Data), n, errno.EIO)
		}
		copy(buf[off:], resp.Data[:n])
	}
	return nil
}

// VerifyMD5 compares data with the MD5 the bootloader computes over the same
// flash range.
func (f *Flasher) VerifyMD5(data []byte, address uint32) error {
	hash := md5.Sum(data)
	expected := hex.EncodeToString(hash[:])

	req := protocol.NewRequest(protocol.CmdSpiFlashMD5, protocol.FlashMD5Data(address, uint32(len(data))))
	// MD5 can take a while for large images
	resp, err := f.exchange(req, 2*f.opts.CommandTimeout)
	if err != nil {
		return err
	}

	actual := string(resp.Data)
	if len(actual) >= 32 {
		actual = actual[:32]
	}
	if actual != expected {
		return fmt.Errorf("MD5 mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// Reboot leaves the bootloader and restarts the chip.
func (f *Flasher) Reboot() error {
	req := protocol.NewRequest(protocol.CmdFlashEnd, protocol.FlashEndData(true))
	if _, err := f.t.Write(slip.Encode(req.Encode())); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return f.t.HardReset()
}

func (f *Flasher) eraseTimeout(size uint32) time.Duration {
	d := time.Duration(float64(f.opts.EraseTimeoutMB) * float64(size) / (1 << 20))
	return max(d, f.opts.CommandTimeout)
}

func (f *Flasher) command(cmd byte, data []byte, timeout time.Duration) error {
	_, err := f.exchange(protocol.NewRequest(cmd, data), timeout)
	return err
}

// exchange sends req and waits for its successful response.
func (f *Flasher) exchange(req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	if _, err := f.t.Write(slip.Encode(req.Encode())); err != nil {
		return nil, err
	}

	resp, err := f.readResponse(req.Command, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, &CommandError{Command: req.Command, Status: resp.Status, Code: resp.Error}
	}
	return resp, nil
}

// readResponse waits for a response to cmd, skipping stale replies to other
// commands.
func (f *Flasher) readResponse(cmd byte, timeout time.Duration) (*protocol.Response, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 256)

	for {
		for {
			frame, ok := f.dec.Next()
			if !ok {
				break
			}
			resp, err := protocol.DecodeResponse(frame)
			if err != nil || resp.Command != cmd {
				continue
			}
			return resp, nil
		}

		if !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}

		n, err := f.t.ReadWithTimeout(chunk, min(100*time.Millisecond, time.Until(deadline)))
		if n > 0 {
			f.dec.Feed(chunk[:n])
		}
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", protocol.CommandName(cmd), err)
		}
	}
}
