package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// headerSize is direction(1) + command(1) + size(2) + checksum/value(4).
	headerSize = 8
	// dataHeaderSize is size(4) + seq(4) + reserved(8) ahead of block data.
	dataHeaderSize = 16
)

// Request represents an ESP32 bootloader request packet.
type Request struct {
	Command  byte
	Data     []byte
	Checksum uint32
}

// Response represents an ESP32 bootloader response packet.
type Response struct {
	Command byte
	Data    []byte
	Value   uint32
	Status  byte
	Error   byte
}

// NewRequest creates a new request with calculated checksum.
func NewRequest(cmd byte, data []byte) *Request {
	r := &Request{
		Command: cmd,
		Data:    data,
	}
	r.Checksum = Checksum(data)
	return r
}

// NewDataRequest creates a request for FLASH_DATA or FLASH_DEFL_DATA. The
// bootloader checksums only the block after the 16-byte header.
func NewDataRequest(cmd byte, payload []byte) *Request {
	r := &Request{
		Command: cmd,
		Data:    payload,
	}
	if len(payload) > dataHeaderSize {
		r.Checksum = Checksum(payload[dataHeaderSize:])
	} else {
		r.Checksum = Checksum(nil)
	}
	return r
}

// Checksum is the XOR of payload bytes seeded with 0xEF. The bootloader only
// checks it for data-carrying commands, but it is always sent.
func Checksum(data []byte) uint32 {
	var checksum byte = 0xEF
	for _, b := range data {
		checksum ^= b
	}
	return uint32(checksum)
}

// Encode serializes the request to bytes (before SLIP encoding).
func (r *Request) Encode() []byte {
	packet := make([]byte, headerSize+len(r.Data))
	packet[0] = DirRequest
	packet[1] = r.Command
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(r.Data)))
	binary.LittleEndian.PutUint32(packet[4:8], r.Checksum)
	copy(packet[headerSize:], r.Data)
	return packet
}

// DecodeRequest parses a request from raw bytes (after SLIP decoding).
func DecodeRequest(data []byte) (*Request, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("request too short: %d bytes", len(data))
	}
	if data[0] != DirRequest {
		return nil, fmt.Errorf("invalid direction byte: 0x%02X", data[0])
	}
	size := int(binary.LittleEndian.Uint16(data[2:4]))
	if size > len(data)-headerSize {
		return nil, fmt.Errorf("data size mismatch: expected %d, have %d", size, len(data)-headerSize)
	}
	return &Request{
		Command:  data[1],
		Checksum: binary.LittleEndian.Uint32(data[4:8]),
		Data:     data[headerSize : headerSize+size],
	}, nil
}

// Encode serializes the response, appending the status and error bytes to
// the payload.
func (r *Response) Encode() []byte {
	size := len(r.Data) + 2
	packet := make([]byte, headerSize+size)
	packet[0] = DirResponse
	packet[1] = r.Command
	binary.LittleEndian.PutUint16(packet[2:4], uint16(size))
	binary.LittleEndian.PutUint32(packet[4:8], r.Value)
	copy(packet[headerSize:], r.Data)
	packet[headerSize+size-2] = r.Status
	packet[headerSize+size-1] = r.Error
	return packet
}

// DecodeResponse parses a response from raw bytes (after SLIP decoding).
func DecodeResponse(data []byte) (*Response, error) {
	// Minimum response is 8 bytes header + 2 bytes status
	if len(data) < headerSize+2 {
		return nil, fmt.Errorf("response too short: %d bytes", len(data))
	}

	if data[0] != DirResponse {
		return nil, fmt.Errorf("invalid direction byte: 0x%02X", data[0])
	}

	resp := &Response{
		Command: data[1],
		Value:   binary.LittleEndian.Uint32(data[4:8]),
	}

	dataSize := int(binary.LittleEndian.Uint16(data[2:4]))
	if dataSize > len(data)-headerSize {
		return nil, fmt.Errorf("data size mismatch: expected %d, have %d", dataSize, len(data)-headerSize)
	}

	payload := data[headerSize : headerSize+dataSize]
	switch {
	case dataSize >= 2:
		// Last two bytes are status and error
		resp.Data = payload[:dataSize-2]
		resp.Status = payload[dataSize-2]
		resp.Error = payload[dataSize-1]
	case dataSize > 0:
		resp.Data = payload
	}

	return resp, nil
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status == 0 && r.Error == 0
}

// ErrorString returns a human-readable error message.
func (r *Response) ErrorString() string {
	if r.IsSuccess() {
		return ""
	}
	return fmt.Sprintf("status=0x%02X error=0x%02X (%s)", r.Status, r.Error, ErrorMessage(r.Error))
}

// SecurityInfo is the part of GET_SECURITY_INFO this tool uses.
type SecurityInfo struct {
	ChipID uint32
}

// ParseSecurityInfo extracts the chip ID from a GET_SECURITY_INFO payload.
func ParseSecurityInfo(data []byte) (*SecurityInfo, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("security info too short: %d bytes", len(data))
	}
	return &SecurityInfo{ChipID: binary.LittleEndian.Uint32(data[0:4])}, nil
}

func words(values ...uint32) []byte {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], v)
	}
	return data
}

// SyncData returns the data payload for a SYNC command.
func SyncData() []byte {
	// SYNC payload: 0x07 0x07 0x12 0x20 followed by 32 bytes of 0x55
	data := make([]byte, 36)
	copy(data, []byte{0x07, 0x07, 0x12, 0x20})
	for i := 4; i < len(data); i++ {
		data[i] = 0x55
	}
	return data
}

// SpiAttachData creates the data payload for SPI_ATTACH command.
func SpiAttachData() []byte {
	// All zeros selects the default SPI pins
	return make([]byte, 8)
}

// SpiSetParamsData creates the SPI_SET_PARAMS payload for a part of
// totalSize bytes with standard 64KB blocks, 4KB sectors and 256B pages.
func SpiSetParamsData(totalSize uint32) []byte {
	return words(0, totalSize, 0x10000, FlashSectorSize, 0x100, 0xFFFF)
}

// FlashBeginData creates the data payload for FLASH_BEGIN. The bootloader
// erases eraseSize bytes at offset before accepting data.
func FlashBeginData(eraseSize, numBlocks, blockSize, offset uint32) []byte {
	return words(eraseSize, numBlocks, blockSize, offset)
}

// FlashDataData creates the data payload for FLASH_DATA, padding short
// blocks with 0xFF.
func FlashDataData(data []byte, seq uint32) []byte {
	if len(data) < FlashBlockSize {
		padded := make([]byte, FlashBlockSize)
		copy(padded, data)
		for i := len(data); i < FlashBlockSize; i++ {
			padded[i] = 0xFF
		}
		data = padded
	}
	return dataPayload(data, seq)
}

// FlashEndData creates the data payload for FLASH_END command.
func FlashEndData(reboot bool) []byte {
	if reboot {
		return words(0) // 0 = reboot
	}
	return words(1) // 1 = stay in bootloader
}

// FlashDeflBeginData creates the FLASH_DEFL_BEGIN payload. eraseSize is the
// uncompressed size to erase, numBlocks counts compressed blocks.
func FlashDeflBeginData(eraseSize, numBlocks, blockSize, offset uint32) []byte {
	return words(eraseSize, numBlocks, blockSize, offset)
}

// FlashDeflDataData creates the FLASH_DEFL_DATA payload for one block of
// compressed data. Compressed blocks are never padded.
func FlashDeflDataData(data []byte, seq uint32) []byte {
	return dataPayload(data, seq)
}

// FlashDeflEndData creates the FLASH_DEFL_END payload.
func FlashDeflEndData(reboot bool) []byte {
	return FlashEndData(reboot)
}

// FlashMD5Data creates the data payload for SPI_FLASH_MD5 command.
func FlashMD5Data(address, size uint32) []byte {
	return words(address, size, 0, 0)
}

// ReadFlashSlowData creates the READ_FLASH_SLOW payload for size bytes
// (at most ReadFlashSlowBlock) at address.
func ReadFlashSlowData(address, size uint32) []byte {
	return words(address, size)
}

func dataPayload(data []byte, seq uint32) []byte {
	payload := make([]byte, dataHeaderSize+len(data))
	copy(payload, words(uint32(len(data)), seq, 0, 0))
	copy(payload[dataHeaderSize:], data)
	return payload
}
