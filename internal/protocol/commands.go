package protocol

// ESP32 ROM bootloader commands
const (
	CmdFlashBegin      = 0x02
	CmdFlashData       = 0x03
	CmdFlashEnd        = 0x04
	CmdSync            = 0x08
	CmdSpiSetParams    = 0x0B
	CmdSpiAttach       = 0x0D
	CmdReadFlashSlow   = 0x0E
	CmdFlashDeflBegin  = 0x10
	CmdFlashDeflData   = 0x11
	CmdFlashDeflEnd    = 0x12
	CmdSpiFlashMD5     = 0x13
	CmdGetSecurityInfo = 0x14
)

// Direction byte values
const (
	DirRequest  = 0x00
	DirResponse = 0x01
)

// Flash transfer parameters
const (
	FlashBlockSize     = 0x400  // 1KB data blocks
	FlashSectorSize    = 0x1000 // 4KB erase sectors
	ReadFlashSlowBlock = 64     // bytes returned per READ_FLASH_SLOW
)

// Chip IDs
const (
	ChipIDESP32C3 = 0x05
)

// ChipName returns human-readable name for chip ID
func ChipName(id uint32) string {
	switch id {
	case ChipIDESP32C3:
		return "ESP32-C3"
	default:
		return "ESP32"
	}
}

// CommandName returns the bootloader name of a command byte.
func CommandName(cmd byte) string {
	switch cmd {
	case CmdFlashBegin:
		return "FLASH_BEGIN"
	case CmdFlashData:
		return "FLASH_DATA"
	case CmdFlashEnd:
		return "FLASH_END"
	case CmdSync:
		return "SYNC"
	case CmdSpiSetParams:
		return "SPI_SET_PARAMS"
	case CmdSpiAttach:
		return "SPI_ATTACH"
	case CmdReadFlashSlow:
		return "READ_FLASH_SLOW"
	case CmdFlashDeflBegin:
		return "FLASH_DEFL_BEGIN"
	case CmdFlashDeflData:
		return "FLASH_DEFL_DATA"
	case CmdFlashDeflEnd:
		return "FLASH_DEFL_END"
	case CmdSpiFlashMD5:
		return "SPI_FLASH_MD5"
	case CmdGetSecurityInfo:
		return "GET_SECURITY_INFO"
	default:
		return "UNKNOWN"
	}
}

// Error codes from ROM bootloader
const (
	ErrInvalidMessage  = 0x05
	ErrFailedToAct     = 0x06
	ErrInvalidCRC      = 0x07
	ErrFlashWriteErr   = 0x08
	ErrFlashReadErr    = 0x09
	ErrFlashReadLenErr = 0x0A
	ErrDeflateError    = 0x0B
)

// ErrorMessage returns human-readable error message
func ErrorMessage(code byte) string {
	switch code {
	case ErrInvalidMessage:
		return "invalid message"
	case ErrFailedToAct:
		return "failed to act"
	case ErrInvalidCRC:
		return "invalid CRC"
	case ErrFlashWriteErr:
		return "flash write error"
	case ErrFlashReadErr:
		return "flash read error"
	case ErrFlashReadLenErr:
		return "flash read length error"
	case ErrDeflateError:
		return "deflate error"
	default:
		return "unknown error"
	}
}
