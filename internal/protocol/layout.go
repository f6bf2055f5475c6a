package protocol

// Default layout of the filesystem region on a 4MB ESP32 part.
const (
	FlashSize      = 0x400000
	FSStartAddress = 0x120000
	FSCapacity     = 0x100000
	FSPageShift    = 8
	FSSectorShift  = 12
)

// Default baud rate
const DefaultBaudRate = 921600

// CalculateFlashBlocks returns the number of FLASH_DATA blocks for n bytes.
func CalculateFlashBlocks(n int) uint32 {
	return CalculateDeflBlocks(n, FlashBlockSize)
}

// CalculateDeflBlocks returns the number of blockSize chunks covering n bytes.
func CalculateDeflBlocks(n, blockSize int) uint32 {
	if n <= 0 || blockSize <= 0 {
		return 0
	}
	return uint32((n + blockSize - 1) / blockSize)
}

// CalculateEraseSize rounds n up to whole flash sectors.
func CalculateEraseSize(n int) uint32 {
	if n <= 0 {
		return 0
	}
	sectors := (n + FlashSectorSize - 1) / FlashSectorSize
	return uint32(sectors * FlashSectorSize)
}
