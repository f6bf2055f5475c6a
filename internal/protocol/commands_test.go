package protocol

import (
	"encoding/binary"
	"testing"
)

func TestChipName(t *testing.T) {
	tests := []struct {
		chipID   uint32
		expected string
	}{
		{ChipIDESP32C3, "ESP32-C3"},
		{0x00, "ESP32"},
		{0x99, "ESP32"},
		{0xFFFFFFFF, "ESP32"},
	}

	for _, tc := range tests {
		if result := ChipName(tc.chipID); result != tc.expected {
			t.Errorf("ChipName(0x%X) = %q, want %q", tc.chipID, result, tc.expected)
		}
	}
}

func TestCommandName(t *testing.T) {
	tests := []struct {
		cmd      byte
		expected string
	}{
		{CmdFlashBegin, "FLASH_BEGIN"},
		{CmdReadFlashSlow, "READ_FLASH_SLOW"},
		{CmdFlashDeflData, "FLASH_DEFL_DATA"},
		{CmdSpiFlashMD5, "SPI_FLASH_MD5"},
		{0xFF, "UNKNOWN"},
	}

	for _, tc := range tests {
		if result := CommandName(tc.cmd); result != tc.expected {
			t.Errorf("CommandName(0x%02X) = %q, want %q", tc.cmd, result, tc.expected)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		code     byte
		expected string
	}{
		{ErrInvalidMessage, "invalid message"},
		{ErrFailedToAct, "failed to act"},
		{ErrInvalidCRC, "invalid CRC"},
		{ErrFlashWriteErr, "flash write error"},
		{ErrFlashReadErr, "flash read error"},
		{ErrFlashReadLenErr, "flash read length error"},
		{ErrDeflateError, "deflate error"},
		{0x00, "unknown error"},
		{0xFF, "unknown error"},
	}

	for _, tc := range tests {
		if result := ErrorMessage(tc.code); result != tc.expected {
			t.Errorf("ErrorMessage(0x%02X) = %q, want %q", tc.code, result, tc.expected)
		}
	}
}

// checkWords compares a payload against little-endian 32-bit fields.
func checkWords(t *testing.T, name string, data []byte, want ...uint32) {
	t.Helper()
	if len(data) != 4*len(want) {
		t.Fatalf("%s length = %d, want %d", name, len(data), 4*len(want))
	}
	for i, w := range want {
		if got := binary.LittleEndian.Uint32(data[4*i:]); got != w {
			t.Errorf("%s word %d = 0x%X, want 0x%X", name, i, got, w)
		}
	}
}

func TestWordPayloads(t *testing.T) {
	checkWords(t, "SpiSetParamsData", SpiSetParamsData(0x400000), 0, 0x400000, 0x10000, 0x1000, 0x100, 0xFFFF)
	checkWords(t, "FlashBeginData", FlashBeginData(0x2000, 0, FlashBlockSize, 0x121000), 0x2000, 0, 0x400, 0x121000)
	checkWords(t, "FlashDeflBeginData", FlashDeflBeginData(0x4000, 4, 0x400, 0x10000), 0x4000, 4, 0x400, 0x10000)
	checkWords(t, "FlashMD5Data", FlashMD5Data(0x120000, 0x1000), 0x120000, 0x1000, 0, 0)
	checkWords(t, "ReadFlashSlowData", ReadFlashSlowData(0x120040, 64), 0x120040, 64)
	checkWords(t, "FlashEndData(true)", FlashEndData(true), 0)
	checkWords(t, "FlashEndData(false)", FlashEndData(false), 1)
	checkWords(t, "FlashDeflEndData(false)", FlashDeflEndData(false), 1)
	checkWords(t, "SpiAttachData", SpiAttachData(), 0, 0)
}

func TestSyncData(t *testing.T) {
	data := SyncData()
	if len(data) != 36 {
		t.Fatalf("SyncData() length = %d, want 36", len(data))
	}
	if data[0] != 0x07 || data[1] != 0x07 || data[2] != 0x12 || data[3] != 0x20 {
		t.Errorf("SyncData() header = %v, want [0x07, 0x07, 0x12, 0x20]", data[0:4])
	}
	for i := 4; i < 36; i++ {
		if data[i] != 0x55 {
			t.Errorf("SyncData()[%d] = 0x%02X, want 0x55", i, data[i])
		}
	}
}

func TestFlashDataData_PadsShortBlock(t *testing.T) {
	data := FlashDataData([]byte{0x01, 0x02}, 3)

	if len(data) != 16+FlashBlockSize {
		t.Fatalf("FlashDataData() length = %d, want %d", len(data), 16+FlashBlockSize)
	}
	if size := binary.LittleEndian.Uint32(data[0:4]); size != FlashBlockSize {
		t.Errorf("FlashDataData size = %d, want %d", size, FlashBlockSize)
	}
	if seq := binary.LittleEndian.Uint32(data[4:8]); seq != 3 {
		t.Errorf("FlashDataData seq = %d, want 3", seq)
	}
	if data[16] != 0x01 || data[17] != 0x02 {
		t.Errorf("FlashDataData payload = %v, want [1 2 ...]", data[16:18])
	}
	for i := 18; i < len(data); i++ {
		if data[i] != 0xFF {
			t.Fatalf("FlashDataData padding[%d] = 0x%02X, want 0xFF", i, data[i])
		}
	}
}

func TestFlashDeflDataData_NoPadding(t *testing.T) {
	compressed := []byte{0x78, 0x9C, 0x03, 0x00}
	data := FlashDeflDataData(compressed, 7)

	if len(data) != 16+len(compressed) {
		t.Fatalf("FlashDeflDataData() length = %d, want %d", len(data), 16+len(compressed))
	}
	if size := binary.LittleEndian.Uint32(data[0:4]); size != uint32(len(compressed)) {
		t.Errorf("FlashDeflDataData size = %d, want %d", size, len(compressed))
	}
	if seq := binary.LittleEndian.Uint32(data[4:8]); seq != 7 {
		t.Errorf("FlashDeflDataData seq = %d, want 7", seq)
	}
	if r1, r2 := binary.LittleEndian.Uint32(data[8:12]), binary.LittleEndian.Uint32(data[12:16]); r1 != 0 || r2 != 0 {
		t.Errorf("FlashDeflDataData reserved = (%d, %d), want (0, 0)", r1, r2)
	}
}

func TestCalculateBlocks(t *testing.T) {
	tests := []struct {
		n, blockSize int
		expected     uint32
	}{
		{0, 1024, 0},
		{-5, 1024, 0},
		{1, 1024, 1},
		{1024, 1024, 1},
		{1025, 1024, 2},
		{4096, 1024, 4},
		{100, 64, 2},
		{100, 0, 0},
	}

	for _, tc := range tests {
		if result := CalculateDeflBlocks(tc.n, tc.blockSize); result != tc.expected {
			t.Errorf("CalculateDeflBlocks(%d, %d) = %d, want %d", tc.n, tc.blockSize, result, tc.expected)
		}
	}

	if result := CalculateFlashBlocks(3000); result != 3 {
		t.Errorf("CalculateFlashBlocks(3000) = %d, want 3", result)
	}
}

func TestCalculateEraseSize(t *testing.T) {
	tests := []struct {
		n        int
		expected uint32
	}{
		{0, 0},
		{1, 4096},
		{4095, 4096},
		{4096, 4096},
		{4097, 8192},
		{8193, 12288},
	}

	for _, tc := range tests {
		if result := CalculateEraseSize(tc.n); result != tc.expected {
			t.Errorf("CalculateEraseSize(%d) = %d, want %d", tc.n, result, tc.expected)
		}
	}
}

func TestParseSecurityInfo(t *testing.T) {
	data := make([]byte, 32)
	binary.LittleEndian.PutUint32(data, ChipIDESP32C3)

	info, err := ParseSecurityInfo(data)
	if err != nil {
		t.Fatalf("ParseSecurityInfo() error = %v", err)
	}
	if info.ChipID != ChipIDESP32C3 {
		t.Errorf("ParseSecurityInfo() ChipID = 0x%X, want 0x%X", info.ChipID, ChipIDESP32C3)
	}

	for _, short := range [][]byte{nil, {}, {0x01, 0x02, 0x03}} {
		if _, err := ParseSecurityInfo(short); err == nil {
			t.Errorf("ParseSecurityInfo(%v) expected error, got nil", short)
		}
	}
}

func TestLayout(t *testing.T) {
	if FSStartAddress%FlashSectorSize != 0 {
		t.Errorf("FSStartAddress 0x%X is not sector aligned", FSStartAddress)
	}
	if FSCapacity%FlashSectorSize != 0 {
		t.Errorf("FSCapacity 0x%X is not a sector multiple", FSCapacity)
	}
	if FSStartAddress+FSCapacity > FlashSize {
		t.Errorf("filesystem region ends past flash size")
	}
	if 1<<FSSectorShift != FlashSectorSize {
		t.Errorf("FSSectorShift = %d, want log2(0x%X)", FSSectorShift, FlashSectorSize)
	}
}
