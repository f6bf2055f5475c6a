// Package flash provides raw flash parts for the mtd translator: a RAM
// simulation, a file-backed image and a remote ESP32 reached through its ROM
// bootloader.
package flash

import (
	"fmt"

	"github.com/bigbag/papyrix-mtd/internal/errno"
)

// Erased is the value of every byte of an erased NOR sector.
const Erased = 0xFF

// nor applies NOR flash semantics to a byte array: erase sets a whole
// sector to 0xFF and programming can only clear bits.
type nor struct {
	data        []byte
	sectorShift uint
}

func checkLayout(size uint32, sectorShift uint) error {
	if sectorShift == 0 || sectorShift > 31 {
		return fmt.Errorf("invalid sector shift %d: %w", sectorShift, errno.EINVAL)
	}
	if size == 0 || size%(1<<sectorShift) != 0 {
		return fmt.Errorf("flash size 0x%X is not a multiple of sector size 0x%X: %w",
			size, uint32(1)<<sectorShift, errno.EINVAL)
	}
	return nil
}

func (n *nor) sectorSize() uint32 {
	return 1 << n.sectorShift
}

// Size returns the flash size in bytes.
func (n *nor) Size() uint32 {
	return uint32(len(n.data))
}

func (n *nor) eraseSector(sector uint32) error {
	start := uint64(sector) << n.sectorShift
	end := start + uint64(n.sectorSize())
	if end > uint64(len(n.data)) {
		return fmt.Errorf("erase sector %d beyond flash end: %w", sector, errno.EINVAL)
	}
	fill(n.data[start:end])
	return nil
}

func (n *nor) read(addr uint32, p []byte) (int, error) {
	if err := n.check(addr, len(p)); err != nil {
		return 0, err
	}
	return copy(p, n.data[addr:]), nil
}

func (n *nor) program(addr uint32, p []byte) (int, error) {
	if err := n.check(addr, len(p)); err != nil {
		return 0, err
	}
	dst := n.data[addr : int(addr)+len(p)]
	for i, b := range p {
		dst[i] &= b
	}
	return len(p), nil
}

func (n *nor) check(addr uint32, length int) error {
	if uint64(addr)+uint64(length) > uint64(len(n.data)) {
		return fmt.Errorf("range 0x%X+%d beyond flash end 0x%X: %w", addr, length, len(n.data), errno.EINVAL)
	}
	return nil
}

func fill(b []byte) {
	for i := range b {
		b[i] = Erased
	}
}
