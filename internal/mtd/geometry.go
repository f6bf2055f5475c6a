package mtd

import (
	"fmt"
)

// maxShift keeps sector sizes representable in a 32-bit flash address space.
const maxShift = 31

// Config describes the reserved flash region a Translator serves.
type Config struct {
	PageShift     uint   // log2 of the read/write unit
	SectorShift   uint   // log2 of the erase unit
	ReservedStart uint32 // absolute flash address of logical block 0
	ReservedSize  uint32 // bytes available to the block layer
}

// Geometry is the immutable layout derived from a Config.
type Geometry struct {
	PageShift     uint
	SectorShift   uint
	PageSize      uint32
	SectorSize    uint32
	ReservedStart uint32
	ReservedSize  uint32
	FirstSector   uint32 // physical index of the first reserved sector
	SectorCount   uint32
}

// GeometryInfo is the answer to CmdGeometry.
type GeometryInfo struct {
	BlockSize   uint32
	EraseSize   uint32
	EraseBlocks uint32
}

// NewGeometry validates cfg and derives the device layout.
func NewGeometry(cfg Config) (Geometry, error) {
	if cfg.SectorShift > maxShift {
		return Geometry{}, fmt.Errorf("sector shift %d exceeds %d: %w", cfg.SectorShift, maxShift, ErrInvalidArgument)
	}
	if cfg.PageShift >= cfg.SectorShift {
		return Geometry{}, fmt.Errorf("page shift %d must be below sector shift %d: %w",
			cfg.PageShift, cfg.SectorShift, ErrInvalidArgument)
	}

	sectorSize := uint32(1) << cfg.SectorShift
	if cfg.ReservedSize == 0 || cfg.ReservedSize%sectorSize != 0 {
		return Geometry{}, fmt.Errorf("reserved size 0x%X is not a non-zero multiple of sector size 0x%X: %w",
			cfg.ReservedSize, sectorSize, ErrInvalidArgument)
	}
	if cfg.ReservedStart%sectorSize != 0 {
		return Geometry{}, fmt.Errorf("reserved start 0x%X is not sector aligned: %w", cfg.ReservedStart, ErrInvalidArgument)
	}
	if uint64(cfg.ReservedStart)+uint64(cfg.ReservedSize) > 1<<32 {
		return Geometry{}, fmt.Errorf("reserved region 0x%X+0x%X overflows the address space: %w",
			cfg.ReservedStart, cfg.ReservedSize, ErrInvalidArgument)
	}

	return Geometry{
		PageShift:     cfg.PageShift,
		SectorShift:   cfg.SectorShift,
		PageSize:      uint32(1) << cfg.PageShift,
		SectorSize:    sectorSize,
		ReservedStart: cfg.ReservedStart,
		ReservedSize:  cfg.ReservedSize,
		FirstSector:   cfg.ReservedStart >> cfg.SectorShift,
		SectorCount:   cfg.ReservedSize >> cfg.SectorShift,
	}, nil
}

// PageCount returns the number of logical blocks in the reserved region.
func (g Geometry) PageCount() uint32 {
	return g.ReservedSize >> g.PageShift
}

// Info returns the geometry as reported to block-device consumers.
func (g Geometry) Info() GeometryInfo {
	return GeometryInfo{
		BlockSize:   g.PageSize,
		EraseSize:   g.SectorSize,
		EraseBlocks: g.SectorCount,
	}
}
