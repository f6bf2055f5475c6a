// Package config loads the board description: the flash part, the reserved
// region served as a block device and the heaps allocations are spread over.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bigbag/papyrix-mtd/embedded"
	"github.com/bigbag/papyrix-mtd/internal/errno"
	"github.com/bigbag/papyrix-mtd/internal/heap"
	"github.com/bigbag/papyrix-mtd/internal/mtd"
)

// Flash describes the flash part and its reserved region.
type Flash struct {
	Size          uint32 `yaml:"size"`
	PageShift     uint   `yaml:"page_shift"`
	SectorShift   uint   `yaml:"sector_shift"`
	ReservedStart uint32 `yaml:"reserved_start"`
	ReservedSize  uint32 `yaml:"reserved_size"`
}

// Heap is one memory region available to the allocator.
type Heap struct {
	Name string `yaml:"name"`
	Size int64  `yaml:"size"`
}

// Board is a complete board description.
type Board struct {
	Flash           Flash  `yaml:"flash"`
	Heaps           []Heap `yaml:"heaps"`
	Priority        int    `yaml:"priority"`
	AddressIsolated bool   `yaml:"address_isolated"`
}

// Default returns the board shipped with the tool.
func Default() (*Board, error) {
	b, err := Parse(embedded.Board())
	if err != nil {
		return nil, fmt.Errorf("embedded board: %w", err)
	}
	return b, nil
}

// Load reads and validates a board file.
func Load(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read board file: %w", err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("board %s: %w", path, err)
	}
	return b, nil
}

// Parse decodes and validates a YAML board description. Unknown keys are
// rejected.
func Parse(data []byte) (*Board, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var b Board
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to parse board: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks the flash layout and the heap list.
func (b *Board) Validate() error {
	if _, err := mtd.NewGeometry(b.MTD()); err != nil {
		return err
	}
	if b.Flash.Size == 0 {
		return fmt.Errorf("flash size must be set: %w", errno.EINVAL)
	}
	if uint64(b.Flash.ReservedStart)+uint64(b.Flash.ReservedSize) > uint64(b.Flash.Size) {
		return fmt.Errorf("reserved region 0x%X+0x%X beyond flash size 0x%X: %w",
			b.Flash.ReservedStart, b.Flash.ReservedSize, b.Flash.Size, errno.EINVAL)
	}
	if b.Flash.Size%(uint32(1)<<b.Flash.SectorShift) != 0 {
		return fmt.Errorf("flash size 0x%X is not a sector multiple: %w", b.Flash.Size, errno.EINVAL)
	}

	if len(b.Heaps) == 0 {
		return fmt.Errorf("at least one heap is required: %w", errno.EINVAL)
	}
	var errs []error
	seen := make(map[string]bool, len(b.Heaps))
	for i, h := range b.Heaps {
		if h.Name == "" {
			errs = append(errs, fmt.Errorf("heap %d has no name", i))
		} else if seen[h.Name] {
			errs = append(errs, fmt.Errorf("heap %q listed twice", h.Name))
		}
		seen[h.Name] = true
		if h.Size <= 0 {
			errs = append(errs, fmt.Errorf("heap %d size %d must be positive", i, h.Size))
		}
	}
	if b.Priority < 0 || b.Priority >= len(b.Heaps) {
		errs = append(errs, fmt.Errorf("priority %d outside heaps [0, %d)", b.Priority, len(b.Heaps)))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", errors.Join(errs...), errno.EINVAL)
	}
	return nil
}

// MTD returns the translator configuration.
func (b *Board) MTD() mtd.Config {
	return mtd.Config{
		PageShift:     b.Flash.PageShift,
		SectorShift:   b.Flash.SectorShift,
		ReservedStart: b.Flash.ReservedStart,
		ReservedSize:  b.Flash.ReservedSize,
	}
}

// Arenas creates one arena per heap, in registry order.
func (b *Board) Arenas() []*heap.Arena {
	arenas := make([]*heap.Arena, len(b.Heaps))
	for i, h := range b.Heaps {
		arenas[i] = heap.NewArena(h.Name, h.Size)
	}
	return arenas
}

// Arbiter builds the allocator over arenas, which must come from Arenas.
func (b *Board) Arbiter(arenas []*heap.Arena, log *slog.Logger) (*heap.Arbiter, error) {
	pools := make([]heap.Pool, len(arenas))
	for i, a := range arenas {
		pools[i] = a
	}
	reg, err := heap.NewRegistry(pools...)
	if err != nil {
		return nil, err
	}

	opts := []heap.Option{heap.WithPriority(b.Priority), heap.WithLogger(log)}
	if b.AddressIsolated {
		opts = append(opts, heap.WithAddressIsolation(nil))
	}
	return heap.NewArbiter(reg, opts...)
}
