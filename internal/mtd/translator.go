package mtd

import (
	"fmt"
	"log/slog"
)

// Option configures a Translator.
type Option func(*Translator)

// WithLogger sets the logger used for debug traces.
func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) {
		if l != nil {
			t.log = l
		}
	}
}

// Translator maps logical block operations onto a RawFlash.
type Translator struct {
	drv RawFlash
	geo Geometry
	log *slog.Logger
}

var _ Device = (*Translator)(nil)

// New creates a translator over drv serving the region described by cfg.
func New(drv RawFlash, cfg Config, opts ...Option) (*Translator, error) {
	if drv == nil {
		return nil, fmt.Errorf("nil flash driver: %w", ErrInvalidArgument)
	}
	geo, err := NewGeometry(cfg)
	if err != nil {
		return nil, err
	}

	t := &Translator{
		drv: drv,
		geo: geo,
		log: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.log.Debug("mtd initialized",
		"start", geo.ReservedStart,
		"size", geo.ReservedSize,
		"sectors", geo.SectorCount,
	)
	return t, nil
}

// Geometry returns the device layout.
func (t *Translator) Geometry() Geometry {
	return t.geo
}

// Erase erases nblocks sectors starting at reserved sector startBlock.
// It stops at the first failing sector and returns the driver error
// unchanged; sectors erased before the failure stay erased.
func (t *Translator) Erase(startBlock int64, nblocks int) error {
	if startBlock < 0 || nblocks < 0 || uint64(startBlock)+uint64(nblocks) > uint64(t.geo.SectorCount) {
		return ErrInvalidArgument
	}

	sector := t.geo.FirstSector + uint32(startBlock)
	for i := 0; i < nblocks; i++ {
		if err := t.drv.EraseSector(sector); err != nil {
			t.log.Debug("erase failed", "sector", sector, "error", err)
			return err
		}
		sector++
	}
	return nil
}

// BlockRead reads nblocks pages starting at startBlock into buf with a
// single driver call and returns nblocks.
func (t *Translator) BlockRead(startBlock int64, nblocks int, buf []byte) (int, error) {
	addr, n, err := t.blockRange(startBlock, nblocks, buf)
	if err != nil {
		return 0, err
	}
	if _, err := t.drv.ReadBytes(addr, buf[:n]); err != nil {
		return 0, err
	}
	return nblocks, nil
}

// BlockWrite programs nblocks pages starting at startBlock from buf with a
// single driver call and returns nblocks. The target pages must already be
// erased if the part requires it.
func (t *Translator) BlockWrite(startBlock int64, nblocks int, buf []byte) (int, error) {
	addr, n, err := t.blockRange(startBlock, nblocks, buf)
	if err != nil {
		return 0, err
	}
	if _, err := t.drv.WriteBytes(addr, buf[:n]); err != nil {
		return 0, err
	}
	return nblocks, nil
}

// Read reads nbytes at byte offset into the reserved region.
func (t *Translator) Read(offset int64, nbytes int, buf []byte) (int, error) {
	addr, err := t.byteRange(offset, nbytes, buf)
	if err != nil {
		return 0, err
	}
	if _, err := t.drv.ReadBytes(addr, buf[:nbytes]); err != nil {
		return 0, err
	}
	return nbytes, nil
}

// Write programs nbytes at byte offset into the reserved region.
func (t *Translator) Write(offset int64, nbytes int, buf []byte) (int, error) {
	addr, err := t.byteRange(offset, nbytes, buf)
	if err != nil {
		return 0, err
	}
	if _, err := t.drv.WriteBytes(addr, buf[:nbytes]); err != nil {
		return 0, err
	}
	return nbytes, nil
}

// Ioctl answers a control command.
func (t *Translator) Ioctl(cmd Command, arg any) error {
	var err error

	switch cmd {
	case CmdGeometry:
		geo, _ := arg.(*GeometryInfo)
		if geo == nil {
			err = ErrInvalidArgument
			break
		}
		*geo = t.geo.Info()
		t.log.Debug("geometry",
			"blocksize", geo.BlockSize,
			"erasesize", geo.EraseSize,
			"neraseblocks", geo.EraseBlocks,
		)

	case CmdBulkErase:
		err = t.BulkErase()

	default:
		err = ErrNotSupported
	}

	t.log.Debug("ioctl", "cmd", cmd, "error", err)
	return err
}

// Info returns the geometry reported by CmdGeometry.
func (t *Translator) Info() GeometryInfo {
	return t.geo.Info()
}

// BulkErase erases every sector of the reserved region.
func (t *Translator) BulkErase() error {
	return t.Erase(0, int(t.geo.SectorCount))
}

func (t *Translator) blockRange(startBlock int64, nblocks int, buf []byte) (uint32, int, error) {
	if startBlock < 0 || nblocks < 0 {
		return 0, 0, ErrInvalidArgument
	}
	if uint64(startBlock)+uint64(nblocks) > uint64(t.geo.PageCount()) {
		return 0, 0, ErrInvalidArgument
	}
	n := nblocks << t.geo.PageShift
	if len(buf) < n {
		return 0, 0, ErrInvalidArgument
	}
	return t.geo.ReservedStart + uint32(startBlock)<<t.geo.PageShift, n, nil
}

func (t *Translator) byteRange(offset int64, nbytes int, buf []byte) (uint32, error) {
	if offset < 0 || nbytes < 0 || len(buf) < nbytes {
		return 0, ErrInvalidArgument
	}
	if uint64(offset)+uint64(nbytes) > uint64(t.geo.ReservedSize) {
		return 0, ErrInvalidArgument
	}
	return t.geo.ReservedStart + uint32(offset), nil
}
