package flash

import (
	"fmt"
	"log/slog"

	"github.com/bigbag/papyrix-mtd/internal/errno"
	"github.com/bigbag/papyrix-mtd/internal/protocol"
)

// Session is the part of a bootloader session Remote drives.
// *flasher.Flasher implements it.
type Session interface {
	EraseRegion(address, size uint32) error
	WriteRegion(data []byte, address uint32, compress bool) error
	ReadRegion(address uint32, buf []byte) error
	VerifyMD5(data []byte, address uint32) error
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithCompression sends programmed data zlib-compressed.
func WithCompression(on bool) RemoteOption {
	return func(r *Remote) { r.compress = on }
}

// WithVerify checks every programmed range with the bootloader's MD5.
func WithVerify(on bool) RemoteOption {
	return func(r *Remote) { r.verify = on }
}

// WithRemoteLogger sets the logger for bootloader traffic summaries.
func WithRemoteLogger(log *slog.Logger) RemoteOption {
	return func(r *Remote) {
		if log != nil {
			r.log = log
		}
	}
}

// Remote is the flash part of an ESP32 reached through its ROM bootloader.
//
// The bootloader erases every sector a write touches, so WriteBytes reads
// the covering sectors back, merges p with NOR semantics and rewrites them.
type Remote struct {
	s           Session
	size        uint32
	sectorShift uint
	compress    bool
	verify      bool
	log         *slog.Logger
}

// NewRemote wraps a connected session to a part of size bytes. Erase
// sectors must be at least the bootloader's 4KB sector.
func NewRemote(s Session, size uint32, sectorShift uint, opts ...RemoteOption) (*Remote, error) {
	if s == nil {
		return nil, fmt.Errorf("nil bootloader session: %w", errno.EINVAL)
	}
	if err := checkLayout(size, sectorShift); err != nil {
		return nil, err
	}
	if uint32(1)<<sectorShift < protocol.FlashSectorSize {
		return nil, fmt.Errorf("sector size 0x%X below bootloader sector 0x%X: %w",
			uint32(1)<<sectorShift, protocol.FlashSectorSize, errno.EINVAL)
	}

	r := &Remote{
		s:           s,
		size:        size,
		sectorShift: sectorShift,
		log:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Size returns the flash size in bytes.
func (r *Remote) Size() uint32 {
	return r.size
}

// EraseSector erases one sector.
func (r *Remote) EraseSector(sector uint32) error {
	addr := uint64(sector) << r.sectorShift
	if addr+uint64(1)<<r.sectorShift > uint64(r.size) {
		return fmt.Errorf("erase sector %d beyond flash end: %w", sector, errno.EINVAL)
	}
	return r.s.EraseRegion(uint32(addr), 1<<r.sectorShift)
}

// ReadBytes reads len(p) bytes at addr.
func (r *Remote) ReadBytes(addr uint32, p []byte) (int, error) {
	if err := r.check(addr, len(p)); err != nil {
		return 0, err
	}
	if err := r.s.ReadRegion(addr, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteBytes programs p at addr, clearing bits only.
func (r *Remote) WriteBytes(addr uint32, p []byte) (int, error) {
	if err := r.check(addr, len(p)); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	const sector = protocol.FlashSectorSize
	start := addr &^ (sector - 1)
	end := uint32((uint64(addr) + uint64(len(p)) + sector - 1) &^ (sector - 1))

	image := make([]byte, end-start)
	if err := r.s.ReadRegion(start, image); err != nil {
		return 0, err
	}
	dst := image[addr-start:]
	for i, b := range p {
		dst[i] &= b
	}

	r.log.Debug("rewriting sectors",
		"address", start,
		"size", len(image),
		"compress", r.compress,
	)

	if err := r.s.WriteRegion(image, start, r.compress); err != nil {
		return 0, err
	}
	if r.verify {
		if err := r.s.VerifyMD5(image, start); err != nil {
			return 0, fmt.Errorf("verify 0x%X+0x%X: %w", start, len(image), err)
		}
	}
	return len(p), nil
}

func (r *Remote) check(addr uint32, length int) error {
	if uint64(addr)+uint64(length) > uint64(r.size) {
		return fmt.Errorf("range 0x%X+%d beyond flash end 0x%X: %w", addr, length, r.size, errno.EINVAL)
	}
	return nil
}
