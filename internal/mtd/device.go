// Package mtd translates block-device operations onto a reserved region of
// raw flash.
//
// Logical block n is page n of the reserved region for reads and writes and
// sector n of the reserved region for erases. Nothing is cached or combined;
// every call maps to the exact driver calls needed.
//
// A Translator is not safe for concurrent use. Callers serialize access or
// wrap the device with Locked.
package mtd

import (
	"github.com/bigbag/papyrix-mtd/internal/errno"
)

var (
	// ErrInvalidArgument reports a bad range, buffer or geometry destination.
	ErrInvalidArgument = errno.EINVAL
	// ErrNotSupported reports an unrecognized control command.
	ErrNotSupported = errno.ENOTTY
	// ErrOutOfMemory reports that device state could not be allocated.
	ErrOutOfMemory = errno.ENOMEM
)

// RawFlash is a byte-addressed flash part. Implementations are synchronous
// and need not be reentrant.
type RawFlash interface {
	// EraseSector erases the physical sector with the given index.
	EraseSector(sector uint32) error
	// ReadBytes fills p from flash starting at addr.
	ReadBytes(addr uint32, p []byte) (int, error)
	// WriteBytes programs p into flash starting at addr.
	WriteBytes(addr uint32, p []byte) (int, error)
}

// Device is the capability set a block-device layer consumes.
type Device interface {
	Erase(startBlock int64, nblocks int) error
	BlockRead(startBlock int64, nblocks int, buf []byte) (int, error)
	BlockWrite(startBlock int64, nblocks int, buf []byte) (int, error)
	Read(offset int64, nbytes int, buf []byte) (int, error)
	Write(offset int64, nbytes int, buf []byte) (int, error)
	Ioctl(cmd Command, arg any) error
}

// Command identifies a control request passed to Ioctl.
type Command int

// Control commands.
const (
	CmdGeometry  Command = 1 // arg: *GeometryInfo
	CmdBulkErase Command = 2 // arg: ignored
	CmdXIPBase   Command = 3 // never supported
)

func (c Command) String() string {
	switch c {
	case CmdGeometry:
		return "geometry"
	case CmdBulkErase:
		return "bulk-erase"
	case CmdXIPBase:
		return "xip-base"
	default:
		return "unknown"
	}
}
