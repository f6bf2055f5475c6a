package flash

import (
	"bytes"
	"fmt"
	"os"

	"github.com/bigbag/papyrix-mtd/internal/errno"
)

// Image is a flash part persisted in a file. The file is memory mapped where
// the platform allows it.
type Image struct {
	nor
	f    *os.File
	path string
}

// OpenImage opens or creates the image at path. A new or empty file is
// sized to size bytes and erased; an existing file must match size exactly.
func OpenImage(path string, size uint32, sectorShift uint) (*Image, error) {
	if err := checkLayout(size, sectorShift); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat image %s: %w", path, err)
	}

	switch {
	case st.Size() == 0:
		if err := eraseFile(f, size); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to initialize image %s: %w", path, err)
		}
	case st.Size() != int64(size):
		f.Close()
		return nil, fmt.Errorf("image %s is %d bytes, want %d: %w", path, st.Size(), size, errno.EINVAL)
	}

	data, err := mapFile(f, int(size))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to map image %s: %w", path, err)
	}

	return &Image{
		nor:  nor{data: data, sectorShift: sectorShift},
		f:    f,
		path: path,
	}, nil
}

func eraseFile(f *os.File, size uint32) error {
	chunk := bytes.Repeat([]byte{Erased}, 64*1024)
	for off := uint32(0); off < size; {
		n := min(uint32(len(chunk)), size-off)
		if _, err := f.WriteAt(chunk[:n], int64(off)); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// Path returns the image file path.
func (i *Image) Path() string {
	return i.path
}

// EraseSector erases one sector.
func (i *Image) EraseSector(sector uint32) error {
	return i.eraseSector(sector)
}

// ReadBytes reads len(p) bytes at addr.
func (i *Image) ReadBytes(addr uint32, p []byte) (int, error) {
	return i.read(addr, p)
}

// WriteBytes programs p at addr, clearing bits only.
func (i *Image) WriteBytes(addr uint32, p []byte) (int, error) {
	return i.program(addr, p)
}

// Sync flushes pending changes to the file.
func (i *Image) Sync() error {
	return syncFile(i.f, i.data)
}

// Close flushes and releases the image.
func (i *Image) Close() error {
	if i.data == nil {
		return nil
	}
	err := i.Sync()
	if uerr := unmapFile(i.data); err == nil {
		err = uerr
	}
	i.data = nil
	if cerr := i.f.Close(); err == nil {
		err = cerr
	}
	return err
}
