//go:build !unix

package flash

import (
	"io"
	"os"
)

// Without mmap the image is held in memory and written back on Sync.

func mapFile(f *os.File, size int) ([]byte, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, int64(size)), data); err != nil {
		return nil, err
	}
	return data, nil
}

func syncFile(f *os.File, data []byte) error {
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

func unmapFile(_ []byte) error {
	return nil
}
