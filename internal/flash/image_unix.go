//go:build unix

package flash

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func syncFile(_ *os.File, data []byte) error {
	return unix.Msync(data, unix.MS_SYNC)
}

func unmapFile(data []byte) error {
	return unix.Munmap(data)
}
