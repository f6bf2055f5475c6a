package mtd

import "sync"

type locked struct {
	mu  sync.Mutex
	dev Device
}

// Locked returns a Device that serializes every call to dev.
func Locked(dev Device) Device {
	return &locked{dev: dev}
}

func (l *locked) Erase(startBlock int64, nblocks int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dev.Erase(startBlock, nblocks)
}

func (l *locked) BlockRead(startBlock int64, nblocks int, buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dev.BlockRead(startBlock, nblocks, buf)
}

func (l *locked) BlockWrite(startBlock int64, nblocks int, buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dev.BlockWrite(startBlock, nblocks, buf)
}

func (l *locked) Read(offset int64, nbytes int, buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dev.Read(offset, nbytes, buf)
}

func (l *locked) Write(offset int64, nbytes int, buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dev.Write(offset, nbytes, buf)
}

func (l *locked) Ioctl(cmd Command, arg any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dev.Ioctl(cmd, arg)
}
