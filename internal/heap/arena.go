package heap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Stats is a snapshot of an arena's accounting.
type Stats struct {
	Name     string
	Capacity int64
	Used     int64
	Allocs   uint64
	Failures uint64
}

// Free returns the unused part of the budget.
func (s Stats) Free() int64 {
	return s.Capacity - s.Used
}

// Arena is a pool with a fixed byte budget. Requests that do not fit fail
// immediately instead of waiting for memory to be freed.
type Arena struct {
	name     string
	capacity int64
	budget   *semaphore.Weighted

	mu   sync.Mutex
	live map[*byte]int64 // first byte of each outstanding buffer -> size

	used     atomic.Int64
	allocs   atomic.Uint64
	failures atomic.Uint64
}

var _ Pool = (*Arena)(nil)

// NewArena creates an arena holding at most capacity bytes.
func NewArena(name string, capacity int64) *Arena {
	if capacity < 0 {
		capacity = 0
	}
	return &Arena{
		name:     name,
		capacity: capacity,
		budget:   semaphore.NewWeighted(capacity),
		live:     make(map[*byte]int64),
	}
}

// Name returns the arena name.
func (a *Arena) Name() string {
	return a.name
}

// ZAlloc returns size zeroed bytes charged to the budget, or nil.
func (a *Arena) ZAlloc(size int) []byte {
	if size < 0 || !a.budget.TryAcquire(int64(size)) {
		a.failures.Add(1)
		return nil
	}
	buf := make([]byte, size)
	if size > 0 {
		a.mu.Lock()
		a.live[&buf[0]] = int64(size)
		a.mu.Unlock()
	}
	a.used.Add(int64(size))
	a.allocs.Add(1)
	return buf
}

// Free returns the allocation starting at buf to the budget. Empty buffers
// hold no budget and are ignored. A buffer this arena did not hand out, or
// one already freed, is ErrInvalidArgument and leaves the accounting alone.
func (a *Arena) Free(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	key := &buf[0]
	a.mu.Lock()
	n, ok := a.live[key]
	if ok {
		delete(a.live, key)
	}
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("arena %s: buffer %p not allocated here or already freed: %w", a.name, key, ErrInvalidArgument)
	}
	a.used.Add(-n)
	a.budget.Release(n)
	return nil
}

// Stats returns the current accounting.
func (a *Arena) Stats() Stats {
	return Stats{
		Name:     a.name,
		Capacity: a.capacity,
		Used:     a.used.Load(),
		Allocs:   a.allocs.Load(),
		Failures: a.failures.Load(),
	}
}
