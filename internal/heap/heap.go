// Package heap arbitrates zero-initialized allocations across an ordered set
// of independent memory pools.
package heap

import (
	"fmt"

	"github.com/bigbag/papyrix-mtd/internal/errno"
)

var (
	// ErrInvalidArgument reports an out-of-range heap or priority index.
	ErrInvalidArgument = errno.EINVAL
	// ErrOutOfMemory reports that the addressed heap could not satisfy a request.
	ErrOutOfMemory = errno.ENOMEM
)

// Pool is one independently locked zero-initializing allocator. ZAlloc
// returns nil when the pool cannot satisfy size bytes. Implementations must
// be safe for concurrent use.
type Pool interface {
	ZAlloc(size int) []byte
}

// Registry is the fixed, ordered set of pools known to the system. Index 0
// is the first registered pool.
type Registry struct {
	pools []Pool
}

// NewRegistry builds a registry from pools in order.
func NewRegistry(pools ...Pool) (*Registry, error) {
	if len(pools) == 0 {
		return nil, fmt.Errorf("empty heap registry: %w", ErrInvalidArgument)
	}
	for i, p := range pools {
		if p == nil {
			return nil, fmt.Errorf("heap %d is nil: %w", i, ErrInvalidArgument)
		}
	}
	return &Registry{pools: append([]Pool(nil), pools...)}, nil
}

// Len returns the number of registered pools.
func (r *Registry) Len() int {
	return len(r.pools)
}

// At returns the pool at index i.
func (r *Registry) At(i int) (Pool, error) {
	if i < 0 || i >= len(r.pools) {
		return nil, ErrInvalidArgument
	}
	return r.pools[i], nil
}

// System is the generic zero-filling allocator used when each execution
// context owns its address space.
type System struct{}

// ZAlloc returns size zeroed bytes.
func (System) ZAlloc(size int) []byte {
	if size < 0 {
		return nil
	}
	return make([]byte, size)
}
