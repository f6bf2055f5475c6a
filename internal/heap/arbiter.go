package heap

import (
	"fmt"
	"log/slog"
)

// Mode selects how the arbiter satisfies ZAlloc.
type Mode int

const (
	// ModeMultiHeap sweeps the registry starting at the priority index.
	ModeMultiHeap Mode = iota
	// ModeAddressIsolated hands every request to a single generic allocator.
	ModeAddressIsolated
)

func (m Mode) String() string {
	switch m {
	case ModeMultiHeap:
		return "multi-heap"
	case ModeAddressIsolated:
		return "address-isolated"
	default:
		return "unknown"
	}
}

type options struct {
	priority int
	mode     Mode
	generic  Pool
	logger   *slog.Logger
}

// Option configures an Arbiter.
type Option func(*options)

// WithPriority sets the registry index tried first. Defaults to 0.
func WithPriority(index int) Option {
	return func(o *options) {
		o.priority = index
	}
}

// WithAddressIsolation switches the arbiter to ModeAddressIsolated. Requests
// go to generic, or to System when generic is nil.
func WithAddressIsolation(generic Pool) Option {
	return func(o *options) {
		if generic == nil {
			generic = System{}
		}
		o.mode = ModeAddressIsolated
		o.generic = generic
	}
}

// WithLogger sets the logger used for allocation traces.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Arbiter picks which pool serves a zero-initialized allocation. It holds
// no lock of its own; each pool is responsible for its own consistency.
type Arbiter struct {
	reg      *Registry
	priority int
	mode     Mode
	generic  Pool
	log      *slog.Logger
}

// NewArbiter creates an arbiter over reg. The registry is borrowed, not
// owned, and must outlive the arbiter.
func NewArbiter(reg *Registry, opts ...Option) (*Arbiter, error) {
	if reg == nil {
		return nil, fmt.Errorf("nil heap registry: %w", ErrInvalidArgument)
	}

	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	if o.priority < 0 || o.priority >= reg.Len() {
		return nil, fmt.Errorf("priority index %d outside [0, %d): %w", o.priority, reg.Len(), ErrInvalidArgument)
	}

	return &Arbiter{
		reg:      reg,
		priority: o.priority,
		mode:     o.mode,
		generic:  o.generic,
		log:      o.logger,
	}, nil
}

// Mode returns the allocation mode chosen at construction.
func (a *Arbiter) Mode() Mode {
	return a.mode
}

// Priority returns the index of the heap tried first.
func (a *Arbiter) Priority() int {
	return a.priority
}

// ZAlloc returns size zeroed bytes, or nil when no heap can satisfy the
// request. Exhaustion is an expected outcome, not an error.
func (a *Arbiter) ZAlloc(size int) []byte {
	buf, _ := a.Locate(size)
	return buf
}

// Locate is ZAlloc that also reports the registry index that served the
// request, or -1 when the generic allocator served it or nothing did.
//
// Heaps are tried in the order P, P+1, ..., N-1, 0, ..., P-1, each exactly
// once.
func (a *Arbiter) Locate(size int) ([]byte, int) {
	if size < 0 {
		return nil, -1
	}

	if a.mode == ModeAddressIsolated {
		return a.generic.ZAlloc(size), -1
	}

	n := a.reg.Len()
	for i := 0; i < n; i++ {
		idx := (a.priority + i) % n
		if buf := a.reg.pools[idx].ZAlloc(size); buf != nil {
			return buf, idx
		}
	}

	a.log.Debug("zalloc exhausted all heaps", "size", size, "heaps", n)
	return nil, -1
}

// ZAllocAt allocates size zeroed bytes from the heap at index.
func (a *Arbiter) ZAllocAt(index, size int) ([]byte, error) {
	pool, err := a.reg.At(index)
	if err != nil {
		a.log.Debug("zalloc_at wrong heap index", "index", index, "heaps", a.reg.Len())
		return nil, fmt.Errorf("heap index %d of %d: %w", index, a.reg.Len(), err)
	}
	if size < 0 {
		return nil, fmt.Errorf("negative size %d: %w", size, ErrInvalidArgument)
	}

	buf := pool.ZAlloc(size)
	if buf == nil {
		return nil, fmt.Errorf("heap %d cannot allocate %d bytes: %w", index, size, ErrOutOfMemory)
	}
	return buf, nil
}
