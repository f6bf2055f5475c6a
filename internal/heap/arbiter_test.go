package heap

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbag/papyrix-mtd/internal/errno"
)

// probe is a pool that counts calls and records them in a shared trace.
type probe struct {
	id        int
	exhausted bool
	calls     atomic.Int64
	trace     *trace
}

type trace struct {
	mu  sync.Mutex
	ids []int
}

func (t *trace) add(id int) {
	t.mu.Lock()
	t.ids = append(t.ids, id)
	t.mu.Unlock()
}

func (t *trace) get() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.ids...)
}

func (p *probe) ZAlloc(size int) []byte {
	p.calls.Add(1)
	if p.trace != nil {
		p.trace.add(p.id)
	}
	if p.exhausted {
		return nil
	}
	return make([]byte, size)
}

func newProbes(n int, exhausted ...int) ([]*probe, []Pool, *trace) {
	tr := &trace{}
	probes := make([]*probe, n)
	pools := make([]Pool, n)
	for i := range probes {
		probes[i] = &probe{id: i, trace: tr}
		pools[i] = probes[i]
	}
	for _, i := range exhausted {
		probes[i].exhausted = true
	}
	return probes, pools, tr
}

func newTestArbiter(t *testing.T, pools []Pool, opts ...Option) *Arbiter {
	t.Helper()
	reg, err := NewRegistry(pools...)
	require.NoError(t, err)
	a, err := NewArbiter(reg, opts...)
	require.NoError(t, err)
	return a
}

func TestNewRegistry_Invalid(t *testing.T) {
	_, err := NewRegistry()
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewRegistry(System{}, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRegistry_At(t *testing.T) {
	_, pools, _ := newProbes(2)
	reg, err := NewRegistry(pools...)
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Len())
	p, err := reg.At(1)
	require.NoError(t, err)
	assert.Same(t, pools[1], p)

	_, err = reg.At(2)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = reg.At(-1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewArbiter_PriorityOutOfRange(t *testing.T) {
	_, pools, _ := newProbes(3)
	reg, err := NewRegistry(pools...)
	require.NoError(t, err)

	for _, p := range []int{-1, 3, 10} {
		_, err := NewArbiter(reg, WithPriority(p))
		require.ErrorIs(t, err, ErrInvalidArgument, "priority %d", p)
	}

	_, err = NewArbiter(nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestZAlloc_DefaultPriorityUsesFirstHeap(t *testing.T) {
	probes, pools, tr := newProbes(3)
	a := newTestArbiter(t, pools)

	assert.Equal(t, ModeMultiHeap, a.Mode())
	assert.Equal(t, 0, a.Priority())

	buf, idx := a.Locate(32)
	require.NotNil(t, buf)
	assert.Equal(t, 0, idx)
	assert.Equal(t, []int{0}, tr.get())
	assert.Zero(t, probes[1].calls.Load())
}

func TestZAlloc_PriorityHeapTriedFirst(t *testing.T) {
	_, pools, tr := newProbes(3, 1)
	a := newTestArbiter(t, pools, WithPriority(1))

	buf, idx := a.Locate(16)
	require.NotNil(t, buf)
	assert.Equal(t, 2, idx)
	assert.Equal(t, []int{1, 2}, tr.get(), "H0 must not be probed before H2")
}

func TestZAlloc_WrapsAroundBelowPriority(t *testing.T) {
	probes, pools, tr := newProbes(4, 2, 3)
	a := newTestArbiter(t, pools, WithPriority(2))

	buf, idx := a.Locate(8)
	require.NotNil(t, buf)
	assert.Equal(t, 0, idx)
	assert.Equal(t, []int{2, 3, 0}, tr.get())
	assert.Zero(t, probes[1].calls.Load())
}

func TestZAlloc_ExhaustedTriesEveryHeapOnce(t *testing.T) {
	tests := []struct {
		priority int
		order    []int
	}{
		{0, []int{0, 1, 2}},
		{1, []int{1, 2, 0}},
		{2, []int{2, 0, 1}},
	}

	for _, tc := range tests {
		probes, pools, tr := newProbes(3, 0, 1, 2)
		a := newTestArbiter(t, pools, WithPriority(tc.priority))

		assert.Nil(t, a.ZAlloc(64))
		assert.Equal(t, tc.order, tr.get(), "priority %d", tc.priority)
		for _, p := range probes {
			assert.Equal(t, int64(1), p.calls.Load())
		}
	}
}

func TestZAlloc_ReturnsZeroedMemory(t *testing.T) {
	a := newTestArbiter(t, []Pool{NewArena("sram", 1024)})

	buf := a.ZAlloc(100)
	require.Len(t, buf, 100)
	assert.Equal(t, make([]byte, 100), buf)
}

func TestZAlloc_NegativeSize(t *testing.T) {
	probes, pools, _ := newProbes(2)
	a := newTestArbiter(t, pools)

	assert.Nil(t, a.ZAlloc(-1))
	assert.Zero(t, probes[0].calls.Load())
}

func TestZAlloc_AddressIsolatedBypassesRegistry(t *testing.T) {
	probes, pools, _ := newProbes(3)
	generic := &probe{id: 99}
	a := newTestArbiter(t, pools, WithPriority(1), WithAddressIsolation(generic))

	assert.Equal(t, ModeAddressIsolated, a.Mode())
	for i := 0; i < 5; i++ {
		buf, idx := a.Locate(24)
		require.Len(t, buf, 24)
		assert.Equal(t, -1, idx)
	}

	assert.Equal(t, int64(5), generic.calls.Load())
	for _, p := range probes {
		assert.Zero(t, p.calls.Load(), "heap %d consulted in isolated mode", p.id)
	}
}

func TestZAlloc_AddressIsolatedDefaultsToSystem(t *testing.T) {
	probes, pools, _ := newProbes(1)
	a := newTestArbiter(t, pools, WithAddressIsolation(nil))

	assert.Equal(t, make([]byte, 10), a.ZAlloc(10))
	assert.Zero(t, probes[0].calls.Load())
}

func TestZAllocAt(t *testing.T) {
	probes, pools, _ := newProbes(2, 1)
	a := newTestArbiter(t, pools)

	buf, err := a.ZAllocAt(0, 12)
	require.NoError(t, err)
	assert.Len(t, buf, 12)

	_, err = a.ZAllocAt(1, 12)
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, -12, errno.Code(err))

	assert.Equal(t, int64(1), probes[0].calls.Load())
	assert.Equal(t, int64(1), probes[1].calls.Load())
}

func TestZAllocAt_InvalidIndex(t *testing.T) {
	probes, pools, _ := newProbes(2)
	a := newTestArbiter(t, pools)

	for _, idx := range []int{3, 2, -1} {
		_, err := a.ZAllocAt(idx, 8)
		require.ErrorIs(t, err, ErrInvalidArgument, "index %d", idx)
		assert.Equal(t, -22, errno.Code(err))
	}
	for _, p := range probes {
		assert.Zero(t, p.calls.Load())
	}
}

func TestZAlloc_ConcurrentSweeps(t *testing.T) {
	arenas := []*Arena{NewArena("a", 1000), NewArena("b", 1000), NewArena("c", 1000)}
	a := newTestArbiter(t, []Pool{arenas[0], arenas[1], arenas[2]}, WithPriority(1))

	var wg sync.WaitGroup
	var served atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.ZAlloc(100) != nil {
				served.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(30), served.Load())
	for _, ar := range arenas {
		assert.Equal(t, int64(1000), ar.Stats().Used)
	}
	assert.Nil(t, a.ZAlloc(1))
}
