package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbag/papyrix-mtd/internal/errno"
)

func TestArena_Budget(t *testing.T) {
	a := NewArena("iram", 256)

	first := a.ZAlloc(200)
	require.Len(t, first, 200)
	assert.Nil(t, a.ZAlloc(100))

	second := a.ZAlloc(56)
	require.Len(t, second, 56)
	assert.Nil(t, a.ZAlloc(1))

	st := a.Stats()
	assert.Equal(t, Stats{Name: "iram", Capacity: 256, Used: 256, Allocs: 2, Failures: 2}, st)
	assert.Zero(t, st.Free())

	require.NoError(t, a.Free(first))
	assert.Equal(t, int64(200), a.Stats().Free())
	require.Len(t, a.ZAlloc(150), 150)
}

func TestArena_FreeTwice(t *testing.T) {
	a := NewArena("dram", 100)
	buf := a.ZAlloc(40)
	require.Len(t, buf, 40)

	require.NoError(t, a.Free(buf))
	assert.Equal(t, int64(0), a.Stats().Used)

	err := a.Free(buf)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, -22, errno.Code(err))
	assert.Equal(t, int64(0), a.Stats().Used)

	require.Len(t, a.ZAlloc(100), 100, "budget must not grow past capacity")
	assert.Nil(t, a.ZAlloc(1))
}

func TestArena_FreeForeignBuffer(t *testing.T) {
	a := NewArena("a", 100)
	b := NewArena("b", 100)

	mine := a.ZAlloc(50)
	require.NotNil(t, mine)
	theirs := b.ZAlloc(20)
	require.NotNil(t, theirs)

	require.ErrorIs(t, a.Free(theirs), ErrInvalidArgument)
	require.ErrorIs(t, a.Free(make([]byte, 8)), ErrInvalidArgument)
	require.ErrorIs(t, a.Free(mine[10:]), ErrInvalidArgument)

	assert.Equal(t, int64(50), a.Stats().Used)
	assert.Equal(t, int64(20), b.Stats().Used)

	require.NoError(t, a.Free(mine))
	assert.Equal(t, int64(0), a.Stats().Used)
}

func TestArena_ZeroesMemory(t *testing.T) {
	a := NewArena("dram", 64)
	buf := a.ZAlloc(64)
	assert.Equal(t, make([]byte, 64), buf)
}

func TestArena_Edges(t *testing.T) {
	a := NewArena("empty", -5)
	assert.Equal(t, int64(0), a.Stats().Capacity)
	assert.NotNil(t, a.ZAlloc(0))
	assert.Nil(t, a.ZAlloc(1))
	assert.Nil(t, a.ZAlloc(-1))
	assert.NoError(t, a.Free(nil))
	assert.Equal(t, "empty", a.Name())
}

func TestSystem_ZAlloc(t *testing.T) {
	assert.Equal(t, make([]byte, 3), System{}.ZAlloc(3))
	assert.Nil(t, System{}.ZAlloc(-3))
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "multi-heap", ModeMultiHeap.String())
	assert.Equal(t, "address-isolated", ModeAddressIsolated.String())
	assert.Equal(t, "unknown", Mode(7).String())
}
