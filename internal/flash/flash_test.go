package flash

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbag/papyrix-mtd/internal/errno"
)

func TestNewMemory_Layout(t *testing.T) {
	_, err := NewMemory(0, 12)
	require.ErrorIs(t, err, errno.EINVAL)

	_, err = NewMemory(4096+1, 12)
	require.ErrorIs(t, err, errno.EINVAL)

	m, err := NewMemory(4*4096, 12)
	require.NoError(t, err)
	assert.Equal(t, uint32(4*4096), m.Size())
	assert.Equal(t, bytes.Repeat([]byte{Erased}, 4*4096), m.Bytes())
}

func TestMemory_ProgramClearsBitsOnly(t *testing.T) {
	m, err := NewMemory(2*4096, 12)
	require.NoError(t, err)

	_, err = m.WriteBytes(10, []byte{0xF0})
	require.NoError(t, err)
	_, err = m.WriteBytes(10, []byte{0x3C})
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = m.ReadBytes(10, buf)
	require.NoError(t, err)
	assert.Equal(t, byte(0x30), buf[0])

	require.NoError(t, m.EraseSector(0))
	_, err = m.ReadBytes(10, buf)
	require.NoError(t, err)
	assert.Equal(t, byte(Erased), buf[0])
}

func TestMemory_EraseTouchesOneSector(t *testing.T) {
	m, err := NewMemory(2*4096, 12)
	require.NoError(t, err)

	_, err = m.WriteBytes(0, make([]byte, 2*4096))
	require.NoError(t, err)
	require.NoError(t, m.EraseSector(1))

	assert.Equal(t, make([]byte, 4096), m.Bytes()[:4096])
	assert.Equal(t, bytes.Repeat([]byte{Erased}, 4096), m.Bytes()[4096:])
}

func TestMemory_OutOfRange(t *testing.T) {
	m, err := NewMemory(4096, 12)
	require.NoError(t, err)

	require.ErrorIs(t, m.EraseSector(1), errno.EINVAL)

	_, err = m.ReadBytes(4090, make([]byte, 10))
	require.ErrorIs(t, err, errno.EINVAL)

	_, err = m.WriteBytes(4096, []byte{0})
	require.ErrorIs(t, err, errno.EINVAL)
}

func TestMemory_InjectAndCalls(t *testing.T) {
	m, err := NewMemory(4*4096, 12)
	require.NoError(t, err)

	boom := errors.New("boom")
	m.Inject(OpErase, 2, boom)
	m.Inject(OpRead, 0x100, boom)

	require.NoError(t, m.EraseSector(1))
	require.ErrorIs(t, m.EraseSector(2), boom)

	_, err = m.ReadBytes(0x100, make([]byte, 4))
	require.ErrorIs(t, err, boom)

	m.Inject(OpErase, 2, nil)
	require.NoError(t, m.EraseSector(2))

	assert.Equal(t, []Call{
		{Op: OpErase, Addr: 1, Len: 4096},
		{Op: OpErase, Addr: 2, Len: 4096},
		{Op: OpRead, Addr: 0x100, Len: 4},
		{Op: OpErase, Addr: 2, Len: 4096},
	}, m.Calls())

	m.ResetCalls()
	assert.Empty(t, m.Calls())
}

func TestImage_CreateAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")

	img, err := OpenImage(path, 4*4096, 12)
	require.NoError(t, err)
	assert.Equal(t, path, img.Path())

	buf := make([]byte, 4)
	_, err = img.ReadBytes(0, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{Erased, Erased, Erased, Erased}, buf)

	_, err = img.WriteBytes(4096+8, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, img.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 4*4096)
	assert.Equal(t, []byte{1, 2, 3, 4}, raw[4096+8:4096+12])

	img, err = OpenImage(path, 4*4096, 12)
	require.NoError(t, err)
	defer img.Close()

	_, err = img.ReadBytes(4096+8, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)

	require.NoError(t, img.EraseSector(1))
	_, err = img.ReadBytes(4096+8, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{Erased, Erased, Erased, Erased}, buf)
}

func TestImage_SizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o644))

	_, err := OpenImage(path, 2*4096, 12)
	require.ErrorIs(t, err, errno.EINVAL)
}
