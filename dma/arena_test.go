package dma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_AllocFree(t *testing.T) {
	a, err := NewArena(DefaultBase, 2048, 4)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, a.Close())
	})

	b0, err := a.Alloc(1536)
	require.NoError(t, err)
	assert.Equal(t, DefaultBase, b0.Addr)
	assert.Len(t, b0.Data, 1536)
	assert.Equal(t, 1536, cap(b0.Data), "buffers cannot be grown into the next block")

	b1, err := a.Alloc(2048)
	require.NoError(t, err)
	assert.Equal(t, DefaultBase+2048, b1.Addr)
	assert.Equal(t, 2, a.Available())

	_, err = a.Alloc(2049)
	assert.ErrorIs(t, err, ErrNoMem)

	require.NoError(t, a.Free(b0))
	assert.ErrorIs(t, a.Free(b0), ErrBadAddress, "double free")
	assert.ErrorIs(t, a.Free(Buffer{Addr: DefaultBase + 1}), ErrBadAddress)
	assert.Equal(t, 3, a.Available())
}

func TestArena_Exhaust(t *testing.T) {
	a, err := NewArena(DefaultBase, 64, 2)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, a.Close())
	})

	_, err = a.Alloc(64)
	require.NoError(t, err)
	_, err = a.Alloc(64)
	require.NoError(t, err)
	_, err = a.Alloc(64)
	assert.ErrorIs(t, err, ErrNoMem)
}

func TestArena_Slice(t *testing.T) {
	a, err := NewArena(0x1000, 64, 2)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, a.Close())
	})

	b, err := a.Alloc(64)
	require.NoError(t, err)
	copy(b.Data, "hello")

	view, err := a.Slice(b.Addr, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), view)

	view, err = a.Slice(b.Addr+1, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("ello"), view)

	_, err = a.Slice(0xfff, 1)
	assert.ErrorIs(t, err, ErrBadAddress)
	_, err = a.Slice(b.Addr+60, 8)
	assert.ErrorIs(t, err, ErrBadAddress, "crosses into the next block")
	_, err = a.Slice(0x1000+128, 1)
	assert.ErrorIs(t, err, ErrBadAddress)
}

func TestArena_AllocZeroes(t *testing.T) {
	a, err := NewArena(DefaultBase, 16, 1)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, a.Close())
	})

	b, err := a.Alloc(16)
	require.NoError(t, err)
	copy(b.Data, "dirty dirty data")
	require.NoError(t, a.Free(b))

	b, err = a.Alloc(16)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), b.Data)
}

func TestNewArena_Invalid(t *testing.T) {
	_, err := NewArena(DefaultBase, 0, 4)
	assert.Error(t, err)
	_, err = NewArena(0xffff_ff00, 1024, 1)
	assert.ErrorContains(t, err, "exceeds the 32-bit bus")
}
