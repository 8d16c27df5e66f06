package ring

import (
	"testing"

	"github.com/slackhq/openeth/dma"
	"github.com/slackhq/openeth/regs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type write struct {
	offset uint32
	value  uint32
}

// memBus is a plain register file that records every write.
type memBus struct {
	words  map[uint32]uint32
	writes []write
}

func newMemBus() *memBus {
	return &memBus{words: map[uint32]uint32{}}
}

func (b *memBus) Read32(offset uint32) uint32 { return b.words[offset] }

func (b *memBus) Write32(offset uint32, value uint32) {
	b.words[offset] = value
	b.writes = append(b.writes, write{offset, value})
}

func newPool(t *testing.T, count, size int) *dma.Pool {
	a, err := dma.NewArena(dma.DefaultBase, size, count)
	require.NoError(t, err)
	p, err := dma.NewPool(a, count, size)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, p.Close())
		assert.NoError(t, a.Close())
	})
	return p
}

func TestCheckDepth(t *testing.T) {
	tests := []struct {
		name        string
		rx, tx      int
		containsErr string
	}{
		{name: "rx zero", rx: 0, tx: 1, containsErr: "rx depth 0 is too small"},
		{name: "tx negative", rx: 1, tx: -1, containsErr: "tx depth -1 is too small"},
		{name: "too many", rx: 100, tx: 29, containsErr: "exceed the 128 available"},
		{name: "smallest", rx: 1, tx: 1},
		{name: "default", rx: 16, tx: 16},
		{name: "full", rx: 64, tx: 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDepth(tt.rx, tt.tx)
			if tt.containsErr != "" {
				assert.ErrorIs(t, err, ErrDepthInvalid)
				assert.ErrorContains(t, err, tt.containsErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStatusEncoding(t *testing.T) {
	v := EncodeStatus(1464, TxRD|TxWR)
	assert.Equal(t, uint32(1464)<<16|0xa000, v)
	l, f := DecodeStatus(v)
	assert.Equal(t, uint16(1464), l)
	assert.Equal(t, TxRD|TxWR, f)
}

func TestNewRxRing(t *testing.T) {
	bus := newMemBus()
	pool := newPool(t, 4, 1536)

	r, err := NewRxRing(bus, 16, pool)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, 0, r.Cursor())

	for i := 0; i < 4; i++ {
		d := r.Descriptor(i)
		assert.True(t, d.Empty(), "slot %d starts hardware owned", i)
		assert.Equal(t, i == 3, d.Wrap(), "only the last slot wraps")
		assert.Equal(t, pool.Buffer(i).Addr, d.Addr)
		assert.Equal(t, pool.Buffer(i).Addr, bus.words[regs.BDOffset(16+i)+4])
	}

	_, ok := r.Poll()
	assert.False(t, ok)
}

func TestNewRing_OutsideBDRAM(t *testing.T) {
	pool := newPool(t, 4, 64)
	_, err := NewRxRing(newMemBus(), regs.BDCount-3, pool)
	assert.ErrorIs(t, err, ErrDepthInvalid)
	_, err = NewTxRing(newMemBus(), -1, pool)
	assert.ErrorIs(t, err, ErrDepthInvalid)
}

// deliver does what the controller does when a frame lands in slot i.
func deliver(bus *memBus, first, i int, frame []byte, pool *dma.Pool) {
	copy(pool.Buffer(i).Data, frame)
	off := regs.BDOffset(first + i)
	_, flags := DecodeStatus(bus.words[off])
	bus.words[off] = EncodeStatus(uint16(len(frame)), flags&^RxE)
}

func TestRxRing_PollRecycle(t *testing.T) {
	bus := newMemBus()
	pool := newPool(t, 2, 64)
	r, err := NewRxRing(bus, 1, pool)
	require.NoError(t, err)

	deliver(bus, 1, 0, []byte("first"), pool)
	deliver(bus, 1, 1, []byte("second"), pool)

	s, ok := r.Poll()
	require.True(t, ok)
	assert.Equal(t, 0, s.Index())
	assert.Equal(t, []byte("first"), s.Payload())
	s.Recycle()
	assert.True(t, r.Descriptor(0).Empty())
	assert.Equal(t, uint16(0), r.Descriptor(0).Len)
	assert.Equal(t, 1, r.Cursor())
	assert.Panics(t, func() { s.Recycle() })
	assert.Panics(t, func() { s.Payload() })

	s, ok = r.Poll()
	require.True(t, ok)
	assert.Equal(t, []byte("second"), s.Payload())
	s.Recycle()
	assert.True(t, r.Descriptor(1).Wrap(), "recycling keeps the wrap bit on the last slot")
	assert.Equal(t, 0, r.Cursor(), "cursor wraps at the ring depth")

	_, ok = r.Poll()
	assert.False(t, ok)
}

func TestRxRing_OversizeLength(t *testing.T) {
	bus := newMemBus()
	pool := newPool(t, 1, 64)
	r, err := NewRxRing(bus, 0, pool)
	require.NoError(t, err)

	bus.words[regs.BDOffset(0)] = EncodeStatus(2000, RxIRQ|RxWR)
	s, ok := r.Poll()
	require.True(t, ok)
	assert.Equal(t, 2000, s.Len())
	assert.Nil(t, s.Payload())
}

func TestNewTxRing(t *testing.T) {
	bus := newMemBus()
	pool := newPool(t, 3, 1536)
	r, err := NewTxRing(bus, 0, pool)
	require.NoError(t, err)

	assert.Equal(t, 3*1536, r.Capacity())
	for i := 0; i < 3; i++ {
		d := r.Descriptor(i)
		assert.False(t, d.Ready())
		assert.Equal(t, i == 2, d.Wrap())
		assert.Equal(t, pool.Buffer(i).Addr, d.Addr)
	}
	assert.True(t, r.Free(3))
	assert.False(t, r.Free(4))
}

func TestTxRing_AcquireSubmit(t *testing.T) {
	bus := newMemBus()
	pool := newPool(t, 2, 64)
	r, err := NewTxRing(bus, 0, pool)
	require.NoError(t, err)

	s, ok := r.Acquire()
	require.True(t, ok)
	n := copy(s.Buffer(), "payload")
	s.Submit(n)

	d := r.Descriptor(0)
	assert.True(t, d.Ready())
	assert.False(t, d.Wrap())
	assert.Equal(t, uint16(7), d.Len)
	assert.Equal(t, 1, r.Cursor())
	assert.Panics(t, func() { s.Submit(1) })

	// Slot 0 is still owned by hardware.
	assert.False(t, r.Free(2))

	s, ok = r.Acquire()
	require.True(t, ok)
	s.Submit(64)
	d = r.Descriptor(1)
	assert.True(t, d.Ready())
	assert.True(t, d.Wrap())
	assert.Equal(t, 0, r.Cursor())

	_, ok = r.Acquire()
	assert.False(t, ok, "hardware has not completed slot 0")

	// Completion clears RD and leaves status bits behind.
	bus.words[regs.BDOffset(0)] = EncodeStatus(7, TxDF)
	s, ok = r.Acquire()
	require.True(t, ok)
	s.Submit(3)
	d = r.Descriptor(0)
	assert.Equal(t, TxRD, d.Flags, "stale status bits are cleared on submit")
}

func TestTable_IndexOutsideRing(t *testing.T) {
	pool := newPool(t, 2, 64)
	r, err := NewTxRing(newMemBus(), 0, pool)
	require.NoError(t, err)
	assert.Panics(t, func() { r.Descriptor(2) })
	assert.Panics(t, func() { r.Descriptor(-1) })
}
