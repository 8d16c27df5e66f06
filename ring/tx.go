package ring

import (
	"github.com/slackhq/openeth/dma"
	"github.com/slackhq/openeth/regs"
)

// TxRing is the transmit descriptor ring. Callers must serialize access.
type TxRing struct {
	t   table
	cur int
}

// NewTxRing binds descriptors first..first+pool.Len()-1 to the pool buffers.
// All of them start out owned by software.
func NewTxRing(bus regs.Bus, first int, pool *dma.Pool) (*TxRing, error) {
	t, err := newTable(bus, first, pool)
	if err != nil {
		return nil, err
	}
	r := &TxRing{t: t}
	for i := 0; i < t.len(); i++ {
		t.bind(i)
		var flags uint16
		if t.last(i) {
			flags |= TxWR
		}
		t.setStatus(i, 0, flags)
	}
	return r, nil
}

// Len returns the ring depth.
func (r *TxRing) Len() int {
	return r.t.len()
}

// Cursor returns the index of the next descriptor to be filled.
func (r *TxRing) Cursor() int {
	return r.cur
}

// BufferSize returns the capacity of each bound buffer.
func (r *TxRing) BufferSize() int {
	return r.t.pool.BufferSize()
}

// Capacity returns the largest frame the ring can take in one go.
func (r *TxRing) Capacity() int {
	return r.t.pool.Capacity()
}

// Descriptor reads descriptor i.
func (r *TxRing) Descriptor(i int) TxDescriptor {
	length, flags := r.t.status(i)
	return TxDescriptor{Len: length, Flags: flags, Addr: r.t.addr(i)}
}

// Free reports whether the n descriptors starting at the cursor are all owned
// by software.
func (r *TxRing) Free(n int) bool {
	if n > r.Len() {
		return false
	}
	for i, idx := 0, r.cur; i < n; i, idx = i+1, r.t.next(idx) {
		if r.Descriptor(idx).Ready() {
			return false
		}
	}
	return true
}

// Acquire returns the descriptor at the cursor if software owns it.
func (r *TxRing) Acquire() (s *TxSlot, ok bool) {
	if r.Descriptor(r.cur).Ready() {
		return nil, false
	}
	return &TxSlot{r: r, index: r.cur}, true
}

// TxSlot is a transmit descriptor while software owns it.
type TxSlot struct {
	r     *TxRing
	index int
}

// Index returns the ring index of the slot.
func (s *TxSlot) Index() int {
	return s.index
}

// Buffer returns the whole bound DMA buffer. It must not be used after Submit.
func (s *TxSlot) Buffer() []byte {
	if s.r == nil {
		panic("tx slot used after submit")
	}
	return s.r.t.pool.Buffer(s.index).Data
}

// Submit sets the frame length, marks the descriptor ready and advances the
// cursor. Marking it ready starts the transmission.
func (s *TxSlot) Submit(n int) {
	if s.r == nil {
		panic("tx slot submitted twice")
	}
	r := s.r
	s.r = nil
	if n < 0 || n > r.BufferSize() {
		panic("tx length outside buffer")
	}

	_, flags := r.t.status(s.index)
	flags &^= TxStatus | TxWR
	flags |= TxRD
	if r.t.last(s.index) {
		flags |= TxWR
	}
	r.t.setStatus(s.index, uint16(n), flags)
	r.cur = r.t.next(s.index)
}
