package ring

import (
	"github.com/slackhq/openeth/dma"
	"github.com/slackhq/openeth/regs"
)

// RxRing is the receive descriptor ring. It is owned by a single consumer;
// only that consumer may poll it.
type RxRing struct {
	t   table
	cur int
}

// NewRxRing binds descriptors first..first+pool.Len()-1 to the pool buffers
// and hands all of them to hardware.
func NewRxRing(bus regs.Bus, first int, pool *dma.Pool) (*RxRing, error) {
	t, err := newTable(bus, first, pool)
	if err != nil {
		return nil, err
	}
	r := &RxRing{t: t}
	for i := 0; i < t.len(); i++ {
		t.bind(i)
		t.setStatus(i, 0, r.emptyFlags(i))
	}
	return r, nil
}

func (r *RxRing) emptyFlags(i int) uint16 {
	flags := RxE | RxIRQ
	if r.t.last(i) {
		flags |= RxWR
	}
	return flags
}

// Len returns the ring depth.
func (r *RxRing) Len() int {
	return r.t.len()
}

// Cursor returns the index of the next descriptor the consumer looks at.
func (r *RxRing) Cursor() int {
	return r.cur
}

// BufferSize returns the capacity of each bound buffer.
func (r *RxRing) BufferSize() int {
	return r.t.pool.BufferSize()
}

// Descriptor reads descriptor i.
func (r *RxRing) Descriptor(i int) RxDescriptor {
	length, flags := r.t.status(i)
	return RxDescriptor{Len: length, Flags: flags, Addr: r.t.addr(i)}
}

// Poll returns the descriptor at the cursor if software owns it. ok is false
// when hardware still owns it, meaning no frame is pending.
func (r *RxRing) Poll() (s *RxSlot, ok bool) {
	d := r.Descriptor(r.cur)
	if d.Empty() {
		return nil, false
	}
	return &RxSlot{r: r, index: r.cur, desc: d}, true
}

// RxSlot is a received descriptor while software owns it.
type RxSlot struct {
	r     *RxRing
	index int
	desc  RxDescriptor
}

// Index returns the ring index of the slot.
func (s *RxSlot) Index() int {
	return s.index
}

// Len returns the frame length reported by hardware.
func (s *RxSlot) Len() int {
	return int(s.desc.Len)
}

// Errors returns the receive error bits reported by hardware.
func (s *RxSlot) Errors() uint16 {
	return s.desc.Errors()
}

// Payload returns the received bytes in the bound DMA buffer, or nil if the
// reported length does not fit the buffer. It must not be used after Recycle.
func (s *RxSlot) Payload() []byte {
	if s.r == nil {
		panic("rx slot used after recycle")
	}
	buf := s.r.t.pool.Buffer(s.index).Data
	if s.Len() > len(buf) {
		return nil
	}
	return buf[:s.Len()]
}

// Recycle hands the descriptor back to hardware and advances the cursor.
func (s *RxSlot) Recycle() {
	if s.r == nil {
		panic("rx slot recycled twice")
	}
	r := s.r
	s.r = nil
	r.t.setStatus(s.index, 0, r.emptyFlags(s.index))
	r.cur = r.t.next(s.index)
}
