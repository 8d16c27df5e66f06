package dma

import (
	"errors"
	"fmt"
)

// Pool is a fixed number of fixed-size DMA buffers, allocated together and
// released together. Buffer i is bound to descriptor ring slot i for the
// whole lifetime of the pool.
type Pool struct {
	alloc Allocator
	size  int
	bufs  []Buffer
}

// NewPool allocates count buffers of size bytes each. If any allocation
// fails, the buffers allocated so far are released before returning.
func NewPool(alloc Allocator, count, size int) (_ *Pool, err error) {
	if count <= 0 || size <= 0 {
		return nil, fmt.Errorf("invalid pool geometry %d x %d", count, size)
	}

	p := &Pool{
		alloc: alloc,
		size:  size,
		bufs:  make([]Buffer, 0, count),
	}

	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	for i := 0; i < count; i++ {
		b, err := alloc.Alloc(size)
		if err != nil {
			return nil, fmt.Errorf("allocate buffer %d of %d: %w", i, count, err)
		}
		p.bufs = append(p.bufs, b)
	}
	return p, nil
}

// Len returns the number of buffers.
func (p *Pool) Len() int {
	return len(p.bufs)
}

// BufferSize returns the capacity of every buffer.
func (p *Pool) BufferSize() int {
	return p.size
}

// Capacity returns the total number of bytes the pool holds.
func (p *Pool) Capacity() int {
	return p.size * len(p.bufs)
}

// Buffer returns buffer i.
func (p *Pool) Buffer(i int) Buffer {
	return p.bufs[i]
}

// Close releases every buffer back to the allocator. It tries to release as
// many as possible and returns the collected errors.
func (p *Pool) Close() error {
	var errs []error
	for i, b := range p.bufs {
		if err := p.alloc.Free(b); err != nil {
			errs = append(errs, fmt.Errorf("free buffer %d: %w", i, err))
		}
	}
	p.bufs = nil
	return errors.Join(errs...)
}
