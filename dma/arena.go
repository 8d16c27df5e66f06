// Package dma provides DMA-capable memory for the controller: an allocator
// interface, an mmap-backed arena implementing it, and the fixed-size buffer
// pools bound to descriptor ring slots.
package dma

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	// ErrNoMem is returned when an allocator has no free region left.
	ErrNoMem = errors.New("dma memory exhausted")

	// ErrBadAddress is returned when a bus address does not belong to the
	// allocator or does not point at the start of an allocated region.
	ErrBadAddress = errors.New("bad dma address")
)

// DefaultBase is the bus address of the first byte of an [Arena] when no
// other base is requested.
const DefaultBase uint32 = 0x3fc0_0000

// Buffer is a DMA-capable region. Addr is what the controller sees; Data is
// the host view of the same bytes.
type Buffer struct {
	Addr uint32
	Data []byte
}

// Allocator hands out DMA-capable regions.
type Allocator interface {
	Alloc(size int) (Buffer, error)
	Free(b Buffer) error
}

// Memory resolves bus addresses to host memory. Devices use it to perform
// their side of a DMA transfer.
type Memory interface {
	Slice(addr uint32, n int) ([]byte, error)
}

// Arena is an [Allocator] carving equally sized blocks out of one anonymous
// memory mapping. The mapping is outside the Go heap, so the garbage collector
// never moves or frees memory a device may still be working on.
type Arena struct {
	base      uint32
	blockSize int
	mem       []byte

	mu   sync.Mutex
	free []int
	used []bool
}

// NewArena maps blocks*blockSize bytes and returns an arena whose first block
// lives at bus address base.
func NewArena(base uint32, blockSize, blocks int) (*Arena, error) {
	if blockSize <= 0 || blocks <= 0 {
		return nil, fmt.Errorf("invalid arena geometry %d x %d", blocks, blockSize)
	}
	total := blockSize * blocks
	if uint64(base)+uint64(total) > 1<<32 {
		return nil, fmt.Errorf("arena of %d bytes at 0x%08x exceeds the 32-bit bus", total, base)
	}

	mem, err := unix.Mmap(-1, 0, total,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("allocate arena memory: %w", err)
	}

	a := &Arena{
		base:      base,
		blockSize: blockSize,
		mem:       mem,
		free:      make([]int, 0, blocks),
		used:      make([]bool, blocks),
	}
	// Hand out low addresses first.
	for i := blocks - 1; i >= 0; i-- {
		a.free = append(a.free, i)
	}
	return a, nil
}

// BlockSize returns the largest region a single Alloc can return.
func (a *Arena) BlockSize() int {
	return a.blockSize
}

// Available returns the number of free blocks.
func (a *Arena) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

func (a *Arena) Alloc(size int) (Buffer, error) {
	if size <= 0 || size > a.blockSize {
		return Buffer{}, fmt.Errorf("%w: %d bytes does not fit a %d byte block", ErrNoMem, size, a.blockSize)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mem == nil {
		return Buffer{}, fmt.Errorf("%w: arena is closed", ErrNoMem)
	}
	if len(a.free) == 0 {
		return Buffer{}, ErrNoMem
	}

	i := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.used[i] = true

	off := i * a.blockSize
	data := a.mem[off : off+size : off+size]
	clear(data)
	return Buffer{Addr: a.base + uint32(off), Data: data}, nil
}

func (a *Arena) Free(b Buffer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.block(b.Addr)
	if !ok || !a.used[i] {
		return fmt.Errorf("%w: 0x%08x", ErrBadAddress, b.Addr)
	}
	a.used[i] = false
	a.free = append(a.free, i)
	return nil
}

// Slice returns the host view of n bytes at bus address addr. The range may
// not cross a block boundary.
func (a *Arena) Slice(addr uint32, n int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mem == nil || addr < a.base || n < 0 {
		return nil, fmt.Errorf("%w: 0x%08x", ErrBadAddress, addr)
	}
	off := int(addr - a.base)
	blockEnd := (off/a.blockSize + 1) * a.blockSize
	if off >= len(a.mem) || off+n > blockEnd {
		return nil, fmt.Errorf("%w: 0x%08x+%d", ErrBadAddress, addr, n)
	}
	return a.mem[off : off+n : off+n], nil
}

func (a *Arena) block(addr uint32) (int, bool) {
	if a.mem == nil || addr < a.base {
		return 0, false
	}
	off := int(addr - a.base)
	if off >= len(a.mem) || off%a.blockSize != 0 {
		return 0, false
	}
	return off / a.blockSize, true
}

// Close unmaps the arena. Regions still allocated become invalid.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mem == nil {
		return nil
	}
	if err := unix.Munmap(a.mem); err != nil {
		return fmt.Errorf("unmap arena: %w", err)
	}
	a.mem = nil
	a.free = nil
	return nil
}
