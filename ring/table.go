package ring

import (
	"errors"
	"fmt"

	"github.com/slackhq/openeth/dma"
	"github.com/slackhq/openeth/regs"
)

// ErrDepthInvalid is returned when a ring depth does not fit the BD RAM.
var ErrDepthInvalid = errors.New("ring depth is invalid")

// CheckDepth checks that rx and tx descriptor rings of the given depths can
// share the controller's BD RAM.
func CheckDepth(rx, tx int) error {
	if rx < 1 {
		return fmt.Errorf("%w: rx depth %d is too small", ErrDepthInvalid, rx)
	}
	if tx < 1 {
		return fmt.Errorf("%w: tx depth %d is too small", ErrDepthInvalid, tx)
	}
	if rx+tx > regs.BDCount {
		return fmt.Errorf("%w: %d rx + %d tx descriptors exceed the %d available",
			ErrDepthInvalid, rx, tx, regs.BDCount)
	}
	return nil
}

// table is a contiguous run of descriptors in BD RAM, each bound to the pool
// buffer with the same index.
type table struct {
	bus   regs.Bus
	first int
	pool  *dma.Pool
}

func newTable(bus regs.Bus, first int, pool *dma.Pool) (table, error) {
	if first < 0 || first+pool.Len() > regs.BDCount {
		return table{}, fmt.Errorf("%w: descriptors %d..%d are outside BD RAM",
			ErrDepthInvalid, first, first+pool.Len()-1)
	}
	return table{bus: bus, first: first, pool: pool}, nil
}

func (t *table) len() int {
	return t.pool.Len()
}

// offset returns the BD RAM offset of slot i. An out of range index is a
// programming error and would otherwise land in the neighbouring ring.
func (t *table) offset(i int) uint32 {
	if i < 0 || i >= t.len() {
		panic(fmt.Sprintf("descriptor index %d outside ring of %d", i, t.len()))
	}
	return regs.BDOffset(t.first + i)
}

func (t *table) status(i int) (uint16, uint16) {
	return DecodeStatus(t.bus.Read32(t.offset(i)))
}

func (t *table) setStatus(i int, length, flags uint16) {
	t.bus.Write32(t.offset(i), EncodeStatus(length, flags))
}

func (t *table) addr(i int) uint32 {
	return t.bus.Read32(t.offset(i) + addrWord)
}

func (t *table) bind(i int) {
	t.bus.Write32(t.offset(i)+addrWord, t.pool.Buffer(i).Addr)
}

func (t *table) last(i int) bool {
	return i == t.len()-1
}

func (t *table) next(i int) int {
	return (i + 1) % t.len()
}
