package openeth

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/openeth/regs"
	"github.com/slackhq/openeth/ring"
	"github.com/slackhq/openeth/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rxEmpty(r *testRig, i int) bool {
	_, flags := ring.DecodeStatus(r.dev.Read32(regs.BDOffset(DefaultTxDepth + i)))
	return flags&ring.RxE != 0
}

func TestReceive_InOrder(t *testing.T) {
	r := newTestRig(t, 32)
	d := r.newDriver()
	ch := collect(t, d)
	require.NoError(t, d.SetLink(LinkUp))

	// Wrap the ring twice.
	for i := 0; i < 2*DefaultRxDepth; i++ {
		f := frame(60+i, byte(i))
		require.True(t, r.dev.Receive(f))
		assert.Equal(t, f, next(t, ch), "frame %d", i)
	}

	for i := 0; i < DefaultRxDepth; i++ {
		assert.True(t, rxEmpty(r, i), "desc %d", i)
	}
	assert.EqualValues(t, 2*DefaultRxDepth, r.counter("openeth.rx.frames"))
}

func TestReceive_Burst(t *testing.T) {
	r := newTestRig(t, 32)
	d := r.newDriver()

	hold := make(chan struct{})
	ch := make(chan []byte, DefaultRxDepth)
	require.NoError(t, d.SetRxCallback(func(_ any, f *Frame) {
		<-hold
		ch <- append([]byte(nil), f.Bytes()...)
		f.Release()
	}, nil))
	require.NoError(t, d.SetLink(LinkUp))

	// The first delivery blocks the task while the rest of the ring fills up.
	for i := 0; i < DefaultRxDepth; i++ {
		require.True(t, r.dev.Receive(frame(100, byte(i))))
	}
	close(hold)

	for i := 0; i < DefaultRxDepth; i++ {
		assert.Equal(t, frame(100, byte(i)), next(t, ch), "frame %d", i)
	}
	assert.Eventually(t, func() bool {
		for i := 0; i < DefaultRxDepth; i++ {
			if !rxEmpty(r, i) {
				return false
			}
		}
		return true
	}, 2*time.Second, time.Millisecond)
}

func TestReceive_Overrun(t *testing.T) {
	r := newTestRig(t, 32)
	d := r.newDriver()
	ch := collect(t, d)

	// The controller runs but nobody is listening on the interrupt line.
	require.NoError(t, d.Start())
	for i := 0; i < DefaultRxDepth; i++ {
		require.True(t, r.dev.Receive(frame(64, byte(i))))
	}
	assert.False(t, r.dev.Receive(frame(64, 0xff)))
	assert.True(t, r.irq.Pending(testIRQ))

	// Link up discards the stale pending interrupt, the next overrun is seen.
	require.NoError(t, d.SetLink(LinkUp))
	assert.False(t, r.dev.Receive(frame(64, 0xfe)))
	assert.EqualValues(t, 1, r.counter("openeth.rx.dropped.overrun"))

	for i := 0; i < DefaultRxDepth; i++ {
		assert.Equal(t, frame(64, byte(i)), next(t, ch), "frame %d", i)
	}
	assert.Equal(t, uint64(2), r.dev.Stats().RxBusy)
}

// injectDescriptor fills the RX descriptor at index i by hand and raises RXB.
func injectDescriptor(r *testRig, i int, length, flags uint16) {
	off := regs.BDOffset(DefaultTxDepth + i)
	_, old := ring.DecodeStatus(r.dev.Read32(off))
	r.dev.Write32(off, ring.EncodeStatus(length, old&^ring.RxE|flags))
	r.dev.Assert(regs.IntRXB)
}

func TestReceive_LengthOverflow(t *testing.T) {
	r := newTestRig(t, 32)
	l, hook := test.NewRecordingLogger()
	d, err := New(l, r.platform(), r.config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	ch := collect(t, d)
	require.NoError(t, d.SetLink(LinkUp))
	rx := d.rx

	injectDescriptor(r, 0, 2000, 0)
	assert.Eventually(t, func() bool {
		return rxEmpty(r, 0) && r.counter("openeth.rx.dropped.length") == 1
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, d.Close())
	assert.Equal(t, 1, rx.Cursor(), "the dropped descriptor is consumed")
	assert.Empty(t, ch)
	assert.Zero(t, r.counter("openeth.rx.frames"))

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Dropping received frame" {
			logged = true
			assert.Equal(t, logrus.ErrorLevel, e.Level)
			assert.Equal(t, ErrLengthOverflow, e.Data[logrus.ErrorKey])
			assert.Equal(t, 2000, e.Data["len"])
		}
	}
	assert.True(t, logged)
}

func TestReceive_EmptyAndErrored(t *testing.T) {
	r := newTestRig(t, 32)
	d := r.newDriver()
	ch := collect(t, d)
	require.NoError(t, d.SetLink(LinkUp))
	rx := d.rx

	injectDescriptor(r, 0, 0, 0)
	injectDescriptor(r, 1, 64, ring.RxCRC)
	assert.Eventually(t, func() bool {
		return rxEmpty(r, 0) && rxEmpty(r, 1)
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, d.Close())
	assert.Equal(t, 2, rx.Cursor())
	assert.Empty(t, ch)
	assert.EqualValues(t, 1, r.counter("openeth.rx.dropped.empty"))
	assert.EqualValues(t, 1, r.counter("openeth.rx.errors"))
}

func TestFrame_Reuse(t *testing.T) {
	r := newTestRig(t, 32)
	d := r.newDriver()

	f := d.frames.Get().(*Frame)
	assert.Zero(t, f.Len())
	assert.Equal(t, MaxFrameSize, cap(f.Bytes()))
	f.buf = append(f.buf, 1, 2, 3)
	assert.Equal(t, 3, f.Len())
	f.Release()
	assert.Zero(t, f.Len())
}

func TestReceive_CopiesOutOfDMA(t *testing.T) {
	r := newTestRig(t, 32)
	d := r.newDriver()
	got := make(chan *Frame, 1)
	require.NoError(t, d.SetRxCallback(func(_ any, f *Frame) { got <- f }, nil))
	require.NoError(t, d.SetLink(LinkUp))

	require.True(t, r.dev.Receive(frame(200, 7)))
	var f *Frame
	select {
	case f = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
	defer f.Release()

	addr := r.dev.Read32(regs.BDOffset(DefaultTxDepth) + 4)
	buf, err := r.arena.Slice(addr, 200)
	require.NoError(t, err)
	test.AssertNoOverlap(t, f.Bytes(), buf)
	assert.Equal(t, 200, f.Len())
}
