package openeth

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/openeth/ring"
)

// Frame is a received frame handed to the upstream callback. The callback
// owns it until it calls Release.
type Frame struct {
	buf  []byte
	pool *sync.Pool
}

// Bytes returns the frame contents. The slice must not be used after Release.
func (f *Frame) Bytes() []byte {
	return f.buf
}

// Len returns the frame length in bytes.
func (f *Frame) Len() int {
	return len(f.buf)
}

// Release returns the frame to the driver. The frame must not be used
// afterwards.
func (f *Frame) Release() {
	f.buf = f.buf[:0]
	f.pool.Put(f)
}

func (d *Driver) rxTask(done chan<- struct{}) {
	defer close(done)
	defer d.wake.done()

	d.l.WithField("task", d.cfg.RxTask.Name).Debug("Receive task started")
	for d.wake.wait() {
		d.drain()
	}
	d.l.WithField("task", d.cfg.RxTask.Name).Debug("Receive task stopped")
}

// drain consumes descriptors until it finds one still owned by the
// controller.
func (d *Driver) drain() {
	for {
		s, ok := d.rx.Poll()
		if !ok {
			return
		}
		d.receive(s)
	}
}

func (d *Driver) receive(s *ring.RxSlot) {
	n := s.Len()
	if d.l.Level >= logrus.DebugLevel {
		d.l.WithFields(logrus.Fields{"desc": s.Index(), "len": n, "errors": s.Errors()}).
			Debug("Receive descriptor completed")
	}

	if s.Errors() != 0 {
		d.m.rxErrors.Inc(1)
		s.Recycle()
		return
	}

	if n == 0 {
		d.m.rxEmpty.Inc(1)
		s.Recycle()
		return
	}

	payload := s.Payload()
	if n > d.cfg.MaxFrameSize || payload == nil {
		d.m.rxOverflow.Inc(1)
		d.l.WithFields(logrus.Fields{"desc": s.Index(), "len": n, "max": d.cfg.MaxFrameSize}).
			WithError(ErrLengthOverflow).Error("Dropping received frame")
		s.Recycle()
		return
	}

	f := d.frames.Get().(*Frame)
	f.buf = append(f.buf[:0], payload...)
	s.Recycle()

	d.m.rxFrames.Inc(1)
	d.m.rxBytes.Inc(int64(n))

	h := d.handler.Load()
	if h == nil {
		f.Release()
		return
	}
	h.cb(h.priv, f)
}
