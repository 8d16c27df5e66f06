package openeth

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Transmit copies frame into as many transmit descriptors as it needs and
// hands them to the controller. It returns once the last descriptor is
// marked ready; it does not wait for the controller to send it. Callers must
// not call Transmit concurrently.
func (d *Driver) Transmit(frame []byte) error {
	d.txLock.Lock()
	defer d.txLock.Unlock()

	if d.closed.Load() || d.tx == nil {
		return ErrClosed
	}

	length := len(frame)
	if length > d.tx.Capacity() {
		d.l.WithFields(logrus.Fields{"len": length, "capacity": d.tx.Capacity()}).
			Error("Insufficient transmit buffer space")
		return fmt.Errorf("%w: %d bytes, room for %d", ErrFrameTooLarge, length, d.tx.Capacity())
	}
	if length == 0 {
		return nil
	}

	size := d.tx.BufferSize()
	chunks := (length + size - 1) / size
	if !d.tx.Free(chunks) {
		d.m.txBusy.Inc(1)
		return ErrTxBusy
	}

	debug := d.l.Level >= logrus.DebugLevel
	for off := 0; off < length; {
		s, ok := d.tx.Acquire()
		if !ok {
			// Free just said otherwise, only a concurrent Transmit gets here.
			panic("transmit descriptor taken while transmitting")
		}
		n := copy(s.Buffer(), frame[off:])
		if debug {
			d.l.WithFields(logrus.Fields{"desc": s.Index(), "len": n, "wr": s.Index() == d.tx.Len()-1}).
				Debug("Transmit descriptor ready")
		}
		s.Submit(n)
		off += n
	}

	d.m.txFrames.Inc(1)
	d.m.txBytes.Inc(int64(length))
	return nil
}
