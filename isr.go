package openeth

import (
	"github.com/sirupsen/logrus"
	"github.com/slackhq/openeth/regs"
)

// isr runs in interrupt context. It only signals the receive task and never
// touches descriptors, buffers or cursors.
//
// The observed sources are acknowledged before the task is woken, so a frame
// completing after the acknowledgement raises the line again instead of being
// cleared unseen.
func (d *Driver) isr() {
	status := d.bus.Read32(regs.IntSource)
	if status == 0 {
		return
	}
	d.bus.Write32(regs.IntSource, status)

	if status&regs.IntBusy != 0 {
		d.m.rxOverrun.Inc(1)
		if d.l.Level >= logrus.DebugLevel {
			d.l.WithField("status", status).Debug("Receive frame dropped, no free descriptor")
		}
	}

	if status&(regs.IntRXB|regs.IntRXE) != 0 {
		d.wake.notify()
	}
}
