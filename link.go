package openeth

import (
	"errors"
	"fmt"

	"github.com/slackhq/openeth/regs"
)

// Link is the administrative link state.
type Link int

const (
	LinkDown Link = iota
	LinkUp
)

func (l Link) String() string {
	switch l {
	case LinkDown:
		return "down"
	case LinkUp:
		return "up"
	default:
		return fmt.Sprintf("Link(%d)", int(l))
	}
}

const (
	moderEnable = regs.ModerTxEn | regs.ModerRxEn
	intEnable   = regs.IntRXB | regs.IntBusy | regs.IntRXE
)

// SetLink brings the link up or down. Up arms the interrupt line before
// enabling the controller; down disarms it first. If the interrupt
// controller fails the controller is left as it was.
func (d *Driver) SetLink(link Link) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return ErrClosed
	}

	d.l.WithField("link", link).Debug("Setting link state")
	switch link {
	case LinkUp:
		err := errors.Join(
			d.irqc.SetWakeup(d.src),
			d.irqc.ClearPending(d.src),
			d.irqc.Enable(d.src),
		)
		if err != nil {
			d.l.WithError(err).Error("Failed to enable the ethernet interrupt")
			return fmt.Errorf("%w: enable: %w", ErrIRQ, err)
		}
		d.enable()
	case LinkDown:
		if err := d.irqc.Disable(d.src); err != nil {
			d.l.WithError(err).Error("Failed to disable the ethernet interrupt")
			return fmt.Errorf("%w: disable: %w", ErrIRQ, err)
		}
		d.disable()
	default:
		return fmt.Errorf("%w: unknown link state %d", ErrInvalidParam, int(link))
	}

	d.link = link
	return nil
}

// Link returns the last state set with SetLink.
func (d *Driver) Link() Link {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.link
}

// Start enables transmission and reception without touching the interrupt
// line.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return ErrClosed
	}
	d.enable()
	return nil
}

// Stop disables transmission and reception without touching the interrupt
// line.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return ErrClosed
	}
	d.disable()
	return nil
}

// SetPromiscuous makes the controller accept frames regardless of their
// destination address.
func (d *Driver) SetPromiscuous(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return ErrClosed
	}
	d.modifyReg(regs.Moder, regs.ModerPro, enable)
	return nil
}

func (d *Driver) enable() {
	d.modifyReg(regs.IntMask, intEnable, true)
	d.modifyReg(regs.Moder, moderEnable, true)
}

func (d *Driver) disable() {
	d.modifyReg(regs.IntMask, intEnable, false)
	d.modifyReg(regs.Moder, moderEnable, false)
}

func (d *Driver) modifyReg(off, bits uint32, set bool) {
	v := d.bus.Read32(off)
	if set {
		v |= bits
	} else {
		v &^= bits
	}
	d.bus.Write32(off, v)
}
