// Package irq models the platform interrupt controller the driver attaches
// its handler to, and provides a software implementation for emulated
// devices.
package irq

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidSource = errors.New("invalid interrupt source")
	ErrAttached      = errors.New("interrupt source already has a handler")
	ErrNotAttached   = errors.New("interrupt source has no handler")
)

// MaxSources is the number of lines a [Soft] controller provides.
const MaxSources = 64

// Source identifies an interrupt line.
type Source int

// Handler runs in interrupt context. It must not block.
type Handler func()

// Controller is the interrupt controller as seen by a driver.
type Controller interface {
	Attach(src Source, h Handler) error
	Detach(src Source) error
	Enable(src Source) error
	Disable(src Source) error
	ClearPending(src Source) error
	SetWakeup(src Source) error
}

type line struct {
	h       Handler
	enabled bool
	pending bool
	wakeup  bool
	running bool
}

// Soft is a [Controller] whose lines are raised by software, typically an
// emulated device. A handler runs on the goroutine that raised the line, or
// on the goroutine enabling a line with a pending interrupt. Handlers of one
// line never run concurrently; a raise during a running handler is delivered
// once that handler returns.
type Soft struct {
	l     *logrus.Logger
	mu    sync.Mutex
	idle  *sync.Cond
	lines [MaxSources]line
}

func NewSoft(l *logrus.Logger) *Soft {
	c := &Soft{l: l}
	c.idle = sync.NewCond(&c.mu)
	return c
}

func (c *Soft) line(src Source) (*line, error) {
	if src < 0 || src >= MaxSources {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSource, src)
	}
	return &c.lines[src], nil
}

func (c *Soft) Attach(src Source, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln, err := c.line(src)
	if err != nil {
		return err
	}
	if ln.h != nil {
		return fmt.Errorf("%w: %d", ErrAttached, src)
	}
	ln.h = h
	return nil
}

// Detach disables the line, removes its handler and waits for a running
// handler to return.
func (c *Soft) Detach(src Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln, err := c.line(src)
	if err != nil {
		return err
	}
	if ln.h == nil {
		return fmt.Errorf("%w: %d", ErrNotAttached, src)
	}
	ln.h = nil
	ln.enabled = false
	ln.pending = false
	for ln.running {
		c.idle.Wait()
	}
	return nil
}

func (c *Soft) Enable(src Source) error {
	c.mu.Lock()
	ln, err := c.line(src)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	ln.enabled = true
	c.dispatch(src, ln)
	return nil
}

func (c *Soft) Disable(src Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln, err := c.line(src)
	if err != nil {
		return err
	}
	ln.enabled = false
	return nil
}

func (c *Soft) ClearPending(src Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln, err := c.line(src)
	if err != nil {
		return err
	}
	ln.pending = false
	return nil
}

func (c *Soft) SetWakeup(src Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln, err := c.line(src)
	if err != nil {
		return err
	}
	ln.wakeup = true
	return nil
}

// Raise signals an interrupt on src. If the line is enabled and has a handler
// the handler runs before Raise returns, unless it is already running
// elsewhere.
func (c *Soft) Raise(src Source) {
	c.mu.Lock()
	ln, err := c.line(src)
	if err != nil {
		c.mu.Unlock()
		c.l.WithError(err).Error("Raise on unknown interrupt line")
		return
	}
	ln.pending = true
	c.dispatch(src, ln)
}

// dispatch runs the handler while the line is pending and enabled. It is
// called with mu held and returns with mu released.
func (c *Soft) dispatch(src Source, ln *line) {
	defer c.mu.Unlock()
	if ln.running {
		return
	}
	for ln.pending && ln.enabled && ln.h != nil {
		ln.pending = false
		ln.running = true
		h := ln.h
		c.mu.Unlock()
		h()
		c.mu.Lock()
		ln.running = false
		c.idle.Broadcast()
	}
	if ln.pending && c.l.IsLevelEnabled(logrus.TraceLevel) {
		c.l.WithField("irq", src).Trace("Interrupt left pending")
	}
}

// Enabled reports whether src is enabled.
func (c *Soft) Enabled(src Source) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln, err := c.line(src)
	return err == nil && ln.enabled
}

// Pending reports whether src has an undelivered interrupt.
func (c *Soft) Pending(src Source) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln, err := c.line(src)
	return err == nil && ln.pending
}

// Attached reports whether src has a handler.
func (c *Soft) Attached(src Source) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln, err := c.line(src)
	return err == nil && ln.h != nil
}

// Wakeup reports whether src may wake the system.
func (c *Soft) Wakeup(src Source) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln, err := c.line(src)
	return err == nil && ln.wakeup
}
