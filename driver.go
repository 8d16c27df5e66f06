// Package openeth drives the OpenCores 10/100 Ethernet MAC through fixed
// descriptor rings. Received frames are copied out of the DMA buffers by a
// dedicated task and handed to a single upstream callback. Transmission is
// synchronous on the caller.
package openeth

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/openeth/dma"
	"github.com/slackhq/openeth/irq"
	"github.com/slackhq/openeth/macaddr"
	"github.com/slackhq/openeth/regs"
	"github.com/slackhq/openeth/ring"
	"github.com/slackhq/openeth/util"
)

const (
	DefaultRxDepth    = 16
	DefaultTxDepth    = 16
	DefaultBufferSize = 1536

	// MaxFrameSize is the largest frame delivered upstream: header, VLAN tag,
	// 1500 bytes of payload and the CRC.
	MaxFrameSize = 1522

	maxBufferSize = 0xffff
)

// TaskConfig describes the receive task to the platform spawner.
type TaskConfig struct {
	Name      string
	StackSize int
	Priority  int
}

// Spawner starts fn as a long-running task. It returns once the task has been
// created; fn keeps running until it returns on its own.
type Spawner func(cfg TaskConfig, fn func()) error

// GoSpawner runs tasks as goroutines. The stack size and priority hints have
// no meaning there and are ignored.
func GoSpawner(_ TaskConfig, fn func()) error {
	go fn()
	return nil
}

// Platform is what the driver needs from the system it runs on.
type Platform struct {
	Bus       regs.Bus
	IRQ       irq.Controller
	Source    irq.Source
	Allocator dma.Allocator
	MAC       macaddr.Store
	// Spawn defaults to GoSpawner.
	Spawn Spawner
}

type Config struct {
	RxDepth    int
	TxDepth    int
	BufferSize int
	// MaxFrameSize is the capacity of a delivered frame. Longer receptions
	// are dropped.
	MaxFrameSize int
	RxTask       TaskConfig
	// Metrics defaults to metrics.DefaultRegistry.
	Metrics metrics.Registry
}

func DefaultConfig() Config {
	return Config{
		RxDepth:      DefaultRxDepth,
		TxDepth:      DefaultTxDepth,
		BufferSize:   DefaultBufferSize,
		MaxFrameSize: MaxFrameSize,
		RxTask: TaskConfig{
			Name:      "emac_rx",
			StackSize: 4096,
			Priority:  5,
		},
	}
}

// Validate reports whether the configuration describes usable rings.
func (c Config) Validate() error {
	if err := ring.CheckDepth(c.RxDepth, c.TxDepth); err != nil {
		return err
	}
	if c.BufferSize <= 0 || c.BufferSize > maxBufferSize {
		return fmt.Errorf("buffer size %d is outside 1..%d", c.BufferSize, maxBufferSize)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("max frame size %d is invalid", c.MaxFrameSize)
	}
	return nil
}

// RxCallback receives ownership of frame and must eventually call
// frame.Release. It runs on the receive task; while it runs no other frame
// is delivered.
type RxCallback func(priv any, frame *Frame)

type rxHandler struct {
	cb   RxCallback
	priv any
}

// Driver is one initialized controller. Only one may exist per interrupt
// source at a time.
type Driver struct {
	l    *logrus.Logger
	bus  regs.Bus
	irqc irq.Controller
	src  irq.Source
	cfg  Config
	m    *driverMetrics

	rxPool *dma.Pool
	txPool *dma.Pool
	rx     *ring.RxRing
	tx     *ring.TxRing

	wake     *wakeSignal
	taskDone chan struct{}
	frames   sync.Pool
	handler  atomic.Pointer[rxHandler]
	closed   atomic.Bool
	attached bool

	// txLock serializes transmit against teardown.
	txLock sync.Mutex

	// mu guards link and addr.
	mu   sync.Mutex
	link Link
	addr [macaddr.Len]byte
}

// New allocates the rings, resets the controller, attaches the interrupt
// handler, starts the receive task and programs the station address. The
// link is left down. On error everything done so far is undone.
func New(l *logrus.Logger, p Platform, c Config) (_ *Driver, err error) {
	if p.Bus == nil || p.IRQ == nil || p.Allocator == nil || p.MAC == nil {
		return nil, fmt.Errorf("%w: incomplete platform", ErrInvalidParam)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParam, err)
	}
	if p.Spawn == nil {
		p.Spawn = GoSpawner
	}

	d := &Driver{
		l:    l,
		bus:  p.Bus,
		irqc: p.IRQ,
		src:  p.Source,
		cfg:  c,
		m:    newDriverMetrics(c.Metrics),
		link: LinkDown,
	}
	d.frames.New = func() any {
		return &Frame{buf: make([]byte, 0, d.cfg.MaxFrameSize), pool: &d.frames}
	}

	fields := map[string]any{"rxDepth": c.RxDepth, "txDepth": c.TxDepth, "bufferSize": c.BufferSize}
	defer func() {
		if err != nil {
			if cerr := d.teardown(); cerr != nil {
				err = errors.Join(err, cerr)
			}
			err = util.NewContextualError("Failed to initialize the ethernet controller", fields, err)
		}
	}()

	if d.rxPool, err = dma.NewPool(p.Allocator, c.RxDepth, c.BufferSize); err != nil {
		return nil, fmt.Errorf("%w: rx buffers: %w", ErrNoMem, err)
	}
	if d.txPool, err = dma.NewPool(p.Allocator, c.TxDepth, c.BufferSize); err != nil {
		return nil, fmt.Errorf("%w: tx buffers: %w", ErrNoMem, err)
	}

	// Claim the interrupt source before touching the controller, a second
	// driver must not reset hardware the first one is using. The line stays
	// disabled until the link comes up.
	d.wake = newWakeSignal()
	if err = d.irqc.Attach(d.src, d.isr); err != nil {
		fields["irq"] = d.src
		if errors.Is(err, irq.ErrAttached) {
			return nil, fmt.Errorf("%w: %w", ErrAlreadyInitialized, err)
		}
		return nil, fmt.Errorf("%w: attach: %w", ErrIRQ, err)
	}
	d.attached = true

	if moder := d.bus.Read32(regs.Moder); moder != regs.ModerDefault {
		fields["moder"] = fmt.Sprintf("%#x", moder)
		return nil, fmt.Errorf("%w: MODER is %#x, expected the reset value %#x", ErrHardwareState, moder, regs.ModerDefault)
	}
	d.reset()

	// TX descriptors come first in BD RAM, RX descriptors follow them.
	if d.tx, err = ring.NewTxRing(d.bus, 0, d.txPool); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParam, err)
	}
	if d.rx, err = ring.NewRxRing(d.bus, c.TxDepth, d.rxPool); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParam, err)
	}

	done := make(chan struct{})
	if err = p.Spawn(c.RxTask, func() { d.rxTask(done) }); err != nil {
		fields["task"] = c.RxTask.Name
		return nil, fmt.Errorf("create receive task: %w", err)
	}
	d.taskDone = done

	addr, err := p.MAC.StationAddr()
	if err != nil {
		return nil, fmt.Errorf("fetch station address: %w", err)
	}
	if err = d.SetAddr(addr); err != nil {
		return nil, fmt.Errorf("program station address: %w", err)
	}

	d.l.WithFields(logrus.Fields{
		"mac":        net.HardwareAddr(d.addr[:]).String(),
		"rxDepth":    c.RxDepth,
		"txDepth":    c.TxDepth,
		"bufferSize": c.BufferSize,
	}).Info("Ethernet controller initialized")

	return d, nil
}

// reset pulses MODER.RST and tells the controller where the RX descriptors
// start.
func (d *Driver) reset() {
	d.bus.Write32(regs.Moder, d.bus.Read32(regs.Moder)|regs.ModerRst)
	d.bus.Write32(regs.Moder, d.bus.Read32(regs.Moder)&^regs.ModerRst)
	d.bus.Write32(regs.TxBDNum, uint32(d.cfg.TxDepth))
}

// SetRxCallback registers the upstream consumer. priv is passed back on
// every call. A nil cb drops received frames.
func (d *Driver) SetRxCallback(cb RxCallback, priv any) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if cb == nil {
		d.handler.Store(nil)
		return nil
	}
	d.handler.Store(&rxHandler{cb: cb, priv: priv})
	return nil
}

// Close detaches the interrupt handler, stops the receive task, disables the
// controller and releases the DMA buffers. Calling it again returns
// ErrClosed.
func (d *Driver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	// Wait out link changes that started before the driver was marked closed.
	d.mu.Lock()
	d.link = LinkDown
	d.mu.Unlock()

	if err := d.teardown(); err != nil {
		return err
	}
	d.l.Info("Ethernet controller closed")
	return nil
}

// teardown releases whatever New managed to set up, in reverse order.
func (d *Driver) teardown() error {
	var errs []error

	if d.attached {
		if err := d.irqc.Detach(d.src); err != nil {
			errs = append(errs, fmt.Errorf("detach interrupt: %w", err))
		}
		d.attached = false
	}

	if d.taskDone != nil {
		d.wake.stop()
		<-d.taskDone
		d.taskDone = nil
	}

	d.txLock.Lock()
	defer d.txLock.Unlock()

	if d.rx != nil {
		d.disable()
	}
	d.rx = nil
	d.tx = nil

	if d.rxPool != nil {
		if err := d.rxPool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release rx buffers: %w", err))
		}
		d.rxPool = nil
	}
	if d.txPool != nil {
		if err := d.txPool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release tx buffers: %w", err))
		}
		d.txPool = nil
	}

	return errors.Join(errs...)
}
