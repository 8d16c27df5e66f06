// Package board assembles a complete virtual board: DMA memory, an interrupt
// controller, the emulated ethmac and a driver bound to all three.
package board

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/openeth"
	"github.com/slackhq/openeth/dma"
	"github.com/slackhq/openeth/emulator"
	"github.com/slackhq/openeth/irq"
	"github.com/slackhq/openeth/macaddr"
)

// DefaultIRQ is the interrupt line the ethmac is wired to.
const DefaultIRQ irq.Source = 9

type Config struct {
	Driver  openeth.Config
	MAC     macaddr.Store
	IRQ     irq.Source
	PHYAddr uint32
	// Output receives frames leaving the emulated wire. It may be replaced
	// later with Device.SetOutput.
	Output func(frame []byte)
}

type Board struct {
	Arena  *dma.Arena
	IRQ    *irq.Soft
	Device *emulator.Device
	Driver *openeth.Driver
}

// New builds the board and initializes the driver on it.
func New(l *logrus.Logger, c Config) (*Board, error) {
	if c.MAC == nil {
		c.MAC = &macaddr.Random{}
	}
	if c.IRQ == 0 {
		c.IRQ = DefaultIRQ
	}

	bufSize := c.Driver.BufferSize
	if bufSize == 0 {
		bufSize = openeth.DefaultBufferSize
	}
	a, err := dma.NewArena(dma.DefaultBase, bufSize, c.Driver.RxDepth+c.Driver.TxDepth)
	if err != nil {
		return nil, fmt.Errorf("create dma arena: %w", err)
	}

	b := &Board{Arena: a, IRQ: irq.NewSoft(l)}
	b.Device = emulator.New(l, emulator.Config{
		Memory:  a,
		Raise:   func() { b.IRQ.Raise(c.IRQ) },
		Output:  c.Output,
		PHYAddr: c.PHYAddr,
	})

	b.Driver, err = openeth.New(l, openeth.Platform{
		Bus:       b.Device,
		IRQ:       b.IRQ,
		Source:    c.IRQ,
		Allocator: a,
		MAC:       c.MAC,
	}, c.Driver)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return b, nil
}

// Close shuts the driver down before unmapping the memory it used.
func (b *Board) Close() error {
	err := b.Driver.Close()
	if errors.Is(err, openeth.ErrClosed) {
		err = nil
	}
	return errors.Join(err, b.Arena.Close())
}
