// Package phy reads and configures an IEEE 802.3 Clause 22 PHY through the
// controller's MII management interface.
package phy

import (
	"errors"
	"fmt"
	"time"
)

// Clause 22 register addresses.
const (
	AddrBMCR   = 0x00
	AddrBMSR   = 0x01
	AddrPHYID1 = 0x02
	AddrPHYID2 = 0x03
	AddrANAR   = 0x04
	AddrANLPAR = 0x05
)

// MaxAddr is the highest PHY address on an MDIO bus.
const MaxAddr = 31

// BMCR is the Basic Mode Control Register.
type BMCR uint16

const (
	BMCRFullDuplex BMCR = 1 << 8
	BMCRRestartAN  BMCR = 1 << 9
	BMCRIsolate    BMCR = 1 << 10
	BMCRPowerDown  BMCR = 1 << 11
	BMCRANEnable   BMCR = 1 << 12
	BMCRSpeed100   BMCR = 1 << 13
	BMCRLoopback   BMCR = 1 << 14
	BMCRReset      BMCR = 1 << 15
)

// BMSR is the Basic Mode Status Register.
type BMSR uint16

const (
	BMSRExtCap        BMSR = 1 << 0
	BMSRJabber        BMSR = 1 << 1
	BMSRLinkStatus    BMSR = 1 << 2
	BMSRANAbility     BMSR = 1 << 3
	BMSRRemoteFault   BMSR = 1 << 4
	BMSRANComplete    BMSR = 1 << 5
	BMSR10HalfDuplex  BMSR = 1 << 11
	BMSR10FullDuplex  BMSR = 1 << 12
	BMSR100HalfDuplex BMSR = 1 << 13
	BMSR100FullDuplex BMSR = 1 << 14
)

// LinkUp reports whether the link status bit is set. The bit latches low, so
// a single read after a link drop returns false.
func (s BMSR) LinkUp() bool { return s&BMSRLinkStatus != 0 }

// MDIO is the management interface of a MAC. The openeth driver implements it.
type MDIO interface {
	ReadPHY(phyAddr, reg uint32, value *uint16) error
	WritePHY(phyAddr, reg uint32, value uint16) error
}

var ErrResetTimeout = errors.New("phy reset did not complete")

// Device is one PHY on an MDIO bus.
type Device struct {
	mdio MDIO
	addr uint32
}

func NewDevice(mdio MDIO, addr uint32) (*Device, error) {
	if mdio == nil {
		return nil, errors.New("nil mdio bus")
	}
	if addr > MaxAddr {
		return nil, fmt.Errorf("phy address %d is outside 0..%d", addr, MaxAddr)
	}
	return &Device{mdio: mdio, addr: addr}, nil
}

// Addr returns the PHY address on the bus.
func (d *Device) Addr() uint32 {
	return d.addr
}

func (d *Device) read(reg uint32) (uint16, error) {
	var v uint16
	if err := d.mdio.ReadPHY(d.addr, reg, &v); err != nil {
		return 0, fmt.Errorf("read phy %d register %#x: %w", d.addr, reg, err)
	}
	return v, nil
}

func (d *Device) write(reg uint32, v uint16) error {
	if err := d.mdio.WritePHY(d.addr, reg, v); err != nil {
		return fmt.Errorf("write phy %d register %#x: %w", d.addr, reg, err)
	}
	return nil
}

func (d *Device) BasicControl() (BMCR, error) {
	v, err := d.read(AddrBMCR)
	return BMCR(v), err
}

func (d *Device) BasicStatus() (BMSR, error) {
	v, err := d.read(AddrBMSR)
	return BMSR(v), err
}

// ID returns the 32-bit PHY identifier, PHYID1 in the upper half.
func (d *Device) ID() (uint32, error) {
	id1, err := d.read(AddrPHYID1)
	if err != nil {
		return 0, err
	}
	id2, err := d.read(AddrPHYID2)
	if err != nil {
		return 0, err
	}
	return uint32(id1)<<16 | uint32(id2), nil
}

// Reset sets BMCR.RESET and polls until the PHY clears it, for at most
// timeout.
func (d *Device) Reset(timeout time.Duration) error {
	if err := d.write(AddrBMCR, uint16(BMCRReset)); err != nil {
		return err
	}
	const polls = 50
	for range polls {
		ctl, err := d.BasicControl()
		if err != nil {
			return err
		}
		if ctl&BMCRReset == 0 {
			return nil
		}
		time.Sleep(timeout / polls)
	}
	return ErrResetTimeout
}

// SetAutoNegotiation enables or disables auto-negotiation, restarting it when
// enabled.
func (d *Device) SetAutoNegotiation(enable bool) error {
	ctl, err := d.BasicControl()
	if err != nil {
		return err
	}
	if enable {
		ctl |= BMCRANEnable | BMCRRestartAN
	} else {
		ctl &^= BMCRANEnable | BMCRRestartAN
	}
	return d.write(AddrBMCR, uint16(ctl))
}

// Status is the decoded link state.
type Status struct {
	Up         bool
	SpeedMbps  int
	FullDuplex bool
}

func (s Status) String() string {
	if !s.Up {
		return "down"
	}
	duplex := "half"
	if s.FullDuplex {
		duplex = "full"
	}
	return fmt.Sprintf("up %dMbps %s-duplex", s.SpeedMbps, duplex)
}

// Status reads the link state. Speed and duplex come from BMCR.
func (d *Device) Status() (Status, error) {
	// First read clears a latched link failure.
	if _, err := d.BasicStatus(); err != nil {
		return Status{}, err
	}
	bmsr, err := d.BasicStatus()
	if err != nil {
		return Status{}, err
	}
	ctl, err := d.BasicControl()
	if err != nil {
		return Status{}, err
	}

	s := Status{Up: bmsr.LinkUp(), SpeedMbps: 10, FullDuplex: ctl&BMCRFullDuplex != 0}
	if ctl&BMCRSpeed100 != 0 {
		s.SpeedMbps = 100
	}
	return s, nil
}
