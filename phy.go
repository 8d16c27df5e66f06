package openeth

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/openeth/regs"
)

// WritePHY writes a PHY register over the MII management interface.
func (d *Driver) WritePHY(phyAddr, reg uint32, value uint16) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if d.l.Level >= logrus.DebugLevel {
		d.l.WithFields(logrus.Fields{"phy": phyAddr, "reg": reg, "value": fmt.Sprintf("%#04x", value)}).
			Debug("Writing PHY register")
	}

	d.selectPHY(phyAddr, reg)
	d.bus.Write32(regs.MIITxData, uint32(value)&regs.MIIDataMask)
	d.modifyReg(regs.MIICommand, regs.MIICommandWCtrlData, true)
	return nil
}

// ReadPHY reads a PHY register over the MII management interface into value.
func (d *Driver) ReadPHY(phyAddr, reg uint32, value *uint16) error {
	if value == nil {
		return fmt.Errorf("%w: nil destination", ErrInvalidParam)
	}
	if d.closed.Load() {
		return ErrClosed
	}

	d.selectPHY(phyAddr, reg)
	d.modifyReg(regs.MIICommand, regs.MIICommandRStat, true)
	*value = uint16(d.bus.Read32(regs.MIIRxData) & regs.MIIDataMask)

	if d.l.Level >= logrus.DebugLevel {
		d.l.WithFields(logrus.Fields{"phy": phyAddr, "reg": reg, "value": fmt.Sprintf("%#04x", *value)}).
			Debug("Read PHY register")
	}
	return nil
}

func (d *Driver) selectPHY(phyAddr, reg uint32) {
	v := d.bus.Read32(regs.MIIAddress)
	v = regs.SetField(v, regs.MIIAddressFIADMask, regs.MIIAddressFIADShift, phyAddr)
	d.bus.Write32(regs.MIIAddress, v)
	v = regs.SetField(d.bus.Read32(regs.MIIAddress), regs.MIIAddressRGADMask, regs.MIIAddressRGADShift, reg)
	d.bus.Write32(regs.MIIAddress, v)
}
