package openeth

import (
	"fmt"
	"net"

	"github.com/slackhq/openeth/macaddr"
	"github.com/slackhq/openeth/regs"
)

// SetAddr programs the station address. addr must hold exactly 6 bytes.
func (d *Driver) SetAddr(addr []byte) error {
	if len(addr) != macaddr.Len {
		return fmt.Errorf("%w: station address must be %d bytes, got %d", ErrInvalidParam, macaddr.Len, len(addr))
	}
	if d.closed.Load() {
		return ErrClosed
	}
	d.l.WithField("mac", net.HardwareAddr(addr).String()).Debug("Setting station address")

	d.mu.Lock()
	defer d.mu.Unlock()
	mac0, mac1 := addrRegs(addr)
	d.bus.Write32(regs.MACAddr0, mac0)
	d.bus.Write32(regs.MACAddr1, mac1)
	copy(d.addr[:], addr)
	return nil
}

// Addr copies the station address into dst, which must have room for 6
// bytes.
func (d *Driver) Addr(dst []byte) error {
	if len(dst) < macaddr.Len {
		return fmt.Errorf("%w: destination holds %d bytes, need %d", ErrInvalidParam, len(dst), macaddr.Len)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(dst, d.addr[:])
	return nil
}

// HardwareAddr returns a copy of the station address.
func (d *Driver) HardwareAddr() net.HardwareAddr {
	a := make(net.HardwareAddr, macaddr.Len)
	_ = d.Addr(a)
	return a
}

// addrRegs splits a station address across MAC_ADDR0 (bytes 2..5, byte 5 in
// the low bits) and MAC_ADDR1 (bytes 0..1).
func addrRegs(a []byte) (mac0, mac1 uint32) {
	mac0 = uint32(a[2])<<24 | uint32(a[3])<<16 | uint32(a[4])<<8 | uint32(a[5])
	mac1 = uint32(a[0])<<8 | uint32(a[1])
	return mac0, mac1
}
