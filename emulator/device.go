// Package emulator is an in-process model of the OpenCores ethmac as QEMU
// presents it: a register file, the buffer descriptor RAM, descriptor-driven
// DMA through a [dma.Memory] and a single interrupt line. It implements
// [regs.Bus] so the driver can run against it unmodified.
package emulator

import (
	"bytes"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/openeth/dma"
	"github.com/slackhq/openeth/regs"
	"github.com/slackhq/openeth/ring"
)

const (
	numRegs = regs.TxCtrl/4 + 1

	resetPacketLen = 0x0040_0600 // MINFL 64, MAXFL 1536
	resetCollConf  = 0x000f_003f
	resetTxBDNum   = 0x40
	resetMIIModer  = 0x64
	resetIPGT      = 0x12
	resetIPGR1     = 0x0c
	resetIPGR2     = 0x12

	minflShift = 16
	maxflMask  = 0xffff
)

// Stats counts what happened on the wire side of the device.
type Stats struct {
	RxFrames  uint64
	RxBusy    uint64
	RxMissed  uint64
	RxFaults  uint64
	RxStopped uint64
	TxFrames  uint64
	TxFaults  uint64
}

// Config wires a Device to its surroundings.
type Config struct {
	// Memory resolves the bus addresses programmed into descriptors.
	Memory dma.Memory
	// Raise signals the interrupt line. It is called without any device lock
	// held and may call back into the device.
	Raise func()
	// Output receives every transmitted frame. The slice is only valid for
	// the duration of the call. A nil Output drops transmitted frames.
	Output func(frame []byte)
	// PHYAddr is the MDIO address the built-in PHY answers on.
	PHYAddr uint32
}

// Device is the emulated controller. All methods are safe for concurrent use.
type Device struct {
	l     *logrus.Logger
	mem   dma.Memory
	raise func()

	mu      sync.Mutex
	out     func(frame []byte)
	regs    [numRegs]uint32
	bd      [regs.BDCount * 2]uint32
	rxCur   int
	txCur   int
	phy     transceiver
	phyAddr uint32
	stats   Stats
}

func New(l *logrus.Logger, c Config) *Device {
	d := &Device{
		l:       l,
		mem:     c.Memory,
		raise:   c.Raise,
		out:     c.Output,
		phyAddr: c.PHYAddr,
	}
	if d.raise == nil {
		d.raise = func() {}
	}
	d.phy.reset()
	d.phy.setLink(true)
	d.reset()
	return d
}

// reset puts the register file back to its power-on values. BD RAM keeps its
// contents.
func (d *Device) reset() {
	d.regs = [numRegs]uint32{}
	d.regs[regs.Moder/4] = regs.ModerDefault
	d.regs[regs.IPGT/4] = resetIPGT
	d.regs[regs.IPGR1/4] = resetIPGR1
	d.regs[regs.IPGR2/4] = resetIPGR2
	d.regs[regs.PacketLen/4] = resetPacketLen
	d.regs[regs.CollConf/4] = resetCollConf
	d.regs[regs.TxBDNum/4] = resetTxBDNum
	d.regs[regs.MIIModer/4] = resetMIIModer
	d.rxCur = resetTxBDNum
	d.txCur = 0
}

// SetOutput replaces the transmit sink.
func (d *Device) SetOutput(out func(frame []byte)) {
	d.mu.Lock()
	d.out = out
	d.mu.Unlock()
}

// SetLinkUp changes the link state reported by the PHY.
func (d *Device) SetLinkUp(up bool) {
	d.mu.Lock()
	d.phy.setLink(up)
	d.mu.Unlock()
}

// Stats returns a snapshot of the wire side counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func isBD(offset uint32) bool {
	return offset >= regs.BDBase && offset < regs.BDBase+regs.BDCount*regs.BDSize
}

func (d *Device) Read32(offset uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case offset%4 != 0:
		d.l.WithField("offset", offset).Warn("Unaligned register read")
		return 0
	case isBD(offset):
		return d.bd[(offset-regs.BDBase)/4]
	case offset < numRegs*4:
		return d.regs[offset/4]
	default:
		d.l.WithField("offset", offset).Warn("Read of unknown register")
		return 0
	}
}

func (d *Device) Write32(offset uint32, value uint32) {
	d.mu.Lock()

	var tx [][]byte
	var irq bool
	switch {
	case offset%4 != 0:
		d.l.WithField("offset", offset).Warn("Unaligned register write")
	case isBD(offset):
		w := (offset - regs.BDBase) / 4
		d.bd[w] = value
		if w%2 == 0 && int(w/2) < d.txBDNum() {
			tx, irq = d.transmitLocked()
		}
	case offset < numRegs*4:
		tx, irq = d.writeRegLocked(offset, value)
	default:
		d.l.WithField("offset", offset).Warn("Write to unknown register")
	}

	out, loop := d.out, d.regs[regs.Moder/4]&regs.ModerLoopBck != 0
	d.mu.Unlock()

	if irq {
		d.raise()
	}
	for _, f := range tx {
		if loop {
			d.Receive(f)
		} else if out != nil {
			out(f)
		}
	}
}

func (d *Device) writeRegLocked(offset, value uint32) (tx [][]byte, irq bool) {
	r := &d.regs[offset/4]
	switch offset {
	case regs.Moder:
		set := value &^ *r
		if set&regs.ModerRst != 0 {
			d.reset()
		}
		*r = value
		if set&regs.ModerTxEn != 0 {
			return d.transmitLocked()
		}
	case regs.IntSource:
		*r &^= value
	case regs.IntMask:
		unmasked := value &^ *r
		*r = value
		irq = d.regs[regs.IntSource/4]&unmasked != 0
	case regs.TxBDNum:
		if value > regs.BDCount {
			d.l.WithField("value", value).Warn("Ignoring TX_BD_NUM beyond BD RAM")
			return nil, false
		}
		*r = value
		d.rxCur = int(value)
		d.txCur = 0
	case regs.MIICommand:
		d.miiCommandLocked(value)
	case regs.MIIRxData, regs.MIIStatus:
		// read only
	default:
		*r = value
	}
	return nil, irq
}

func (d *Device) miiCommandLocked(cmd uint32) {
	addr := d.regs[regs.MIIAddress/4]
	fiad := regs.Field(addr, regs.MIIAddressFIADMask, regs.MIIAddressFIADShift)
	rgad := regs.Field(addr, regs.MIIAddressRGADMask, regs.MIIAddressRGADShift)

	if cmd&regs.MIICommandWCtrlData != 0 && fiad == d.phyAddr {
		d.phy.write(rgad, uint16(d.regs[regs.MIITxData/4]&regs.MIIDataMask))
	}
	if cmd&regs.MIICommandRStat != 0 {
		v := uint16(0xffff)
		if fiad == d.phyAddr {
			v = d.phy.read(rgad)
		}
		d.regs[regs.MIIRxData/4] = uint32(v)
	}
	// Commands complete immediately.
	d.regs[regs.MIICommand/4] = 0
	if d.phy.linkUp() {
		d.regs[regs.MIIStatus/4] = 0
	} else {
		d.regs[regs.MIIStatus/4] = regs.MIIStatusLinkFail
	}
}

func (d *Device) txBDNum() int {
	return int(d.regs[regs.TxBDNum/4])
}

func (d *Device) status(i int) (length, flags uint16) {
	return ring.DecodeStatus(d.bd[i*2])
}

func (d *Device) setStatus(i int, length, flags uint16) {
	d.bd[i*2] = ring.EncodeStatus(length, flags)
}

// setIntLocked latches interrupt sources and reports whether the line should
// be raised.
func (d *Device) setIntLocked(bits uint32) bool {
	d.regs[regs.IntSource/4] |= bits
	return bits&d.regs[regs.IntMask/4] != 0
}

// transmitLocked sends every ready descriptor starting at the TX cursor.
// Frames are copied out so they can be delivered once the lock is released.
func (d *Device) transmitLocked() (frames [][]byte, irq bool) {
	if d.regs[regs.Moder/4]&regs.ModerTxEn == 0 {
		return nil, false
	}

	ntx := d.txBDNum()
	for d.txCur < ntx {
		length, flags := d.status(d.txCur)
		if flags&ring.TxRD == 0 {
			break
		}

		addr := d.bd[d.txCur*2+1]
		buf, err := d.mem.Slice(addr, int(length))
		if err != nil {
			d.l.WithError(err).WithFields(logrus.Fields{"desc": d.txCur, "addr": addr, "len": length}).
				Error("Transmit descriptor points outside DMA memory")
			d.stats.TxFaults++
			flags |= ring.TxUR
			irq = d.setIntLocked(regs.IntTXE) || irq
		} else {
			frames = append(frames, d.pad(buf, flags))
			d.stats.TxFrames++
			if flags&ring.TxIRQ != 0 {
				irq = d.setIntLocked(regs.IntTXB) || irq
			}
		}

		d.setStatus(d.txCur, length, flags&^(ring.TxRD|ring.TxStatus))
		if flags&ring.TxWR != 0 || d.txCur+1 >= ntx {
			d.txCur = 0
		} else {
			d.txCur++
		}

		// A ring whose every descriptor stays ready would spin forever.
		if len(frames) > ntx {
			break
		}
	}
	return frames, irq
}

// pad copies buf and extends it to the minimum frame length when the
// descriptor asks for it.
func (d *Device) pad(buf []byte, flags uint16) []byte {
	n := len(buf)
	minfl := int(d.regs[regs.PacketLen/4] >> minflShift)
	if flags&ring.TxPAD != 0 && n < minfl {
		n = minfl
	}
	maxfl := int(d.regs[regs.PacketLen/4] & maxflMask)
	if d.regs[regs.Moder/4]&regs.ModerHugEn == 0 && n > maxfl {
		n = maxfl
	}
	f := make([]byte, n)
	copy(f, buf)
	return f
}

// Receive puts frame on the wire side of the controller. It reports whether
// the frame was written into a receive descriptor. A frame arriving while the
// descriptor at the RX cursor is still owned by software is dropped and BUSY
// is raised.
func (d *Device) Receive(frame []byte) bool {
	d.mu.Lock()
	ok, irq := d.receiveLocked(frame)
	d.mu.Unlock()

	if irq {
		d.raise()
	}
	return ok
}

func (d *Device) receiveLocked(frame []byte) (ok bool, irq bool) {
	moder := d.regs[regs.Moder/4]
	ntx := d.txBDNum()
	if moder&regs.ModerRxEn == 0 || ntx >= regs.BDCount {
		d.stats.RxStopped++
		return false, false
	}
	if d.rxCur < ntx || d.rxCur >= regs.BDCount {
		d.rxCur = ntx
	}

	_, flags := d.status(d.rxCur)
	if flags&ring.RxE == 0 {
		d.stats.RxBusy++
		return false, d.setIntLocked(regs.IntBusy)
	}

	var miss uint16
	if !d.acceptLocked(frame) {
		if moder&regs.ModerPro == 0 {
			d.stats.RxMissed++
			return false, false
		}
		miss = ring.RxM
	}

	var errs uint16
	n := len(frame)
	maxfl := int(d.regs[regs.PacketLen/4] & maxflMask)
	if moder&regs.ModerHugEn == 0 && n > maxfl {
		n = maxfl
		errs |= ring.RxTL
	}

	addr := d.bd[d.rxCur*2+1]
	buf, err := d.mem.Slice(addr, n)
	if err != nil {
		d.l.WithError(err).WithFields(logrus.Fields{"desc": d.rxCur, "addr": addr, "len": n}).
			Error("Receive descriptor points outside DMA memory")
		d.stats.RxFaults++
		return false, d.setIntLocked(regs.IntRXE)
	}
	copy(buf, frame[:n])

	flags &^= ring.RxE | ring.RxErrors | ring.RxM
	flags |= errs | miss
	d.setStatus(d.rxCur, uint16(n), flags)
	d.stats.RxFrames++

	if flags&ring.RxWR != 0 || d.rxCur+1 >= regs.BDCount {
		d.rxCur = ntx
	} else {
		d.rxCur++
	}

	if flags&ring.RxIRQ != 0 {
		bit := regs.IntRXB
		if errs != 0 {
			bit = regs.IntRXE
		}
		irq = d.setIntLocked(bit)
	}
	return true, irq
}

var broadcast = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// acceptLocked applies the destination address filter.
func (d *Device) acceptLocked(frame []byte) bool {
	if len(frame) < 6 {
		return false
	}
	dst := frame[:6]
	switch {
	case bytes.Equal(dst, broadcast):
		return d.regs[regs.Moder/4]&regs.ModerBro == 0
	case dst[0]&0x01 != 0 || d.regs[regs.Moder/4]&regs.ModerIAM != 0:
		return d.hashMatchLocked(dst)
	default:
		return bytes.Equal(dst, d.stationAddrLocked())
	}
}

func (d *Device) stationAddrLocked() []byte {
	a0, a1 := d.regs[regs.MACAddr0/4], d.regs[regs.MACAddr1/4]
	return []byte{byte(a1 >> 8), byte(a1), byte(a0 >> 24), byte(a0 >> 16), byte(a0 >> 8), byte(a0)}
}

// hashMatchLocked checks an address against HASH0/HASH1: the top six bits of
// the CRC pick one of 64 filter bits.
func (d *Device) hashMatchLocked(dst []byte) bool {
	idx := crc32BE(dst) >> 26
	return d.regs[regs.Hash0/4+idx/32]&(1<<(idx%32)) != 0
}

// crc32BE is the Ethernet CRC computed most significant bit first, which is
// what the multicast hash is derived from.
func crc32BE(p []byte) uint32 {
	const poly = 0x04c11db6
	crc := uint32(0xffffffff)
	for _, b := range p {
		for range 8 {
			carry := crc>>31 ^ uint32(b&0x01)
			crc <<= 1
			b >>= 1
			if carry != 0 {
				crc = crc ^ poly | carry
			}
		}
	}
	return crc
}

// Assert latches interrupt source bits as if the hardware had raised them.
func (d *Device) Assert(bits uint32) {
	d.mu.Lock()
	irq := d.setIntLocked(bits & regs.IntAll)
	d.mu.Unlock()

	if irq {
		d.raise()
	}
}
