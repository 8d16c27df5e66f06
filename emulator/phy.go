package emulator

import (
	"github.com/slackhq/openeth/phy"
)

// Identifier of the modelled transceiver, a DP83848.
const (
	phyID1 = 0x2000
	phyID2 = 0x5c90
)

const (
	defaultBMCR = phy.BMCRSpeed100 | phy.BMCRFullDuplex | phy.BMCRANEnable
	baseBMSR    = phy.BMSR100FullDuplex | phy.BMSR100HalfDuplex | phy.BMSR10FullDuplex |
		phy.BMSR10HalfDuplex | phy.BMSRANAbility | phy.BMSRExtCap
	defaultANAR = 0x01e1
)

// transceiver is a minimal Clause 22 register model. Reset completes instantly.
type transceiver struct {
	bmcr phy.BMCR
	anar uint16
	up   bool
	// latched low until read, like BMSR.LinkStatus
	latchedUp bool
}

func (p *transceiver) reset() {
	p.bmcr = defaultBMCR
	p.anar = defaultANAR
	p.latchedUp = p.up
}

func (p *transceiver) setLink(up bool) {
	p.up = up
	if !up {
		p.latchedUp = false
	}
}

func (p *transceiver) linkUp() bool {
	return p.up
}

func (p *transceiver) read(reg uint32) uint16 {
	switch reg {
	case phy.AddrBMCR:
		return uint16(p.bmcr)
	case phy.AddrBMSR:
		s := baseBMSR
		if p.latchedUp {
			s |= phy.BMSRLinkStatus
		}
		if p.up && p.bmcr&phy.BMCRANEnable != 0 {
			s |= phy.BMSRANComplete
		}
		p.latchedUp = p.up
		return uint16(s)
	case phy.AddrPHYID1:
		return phyID1
	case phy.AddrPHYID2:
		return phyID2
	case phy.AddrANAR:
		return p.anar
	case phy.AddrANLPAR:
		if p.up {
			return defaultANAR
		}
		return 0
	default:
		return 0
	}
}

func (p *transceiver) write(reg uint32, v uint16) {
	switch reg {
	case phy.AddrBMCR:
		if phy.BMCR(v)&phy.BMCRReset != 0 {
			p.reset()
			return
		}
		p.bmcr = phy.BMCR(v) &^ phy.BMCRRestartAN
	case phy.AddrANAR:
		p.anar = v
	}
}
