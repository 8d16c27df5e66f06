// Package regs describes the register file of the OpenCores 10/100 Ethernet
// MAC (ethmac) and the bus used to reach it.
package regs

// Bus is a memory-mapped register window onto the controller. Offsets are
// relative to the controller base. Every access is a single, whole 32-bit
// transfer.
type Bus interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, value uint32)
}

// Register offsets.
const (
	Moder      = 0x00 // mode
	IntSource  = 0x04 // interrupt source, write 1 to clear
	IntMask    = 0x08 // interrupt mask
	IPGT       = 0x0c
	IPGR1      = 0x10
	IPGR2      = 0x14
	PacketLen  = 0x18
	CollConf   = 0x1c
	TxBDNum    = 0x20 // number of TX descriptors, RX descriptors follow
	CtrlModer  = 0x24
	MIIModer   = 0x28
	MIICommand = 0x2c
	MIIAddress = 0x30
	MIITxData  = 0x34
	MIIRxData  = 0x38
	MIIStatus  = 0x3c
	MACAddr0   = 0x40 // bytes 2..5 of the station address
	MACAddr1   = 0x44 // bytes 0..1 of the station address
	Hash0      = 0x48
	Hash1      = 0x4c
	TxCtrl     = 0x50
)

// MODER bits.
const (
	ModerRxEn     uint32 = 1 << 0
	ModerTxEn     uint32 = 1 << 1
	ModerNoPre    uint32 = 1 << 2
	ModerBro      uint32 = 1 << 3
	ModerIAM      uint32 = 1 << 4
	ModerPro      uint32 = 1 << 5
	ModerIFG      uint32 = 1 << 6
	ModerLoopBck  uint32 = 1 << 7
	ModerNoBckOf  uint32 = 1 << 8
	ModerExDfrEn  uint32 = 1 << 9
	ModerFullD    uint32 = 1 << 10
	ModerRst      uint32 = 1 << 11
	ModerDlyCRCEn uint32 = 1 << 12
	ModerCRCEn    uint32 = 1 << 13
	ModerHugEn    uint32 = 1 << 14
	ModerPad      uint32 = 1 << 15
	ModerRecSmall uint32 = 1 << 16

	// ModerDefault is the value MODER holds after reset.
	ModerDefault = ModerPad | ModerCRCEn
)

// INT_SOURCE and INT_MASK bits.
const (
	IntTXB  uint32 = 1 << 0 // frame transmitted
	IntTXE  uint32 = 1 << 1 // transmit error
	IntRXB  uint32 = 1 << 2 // frame received
	IntRXE  uint32 = 1 << 3 // receive error
	IntBusy uint32 = 1 << 4 // frame dropped, no empty RX descriptor
	IntTXC  uint32 = 1 << 5 // control frame transmitted
	IntRXC  uint32 = 1 << 6 // control frame received

	IntAll = IntTXB | IntTXE | IntRXB | IntRXE | IntBusy | IntTXC | IntRXC
)

// MIICOMMAND bits.
const (
	MIICommandScanStat  uint32 = 1 << 0
	MIICommandRStat     uint32 = 1 << 1
	MIICommandWCtrlData uint32 = 1 << 2
)

// MIIADDRESS fields.
const (
	MIIAddressFIADShift = 0
	MIIAddressFIADMask  = 0x1f
	MIIAddressRGADShift = 8
	MIIAddressRGADMask  = 0x1f

	// MIIDataMask masks MIITX_DATA and MIIRX_DATA.
	MIIDataMask = 0xffff
)

// MIISTATUS bits.
const (
	MIIStatusLinkFail uint32 = 1 << 0
	MIIStatusBusy     uint32 = 1 << 1
	MIIStatusNValid   uint32 = 1 << 2
)

// Buffer descriptor RAM.
const (
	// BDBase is the offset of the first buffer descriptor.
	BDBase = 0x400
	// BDSize is the number of bytes occupied by one descriptor.
	BDSize = 8
	// BDCount is the number of descriptors the BD RAM holds, TX and RX together.
	BDCount = 128
)

// BDOffset returns the register offset of descriptor i in BD RAM.
func BDOffset(i int) uint32 {
	return BDBase + uint32(i)*BDSize
}

// SetField replaces the bits of a field in a register value.
func SetField(reg, mask uint32, shift uint, v uint32) uint32 {
	return reg&^(mask<<shift) | (v&mask)<<shift
}

// Field extracts a field from a register value.
func Field(reg, mask uint32, shift uint) uint32 {
	return (reg >> shift) & mask
}
