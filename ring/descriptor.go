package ring

// Status word layout shared by RX and TX descriptors: the frame length in the
// upper half, flags in the lower half. The second word holds the buffer
// address.
const (
	lenShift = 16
	addrWord = 4
)

// RX descriptor flags.
const (
	RxLC  uint16 = 1 << 0 // late collision
	RxCRC uint16 = 1 << 1 // CRC error
	RxSF  uint16 = 1 << 2 // short frame
	RxTL  uint16 = 1 << 3 // too long
	RxDN  uint16 = 1 << 4 // dribble nibble
	RxIS  uint16 = 1 << 5 // invalid symbol
	RxOR  uint16 = 1 << 6 // overrun
	RxM   uint16 = 1 << 7 // miss (promiscuous)
	RxWR  uint16 = 1 << 13
	RxIRQ uint16 = 1 << 14
	RxE   uint16 = 1 << 15 // empty, owned by hardware

	RxErrors = RxLC | RxCRC | RxSF | RxTL | RxDN | RxIS | RxOR
)

// TX descriptor flags.
const (
	TxCS   uint16 = 1 << 0 // carrier sense lost
	TxDF   uint16 = 1 << 1 // defer indication
	TxLC   uint16 = 1 << 2 // late collision
	TxRL   uint16 = 1 << 3 // retransmission limit
	TxUR   uint16 = 1 << 8 // underrun
	TxCRC  uint16 = 1 << 11
	TxPAD  uint16 = 1 << 12
	TxWR   uint16 = 1 << 13
	TxIRQ  uint16 = 1 << 14
	TxRD   uint16 = 1 << 15 // ready, owned by hardware
	txRtry uint16 = 0xf << 4

	TxStatus = TxCS | TxDF | TxLC | TxRL | txRtry | TxUR
)

// RxDescriptor is the decoded form of a receive descriptor.
type RxDescriptor struct {
	Len   uint16
	Flags uint16
	Addr  uint32
}

// Empty reports whether hardware owns the descriptor.
func (d RxDescriptor) Empty() bool { return d.Flags&RxE != 0 }

// Wrap reports whether this is the last descriptor of its ring.
func (d RxDescriptor) Wrap() bool { return d.Flags&RxWR != 0 }

// Errors returns the receive error bits reported by hardware.
func (d RxDescriptor) Errors() uint16 { return d.Flags & RxErrors }

// TxDescriptor is the decoded form of a transmit descriptor.
type TxDescriptor struct {
	Len   uint16
	Flags uint16
	Addr  uint32
}

// Ready reports whether hardware owns the descriptor.
func (d TxDescriptor) Ready() bool { return d.Flags&TxRD != 0 }

// Wrap reports whether this is the last descriptor of its ring.
func (d TxDescriptor) Wrap() bool { return d.Flags&TxWR != 0 }

// EncodeStatus packs a length and flags into a descriptor status word.
func EncodeStatus(length, flags uint16) uint32 {
	return uint32(length)<<lenShift | uint32(flags)
}

// DecodeStatus splits a descriptor status word.
func DecodeStatus(v uint32) (length, flags uint16) {
	return uint16(v >> lenShift), uint16(v)
}
