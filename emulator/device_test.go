package emulator

import (
	"bytes"
	"testing"

	"github.com/slackhq/openeth/dma"
	"github.com/slackhq/openeth/phy"
	"github.com/slackhq/openeth/regs"
	"github.com/slackhq/openeth/ring"
	"github.com/slackhq/openeth/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	stationMAC = []byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}
	otherMAC   = []byte{0x52, 0x54, 0x00, 0xaa, 0xbb, 0xcc}
)

type rig struct {
	t      *testing.T
	arena  *dma.Arena
	dev    *Device
	raised int
	sent   [][]byte
}

func newRig(t *testing.T) *rig {
	a, err := dma.NewArena(dma.DefaultBase, 2048, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	r := &rig{t: t, arena: a}
	r.dev = New(test.NewLogger(), Config{
		Memory: a,
		Raise:  func() { r.raised++ },
		Output: func(f []byte) { r.sent = append(r.sent, bytes.Clone(f)) },
	})
	return r
}

func (r *rig) bind(i int, flags uint16) dma.Buffer {
	b, err := r.arena.Alloc(1536)
	require.NoError(r.t, err)
	r.dev.Write32(regs.BDOffset(i)+4, b.Addr)
	r.dev.Write32(regs.BDOffset(i), ring.EncodeStatus(0, flags))
	return b
}

func (r *rig) status(i int) (uint16, uint16) {
	return ring.DecodeStatus(r.dev.Read32(regs.BDOffset(i)))
}

func (r *rig) set(off, bits uint32) {
	r.dev.Write32(off, r.dev.Read32(off)|bits)
}

// startRx sets up a two descriptor RX ring after one TX descriptor.
func (r *rig) startRx() (dma.Buffer, dma.Buffer) {
	r.dev.Write32(regs.TxBDNum, 1)
	b0 := r.bind(1, ring.RxE|ring.RxIRQ)
	b1 := r.bind(2, ring.RxE|ring.RxIRQ|ring.RxWR)
	r.dev.Write32(regs.MACAddr0, 0x00123456)
	r.dev.Write32(regs.MACAddr1, 0x5254)
	r.dev.Write32(regs.IntMask, regs.IntRXB|regs.IntBusy|regs.IntRXE)
	r.set(regs.Moder, regs.ModerRxEn)
	return b0, b1
}

func frameTo(dst []byte, n int) []byte {
	f := make([]byte, n)
	copy(f, dst)
	copy(f[6:], otherMAC)
	for i := 12; i < n; i++ {
		f[i] = byte(i)
	}
	return f
}

func TestDevice_ResetValues(t *testing.T) {
	r := newRig(t)
	assert.Equal(t, regs.ModerDefault, r.dev.Read32(regs.Moder))
	assert.Equal(t, uint32(0x40), r.dev.Read32(regs.TxBDNum))
	assert.Equal(t, uint32(resetPacketLen), r.dev.Read32(regs.PacketLen))

	r.dev.Write32(regs.IntMask, regs.IntAll)
	r.set(regs.Moder, regs.ModerRst)
	assert.Equal(t, regs.ModerDefault|regs.ModerRst, r.dev.Read32(regs.Moder))
	assert.Zero(t, r.dev.Read32(regs.IntMask))
}

func TestDevice_ReceiveDisabled(t *testing.T) {
	r := newRig(t)
	assert.False(t, r.dev.Receive(frameTo(stationMAC, 64)))
	assert.Equal(t, uint64(1), r.dev.Stats().RxStopped)
	assert.Zero(t, r.raised)
}

func TestDevice_Receive(t *testing.T) {
	r := newRig(t)
	b0, b1 := r.startRx()

	f := frameTo(stationMAC, 100)
	require.True(t, r.dev.Receive(f))
	length, flags := r.status(1)
	assert.Equal(t, uint16(100), length)
	assert.Equal(t, ring.RxIRQ, flags)
	assert.Equal(t, f, b0.Data[:100])
	assert.Equal(t, regs.IntRXB, r.dev.Read32(regs.IntSource))
	assert.Equal(t, 1, r.raised)

	g := frameTo(broadcast, 60)
	require.True(t, r.dev.Receive(g))
	length, flags = r.status(2)
	assert.Equal(t, uint16(60), length)
	assert.Equal(t, ring.RxIRQ|ring.RxWR, flags)
	assert.Equal(t, g, b1.Data[:60])

	// Both descriptors are owned by software now.
	assert.False(t, r.dev.Receive(f))
	assert.Equal(t, regs.IntRXB|regs.IntBusy, r.dev.Read32(regs.IntSource))
	assert.Equal(t, uint64(1), r.dev.Stats().RxBusy)

	// Write one to clear.
	r.dev.Write32(regs.IntSource, regs.IntRXB|regs.IntBusy)
	assert.Zero(t, r.dev.Read32(regs.IntSource))

	// The cursor wrapped back to the first RX descriptor.
	r.dev.Write32(regs.BDOffset(1), ring.EncodeStatus(0, ring.RxE|ring.RxIRQ))
	require.True(t, r.dev.Receive(f))
	length, _ = r.status(1)
	assert.Equal(t, uint16(100), length)
}

func TestDevice_AddressFilter(t *testing.T) {
	r := newRig(t)
	r.startRx()

	assert.False(t, r.dev.Receive(frameTo(otherMAC, 64)))
	assert.Equal(t, uint64(1), r.dev.Stats().RxMissed)
	assert.False(t, r.dev.Receive([]byte{1, 2, 3}))

	r.set(regs.Moder, regs.ModerPro)
	require.True(t, r.dev.Receive(frameTo(otherMAC, 64)))
	_, flags := r.status(1)
	assert.NotZero(t, flags&ring.RxM)

	// Broadcast is rejected with BRO set.
	r.set(regs.Moder, regs.ModerBro)
	r.dev.Write32(regs.Moder, r.dev.Read32(regs.Moder)&^regs.ModerPro)
	assert.False(t, r.dev.Receive(frameTo(broadcast, 64)))
}

func TestDevice_MulticastHash(t *testing.T) {
	r := newRig(t)
	r.startRx()

	mcast := []byte{0x33, 0x33, 0x00, 0x00, 0x00, 0x01}
	assert.False(t, r.dev.Receive(frameTo(mcast, 64)))

	idx := crc32BE(mcast) >> 26
	off := uint32(regs.Hash0)
	if idx >= 32 {
		off = regs.Hash1
	}
	r.dev.Write32(off, 1<<(idx%32))
	assert.True(t, r.dev.Receive(frameTo(mcast, 64)))
}

func TestDevice_ReceiveTooLong(t *testing.T) {
	r := newRig(t)
	r.startRx()

	require.True(t, r.dev.Receive(frameTo(stationMAC, 2000)))
	length, flags := r.status(1)
	assert.Equal(t, uint16(1536), length)
	assert.Equal(t, ring.RxTL, flags&ring.RxErrors)
	assert.Equal(t, regs.IntRXE, r.dev.Read32(regs.IntSource))
}

func TestDevice_Transmit(t *testing.T) {
	r := newRig(t)
	r.dev.Write32(regs.TxBDNum, 2)
	b0 := r.bind(0, 0)
	b1 := r.bind(1, ring.TxWR)

	copy(b0.Data, "first")
	r.dev.Write32(regs.BDOffset(0), ring.EncodeStatus(5, ring.TxRD))
	assert.Empty(t, r.sent, "nothing goes out before TXEN")

	r.set(regs.Moder, regs.ModerTxEn)
	require.Len(t, r.sent, 1)
	assert.Equal(t, []byte("first"), r.sent[0])
	_, flags := r.status(0)
	assert.Zero(t, flags&ring.TxRD)

	copy(b1.Data, "second")
	r.dev.Write32(regs.BDOffset(1), ring.EncodeStatus(6, ring.TxRD|ring.TxWR|ring.TxIRQ|ring.TxPAD))
	require.Len(t, r.sent, 2)
	assert.Len(t, r.sent[1], 64, "PAD extends to the minimum frame length")
	assert.Equal(t, []byte("second"), r.sent[1][:6])
	assert.Equal(t, regs.IntTXB, r.dev.Read32(regs.IntSource))
	assert.Zero(t, r.raised, "TXB is masked")

	// WR wrapped the cursor back to descriptor 0.
	r.dev.Write32(regs.BDOffset(0), ring.EncodeStatus(5, ring.TxRD))
	assert.Len(t, r.sent, 3)
	assert.Equal(t, uint64(3), r.dev.Stats().TxFrames)
}

func TestDevice_Loopback(t *testing.T) {
	r := newRig(t)
	rx, _ := r.startRx()
	tx := r.bind(0, ring.TxWR)
	r.set(regs.Moder, regs.ModerTxEn|regs.ModerLoopBck)

	f := frameTo(stationMAC, 80)
	copy(tx.Data, f)
	r.dev.Write32(regs.BDOffset(0), ring.EncodeStatus(80, ring.TxRD|ring.TxWR))

	assert.Empty(t, r.sent)
	assert.Equal(t, f, rx.Data[:80])
	assert.Equal(t, 1, r.raised)
}

func TestDevice_UnmaskRaises(t *testing.T) {
	r := newRig(t)
	r.startRx()
	r.dev.Write32(regs.IntMask, 0)

	require.True(t, r.dev.Receive(frameTo(stationMAC, 64)))
	assert.Zero(t, r.raised)

	r.dev.Write32(regs.IntMask, regs.IntRXB)
	assert.Equal(t, 1, r.raised)
}

func TestDevice_MII(t *testing.T) {
	r := newRig(t)
	read := func(fiad, rgad uint32) uint16 {
		r.dev.Write32(regs.MIIAddress, fiad|rgad<<regs.MIIAddressRGADShift)
		r.dev.Write32(regs.MIICommand, regs.MIICommandRStat)
		return uint16(r.dev.Read32(regs.MIIRxData))
	}

	assert.Equal(t, uint16(phyID1), read(0, phy.AddrPHYID1))
	assert.Equal(t, uint16(0xffff), read(5, phy.AddrPHYID1))
	assert.Zero(t, r.dev.Read32(regs.MIICommand))

	// Link status latches low until read.
	read(0, phy.AddrBMSR)
	assert.NotZero(t, read(0, phy.AddrBMSR)&uint16(phy.BMSRLinkStatus))
	r.dev.SetLinkUp(false)
	assert.Zero(t, read(0, phy.AddrBMSR)&uint16(phy.BMSRLinkStatus))
	assert.Equal(t, regs.MIIStatusLinkFail, r.dev.Read32(regs.MIIStatus))

	r.dev.Write32(regs.MIIAddress, phy.AddrBMCR<<regs.MIIAddressRGADShift)
	r.dev.Write32(regs.MIITxData, uint32(phy.BMCRLoopback))
	r.dev.Write32(regs.MIICommand, regs.MIICommandWCtrlData)
	assert.Equal(t, uint16(phy.BMCRLoopback), read(0, phy.AddrBMCR))
}
