package macaddr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMacAddr(t *testing.T) {
	zero, _ := net.ParseMAC("00:00:00:00:00:00")
	uA1, _ := net.ParseMAC("02:00:00:00:00:a1")
	uA2, _ := net.ParseMAC("02:00:00:00:00:a2")
	mA1, _ := net.ParseMAC("03:00:00:00:00:a1")
	mac64, _ := net.ParseMAC("02:00:00:00:00:00:00:64")

	assert.True(t, Equal(uA1, uA1))
	assert.False(t, Equal(uA1, uA2))

	assert.True(t, IsValid(zero))
	assert.False(t, IsValid(mac64))

	assert.False(t, IsUnicast(zero))
	assert.True(t, IsUnicast(uA1))
	assert.False(t, IsUnicast(mA1))
}

func TestMakeRandom(t *testing.T) {
	a, err := MakeRandom()
	require.NoError(t, err)
	assert.True(t, IsUnicast(a))
	assert.Equal(t, byte(0x02), a[0]&0x03)
}

func TestParseUnicast(t *testing.T) {
	a, err := ParseUnicast("52:54:00:12:34:56")
	require.NoError(t, err)
	assert.Equal(t, net.HardwareAddr{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}, a)

	_, err = ParseUnicast("ff:ff:ff:ff:ff:ff")
	assert.Error(t, err)
	_, err = ParseUnicast("nope")
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	s := Static{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}
	a, err := s.StationAddr()
	require.NoError(t, err)
	a[0] = 0xff
	b, err := s.StationAddr()
	require.NoError(t, err)
	assert.Equal(t, byte(0x52), b[0], "returned address must be a copy")

	_, err = Static(nil).StationAddr()
	assert.ErrorIs(t, err, ErrNotProvisioned)
}

func TestRandom_Stable(t *testing.T) {
	var r Random
	a, err := r.StationAddr()
	require.NoError(t, err)
	b, err := r.StationAddr()
	require.NoError(t, err)
	assert.True(t, Equal(a, b))
	assert.True(t, IsUnicast(a))
}
