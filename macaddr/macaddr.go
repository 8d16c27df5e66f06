// Package macaddr provides MAC-48 helpers and the provisioning stores the
// driver fetches its station address from.
package macaddr

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Len is the length of a MAC-48 address.
const Len = 6

var ErrNotProvisioned = errors.New("no station address provisioned")

// Equal determines whether two addresses are the same.
func Equal(a, b net.HardwareAddr) bool {
	return bytes.Equal(a, b)
}

// IsValid determines whether a is a MAC-48 address.
func IsValid(a net.HardwareAddr) bool {
	return len(a) == Len
}

// IsUnicast determines whether a is a non-zero unicast MAC-48 address.
func IsUnicast(a net.HardwareAddr) bool {
	return IsValid(a) && a[0]&0x01 == 0 && (a[0]|a[1]|a[2]|a[3]|a[4]|a[5]) != 0
}

// MakeRandom generates a locally administered unicast address.
func MakeRandom() (net.HardwareAddr, error) {
	a := make(net.HardwareAddr, Len)
	if _, err := rand.Read(a); err != nil {
		return nil, err
	}
	a[0] = a[0]&^0x01 | 0x02
	return a, nil
}

// ParseUnicast parses s and requires a unicast MAC-48 address.
func ParseUnicast(s string) (net.HardwareAddr, error) {
	a, err := net.ParseMAC(s)
	if err != nil {
		return nil, err
	}
	if !IsUnicast(a) {
		return nil, fmt.Errorf("%s is not a unicast MAC-48 address", a)
	}
	return a, nil
}

// Store provisions the station address of a network interface.
type Store interface {
	StationAddr() (net.HardwareAddr, error)
}

// Static is a Store holding a fixed address.
type Static net.HardwareAddr

func (s Static) StationAddr() (net.HardwareAddr, error) {
	if !IsValid(net.HardwareAddr(s)) {
		return nil, ErrNotProvisioned
	}
	return bytes.Clone(s), nil
}

// Random is a Store that generates a locally administered address on first
// use and returns the same one afterwards.
type Random struct {
	once sync.Once
	addr net.HardwareAddr
	err  error
}

func (r *Random) StationAddr() (net.HardwareAddr, error) {
	r.once.Do(func() {
		r.addr, r.err = MakeRandom()
	})
	if r.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotProvisioned, r.err)
	}
	return bytes.Clone(r.addr), nil
}
