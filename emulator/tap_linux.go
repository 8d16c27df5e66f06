//go:build linux

package emulator

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// TAP connects the wire side of a Device to a host TAP interface.
type TAP struct {
	l    *logrus.Logger
	name string
	file *os.File
}

// OpenTAP creates or attaches to the TAP interface name, sets its MTU and
// brings it up. An empty name lets the kernel pick one.
func OpenTAP(l *logrus.Logger, name string, mtu int) (*TAP, error) {
	fd, err := unix.Open("/dev/net/tun", os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/net/tun: %w", err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tap name %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err = unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("create tap device: %w", err)
	}
	name = ifr.Name()

	if err = unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	t := &TAP{l: l, name: name, file: os.NewFile(uintptr(fd), "/dev/net/tun")}

	link, err := netlink.LinkByName(name)
	if err != nil {
		t.file.Close()
		return nil, fmt.Errorf("failed to get tap device link: %w", err)
	}
	if mtu > 0 {
		if err = netlink.LinkSetMTU(link, mtu); err != nil {
			l.WithError(err).WithField("mtu", mtu).Warn("Failed to set tap device MTU")
		}
	}
	if err = netlink.LinkSetUp(link); err != nil {
		t.file.Close()
		return nil, fmt.Errorf("failed to bring the tap device up: %w", err)
	}

	l.WithField("dev", name).Info("TAP device attached")
	return t, nil
}

// Name returns the interface name.
func (t *TAP) Name() string {
	return t.name
}

// Write sends one frame to the host. It has the signature Config.Output
// expects.
func (t *TAP) Write(frame []byte) {
	if _, err := t.file.Write(frame); err != nil {
		t.l.WithError(err).WithField("dev", t.name).Debug("Failed to write frame to tap device")
	}
}

// Run feeds frames read from the host into dev until the TAP is closed.
func (t *TAP) Run(dev *Device) error {
	buf := make([]byte, 0xffff)
	for {
		n, err := t.file.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read tap device: %w", err)
		}
		dev.Receive(buf[:n])
	}
}

func (t *TAP) Close() error {
	return t.file.Close()
}
