// Package netif binds a driver to a userspace IP stack, making it the
// upstream consumer of received frames and the only transmit caller.
package netif

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/openeth"
	"github.com/slackhq/openeth/capture"
	"gvisor.dev/gvisor/pkg/buffer"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/link/channel"
	"gvisor.dev/gvisor/pkg/tcpip/link/ethernet"
	"gvisor.dev/gvisor/pkg/tcpip/network/arp"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv6"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/icmp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/udp"
)

const nicID = 1

const (
	DefaultMTU      = 1500
	DefaultQueueLen = 256
)

// Driver is the part of *openeth.Driver the stack needs.
type Driver interface {
	SetRxCallback(cb openeth.RxCallback, priv any) error
	Transmit(frame []byte) error
	HardwareAddr() net.HardwareAddr
}

type Config struct {
	// Address is the interface address and the on-link prefix.
	Address netip.Prefix
	// Gateway is optional. When set it becomes the default route.
	Gateway  netip.Addr
	MTU      uint32
	QueueLen int
	// Neighbors are permanent link address resolutions.
	Neighbors map[netip.Addr]net.HardwareAddr
	// Capture, when set, logs every frame crossing the interface.
	Capture *capture.Logger
}

// Netif is an IP interface on top of a driver.
type Netif struct {
	l       *logrus.Logger
	drv     Driver
	ep      *channel.Endpoint
	ipstack *stack.Stack
	proto   tcpip.NetworkProtocolNumber
	capture *capture.Logger
}

func New(l *logrus.Logger, drv Driver, c Config) (*Netif, error) {
	if !c.Address.IsValid() {
		return nil, errors.New("netif address is not set")
	}
	if c.MTU == 0 {
		c.MTU = DefaultMTU
	}
	if c.QueueLen <= 0 {
		c.QueueLen = DefaultQueueLen
	}

	n := &Netif{
		l:       l,
		drv:     drv,
		ep:      channel.New(c.QueueLen, c.MTU, tcpip.LinkAddress(drv.HardwareAddr())),
		capture: c.Capture,
		proto:   ipv4.ProtocolNumber,
	}
	if c.Address.Addr().Is6() {
		n.proto = ipv6.ProtocolNumber
	}

	n.ipstack = stack.New(stack.Options{
		NetworkProtocols:   []stack.NetworkProtocolFactory{ipv4.NewProtocol, ipv6.NewProtocol, arp.NewProtocol},
		TransportProtocols: []stack.TransportProtocolFactory{tcp.NewProtocol, udp.NewProtocol, icmp.NewProtocol4, icmp.NewProtocol6},
	})
	sackEnabledOpt := tcpip.TCPSACKEnabled(true) // TCP SACK is disabled by default
	if tcpipErr := n.ipstack.SetTransportProtocolOption(tcp.ProtocolNumber, &sackEnabledOpt); tcpipErr != nil {
		n.ipstack.Close()
		return nil, fmt.Errorf("could not enable TCP SACK: %v", tcpipErr)
	}
	if tcpipErr := n.ipstack.CreateNIC(nicID, ethernet.New(n.ep)); tcpipErr != nil {
		n.ipstack.Close()
		return nil, fmt.Errorf("could not create netstack NIC: %v", tcpipErr)
	}

	pa := tcpip.ProtocolAddress{
		Protocol: n.proto,
		AddressWithPrefix: tcpip.AddressWithPrefix{
			Address:   tcpip.AddrFromSlice(c.Address.Addr().AsSlice()),
			PrefixLen: c.Address.Bits(),
		},
	}
	if tcpipErr := n.ipstack.AddProtocolAddress(nicID, pa, stack.AddressProperties{}); tcpipErr != nil {
		n.ipstack.Close()
		return nil, fmt.Errorf("error creating IP: %v", tcpipErr)
	}

	routes := []tcpip.Route{{Destination: pa.AddressWithPrefix.Subnet(), NIC: nicID}}
	if c.Gateway.IsValid() {
		def := header.IPv4EmptySubnet
		if c.Gateway.Is6() {
			def = header.IPv6EmptySubnet
		}
		routes = append(routes, tcpip.Route{
			Destination: def,
			Gateway:     tcpip.AddrFromSlice(c.Gateway.AsSlice()),
			NIC:         nicID,
		})
	}
	n.ipstack.SetRouteTable(routes)

	for ip, mac := range c.Neighbors {
		proto := ipv4.ProtocolNumber
		if ip.Is6() {
			proto = ipv6.ProtocolNumber
		}
		if tcpipErr := n.ipstack.AddStaticNeighbor(nicID, proto, tcpip.AddrFromSlice(ip.AsSlice()), tcpip.LinkAddress(mac)); tcpipErr != nil {
			n.ipstack.Close()
			return nil, fmt.Errorf("could not add neighbor %s: %v", ip, tcpipErr)
		}
	}

	if err := drv.SetRxCallback(n.deliver, nil); err != nil {
		n.ipstack.Close()
		return nil, fmt.Errorf("register receive callback: %w", err)
	}

	l.WithFields(logrus.Fields{"address": c.Address, "gateway": c.Gateway, "mtu": c.MTU}).
		Info("Network interface configured")
	return n, nil
}

// deliver runs on the driver's receive task.
func (n *Netif) deliver(_ any, f *openeth.Frame) {
	defer f.Release()
	if n.capture != nil {
		n.capture.Frame(capture.Inbound, f.Bytes())
	}

	pkt := stack.NewPacketBuffer(stack.PacketBufferOptions{
		Payload: buffer.MakeWithData(f.Bytes()),
	})
	// The ethernet endpoint reads the protocol from the frame header.
	n.ep.InjectInbound(0, pkt)
	pkt.DecRef()
}

// Run moves frames written by the stack to the driver until ctx is done.
// It is the only caller of Transmit, which keeps transmissions serialized.
func (n *Netif) Run(ctx context.Context) error {
	for {
		pkt := n.ep.ReadContext(ctx)
		if pkt == nil {
			if err := ctx.Err(); err != nil {
				return nil
			}
			continue
		}

		view := pkt.ToView()
		frame := view.AsSlice()
		if n.capture != nil {
			n.capture.Frame(capture.Outbound, frame)
		}
		if err := n.drv.Transmit(frame); err != nil {
			if errors.Is(err, openeth.ErrClosed) {
				view.Release()
				pkt.DecRef()
				return err
			}
			n.l.WithError(err).WithField("len", len(frame)).Warn("Failed to transmit frame")
		}
		view.Release()
		pkt.DecRef()
	}
}

// Stack exposes the underlying IP stack.
func (n *Netif) Stack() *stack.Stack {
	return n.ipstack
}

func (n *Netif) fullAddr(ap netip.AddrPort) *tcpip.FullAddress {
	return &tcpip.FullAddress{NIC: nicID, Addr: tcpip.AddrFromSlice(ap.Addr().AsSlice()), Port: ap.Port()}
}

// ListenUDP binds a UDP socket to port on the interface address.
func (n *Netif) ListenUDP(port uint16) (*gonet.UDPConn, error) {
	return gonet.DialUDP(n.ipstack, &tcpip.FullAddress{NIC: nicID, Port: port}, nil, n.proto)
}

// DialUDP returns a UDP socket connected to raddr.
func (n *Netif) DialUDP(raddr netip.AddrPort) (*gonet.UDPConn, error) {
	return gonet.DialUDP(n.ipstack, nil, n.fullAddr(raddr), n.proto)
}

// DialTCP opens a TCP connection to raddr.
func (n *Netif) DialTCP(ctx context.Context, raddr netip.AddrPort) (*gonet.TCPConn, error) {
	return gonet.DialContextTCP(ctx, n.ipstack, *n.fullAddr(raddr), n.proto)
}

// ListenTCP accepts TCP connections on port.
func (n *Netif) ListenTCP(port uint16) (*gonet.TCPListener, error) {
	return gonet.ListenTCP(n.ipstack, tcpip.FullAddress{NIC: nicID, Port: port}, n.proto)
}

// Close detaches the stack from the driver and releases it.
func (n *Netif) Close() error {
	err := n.drv.SetRxCallback(nil, nil)
	n.ep.Close()
	n.ipstack.Close()
	if errors.Is(err, openeth.ErrClosed) {
		return nil
	}
	return err
}
