// Package capture decodes ethernet frames for debug logging.
package capture

import (
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"
)

type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "in"
	}
	return "out"
}

// Logger logs decoded frames at debug level while enabled.
type Logger struct {
	l       *logrus.Logger
	enabled atomic.Bool
}

func New(l *logrus.Logger, enabled bool) *Logger {
	c := &Logger{l: l}
	c.enabled.Store(enabled)
	return c
}

func (c *Logger) SetEnabled(v bool) {
	c.enabled.Store(v)
}

func (c *Logger) Enabled() bool {
	return c.enabled.Load() && c.l.Level >= logrus.DebugLevel
}

// Frame logs one frame. It does nothing unless capture is enabled and the
// logger is at debug level.
func (c *Logger) Frame(dir Direction, frame []byte) {
	if !c.Enabled() {
		return
	}
	f := Describe(frame)
	f["dir"] = dir.String()
	c.l.WithFields(f).Debug("Frame")
}

// Describe decodes frame and returns its interesting header fields. It never
// retains frame.
func Describe(frame []byte) logrus.Fields {
	f := logrus.Fields{"len": len(frame)}
	p := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	eth, ok := p.LinkLayer().(*layers.Ethernet)
	if !ok {
		f["malformed"] = true
		return f
	}
	f["src"] = eth.SrcMAC.String()
	f["dst"] = eth.DstMAC.String()
	f["ethertype"] = eth.EthernetType.String()

	switch n := p.NetworkLayer().(type) {
	case *layers.IPv4:
		f["ip.src"] = n.SrcIP.String()
		f["ip.dst"] = n.DstIP.String()
		f["ip.proto"] = n.Protocol.String()
	case *layers.IPv6:
		f["ip.src"] = n.SrcIP.String()
		f["ip.dst"] = n.DstIP.String()
		f["ip.proto"] = n.NextHeader.String()
	}

	if a, ok := p.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
		f["arp.op"] = a.Operation
		f["arp.target"] = ipString(a.DstProtAddress)
		f["arp.sender"] = ipString(a.SourceProtAddress)
	}

	switch t := p.TransportLayer().(type) {
	case *layers.UDP:
		f["sport"] = uint16(t.SrcPort)
		f["dport"] = uint16(t.DstPort)
	case *layers.TCP:
		f["sport"] = uint16(t.SrcPort)
		f["dport"] = uint16(t.DstPort)
	}

	if el := p.ErrorLayer(); el != nil {
		f["decode.error"] = el.Error().Error()
	}
	return f
}

func ipString(b []byte) string {
	if len(b) != 4 {
		return ""
	}
	return layers.NewIPEndpoint(b).String()
}
