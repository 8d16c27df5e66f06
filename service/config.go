package service

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/rcrowley/go-metrics"
	"github.com/slackhq/openeth"
	"github.com/slackhq/openeth/capture"
	"github.com/slackhq/openeth/config"
	"github.com/slackhq/openeth/irq"
	"github.com/slackhq/openeth/macaddr"
	"github.com/slackhq/openeth/netif"
)

func driverConfigFromConfig(c *config.C, reg metrics.Registry) (openeth.Config, error) {
	d := openeth.DefaultConfig()
	dc := openeth.Config{
		RxDepth:      c.GetInt("driver.rx_depth", d.RxDepth),
		TxDepth:      c.GetInt("driver.tx_depth", d.TxDepth),
		BufferSize:   c.GetInt("driver.buffer_size", d.BufferSize),
		MaxFrameSize: c.GetInt("driver.max_frame_size", d.MaxFrameSize),
		RxTask: openeth.TaskConfig{
			Name:      c.GetString("driver.rx_task.name", d.RxTask.Name),
			StackSize: c.GetInt("driver.rx_task.stack_size", d.RxTask.StackSize),
			Priority:  c.GetInt("driver.rx_task.priority", d.RxTask.Priority),
		},
		Metrics: reg,
	}
	if err := dc.Validate(); err != nil {
		return dc, fmt.Errorf("driver config is invalid: %w", err)
	}
	return dc, nil
}

func irqFromConfig(c *config.C, d irq.Source) (irq.Source, error) {
	src := irq.Source(c.GetInt("driver.irq", int(d)))
	// Line 0 is left unused so a zero board config picks the default line.
	if src < 1 || src >= irq.MaxSources {
		return 0, fmt.Errorf("driver.irq %d is outside 1..%d", src, irq.MaxSources-1)
	}
	return src, nil
}

// stationAddrFromConfig returns the configured MAC, or a random locally
// administered one when driver.mac is not set.
func stationAddrFromConfig(c *config.C) (macaddr.Store, error) {
	raw := c.GetString("driver.mac", "")
	if raw == "" {
		return &macaddr.Random{}, nil
	}
	mac, err := macaddr.ParseUnicast(raw)
	if err != nil {
		return nil, fmt.Errorf("driver.mac: %w", err)
	}
	return macaddr.Static(mac), nil
}

// netifConfigFromConfig returns ok false when the IP stack is disabled.
func netifConfigFromConfig(c *config.C, cl *capture.Logger) (nc netif.Config, ok bool, err error) {
	if !c.GetBool("netif.enabled", true) {
		return nc, false, nil
	}

	nc = netif.Config{
		Address:  c.GetPrefix("netif.address", netip.Prefix{}),
		Gateway:  c.GetAddr("netif.gateway", netip.Addr{}),
		MTU:      c.GetUint32("netif.mtu", netif.DefaultMTU),
		QueueLen: c.GetInt("netif.queue_len", netif.DefaultQueueLen),
		Capture:  cl,
	}
	if !nc.Address.IsValid() {
		return nc, false, fmt.Errorf("netif.address is not a valid address or prefix: %q", c.GetString("netif.address", ""))
	}
	if raw := c.GetString("netif.gateway", ""); raw != "" && !nc.Gateway.IsValid() {
		return nc, false, fmt.Errorf("netif.gateway is not a valid address: %q", raw)
	}

	for _, entry := range c.GetStringSlice("netif.neighbors", nil) {
		ip, mac, err := parseNeighbor(entry)
		if err != nil {
			return nc, false, err
		}
		if nc.Neighbors == nil {
			nc.Neighbors = make(map[netip.Addr]net.HardwareAddr)
		}
		nc.Neighbors[ip] = mac
	}
	return nc, true, nil
}

// parseNeighbor parses "ip=mac".
func parseNeighbor(s string) (netip.Addr, net.HardwareAddr, error) {
	ipStr, macStr, ok := strings.Cut(s, "=")
	if !ok {
		return netip.Addr{}, nil, fmt.Errorf("netif.neighbors entry %q is not ip=mac", s)
	}
	ip, err := netip.ParseAddr(strings.TrimSpace(ipStr))
	if err != nil {
		return netip.Addr{}, nil, fmt.Errorf("netif.neighbors entry %q: %w", s, err)
	}
	mac, err := macaddr.ParseUnicast(strings.TrimSpace(macStr))
	if err != nil {
		return netip.Addr{}, nil, fmt.Errorf("netif.neighbors entry %q: %w", s, err)
	}
	return ip, mac, nil
}
