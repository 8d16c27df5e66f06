// Package service assembles a running system from configuration: the virtual
// board, an optional host TAP backend, the IP stack and the stats exporters.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/openeth"
	"github.com/slackhq/openeth/board"
	"github.com/slackhq/openeth/capture"
	"github.com/slackhq/openeth/config"
	"github.com/slackhq/openeth/emulator"
	"github.com/slackhq/openeth/netif"
	"github.com/slackhq/openeth/phy"
	"github.com/slackhq/openeth/sshd"
	"github.com/slackhq/openeth/util"
	"go.yaml.in/yaml/v3"
	"golang.org/x/sync/errgroup"
)

type m = logrus.Fields

// Control owns everything Main built.
type Control struct {
	l        *logrus.Logger
	board    *board.Board
	netif    *netif.Netif
	tap      *emulator.TAP
	capture  *capture.Logger
	phyAddr  uint32
	echoPort uint16

	statsStart func(context.Context)
	ssh        *sshd.SSHServer
	sshListen  string
	dns        *dnsRecords
	dnsPort    uint16

	ctx      context.Context
	cancel   context.CancelFunc
	eg       *errgroup.Group
	stopOnce sync.Once
}

// Main validates the config and builds the system without starting it. With
// configTest set it returns after validation with a nil Control.
func Main(c *config.C, configTest bool, buildVersion string, l *logrus.Logger) (*Control, error) {
	// Print the config if in test, the exit comes later
	if configTest {
		b, err := yaml.Marshal(c.Settings)
		if err != nil {
			return nil, err
		}

		// Print the final config
		l.Println(string(b))
	}

	err := configLogger(l, c)
	if err != nil {
		return nil, util.NewContextualError("Failed to configure the logger", nil, err)
	}

	cl := capture.New(l, c.GetBool("capture.enabled", false))
	c.RegisterReloadCallback(func(c *config.C) {
		if err := configLogger(l, c); err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
		cl.SetEnabled(c.GetBool("capture.enabled", false))
	})

	reg := metrics.DefaultRegistry
	dc, err := driverConfigFromConfig(c, reg)
	if err != nil {
		return nil, util.NewContextualError("Failed to load the driver config", nil, err)
	}
	src, err := irqFromConfig(c, board.DefaultIRQ)
	if err != nil {
		return nil, util.NewContextualError("Failed to load the driver config", nil, err)
	}
	mac, err := stationAddrFromConfig(c)
	if err != nil {
		return nil, util.NewContextualError("Failed to load the driver config", nil, err)
	}
	nc, netifEnabled, err := netifConfigFromConfig(c, cl)
	if err != nil {
		return nil, util.NewContextualError("Failed to load the netif config", nil, err)
	}

	backend := c.GetString("emulator.backend", "none")
	switch backend {
	case "none", "tap":
	default:
		return nil, util.NewContextualError("Failed to load the emulator config", m{"backend": backend},
			errors.New("emulator.backend must be one of none, tap"))
	}

	statsStart, err := startStats(l, c, reg, buildVersion)
	if err != nil {
		return nil, util.NewContextualError("Failed to start stats emitter", nil, err)
	}

	var records *dnsRecords
	if netifEnabled && c.GetBool("netif.dns.enabled", false) {
		records = newDnsRecords(l, nc.Address)
		if err := records.load(c); err != nil {
			return nil, util.NewContextualError("Failed to load the DNS config", nil, err)
		}
		c.RegisterReloadCallback(func(c *config.C) {
			if err := records.load(c); err != nil {
				l.WithError(err).Error("Failed to reload the DNS records")
			}
		})
	}

	var ssh *sshd.SSHServer
	var sshListen string
	if c.GetBool("sshd.enabled", false) {
		ssh, err = sshd.NewSSHServer(l.WithField("subsystem", "sshd"))
		if err != nil {
			return nil, util.NewContextualError("Error while creating SSH server", nil, err)
		}
		sshListen, err = configSSH(l, ssh, c)
		if err != nil {
			return nil, util.NewContextualError("Error while configuring the sshd", nil, err)
		}
		c.RegisterReloadCallback(func(c *config.C) {
			if _, err := configSSH(l, ssh, c); err != nil {
				l.WithError(err).Error("Failed to reconfigure the sshd")
			}
		})
	}

	if configTest {
		return nil, nil
	}

	ctrl := &Control{
		l:          l,
		capture:    cl,
		phyAddr:    c.GetUint32("emulator.phy_addr", 1),
		echoPort:   uint16(c.GetUint32("netif.echo_port", 0)),
		statsStart: statsStart,
		ssh:        ssh,
		sshListen:  sshListen,
		dns:        records,
		dnsPort:    uint16(c.GetUint32("netif.dns.port", 53)),
	}

	if backend == "tap" {
		name := c.GetString("emulator.tap.name", "openeth0")
		ctrl.tap, err = emulator.OpenTAP(l, name, c.GetInt("emulator.tap.mtu", netif.DefaultMTU))
		if err != nil {
			return nil, util.NewContextualError("Failed to open the tap device", m{"dev": name}, err)
		}
	}

	bc := board.Config{Driver: dc, MAC: mac, IRQ: src, PHYAddr: ctrl.phyAddr}
	if ctrl.tap != nil {
		bc.Output = ctrl.tap.Write
	}
	ctrl.board, err = board.New(l, bc)
	if err != nil {
		ctrl.closeTAP()
		return nil, util.ContextualizeIfNeeded("Failed to build the board", err)
	}

	if netifEnabled {
		ctrl.netif, err = netif.New(l, ctrl.board.Driver, nc)
		if err != nil {
			_ = ctrl.board.Close()
			ctrl.closeTAP()
			return nil, util.NewContextualError("Failed to configure the network interface", nil, err)
		}
	}

	if records != nil {
		records.SetSelf(c.GetString("netif.dns.name", "openeth.local"), nc.Address.Addr(), ctrl.board.Driver.HardwareAddr())
	}

	if ssh != nil {
		attachCommands(l, c, ssh, ctrl, reg)
	}

	return ctrl, nil
}

// Start brings the link up and starts every worker. It does not block.
func (c *Control) Start() error {
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.eg, c.ctx = errgroup.WithContext(c.ctx)

	c.board.Device.SetLinkUp(true)
	if err := c.board.Driver.SetLink(openeth.LinkUp); err != nil {
		c.Stop()
		return err
	}
	c.logPHY()

	if c.tap != nil {
		c.eg.Go(func() error { return c.tap.Run(c.board.Device) })
	}

	if c.netif != nil {
		c.eg.Go(func() error { return c.netif.Run(c.ctx) })
		if c.echoPort != 0 {
			conn, err := c.netif.ListenUDP(c.echoPort)
			if err != nil {
				c.Stop()
				return fmt.Errorf("listen on echo port %d: %w", c.echoPort, err)
			}
			c.eg.Go(func() error { return serveEcho(c.ctx, c.l, conn) })
		}
		if c.dns != nil {
			conn, err := c.netif.ListenUDP(c.dnsPort)
			if err != nil {
				c.Stop()
				return fmt.Errorf("listen on dns port %d: %w", c.dnsPort, err)
			}
			c.eg.Go(func() error { return serveDNS(c.ctx, c.l, conn, c.dns) })
		}
	} else {
		err := c.board.Driver.SetRxCallback(func(_ any, f *openeth.Frame) {
			c.capture.Frame(capture.Inbound, f.Bytes())
			f.Release()
		}, nil)
		if err != nil {
			c.Stop()
			return err
		}
	}

	if c.statsStart != nil {
		go c.statsStart(c.ctx)
	}

	if c.ssh != nil {
		go func() {
			if err := c.ssh.Run(c.sshListen); err != nil {
				c.l.WithError(err).Error("SSH server failed")
			}
		}()
	}

	c.l.WithField("mac", c.board.Driver.HardwareAddr()).Info("Ethernet controller started")
	return nil
}

func (c *Control) logPHY() {
	dev, err := phy.NewDevice(c.board.Driver, c.phyAddr)
	if err != nil {
		c.l.WithError(err).Warn("Invalid PHY address")
		return
	}
	id, err := dev.ID()
	if err != nil {
		c.l.WithError(err).Warn("Failed to read the PHY identifier")
		return
	}
	st, err := dev.Status()
	if err != nil {
		c.l.WithError(err).Warn("Failed to read the PHY status")
		return
	}
	c.l.WithFields(m{"phy": c.phyAddr, "id": fmt.Sprintf("%#08x", id), "status": st}).Info("PHY status")
}

func (c *Control) closeTAP() {
	if c.tap == nil {
		return
	}
	if err := c.tap.Close(); err != nil {
		c.l.WithError(err).Error("Close tap device failed")
	}
}

// Stop takes the link down, stops every worker and releases the board.
func (c *Control) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.ssh != nil {
			c.ssh.Stop()
		}
		if err := c.board.Driver.SetLink(openeth.LinkDown); err != nil && !errors.Is(err, openeth.ErrClosed) {
			c.l.WithError(err).Error("Failed to take the link down")
		}
		c.closeTAP()
		if c.eg != nil {
			if err := c.eg.Wait(); err != nil {
				c.l.WithError(err).Error("Worker failed")
			}
		}
		if c.netif != nil {
			if err := c.netif.Close(); err != nil {
				c.l.WithError(err).Error("Close network interface failed")
			}
		}
		if err := c.board.Close(); err != nil {
			c.l.WithError(err).Error("Close board failed")
		}
		c.l.Info("Goodbye")
	})
}

// ShutdownBlock will listen for and block on term and interrupt signals, calling Control.Stop() once signalled
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)

	select {
	case rawSig := <-sigChan:
		sig := rawSig.String()
		c.l.WithField("signal", sig).Info("Caught signal, shutting down")
	case <-c.ctx.Done():
		c.l.Info("A worker stopped, shutting down")
	}

	c.Stop()
}

// Driver returns the running driver.
func (c *Control) Driver() *openeth.Driver {
	return c.board.Driver
}

// Device returns the emulated controller.
func (c *Control) Device() *emulator.Device {
	return c.board.Device
}

// Netif returns the IP interface, or nil when it is disabled.
func (c *Control) Netif() *netif.Netif {
	return c.netif
}

// Capture returns the frame logger.
func (c *Control) Capture() *capture.Logger {
	return c.capture
}

// Context is done once Stop is called or a worker fails.
func (c *Control) Context() context.Context {
	return c.ctx
}
