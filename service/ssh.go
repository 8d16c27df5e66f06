package service

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/openeth"
	"github.com/slackhq/openeth/config"
	"github.com/slackhq/openeth/phy"
	"github.com/slackhq/openeth/sshd"
)

type sshPHYFlags struct {
	Addr uint
}

// configSSH loads keys into ssh and returns the listen address.
func configSSH(l *logrus.Logger, ssh *sshd.SSHServer, c *config.C) (string, error) {
	listen := c.GetString("sshd.listen", "")
	if listen == "" {
		return "", fmt.Errorf("sshd.listen must be provided")
	}

	port := strings.Split(listen, ":")
	if len(port) < 2 {
		return "", fmt.Errorf("sshd.listen does not have a port")
	} else if port[1] == "22" {
		return "", fmt.Errorf("sshd.listen can not use port 22")
	}

	hostKeyFile := c.GetString("sshd.host_key", "")
	if hostKeyFile == "" {
		return "", fmt.Errorf("sshd.host_key must be provided")
	}

	hostKeyBytes, err := os.ReadFile(hostKeyFile)
	if err != nil {
		return "", fmt.Errorf("error while loading sshd.host_key file: %s", err)
	}

	err = ssh.SetHostKey(hostKeyBytes)
	if err != nil {
		return "", fmt.Errorf("error while adding sshd.host_key: %s", err)
	}

	ssh.ClearTrustedCAs()
	for _, ca := range c.GetStringSlice("sshd.trusted_cas", nil) {
		if err := ssh.AddTrustedCA(ca); err != nil {
			l.WithError(err).WithField("sshCA", ca).Warn("SSH CA had an error, ignoring")
		}
	}

	ssh.ClearAuthorizedKeys()
	keys, ok := c.Get("sshd.authorized_users").([]any)
	if !ok {
		l.Info("no ssh users to authorize")
		return listen, nil
	}

	for _, rk := range keys {
		kDef, ok := rk.(map[string]any)
		if !ok {
			l.WithField("sshKeyConfig", rk).Warn("Authorized user had an error, ignoring")
			continue
		}

		user, ok := kDef["user"].(string)
		if !ok {
			l.WithField("sshKeyConfig", rk).Warn("Authorized user is missing the user field")
			continue
		}

		switch v := kDef["keys"].(type) {
		case string:
			if err := ssh.AddAuthorizedKey(user, v); err != nil {
				l.WithError(err).WithField("sshKeyConfig", rk).WithField("sshKey", v).Warn("Failed to authorize key")
			}

		case []any:
			for _, subK := range v {
				sk, ok := subK.(string)
				if !ok {
					l.WithField("sshKeyConfig", rk).WithField("sshKey", subK).Warn("Did not understand ssh key")
					continue
				}

				if err := ssh.AddAuthorizedKey(user, sk); err != nil {
					l.WithError(err).WithField("sshKeyConfig", sk).Warn("Failed to authorize key")
				}
			}

		default:
			l.WithField("sshKeyConfig", rk).Warn("Authorized user is missing the keys field or was not understood")
		}
	}

	return listen, nil
}

func attachCommands(l *logrus.Logger, c *config.C, ssh *sshd.SSHServer, ctrl *Control, reg metrics.Registry) {
	ssh.RegisterCommand(&sshd.Command{
		Name:             "link",
		ShortDescription: "Gets or sets the administrative link state",
		Help:             "link [up|down]",
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			return sshLink(ctrl.Driver(), a, w)
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "mac",
		ShortDescription: "Prints the station address",
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			return w.WriteLine(ctrl.Driver().HardwareAddr().String())
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "promisc",
		ShortDescription: "Enables or disables promiscuous reception",
		Help:             "promisc on|off",
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			on, ok := parseOnOff(a)
			if !ok {
				return w.WriteLine("promisc takes on or off")
			}
			if err := ctrl.Driver().SetPromiscuous(on); err != nil {
				return w.WriteLine(err.Error())
			}
			return w.WriteLine(fmt.Sprintf("Promiscuous mode is: %v", on))
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "capture",
		ShortDescription: "Enables or disables frame logging at debug level",
		Help:             "capture on|off",
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			on, ok := parseOnOff(a)
			if !ok {
				return w.WriteLine("capture takes on or off")
			}
			ctrl.Capture().SetEnabled(on)
			return w.WriteLine(fmt.Sprintf("Capture is: %v", on))
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "stats",
		ShortDescription: "Prints driver and wire counters",
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			return sshStats(ctrl, reg, w)
		},
	})

	phyFlags := func() (*flag.FlagSet, any) {
		fl := flag.NewFlagSet("", flag.ContinueOnError)
		s := sshPHYFlags{}
		fl.UintVar(&s.Addr, "addr", uint(ctrl.phyAddr), "PHY address on the MDIO bus")
		return fl, &s
	}

	ssh.RegisterCommand(&sshd.Command{
		Name:             "phy-status",
		ShortDescription: "Prints the PHY identifier and link status",
		Flags:            phyFlags,
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			return sshPHYStatus(ctrl.Driver(), fs.(*sshPHYFlags), w)
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "phy-read",
		ShortDescription: "Reads a PHY register",
		Help:             "phy-read [-addr N] <reg>",
		Flags:            phyFlags,
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			return sshPHYRead(ctrl.Driver(), fs.(*sshPHYFlags), a, w)
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "phy-write",
		ShortDescription: "Writes a PHY register",
		Help:             "phy-write [-addr N] <reg> <value>",
		Flags:            phyFlags,
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			return sshPHYWrite(ctrl.Driver(), fs.(*sshPHYFlags), a, w)
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "reload",
		ShortDescription: "Reloads configuration from disk, same as sending HUP to the process",
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			go c.ReloadConfig()
			return w.WriteLine("Config reload started")
		},
	})

	ssh.RegisterCommand(&sshd.Command{
		Name:             "log-level",
		ShortDescription: "Gets or sets the current log level",
		Callback: func(fs any, a []string, w sshd.StringWriter) error {
			return sshLogLevel(l, a, w)
		},
	})
}

func parseOnOff(a []string) (bool, bool) {
	if len(a) != 1 {
		return false, false
	}
	switch strings.ToLower(a[0]) {
	case "on", "true", "1":
		return true, true
	case "off", "false", "0":
		return false, true
	}
	return false, false
}

func sshLink(d *openeth.Driver, a []string, w sshd.StringWriter) error {
	if len(a) == 0 {
		return w.WriteLine(fmt.Sprintf("Link is: %s", d.Link()))
	}

	var link openeth.Link
	switch strings.ToLower(a[0]) {
	case "up":
		link = openeth.LinkUp
	case "down":
		link = openeth.LinkDown
	default:
		return w.WriteLine(fmt.Sprintf("Unknown link state %s. Possible states: up, down", a[0]))
	}

	if err := d.SetLink(link); err != nil {
		return w.WriteLine(err.Error())
	}
	return w.WriteLine(fmt.Sprintf("Link is: %s", d.Link()))
}

func sshStats(ctrl *Control, reg metrics.Registry, w sshd.StringWriter) error {
	var lines []string
	reg.Each(func(name string, i any) {
		if !strings.HasPrefix(name, "openeth.") {
			return
		}
		if c, ok := i.(metrics.Counter); ok {
			lines = append(lines, fmt.Sprintf("%s: %d", name, c.Count()))
		}
	})
	sort.Strings(lines)

	s := ctrl.Device().Stats()
	lines = append(lines,
		fmt.Sprintf("wire.rx.frames: %d", s.RxFrames),
		fmt.Sprintf("wire.rx.busy: %d", s.RxBusy),
		fmt.Sprintf("wire.rx.missed: %d", s.RxMissed),
		fmt.Sprintf("wire.rx.faults: %d", s.RxFaults),
		fmt.Sprintf("wire.rx.stopped: %d", s.RxStopped),
		fmt.Sprintf("wire.tx.frames: %d", s.TxFrames),
		fmt.Sprintf("wire.tx.faults: %d", s.TxFaults),
	)
	return w.Write(strings.Join(lines, "\n") + "\n")
}

func sshPHYStatus(d *openeth.Driver, fl *sshPHYFlags, w sshd.StringWriter) error {
	dev, err := phy.NewDevice(d, uint32(fl.Addr))
	if err != nil {
		return w.WriteLine(err.Error())
	}
	id, err := dev.ID()
	if err != nil {
		return w.WriteLine(err.Error())
	}
	st, err := dev.Status()
	if err != nil {
		return w.WriteLine(err.Error())
	}
	return w.WriteLine(fmt.Sprintf("PHY %d id %#08x: %s", fl.Addr, id, st))
}

func parseReg(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, err
	}
	if v > phy.MaxAddr {
		return 0, fmt.Errorf("register %d is outside 0..%d", v, phy.MaxAddr)
	}
	return uint32(v), nil
}

func sshPHYRead(d *openeth.Driver, fl *sshPHYFlags, a []string, w sshd.StringWriter) error {
	if len(a) != 1 {
		return w.WriteLine("phy-read takes one register")
	}
	reg, err := parseReg(a[0])
	if err != nil {
		return w.WriteLine(err.Error())
	}

	var v uint16
	if err := d.ReadPHY(uint32(fl.Addr), reg, &v); err != nil {
		return w.WriteLine(err.Error())
	}
	return w.WriteLine(fmt.Sprintf("%#04x", v))
}

func sshPHYWrite(d *openeth.Driver, fl *sshPHYFlags, a []string, w sshd.StringWriter) error {
	if len(a) != 2 {
		return w.WriteLine("phy-write takes a register and a value")
	}
	reg, err := parseReg(a[0])
	if err != nil {
		return w.WriteLine(err.Error())
	}
	v, err := strconv.ParseUint(a[1], 0, 16)
	if err != nil {
		return w.WriteLine(err.Error())
	}

	if err := d.WritePHY(uint32(fl.Addr), reg, uint16(v)); err != nil {
		return w.WriteLine(err.Error())
	}
	return w.WriteLine("ok")
}

func sshLogLevel(l *logrus.Logger, a []string, w sshd.StringWriter) error {
	if len(a) == 0 {
		return w.WriteLine(fmt.Sprintf("Log level is: %s", l.Level))
	}

	level, err := logrus.ParseLevel(a[0])
	if err != nil {
		return w.WriteLine(fmt.Sprintf("Unknown log level %s. Possible log levels: %s", a, logrus.AllLevels))
	}

	l.SetLevel(level)
	return w.WriteLine(fmt.Sprintf("Log level is: %s", l.Level))
}
