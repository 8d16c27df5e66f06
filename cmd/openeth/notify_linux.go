package main

import (
	"net"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// sdNotify writes newline separated state assignments to the systemd
// notification socket. See sd_notify(3).
func sdNotify(l *logrus.Logger, state ...string) {
	sockName := os.Getenv("NOTIFY_SOCKET")
	if sockName == "" {
		l.Debug("NOTIFY_SOCKET not set, skipping systemd notification")
		return
	}

	conn, err := net.DialTimeout("unixgram", sockName, time.Second)
	if err != nil {
		l.WithError(err).Error("Failed to connect to the systemd notification socket")
		return
	}
	defer conn.Close()

	if err = conn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		l.WithError(err).Error("Failed to set a write deadline on the systemd notification socket")
		return
	}

	msg := strings.Join(state, "\n")
	if _, err = conn.Write([]byte(msg)); err != nil {
		l.WithError(err).WithField("state", msg).Error("Failed to notify systemd")
		return
	}

	l.WithField("state", msg).Debug("Notified systemd")
}

// notifyReady marks the unit started once the link is up.
func notifyReady(l *logrus.Logger, mac net.HardwareAddr) {
	sdNotify(l, "READY=1", "STATUS=link up, station address "+mac.String())
}

func notifyStopping(l *logrus.Logger) {
	sdNotify(l, "STOPPING=1")
}
