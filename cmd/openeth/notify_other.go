//go:build !linux

package main

import (
	"net"

	"github.com/sirupsen/logrus"
)

func notifyReady(_ *logrus.Logger, _ net.HardwareAddr) {}

func notifyStopping(_ *logrus.Logger) {}
