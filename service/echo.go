package service

import (
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"
)

// serveEcho answers every datagram on conn with its own payload until ctx is
// done.
func serveEcho(ctx context.Context, l *logrus.Logger, conn net.PacketConn) error {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	l.WithField("addr", conn.LocalAddr()).Info("UDP echo service listening")
	buf := make([]byte, 65535)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if _, err := conn.WriteTo(buf[:n], from); err != nil {
			l.WithError(err).WithField("to", from).Debug("Failed to echo datagram")
		}
	}
}
