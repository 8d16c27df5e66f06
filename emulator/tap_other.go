//go:build !linux

package emulator

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
)

// TAP is only available on Linux.
type TAP struct{}

func OpenTAP(_ *logrus.Logger, _ string, _ int) (*TAP, error) {
	return nil, fmt.Errorf("tap devices are not supported on %s", runtime.GOOS)
}

func (t *TAP) Name() string { return "" }
func (t *TAP) Write(_ []byte) {}
func (t *TAP) Run(_ *Device) error { return nil }
func (t *TAP) Close() error { return nil }
