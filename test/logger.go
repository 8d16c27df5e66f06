package test

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// NewLogger returns a logger for tests. Output is discarded unless TEST_LOGS
// is set: 2 selects debug, 3 trace, a logrus level name that level, and
// anything else info.
func NewLogger() *logrus.Logger {
	l := logrus.New()

	v := os.Getenv("TEST_LOGS")
	if v == "" {
		l.SetOutput(io.Discard)
		return l
	}

	switch v {
	case "2":
		l.SetLevel(logrus.DebugLevel)
	case "3":
		l.SetLevel(logrus.TraceLevel)
	default:
		lvl, err := logrus.ParseLevel(v)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		l.SetLevel(lvl)
	}

	return l
}

// NewRecordingLogger returns a debug level logger that discards output and
// keeps every entry in the returned hook.
func NewRecordingLogger() (*logrus.Logger, *logtest.Hook) {
	l, hook := logtest.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return l, hook
}
