package service

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/openeth/config"
	"github.com/slackhq/openeth/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLogger(t *testing.T) {
	l := logrus.New()
	c := config.NewC(test.NewLogger())

	require.NoError(t, c.LoadString("logging:\n  level: debug\n  format: json\n  disable_timestamp: true"))
	require.NoError(t, configLogger(l, c))
	assert.Equal(t, logrus.DebugLevel, l.Level)
	f, ok := l.Formatter.(*logrus.JSONFormatter)
	require.True(t, ok)
	assert.True(t, f.DisableTimestamp)

	require.NoError(t, c.LoadString("logging:\n  timestamp_format: 2006-01-02"))
	require.NoError(t, configLogger(l, c))
	assert.Equal(t, logrus.InfoLevel, l.Level)
	tf, ok := l.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
	assert.True(t, tf.FullTimestamp)
	assert.Equal(t, "2006-01-02", tf.TimestampFormat)

	require.NoError(t, c.LoadString("logging:\n  level: chatty"))
	assert.ErrorContains(t, configLogger(l, c), "possible levels")

	require.NoError(t, c.LoadString("logging:\n  format: xml"))
	assert.ErrorContains(t, configLogger(l, c), "unknown log format")
}
