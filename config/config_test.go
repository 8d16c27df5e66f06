package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/slackhq/openeth/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Load(t *testing.T) {
	l := test.NewLogger()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "01.yaml"), []byte("driver:\n  rx_depth: 8\n  tx_depth: 8\nnetif:\n  neighbors: [\"10.0.0.2=02:00:00:00:00:02\"]\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02.yml"), []byte("driver:\n  tx_depth: 32\nnetif:\n  neighbors: [\"10.0.0.3=02:00:00:00:00:03\"]\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("driver:\n  rx_depth: 99\n"), 0o600))

	c := NewC(l)
	require.NoError(t, c.Load(dir))
	assert.Equal(t, 8, c.GetInt("driver.rx_depth", 0))
	assert.Equal(t, 32, c.GetInt("driver.tx_depth", 0))
	assert.Equal(t, []string{"10.0.0.3=02:00:00:00:00:03", "10.0.0.2=02:00:00:00:00:02"}, c.GetStringSlice("netif.neighbors", nil))
	assert.True(t, c.InitialLoad())

	assert.EqualError(t, NewC(l).Load(filepath.Join(dir, "missing")), "no config files found at "+filepath.Join(dir, "missing"))
}

func TestConfig_LoadString(t *testing.T) {
	l := test.NewLogger()
	c := NewC(l)
	assert.Error(t, c.LoadString(""))
	assert.Error(t, c.LoadString(" invalid yaml"))

	require.NoError(t, c.LoadString("outer:\n  inner: hi"))
	assert.Equal(t, "hi", c.Get("outer.inner"))
	assert.Nil(t, c.Get("outer.nope"))
	assert.True(t, c.IsSet("outer"))
}

func TestConfig_Getters(t *testing.T) {
	l := test.NewLogger()
	c := NewC(l)
	require.NoError(t, c.LoadString(`
driver:
  rx_depth: 16
  buffer_size: nope
  phy_addr: -1
stats:
  interval: 10s
netif:
  address: 10.1.2.3/24
  host: 10.1.2.4
  gateway: 10.1.2.1
  bad: 300.1.1.1
`))

	assert.Equal(t, 16, c.GetInt("driver.rx_depth", 0))
	assert.Equal(t, 1536, c.GetInt("driver.buffer_size", 1536))
	assert.Equal(t, uint32(1), c.GetUint32("driver.phy_addr", 1))
	assert.Equal(t, 10*time.Second, c.GetDuration("stats.interval", 0))
	assert.Equal(t, time.Second, c.GetDuration("stats.missing", time.Second))

	assert.Equal(t, netip.MustParsePrefix("10.1.2.3/24"), c.GetPrefix("netif.address", netip.Prefix{}))
	assert.Equal(t, netip.MustParsePrefix("10.1.2.4/32"), c.GetPrefix("netif.host", netip.Prefix{}))
	assert.False(t, c.GetPrefix("netif.bad", netip.Prefix{}).IsValid())
	assert.Equal(t, netip.MustParseAddr("10.1.2.1"), c.GetAddr("netif.gateway", netip.Addr{}))
	assert.False(t, c.GetAddr("netif.missing", netip.Addr{}).IsValid())
}

func TestConfig_GetBool(t *testing.T) {
	l := test.NewLogger()
	c := NewC(l)
	c.Settings["bool"] = true
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = "true"
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = false
	assert.Equal(t, false, c.GetBool("bool", true))

	c.Settings["bool"] = "Y"
	assert.Equal(t, true, c.GetBool("bool", false))

	c.Settings["bool"] = "nO"
	assert.Equal(t, false, c.GetBool("bool", true))
}

func TestConfig_HasChanged(t *testing.T) {
	l := test.NewLogger()
	// No reload has occurred, return false
	c := NewC(l)
	c.Settings["test"] = "hi"
	assert.False(t, c.HasChanged(""))

	c = NewC(l)
	c.Settings["test"] = "hi"
	c.oldSettings = map[string]any{"test": "no"}
	assert.True(t, c.HasChanged("test"))
	assert.True(t, c.HasChanged(""))

	c = NewC(l)
	c.Settings["test"] = "hi"
	c.oldSettings = map[string]any{"test": "hi"}
	assert.False(t, c.HasChanged("test"))
	assert.False(t, c.HasChanged(""))
}

func TestConfig_ReloadConfigString(t *testing.T) {
	l := test.NewLogger()
	done := make(chan bool, 1)

	c := NewC(l)
	require.NoError(t, c.LoadString("logging:\n  level: info"))

	c.RegisterReloadCallback(func(c *C) {
		done <- true
	})

	require.NoError(t, c.ReloadConfigString("logging:\n  level: debug"))
	assert.False(t, c.InitialLoad())
	assert.True(t, c.HasChanged("logging.level"))

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("reload callback was not called")
	}
}
