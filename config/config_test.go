package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 9600, cfg.Device.Baud)
	assert.Equal(t, 8, cfg.Device.DataBits)
	assert.Equal(t, "N", cfg.Device.Parity)
	assert.Equal(t, "1", cfg.Device.StopBits)
	assert.Equal(t, 12*time.Second, cfg.Device.ReconnectDelay)
	assert.Equal(t, 16, cfg.Device.FrameBuffer)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enable)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 64, cfg.History.Size)
	assert.Empty(t, cfg.HTTP.Addr)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xbeed.yaml")
	yaml := `
device:
  link: socket://radio:3002
  baud: 57600
  dataBits: 7
  parity: E
  stopBits: 2
  reconnectDelay: 30s
  ratePerSecond: 2.5
  burst: 3
http:
  addr: ":8000"
logging:
  level: warn
  format: json
  file:
    filename: /var/log/xbeed.log
    maxSize: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "socket://radio:3002", cfg.Device.Link)
	assert.Equal(t, 57600, cfg.Device.Baud)
	assert.Equal(t, 7, cfg.Device.DataBits)
	assert.Equal(t, "E", cfg.Device.Parity)
	assert.Equal(t, "2", cfg.Device.StopBits)
	assert.Equal(t, 30*time.Second, cfg.Device.ReconnectDelay)
	assert.Equal(t, 2.5, cfg.Device.RatePerSecond)
	assert.Equal(t, 3, cfg.Device.Burst)
	assert.Equal(t, ":8000", cfg.HTTP.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/var/log/xbeed.log", cfg.Logging.File.Filename)
	assert.Equal(t, 5, cfg.Logging.File.MaxSizeMB)
	assert.Equal(t, 3, cfg.Logging.File.MaxBackups)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadEnvAndFlags(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("XBEED_DEVICE_LINK", "/dev/ttyUSB1")
	t.Setenv("XBEED_HTTP_ADDR", ":9000")

	flags := pflag.NewFlagSet("xbeed", pflag.ContinueOnError)
	flags.StringP("connect", "c", "", "")
	flags.StringP("serve", "s", "", "")
	flags.BoolP("verbose", "v", false, "")
	flags.Int("baud", 9600, "")
	require.NoError(t, flags.Parse([]string{"-s", ":8080", "-v"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB1", cfg.Device.Link)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 9600, cfg.Device.Baud)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("", nil)
	require.NoError(t, err)

	bad := *cfg
	bad.Device.Baud = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Logging.Format = "xml"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.History.Size = -1
	assert.Error(t, bad.Validate())

	for _, d := range []time.Duration{0, -time.Second} {
		bad = *cfg
		bad.Device.ReconnectDelay = d
		assert.Error(t, bad.Validate(), "reconnectDelay %v", d)
	}

	bad = *cfg
	bad.Device.DataBits = 9
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Device.Parity = "X"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Device.StopBits = "3"
	assert.Error(t, bad.Validate())

	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsZeroReconnectDelay(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("XBEED_DEVICE_RECONNECTDELAY", "0s")

	_, err := Load("", nil)
	assert.ErrorContains(t, err, "reconnectDelay")
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir from Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
