package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speters/xbeed/config"
)

func TestConfigureLevelAndFormat(t *testing.T) {
	l := log.New()
	c, err := Configure(l, config.LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, log.DebugLevel, l.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, l.Formatter)

	_, err = Configure(l, config.LoggingConfig{Level: "chatty", Format: "text"})
	assert.Error(t, err)
}

func TestConfigureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xbeed.log")
	l := log.New()
	c, err := Configure(l, config.LoggingConfig{
		Level:  "info",
		Format: "text",
		File:   config.LumberjackConfig{Filename: path, MaxSizeMB: 1, MaxBackups: 1},
	})
	require.NoError(t, err)

	l.WithField("pin", "D0").Info("switched")
	l.Debug("hidden")
	require.NoError(t, c.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "switched")
	assert.Contains(t, string(b), "pin=D0")
	assert.False(t, bytes.Contains(b, []byte("hidden")))
}
