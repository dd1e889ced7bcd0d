package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/speters/xbeed/config"
)

// Setup configures the standard logrus logger. The returned closer flushes and closes
// the rolling log file, if any.
func Setup(cfg config.LoggingConfig) (io.Closer, error) {
	return Configure(log.StandardLogger(), cfg)
}

// Configure applies level, formatter and output to l
func Configure(l *log.Logger, cfg config.LoggingConfig) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	l.SetLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		l.SetFormatter(&log.JSONFormatter{})
	} else {
		l.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
	}

	if cfg.File.Filename == "" {
		l.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.File.Filename,
		MaxSize:    cfg.File.MaxSizeMB,
		MaxBackups: cfg.File.MaxBackups,
		MaxAge:     cfg.File.MaxAgeDays,
		Compress:   cfg.File.Compress,
	}
	l.SetOutput(io.MultiWriter(os.Stderr, lj))
	return lj, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
