package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/speters/xbeed/xbee"
)

// DeviceConfig describes the link to the local radio
type DeviceConfig struct {
	Link           string        `mapstructure:"link"`
	Baud           int           `mapstructure:"baud"`
	DataBits       int           `mapstructure:"dataBits"`
	Parity         string        `mapstructure:"parity"`        // N, O, E, M or S
	StopBits       string        `mapstructure:"stopBits"`      // 1, 1.5 or 2
	RatePerSecond  float64       `mapstructure:"ratePerSecond"` // 0 disables pacing
	Burst          int           `mapstructure:"burst"`
	ReconnectDelay time.Duration `mapstructure:"reconnectDelay"`
	FrameBuffer    int           `mapstructure:"frameBuffer"`
}

// HTTPConfig for the REST API, an empty Addr disables it
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// LumberjackConfig is the rolling log file, an empty Filename logs to stderr only
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

type HistoryConfig struct {
	Size int `mapstructure:"size"`
}

// Config is the top level configuration of xbeed
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	History HistoryConfig `mapstructure:"history"`
}

// EnvPrefix is prepended to environment overrides, e.g. XBEED_DEVICE_LINK
const EnvPrefix = "XBEED"

// Flag names bound to config keys
var flagKeys = map[string]string{
	"connect": "device.link",
	"baud":    "device.baud",
	"serve":   "http.addr",
}

// Load reads configuration from path (YAML, TOML or JSON), environment and flags,
// in increasing order of precedence. path may be empty, flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("xbeed")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/xbeed")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
		if f := flags.Lookup("verbose"); f != nil && f.Changed && f.Value.String() == "true" {
			v.Set("logging.level", "debug")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, cfg.Validate()
}

// Validate checks values viper can not check by type
func (c *Config) Validate() error {
	if c.Device.Baud <= 0 {
		return fmt.Errorf("device.baud must be positive, got %v", c.Device.Baud)
	}
	if _, err := xbee.ParseFraming(c.Device.DataBits, c.Device.Parity, c.Device.StopBits); err != nil {
		return fmt.Errorf("device framing: %w", err)
	}
	if c.Device.ReconnectDelay <= 0 {
		return fmt.Errorf("device.reconnectDelay must be positive, got %v", c.Device.ReconnectDelay)
	}
	if c.Device.RatePerSecond < 0 {
		return fmt.Errorf("device.ratePerSecond must not be negative, got %v", c.Device.RatePerSecond)
	}
	if c.History.Size < 0 {
		return fmt.Errorf("history.size must not be negative, got %v", c.History.Size)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.link", "")
	v.SetDefault("device.baud", 9600)
	v.SetDefault("device.dataBits", 8)
	v.SetDefault("device.parity", "N")
	v.SetDefault("device.stopBits", "1")
	v.SetDefault("device.ratePerSecond", 0)
	v.SetDefault("device.burst", 1)
	v.SetDefault("device.reconnectDelay", "12s")
	v.SetDefault("device.frameBuffer", 16)

	v.SetDefault("http.addr", "")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 28)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("history.size", 64)
}
