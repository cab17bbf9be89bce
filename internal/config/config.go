// Package config loads cycle-computer settings from defaults, an optional
// config file, CYCLE_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "CYCLE"

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type WheelConfig struct {
	// CircumferenceM in metres.
	CircumferenceM float64 `mapstructure:"circumference_m"`
}

type DisplayConfig struct {
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	AssumedCadenceRPM float64       `mapstructure:"assumed_cadence_rpm"`
}

type MetricsConfig struct {
	// Address of the /metrics listener; empty disables it.
	Address string `mapstructure:"address"`
}

type RelayConfig struct {
	// RedisAddr empty disables the relay.
	RedisAddr string `mapstructure:"redis_addr"`
	Stream    string `mapstructure:"stream"`
	MaxLen    int64  `mapstructure:"max_len"`
}

// DevicesConfig holds peripheral addresses per sensor class. An empty
// address selects the first peripheral advertising the class's service.
type DevicesConfig struct {
	HeartRate string `mapstructure:"heart_rate"`
	Power     string `mapstructure:"power"`
	Cadence   string `mapstructure:"cadence"`
}

type ScanConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type ExportConfig struct {
	// Output empty writes <session_key>.<format> in the working directory.
	Output string `mapstructure:"output"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
	Wheel   WheelConfig   `mapstructure:"wheel"`
	Display DisplayConfig `mapstructure:"display"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Devices DevicesConfig `mapstructure:"devices"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Export  ExportConfig  `mapstructure:"export"`
}

// DeviceAddress returns the configured address for a sensor class name.
func (c *Config) DeviceAddress(class string) string {
	switch class {
	case "heart_rate":
		return c.Devices.HeartRate
	case "power":
		return c.Devices.Power
	case "cadence":
		return c.Devices.Cadence
	default:
		return ""
	}
}

var defaults = map[string]interface{}{
	"storage.path":                ".cycle-computer.badger",
	"log.level":                   "info",
	"log.format":                  "console",
	"log.file":                    "",
	"log.max_size_mb":             10,
	"log.max_backups":             3,
	"log.max_age_days":            28,
	"wheel.circumference_m":       2.105,
	"display.stale_after":         "5s",
	"display.assumed_cadence_rpm": 80.0,
	"metrics.address":             "",
	"relay.redis_addr":            "",
	"relay.stream":                "cycle:telemetry",
	"relay.max_len":               10000,
	"devices.heart_rate":          "",
	"devices.power":               "",
	"devices.cadence":             "",
	"scan.timeout":                "30s",
	"export.output":               "",
	"export.format":               "fit",
}

// FlagKeys maps command line flag names to config keys.
var FlagKeys = map[string]string{
	"db":            "storage.path",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"log-file":      "log.file",
	"metrics-addr":  "metrics.address",
	"redis-addr":    "relay.redis_addr",
	"circumference": "wheel.circumference_m",
	"hr":            "devices.heart_rate",
	"power":         "devices.power",
	"cadence":       "devices.cadence",
	"scan-timeout":  "scan.timeout",
	"output":        "export.output",
	"format":        "export.format",
}

// Load builds the configuration. configFile and flags may be empty or nil.
// Only flags present in both flags and FlagKeys are bound.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the recorder or exporter cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path must be set"))
	}
	if c.Wheel.CircumferenceM <= 0 {
		errs = append(errs, fmt.Errorf("wheel.circumference_m must be > 0, got %v", c.Wheel.CircumferenceM))
	}
	if c.Display.StaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("display.stale_after must be > 0, got %v", c.Display.StaleAfter))
	}
	if c.Display.AssumedCadenceRPM < 0 {
		errs = append(errs, fmt.Errorf("display.assumed_cadence_rpm must be >= 0, got %v", c.Display.AssumedCadenceRPM))
	}
	if c.Scan.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("scan.timeout must be > 0, got %v", c.Scan.Timeout))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	switch c.Export.Format {
	case "fit", "parquet":
	default:
		errs = append(errs, fmt.Errorf("export.format must be fit or parquet, got %q", c.Export.Format))
	}
	if c.Relay.RedisAddr != "" && c.Relay.Stream == "" {
		errs = append(errs, errors.New("relay.stream must be set when relay.redis_addr is"))
	}
	return errors.Join(errs...)
}
