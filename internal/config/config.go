package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shii9/PassiveNio/internal/core"
	"github.com/shii9/PassiveNio/internal/ratelimit"
)

// Config is the complete run configuration.
type Config struct {
	Target    TargetConfig    `mapstructure:"target"`
	Scan      ScanConfig      `mapstructure:"scan"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// Modules keeps the order in which modules were declared.
	Modules []ModuleConfig `mapstructure:"-"`
}

type TargetConfig struct {
	Domain       string `mapstructure:"domain"`
	Organization string `mapstructure:"organization"`
}

type ScanConfig struct {
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	ScanTimeout    time.Duration `mapstructure:"scan_timeout"`
	OutputDir      string        `mapstructure:"output_dir"`
	Formats        []string      `mapstructure:"formats"`
	KeepRaw        bool          `mapstructure:"keep_raw"`
	Verbose        bool          `mapstructure:"verbose"`
	JSONStdout     bool          `mapstructure:"json_stdout"`
	LogFile        string        `mapstructure:"log_file"`
}

// RateLimitConfig holds the global request rate and retry settings.
type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	Jitter            float64       `mapstructure:"jitter"`
}

// RetryPolicy converts the settings into the retry value object.
func (r RateLimitConfig) RetryPolicy() ratelimit.RetryPolicy {
	return ratelimit.RetryPolicy{
		MaxAttempts: r.RetryAttempts,
		BaseDelay:   r.RetryDelay,
		MaxDelay:    r.MaxDelay,
		Jitter:      r.Jitter,
	}.Merge(ratelimit.DefaultRetryPolicy())
}

// ModuleConfig is the per-module block under "modules:".
type ModuleConfig struct {
	ID      string
	Enabled bool
	APIKey  string
	// RateLimit overrides the quota of the module's source when set.
	RateLimit *ratelimit.Quota
	// Timeout is an optional time budget for the whole module.
	Timeout time.Duration
	Options map[string]any
}

// Option returns a string option, or def when unset.
func (m ModuleConfig) Option(key, def string) string {
	if v, ok := m.Options[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// StringsOption returns a list option, or def when unset.
func (m ModuleConfig) StringsOption(key string, def []string) []string {
	v, ok := m.Options[key]
	if !ok {
		return def
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Split(vv, ",")
	}
	return def
}

// Module looks up the configuration of id.
func (c *Config) Module(id string) (ModuleConfig, bool) {
	for _, m := range c.Modules {
		if m.ID == id {
			return m, true
		}
	}
	return ModuleConfig{}, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target.domain", "")
	v.SetDefault("target.organization", "")
	v.SetDefault("scan.max_concurrency", 4)
	v.SetDefault("scan.scan_timeout", "5m")
	v.SetDefault("scan.output_dir", "reports")
	v.SetDefault("scan.formats", []string{"json"})
	v.SetDefault("scan.keep_raw", false)
	v.SetDefault("scan.verbose", false)
	v.SetDefault("scan.json_stdout", false)
	v.SetDefault("scan.log_file", "")
	v.SetDefault("rate_limit.requests_per_second", 2.0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("rate_limit.retry_attempts", 3)
	v.SetDefault("rate_limit.retry_delay", "2s")
	v.SetDefault("rate_limit.max_delay", "30s")
	v.SetDefault("rate_limit.jitter", 0.2)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg, _ := decode(newViper(), nil)
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PASSIVENIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads path. A missing file is an error unless optional is set, in
// which case defaults are returned. Environment variables prefixed with
// PASSIVENIO_ override file values (PASSIVENIO_SCAN_MAX_CONCURRENCY).
func Load(path string, optional bool) (*Config, error) {
	v := newViper()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && optional:
		return decode(v, nil)
	case err != nil:
		return nil, core.ConfigError("config", fmt.Sprintf("cannot read %s", path), err)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, core.ConfigError("config", fmt.Sprintf("cannot parse %s", path), err)
	}
	return decode(v, data)
}

func decode(v *viper.Viper, data []byte) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, core.ConfigError("config", "unable to decode config", err)
	}
	if len(data) > 0 {
		mods, err := parseModules(data)
		if err != nil {
			return nil, err
		}
		cfg.Modules = mods
	}
	return &cfg, nil
}

// Validate checks value ranges. Unknown module IDs are checked by the
// registry, which owns the catalog.
func (c *Config) Validate() error {
	if c.Scan.MaxConcurrency < 1 {
		return core.ConfigError("config", "scan.max_concurrency must be at least 1", nil)
	}
	if c.Scan.ScanTimeout <= 0 {
		return core.ConfigError("config", "scan.scan_timeout must be positive", nil)
	}
	for _, f := range c.Scan.Formats {
		switch f {
		case "json", "txt":
		default:
			return core.ConfigError("config", fmt.Sprintf("unsupported report format %q", f), nil)
		}
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Jitter < 0 || c.RateLimit.Jitter > 1 {
		return core.ConfigError("config", "rate_limit values out of range", nil)
	}
	if c.RateLimit.RetryAttempts < 0 {
		return core.ConfigError("config", "rate_limit.retry_attempts must not be negative", nil)
	}
	seen := map[string]bool{}
	for _, m := range c.Modules {
		if seen[m.ID] {
			return core.ConfigError("config", fmt.Sprintf("module %q declared twice", m.ID), nil)
		}
		seen[m.ID] = true
		if m.Timeout < 0 {
			return core.ConfigError("config", fmt.Sprintf("module %q has a negative timeout", m.ID), nil)
		}
	}
	return nil
}

// GlobalQuota is the default per-source quota from rate_limit.
func (c *Config) GlobalQuota() ratelimit.Quota {
	return ratelimit.Quota{
		RequestsPerSecond: c.RateLimit.RequestsPerSecond,
		Burst:             c.RateLimit.Burst,
	}
}
