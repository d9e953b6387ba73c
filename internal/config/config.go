// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"firestige.xyz/portward/internal/core"
	"firestige.xyz/portward/internal/redirect"
)

// GlobalConfig is the top-level static configuration.
// Maps to the `portward:` root key in YAML.
type GlobalConfig struct {
	Capture  CaptureConfig  `mapstructure:"capture"`
	Redirect RedirectConfig `mapstructure:"redirect"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// ─── Capture ───

// CaptureConfig configures the AF_PACKET capture ring.
type CaptureConfig struct {
	Device          string `mapstructure:"device"`
	SnapLen         int    `mapstructure:"snap_len"`
	BufferSizeMB    int    `mapstructure:"buffer_size_mb"`
	TimeoutMs       int    `mapstructure:"timeout_ms"`
	FanoutID        uint16 `mapstructure:"fanout_id"` // 0 = no fanout
	Filter          bool   `mapstructure:"filter"`    // attach a kernel BPF pre-filter for the match port
	ChannelCapacity int    `mapstructure:"channel_capacity"`
}

// ─── Redirect rule ───

// RedirectConfig configures the redirect rule and checksum handling.
type RedirectConfig struct {
	MatchPort      uint16 `mapstructure:"match_port"`
	RewritePort    uint16 `mapstructure:"rewrite_port"`
	ChecksumPolicy string `mapstructure:"checksum_policy"` // preserve / zero / recompute
	Inject         bool   `mapstructure:"inject"`          // re-send rewritten frames on the capture device
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `portward: ...`.
type configRoot struct {
	Portward GlobalConfig `mapstructure:"portward"`
}

// Load loads configuration from file.
// The YAML file uses `portward:` as root key; env vars override via the key
// replacer (e.g. key "portward.redirect.match_port" → env PORTWARD_REDIRECT_MATCH_PORT).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Portward

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration, used when no config file is
// given on the command line.
func Default() *GlobalConfig {
	v := viper.New()
	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		panic(fmt.Sprintf("portward: built-in defaults failed to unmarshal: %v", err))
	}
	cfg := root.Portward
	return &cfg
}

// setDefaults sets default values for configuration.
// All keys use the "portward." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults — loopback matches the reference deployment, where
	// redirected traffic is exercised with `nc -u localhost`.
	v.SetDefault("portward.capture.device", "lo")
	v.SetDefault("portward.capture.snap_len", 65535)
	v.SetDefault("portward.capture.buffer_size_mb", 8)
	v.SetDefault("portward.capture.timeout_ms", 100)
	v.SetDefault("portward.capture.fanout_id", 0)
	v.SetDefault("portward.capture.filter", false)
	v.SetDefault("portward.capture.channel_capacity", 4096)

	// Redirect defaults
	v.SetDefault("portward.redirect.match_port", redirect.DefaultMatchPort)
	v.SetDefault("portward.redirect.rewrite_port", redirect.DefaultRewritePort)
	v.SetDefault("portward.redirect.checksum_policy", "preserve")
	v.SetDefault("portward.redirect.inject", true)

	// Metrics defaults
	v.SetDefault("portward.metrics.enabled", true)
	v.SetDefault("portward.metrics.listen", ":9091")
	v.SetDefault("portward.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("portward.log.level", "info")
	v.SetDefault("portward.log.format", "text")
	v.SetDefault("portward.log.outputs.file.enabled", false)
	v.SetDefault("portward.log.outputs.file.path", "/var/log/portward/portward.log")
	v.SetDefault("portward.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("portward.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("portward.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("portward.log.outputs.file.rotation.compress", true)
}

// Validate checks the configuration for consistency.
func (cfg *GlobalConfig) Validate() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Capture validation ──
	if cfg.Capture.Device == "" {
		return fmt.Errorf("%w: capture.device is required", core.ErrConfigInvalid)
	}
	if cfg.Capture.SnapLen <= 0 {
		return fmt.Errorf("%w: capture.snap_len must be positive", core.ErrConfigInvalid)
	}
	if cfg.Capture.BufferSizeMB <= 0 {
		return fmt.Errorf("%w: capture.buffer_size_mb must be positive", core.ErrConfigInvalid)
	}
	if cfg.Capture.ChannelCapacity <= 0 {
		return fmt.Errorf("%w: capture.channel_capacity must be positive", core.ErrConfigInvalid)
	}

	// ── Redirect validation ──
	rule := cfg.Rule()
	if err := rule.Validate(); err != nil {
		return err
	}
	if _, err := redirect.ParseChecksumPolicy(cfg.Redirect.ChecksumPolicy); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}

	return nil
}

// Rule returns the redirect rule described by the configuration.
func (cfg *GlobalConfig) Rule() redirect.Rule {
	return redirect.Rule{
		MatchPort:   cfg.Redirect.MatchPort,
		RewritePort: cfg.Redirect.RewritePort,
	}
}

// Policy returns the parsed checksum policy. Call after Validate.
func (cfg *GlobalConfig) Policy() redirect.ChecksumPolicy {
	p, err := redirect.ParseChecksumPolicy(cfg.Redirect.ChecksumPolicy)
	if err != nil {
		panic(fmt.Sprintf("portward: checksum policy revalidation failed: %v", err))
	}
	return p
}
