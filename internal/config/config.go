// Package config provides configuration management for keysync using Viper.
// It supports configuration from files, environment variables, and defaults,
// binding the upstream FF_EXMG_SECURE_SYNC_* environment contract directly
// since those names don't fit Viper's usual prefixed-automatic-env scheme.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Default configuration values, mirroring the constants in
// original_source/exmg/exmg_secure_sync.h and exmg_mqtt.h.
const (
	DefaultKeyPublishDelaySecs = 10.0
	DefaultFragmentsPerKey     = 1
	DefaultKeyIndexMaxWindow   = -1
	DefaultPollInterval        = "20ms"
	DefaultQueueCapacity       = 4095
	DefaultRegistryCapacity    = 255

	DefaultMQTTURL      = "ws://xvm-190-41.dc0.ghst.net:8885/mqtt"
	DefaultMQTTClientID = "exmg-mqtt-ffmpeg-default-client-id"
	DefaultMQTTUser     = "user1"
	DefaultMQTTPasswd   = "liverymqtt123"
	DefaultMQTTTopic    = "/mqtt"

	DefaultMQTTKeepAliveSecs    = 1
	DefaultMQTTDisconnectMillis = 2000
	DefaultPublishRetryBudget   = 3
)

// Config holds all configuration for a keysync session.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Session SessionConfig `mapstructure:"session"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// SessionConfig holds the Secure-Sync session tunables.
type SessionConfig struct {
	// DryRun disables publication; messages are still formed and logged.
	DryRun bool `mapstructure:"dry_run"`
	// NoEncryption disables downstream media encryption; messages are still emitted.
	NoEncryption bool `mapstructure:"no_encryption"`
	// FSPubBasepath enables file publication when non-empty.
	FSPubBasepath string `mapstructure:"fs_pub_basepath"`
	// PublishDelaySecs is the minimum lag between fragment media time and message release.
	PublishDelaySecs float64 `mapstructure:"publish_delay_secs"`
	// FragmentsPerKey is the number of fragments covered by one encryption scope.
	FragmentsPerKey uint32 `mapstructure:"fragments_per_key"`
	// KeyIndexMaxWindow bounds retained key indices; negative means unbounded.
	KeyIndexMaxWindow int `mapstructure:"key_index_max_window"`
	// PollInterval is the worker's poll tick, parsed via pkg/duration (default 20ms).
	PollInterval Duration `mapstructure:"poll_interval"`
	// QueueCapacity is the bounded delay queue's capacity (4095, matching the original's fixed buffer size).
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// MQTTConfig holds the default MQTT publisher endpoint.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	ClientID string `mapstructure:"client_id"`
	User     string `mapstructure:"user"`
	Passwd   string `mapstructure:"passwd"`
	Topic    string `mapstructure:"topic"`
}

// Load reads configuration from an optional file, then overlays the
// FF_EXMG_SECURE_SYNC_* environment variables, which take precedence over
// both file and defaults (matching the original's getenv-first behavior).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "2006-01-02T15:04:05Z07:00")

	v.SetDefault("session.dry_run", false)
	v.SetDefault("session.no_encryption", false)
	v.SetDefault("session.fs_pub_basepath", "")
	v.SetDefault("session.publish_delay_secs", DefaultKeyPublishDelaySecs)
	v.SetDefault("session.fragments_per_key", DefaultFragmentsPerKey)
	v.SetDefault("session.key_index_max_window", DefaultKeyIndexMaxWindow)
	v.SetDefault("session.poll_interval", DefaultPollInterval)
	v.SetDefault("session.queue_capacity", DefaultQueueCapacity)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.url", DefaultMQTTURL)
	v.SetDefault("mqtt.client_id", DefaultMQTTClientID)
	v.SetDefault("mqtt.user", DefaultMQTTUser)
	v.SetDefault("mqtt.passwd", DefaultMQTTPasswd)
	v.SetDefault("mqtt.topic", DefaultMQTTTopic)
}

// applyEnvOverrides binds the FF_EXMG_SECURE_SYNC_* environment variables
// directly, since their naming doesn't fit Viper's automatic-env
// prefixing.
func applyEnvOverrides(cfg *Config) {
	if _, ok := os.LookupEnv("FF_EXMG_SECURE_SYNC_DRY_RUN"); ok {
		cfg.Session.DryRun = true
	}
	if _, ok := os.LookupEnv("FF_EXMG_SECURE_SYNC_NO_ENCRYPTION"); ok {
		cfg.Session.NoEncryption = true
	}
	if v, ok := os.LookupEnv("FF_EXMG_SECURE_SYNC_FS_PUB_BASEPATH"); ok {
		cfg.Session.FSPubBasepath = v
	}
	if _, ok := os.LookupEnv("FF_EXMG_SECURE_SYNC_MQTT_PUB"); ok {
		cfg.MQTT.Enabled = true
	}
	if v, ok := os.LookupEnv("FF_EXMG_SECURE_SYNC_KEY_PUBLISH_DELAY"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Session.PublishDelaySecs = f
		}
	}
	if v, ok := os.LookupEnv("FF_EXMG_SECURE_SYNC_FRAGMENTS_PER_KEY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n == 0 {
			n = 1
		}
		cfg.Session.FragmentsPerKey = uint32(n)
	}
	if v, ok := os.LookupEnv("FF_EXMG_SECURE_SYNC_KEY_INDEX_MAX_WINDOW"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.KeyIndexMaxWindow = n
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Session.PublishDelaySecs < 0 {
		return fmt.Errorf("session.publish_delay_secs must be non-negative")
	}
	if c.Session.FragmentsPerKey < 1 {
		return fmt.Errorf("session.fragments_per_key must be at least 1")
	}
	if c.Session.QueueCapacity < 1 {
		return fmt.Errorf("session.queue_capacity must be at least 1")
	}

	if c.MQTT.Enabled {
		if c.MQTT.URL == "" {
			return fmt.Errorf("mqtt.url is required when mqtt.enabled is set")
		}
		if c.MQTT.ClientID == "" {
			return fmt.Errorf("mqtt.client_id is required when mqtt.enabled is set")
		}
	}

	return nil
}

// IsTLS reports whether the MQTT URL scheme requires a TLS dial
// ("ssl://" or "wss://").
func (c MQTTConfig) IsTLS() bool {
	return strings.HasPrefix(c.URL, "ssl://") || strings.HasPrefix(c.URL, "wss://")
}
