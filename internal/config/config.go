package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot" yaml:"snapshot"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Platforms PlatformsConfig `mapstructure:"platforms" yaml:"platforms"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the driven browser instance.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// AttachEndpoint, when set, connects to an already-running instance
	// (ws://host:port/devtools/browser/...) instead of launching one.
	AttachEndpoint string   `mapstructure:"attach_endpoint" yaml:"attach_endpoint"`
	Args           []string `mapstructure:"args" yaml:"args"`

	ElementTimeout    time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// CodeEntryTimeout bounds the human-in-the-loop wait for an emailed
	// one-time code.
	CodeEntryTimeout time.Duration `mapstructure:"code_entry_timeout" yaml:"code_entry_timeout"`
}

// CacheConfig controls the on-disk credential cache.
type CacheConfig struct {
	// Dir defaults to ~/.disputesync/cache when empty.
	Dir string        `mapstructure:"dir" yaml:"dir"`
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// SnapshotConfig controls persistence of raw fetched pages.
type SnapshotConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// DatabaseConfig holds the order store connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// PlatformsConfig groups per-platform settings.
type PlatformsConfig struct {
	UberEats UberEatsConfig `mapstructure:"ubereats" yaml:"ubereats"`
	DoorDash DoorDashConfig `mapstructure:"doordash" yaml:"doordash"`
}

// UberEatsConfig configures the UberEats merchant portal run.
type UberEatsConfig struct {
	Username     string `mapstructure:"username" yaml:"username"`
	LookbackDays int    `mapstructure:"lookback_days" yaml:"lookback_days"`
	PageLimit    int    `mapstructure:"page_limit" yaml:"page_limit"`
}

// DoorDashConfig configures the DoorDash merchant portal run.
type DoorDashConfig struct {
	Password     string `mapstructure:"password" yaml:"-"`
	LookbackDays int    `mapstructure:"lookback_days" yaml:"lookback_days"`
	PageLimit    int    `mapstructure:"page_limit" yaml:"page_limit"`
	// StrictMatching disables the fuzzy first-result fallback when several
	// store records match a delivery.
	StrictMatching bool `mapstructure:"strict_matching" yaml:"strict_matching"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "disputesync")
	v.SetDefault("logger.log_file", "disputesync.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	// Login flows are interactive, so the browser is visible by default.
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.attach_endpoint", "")
	v.SetDefault("browser.element_timeout", "10s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.code_entry_timeout", "120s")

	// -- Cache --
	// 23h keeps cached sessions under the portals' 24h rotation.
	v.SetDefault("cache.ttl", "23h")

	// -- Snapshot --
	v.SetDefault("snapshot.dir", "data")

	// -- Platforms --
	v.SetDefault("platforms.ubereats.lookback_days", 7)
	v.SetDefault("platforms.ubereats.page_limit", 20)
	v.SetDefault("platforms.doordash.lookback_days", 18)
	v.SetDefault("platforms.doordash.page_limit", 15)
	v.SetDefault("platforms.doordash.strict_matching", false)
}

// NewDefaultConfig creates a configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("database.url", "DISPUTESYNC_DATABASE_URL")
	v.BindEnv("platforms.ubereats.username", "DISPUTESYNC_UBEREATS_USERNAME")
	v.BindEnv("platforms.doordash.password", "DISPUTESYNC_DOORDASH_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be a positive duration")
	}
	if c.Browser.ElementTimeout <= 0 || c.Browser.NavigationTimeout <= 0 || c.Browser.CodeEntryTimeout <= 0 {
		return fmt.Errorf("browser timeouts must be positive durations")
	}
	if c.Platforms.UberEats.PageLimit <= 0 || c.Platforms.DoorDash.PageLimit <= 0 {
		return fmt.Errorf("platform page limits must be positive integers")
	}
	if ep := c.Browser.AttachEndpoint; ep != "" && !strings.HasPrefix(ep, "ws://") && !strings.HasPrefix(ep, "wss://") {
		return fmt.Errorf("browser.attach_endpoint must be a websocket debugger URL")
	}
	return nil
}
