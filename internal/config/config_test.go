package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.False(t, cfg.Browser.Headless, "login flows are interactive by default")
	assert.Equal(t, 10*time.Second, cfg.Browser.ElementTimeout)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 120*time.Second, cfg.Browser.CodeEntryTimeout)
	assert.Equal(t, 23*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 7, cfg.Platforms.UberEats.LookbackDays)
	assert.Equal(t, 20, cfg.Platforms.UberEats.PageLimit)
	assert.Equal(t, 18, cfg.Platforms.DoorDash.LookbackDays)
	assert.Equal(t, 15, cfg.Platforms.DoorDash.PageLimit)
	assert.False(t, cfg.Platforms.DoorDash.StrictMatching)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, NewDefaultConfig().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero cache ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"negative element timeout", func(c *Config) { c.Browser.ElementTimeout = -time.Second }},
		{"zero page limit", func(c *Config) { c.Platforms.DoorDash.PageLimit = 0 }},
		{"non-websocket attach endpoint", func(c *Config) { c.Browser.AttachEndpoint = "http://127.0.0.1:9222" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsWebsocketEndpoint(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Browser.AttachEndpoint = "ws://127.0.0.1:9222/devtools/browser/abc"
	assert.NoError(t, cfg.Validate())
}

func TestNewConfigFromViperEnvOverride(t *testing.T) {
	t.Setenv("DISPUTESYNC_DATABASE_URL", "postgres://harvest:pw@localhost/orders")
	t.Setenv("DISPUTESYNC_DOORDASH_PASSWORD", "hunter2")

	v := viper.New()
	SetDefaults(v)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "postgres://harvest:pw@localhost/orders", cfg.Database.URL)
	assert.Equal(t, "hunter2", cfg.Platforms.DoorDash.Password)
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("platforms.ubereats.page_limit", 5)
	v.Set("browser.headless", true)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Platforms.UberEats.PageLimit)
	assert.True(t, cfg.Browser.Headless)
}
