package creds

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultTTL keeps cached sessions under the portals' 24h rotation.
const DefaultTTL = 23 * time.Hour

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// cacheEntry is the on-disk record: the bundle plus an issuance timestamp in
// epoch milliseconds. Unknown fields in existing files are ignored on load.
type cacheEntry struct {
	Bundle
	Timestamp int64 `json:"timestamp"`
}

// Cache persists credential bundles keyed by platform (and optionally by
// account) with a freshness horizon. All I/O failures degrade to a cache
// miss; a fresh login is always a valid fallback.
type Cache struct {
	dir    string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewCache creates a cache rooted at dir. An empty dir resolves to
// ~/.disputesync/cache; a non-positive ttl falls back to DefaultTTL.
func NewCache(dir string, ttl time.Duration, logger *zap.Logger) *Cache {
	if dir == "" {
		if home, err := homedir.Dir(); err == nil {
			dir = filepath.Join(home, ".disputesync", "cache")
		} else {
			dir = filepath.Join(".", ".cache")
		}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		dir:    dir,
		ttl:    ttl,
		logger: logger.Named("authcache"),
		now:    time.Now,
	}
}

// Key builds an account-qualified cache key so concurrent accounts on the
// same platform do not clobber each other's sessions.
func Key(platform Platform, account string) string {
	if account == "" {
		return string(platform)
	}
	return string(platform) + "_" + account
}

func (c *Cache) file(key string) string {
	return filepath.Join(c.dir, keySanitizer.ReplaceAllString(key, "_")+"_auth.json")
}

// Save persists the bundle under key with a freshly stamped issuance time,
// overwriting any prior entry. Failures are logged and swallowed.
func (c *Cache) Save(bundle *Bundle, key string) {
	if err := c.save(bundle, key); err != nil {
		c.logger.Warn("Failed to save auth cache", zap.String("key", key), zap.Error(err))
		return
	}
	c.logger.Info("Authentication cached", zap.String("key", key))
}

func (c *Cache) save(bundle *Bundle, key string) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	entry := cacheEntry{Bundle: *bundle, Timestamp: c.now().UnixMilli()}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := os.WriteFile(c.file(key), data, 0o600); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return nil
}

// Load returns the cached bundle for key, or nil when no entry exists, the
// entry is older than the TTL (an entry at exactly TTL is expired), or the
// file cannot be read or parsed.
func (c *Cache) Load(key string) *Bundle {
	data, err := os.ReadFile(c.file(key))
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("Failed to read auth cache", zap.String("key", key), zap.Error(err))
		}
		return nil
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("Corrupt auth cache entry, ignoring", zap.String("key", key), zap.Error(err))
		return nil
	}

	age := c.now().Sub(time.UnixMilli(entry.Timestamp))
	if age >= c.ttl {
		c.logger.Info("Cached authentication expired",
			zap.String("key", key),
			zap.Duration("age", age.Round(time.Minute)))
		return nil
	}

	c.logger.Info("Using cached authentication",
		zap.String("key", key),
		zap.Duration("remaining", (c.ttl-age).Round(time.Minute)))

	bundle := entry.Bundle
	bundle.IssuedAt = time.Time{}
	return &bundle
}
