package cache

import "time"

// Option configures a Keyed cache.
type Option func(*Config)

// Config holds cache configuration.
type Config struct {
	MaxSize         int
	TTL             time.Duration
	CleanupInterval time.Duration
}

// WithMaxSize sets the entry bound before LRU eviction kicks in.
func WithMaxSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxSize = n
		}
	}
}

// WithTTL sets entry lifetime; zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.TTL = ttl
	}
}

// WithCleanupInterval sets how often expired entries are swept.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.CleanupInterval = d
		}
	}
}
