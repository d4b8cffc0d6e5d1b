package resolver

import (
	"fmt"
	"time"
)

// Config represents resolver configuration
type Config struct {
	// CacheTTL bounds how long a resolved value is served without
	// re-querying persistence.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// CacheBackend selects the resolution cache: memory or redis.
	CacheBackend string `mapstructure:"cache_backend"`

	Redis RedisConfig `mapstructure:"redis"`

	// DefaultCategory receives keys auto-created by Set.
	DefaultCategory string `mapstructure:"default_category"`

	// OverrideSweepInterval is how often expired overrides are evicted.
	OverrideSweepInterval time.Duration `mapstructure:"override_sweep_interval"`
}

// RedisConfig represents the redis cache backend configuration
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// Validate validates resolver configuration
func (c *Config) Validate() error {
	if c.CacheTTL == 0 {
		c.CacheTTL = 60 * time.Second
	}
	if c.CacheBackend == "" {
		c.CacheBackend = "memory"
	}
	switch c.CacheBackend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis cache backend requires an address")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s", c.CacheBackend)
	}
	if c.DefaultCategory == "" {
		c.DefaultCategory = "general"
	}
	if c.OverrideSweepInterval == 0 {
		c.OverrideSweepInterval = 30 * time.Second
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "tierconf:resolve"
	}
	return nil
}
