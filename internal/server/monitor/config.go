package monitor

import "fmt"

// Config represents change monitor configuration
type Config struct {
	Enabled bool `mapstructure:"enabled"`

	// EventBuffer is the per-subscriber channel depth. Events to a
	// full subscriber are dropped rather than blocking mutations.
	EventBuffer int `mapstructure:"event_buffer"`

	// CriticalKeys seeds the critical key set before the persisted
	// list has been resolved.
	CriticalKeys []string `mapstructure:"critical_keys"`
}

// Validate validates monitor configuration
func (c *Config) Validate() error {
	if c.EventBuffer == 0 {
		c.EventBuffer = 64
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("event_buffer must not be negative")
	}
	return nil
}
