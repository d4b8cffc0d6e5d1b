// Package retry provides a bounded exponential-backoff retry helper
// for outbound deliveries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config defines the retry policy
type Config struct {
	Enable      bool          `mapstructure:"enable"`
	Attempts    int           `mapstructure:"attempts"`
	Interval    time.Duration `mapstructure:"interval"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
}

// DefaultConfig returns the default retry policy
func DefaultConfig() *Config {
	return &Config{
		Enable:      true,
		Attempts:    3,
		Interval:    time.Second,
		MaxInterval: 30 * time.Second,
	}
}

// Validate validates the retry policy
func (cfg *Config) Validate() error {
	if cfg == nil || !cfg.Enable {
		return nil
	}
	if cfg.Attempts <= 0 {
		return errors.New("attempts must be greater than zero")
	}
	if cfg.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if cfg.MaxInterval < cfg.Interval {
		return errors.New("max_interval must not be less than interval")
	}
	return nil
}

// Func is a retryable operation
type Func func(ctx context.Context) error

// Do runs op, retrying failures with exponential backoff until the
// policy is exhausted or the context is cancelled.
func Do(ctx context.Context, cfg *Config, op Func) error {
	if cfg == nil || !cfg.Enable {
		return op(ctx)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid retry configuration: %w", err)
	}

	var lastErr error
	interval := cfg.Interval
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if lastErr = op(ctx); lastErr == nil {
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval *= 2
		if interval > cfg.MaxInterval {
			interval = cfg.MaxInterval
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.Attempts, lastErr)
}
