package notify

import (
	"fmt"
	"strings"
	"time"

	"tierconf/internal/retry"
)

// Config represents the alerting configuration
type Config struct {
	Enabled bool          `mapstructure:"enabled"`
	Email   EmailConfig   `mapstructure:"email"`
	Webhook WebhookConfig `mapstructure:"webhook"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     *retry.Config   `mapstructure:"retry"`
}

// RateLimitConfig represents alert rate limiting configuration
type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	MaxEvents int           `mapstructure:"max_events"`
}

// EmailConfig represents the email alert configuration
type EmailConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	SMTPServer string   `mapstructure:"smtp_server"`
	SMTPPort   int      `mapstructure:"smtp_port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from"`
	To         []string `mapstructure:"to"`
	UseTLS     bool     `mapstructure:"use_tls"`
}

// WebhookConfig represents the webhook alert configuration
type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Secret  string            `mapstructure:"secret"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

// Validate validates the alerting configuration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Email.Enabled {
		if c.Email.SMTPServer == "" {
			return fmt.Errorf("email alerts require an SMTP server")
		}
		if c.Email.From == "" || len(c.Email.To) == 0 {
			return fmt.Errorf("email alerts require from and to addresses")
		}
	}

	if c.Webhook.Enabled {
		if !strings.HasPrefix(c.Webhook.URL, "http://") && !strings.HasPrefix(c.Webhook.URL, "https://") {
			return fmt.Errorf("invalid webhook URL: %s", c.Webhook.URL)
		}
		if c.Webhook.Timeout == 0 {
			c.Webhook.Timeout = 10 * time.Second
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Interval == 0 {
			c.RateLimit.Interval = time.Minute
		}
		if c.RateLimit.MaxEvents == 0 {
			c.RateLimit.MaxEvents = 10
		}
	}

	if c.Retry == nil {
		c.Retry = retry.DefaultConfig()
	}

	return c.Retry.Validate()
}
