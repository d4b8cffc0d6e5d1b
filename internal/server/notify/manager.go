// Package notify delivers alerts for critical configuration changes
// through email and webhook channels.
package notify

import (
	"context"
	"sync"
	"time"

	"tierconf/internal/retry"
	"tierconf/internal/types"

	"go.uber.org/zap"
)

// NotifierType represents the type of notifier
type NotifierType string

const (
	NotifierEmail   NotifierType = "email"
	NotifierWebhook NotifierType = "webhook"
)

// Notifier represents one alert channel
type Notifier interface {
	// NotifyCriticalChange sends a critical config change alert
	NotifyCriticalChange(ctx context.Context, event *types.ChangeEvent) error

	// Health checks the health of the notifier
	Health(ctx context.Context) error
}

// notification is one queued delivery
type notification struct {
	notifierType NotifierType
	event        *types.ChangeEvent
}

// Manager fans critical change alerts out to the enabled channels.
// Deliveries are queued and sent by a background worker so alerting
// never blocks the mutation path.
type Manager struct {
	config     *Config
	logger     *zap.Logger
	notifiers  map[NotifierType]Notifier
	limiter    *RateLimiter
	notifyChan chan notification
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// RateLimiter bounds alert volume per channel
type RateLimiter struct {
	mu        sync.Mutex
	events    map[NotifierType][]time.Time
	interval  time.Duration
	maxEvents int
}

// Allow checks whether a delivery is allowed under the rate limit
func (r *RateLimiter) Allow(notifierType NotifierType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	valid := make([]time.Time, 0)
	for _, ts := range r.events[notifierType] {
		if now.Sub(ts) < r.interval {
			valid = append(valid, ts)
		}
	}
	r.events[notifierType] = valid

	if len(valid) >= r.maxEvents {
		return false
	}

	r.events[notifierType] = append(r.events[notifierType], now)
	return true
}

// NewManager creates a new alert manager. Returns nil when alerting is
// disabled.
func NewManager(cfg *Config, logger *zap.Logger) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:     cfg,
		logger:     logger,
		notifiers:  make(map[NotifierType]Notifier),
		notifyChan: make(chan notification, 100),
		ctx:        ctx,
		cancel:     cancel,
	}
	if cfg.RateLimit.Enabled {
		m.limiter = &RateLimiter{
			events:    make(map[NotifierType][]time.Time),
			interval:  cfg.RateLimit.Interval,
			maxEvents: cfg.RateLimit.MaxEvents,
		}
	}

	if cfg.Email.Enabled {
		if n, err := NewEmailNotifier(&cfg.Email, logger); err == nil {
			m.notifiers[NotifierEmail] = n
		} else {
			logger.Error("Failed to initialize email notifier", zap.Error(err))
		}
	}

	if cfg.Webhook.Enabled {
		if n, err := NewWebhookNotifier(&cfg.Webhook, logger); err == nil {
			m.notifiers[NotifierWebhook] = n
		} else {
			logger.Error("Failed to initialize webhook notifier", zap.Error(err))
		}
	}

	m.wg.Add(1)
	go m.deliveryLoop()

	return m, nil
}

// NotifyCriticalChange queues a critical change alert for every
// enabled channel
func (m *Manager) NotifyCriticalChange(event *types.ChangeEvent) {
	for notifierType := range m.notifiers {
		if m.limiter != nil && !m.limiter.Allow(notifierType) {
			m.logger.Warn("alert rate limit exceeded",
				zap.String("channel", string(notifierType)),
				zap.String("key", event.Key))
			continue
		}

		select {
		case m.notifyChan <- notification{notifierType: notifierType, event: event}:
		default:
			m.logger.Warn("alert queue full, dropping alert",
				zap.String("channel", string(notifierType)),
				zap.String("key", event.Key))
		}
	}
}

// deliveryLoop drains the alert queue
func (m *Manager) deliveryLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case n := <-m.notifyChan:
			m.deliver(n)
		}
	}
}

// deliver sends one alert with retries
func (m *Manager) deliver(n notification) {
	notifier, ok := m.notifiers[n.notifierType]
	if !ok {
		return
	}

	err := retry.Do(m.ctx, m.config.Retry, func(ctx context.Context) error {
		return notifier.NotifyCriticalChange(ctx, n.event)
	})
	if err != nil {
		m.logger.Error("failed to deliver alert",
			zap.String("channel", string(n.notifierType)),
			zap.String("key", n.event.Key),
			zap.Error(err))
	}
}

// Health checks every configured channel
func (m *Manager) Health(ctx context.Context) error {
	for notifierType, notifier := range m.notifiers {
		if err := notifier.Health(ctx); err != nil {
			m.logger.Warn("notifier unhealthy",
				zap.String("channel", string(notifierType)),
				zap.Error(err))
			return err
		}
	}
	return nil
}

// Stop stops the delivery worker
func (m *Manager) Stop() error {
	m.cancel()
	m.wg.Wait()
	return nil
}
