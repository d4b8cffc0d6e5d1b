// Package monitor watches configuration mutations, publishes change
// events to in-process subscribers and raises alerts for critical
// keys. Secret values are redacted before an event leaves this
// package.
package monitor

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"tierconf/internal/server/notify"
	"tierconf/internal/server/resolver"
	"tierconf/internal/types"

	"go.uber.org/zap"
)

// criticalKeysKey is the configuration key holding the critical key
// list. It accepts either a JSON array or a comma separated string.
const criticalKeysKey = "monitor.critical_keys"

// Monitor is the change monitor
type Monitor struct {
	cfg    *Config
	res    *resolver.Resolver
	alerts *notify.Manager
	logger *zap.Logger

	mu       sync.RWMutex
	critical map[string]struct{}
	// registered holds the seed plus runtime registrations; reloads
	// rebuild critical from it and the persisted list.
	registered map[string]struct{}

	subMu   sync.Mutex
	subs    map[int]chan *types.ChangeEvent
	nextSub int
	closed  bool
}

// New creates the change monitor and loads the critical key set.
// Returns nil when monitoring is disabled.
func New(ctx context.Context, cfg *Config, res *resolver.Resolver, alerts *notify.Manager, logger *zap.Logger) *Monitor {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	m := &Monitor{
		cfg:        cfg,
		res:        res,
		alerts:     alerts,
		logger:     logger,
		critical:   make(map[string]struct{}),
		registered: make(map[string]struct{}),
		subs:       make(map[int]chan *types.ChangeEvent),
	}

	m.RegisterCritical(cfg.CriticalKeys...)
	m.ReloadCriticalKeys(ctx)

	return m
}

// ReloadCriticalKeys re-resolves the persisted critical key list and
// rebuilds the current set from it plus the seed and every key added
// through RegisterCritical
func (m *Monitor) ReloadCriticalKeys(ctx context.Context) {
	raw := m.res.GetString(ctx, criticalKeysKey, types.Scope{}, "")

	keys := parseCriticalList(raw, m.logger)

	m.mu.Lock()
	m.critical = make(map[string]struct{}, len(keys)+len(m.registered))
	for k := range m.registered {
		m.critical[k] = struct{}{}
	}
	for _, k := range keys {
		m.critical[k] = struct{}{}
	}
	m.mu.Unlock()
}

// parseCriticalList parses the critical key list value. A value
// delimited by brackets is decoded as a JSON array; anything else is
// split on commas. A malformed JSON array yields an empty list.
func parseCriticalList(raw string, logger *zap.Logger) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if strings.HasPrefix(raw, "[") {
		var keys []string
		if err := json.Unmarshal([]byte(raw), &keys); err != nil {
			logger.Warn("malformed critical key list, ignoring",
				zap.String("key", criticalKeysKey),
				zap.Error(err))
			return nil
		}
		return keys
	}

	var keys []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, part)
		}
	}
	return keys
}

// RegisterCritical adds keys to the critical set. Registrations are
// retained across ReloadCriticalKeys.
func (m *Monitor) RegisterCritical(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			m.critical[k] = struct{}{}
			m.registered[k] = struct{}{}
		}
	}
}

// IsCritical reports whether a key is in the critical set
func (m *Monitor) IsCritical(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.critical[key]
	return ok
}

// Subscribe registers a change event subscriber. The returned cancel
// function must be called when the subscriber is done.
func (m *Monitor) Subscribe() (<-chan *types.ChangeEvent, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if m.closed {
		ch := make(chan *types.ChangeEvent)
		close(ch)
		return ch, func() {}
	}

	id := m.nextSub
	m.nextSub++
	ch := make(chan *types.ChangeEvent, m.cfg.EventBuffer)
	m.subs[id] = ch

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
}

// NotifyChange publishes a change event for one mutation. Sensitive
// values are redacted first; critical keys additionally raise a
// warning log and an alert.
func (m *Monitor) NotifyChange(ctx context.Context, key string, oldValue, newValue any, actor string, scope types.Scope) {
	if isSensitive(key, oldValue) || isSensitive(key, newValue) {
		oldValue = redactValue(oldValue)
		newValue = redactValue(newValue)
	}

	event := &types.ChangeEvent{
		Key:       key,
		OldValue:  oldValue,
		NewValue:  newValue,
		ChangedBy: actor,
		Scope:     scope,
		Critical:  m.IsCritical(key),
		Timestamp: time.Now().UTC(),
	}

	if key == criticalKeysKey {
		m.ReloadCriticalKeys(ctx)
	}

	m.publish(event)

	fields := []zap.Field{
		zap.String("key", key),
		zap.String("actor", actor),
		zap.String("scope", scope.String()),
		zap.Any("old_value", event.OldValue),
		zap.Any("new_value", event.NewValue),
	}
	if !event.Critical {
		m.logger.Info("configuration changed", fields...)
		return
	}

	m.logger.Warn("critical configuration change", fields...)

	if m.alerts != nil {
		m.alerts.NotifyCriticalChange(event)
	}
}

// publish fans the event out to subscribers without blocking
func (m *Monitor) publish(event *types.ChangeEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for id, ch := range m.subs {
		select {
		case ch <- event:
		default:
			m.logger.Debug("subscriber queue full, dropping event",
				zap.Int("subscriber", id),
				zap.String("key", event.Key))
		}
	}
}

// Stop closes all subscriber channels
func (m *Monitor) Stop() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}
