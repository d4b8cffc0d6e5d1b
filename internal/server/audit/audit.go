// Package audit maintains the append-only record of configuration
// mutations, with configurable retention and detail level. Both
// settings are themselves configuration values resolved through the
// resolver, so the log bootstraps against the resolver's bare
// resolution path before the full chain is live.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tierconf/internal/server/resolver"
	"tierconf/internal/server/storage"
	"tierconf/internal/types"

	"go.uber.org/zap"
)

// Configuration keys the audit log resolves its own settings from.
const (
	retentionKey   = "audit.retention_days"
	detailLevelKey = "audit.detail_level"
)

// Config represents audit log configuration
type Config struct {
	// RetentionDays is the fallback retention when the backing
	// configuration key is unset.
	RetentionDays int `mapstructure:"retention_days"`

	// DetailLevel is the fallback detail level: basic, standard or
	// verbose.
	DetailLevel string `mapstructure:"detail_level"`

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Validate validates audit configuration
func (c *Config) Validate() error {
	if c.RetentionDays == 0 {
		c.RetentionDays = 90
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative")
	}
	if c.DetailLevel == "" {
		c.DetailLevel = string(types.DetailStandard)
	}
	switch types.DetailLevel(c.DetailLevel) {
	case types.DetailBasic, types.DetailStandard, types.DetailVerbose:
	default:
		return fmt.Errorf("invalid detail level: %s", c.DetailLevel)
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 24 * time.Hour
	}
	return nil
}

// Log is the audit log
type Log struct {
	store    storage.Storage
	resolver *resolver.Resolver
	cfg      *Config
	logger   *zap.Logger

	mu            sync.RWMutex
	retentionDays int
	detailLevel   types.DetailLevel

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates the audit log, resolves its settings and runs the first
// retention sweep before the periodic schedule starts
func New(ctx context.Context, cfg *Config, store storage.Storage, res *resolver.Resolver, logger *zap.Logger) *Log {
	l := &Log{
		store:    store,
		resolver: res,
		cfg:      cfg,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	l.ReloadSettings(ctx)

	l.sweep(ctx)
	go l.sweepLoop()

	return l
}

// ReloadSettings re-reads retention and detail level through the
// resolver
func (l *Log) ReloadSettings(ctx context.Context) {
	retention := l.resolver.GetInt(ctx, retentionKey, types.Scope{}, l.cfg.RetentionDays)
	detail := types.DetailLevel(l.resolver.GetString(ctx, detailLevelKey, types.Scope{}, l.cfg.DetailLevel))
	switch detail {
	case types.DetailBasic, types.DetailStandard, types.DetailVerbose:
	default:
		l.logger.Warn("invalid audit detail level, keeping fallback",
			zap.String("value", string(detail)))
		detail = types.DetailLevel(l.cfg.DetailLevel)
	}

	l.mu.Lock()
	l.retentionDays = retention
	l.detailLevel = detail
	l.mu.Unlock()

	l.logger.Info("audit settings loaded",
		zap.Int("retention_days", retention),
		zap.String("detail_level", string(detail)))
}

// DetailLevel returns the active detail level
func (l *Log) DetailLevel() types.DetailLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.detailLevel
}

// Record writes one immutable audit entry. At the basic detail level
// the literal values are replaced with fixed placeholders, preserving
// only the fact that a change occurred.
func (l *Log) Record(ctx context.Context, entry *types.AuditEntry, meta map[string]any) error {
	detail := l.DetailLevel()

	if detail == types.DetailBasic {
		entry.OldValue = redact(entry.OldValue, types.RedactedOldValue)
		entry.NewValue = redact(entry.NewValue, types.RedactedNewValue)
	}

	merged := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		merged[k] = v
	}
	merged["detail_level"] = string(detail)
	merged["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	entry.Metadata = merged

	if err := l.store.InsertAudit(ctx, entry); err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// redact replaces a non-null value with a placeholder
func redact(v *string, placeholder string) *string {
	if v == nil {
		return nil
	}
	return &placeholder
}

// Query retrieves a page of audit entries, newest first
func (l *Log) Query(ctx context.Context, filter types.AuditFilter) (*types.AuditPage, error) {
	return l.store.QueryAudit(ctx, filter)
}

// History retrieves the newest entries for one key
func (l *Log) History(ctx context.Context, key string, limit int, scope types.Scope) ([]*types.AuditEntry, error) {
	return l.store.ConfigHistory(ctx, key, limit, scope)
}

// Stop stops the retention sweep
func (l *Log) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

// sweepLoop runs the retention sweep on a fixed schedule
func (l *Log) sweepLoop() {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			l.sweep(ctx)
			cancel()
		}
	}
}

// sweep deletes entries older than the retention window
func (l *Log) sweep(ctx context.Context) {
	l.mu.RLock()
	retention := l.retentionDays
	l.mu.RUnlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retention)
	deleted, err := l.store.DeleteAuditBefore(ctx, cutoff)
	if err != nil {
		l.logger.Error("audit retention sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		l.logger.Info("audit retention sweep completed",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
}
