package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tierconf/internal/types"

	"go.uber.org/zap"
)

// Storage defines the versioned key-value persistence capability the
// resolver and audit log are built on.
type Storage interface {
	// Categories

	CreateCategory(ctx context.Context, cat *types.ConfigCategory) error
	GetCategoryByName(ctx context.Context, name string) (*types.ConfigCategory, error)
	ListCategories(ctx context.Context) ([]*types.ConfigCategory, error)

	// Keys

	CreateKey(ctx context.Context, key *types.ConfigKey) error
	GetKeyByName(ctx context.Context, name string) (*types.ConfigKey, error)
	ListKeys(ctx context.Context, categoryID string) ([]*types.ConfigKey, error)
	UpdateKey(ctx context.Context, key *types.ConfigKey) error
	DeleteKey(ctx context.Context, id string) error

	// Values

	FindActiveValue(ctx context.Context, keyID string, scope types.Scope) (*types.ConfigValue, error)
	FindActiveValueCascade(ctx context.Context, keyID string, scope types.Scope) (*types.ConfigValue, error)
	ListActiveValues(ctx context.Context, categoryID string) ([]*types.ConfigValue, error)
	SetValue(ctx context.Context, value *types.ConfigValue) error
	DeactivateValues(ctx context.Context, keyID string, scope types.Scope, exceptID string) (int64, error)

	// Audit

	InsertAudit(ctx context.Context, entry *types.AuditEntry) error
	QueryAudit(ctx context.Context, filter types.AuditFilter) (*types.AuditPage, error)
	ConfigHistory(ctx context.Context, key string, limit int, scope types.Scope) ([]*types.AuditEntry, error)
	DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Maintenance

	Ping(ctx context.Context) error
	Stats() *Stats
	Driver() string
	Unwrap() (*sql.DB, error)
	Close() error
}

// NewStorage creates a storage instance for the configured driver
func NewStorage(cfg *Config, logger *zap.Logger) (Storage, error) {
	opts := Options{
		MaxOpenConns:    cfg.MaxConnections,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		QueryTimeout:    cfg.QueryTimeout,
		MaxQueryRows:    cfg.MaxQueryRows,
		SlowQueryTime:   cfg.SlowQueryTime,
	}

	var (
		store Storage
		err   error
	)

	switch cfg.Driver {
	case "sqlite", "sqlite3":
		store, err = NewSQLiteStorage(cfg.DSN, opts, logger)
	case "mysql":
		store, err = NewMySQLStorage(cfg.DSN, opts, logger)
	case "postgres":
		store, err = NewPostgresStorage(cfg.DSN, opts, logger)
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := RunMigrations(store, cfg, logger); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return store, nil
}
