package storage

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStorage implements Storage for SQLite
type SQLiteStorage struct {
	*BaseStorage
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dsn string, opts Options, logger *zap.Logger) (*SQLiteStorage, error) {
	base, err := NewBaseStorage("sqlite3", dsn, opts, logger)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStorage{
		BaseStorage: base,
	}

	if err := store.initSchema(); err != nil {
		base.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return store, nil
}

// initSchema creates SQLite tables
func (s *SQLiteStorage) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS config_categories (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL UNIQUE,
            description TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE TABLE IF NOT EXISTS config_keys (
            id TEXT PRIMARY KEY,
            key_name TEXT NOT NULL UNIQUE,
            description TEXT NOT NULL DEFAULT '',
            category_id TEXT NOT NULL,
            is_secret BOOLEAN NOT NULL DEFAULT 0,
            default_value TEXT NOT NULL DEFAULT '',
            value_type TEXT NOT NULL DEFAULT 'string'
        )`,
		`CREATE TABLE IF NOT EXISTS config_values (
            id TEXT PRIMARY KEY,
            config_key_id TEXT NOT NULL,
            value TEXT NOT NULL,
            environment TEXT,
            platform TEXT,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_by TEXT NOT NULL,
            created_at DATETIME NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_values_key_scope
        ON config_values(config_key_id, environment, platform, is_active)`,
		`CREATE TABLE IF NOT EXISTS config_audit (
            id TEXT PRIMARY KEY,
            config_value_id TEXT NOT NULL,
            old_value TEXT,
            new_value TEXT,
            changed_by TEXT NOT NULL,
            environment TEXT,
            platform TEXT,
            created_at DATETIME NOT NULL,
            metadata JSON NOT NULL DEFAULT '{}'
        )`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created_at ON config_audit(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_changed_by ON config_audit(changed_by)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return tx.Commit()
}
