package storage

import (
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresStorage implements Storage for PostgreSQL
type PostgresStorage struct {
	*BaseStorage
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(dsn string, opts Options, logger *zap.Logger) (*PostgresStorage, error) {
	base, err := NewBaseStorage("postgres", dsn, opts, logger)
	if err != nil {
		return nil, err
	}

	store := &PostgresStorage{
		BaseStorage: base,
	}

	if err := store.initSchema(); err != nil {
		base.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return store, nil
}

// initSchema creates PostgreSQL tables
func (s *PostgresStorage) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS config_categories (
            id VARCHAR(36) PRIMARY KEY,
            name VARCHAR(128) NOT NULL UNIQUE,
            description TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE TABLE IF NOT EXISTS config_keys (
            id VARCHAR(36) PRIMARY KEY,
            key_name VARCHAR(255) NOT NULL UNIQUE,
            description TEXT NOT NULL DEFAULT '',
            category_id VARCHAR(36) NOT NULL,
            is_secret BOOLEAN NOT NULL DEFAULT FALSE,
            default_value TEXT NOT NULL DEFAULT '',
            value_type VARCHAR(16) NOT NULL DEFAULT 'string'
        )`,
		`CREATE INDEX IF NOT EXISTS idx_keys_category ON config_keys(category_id)`,
		`CREATE TABLE IF NOT EXISTS config_values (
            id VARCHAR(36) PRIMARY KEY,
            config_key_id VARCHAR(36) NOT NULL,
            value TEXT NOT NULL,
            environment VARCHAR(64),
            platform VARCHAR(32),
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            created_by VARCHAR(128) NOT NULL,
            created_at TIMESTAMP NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_values_key_scope
        ON config_values(config_key_id, environment, platform, is_active)`,
		`CREATE TABLE IF NOT EXISTS config_audit (
            id VARCHAR(36) PRIMARY KEY,
            config_value_id VARCHAR(36) NOT NULL,
            old_value TEXT,
            new_value TEXT,
            changed_by VARCHAR(128) NOT NULL,
            environment VARCHAR(64),
            platform VARCHAR(32),
            created_at TIMESTAMP NOT NULL,
            metadata JSONB NOT NULL DEFAULT '{}'
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
