package storage

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// MySQLStorage implements Storage for MySQL
type MySQLStorage struct {
	*BaseStorage
}

// NewMySQLStorage creates a new MySQL storage instance
func NewMySQLStorage(dsn string, opts Options, logger *zap.Logger) (*MySQLStorage, error) {
	base, err := NewBaseStorage("mysql", dsn, opts, logger)
	if err != nil {
		return nil, err
	}

	store := &MySQLStorage{
		BaseStorage: base,
	}

	if err := store.initSchema(); err != nil {
		base.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return store, nil
}

// initSchema creates MySQL tables
func (s *MySQLStorage) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS config_categories (
            id VARCHAR(36) PRIMARY KEY,
            name VARCHAR(128) NOT NULL,
            description TEXT,
            UNIQUE KEY uniq_category_name (name)
        )`,
		`CREATE TABLE IF NOT EXISTS config_keys (
            id VARCHAR(36) PRIMARY KEY,
            key_name VARCHAR(255) NOT NULL,
            description TEXT,
            category_id VARCHAR(36) NOT NULL,
            is_secret BOOLEAN NOT NULL DEFAULT FALSE,
            default_value TEXT,
            value_type VARCHAR(16) NOT NULL DEFAULT 'string',
            UNIQUE KEY uniq_key_name (key_name),
            KEY idx_keys_category (category_id)
        )`,
		`CREATE TABLE IF NOT EXISTS config_values (
            id VARCHAR(36) PRIMARY KEY,
            config_key_id VARCHAR(36) NOT NULL,
            value TEXT NOT NULL,
            environment VARCHAR(64),
            platform VARCHAR(32),
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            created_by VARCHAR(128) NOT NULL,
            created_at DATETIME(6) NOT NULL,
            KEY idx_values_key_scope (config_key_id, environment, platform, is_active)
        )`,
		`CREATE TABLE IF NOT EXISTS config_audit (
            id VARCHAR(36) PRIMARY KEY,
            config_value_id VARCHAR(36) NOT NULL,
            old_value TEXT,
            new_value TEXT,
            changed_by VARCHAR(128) NOT NULL,
            environment VARCHAR(64),
            platform VARCHAR(32),
            created_at DATETIME(6) NOT NULL,
            metadata JSON,
            KEY idx_audit_created_at (created_at),
            KEY idx_audit_changed_by (changed_by)
        )`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}
