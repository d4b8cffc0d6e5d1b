package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tierconf/internal/types"

	"github.com/google/uuid"
)

// CreateCategory creates a new config category
func (s *BaseStorage) CreateCategory(ctx context.Context, cat *types.ConfigCategory) error {
	if cat.ID == "" {
		cat.ID = uuid.New().String()
	}

	if _, err := s.GetCategoryByName(ctx, cat.Name); err == nil {
		return types.ErrCategoryExists
	} else if !errors.Is(err, types.ErrCategoryNotFound) {
		return err
	}

	query := `
        INSERT INTO config_categories (id, name, description)
        VALUES (?, ?, ?)`

	if _, err := s.ExecContext(ctx, query, cat.ID, cat.Name, cat.Description); err != nil {
		return fmt.Errorf("failed to create category: %w", err)
	}
	return nil
}

// GetCategoryByName retrieves a category by name
func (s *BaseStorage) GetCategoryByName(ctx context.Context, name string) (*types.ConfigCategory, error) {
	query := `
        SELECT id, name, description
        FROM config_categories
        WHERE name = ?`

	cat := &types.ConfigCategory{}
	err := s.QueryRowContext(ctx, query, name).Scan(&cat.ID, &cat.Name, &cat.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrCategoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return cat, nil
}

// ListCategories retrieves all categories
func (s *BaseStorage) ListCategories(ctx context.Context) ([]*types.ConfigCategory, error) {
	query := `
        SELECT id, name, description
        FROM config_categories
        ORDER BY name`

	rows, err := s.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var cats []*types.ConfigCategory
	for rows.Next() {
		cat := &types.ConfigCategory{}
		if err := rows.Scan(&cat.ID, &cat.Name, &cat.Description); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		cats = append(cats, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return cats, nil
}

// CreateKey creates a new config key. Duplicate key names are rejected.
func (s *BaseStorage) CreateKey(ctx context.Context, key *types.ConfigKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	if key.ValueType == "" {
		key.ValueType = types.ValueTypeString
	}

	if _, err := s.GetKeyByName(ctx, key.Key); err == nil {
		return types.ErrKeyExists
	} else if !errors.Is(err, types.ErrKeyNotFound) {
		return err
	}

	query := `
        INSERT INTO config_keys (id, key_name, description, category_id, is_secret, default_value, value_type)
        VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.ExecContext(ctx, query,
		key.ID,
		key.Key,
		key.Description,
		key.CategoryID,
		key.IsSecret,
		key.DefaultValue,
		string(key.ValueType))
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}
	return nil
}

// GetKeyByName retrieves a config key by its unique name
func (s *BaseStorage) GetKeyByName(ctx context.Context, name string) (*types.ConfigKey, error) {
	query := `
        SELECT id, key_name, description, category_id, is_secret, default_value, value_type
        FROM config_keys
        WHERE key_name = ?`

	key := &types.ConfigKey{}
	err := s.QueryRowContext(ctx, query, name).Scan(
		&key.ID,
		&key.Key,
		&key.Description,
		&key.CategoryID,
		&key.IsSecret,
		&key.DefaultValue,
		&key.ValueType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return key, nil
}

// ListKeys retrieves config keys, optionally filtered by category
func (s *BaseStorage) ListKeys(ctx context.Context, categoryID string) ([]*types.ConfigKey, error) {
	query := `
        SELECT id, key_name, description, category_id, is_secret, default_value, value_type
        FROM config_keys`
	var args []any
	if categoryID != "" {
		query += ` WHERE category_id = ?`
		args = append(args, categoryID)
	}
	query += ` ORDER BY key_name`

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var keys []*types.ConfigKey
	for rows.Next() {
		key := &types.ConfigKey{}
		if err := rows.Scan(
			&key.ID,
			&key.Key,
			&key.Description,
			&key.CategoryID,
			&key.IsSecret,
			&key.DefaultValue,
			&key.ValueType); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return keys, nil
}

// UpdateKey updates the mutable fields of a key: description, category
// and default value. The key name, secret flag and value type are fixed.
func (s *BaseStorage) UpdateKey(ctx context.Context, key *types.ConfigKey) error {
	query := `
        UPDATE config_keys
        SET description = ?, category_id = ?, default_value = ?
        WHERE id = ?`

	result, err := s.ExecContext(ctx, query,
		key.Description,
		key.CategoryID,
		key.DefaultValue,
		key.ID)
	if err != nil {
		return fmt.Errorf("failed to update key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return types.ErrKeyNotFound
	}
	return nil
}

// DeleteKey deletes a key that no values reference
func (s *BaseStorage) DeleteKey(ctx context.Context, id string) error {
	return s.WithTransaction(ctx, func(tx *sql.Tx) error {
		var refs int
		countQuery := s.rebind(`SELECT COUNT(*) FROM config_values WHERE config_key_id = ?`)
		if err := tx.QueryRowContext(ctx, countQuery, id).Scan(&refs); err != nil {
			return fmt.Errorf("failed to count value references: %w", err)
		}
		if refs > 0 {
			return types.ErrKeyInUse
		}

		result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM config_keys WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete key: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return types.ErrKeyNotFound
		}
		return nil
	})
}

// touchTime normalizes zero timestamps to now
func touchTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
