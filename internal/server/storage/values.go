package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tierconf/internal/types"

	"github.com/google/uuid"
)

const valueColumns = `id, config_key_id, value, environment, platform, is_active, created_by, created_at`

// scanValue scans one config value row
func scanValue(row interface{ Scan(...any) error }) (*types.ConfigValue, error) {
	var (
		v        types.ConfigValue
		env      sql.NullString
		platform sql.NullString
	)
	err := row.Scan(
		&v.ID,
		&v.ConfigKeyID,
		&v.Value,
		&env,
		&platform,
		&v.IsActive,
		&v.CreatedBy,
		&v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.Scope = scanScope(env, platform)
	return &v, nil
}

// scopeCondition builds the WHERE fragment matching one exact scope.
// An empty scope field matches NULL, not "any".
func scopeCondition(scope types.Scope) (string, []any) {
	var (
		cond string
		args []any
	)
	if scope.Environment == "" {
		cond = ` AND environment IS NULL`
	} else {
		cond = ` AND environment = ?`
		args = append(args, scope.Environment)
	}
	if scope.Platform == "" {
		cond += ` AND platform IS NULL`
	} else {
		cond += ` AND platform = ?`
		args = append(args, string(scope.Platform))
	}
	return cond, args
}

// FindActiveValue finds the active value in exactly the given scope
func (s *BaseStorage) FindActiveValue(ctx context.Context, keyID string, scope types.Scope) (*types.ConfigValue, error) {
	cond, condArgs := scopeCondition(scope)
	query := `
        SELECT ` + valueColumns + `
        FROM config_values
        WHERE config_key_id = ? AND is_active = ?` + cond + `
        ORDER BY created_at DESC
        LIMIT 1`

	args := append([]any{keyID, true}, condArgs...)
	v, err := scanValue(s.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrValueNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active value: %w", err)
	}
	return v, nil
}

// FindActiveValueCascade resolves the active value through the scope
// fallback chain: exact scope, environment only, platform only, unscoped.
func (s *BaseStorage) FindActiveValueCascade(ctx context.Context, keyID string, scope types.Scope) (*types.ConfigValue, error) {
	for _, sc := range scope.Cascade() {
		v, err := s.FindActiveValue(ctx, keyID, sc)
		if errors.Is(err, types.ErrValueNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, types.ErrValueNotFound
}

// ListActiveValues retrieves all active values, optionally scoped to keys
// of one category
func (s *BaseStorage) ListActiveValues(ctx context.Context, categoryID string) ([]*types.ConfigValue, error) {
	query := `
        SELECT v.id, v.config_key_id, v.value, v.environment, v.platform, v.is_active, v.created_by, v.created_at
        FROM config_values v`
	var args []any
	if categoryID != "" {
		query += `
        JOIN config_keys k ON k.id = v.config_key_id
        WHERE v.is_active = ? AND k.category_id = ?`
		args = append(args, true, categoryID)
	} else {
		query += `
        WHERE v.is_active = ?`
		args = append(args, true)
	}
	query += `
        ORDER BY v.created_at DESC`

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var values []*types.ConfigValue
	for rows.Next() {
		v, err := scanValue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return values, nil
}

// SetValue inserts a new active value and deactivates any prior active
// value in the same scope in one transaction, so at most one value per
// (key, environment, platform) is active at any time.
func (s *BaseStorage) SetValue(ctx context.Context, value *types.ConfigValue) error {
	if value.ID == "" {
		value.ID = uuid.New().String()
	}
	value.IsActive = true
	value.CreatedAt = touchTime(value.CreatedAt)

	cond, condArgs := scopeCondition(value.Scope)

	return s.WithTransaction(ctx, func(tx *sql.Tx) error {
		insert := s.rebind(`
            INSERT INTO config_values (id, config_key_id, value, environment, platform, is_active, created_by, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err := tx.ExecContext(ctx, insert,
			value.ID,
			value.ConfigKeyID,
			value.Value,
			nullString(value.Scope.Environment),
			nullPlatform(value.Scope.Platform),
			true,
			value.CreatedBy,
			value.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert value: %w", err)
		}

		deactivate := s.rebind(`
            UPDATE config_values
            SET is_active = ?
            WHERE config_key_id = ? AND is_active = ? AND id <> ?` + cond)
		args := append([]any{false, value.ConfigKeyID, true, value.ID}, condArgs...)
		if _, err := tx.ExecContext(ctx, deactivate, args...); err != nil {
			return fmt.Errorf("failed to deactivate prior values: %w", err)
		}
		return nil
	})
}

// DeactivateValues clears is_active for one key in exactly the given
// scope, optionally sparing one row. Returns the number of rows affected.
func (s *BaseStorage) DeactivateValues(ctx context.Context, keyID string, scope types.Scope, exceptID string) (int64, error) {
	cond, condArgs := scopeCondition(scope)
	query := `
        UPDATE config_values
        SET is_active = ?
        WHERE config_key_id = ? AND is_active = ?` + cond
	args := append([]any{false, keyID, true}, condArgs...)
	if exceptID != "" {
		query += ` AND id <> ?`
		args = append(args, exceptID)
	}

	result, err := s.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate values: %w", err)
	}
	return result.RowsAffected()
}
