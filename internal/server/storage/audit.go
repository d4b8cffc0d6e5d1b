package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tierconf/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const auditColumns = `a.id, a.config_value_id, a.old_value, a.new_value, a.changed_by, a.environment, a.platform, a.created_at, a.metadata`

// InsertAudit appends one immutable audit row
func (s *BaseStorage) InsertAudit(ctx context.Context, entry *types.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = touchTime(entry.CreatedAt)

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	query := `
        INSERT INTO config_audit (id, config_value_id, old_value, new_value, changed_by, environment, platform, created_at, metadata)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.ExecContext(ctx, query,
		entry.ID,
		entry.ConfigValueID,
		entry.OldValue,
		entry.NewValue,
		entry.ChangedBy,
		nullString(entry.Scope.Environment),
		nullPlatform(entry.Scope.Platform),
		entry.CreatedAt,
		string(metadata))
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// auditConditions builds the WHERE clause for an audit filter
func auditConditions(filter types.AuditFilter) (string, []any) {
	cond := ` WHERE 1=1`
	var args []any

	if filter.Key != "" {
		cond += ` AND a.config_value_id IN (
            SELECT v.id FROM config_values v
            JOIN config_keys k ON k.id = v.config_key_id
            WHERE k.key_name = ?)`
		args = append(args, filter.Key)
	}
	if filter.ChangedBy != "" {
		cond += ` AND a.changed_by = ?`
		args = append(args, filter.ChangedBy)
	}
	if filter.Environment != "" {
		cond += ` AND a.environment = ?`
		args = append(args, filter.Environment)
	}
	if filter.Platform != "" {
		cond += ` AND a.platform = ?`
		args = append(args, string(filter.Platform))
	}
	if !filter.From.IsZero() {
		cond += ` AND a.created_at >= ?`
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		cond += ` AND a.created_at <= ?`
		args = append(args, filter.To)
	}
	return cond, args
}

// QueryAudit retrieves a page of audit entries, newest first
func (s *BaseStorage) QueryAudit(ctx context.Context, filter types.AuditFilter) (*types.AuditPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 50
	}
	if filter.PageSize > s.opts.MaxQueryRows {
		filter.PageSize = s.opts.MaxQueryRows
	}

	cond, args := auditConditions(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM config_audit a` + cond
	if err := s.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := `
        SELECT ` + auditColumns + `
        FROM config_audit a` + cond + `
        ORDER BY a.created_at DESC
        LIMIT ? OFFSET ?`
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	items, err := s.queryAuditRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	totalPages := (total + filter.PageSize - 1) / filter.PageSize
	return &types.AuditPage{
		Items:      items,
		Total:      total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalPages: totalPages,
	}, nil
}

// ConfigHistory retrieves the newest audit entries for one key
func (s *BaseStorage) ConfigHistory(ctx context.Context, key string, limit int, scope types.Scope) ([]*types.AuditEntry, error) {
	if limit < 1 {
		limit = 20
	}

	query := `
        SELECT ` + auditColumns + `
        FROM config_audit a
        WHERE a.config_value_id IN (
            SELECT v.id FROM config_values v
            JOIN config_keys k ON k.id = v.config_key_id
            WHERE k.key_name = ?)`
	args := []any{key}

	if scope.Environment != "" {
		query += ` AND a.environment = ?`
		args = append(args, scope.Environment)
	}
	if scope.Platform != "" {
		query += ` AND a.platform = ?`
		args = append(args, string(scope.Platform))
	}
	query += `
        ORDER BY a.created_at DESC
        LIMIT ?`
	args = append(args, limit)

	return s.queryAuditRows(ctx, query, args...)
}

// DeleteAuditBefore removes audit rows created strictly before cutoff
func (s *BaseStorage) DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.ExecContext(ctx, `DELETE FROM config_audit WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit entries: %w", err)
	}
	return result.RowsAffected()
}

// queryAuditRows runs an audit query and scans all rows
func (s *BaseStorage) queryAuditRows(ctx context.Context, query string, args ...any) ([]*types.AuditEntry, error) {
	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var entries []*types.AuditEntry
	for rows.Next() {
		var (
			entry    types.AuditEntry
			env      sql.NullString
			platform sql.NullString
			metadata string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.ConfigValueID,
			&entry.OldValue,
			&entry.NewValue,
			&entry.ChangedBy,
			&env,
			&platform,
			&entry.CreatedAt,
			&metadata); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		entry.Scope = scanScope(env, platform)
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &entry.Metadata); err != nil {
				s.logger.Warn("malformed audit metadata",
					zap.String("audit_id", entry.ID),
					zap.Error(err))
			}
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return entries, nil
}
