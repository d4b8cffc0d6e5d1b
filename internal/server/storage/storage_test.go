package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"tierconf/internal/types"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newMockStorage builds a BaseStorage around a sqlmock connection with
// automatic cleanup and expectation checking.
func newMockStorage(t *testing.T, driver string) (*BaseStorage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})

	return &BaseStorage{
		db:     db,
		driver: driver,
		opts: Options{
			QueryTimeout:  5 * time.Second,
			MaxQueryRows:  100,
			SlowQueryTime: time.Second,
		},
		logger:  zaptest.NewLogger(t),
		metrics: &Metrics{},
	}, mock
}

var valueRowColumns = []string{
	"id", "config_key_id", "value", "environment", "platform",
	"is_active", "created_by", "created_at",
}

var auditRowColumns = []string{
	"id", "config_value_id", "old_value", "new_value", "changed_by",
	"environment", "platform", "created_at", "metadata",
}

func TestRebind(t *testing.T) {
	pg, _ := newMockStorage(t, "postgres")
	assert.Equal(t,
		`SELECT id FROM config_keys WHERE key_name = $1 AND category_id = $2`,
		pg.rebind(`SELECT id FROM config_keys WHERE key_name = ? AND category_id = ?`))

	lite, _ := newMockStorage(t, "sqlite3")
	assert.Equal(t,
		`SELECT id FROM config_keys WHERE key_name = ?`,
		lite.rebind(`SELECT id FROM config_keys WHERE key_name = ?`))
}

func TestQueryRowScansAfterReturn(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")

	mock.ExpectQuery(`SELECT id, name, description FROM config_categories WHERE name = \?`).
		WithArgs("general").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description"}).
			AddRow("cat-1", "general", ""))

	row := s.QueryRowContext(context.Background(),
		`SELECT id, name, description FROM config_categories WHERE name = ?`, "general")

	// The timeout context must stay live until Scan, not be released
	// when the call returns.
	time.Sleep(20 * time.Millisecond)

	var id, name, desc string
	require.NoError(t, row.Scan(&id, &name, &desc))
	assert.Equal(t, "cat-1", id)
}

func TestQueryRowsIterateAfterReturn(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")

	mock.ExpectQuery(`SELECT id, name, description FROM config_categories ORDER BY name`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description"}).
			AddRow("cat-1", "general", "").
			AddRow("cat-2", "limits", ""))

	rows, err := s.QueryContext(context.Background(),
		`SELECT id, name, description FROM config_categories ORDER BY name`)
	require.NoError(t, err)
	defer rows.Close()

	time.Sleep(20 * time.Millisecond)

	var names []string
	for rows.Next() {
		var id, name, desc string
		require.NoError(t, rows.Scan(&id, &name, &desc))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"general", "limits"}, names)
}

func TestFindActiveValueScoped(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM config_values WHERE config_key_id = \? AND is_active = \? AND environment = \? AND platform = \?`).
		WithArgs("key-1", true, "production", "MOBILE_IOS").
		WillReturnRows(sqlmock.NewRows(valueRowColumns).
			AddRow("val-1", "key-1", "8080", "production", "MOBILE_IOS", true, "alice", now))

	v, err := s.FindActiveValue(context.Background(), "key-1",
		types.Scope{Environment: "production", Platform: types.PlatformMobileIOS})
	require.NoError(t, err)
	assert.Equal(t, "8080", v.Value)
	assert.Equal(t, "production", v.Scope.Environment)
	assert.Equal(t, types.PlatformMobileIOS, v.Scope.Platform)
}

func TestFindActiveValueUnscopedMatchesNull(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")

	mock.ExpectQuery(`FROM config_values WHERE config_key_id = \? AND is_active = \? AND environment IS NULL AND platform IS NULL`).
		WithArgs("key-1", true).
		WillReturnError(sql.ErrNoRows)

	_, err := s.FindActiveValue(context.Background(), "key-1", types.Scope{})
	assert.ErrorIs(t, err, types.ErrValueNotFound)
}

func TestFindActiveValueCascade(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")
	now := time.Now().UTC()

	// Exact, environment-only and platform-only scopes miss; the
	// unscoped fallback hits.
	mock.ExpectQuery(`AND environment = \? AND platform = \?`).
		WithArgs("key-1", true, "staging", "MOBILE_ANDROID").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`AND environment = \? AND platform IS NULL`).
		WithArgs("key-1", true, "staging").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`AND environment IS NULL AND platform = \?`).
		WithArgs("key-1", true, "MOBILE_ANDROID").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`AND environment IS NULL AND platform IS NULL`).
		WithArgs("key-1", true).
		WillReturnRows(sqlmock.NewRows(valueRowColumns).
			AddRow("val-9", "key-1", "fallback", nil, nil, true, "system", now))

	v, err := s.FindActiveValueCascade(context.Background(), "key-1",
		types.Scope{Environment: "staging", Platform: types.PlatformMobileAndroid})
	require.NoError(t, err)
	assert.Equal(t, "fallback", v.Value)
	assert.Empty(t, v.Scope.Environment)
	assert.Empty(t, v.Scope.Platform)
}

func TestSetValueTransaction(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")
	now := time.Now().UTC()

	value := &types.ConfigValue{
		ID:          "val-1",
		ConfigKeyID: "key-1",
		Value:       "250",
		Scope:       types.Scope{Environment: "production", Platform: types.PlatformMobileIOS},
		CreatedBy:   "alice",
		CreatedAt:   now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO config_values`).
		WithArgs("val-1", "key-1", "250", "production", "MOBILE_IOS", true, "alice", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE config_values SET is_active = \? WHERE config_key_id = \? AND is_active = \? AND id <> \? AND environment = \? AND platform = \?`).
		WithArgs(false, "key-1", true, "val-1", "production", "MOBILE_IOS").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SetValue(context.Background(), value))
	assert.True(t, value.IsActive)
}

func TestSetValueRollsBackOnInsertError(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO config_values`).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := s.SetValue(context.Background(), &types.ConfigValue{
		ConfigKeyID: "key-1",
		Value:       "x",
	})
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestDeactivateValuesSparesException(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")

	mock.ExpectExec(`UPDATE config_values SET is_active = \? WHERE config_key_id = \? AND is_active = \? AND environment = \? AND platform IS NULL AND id <> \?`).
		WithArgs(false, "key-1", true, "production", "val-keep").
		WillReturnResult(sqlmock.NewResult(0, 2))

	affected, err := s.DeactivateValues(context.Background(), "key-1",
		types.Scope{Environment: "production"}, "val-keep")
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)
}

func TestPostgresPlaceholders(t *testing.T) {
	s, mock := newMockStorage(t, "postgres")

	mock.ExpectQuery(`SELECT id, name, description FROM config_categories WHERE name = \$1`).
		WithArgs("general").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description"}).
			AddRow("cat-1", "general", "General settings"))

	cat, err := s.GetCategoryByName(context.Background(), "general")
	require.NoError(t, err)
	assert.Equal(t, "cat-1", cat.ID)
}

func TestGetCategoryByNameMissing(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")

	mock.ExpectQuery(`FROM config_categories WHERE name = \?`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetCategoryByName(context.Background(), "nope")
	assert.ErrorIs(t, err, types.ErrCategoryNotFound)
}

func TestCreateKeyRejectsDuplicates(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")

	mock.ExpectQuery(`FROM config_keys WHERE key_name = \?`).
		WithArgs("server.port").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "key_name", "description", "category_id", "is_secret", "default_value", "value_type",
		}).AddRow("key-1", "server.port", "", "cat-1", false, "8080", "number"))

	err := s.CreateKey(context.Background(), &types.ConfigKey{Key: "server.port"})
	assert.ErrorIs(t, err, types.ErrKeyExists)
}

func TestCreateKeyFillsDefaults(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")

	mock.ExpectQuery(`FROM config_keys WHERE key_name = \?`).
		WithArgs("app.name").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO config_keys`).
		WithArgs(sqlmock.AnyArg(), "app.name", "", "", false, "", "string").
		WillReturnResult(sqlmock.NewResult(0, 1))

	key := &types.ConfigKey{Key: "app.name"}
	require.NoError(t, s.CreateKey(context.Background(), key))
	assert.NotEmpty(t, key.ID)
	assert.Equal(t, types.ValueTypeString, key.ValueType)
}

func TestUpdateKeyMissing(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")

	mock.ExpectExec(`UPDATE config_keys SET description = \?, category_id = \?, default_value = \? WHERE id = \?`).
		WithArgs("updated", "cat-1", "42", "key-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateKey(context.Background(), &types.ConfigKey{
		ID:           "key-missing",
		Description:  "updated",
		CategoryID:   "cat-1",
		DefaultValue: "42",
	})
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestListKeysByCategory(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")

	mock.ExpectQuery(`FROM config_keys WHERE category_id = \? ORDER BY key_name`).
		WithArgs("cat-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "key_name", "description", "category_id", "is_secret", "default_value", "value_type",
		}).
			AddRow("key-1", "app.name", "", "cat-1", false, "tierconf", "string").
			AddRow("key-2", "app.timeout", "", "cat-1", false, "30", "number"))

	keys, err := s.ListKeys(context.Background(), "cat-1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "app.name", keys[0].Key)
	assert.Equal(t, types.ValueTypeNumber, keys[1].ValueType)
}

func TestDeleteKeyInUse(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM config_values WHERE config_key_id = \?`).
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	err := s.DeleteKey(context.Background(), "key-1")
	assert.ErrorIs(t, err, types.ErrKeyInUse)
}

func TestDeleteKeyMissing(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM config_values WHERE config_key_id = \?`).
		WithArgs("key-gone").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`DELETE FROM config_keys WHERE id = \?`).
		WithArgs("key-gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.DeleteKey(context.Background(), "key-gone")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestDeleteKey(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM config_values WHERE config_key_id = \?`).
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`DELETE FROM config_keys WHERE id = \?`).
		WithArgs("key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteKey(context.Background(), "key-1"))
}

func TestInsertAudit(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")
	now := time.Now().UTC()
	oldVal := "100"
	newVal := "250"

	mock.ExpectExec(`INSERT INTO config_audit`).
		WithArgs("audit-1", "val-1", &oldVal, &newVal, "alice", "production", nil, now, `{"operation":"update"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.InsertAudit(context.Background(), &types.AuditEntry{
		ID:            "audit-1",
		ConfigValueID: "val-1",
		OldValue:      &oldVal,
		NewValue:      &newVal,
		ChangedBy:     "alice",
		Scope:         types.Scope{Environment: "production"},
		CreatedAt:     now,
		Metadata:      map[string]any{"operation": "update"},
	})
	require.NoError(t, err)
}

func TestQueryAuditPagination(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM config_audit a WHERE 1=1 AND a\.config_value_id IN`).
		WithArgs("server.port").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(25))
	mock.ExpectQuery(`FROM config_audit a WHERE 1=1 AND a\.config_value_id IN .+ ORDER BY a\.created_at DESC LIMIT \? OFFSET \?`).
		WithArgs("server.port", 10, 10).
		WillReturnRows(sqlmock.NewRows(auditRowColumns).
			AddRow("audit-1", "val-1", nil, "250", "alice", "production", nil, now, `{"operation":"update"}`))

	page, err := s.QueryAudit(context.Background(), types.AuditFilter{
		Key:      "server.port",
		Page:     2,
		PageSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 25, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Items, 1)

	entry := page.Items[0]
	assert.Nil(t, entry.OldValue)
	require.NotNil(t, entry.NewValue)
	assert.Equal(t, "250", *entry.NewValue)
	assert.Equal(t, "production", entry.Scope.Environment)
	assert.Equal(t, "update", entry.Metadata["operation"])
}

func TestQueryAuditClampsPageSize(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM config_audit a WHERE 1=1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`FROM config_audit a WHERE 1=1 ORDER BY a\.created_at DESC LIMIT \? OFFSET \?`).
		WithArgs(s.opts.MaxQueryRows, 0).
		WillReturnRows(sqlmock.NewRows(auditRowColumns))

	page, err := s.QueryAudit(context.Background(), types.AuditFilter{PageSize: 5000})
	require.NoError(t, err)
	assert.Equal(t, s.opts.MaxQueryRows, page.PageSize)
	assert.Empty(t, page.Items)
}

func TestConfigHistoryScoped(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM config_audit a WHERE a\.config_value_id IN .+ AND a\.environment = \? ORDER BY a\.created_at DESC LIMIT \?`).
		WithArgs("server.port", "production", 5).
		WillReturnRows(sqlmock.NewRows(auditRowColumns).
			AddRow("audit-2", "val-2", "100", "250", "bob", "production", nil, now, ""))

	entries, err := s.ConfigHistory(context.Background(), "server.port", 5,
		types.Scope{Environment: "production"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bob", entries[0].ChangedBy)
}

func TestDeleteAuditBefore(t *testing.T) {
	s, mock := newMockStorage(t, "sqlite3")
	cutoff := time.Now().UTC().AddDate(0, 0, -90)

	mock.ExpectExec(`DELETE FROM config_audit WHERE created_at < \?`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := s.DeleteAuditBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
}
