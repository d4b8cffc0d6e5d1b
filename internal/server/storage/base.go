package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"tierconf/internal/types"

	"go.uber.org/zap"
)

// Options defines storage options
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
	MaxQueryRows    int
	SlowQueryTime   time.Duration
}

// Metrics tracks storage metrics
type Metrics struct {
	QueryCount     int64
	QueryErrors    int64
	SlowQueryCount int64
	LastError      error
	LastErrorTime  time.Time
}

// Stats represents database statistics
type Stats struct {
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration"`
	QueryCount      int64         `json:"query_count"`
	QueryErrors     int64         `json:"query_errors"`
	SlowQueryCount  int64         `json:"slow_query_count"`
}

// BaseStorage is the shared implementation of the Storage interface.
// Queries are written with ? placeholders and rebound per driver.
type BaseStorage struct {
	db      *sql.DB
	driver  string
	opts    Options
	logger  *zap.Logger
	metrics *Metrics
}

// NewBaseStorage creates new BaseStorage
func NewBaseStorage(driver, dsn string, opts Options, logger *zap.Logger) (*BaseStorage, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("failed to close database", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &BaseStorage{
		db:      db,
		driver:  driver,
		opts:    opts,
		logger:  logger,
		metrics: &Metrics{},
	}, nil
}

// rebind converts ? placeholders to the driver's native form
func (s *BaseStorage) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TxFn represents a transaction function
type TxFn func(*sql.Tx) error

// WithTransaction executes operations in a transaction
func (s *BaseStorage) WithTransaction(ctx context.Context, fn TxFn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("rollback failed during panic",
					zap.Error(rbErr),
					zap.Any("panic", p))
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed",
				zap.Error(rbErr),
				zap.Error(err))
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// ExecContext executes a statement
func (s *BaseStorage) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	// Timeout
	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	s.record(query, err, time.Since(start))

	return result, err
}

// Rows wraps sql.Rows, releasing the query-timeout context when the
// rows are closed. Cancelling at return would close the rows before
// the caller iterates them.
type Rows struct {
	*sql.Rows
	cancel context.CancelFunc
}

// Close closes the rows and releases the query-timeout context
func (r *Rows) Close() error {
	defer r.cancel()
	return r.Rows.Close()
}

// Row wraps sql.Row, releasing the query-timeout context after Scan
type Row struct {
	row    *sql.Row
	cancel context.CancelFunc
}

// Scan scans the row and releases the query-timeout context
func (r *Row) Scan(dest ...any) error {
	defer r.cancel()
	return r.row.Scan(dest...)
}

// QueryContext executes a query. The timeout context stays live until
// the returned rows are closed.
func (s *BaseStorage) QueryContext(ctx context.Context, query string, args ...any) (*Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	s.record(query, err, time.Since(start))
	if err != nil {
		cancel()
		return nil, err
	}

	return &Rows{Rows: rows, cancel: cancel}, nil
}

// QueryRowContext executes a single-row query. The timeout context
// stays live until the returned row is scanned.
func (s *BaseStorage) QueryRowContext(ctx context.Context, query string, args ...any) *Row {
	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)

	start := time.Now()
	row := s.db.QueryRowContext(ctx, s.rebind(query), args...)
	s.record(query, nil, time.Since(start))

	return &Row{row: row, cancel: cancel}
}

// record updates query metrics and logs slow queries
func (s *BaseStorage) record(query string, err error, duration time.Duration) {
	atomic.AddInt64(&s.metrics.QueryCount, 1)
	if err != nil {
		atomic.AddInt64(&s.metrics.QueryErrors, 1)
		s.metrics.LastError = err
		s.metrics.LastErrorTime = time.Now()
	}

	if duration > s.opts.SlowQueryTime {
		atomic.AddInt64(&s.metrics.SlowQueryCount, 1)
		s.logger.Warn("slow query detected",
			zap.String("query", query),
			zap.Duration("duration", duration))
	}
}

// Close closes the database
func (s *BaseStorage) Close() error {
	return s.db.Close()
}

// Ping pings the database
func (s *BaseStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the driver name
func (s *BaseStorage) Driver() string {
	return s.driver
}

// Unwrap returns the underlying sql.DB
func (s *BaseStorage) Unwrap() (*sql.DB, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database is not initialized")
	}
	return s.db, nil
}

// Stats returns database statistics
func (s *BaseStorage) Stats() *Stats {
	dbStats := s.db.Stats()
	return &Stats{
		OpenConnections: dbStats.OpenConnections,
		InUse:           dbStats.InUse,
		Idle:            dbStats.Idle,
		WaitCount:       dbStats.WaitCount,
		WaitDuration:    dbStats.WaitDuration,
		QueryCount:      atomic.LoadInt64(&s.metrics.QueryCount),
		QueryErrors:     atomic.LoadInt64(&s.metrics.QueryErrors),
		SlowQueryCount:  atomic.LoadInt64(&s.metrics.SlowQueryCount),
	}
}

// nullString maps an empty string to SQL NULL
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullPlatform maps an empty platform to SQL NULL
func nullPlatform(p types.Platform) sql.NullString {
	return sql.NullString{String: string(p), Valid: p != ""}
}

// scanScope converts nullable scope columns back to a Scope
func scanScope(env, platform sql.NullString) types.Scope {
	return types.Scope{
		Environment: env.String,
		Platform:    types.Platform(platform.String),
	}
}
