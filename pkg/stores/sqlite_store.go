package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/openfroyo/hostgate/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultLeaseTTL bounds how long a crashed holder can block an operation kind.
const DefaultLeaseTTL = 5 * time.Minute

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db    *sql.DB
	cfg   Config
	clock clock.Clock
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long a writer waits for the database lock held by another
	// connection or process before the statement fails.
	BusyTimeout time.Duration

	// LeaseTTL is added to the acquisition time to compute a lease expiry.
	LeaseTTL time.Duration

	// Clock supplies the current time. Defaults to the wall clock.
	Clock clock.Clock
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.LeaseTTL < 0 {
		return nil, fmt.Errorf("lease TTL must be positive, got %s", cfg.LeaseTTL)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	// A private in-memory database exists per connection, so the pool must not grow.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:   cfg,
		clock: cfg.Clock,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// dsn builds a modernc.org/sqlite connection string. Pragmas are applied to every
// pooled connection, so each process and connection waits on the same busy timeout.
func (s *SQLiteStore) dsn() string {
	if s.cfg.Path == memoryPath {
		return fmt.Sprintf("file::memory:?_pragma=busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds())
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		s.cfg.Path, s.cfg.BusyTimeout.Milliseconds())
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Acquire inserts a lease for kind. The unique index on operation_kind makes the
// insert the only arbiter between concurrent callers, across processes. A uniqueness
// violation means the kind is held and yields (nil, nil).
func (s *SQLiteStore) Acquire(ctx context.Context, kind engine.OperationKind) (*engine.Lease, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	if s.db == nil {
		return nil, unavailable("database not initialized", nil)
	}

	now := s.clock.Now()
	lease := &engine.Lease{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: fromMillis(now.UnixMilli()),
		ExpiresAt: fromMillis(now.Add(s.cfg.LeaseTTL).UnixMilli()),
	}

	query := `
		INSERT INTO operation_leases (lease_id, operation_kind, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		lease.ID,
		string(lease.Kind),
		lease.CreatedAt.UnixMilli(),
		lease.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil
		}
		return nil, unavailable("failed to acquire lease", err).WithOperation(string(kind))
	}

	return lease, nil
}

// Release deletes a lease by ID. Unknown IDs are not an error.
func (s *SQLiteStore) Release(ctx context.Context, leaseID string) error {
	if s.db == nil {
		return unavailable("database not initialized", nil)
	}

	query := `DELETE FROM operation_leases WHERE lease_id = ?`

	if _, err := s.db.ExecContext(ctx, query, leaseID); err != nil {
		return unavailable("failed to release lease", err).WithDetail("lease_id", leaseID)
	}

	return nil
}

// SweepExpired deletes every lease whose expiry has passed, whoever created it.
func (s *SQLiteStore) SweepExpired(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, unavailable("database not initialized", nil)
	}

	query := `DELETE FROM operation_leases WHERE expires_at <= ?`

	result, err := s.db.ExecContext(ctx, query, s.clock.Now().UnixMilli())
	if err != nil {
		return 0, unavailable("failed to sweep expired leases", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("failed to get rows affected", err)
	}

	return rows, nil
}

// ListActive lists leases that have not expired.
func (s *SQLiteStore) ListActive(ctx context.Context) ([]*engine.Lease, error) {
	return s.ListLeases(ctx, false)
}

// ListLeases lists stored leases, optionally including expired ones not yet swept.
func (s *SQLiteStore) ListLeases(ctx context.Context, includeExpired bool) ([]*engine.Lease, error) {
	if s.db == nil {
		return nil, unavailable("database not initialized", nil)
	}

	query := `
		SELECT lease_id, operation_kind, created_at, expires_at
		FROM operation_leases
		WHERE (? OR expires_at > ?)
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, includeExpired, s.clock.Now().UnixMilli())
	if err != nil {
		return nil, unavailable("failed to list leases", err)
	}
	defer rows.Close()

	leases := []*engine.Lease{}
	for rows.Next() {
		var (
			lease     engine.Lease
			kind      string
			createdAt int64
			expiresAt int64
		)
		if err := rows.Scan(&lease.ID, &kind, &createdAt, &expiresAt); err != nil {
			return nil, unavailable("failed to scan lease", err)
		}
		lease.Kind = engine.OperationKind(kind)
		lease.CreatedAt = fromMillis(createdAt)
		lease.ExpiresAt = fromMillis(expiresAt)
		leases = append(leases, &lease)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("error iterating leases", err)
	}

	return leases, nil
}

// RecordOperation appends an audit entry for one Execute call.
func (s *SQLiteStore) RecordOperation(ctx context.Context, record *engine.AuditRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.clock.Now()
	}

	query := `
		INSERT INTO operation_audit (
			operation_kind, resource_id, actor, outcome, reason, state,
			error_code, lease_id, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		string(record.Kind),
		record.ResourceID,
		record.Actor,
		record.Outcome,
		record.Reason,
		record.State,
		record.ErrorCode,
		record.LeaseID,
		record.Duration.Milliseconds(),
		record.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record operation: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	record.ID = id
	return nil
}

// ListOperations lists audit entries, newest first, optionally filtered by kind.
func (s *SQLiteStore) ListOperations(ctx context.Context, kind *engine.OperationKind, limit, offset int) ([]*engine.AuditRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	var kindFilter *string
	if kind != nil {
		k := string(*kind)
		kindFilter = &k
	}

	query := `
		SELECT id, operation_kind, resource_id, actor, outcome, reason, state,
			   error_code, lease_id, duration_ms, created_at
		FROM operation_audit
		WHERE (? IS NULL OR operation_kind = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, kindFilter, kindFilter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	records := []*engine.AuditRecord{}
	for rows.Next() {
		var (
			record     engine.AuditRecord
			kindValue  string
			durationMS int64
			createdAt  int64
		)
		err := rows.Scan(
			&record.ID,
			&kindValue,
			&record.ResourceID,
			&record.Actor,
			&record.Outcome,
			&record.Reason,
			&record.State,
			&record.ErrorCode,
			&record.LeaseID,
			&durationMS,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		record.Kind = engine.OperationKind(kindValue)
		record.Duration = time.Duration(durationMS) * time.Millisecond
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return records, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// isUniqueViolation reports whether err is SQLite rejecting a duplicate key.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	switch sqliteErr.Code() {
	case sqlitelib.SQLITE_CONSTRAINT_UNIQUE, sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlitelib.SQLITE_CONSTRAINT:
		// Primary result code only: fall back to the message.
		return strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

func unavailable(message string, err error) *engine.EngineError {
	return engine.NewTransientError(message, err).WithCode(engine.ErrCodeLockStoreUnavailable)
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
