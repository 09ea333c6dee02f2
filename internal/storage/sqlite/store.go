// Package sqlite is the only production Storage backend (spec.md §2,
// components B/C/H/I): an embedded modernc.org/sqlite database, one file
// per engine instance, with a dedicated-connection BEGIN IMMEDIATE
// transaction discipline and otel-instrumented retry/tracing.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/contactsdb/internal/engineerr"
	"github.com/steveyegge/contactsdb/internal/storage/sqlite/migrations"
	"github.com/steveyegge/contactsdb/internal/types"
)

// Config tunes the SQLite backend's locking and retry behavior (spec.md §5
// concurrency model: single-writer, exclusive locking discipline with
// short-lived transactions).
type Config struct {
	// Path is the database file path, or ":memory:" for a private
	// in-process database (tests only — an in-memory database cannot be
	// shared across connections without shared-cache mode, so tests use a
	// t.TempDir()-backed file instead; see test_helpers_test.go).
	Path string

	// BusyTimeout bounds how long SQLite itself waits on a lock before
	// returning SQLITE_BUSY, before the application-level backoff below
	// ever gets a chance to retry.
	BusyTimeout time.Duration

	// MaxElapsedRetry bounds how long beginImmediateWithRetry keeps
	// retrying BEGIN IMMEDIATE against SQLITE_BUSY.
	MaxElapsedRetry time.Duration
}

func applyConfigDefaults(cfg *Config) {
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxElapsedRetry <= 0 {
		cfg.MaxElapsedRetry = 10 * time.Second
	}
}

// Store is the SQLite-backed implementation of storage.Storage.
type Store struct {
	db  *sql.DB
	cfg Config
}

// New opens (creating if absent) the database at cfg.Path and runs the
// initial schema migration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	applyConfigDefaults(&cfg)
	if cfg.Path == "" {
		return nil, engineerr.New(engineerr.BadArgument, "sqlite.New", "path is required")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite.New: open: %w", err)
	}
	// A single physical writer connection keeps WAL-mode locking
	// predictable; readers share it too since beginImmediateWithRetry
	// already serializes writers at the application level (spec.md §5).
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite.New: ping: %w", err)
	}
	if err := migrations.MigrateInitialSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite.New: migrate: %w", err)
	}
	if err := bootstrapSelfContacts(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite.New: bootstrap: %w", err)
	}

	return &Store{db: db, cfg: cfg}, nil
}

// bootstrapSelfContacts guarantees spec.md invariant 7: contactId 1 (the
// local "myself" contact) and contactId 2 (its aggregate) always exist.
// INSERT OR IGNORE makes this idempotent across repeated opens of the same
// database file.
func bootstrapSelfContacts(ctx context.Context, db *sql.DB) error {
	now := formatTime(time.Now())
	_, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO contacts (contact_id, sync_target, created, modified)
		VALUES (?, ?, ?, ?)`,
		types.SelfLocalContactID, string(types.SyncTargetLocal), now, now)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR IGNORE INTO contacts (contact_id, sync_target, created, modified)
		VALUES (?, ?, ?, ?)`,
		types.SelfAggregateContactID, string(types.SyncTargetAggregate), now, now)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var tracer = otel.Tracer("github.com/steveyegge/contactsdb/storage/sqlite")

var instruments struct {
	retryCount metric.Int64Counter
	txDuration metric.Float64Histogram
}

func init() {
	m := otel.Meter("github.com/steveyegge/contactsdb/storage/sqlite")
	instruments.retryCount, _ = m.Int64Counter("contactsdb.db.retry_count",
		metric.WithDescription("BEGIN IMMEDIATE retries due to SQLITE_BUSY"),
		metric.WithUnit("{retry}"),
	)
	instruments.txDuration, _ = m.Float64Histogram("contactsdb.db.tx_duration_ms",
		metric.WithDescription("Wall-clock duration of a committed write transaction"),
		metric.WithUnit("ms"),
	)
}

// beginImmediateWithRetry starts a BEGIN IMMEDIATE transaction on conn,
// retrying with exponential backoff on SQLITE_BUSY. database/sql's BeginTx
// does not expose SQLite's locking modes (modernc.org/sqlite's BeginTx
// always uses DEFERRED), so the transaction is started with raw SQL on a
// dedicated connection instead.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, maxElapsed time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err != nil && isBusyError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if attempts > 1 {
		instruments.retryCount.Add(ctx, int64(attempts-1))
	}
	return err
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "SQLITE_BUSY") ||
		strings.Contains(s, "database is locked") ||
		strings.Contains(s, "database table is locked")
}

// withImmediateTx acquires a dedicated connection, opens a BEGIN IMMEDIATE
// transaction (retrying on SQLITE_BUSY), runs fn, and commits — or rolls
// back if fn returns an error or panics. Rollback uses a background
// context so cleanup runs even if ctx was canceled mid-transaction.
func (s *Store) withImmediateTx(ctx context.Context, spanName string, fn func(conn *sql.Conn) error) error {
	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "sqlite")))
	defer span.End()

	start := time.Now()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return endSpanErr(span, fmt.Errorf("%s: acquire connection: %w", spanName, err))
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn, s.cfg.MaxElapsedRetry); err != nil {
		return endSpanErr(span, fmt.Errorf("%s: begin immediate: %w", spanName, err))
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return endSpanErr(span, err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return endSpanErr(span, fmt.Errorf("%s: commit: %w", spanName, err))
	}
	committed = true
	instruments.txDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	return nil
}

func endSpanErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
