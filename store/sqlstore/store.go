/*
Package sqlstore implements the generic storage interfaces over database/sql.

PURPOSE:
  One implementation of generic.TxStore shared by the SQLite and PostgreSQL
  backends. The two differ only in placeholder syntax, schema DDL and how a
  unique-constraint violation is reported; those differences live in a
  Dialect supplied by store/sqlite and store/postgres.

INTERFACES IMPLEMENTED:
  generic.Store:   Catalog, slots, packages, ledger, leaves, bookings, stats
  generic.TxStore: WithTx for atomic multi-table writes

INVARIANTS ENFORCED BY THE SCHEMA:
  - ux_bookings_teacher_live: one live booking per (teacher, start).
    The fallback teacher is stored with a NULL exclusive_teacher_id and is
    therefore exempt.
  - ux_bookings_student_live: one live booking per (student, start).
  - ux_ledger_entries_key: a ledger idempotency key applies once.
  - ux_trial_bookings_booking: one trial mirror per booking.

TRANSACTIONS:
  WithTx hands fn a Store bound to the *sql.Tx. Every read inside fn goes
  through the same transaction, so re-fetches see uncommitted writes of the
  current transaction and nothing else. A nested WithTx joins the outer one.

SEE ALSO:
  - generic/store.go: Interface definitions
  - store/sqlite/sqlite.go: SQLite dialect and schema
  - store/postgres/postgres.go: PostgreSQL dialect and goose migrations
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/warp/lesson-booking/generic"
)

// Dialect captures the backend differences.
type Dialect struct {
	Name string

	// Numbered placeholders ($1, $2, ...) instead of "?".
	NumberedPlaceholders bool

	// UniqueViolation reports whether err is a unique-constraint failure and
	// returns the constraint name or driver message for classification.
	UniqueViolation func(err error) (string, bool)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements generic.TxStore.
type Store struct {
	db      *sql.DB
	q       querier
	dialect Dialect
	inTx    bool

	fallbackTeacherID generic.TeacherID
}

// Option configures a Store.
type Option func(*Store)

// WithFallbackTeacher marks the teacher id exempt from the per-teacher slot
// uniqueness index.
func WithFallbackTeacher(id generic.TeacherID) Option {
	return func(s *Store) { s.fallbackTeacherID = id }
}

// New wraps an open database. The schema must already exist.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{db: db, q: db, dialect: dialect}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying pool for migrations and health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the backend name.
func (s *Store) Dialect() string { return s.dialect.Name }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &Store{
		db:                s.db,
		q:                 sqlTx,
		dialect:           s.dialect,
		inTx:              true,
		fallbackTeacherID: s.fallbackTeacherID,
	}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset deletes every row. Used by the demo scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(tx generic.Store) error {
		q := tx.(*Store).q
		tables := []string{
			"status_events", "trial_bookings", "bookings", "daily_counters", "teacher_stats",
			"teacher_absences", "reservations", "student_leaves", "ledger_entries",
			"ordered_packages", "calendars", "regular_slots", "units", "courses",
			"students", "teachers",
		}
		for _, table := range tables {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("sqlstore.Reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) rebind(query string) string {
	if !s.dialect.NumberedPlaceholders {
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

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.rebind(query), args...)
}

// insertReturningID runs an INSERT ... RETURNING id.
func (s *Store) insertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := s.queryRow(ctx, query, args...).Scan(&id)
	return id, err
}

// classify maps unique violations to engine sentinels.
func (s *Store) classify(err error) error {
	if err == nil || s.dialect.UniqueViolation == nil {
		return err
	}
	detail, ok := s.dialect.UniqueViolation(err)
	if !ok {
		return err
	}
	switch {
	case strings.Contains(detail, "ux_bookings_"), strings.Contains(detail, "bookings.start_time"),
		strings.Contains(detail, "ux_calendars_"), strings.Contains(detail, "calendars.start_time"):
		return generic.ErrSlotTaken
	case strings.Contains(detail, "ledger_entries"):
		return generic.ErrDuplicateIdempotencyKey
	}
	return err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
