/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Opens a SQLite database, creates the schema and returns a store that
  implements generic.TxStore through store/sqlstore. Used for local
  development, demos and every test in the repository (":memory:").

KEY TABLES:
  bookings:         Lessons with snapshots, memo and lifecycle stamps
  trial_bookings:   Mirror rows for trial-package bookings
  status_events:    Append-only history of committed transitions
  ordered_packages: Lesson credit with an optimistic version column
  ledger_entries:   Append-only credit changes with idempotency keys
  calendars:        30-minute teacher slots
  student_leaves, reservations, teacher_absences: Availability records
  teacher_stats, daily_counters: Counters updated by compare-and-swap

INDEXES:
  Critical invariants are unique indexes, not application checks:
  - ux_bookings_teacher_live: no two live bookings for a teacher at one start
  - ux_bookings_student_live: no two live bookings for a student at one start
  - ux_ledger_entries_key:    idempotency of credit changes
  - ux_calendars_teacher_start: one slot per teacher per start

CONCURRENCY:
  SQLite allows a single writer. The pool is limited to one connection so
  transactions serialize and in-memory databases are shared by all callers.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/booking.db", sqlstore.WithFallbackTeacher(1))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlstore: Query implementation shared with PostgreSQL
  - store/postgres: Production backend with goose migrations
*/
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/lesson-booking/store/sqlstore"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	*sqlstore.Store
}

// Dialect describes SQLite to the shared store.
var Dialect = sqlstore.Dialect{
	Name:            "sqlite",
	UniqueViolation: uniqueViolation,
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...sqlstore.Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{Store: sqlstore.New(db, Dialect, opts...)}, nil
}

func uniqueViolation(err error) (string, bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return "", false
	}
	if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return sqliteErr.Error(), true
	}
	return "", false
}

// migrate creates the database schema.
func migrate(db *sql.DB) error {
	schema := `
	-- Catalog
	CREATE TABLE IF NOT EXISTS teachers (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		min_lead_minutes INTEGER NOT NULL DEFAULT 0,
		cancel_window_minutes INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS students (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS courses (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS units (
		id INTEGER PRIMARY KEY,
		course_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		test_topic_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS regular_slots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		teacher_id INTEGER NOT NULL,
		course_id INTEGER NOT NULL,
		unit_id INTEGER NOT NULL,
		ordered_package_id INTEGER NOT NULL,
		week_offset INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_regular_slots_student
		ON regular_slots(student_id);

	-- Calendar slots
	CREATE TABLE IF NOT EXISTS calendars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		teacher_id INTEGER NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS ux_calendars_teacher_start
		ON calendars(teacher_id, start_time);

	-- Entitlement
	CREATE TABLE IF NOT EXISTS ordered_packages (
		id INTEGER PRIMARY KEY,
		student_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		package_type TEXT NOT NULL,
		learning_frequency TEXT NOT NULL DEFAULT 'NORMAL',
		number_class INTEGER NOT NULL,
		paid_number_class INTEGER NOT NULL DEFAULT 0,
		original_number_class INTEGER NOT NULL,
		activation_date INTEGER NOT NULL DEFAULT 0,
		day_of_use INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		CHECK (number_class >= 0)
	);

	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		package_id INTEGER NOT NULL,
		booking_id INTEGER NOT NULL DEFAULT 0,
		direction TEXT NOT NULL,
		delta INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		actor_id INTEGER NOT NULL DEFAULT 0,
		actor_role TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_entries_key
		ON ledger_entries(idempotency_key) WHERE idempotency_key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_package
		ON ledger_entries(package_id, seq);

	-- Availability
	CREATE TABLE IF NOT EXISTS student_leaves (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_student_leaves_student
		ON student_leaves(student_id, start_time);

	CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_student
		ON reservations(student_id, start_time);

	CREATE TABLE IF NOT EXISTS teacher_absences (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		teacher_id INTEGER NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		booking_id INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		is_auto BOOLEAN NOT NULL DEFAULT FALSE,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_teacher_absences_teacher
		ON teacher_absences(teacher_id, start_time);

	-- Bookings
	CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL UNIQUE,
		student_id INTEGER NOT NULL,
		teacher_id INTEGER NOT NULL,
		exclusive_teacher_id INTEGER,
		course_id INTEGER NOT NULL,
		unit_id INTEGER NOT NULL,
		ordered_package_id INTEGER NOT NULL,
		calendar_id INTEGER NOT NULL,
		status INTEGER NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		snapshot_json TEXT NOT NULL,
		memo_json TEXT,
		memo_submitted_at INTEGER NOT NULL DEFAULT 0,
		late_memo BOOLEAN NOT NULL DEFAULT FALSE,
		best_memo BOOLEAN NOT NULL DEFAULT FALSE,
		substitute_for_teacher_id INTEGER NOT NULL DEFAULT 0,
		changed_from_id INTEGER NOT NULL DEFAULT 0,
		replaced_by_id INTEGER NOT NULL DEFAULT 0,
		reported_absence_at INTEGER NOT NULL DEFAULT 0,
		absence_report TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL DEFAULT 0,
		finished_at INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		is_regular_booking BOOLEAN NOT NULL DEFAULT FALSE,
		join_url TEXT NOT NULL DEFAULT '',
		created_by INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	-- CRITICAL: No double booking. Live = PENDING(2), CONFIRMED(3), TEACHING(4), TEACHER_CONFIRMED(10)
	CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_teacher_live
		ON bookings(exclusive_teacher_id, start_time)
		WHERE status IN (2, 3, 4, 10);
	CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_student_live
		ON bookings(student_id, start_time)
		WHERE status IN (2, 3, 4, 10);

	CREATE INDEX IF NOT EXISTS idx_bookings_teacher_start
		ON bookings(teacher_id, start_time);
	CREATE INDEX IF NOT EXISTS idx_bookings_student_start
		ON bookings(student_id, start_time);
	CREATE INDEX IF NOT EXISTS idx_bookings_calendar
		ON bookings(calendar_id, id);
	CREATE INDEX IF NOT EXISTS idx_bookings_package
		ON bookings(ordered_package_id, start_time);

	CREATE TABLE IF NOT EXISTS trial_bookings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		booking_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		memo_json TEXT,
		recommendation_letter_link TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS ux_trial_bookings_booking
		ON trial_bookings(booking_id);

	CREATE TABLE IF NOT EXISTS status_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		booking_id INTEGER NOT NULL,
		from_status INTEGER NOT NULL,
		to_status INTEGER NOT NULL,
		actor_id INTEGER NOT NULL DEFAULT 0,
		actor_role TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_status_events_booking
		ON status_events(booking_id, id);

	-- Counters
	CREATE TABLE IF NOT EXISTS teacher_stats (
		teacher_id INTEGER PRIMARY KEY,
		completed_lessons INTEGER NOT NULL DEFAULT 0,
		taught_hours TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS daily_counters (
		name TEXT NOT NULL,
		day TEXT NOT NULL,
		value INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (name, day)
	);
	`

	_, err := db.Exec(schema)
	return err
}
