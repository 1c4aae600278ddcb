package sqlstore

import (
	"context"
	"fmt"

	"github.com/warp/lesson-booking/generic"
)

// =============================================================================
// ORDERED PACKAGES (generic.PackageStore)
// =============================================================================

const packageColumns = `id, student_id, name, package_type, learning_frequency, number_class,
	paid_number_class, original_number_class, activation_date, day_of_use, version`

// SavePackage inserts or replaces a package record. Credit changes go through
// CompareAndSwapNumberClass instead.
func (s *Store) SavePackage(ctx context.Context, p generic.OrderedPackage) error {
	_, err := s.exec(ctx, `
		INSERT INTO ordered_packages (`+packageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (id) DO UPDATE SET
			student_id = excluded.student_id,
			name = excluded.name,
			package_type = excluded.package_type,
			learning_frequency = excluded.learning_frequency,
			number_class = excluded.number_class,
			paid_number_class = excluded.paid_number_class,
			original_number_class = excluded.original_number_class,
			activation_date = excluded.activation_date,
			day_of_use = excluded.day_of_use,
			version = ordered_packages.version + 1
	`, int64(p.ID), int64(p.StudentID), p.Name, string(p.Type), string(p.LearningFrequency),
		p.NumberClass, p.PaidNumberClass, p.OriginalNumberClass, p.ActivationDate, p.DayOfUse)
	if err != nil {
		return fmt.Errorf("sqlstore.SavePackage: %w", err)
	}
	return nil
}

func (s *Store) GetPackage(ctx context.Context, id generic.PackageID) (*generic.OrderedPackage, error) {
	var p generic.OrderedPackage
	err := s.queryRow(ctx,
		"SELECT "+packageColumns+" FROM ordered_packages WHERE id = ?",
		int64(id),
	).Scan(&p.ID, &p.StudentID, &p.Name, &p.Type, &p.LearningFrequency, &p.NumberClass,
		&p.PaidNumberClass, &p.OriginalNumberClass, &p.ActivationDate, &p.DayOfUse, &p.Version)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore.GetPackage: %w", err)
	}
	return &p, nil
}

// CompareAndSwapNumberClass is the single conditional write on package credit.
func (s *Store) CompareAndSwapNumberClass(ctx context.Context, id generic.PackageID, expectedVersion int64, numberClass int) error {
	const op = "sqlstore.CompareAndSwapNumberClass"

	res, err := s.exec(ctx, `
		UPDATE ordered_packages
		SET number_class = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, numberClass, int64(id), expectedVersion)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return generic.ErrConcurrentModification
	}
	return nil
}

// =============================================================================
// LEDGER ENTRIES (append-only)
// =============================================================================

func (s *Store) AppendLedgerEntry(ctx context.Context, e generic.LedgerEntry) error {
	_, err := s.exec(ctx, `
		INSERT INTO ledger_entries
		(id, package_id, booking_id, direction, delta, balance_after, reason, idempotency_key,
		 actor_id, actor_role, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, int64(e.PackageID), int64(e.BookingID), string(e.Direction), e.Delta, e.BalanceAfter,
		e.Reason, nullString(e.IdempotencyKey), e.ActorID, string(e.ActorRole), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlstore.AppendLedgerEntry: %w", s.classify(err))
	}
	return nil
}

func (s *Store) LedgerEntryExists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := s.queryRow(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlstore.LedgerEntryExists: %w", err)
	}
	return count > 0, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, id generic.PackageID) ([]generic.LedgerEntry, error) {
	rows, err := s.query(ctx, `
		SELECT id, package_id, booking_id, direction, delta, balance_after, reason, COALESCE(idempotency_key, ''),
		       actor_id, actor_role, created_at
		FROM ledger_entries
		WHERE package_id = ?
		ORDER BY seq ASC
	`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("sqlstore.ListLedgerEntries: %w", err)
	}
	defer rows.Close()

	var entries []generic.LedgerEntry
	for rows.Next() {
		var e generic.LedgerEntry
		if err := rows.Scan(&e.ID, &e.PackageID, &e.BookingID, &e.Direction, &e.Delta, &e.BalanceAfter,
			&e.Reason, &e.IdempotencyKey, &e.ActorID, &e.ActorRole, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
