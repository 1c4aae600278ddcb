/*
ledger.go - Entitlement ledger over ordered packages

PURPOSE:
  The ledger is the only writer of OrderedPackage.NumberClass. Each change
  is a compare-and-swap on the package version plus an append-only entry
  that records direction, balance after, actor and an idempotency key.

CRITICAL INVARIANTS:
  1. RE-FETCH: The package is re-read from the store on every attempt.
     Snapshots embedded in bookings are never used for credit decisions.
  2. CAS: The write only lands if nobody changed the package since the read.
  3. IDEMPOTENT: An idempotency key applies at most once. A replayed key is
     a no-op that returns the current package.
  4. CONSERVATION: original_number_class minus the initial consumption plus
     the sum of entry deltas equals the current number_class.

EXAMPLE FLOW:
  Package with 5 lessons:
  1. Booking created:           debit  -1 -> 4   key booking:<uid>:create
  2. Admin cancels the booking: credit +1 -> 5   key booking:17:v2:credit
  3. Same request retried:      no-op      -> 5   (key exists)

SEE ALSO:
  - store.go: PackageStore interface
  - booking/machine.go: Decides direction from the status transition
*/
package generic

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

// Adjustment describes one debit or credit of a single lesson.
type Adjustment struct {
	PackageID      PackageID
	BookingID      BookingID
	Direction      LedgerDirection
	Reason         string
	IdempotencyKey string
	Actor          Actor
}

// Ledger applies adjustments with re-fetch and compare-and-swap.
type Ledger struct {
	Clock      Clock
	MaxRetries int
}

func NewLedger(clock Clock) *Ledger {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Ledger{Clock: clock, MaxRetries: 3}
}

// FindPackage returns the live package or a NotFound error.
func (l *Ledger) FindPackage(ctx context.Context, store PackageStore, id PackageID) (*OrderedPackage, error) {
	pkg, err := store.GetPackage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ledger.FindPackage: %w", err)
	}
	if pkg == nil {
		return nil, NotFound("package_not_found", "ordered package %d not found", id)
	}
	return pkg, nil
}

// Apply debits or credits one lesson. It must run inside the same store
// transaction as the booking write that caused it.
func (l *Ledger) Apply(ctx context.Context, store PackageStore, adj Adjustment) (*OrderedPackage, error) {
	const op = "ledger.Apply"

	if adj.IdempotencyKey != "" {
		exists, err := store.LedgerEntryExists(ctx, adj.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if exists {
			return l.FindPackage(ctx, store, adj.PackageID)
		}
	}

	delta := 1
	if adj.Direction == LedgerDebit {
		delta = -1
	}

	for attempt := 0; ; attempt++ {
		pkg, err := l.FindPackage(ctx, store, adj.PackageID)
		if err != nil {
			return nil, err
		}

		next := pkg.NumberClass + delta
		if next < 0 {
			return nil, Exhausted("no_lessons", "package %d has no remaining lessons", pkg.ID)
		}
		if next > pkg.OriginalNumberClass {
			return nil, Internal("ledger_overflow",
				fmt.Errorf("package %d would hold %d of %d lessons", pkg.ID, next, pkg.OriginalNumberClass))
		}

		err = store.CompareAndSwapNumberClass(ctx, pkg.ID, pkg.Version, next)
		if errors.Is(err, ErrConcurrentModification) && attempt < l.MaxRetries {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		entry := LedgerEntry{
			ID:             uuid.NewString(),
			PackageID:      pkg.ID,
			BookingID:      adj.BookingID,
			Direction:      adj.Direction,
			Delta:          delta,
			BalanceAfter:   next,
			Reason:         adj.Reason,
			IdempotencyKey: adj.IdempotencyKey,
			ActorID:        adj.Actor.ID,
			ActorRole:      adj.Actor.Role,
			CreatedAt:      Ms(l.Clock.Now()),
		}
		if err := store.AppendLedgerEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		pkg.NumberClass = next
		pkg.Version++
		return pkg, nil
	}
}
