package generic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warp/lesson-booking/generic"
	"github.com/warp/lesson-booking/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.March, 10, 8, 0, 0, 0, generic.LocalZone)

func newTestLedger(t *testing.T, numberClass int) (*generic.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	err := mem.SavePackage(context.Background(), generic.OrderedPackage{
		ID:                  1,
		StudentID:           7,
		Type:                generic.PackageStandard,
		NumberClass:         numberClass,
		OriginalNumberClass: 5,
		ActivationDate:      generic.Ms(testNow),
		DayOfUse:            30,
	})
	if err != nil {
		t.Fatalf("save package: %v", err)
	}
	return generic.NewLedger(generic.NewFixedClock(testNow)), mem
}

func debit(key string) generic.Adjustment {
	return generic.Adjustment{PackageID: 1, BookingID: 3, Direction: generic.LedgerDebit, IdempotencyKey: key, Reason: "test"}
}

func credit(key string) generic.Adjustment {
	return generic.Adjustment{PackageID: 1, BookingID: 3, Direction: generic.LedgerCredit, IdempotencyKey: key, Reason: "test"}
}

// conflictingStore fails the first n compare-and-swaps.
type conflictingStore struct {
	*store.Memory
	n int
}

func (c *conflictingStore) CompareAndSwapNumberClass(ctx context.Context, id generic.PackageID, v int64, nc int) error {
	if c.n > 0 {
		c.n--
		return generic.ErrConcurrentModification
	}
	return c.Memory.CompareAndSwapNumberClass(ctx, id, v, nc)
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestLedger_DebitAndCredit(t *testing.T) {
	ctx := context.Background()
	ledger, mem := newTestLedger(t, 5)

	pkg, err := ledger.Apply(ctx, mem, debit("booking:a:create"))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if pkg.NumberClass != 4 {
		t.Errorf("expected 4 lessons after debit, got %d", pkg.NumberClass)
	}

	pkg, err = ledger.Apply(ctx, mem, credit("booking:3:v1:credit"))
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if pkg.NumberClass != 5 {
		t.Errorf("expected 5 lessons after credit, got %d", pkg.NumberClass)
	}

	entries, _ := mem.ListLedgerEntries(ctx, 1)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].BalanceAfter != 4 || entries[1].BalanceAfter != 5 {
		t.Errorf("unexpected balances %d, %d", entries[0].BalanceAfter, entries[1].BalanceAfter)
	}
	sum := 0
	for _, e := range entries {
		sum += e.Delta
	}
	if sum != 0 {
		t.Errorf("expected deltas to cancel out, got %d", sum)
	}
}

func TestLedger_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	ledger, mem := newTestLedger(t, 5)

	for i := 0; i < 3; i++ {
		if _, err := ledger.Apply(ctx, mem, debit("booking:a:create")); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	pkg, _ := mem.GetPackage(ctx, 1)
	if pkg.NumberClass != 4 {
		t.Errorf("replayed key must apply once, got %d lessons", pkg.NumberClass)
	}
}

func TestLedger_NeverNegative(t *testing.T) {
	ledger, mem := newTestLedger(t, 0)

	_, err := ledger.Apply(context.Background(), mem, debit("k"))

	if !errors.Is(err, generic.ErrEntitlementExhausted) {
		t.Fatalf("expected entitlement exhausted, got %v", err)
	}
}

func TestLedger_OverflowIsInternal(t *testing.T) {
	ledger, mem := newTestLedger(t, 5)

	_, err := ledger.Apply(context.Background(), mem, credit("k"))

	if generic.KindOf(err) != generic.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestLedger_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	ledger, mem := newTestLedger(t, 5)
	cs := &conflictingStore{Memory: mem, n: 2}

	pkg, err := ledger.Apply(ctx, cs, debit("k"))
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if pkg.NumberClass != 4 {
		t.Errorf("expected 4 lessons, got %d", pkg.NumberClass)
	}
}

func TestLedger_GivesUpAfterRetries(t *testing.T) {
	ledger, mem := newTestLedger(t, 5)
	cs := &conflictingStore{Memory: mem, n: 10}

	_, err := ledger.Apply(context.Background(), cs, debit("k"))

	if !generic.IsRetryable(err) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
	entries, _ := mem.ListLedgerEntries(context.Background(), 1)
	if len(entries) != 0 {
		t.Errorf("no entry may be written without a swap, got %d", len(entries))
	}
}

func TestLedger_RollbackWithTransaction(t *testing.T) {
	ctx := context.Background()
	ledger, mem := newTestLedger(t, 5)

	err := mem.WithTx(ctx, func(tx generic.PackageStore) error {
		if _, err := ledger.Apply(ctx, tx, debit("k")); err != nil {
			return err
		}
		return errors.New("booking insert failed")
	})
	if err == nil {
		t.Fatal("expected the callback error")
	}

	pkg, _ := mem.GetPackage(ctx, 1)
	if pkg.NumberClass != 5 {
		t.Errorf("debit must roll back, got %d lessons", pkg.NumberClass)
	}
	if exists, _ := mem.LedgerEntryExists(ctx, "k"); exists {
		t.Error("idempotency key must roll back")
	}
}

func TestLedger_UnknownPackage(t *testing.T) {
	ledger, mem := newTestLedger(t, 5)

	_, err := ledger.Apply(context.Background(), mem, generic.Adjustment{PackageID: 99, Direction: generic.LedgerDebit})

	if !generic.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
