// Package store provides an in-memory PackageStore for ledger tests and
// local tooling.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/lesson-booking/generic"
)

// =============================================================================
// MEMORY STORE - In-memory package ledger (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	packages    map[generic.PackageID]generic.OrderedPackage
	entries     map[generic.PackageID][]generic.LedgerEntry
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		packages:    make(map[generic.PackageID]generic.OrderedPackage),
		entries:     make(map[generic.PackageID][]generic.LedgerEntry),
		idempotency: make(map[string]bool),
	}
}

func (m *Memory) GetPackage(_ context.Context, id generic.PackageID) (*generic.OrderedPackage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id), nil
}

func (m *Memory) getLocked(id generic.PackageID) *generic.OrderedPackage {
	p, ok := m.packages[id]
	if !ok {
		return nil
	}
	return &p
}

// SavePackage inserts or replaces a package. The version is bumped on replace.
func (m *Memory) SavePackage(_ context.Context, p generic.OrderedPackage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.packages[p.ID]; ok {
		p.Version = old.Version + 1
	}
	m.packages[p.ID] = p
	return nil
}

func (m *Memory) CompareAndSwapNumberClass(_ context.Context, id generic.PackageID, expectedVersion int64, numberClass int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casLocked(id, expectedVersion, numberClass)
}

func (m *Memory) casLocked(id generic.PackageID, expectedVersion int64, numberClass int) error {
	p, ok := m.packages[id]
	if !ok || p.Version != expectedVersion {
		return generic.ErrConcurrentModification
	}
	p.NumberClass = numberClass
	p.Version++
	m.packages[id] = p
	return nil
}

// AppendLedgerEntry adds an entry. Append-only.
func (m *Memory) AppendLedgerEntry(_ context.Context, e generic.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Memory) appendLocked(e generic.LedgerEntry) error {
	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}

	// Keep entries ordered by CreatedAt so ListLedgerEntries needs no sort.
	list := m.entries[e.PackageID]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt > e.CreatedAt
	})
	list = append(list, generic.LedgerEntry{})
	copy(list[i+1:], list[i:])
	list[i] = e
	m.entries[e.PackageID] = list

	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) LedgerEntryExists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) ListLedgerEntries(_ context.Context, id generic.PackageID) ([]generic.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]generic.LedgerEntry, len(m.entries[id]))
	copy(out, m.entries[id])
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a view that holds the store lock. Writes go straight
// to the maps and are rolled back from a snapshot when fn fails.
func (m *Memory) WithTx(_ context.Context, fn func(generic.PackageStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	packages    map[generic.PackageID]generic.OrderedPackage
	entries     map[generic.PackageID][]generic.LedgerEntry
	idempotency map[string]bool
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		packages:    make(map[generic.PackageID]generic.OrderedPackage, len(m.packages)),
		entries:     make(map[generic.PackageID][]generic.LedgerEntry, len(m.entries)),
		idempotency: make(map[string]bool, len(m.idempotency)),
	}
	for k, v := range m.packages {
		s.packages[k] = v
	}
	for k, v := range m.entries {
		s.entries[k] = append([]generic.LedgerEntry{}, v...)
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.packages = s.packages
	m.entries = s.entries
	m.idempotency = s.idempotency
}

// txView is the PackageStore handed to WithTx callbacks. The parent lock is
// already held.
type txView struct {
	parent *Memory
}

func (v *txView) GetPackage(_ context.Context, id generic.PackageID) (*generic.OrderedPackage, error) {
	return v.parent.getLocked(id), nil
}

func (v *txView) SavePackage(_ context.Context, p generic.OrderedPackage) error {
	if old, ok := v.parent.packages[p.ID]; ok {
		p.Version = old.Version + 1
	}
	v.parent.packages[p.ID] = p
	return nil
}

func (v *txView) CompareAndSwapNumberClass(_ context.Context, id generic.PackageID, expectedVersion int64, numberClass int) error {
	return v.parent.casLocked(id, expectedVersion, numberClass)
}

func (v *txView) AppendLedgerEntry(_ context.Context, e generic.LedgerEntry) error {
	return v.parent.appendLocked(e)
}

func (v *txView) LedgerEntryExists(_ context.Context, idempotencyKey string) (bool, error) {
	return v.parent.idempotency[idempotencyKey], nil
}

func (v *txView) ListLedgerEntries(_ context.Context, id generic.PackageID) ([]generic.LedgerEntry, error) {
	return append([]generic.LedgerEntry{}, v.parent.entries[id]...), nil
}
