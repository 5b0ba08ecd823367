// Package store provides an in-memory loyalty store for testing and dev.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/movums/backoffice/loyalty"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	accounts  map[string]loyalty.Account
	entries   []loyalty.Entry
	sweepRuns []loyalty.SweepRun
}

func NewMemory() *Memory {
	return &Memory{accounts: make(map[string]loyalty.Account)}
}

func (m *Memory) GetAccount(_ context.Context, customerID string) (*loyalty.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(customerID), nil
}

func (m *Memory) getAccountLocked(customerID string) *loyalty.Account {
	acct, ok := m.accounts[customerID]
	if !ok {
		return nil
	}
	out := acct
	return &out
}

func (m *Memory) SaveAccount(_ context.Context, acct *loyalty.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.CustomerID] = *acct
	return nil
}

func (m *Memory) ListAccounts(_ context.Context, participatingOnly bool) ([]loyalty.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []loyalty.Account
	for _, acct := range m.accounts {
		if participatingOnly && !acct.Participates {
			continue
		}
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

// Append adds a ledger entry. Append-only.
func (m *Memory) Append(_ context.Context, e loyalty.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) ListByCustomer(_ context.Context, customerID string) ([]loyalty.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []loyalty.Entry
	for _, e := range m.entries {
		if e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	// Newest first, matching the SQL store's ordering.
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	return out, nil
}

func (m *Memory) ListBySale(_ context.Context, saleID string) ([]loyalty.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []loyalty.Entry
	for _, e := range m.entries {
		if e.SaleID == saleID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ListExpirable(_ context.Context, asOf time.Time) ([]loyalty.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []loyalty.Entry
	for _, e := range m.entries {
		if e.ExpiresAt != nil && e.ExpiresAt.Before(asOf) &&
			!e.IsRedemption && !e.Expired && e.Points.IsPositive() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) MarkExpired(_ context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.entries {
		if m.entries[i].ID == entryID {
			m.entries[i].Expired = true
			return nil
		}
	}
	return loyalty.ErrEntryNotFound
}

func (m *Memory) RecordSweepRun(_ context.Context, run loyalty.SweepRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepRuns = append(m.sweepRuns, run)
	return nil
}

// SweepRuns returns recorded sweep executions (test inspection).
func (m *Memory) SweepRuns() []loyalty.SweepRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]loyalty.SweepRun{}, m.sweepRuns...)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For the memory store this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(loyalty.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	view := &txMemoryView{parent: tm.Memory}
	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts map[string]loyalty.Account
	entries  []loyalty.Entry
}

func (tm *TxMemory) snapshot() memorySnapshot {
	accounts := make(map[string]loyalty.Account, len(tm.accounts))
	for k, v := range tm.accounts {
		accounts[k] = v
	}
	entries := append([]loyalty.Entry{}, tm.entries...)
	return memorySnapshot{accounts: accounts, entries: entries}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.accounts = s.accounts
	tm.entries = s.entries
}

// txMemoryView bypasses the parent's locks: the transaction already holds
// the write lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetAccount(_ context.Context, customerID string) (*loyalty.Account, error) {
	return tv.parent.getAccountLocked(customerID), nil
}

func (tv *txMemoryView) SaveAccount(_ context.Context, acct *loyalty.Account) error {
	tv.parent.accounts[acct.CustomerID] = *acct
	return nil
}

func (tv *txMemoryView) ListAccounts(_ context.Context, participatingOnly bool) ([]loyalty.Account, error) {
	var out []loyalty.Account
	for _, acct := range tv.parent.accounts {
		if participatingOnly && !acct.Participates {
			continue
		}
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

func (tv *txMemoryView) Append(_ context.Context, e loyalty.Entry) error {
	tv.parent.entries = append(tv.parent.entries, e)
	return nil
}

func (tv *txMemoryView) ListByCustomer(_ context.Context, customerID string) ([]loyalty.Entry, error) {
	var out []loyalty.Entry
	for _, e := range tv.parent.entries {
		if e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	return out, nil
}

func (tv *txMemoryView) ListBySale(_ context.Context, saleID string) ([]loyalty.Entry, error) {
	var out []loyalty.Entry
	for _, e := range tv.parent.entries {
		if e.SaleID == saleID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (tv *txMemoryView) ListExpirable(_ context.Context, asOf time.Time) ([]loyalty.Entry, error) {
	var out []loyalty.Entry
	for _, e := range tv.parent.entries {
		if e.ExpiresAt != nil && e.ExpiresAt.Before(asOf) &&
			!e.IsRedemption && !e.Expired && e.Points.IsPositive() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (tv *txMemoryView) MarkExpired(_ context.Context, entryID string) error {
	for i := range tv.parent.entries {
		if tv.parent.entries[i].ID == entryID {
			tv.parent.entries[i].Expired = true
			return nil
		}
	}
	return loyalty.ErrEntryNotFound
}
