/*
store.go - Persistence interface for the points ledger

PURPOSE:
  Contract between the ledger service and the database. The entries table
  is append-only: the single permitted mutation is flipping an entry's
  `expired` flag during the expiration sweep. Corrections are made via
  adjustment entries, never by editing history.

IMPLEMENTATIONS:
  - store/sqlite: production store
  - store: in-memory store for tests

SEE ALSO:
  - ledger.go: Service built on this contract
*/
package loyalty

import (
	"context"
	"time"
)

// Store handles persistence of accounts and ledger entries.
type Store interface {
	GetAccount(ctx context.Context, customerID string) (*Account, error)
	SaveAccount(ctx context.Context, acct *Account) error
	ListAccounts(ctx context.Context, participatingOnly bool) ([]Account, error)

	// Append persists a ledger entry. Entries with zero points must never
	// reach the store; the service filters them out.
	Append(ctx context.Context, e Entry) error

	// ListByCustomer returns a customer's entries, newest first.
	ListByCustomer(ctx context.Context, customerID string) ([]Entry, error)

	// ListBySale returns all entries recorded against a sale.
	ListBySale(ctx context.Context, saleID string) ([]Entry, error)

	// ListExpirable returns positive, non-redemption, non-expired entries
	// whose expiry date has passed as of the given instant.
	ListExpirable(ctx context.Context, asOf time.Time) ([]Entry, error)

	// MarkExpired flips the entry's expired flag. The only UPDATE the
	// entries table ever sees.
	MarkExpired(ctx context.Context, entryID string) error
}

// TxStore wraps Store with transaction support. Every read-modify-write of
// the account totals runs inside WithTx so concurrent redemptions cannot
// lose updates.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// SweepRunStore is an optional extension recording expiration-sweep
// executions for operational audit. Stores that do not implement it are
// simply not asked.
type SweepRunStore interface {
	RecordSweepRun(ctx context.Context, run SweepRun) error
}
