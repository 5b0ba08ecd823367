/*
store.go - Persistence interface for sales and payments

PURPOSE:
  Defines the contract between the sale financial logic and the database.
  Payments follow a write-once-then-confirm lifecycle: a payment row is
  inserted by a salesperson and its confirmation evidence is flipped
  exactly once by an accountant. No other mutation of a payment exists.

IMPLEMENTATIONS:
  - store/sqlite: production store

SEE ALSO:
  - financials.go: Pure figures computed over loaded data
*/
package finance

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPaymentNotFound is returned when a referenced payment does not exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrDuplicateFolio is returned when a sale's folio or slug collides
	// with an existing sale.
	ErrDuplicateFolio = errors.New("duplicate folio or slug")
)

// Store handles persistence of sales and their payments.
type Store interface {
	GetSale(ctx context.Context, id string) (*Sale, error)
	SaveSale(ctx context.Context, sale *Sale) error

	// CountSalesOn returns how many sales were created on the given day,
	// used to derive the next folio sequence number.
	CountSalesOn(ctx context.Context, day time.Time) (int, error)

	ListPayments(ctx context.Context, saleID string) ([]Payment, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
	AddPayment(ctx context.Context, p Payment) error

	// ConfirmPayment records accountant confirmation. One-way: a confirmed
	// payment is never unconfirmed.
	ConfirmPayment(ctx context.Context, id, actor string, at time.Time) error
}
