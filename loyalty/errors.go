/*
errors.go - Error types for the loyalty package

ERROR PHILOSOPHY:
  Business-rule non-events are NOT errors here. A redemption against an
  empty balance, an accrual for a non-participating customer, a second
  birthday bonus in the same year - all of these return (nil, nil): the
  caller checks the returned record, not an error. Dashboards and batch
  jobs depend on this non-throwing behavior.

  The errors below are infrastructure and data-shape failures only.
*/
package loyalty

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when a referenced customer account
	// does not exist. Distinct from a non-participating account, which is
	// a silent no-op.
	ErrAccountNotFound = errors.New("loyalty account not found")

	// ErrEntryNotFound is returned when a referenced ledger entry does
	// not exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrTransactionFailed is returned when a multi-step mutation cannot
	// be committed.
	ErrTransactionFailed = errors.New("ledger transaction failed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// DriftError carries the details of an account whose stored totals diverge
// from the ledger. Produced by operational tooling when asked to fail hard;
// Validate itself reports drift as data, not as an error.
type DriftError struct {
	CustomerID       string
	AccumulatedDelta decimal.Decimal
	AvailableDelta   decimal.Decimal
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("account %s drifted: accumulated delta %s, available delta %s",
		e.CustomerID, e.AccumulatedDelta, e.AvailableDelta)
}
