/*
state.go - Confirmation-state machine and sale identity helpers

PURPOSE:
  Recomputes a sale's confirmation state from its payment figures. The
  state is derived-but-stored: persisted for query performance, but always
  reproducible from the sale and its payments.

ORDERING IS LOAD-BEARING:
  The precedence rules below are an ordered match. Rule 1 (an opening
  payment already confirmed by an accountant) must short-circuit before
  the numeric comparison, otherwise a confirmed opening would flip-flop
  whenever later edits change the totals.

SEE ALSO:
  - financials.go: TotalPaid / TotalWithModification consumed here
*/
package finance

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxLoyaltyDiscountFraction caps the loyalty discount at 10% of the
// list price.
var MaxLoyaltyDiscountFraction = MustParseDecimal("0.10")

// =============================================================================
// CONFIRMATION STATE MACHINE
// =============================================================================

// NextConfirmationState returns the state the sale should be in, applying
// the precedence rules in order:
//
//  1. Opening payment confirmed by an accountant -> COMPLETED, stop.
//  2. Total paid covers the total with modification -> COMPLETED.
//  3. Currently AWAITING_CONFIRMATION -> stays put.
//  4. Currently COMPLETED with at least one confirmed payment -> stays
//     COMPLETED (sticky: a completed sale does not revert just because a
//     recomputation finds a gap).
//  5. Currently COMPLETED with no confirmed evidence -> back to PENDING.
//  6. Otherwise -> PENDING.
func NextConfirmationState(f Financials) ConfirmationState {
	if f.Sale == nil {
		return StatePending
	}
	sale := f.Sale

	// Rule 1: accountant-confirmed opening payment is a hard override.
	if openingConfirmed(sale) {
		return StateCompleted
	}

	// Rule 2: fully covered by counted payments.
	if f.TotalPaid().GreaterThanOrEqual(f.TotalWithModification()) {
		return StateCompleted
	}

	// Rule 3: an opening still waiting on the accountant stays waiting.
	if sale.ConfirmationState == StateAwaitingConfirmation {
		return StateAwaitingConfirmation
	}

	// Rules 4-5: stickiness of COMPLETED depends on confirmed evidence.
	if sale.ConfirmationState == StateCompleted {
		if hasConfirmedPayment(f.Payments) {
			return StateCompleted
		}
		return StatePending
	}

	// Rule 6.
	return StatePending
}

// openingConfirmed detects accountant-confirmed evidence on the opening
// payment: a receipt uploaded for a method that requires confirmation, or
// a CREDIT opening whose state already moved past AWAITING_CONFIRMATION.
func openingConfirmed(sale *Sale) bool {
	if sale.OpeningReceiptUploaded && sale.OpeningMethod.RequiresConfirmation() {
		return true
	}
	if sale.OpeningMethod == MethodCredit && sale.ConfirmationState != StateAwaitingConfirmation {
		return true
	}
	return false
}

func hasConfirmedPayment(payments []Payment) bool {
	for _, p := range payments {
		if p.Confirmed {
			return true
		}
	}
	return false
}

// AdvanceConfirmationState recomputes and stores the confirmation state on
// the sale. Returns true when the state changed.
func AdvanceConfirmationState(sale *Sale, payments []Payment) bool {
	if sale == nil {
		return false
	}
	next := NextConfirmationState(NewFinancials(sale, payments))
	if next == sale.ConfirmationState {
		return false
	}
	sale.ConfirmationState = next
	return true
}

// =============================================================================
// LOYALTY DISCOUNT CAP
// =============================================================================

// CapLoyaltyDiscount clamps a requested loyalty discount to the lesser of
// 10% of the list price and the customer's available point value.
func CapLoyaltyDiscount(requested, listPrice, availablePointValue decimal.Decimal) decimal.Decimal {
	limit := listPrice.Mul(MaxLoyaltyDiscountFraction)
	if availablePointValue.LessThan(limit) {
		limit = availablePointValue
	}
	if requested.GreaterThan(limit) {
		requested = limit
	}
	return FloorZero(requested)
}

// =============================================================================
// FOLIO
// =============================================================================

// Folio builds the human-readable sale identifier: PREFIX-YYYYMMDD-NN.
// seq is the per-day sequence, starting at 1.
func Folio(prefix string, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%02d", strings.ToUpper(prefix), day.Format("20060102"), seq)
}
