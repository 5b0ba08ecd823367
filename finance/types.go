/*
Package finance contains the financial core of a travel sale.

PURPOSE:
  Models a Sale (one trip booking with its payment schedule and discount
  state) and its Payments, and derives the authoritative money figures:
  total owed, total paid, remaining balance, paid status, and the
  confirmation-state transitions driven by those figures.

KEY CONCEPTS IN THIS FILE (types.go):
  - Sale: aggregate root for a single transaction (MXN + optional USD path)
  - Payment: an installment registered against a Sale
  - PaymentMethod / TripType / ConfirmationState: string enums persisted as-is
  - AppliedPromotion: snapshot of a promotion at the time it was applied

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for every money field, never float64
  2. Null-safety: missing/zero inputs degrade to 0, computations never panic
  3. Derived figures are floored at zero, a balance is never negative

SEE ALSO:
  - financials.go: Derived money figures
  - state.go: Confirmation-state machine and folio generation
*/
package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMS
// =============================================================================

type TripType string

const (
	TripNational      TripType = "NATIONAL"
	TripInternational TripType = "INTERNATIONAL"
)

type PaymentMethod string

const (
	MethodCash             PaymentMethod = "CASH"
	MethodTransfer         PaymentMethod = "TRANSFER"
	MethodCard             PaymentMethod = "CARD"
	MethodDeposit          PaymentMethod = "DEPOSIT"
	MethodDigital          PaymentMethod = "DIGITAL"
	MethodPaymentLink      PaymentMethod = "PAYMENT_LINK"
	MethodDirectToSupplier PaymentMethod = "DIRECT_TO_SUPPLIER"
	MethodCredit           PaymentMethod = "CREDIT"
)

// RequiresConfirmation reports whether an opening payment registered with
// this method needs an accountant to confirm it before it counts.
// CASH, PAYMENT_LINK and DIRECT_TO_SUPPLIER are counted automatically.
func (m PaymentMethod) RequiresConfirmation() bool {
	switch m {
	case MethodTransfer, MethodCard, MethodDeposit, MethodCredit:
		return true
	}
	return false
}

type ConfirmationState string

const (
	StatePending              ConfirmationState = "PENDING"
	StateAwaitingConfirmation ConfirmationState = "AWAITING_CONFIRMATION"
	StateCompleted            ConfirmationState = "COMPLETED"
)

// =============================================================================
// SALE - Aggregate root for a single trip booking
// =============================================================================

type Sale struct {
	ID         string
	Folio      string // human-readable, unique, e.g. MV-20260830-03
	Slug       string
	CustomerID string

	// MXN money fields
	ListPrice          decimal.Decimal
	NetCost            decimal.Decimal
	OpeningPayment     decimal.Decimal
	ModificationCost   decimal.Decimal
	LoyaltyDiscount    decimal.Decimal
	PromotionsDiscount decimal.Decimal

	// USD money fields, authoritative only for international trips
	BaseFareUSD    decimal.Decimal
	TaxesUSD       decimal.Decimal
	SupplementsUSD decimal.Decimal
	ToursUSD       decimal.Decimal
	ExchangeRate   decimal.Decimal // USD -> MXN

	TripType          TripType
	OpeningMethod     PaymentMethod
	ConfirmationState ConfirmationState

	AppliesLoyaltyDiscount bool
	// PromoDiscountAsPayment marks the promotions discount as a virtual
	// payment that must be subtracted once real payments supersede it.
	PromoDiscountAsPayment bool

	// Opening-payment confirmation evidence. Flipped exactly once by an
	// accountant reviewing the opening receipt; drives rule 1 of the
	// confirmation-state machine.
	OpeningReceiptUploaded bool
	OpeningConfirmedAt     *time.Time
	OpeningConfirmedBy     string

	CanceledAt *time.Time
	CreatedAt  time.Time
}

// =============================================================================
// PAYMENT - One installment registered against a Sale
// =============================================================================

type Payment struct {
	ID     string
	SaleID string

	Amount      decimal.Decimal
	AmountUSD   *decimal.Decimal // native USD amount, when captured
	RateApplied decimal.Decimal  // exchange rate at registration time

	Method PaymentMethod

	// Confirmation evidence. Flipped exactly once by an accountant;
	// a CASH payment counts regardless of this flag.
	Confirmed   bool
	ConfirmedAt *time.Time
	ConfirmedBy string

	ReceiptRef string
	RecordedAt time.Time
}

// CountsTowardPaid reports whether this payment contributes to the total
// paid. CASH is always treated as confirmed.
func (p Payment) CountsTowardPaid() bool {
	return p.Confirmed || p.Method == MethodCash
}

// =============================================================================
// APPLIED PROMOTION - Snapshot of a promotion at application time
// =============================================================================

// AppliedPromotion freezes the promotion's terms when it is attached to a
// sale, so later edits to the promotion catalog cannot change past sales.
type AppliedPromotion struct {
	ID          string
	SaleID      string
	PromotionID string
	Name        string
	Percentage  decimal.Decimal
	Amount      decimal.Decimal
	BonusPoints decimal.Decimal
	AppliedAt   time.Time
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// FloorZero clamps a derived figure at zero. Balances are never negative.
func FloorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Round2 rounds to 2 decimal places, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
