/*
Package loyalty implements the "kilometers" points program.

PURPOSE:
  An append-only ledger of point-earning/spending events per customer,
  paired with two denormalized running totals on the account record:
  accumulated (lifetime earned) and available (spendable). The ledger is
  the single source of truth; the totals are a rebuildable cache kept in
  sync by every mutation and repaired by the validation routine when they
  drift.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: the customer's loyalty state (participation flag + totals)
  - Entry: one immutable ledger record, signed points
  - EventType: what produced the entry (purchase, bonus, redemption, ...)
  - Program constants: earn rate, point value, validity window, bonuses

LEDGER ENTRY LIFECYCLE:
  created -> (optionally) expired. One-way, terminal. The expiration
  sweep flips the single `Expired` flag; nothing else ever mutates an
  entry, and entries with zero points are never persisted.

SEE ALSO:
  - ledger.go: Accrual, redemption, reversal, expiration
  - validate.go: Drift detection and repair
  - store.go: Persistence contract
*/
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PROGRAM CONSTANTS
// =============================================================================

var (
	// PointsPerPeso is the earn rate: 0.5 points per peso spent.
	PointsPerPeso = mustDecimal("0.5")

	// ValuePerPoint is the redemption value of one point, in pesos.
	ValuePerPoint = mustDecimal("0.05")

	// MaxDiscountFraction caps redemption at 10% of a sale's total.
	MaxDiscountFraction = mustDecimal("0.10")

	// ReferralBonus and BirthdayBonus are fixed point grants.
	ReferralBonus = mustDecimal("2000")
	BirthdayBonus = mustDecimal("1000")

	// DriftTolerance is the maximum divergence between stored and
	// ledger-computed totals before an account counts as inconsistent.
	DriftTolerance = mustDecimal("0.01")
)

// ValidityDays is how long earned points remain spendable (~24 months).
const ValidityDays = 730

// =============================================================================
// ACCOUNT - Loyalty state on the customer record
// =============================================================================

type Account struct {
	CustomerID   string
	Name         string
	Participates bool

	// Accumulated is the lifetime-earned counter: the sum of all positive
	// entries. Redemption and expiration never decrease it.
	Accumulated decimal.Decimal

	// Available is the spendable balance, floored at zero.
	Available decimal.Decimal

	LastActivityAt    *time.Time
	LastBirthdayBonus *time.Time
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

type EventType string

const (
	EventPurchase             EventType = "PURCHASE"
	EventReferral             EventType = "REFERRAL"
	EventBirthday             EventType = "BIRTHDAY"
	EventCampaign             EventType = "CAMPAIGN"
	EventAdjustment           EventType = "ADJUSTMENT"
	EventRedemption           EventType = "REDEMPTION"
	EventExpiration           EventType = "EXPIRATION"
	EventPromoBonus           EventType = "PROMO_BONUS"
	EventCancellationReversal EventType = "CANCELLATION_REVERSAL"
	EventRedemptionReversal   EventType = "REDEMPTION_REVERSAL"
)

// accrualEvents are the event types that represent prior point earnings
// against a sale. Reversal entries are deliberately NOT in this set - that
// exclusion is what makes cancellation reversal idempotent.
var accrualEvents = map[EventType]bool{
	EventPurchase:   true,
	EventReferral:   true,
	EventBirthday:   true,
	EventCampaign:   true,
	EventPromoBonus: true,
}

type Entry struct {
	ID         string
	CustomerID string
	SaleID     string // empty when not tied to a sale

	Event       EventType
	Points      decimal.Decimal // signed: positive = credit, negative = debit
	Multiplier  decimal.Decimal
	Value       decimal.Decimal // Points * ValuePerPoint, informational
	Description string

	RecordedAt time.Time
	ExpiresAt  *time.Time // nil for debits and adjustments: they never expire

	IsRedemption bool
	Expired      bool
}

// =============================================================================
// SUMMARIES
// =============================================================================

// AccountSummary is the read model served to dashboards and the CLI.
type AccountSummary struct {
	CustomerID     string
	Participates   bool
	Accumulated    decimal.Decimal
	Available      decimal.Decimal
	Value          decimal.Decimal // Available * ValuePerPoint
	LastActivityAt *time.Time
	NextExpiration *time.Time
	Recent         []Entry // newest first, at most 10
}

// ReversalSummary reports what a cancellation reversal undid.
type ReversalSummary struct {
	SaleID         string
	EntriesWritten int
	PointsReversed decimal.Decimal // from prior accruals
	PointsRestored decimal.Decimal // from prior redemptions
}

// SweepRun records one execution of the expiration sweep.
type SweepRun struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	Processed   int
	Error       string
}

// =============================================================================
// HELPERS
// =============================================================================

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("loyalty: bad constant " + s)
	}
	return d
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// round2 rounds to 2 decimal places, half away from zero.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
