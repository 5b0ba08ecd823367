/*
financials.go - Derived money figures for a Sale

PURPOSE:
  Computes the authoritative amounts owed/paid/pending for one Sale and
  its Payments, in MXN and (for international trips) in USD.

COUNTING RULES (the load-bearing part):
  A payment counts toward the total paid when it is confirmed OR paid in
  cash. The opening payment counts when its method is auto-counted
  (CASH, PAYMENT_LINK, DIRECT_TO_SUPPLIER), or when its method requires
  confirmation and the sale's confirmation state has moved past
  AWAITING_CONFIRMATION - the state transition is the one-directional
  evidence that an accountant confirmed it.

NULL SAFETY:
  Every computation degrades to zero on missing inputs and floors the
  result at zero. Reporting surfaces must never see a negative balance
  or an error from these functions.

SEE ALSO:
  - types.go: Sale and Payment definitions
  - state.go: Confirmation-state machine consuming these figures
*/
package finance

import "github.com/shopspring/decimal"

// Financials derives money figures from a Sale and its Payments.
// All methods are pure and safe on a zero-value receiver.
type Financials struct {
	Sale     *Sale
	Payments []Payment
}

func NewFinancials(sale *Sale, payments []Payment) Financials {
	return Financials{Sale: sale, Payments: payments}
}

// =============================================================================
// MXN FIGURES
// =============================================================================

// TotalWithModification is the list price plus modification cost, minus the
// loyalty discount when it applies. Floored at zero.
func (f Financials) TotalWithModification() decimal.Decimal {
	if f.Sale == nil {
		return decimal.Zero
	}
	total := f.Sale.ListPrice.Add(f.Sale.ModificationCost)
	if f.Sale.AppliesLoyaltyDiscount {
		total = total.Sub(f.Sale.LoyaltyDiscount)
	}
	return FloorZero(total)
}

// TotalWithDiscount is the externally documented "total after all discounts
// except promotions". Modification and loyalty discount combine identically
// to TotalWithModification; the name is kept distinct because reporting
// consumes them under different labels.
func (f Financials) TotalWithDiscount() decimal.Decimal {
	return f.TotalWithModification()
}

// TotalPaid sums every payment that counts (confirmed or cash), adds the
// opening payment when its counting rule is met, and subtracts the
// promotions discount when it was registered as a virtual payment.
func (f Financials) TotalPaid() decimal.Decimal {
	if f.Sale == nil {
		return decimal.Zero
	}

	total := decimal.Zero
	for _, p := range f.Payments {
		if p.CountsTowardPaid() {
			total = total.Add(p.Amount)
		}
	}

	if f.openingPaymentCounts() {
		total = total.Add(f.Sale.OpeningPayment)
	}

	if f.Sale.PromoDiscountAsPayment {
		total = total.Sub(f.Sale.PromotionsDiscount)
	}

	return FloorZero(total)
}

// openingPaymentCounts applies the opening-payment counting rule:
// auto-counted methods always count; methods requiring confirmation count
// once the sale is no longer awaiting confirmation.
func (f Financials) openingPaymentCounts() bool {
	if f.Sale.OpeningPayment.IsZero() {
		return false
	}
	switch f.Sale.OpeningMethod {
	case MethodCash, MethodPaymentLink, MethodDirectToSupplier:
		return true
	case MethodTransfer, MethodCard, MethodDeposit, MethodCredit:
		return f.Sale.ConfirmationState != StateAwaitingConfirmation
	}
	return false
}

// RemainingBalance is the authoritative "what's left to collect":
// (list + modification) - loyalty discount - promotions discount - paid.
// Distinct from TotalWithDiscount because it also subtracts promotions.
func (f Financials) RemainingBalance() decimal.Decimal {
	if f.Sale == nil {
		return decimal.Zero
	}
	owed := f.Sale.ListPrice.
		Add(f.Sale.ModificationCost).
		Sub(f.Sale.LoyaltyDiscount).
		Sub(f.Sale.PromotionsDiscount)
	return FloorZero(owed.Sub(f.TotalPaid()))
}

func (f Financials) IsFullyPaid() bool {
	return f.RemainingBalance().LessThanOrEqual(decimal.Zero)
}

// =============================================================================
// USD FIGURES - active only for international trips with a usable rate
// =============================================================================

// usdActive reports whether the USD path is authoritative. A zero or
// negative exchange rate is a defined degenerate case: every USD output
// is exactly 0, never an error.
func (f Financials) usdActive() bool {
	return f.Sale != nil &&
		f.Sale.TripType == TripInternational &&
		f.Sale.ExchangeRate.IsPositive()
}

// TotalUSD is the USD-denominated trip total.
func (f Financials) TotalUSD() decimal.Decimal {
	if !f.usdActive() {
		return decimal.Zero
	}
	return f.Sale.BaseFareUSD.
		Add(f.Sale.TaxesUSD).
		Add(f.Sale.SupplementsUSD).
		Add(f.Sale.ToursUSD)
}

// OpeningPaymentUSD converts the MXN opening payment at the sale's rate.
func (f Financials) OpeningPaymentUSD() decimal.Decimal {
	if !f.usdActive() {
		return decimal.Zero
	}
	return f.toUSD(f.Sale.OpeningPayment)
}

// TotalPaidUSD mirrors TotalPaid. Payments carrying a native USD amount use
// it; MXN-only payments are converted at the sale's exchange rate.
func (f Financials) TotalPaidUSD() decimal.Decimal {
	if !f.usdActive() {
		return decimal.Zero
	}

	total := decimal.Zero
	for _, p := range f.Payments {
		if !p.CountsTowardPaid() {
			continue
		}
		if p.AmountUSD != nil {
			total = total.Add(*p.AmountUSD)
		} else {
			total = total.Add(f.toUSD(p.Amount))
		}
	}

	if f.openingPaymentCounts() {
		total = total.Add(f.toUSD(f.Sale.OpeningPayment))
	}

	if f.Sale.PromoDiscountAsPayment {
		total = total.Sub(f.toUSD(f.Sale.PromotionsDiscount))
	}

	return FloorZero(total)
}

// RemainingBalanceUSD is the USD total minus the USD paid, floored at zero.
func (f Financials) RemainingBalanceUSD() decimal.Decimal {
	if !f.usdActive() {
		return decimal.Zero
	}
	return FloorZero(f.TotalUSD().Sub(f.TotalPaidUSD()))
}

// toUSD converts an MXN amount at the sale's exchange rate, rounded to
// 2 decimals half away from zero. Callers guarantee a positive rate.
func (f Financials) toUSD(mxn decimal.Decimal) decimal.Decimal {
	return Round2(mxn.Div(f.Sale.ExchangeRate))
}
