/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  JSON shapes exposed over the wire, kept separate from the domain types
  so the API can evolve without touching the financial core. Money and
  points travel as strings to preserve decimal precision.
*/
package api

import (
	"time"

	"github.com/movums/backoffice/finance"
	"github.com/movums/backoffice/loyalty"
)

// =============================================================================
// FINANCIALS
// =============================================================================

// SaleFinancialsDTO is the full derived-figures view of one sale.
type SaleFinancialsDTO struct {
	SaleID            string `json:"sale_id"`
	Folio             string `json:"folio"`
	ConfirmationState string `json:"confirmation_state"`

	TotalWithModification string `json:"total_with_modification"`
	TotalWithDiscount     string `json:"total_with_discount"`
	TotalPaid             string `json:"total_paid"`
	RemainingBalance      string `json:"remaining_balance"`
	IsFullyPaid           bool   `json:"is_fully_paid"`

	TotalUSD            string `json:"total_usd"`
	OpeningPaymentUSD   string `json:"opening_payment_usd"`
	TotalPaidUSD        string `json:"total_paid_usd"`
	RemainingBalanceUSD string `json:"remaining_balance_usd"`
}

func newSaleFinancialsDTO(sale *finance.Sale, payments []finance.Payment) SaleFinancialsDTO {
	f := finance.NewFinancials(sale, payments)
	return SaleFinancialsDTO{
		SaleID:                sale.ID,
		Folio:                 sale.Folio,
		ConfirmationState:     string(sale.ConfirmationState),
		TotalWithModification: f.TotalWithModification().StringFixed(2),
		TotalWithDiscount:     f.TotalWithDiscount().StringFixed(2),
		TotalPaid:             f.TotalPaid().StringFixed(2),
		RemainingBalance:      f.RemainingBalance().StringFixed(2),
		IsFullyPaid:           f.IsFullyPaid(),
		TotalUSD:              f.TotalUSD().StringFixed(2),
		OpeningPaymentUSD:     f.OpeningPaymentUSD().StringFixed(2),
		TotalPaidUSD:          f.TotalPaidUSD().StringFixed(2),
		RemainingBalanceUSD:   f.RemainingBalanceUSD().StringFixed(2),
	}
}

// CreateSaleRequest opens a new sale. Money fields are decimal strings;
// omitted ones default to zero.
type CreateSaleRequest struct {
	CustomerID         string `json:"customer_id"`
	ListPrice          string `json:"list_price"`
	NetCost            string `json:"net_cost,omitempty"`
	OpeningPayment     string `json:"opening_payment,omitempty"`
	ModificationCost   string `json:"modification_cost,omitempty"`
	LoyaltyDiscount    string `json:"loyalty_discount,omitempty"`
	PromotionsDiscount string `json:"promotions_discount,omitempty"`

	BaseFareUSD    string `json:"base_fare_usd,omitempty"`
	TaxesUSD       string `json:"taxes_usd,omitempty"`
	SupplementsUSD string `json:"supplements_usd,omitempty"`
	ToursUSD       string `json:"tours_usd,omitempty"`
	ExchangeRate   string `json:"exchange_rate,omitempty"`

	TripType      string `json:"trip_type"`
	OpeningMethod string `json:"opening_method"`

	AppliesLoyaltyDiscount bool `json:"applies_loyalty_discount,omitempty"`
	PromoDiscountAsPayment bool `json:"promo_discount_as_payment,omitempty"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type RegisterPaymentRequest struct {
	Amount     string `json:"amount"`
	AmountUSD  string `json:"amount_usd,omitempty"`
	Method     string `json:"method"`
	ReceiptRef string `json:"receipt_ref,omitempty"`
}

type ConfirmPaymentRequest struct {
	ConfirmedBy string `json:"confirmed_by"`
}

// ConfirmOpeningRequest records accountant review of the opening receipt.
type ConfirmOpeningRequest struct {
	ConfirmedBy string `json:"confirmed_by"`
}

type PaymentDTO struct {
	ID          string `json:"id"`
	SaleID      string `json:"sale_id"`
	Amount      string `json:"amount"`
	AmountUSD   string `json:"amount_usd,omitempty"`
	Method      string `json:"method"`
	Confirmed   bool   `json:"confirmed"`
	ConfirmedAt string `json:"confirmed_at,omitempty"`
	ConfirmedBy string `json:"confirmed_by,omitempty"`
	RecordedAt  string `json:"recorded_at"`
}

func newPaymentDTO(p finance.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:          p.ID,
		SaleID:      p.SaleID,
		Amount:      p.Amount.StringFixed(2),
		Method:      string(p.Method),
		Confirmed:   p.Confirmed,
		ConfirmedBy: p.ConfirmedBy,
		RecordedAt:  p.RecordedAt.Format(time.RFC3339),
	}
	if p.AmountUSD != nil {
		dto.AmountUSD = p.AmountUSD.StringFixed(2)
	}
	if p.ConfirmedAt != nil {
		dto.ConfirmedAt = p.ConfirmedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// LOYALTY
// =============================================================================

type LoyaltySummaryDTO struct {
	CustomerID     string     `json:"customer_id"`
	Participates   bool       `json:"participates"`
	Accumulated    string     `json:"accumulated_points"`
	Available      string     `json:"available_points"`
	Value          string     `json:"equivalent_value"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	NextExpiration *time.Time `json:"next_expiration,omitempty"`
	Recent         []EntryDTO `json:"recent_history"`
}

type EntryDTO struct {
	ID          string `json:"id"`
	Event       string `json:"event_type"`
	Points      string `json:"points"`
	Value       string `json:"equivalent_value"`
	Description string `json:"description,omitempty"`
	SaleID      string `json:"sale_id,omitempty"`
	RecordedAt  string `json:"recorded_at"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	Expired     bool   `json:"expired"`
}

func newEntryDTO(e loyalty.Entry) EntryDTO {
	dto := EntryDTO{
		ID:          e.ID,
		Event:       string(e.Event),
		Points:      e.Points.StringFixed(2),
		Value:       e.Value.StringFixed(2),
		Description: e.Description,
		SaleID:      e.SaleID,
		RecordedAt:  e.RecordedAt.Format(time.RFC3339),
		Expired:     e.Expired,
	}
	if e.ExpiresAt != nil {
		dto.ExpiresAt = e.ExpiresAt.Format(time.RFC3339)
	}
	return dto
}

func newLoyaltySummaryDTO(s *loyalty.AccountSummary) LoyaltySummaryDTO {
	recent := make([]EntryDTO, len(s.Recent))
	for i, e := range s.Recent {
		recent[i] = newEntryDTO(e)
	}
	return LoyaltySummaryDTO{
		CustomerID:     s.CustomerID,
		Participates:   s.Participates,
		Accumulated:    s.Accumulated.StringFixed(2),
		Available:      s.Available.StringFixed(2),
		Value:          s.Value.StringFixed(2),
		LastActivityAt: s.LastActivityAt,
		NextExpiration: s.NextExpiration,
		Recent:         recent,
	}
}

type RedeemRequest struct {
	Points string `json:"points"`
	SaleID string `json:"sale_id,omitempty"`
}

type ValidationDTO struct {
	CustomerID          string `json:"customer_id"`
	Consistent          bool   `json:"consistent"`
	StoredAccumulated   string `json:"stored_accumulated"`
	ComputedAccumulated string `json:"computed_accumulated"`
	AccumulatedDelta    string `json:"accumulated_delta"`
	StoredAvailable     string `json:"stored_available"`
	ComputedAvailable   string `json:"computed_available"`
	AvailableDelta      string `json:"available_delta"`
}

func newValidationDTO(r loyalty.ValidationReport) ValidationDTO {
	return ValidationDTO{
		CustomerID:          r.CustomerID,
		Consistent:          r.Consistent,
		StoredAccumulated:   r.StoredAccumulated.StringFixed(2),
		ComputedAccumulated: r.ComputedAccumulated.StringFixed(2),
		AccumulatedDelta:    r.AccumulatedDelta.StringFixed(2),
		StoredAvailable:     r.StoredAvailable.StringFixed(2),
		ComputedAvailable:   r.ComputedAvailable.StringFixed(2),
		AvailableDelta:      r.AvailableDelta.StringFixed(2),
	}
}

type ReversalSummaryDTO struct {
	SaleID         string `json:"sale_id"`
	EntriesWritten int    `json:"entries_written"`
	PointsReversed string `json:"points_reversed"`
	PointsRestored string `json:"points_restored"`
}

type RepairRequest struct {
	CustomerID string `json:"customer_id"`
	Force      bool   `json:"force"`
}

type RepairDTO struct {
	CustomerID     string        `json:"customer_id"`
	Repaired       bool          `json:"repaired"`
	EntriesWritten int           `json:"entries_written"`
	Before         ValidationDTO `json:"before"`
	After          ValidationDTO `json:"after"`
}

type SweepResultDTO struct {
	Processed int `json:"processed"`
}

// ErrorResponse is the uniform error shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
