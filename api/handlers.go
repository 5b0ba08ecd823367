/*
handlers.go - HTTP API handlers for the back-office financial core

PURPOSE:
  Exposes the sale financials and the loyalty ledger via REST. Handles
  HTTP request/response and JSON serialization, delegating all business
  logic to the finance and loyalty packages.

ENDPOINTS:
  Sales:
    POST /api/sales                     Open a sale, folio assigned
    GET  /api/sales/{id}/financials     Derived money figures (MXN + USD)
    POST /api/sales/{id}/payments       Register a payment
    POST /api/sales/{id}/opening/confirm  Accountant confirms the opening
    POST /api/sales/{id}/cancel         Cancel: reverse loyalty effects

  Payments:
    POST /api/payments/{id}/confirm     Accountant confirmation

  Loyalty:
    GET  /api/customers/{id}/loyalty            Account summary
    POST /api/customers/{id}/loyalty/redeem     Redeem points
    GET  /api/customers/{id}/loyalty/validate   Consistency check

  Admin (operational):
    POST /api/admin/loyalty/sweep       Run the expiration sweep
    POST /api/admin/loyalty/repair      Repair one account
    GET  /api/admin/loyalty/validate    Validate the whole portfolio

ERROR HANDLING:
  Business-rule non-events are NOT errors: a redemption that clamps to
  zero or a cancellation with nothing to reverse returns 200 with an
  empty/zero body, matching the domain's silent no-op contract.
  - 400: malformed input
  - 404: unknown sale/payment/customer
  - 500: infrastructure failures

SEE ALSO:
  - dto.go: Wire shapes
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/movums/backoffice/audit"
	"github.com/movums/backoffice/finance"
	"github.com/movums/backoffice/loyalty"
	"github.com/movums/backoffice/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Ledger *loyalty.Ledger
	Trail  audit.Trail
	Logger *zap.Logger

	// FolioPrefix leads every generated folio, e.g. "MV" -> MV-20260830-01.
	FolioPrefix string
}

// NewHandler creates a handler. Nil trail/logger fall back to no-ops.
func NewHandler(store *sqlite.Store, ledger *loyalty.Ledger, trail audit.Trail, logger *zap.Logger) *Handler {
	if trail == nil {
		trail = audit.NopTrail{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Store: store, Ledger: ledger, Trail: trail, Logger: logger, FolioPrefix: "MV"}
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// CreateSale opens a new sale with a generated folio (per-day sequence).
// An opening paid by a method that requires confirmation starts in
// AWAITING_CONFIRMATION; everything else starts PENDING.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required", nil)
		return
	}

	now := time.Now().UTC()
	sale := &finance.Sale{
		ID:                     uuid.NewString(),
		CustomerID:             req.CustomerID,
		TripType:               finance.TripType(req.TripType),
		OpeningMethod:          finance.PaymentMethod(req.OpeningMethod),
		AppliesLoyaltyDiscount: req.AppliesLoyaltyDiscount,
		PromoDiscountAsPayment: req.PromoDiscountAsPayment,
		CreatedAt:              now,
	}
	if sale.TripType == "" {
		sale.TripType = finance.TripNational
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&sale.ListPrice, req.ListPrice},
		{&sale.NetCost, req.NetCost},
		{&sale.OpeningPayment, req.OpeningPayment},
		{&sale.ModificationCost, req.ModificationCost},
		{&sale.LoyaltyDiscount, req.LoyaltyDiscount},
		{&sale.PromotionsDiscount, req.PromotionsDiscount},
		{&sale.BaseFareUSD, req.BaseFareUSD},
		{&sale.TaxesUSD, req.TaxesUSD},
		{&sale.SupplementsUSD, req.SupplementsUSD},
		{&sale.ToursUSD, req.ToursUSD},
		{&sale.ExchangeRate, req.ExchangeRate},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid decimal value: "+f.src, err)
			return
		}
		*f.dst = d
	}

	sale.ConfirmationState = finance.StatePending
	if sale.OpeningPayment.IsPositive() && sale.OpeningMethod.RequiresConfirmation() {
		sale.ConfirmationState = finance.StateAwaitingConfirmation
	}

	count, err := h.Store.CountSalesOn(r.Context(), now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to derive folio sequence", err)
		return
	}
	sale.Folio = finance.Folio(h.FolioPrefix, now, count+1)
	sale.Slug = strings.ToLower(sale.Folio)

	if err := h.Store.SaveSale(r.Context(), sale); err != nil {
		if errors.Is(err, finance.ErrDuplicateFolio) {
			writeError(w, http.StatusConflict, "Folio collision, retry", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create sale", err)
		return
	}

	h.Trail.Record(r.Context(), audit.Event{
		Action: "sale_created",
		Entity: "sale:" + sale.Folio,
		Detail: sale.ListPrice.StringFixed(2),
	})
	writeJSON(w, http.StatusCreated, newSaleFinancialsDTO(sale, nil))
}

// GetSaleFinancials returns every derived figure for one sale.
func (h *Handler) GetSaleFinancials(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "id")

	sale, err := h.Store.GetSale(r.Context(), saleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load sale", err)
		return
	}
	if sale == nil {
		writeError(w, http.StatusNotFound, "Sale not found", nil)
		return
	}

	payments, err := h.Store.ListPayments(r.Context(), saleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load payments", err)
		return
	}

	writeJSON(w, http.StatusOK, newSaleFinancialsDTO(sale, payments))
}

// RegisterPayment records a new installment and advances the sale's
// confirmation state.
func (h *Handler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "id")

	var req RegisterPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Amount must be a positive decimal", err)
		return
	}

	sale, err := h.Store.GetSale(r.Context(), saleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load sale", err)
		return
	}
	if sale == nil {
		writeError(w, http.StatusNotFound, "Sale not found", nil)
		return
	}

	p := finance.Payment{
		ID:          uuid.NewString(),
		SaleID:      saleID,
		Amount:      amount,
		RateApplied: sale.ExchangeRate,
		Method:      finance.PaymentMethod(req.Method),
		ReceiptRef:  req.ReceiptRef,
		RecordedAt:  time.Now().UTC(),
	}
	if req.AmountUSD != "" {
		usd, err := decimal.NewFromString(req.AmountUSD)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid USD amount", err)
			return
		}
		p.AmountUSD = &usd
	}

	if err := h.Store.AddPayment(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to register payment", err)
		return
	}

	if err := h.advanceState(r, sale); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update confirmation state", err)
		return
	}

	h.Trail.Record(r.Context(), audit.Event{
		Action: "payment_registered",
		Entity: "sale:" + sale.Folio,
		Detail: fmt.Sprintf("%s via %s", p.Amount.StringFixed(2), p.Method),
	})
	writeJSON(w, http.StatusCreated, newPaymentDTO(p))
}

// ConfirmPayment records accountant confirmation and advances the sale's
// confirmation state. Confirming an already-confirmed payment is a no-op.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")

	var req ConfirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ConfirmedBy == "" {
		writeError(w, http.StatusBadRequest, "confirmed_by is required", nil)
		return
	}

	if err := h.Store.ConfirmPayment(r.Context(), paymentID, req.ConfirmedBy, time.Now().UTC()); err != nil {
		if errors.Is(err, finance.ErrPaymentNotFound) {
			writeError(w, http.StatusNotFound, "Payment not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to confirm payment", err)
		return
	}

	p, err := h.Store.GetPayment(r.Context(), paymentID)
	if err != nil || p == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload payment", err)
		return
	}

	sale, err := h.Store.GetSale(r.Context(), p.SaleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load sale", err)
		return
	}
	if sale != nil {
		// An opening still waiting on the accountant stays waiting: only
		// ConfirmOpening moves it.
		if err := h.advanceState(r, sale); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to update confirmation state", err)
			return
		}
	}

	h.Trail.Record(r.Context(), audit.Event{
		Actor:  req.ConfirmedBy,
		Action: "payment_confirmed",
		Entity: "payment:" + paymentID,
	})
	writeJSON(w, http.StatusOK, newPaymentDTO(*p))
}

// ConfirmOpening records accountant confirmation of the sale's opening
// payment: the receipt is marked reviewed and the state machine completes
// the sale. Confirming an already-confirmed opening is a no-op.
func (h *Handler) ConfirmOpening(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "id")

	var req ConfirmOpeningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ConfirmedBy == "" {
		writeError(w, http.StatusBadRequest, "confirmed_by is required", nil)
		return
	}

	sale, err := h.Store.GetSale(r.Context(), saleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load sale", err)
		return
	}
	if sale == nil {
		writeError(w, http.StatusNotFound, "Sale not found", nil)
		return
	}
	if !sale.OpeningPayment.IsPositive() || !sale.OpeningMethod.RequiresConfirmation() {
		writeError(w, http.StatusBadRequest, "Opening payment does not require confirmation", nil)
		return
	}

	if !sale.OpeningReceiptUploaded {
		now := time.Now().UTC()
		sale.OpeningReceiptUploaded = true
		sale.OpeningConfirmedAt = &now
		sale.OpeningConfirmedBy = req.ConfirmedBy
	}
	if err := h.advanceState(r, sale); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update confirmation state", err)
		return
	}

	payments, err := h.Store.ListPayments(r.Context(), saleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load payments", err)
		return
	}

	h.Trail.Record(r.Context(), audit.Event{
		Actor:  req.ConfirmedBy,
		Action: "opening_confirmed",
		Entity: "sale:" + sale.Folio,
		Detail: sale.OpeningPayment.StringFixed(2),
	})
	writeJSON(w, http.StatusOK, newSaleFinancialsDTO(sale, payments))
}

// CancelSale marks the sale canceled and reverses its loyalty effects.
// A second cancellation finds nothing to reverse and returns zeros.
func (h *Handler) CancelSale(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "id")

	sale, err := h.Store.GetSale(r.Context(), saleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load sale", err)
		return
	}
	if sale == nil {
		writeError(w, http.StatusNotFound, "Sale not found", nil)
		return
	}

	if sale.CanceledAt == nil {
		now := time.Now().UTC()
		sale.CanceledAt = &now
		if err := h.Store.SaveSale(r.Context(), sale); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to cancel sale", err)
			return
		}
	}

	summary, err := h.Ledger.ReverseOnCancellation(r.Context(), saleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reverse loyalty effects", err)
		return
	}

	h.Trail.Record(r.Context(), audit.Event{
		Action: "sale_canceled",
		Entity: "sale:" + sale.Folio,
		Detail: fmt.Sprintf("%d loyalty entries reversed", summary.EntriesWritten),
	})
	writeJSON(w, http.StatusOK, ReversalSummaryDTO{
		SaleID:         summary.SaleID,
		EntriesWritten: summary.EntriesWritten,
		PointsReversed: summary.PointsReversed.StringFixed(2),
		PointsRestored: summary.PointsRestored.StringFixed(2),
	})
}

// advanceState recomputes and persists the sale's confirmation state.
func (h *Handler) advanceState(r *http.Request, sale *finance.Sale) error {
	payments, err := h.Store.ListPayments(r.Context(), sale.ID)
	if err != nil {
		return err
	}
	if finance.AdvanceConfirmationState(sale, payments) {
		h.Logger.Info("confirmation state advanced",
			zap.String("sale", sale.Folio),
			zap.String("state", string(sale.ConfirmationState)))
	}
	return h.Store.SaveSale(r.Context(), sale)
}

// =============================================================================
// LOYALTY HANDLERS
// =============================================================================

// GetLoyaltySummary returns the customer's loyalty read model.
func (h *Handler) GetLoyaltySummary(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	summary, err := h.Ledger.Summary(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load summary", err)
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "Customer not found", loyalty.ErrAccountNotFound)
		return
	}

	writeJSON(w, http.StatusOK, newLoyaltySummaryDTO(summary))
}

// RedeemPoints spends points. The domain clamps to the available balance;
// a clamp to zero returns 200 with entry=null (silent no-op).
func (h *Handler) RedeemPoints(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	points, err := decimal.NewFromString(req.Points)
	if err != nil {
		writeError(w, http.StatusBadRequest, "points must be a decimal", err)
		return
	}

	entry, err := h.Ledger.Redeem(r.Context(), customerID, points, req.SaleID, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to redeem points", err)
		return
	}

	if entry == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entry": nil})
		return
	}
	h.Trail.Record(r.Context(), audit.Event{
		Action: "points_redeemed",
		Entity: "customer:" + customerID,
		Detail: entry.Points.StringFixed(2),
	})
	writeJSON(w, http.StatusOK, map[string]any{"entry": newEntryDTO(*entry)})
}

// ValidateAccount reports the drift diagnosis for one customer.
func (h *Handler) ValidateAccount(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	report, err := h.Ledger.Validate(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to validate account", err)
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "Customer not found", loyalty.ErrAccountNotFound)
		return
	}

	writeJSON(w, http.StatusOK, newValidationDTO(*report))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs the expiration sweep immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	processed, err := h.Ledger.SweepExpirations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}
	h.Trail.Record(r.Context(), audit.Event{
		Action: "expiration_sweep",
		Detail: fmt.Sprintf("%d entries expired", processed),
	})
	writeJSON(w, http.StatusOK, SweepResultDTO{Processed: processed})
}

// RepairAccount runs validate+repair for one customer.
func (h *Handler) RepairAccount(w http.ResponseWriter, r *http.Request) {
	var req RepairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required", nil)
		return
	}

	result, err := h.Ledger.Repair(r.Context(), req.CustomerID, req.Force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Repair failed", err)
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "Customer not found", loyalty.ErrAccountNotFound)
		return
	}

	if result.Repaired {
		h.Trail.Record(r.Context(), audit.Event{
			Action: "account_repaired",
			Entity: "customer:" + req.CustomerID,
			Detail: fmt.Sprintf("%d adjustment entries", result.EntriesWritten),
		})
	}
	writeJSON(w, http.StatusOK, RepairDTO{
		CustomerID:     result.CustomerID,
		Repaired:       result.Repaired,
		EntriesWritten: result.EntriesWritten,
		Before:         newValidationDTO(result.Before),
		After:          newValidationDTO(result.After),
	})
}

// ValidatePortfolio validates every participating account.
func (h *Handler) ValidatePortfolio(w http.ResponseWriter, r *http.Request) {
	report, err := h.Ledger.ValidateAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Portfolio validation failed", err)
		return
	}

	diffs := make([]ValidationDTO, len(report.Diffs))
	for i, d := range report.Diffs {
		diffs[i] = newValidationDTO(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":        report.Total,
		"consistent":   report.Consistent,
		"inconsistent": report.Inconsistent,
		"diffs":        diffs,
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
