package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movums/backoffice/api"
	"github.com/movums/backoffice/finance"
	"github.com/movums/backoffice/loyalty"
	"github.com/movums/backoffice/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testEnv struct {
	router http.Handler
	store  *sqlite.Store
	ledger *loyalty.Ledger
}

func newTestEnv(t *testing.T) *testEnv {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ledger := loyalty.NewLedger(store, nil)
	handler := api.NewHandler(store, ledger, nil, nil)
	return &testEnv{router: api.NewRouter(handler), store: store, ledger: ledger}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (e *testEnv) seedSale(t *testing.T, id string) *finance.Sale {
	t.Helper()
	sale := &finance.Sale{
		ID:                id,
		Folio:             "MV-" + id,
		Slug:              "slug-" + id,
		CustomerID:        "c-1",
		ListPrice:         dec("10000.00"),
		TripType:          finance.TripNational,
		OpeningMethod:     finance.MethodCash,
		ConfirmationState: finance.StatePending,
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, e.store.SaveSale(context.Background(), sale))
	return sale
}

func (e *testEnv) seedParticipant(t *testing.T, customerID string) {
	t.Helper()
	require.NoError(t, e.store.SaveAccount(context.Background(), &loyalty.Account{
		CustomerID:   customerID,
		Participates: true,
	}))
}

// =============================================================================
// SALE ENDPOINT TESTS
// =============================================================================

func TestAPI_CreateSale_AssignsSequentialFolios(t *testing.T) {
	// GIVEN: an empty database
	// WHEN: Opening two sales on the same day
	// THEN: Folios carry today's date with sequence 01 then 02

	env := newTestEnv(t)
	day := time.Now().UTC().Format("20060102")

	rec := env.do(t, http.MethodPost, "/api/sales", api.CreateSaleRequest{
		CustomerID:    "c-1",
		ListPrice:     "10000.00",
		TripType:      string(finance.TripNational),
		OpeningMethod: string(finance.MethodCash),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var first api.SaleFinancialsDTO
	decodeInto(t, rec, &first)
	assert.Equal(t, "MV-"+day+"-01", first.Folio)
	assert.Equal(t, string(finance.StatePending), first.ConfirmationState)
	assert.Equal(t, "10000.00", first.TotalWithModification)

	rec = env.do(t, http.MethodPost, "/api/sales", api.CreateSaleRequest{
		CustomerID:    "c-1",
		ListPrice:     "5000.00",
		TripType:      string(finance.TripNational),
		OpeningMethod: string(finance.MethodCash),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var second api.SaleFinancialsDTO
	decodeInto(t, rec, &second)
	assert.Equal(t, "MV-"+day+"-02", second.Folio)
}

func TestAPI_CreateSale_TransferOpeningStartsAwaiting(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/sales", api.CreateSaleRequest{
		CustomerID:     "c-1",
		ListPrice:      "10000.00",
		OpeningPayment: "3000.00",
		TripType:       string(finance.TripNational),
		OpeningMethod:  string(finance.MethodTransfer),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var dto api.SaleFinancialsDTO
	decodeInto(t, rec, &dto)
	assert.Equal(t, string(finance.StateAwaitingConfirmation), dto.ConfirmationState)
	assert.Equal(t, "0.00", dto.TotalPaid, "opening does not count while awaiting")
}

func TestAPI_GetSaleFinancials(t *testing.T) {
	env := newTestEnv(t)
	env.seedSale(t, "sale-1")

	rec := env.do(t, http.MethodGet, "/api/sales/sale-1/financials", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var dto api.SaleFinancialsDTO
	decodeInto(t, rec, &dto)
	assert.Equal(t, "sale-1", dto.SaleID)
	assert.Equal(t, "10000.00", dto.TotalWithModification)
	assert.Equal(t, "0.00", dto.TotalPaid)
	assert.Equal(t, "10000.00", dto.RemainingBalance)
	assert.Equal(t, "0.00", dto.TotalUSD, "national trip has no USD path")
	assert.False(t, dto.IsFullyPaid)
}

func TestAPI_GetSaleFinancials_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/sales/sale-missing/financials", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_RegisterPayment_AdvancesState(t *testing.T) {
	// GIVEN: a pending sale of 10000
	// WHEN: Registering a cash payment covering the full amount
	// THEN: 201 with the payment, and the sale completes

	env := newTestEnv(t)
	env.seedSale(t, "sale-1")

	rec := env.do(t, http.MethodPost, "/api/sales/sale-1/payments", api.RegisterPaymentRequest{
		Amount: "10000.00",
		Method: string(finance.MethodCash),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var payment api.PaymentDTO
	decodeInto(t, rec, &payment)
	assert.Equal(t, "10000.00", payment.Amount)

	sale, err := env.store.GetSale(context.Background(), "sale-1")
	require.NoError(t, err)
	assert.Equal(t, finance.StateCompleted, sale.ConfirmationState)
}

func TestAPI_RegisterPayment_RejectsBadAmount(t *testing.T) {
	env := newTestEnv(t)
	env.seedSale(t, "sale-1")

	rec := env.do(t, http.MethodPost, "/api/sales/sale-1/payments", api.RegisterPaymentRequest{
		Amount: "-5.00",
		Method: string(finance.MethodCash),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ConfirmPayment(t *testing.T) {
	// GIVEN: an unconfirmed transfer covering the sale
	// WHEN: The accountant confirms it
	// THEN: The payment is confirmed and the sale completes

	env := newTestEnv(t)
	env.seedSale(t, "sale-1")

	rec := env.do(t, http.MethodPost, "/api/sales/sale-1/payments", api.RegisterPaymentRequest{
		Amount: "10000.00",
		Method: string(finance.MethodTransfer),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var payment api.PaymentDTO
	decodeInto(t, rec, &payment)

	sale, err := env.store.GetSale(context.Background(), "sale-1")
	require.NoError(t, err)
	require.Equal(t, finance.StatePending, sale.ConfirmationState, "unconfirmed transfer does not count")

	rec = env.do(t, http.MethodPost, "/api/payments/"+payment.ID+"/confirm", api.ConfirmPaymentRequest{
		ConfirmedBy: "accountant-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var confirmed api.PaymentDTO
	decodeInto(t, rec, &confirmed)
	assert.True(t, confirmed.Confirmed)
	assert.Equal(t, "accountant-1", confirmed.ConfirmedBy)

	sale, err = env.store.GetSale(context.Background(), "sale-1")
	require.NoError(t, err)
	assert.Equal(t, finance.StateCompleted, sale.ConfirmationState)
}

func TestAPI_ConfirmPayment_LeavesAwaitingOpeningAlone(t *testing.T) {
	// GIVEN: a sale awaiting confirmation of its 3000 transfer opening
	// WHEN: A 100 installment is registered and confirmed
	// THEN: The sale stays AWAITING_CONFIRMATION and only the installment
	//       counts toward total paid

	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/sales", api.CreateSaleRequest{
		CustomerID:     "c-1",
		ListPrice:      "10000.00",
		OpeningPayment: "3000.00",
		TripType:       string(finance.TripNational),
		OpeningMethod:  string(finance.MethodTransfer),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sale api.SaleFinancialsDTO
	decodeInto(t, rec, &sale)
	require.Equal(t, string(finance.StateAwaitingConfirmation), sale.ConfirmationState)

	rec = env.do(t, http.MethodPost, "/api/sales/"+sale.SaleID+"/payments", api.RegisterPaymentRequest{
		Amount: "100.00",
		Method: string(finance.MethodTransfer),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var payment api.PaymentDTO
	decodeInto(t, rec, &payment)

	rec = env.do(t, http.MethodPost, "/api/payments/"+payment.ID+"/confirm", api.ConfirmPaymentRequest{
		ConfirmedBy: "accountant-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sales/"+sale.SaleID+"/financials", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &sale)
	assert.Equal(t, string(finance.StateAwaitingConfirmation), sale.ConfirmationState,
		"a confirmed installment is not evidence for the opening")
	assert.Equal(t, "100.00", sale.TotalPaid, "the unconfirmed opening must not count")
}

func TestAPI_ConfirmOpening(t *testing.T) {
	// GIVEN: a sale awaiting confirmation of its transfer opening
	// WHEN: The accountant confirms the opening
	// THEN: The sale completes and the opening counts toward total paid

	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/sales", api.CreateSaleRequest{
		CustomerID:     "c-1",
		ListPrice:      "10000.00",
		OpeningPayment: "3000.00",
		TripType:       string(finance.TripNational),
		OpeningMethod:  string(finance.MethodTransfer),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var dto api.SaleFinancialsDTO
	decodeInto(t, rec, &dto)

	rec = env.do(t, http.MethodPost, "/api/sales/"+dto.SaleID+"/opening/confirm", api.ConfirmOpeningRequest{
		ConfirmedBy: "accountant-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &dto)
	assert.Equal(t, string(finance.StateCompleted), dto.ConfirmationState)
	assert.Equal(t, "3000.00", dto.TotalPaid)

	sale, err := env.store.GetSale(context.Background(), dto.SaleID)
	require.NoError(t, err)
	assert.True(t, sale.OpeningReceiptUploaded)
	assert.Equal(t, "accountant-1", sale.OpeningConfirmedBy)
	assert.NotNil(t, sale.OpeningConfirmedAt)
}

func TestAPI_ConfirmOpening_CashOpeningRejected(t *testing.T) {
	// A CASH opening counts automatically; there is nothing to confirm.
	env := newTestEnv(t)
	env.seedSale(t, "sale-1")

	rec := env.do(t, http.MethodPost, "/api/sales/sale-1/opening/confirm", api.ConfirmOpeningRequest{
		ConfirmedBy: "accountant-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ConfirmPayment_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/payments/p-missing/confirm", api.ConfirmPaymentRequest{
		ConfirmedBy: "accountant-1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CancelSale_ReversesLoyalty(t *testing.T) {
	// GIVEN: a sale that earned 5000 points
	// WHEN: Cancelling it twice
	// THEN: The first call reverses the accrual; the second finds nothing

	env := newTestEnv(t)
	env.seedSale(t, "sale-1")
	env.seedParticipant(t, "c-1")

	_, err := env.ledger.AccruePurchase(context.Background(), "c-1", dec("10000.00"), "sale-1", decimal.Decimal{})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/sales/sale-1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary api.ReversalSummaryDTO
	decodeInto(t, rec, &summary)
	assert.Equal(t, 1, summary.EntriesWritten)
	assert.Equal(t, "5000.00", summary.PointsReversed)

	sale, err := env.store.GetSale(context.Background(), "sale-1")
	require.NoError(t, err)
	assert.NotNil(t, sale.CanceledAt)

	rec = env.do(t, http.MethodPost, "/api/sales/sale-1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &summary)
	assert.Equal(t, 0, summary.EntriesWritten)
}

// =============================================================================
// LOYALTY ENDPOINT TESTS
// =============================================================================

func TestAPI_GetLoyaltySummary(t *testing.T) {
	env := newTestEnv(t)
	env.seedParticipant(t, "c-1")

	_, err := env.ledger.AccruePurchase(context.Background(), "c-1", dec("2000.00"), "sale-1", decimal.Decimal{})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/customers/c-1/loyalty", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var dto api.LoyaltySummaryDTO
	decodeInto(t, rec, &dto)
	assert.Equal(t, "1000.00", dto.Available)
	assert.Equal(t, "50.00", dto.Value)
	assert.Len(t, dto.Recent, 1)
}

func TestAPI_GetLoyaltySummary_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/customers/c-missing/loyalty", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_RedeemPoints_ClampToZeroIsOK(t *testing.T) {
	// GIVEN: a participant with zero balance
	// WHEN: Redeeming
	// THEN: 200 with a null entry - the domain's silent no-op, not an error

	env := newTestEnv(t)
	env.seedParticipant(t, "c-1")

	rec := env.do(t, http.MethodPost, "/api/customers/c-1/loyalty/redeem", api.RedeemRequest{
		Points: "100.00",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]json.RawMessage
	decodeInto(t, rec, &body)
	assert.Equal(t, "null", string(body["entry"]))
}

func TestAPI_RedeemPoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedParticipant(t, "c-1")

	_, err := env.ledger.AccruePurchase(context.Background(), "c-1", dec("2000.00"), "sale-1", decimal.Decimal{})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/customers/c-1/loyalty/redeem", api.RedeemRequest{
		Points: "400.00",
		SaleID: "sale-2",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Entry *api.EntryDTO `json:"entry"`
	}
	decodeInto(t, rec, &body)
	require.NotNil(t, body.Entry)
	assert.Equal(t, "-400.00", body.Entry.Points)
}

func TestAPI_ValidateAccount(t *testing.T) {
	env := newTestEnv(t)
	env.seedParticipant(t, "c-1")

	rec := env.do(t, http.MethodGet, "/api/customers/c-1/loyalty/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var dto api.ValidationDTO
	decodeInto(t, rec, &dto)
	assert.True(t, dto.Consistent)
}

// =============================================================================
// ADMIN ENDPOINT TESTS
// =============================================================================

func TestAPI_AdminSweep(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/admin/loyalty/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var dto api.SweepResultDTO
	decodeInto(t, rec, &dto)
	assert.Equal(t, 0, dto.Processed)
}

func TestAPI_AdminRepair(t *testing.T) {
	// GIVEN: an account with manually injected drift
	// WHEN: Repairing through the admin endpoint
	// THEN: The drift is corrected and reported

	env := newTestEnv(t)
	env.seedParticipant(t, "c-1")

	require.NoError(t, env.store.SaveAccount(context.Background(), &loyalty.Account{
		CustomerID:   "c-1",
		Participates: true,
		Available:    dec("50.00"),
	}))

	rec := env.do(t, http.MethodPost, "/api/admin/loyalty/repair", api.RepairRequest{
		CustomerID: "c-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var dto api.RepairDTO
	decodeInto(t, rec, &dto)
	assert.True(t, dto.Repaired)
	assert.False(t, dto.Before.Consistent)
	assert.True(t, dto.After.Consistent)
}

func TestAPI_AdminValidatePortfolio(t *testing.T) {
	env := newTestEnv(t)
	env.seedParticipant(t, "c-1")

	rec := env.do(t, http.MethodGet, "/api/admin/loyalty/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total        int `json:"total"`
		Consistent   int `json:"consistent"`
		Inconsistent int `json:"inconsistent"`
	}
	decodeInto(t, rec, &body)
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, 1, body.Consistent)
}
