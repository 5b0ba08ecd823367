package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movums/backoffice/finance"
	"github.com/movums/backoffice/loyalty"
	"github.com/movums/backoffice/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func sampleSale(id, folio string) *finance.Sale {
	return &finance.Sale{
		ID:                "sale-" + id,
		Folio:             folio,
		Slug:              "slug-" + id,
		CustomerID:        "c-1",
		ListPrice:         dec("10000.00"),
		NetCost:           dec("8000.00"),
		OpeningPayment:    dec("3000.00"),
		ExchangeRate:      dec("20.00"),
		TripType:          finance.TripInternational,
		OpeningMethod:     finance.MethodTransfer,
		ConfirmationState: finance.StateAwaitingConfirmation,
		CreatedAt:         time.Now().UTC(),
	}
}

// =============================================================================
// SALE TESTS
// =============================================================================

func TestStore_SaleRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sale := sampleSale("1", "MV-20260830-01")
	sale.LoyaltyDiscount = dec("500.00")
	sale.AppliesLoyaltyDiscount = true
	sale.BaseFareUSD = dec("800.00")
	require.NoError(t, store.SaveSale(ctx, sale))

	got, err := store.GetSale(ctx, "sale-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, sale.Folio, got.Folio)
	assert.Equal(t, sale.CustomerID, got.CustomerID)
	assert.True(t, sale.ListPrice.Equal(got.ListPrice))
	assert.True(t, sale.LoyaltyDiscount.Equal(got.LoyaltyDiscount))
	assert.True(t, sale.BaseFareUSD.Equal(got.BaseFareUSD))
	assert.True(t, sale.ExchangeRate.Equal(got.ExchangeRate))
	assert.Equal(t, finance.TripInternational, got.TripType)
	assert.Equal(t, finance.StateAwaitingConfirmation, got.ConfirmationState)
	assert.True(t, got.AppliesLoyaltyDiscount)
	assert.Nil(t, got.CanceledAt)
}

func TestStore_SaveSale_UpdatesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sale := sampleSale("1", "MV-20260830-01")
	require.NoError(t, store.SaveSale(ctx, sale))

	now := time.Now().UTC()
	sale.ConfirmationState = finance.StateCompleted
	sale.OpeningReceiptUploaded = true
	sale.OpeningConfirmedAt = &now
	sale.OpeningConfirmedBy = "accountant-1"
	sale.CanceledAt = &now
	require.NoError(t, store.SaveSale(ctx, sale))

	got, err := store.GetSale(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, finance.StateCompleted, got.ConfirmationState)
	assert.True(t, got.OpeningReceiptUploaded)
	assert.Equal(t, "accountant-1", got.OpeningConfirmedBy)
	require.NotNil(t, got.OpeningConfirmedAt)
	require.NotNil(t, got.CanceledAt)
}

func TestStore_SaveSale_DuplicateFolio(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSale(ctx, sampleSale("1", "MV-20260830-01")))

	dup := sampleSale("2", "MV-20260830-01")
	err := store.SaveSale(ctx, dup)
	assert.True(t, errors.Is(err, finance.ErrDuplicateFolio))
}

func TestStore_GetSale_Missing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetSale(context.Background(), "sale-missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_CountSalesOn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	today := time.Now().UTC()
	s1 := sampleSale("1", "MV-1")
	s2 := sampleSale("2", "MV-2")
	s3 := sampleSale("3", "MV-3")
	s3.CreatedAt = today.AddDate(0, 0, -1)
	require.NoError(t, store.SaveSale(ctx, s1))
	require.NoError(t, store.SaveSale(ctx, s2))
	require.NoError(t, store.SaveSale(ctx, s3))

	count, err := store.CountSalesOn(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// =============================================================================
// PAYMENT TESTS
// =============================================================================

func TestStore_PaymentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSale(ctx, sampleSale("1", "MV-1")))

	usd := dec("150.00")
	p := finance.Payment{
		ID:          "p-1",
		SaleID:      "sale-1",
		Amount:      dec("3000.00"),
		AmountUSD:   &usd,
		RateApplied: dec("20.00"),
		Method:      finance.MethodTransfer,
		ReceiptRef:  "receipt-42",
		RecordedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.AddPayment(ctx, p))

	payments, err := store.ListPayments(ctx, "sale-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)

	got := payments[0]
	assert.True(t, p.Amount.Equal(got.Amount))
	require.NotNil(t, got.AmountUSD)
	assert.True(t, usd.Equal(*got.AmountUSD))
	assert.Equal(t, finance.MethodTransfer, got.Method)
	assert.Equal(t, "receipt-42", got.ReceiptRef)
	assert.False(t, got.Confirmed)
}

func TestStore_ConfirmPayment_OneWay(t *testing.T) {
	// GIVEN: an unconfirmed payment
	// WHEN: Confirming it twice with different actors
	// THEN: The first confirmation sticks; the second is a silent no-op

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSale(ctx, sampleSale("1", "MV-1")))
	require.NoError(t, store.AddPayment(ctx, finance.Payment{
		ID: "p-1", SaleID: "sale-1",
		Amount: dec("1000.00"), Method: finance.MethodTransfer,
		RecordedAt: time.Now().UTC(),
	}))

	at := time.Now().UTC()
	require.NoError(t, store.ConfirmPayment(ctx, "p-1", "accountant-1", at))

	got, err := store.GetPayment(ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Confirmed)
	assert.Equal(t, "accountant-1", got.ConfirmedBy)
	require.NotNil(t, got.ConfirmedAt)

	require.NoError(t, store.ConfirmPayment(ctx, "p-1", "accountant-2", at.Add(time.Hour)))

	got, err = store.GetPayment(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "accountant-1", got.ConfirmedBy, "confirmation is never overwritten")
}

func TestStore_ConfirmPayment_Missing(t *testing.T) {
	store := newTestStore(t)

	err := store.ConfirmPayment(context.Background(), "p-missing", "accountant-1", time.Now())
	assert.True(t, errors.Is(err, finance.ErrPaymentNotFound))
}

// =============================================================================
// ACCOUNT TESTS
// =============================================================================

func TestStore_AccountRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	acct := &loyalty.Account{
		CustomerID:        "c-1",
		Name:              "Ana",
		Participates:      true,
		Accumulated:       dec("1000.00"),
		Available:         dec("600.00"),
		LastActivityAt:    &now,
		LastBirthdayBonus: &now,
	}
	require.NoError(t, store.SaveAccount(ctx, acct))

	got, err := store.GetAccount(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ana", got.Name)
	assert.True(t, got.Participates)
	assert.True(t, dec("1000.00").Equal(got.Accumulated))
	assert.True(t, dec("600.00").Equal(got.Available))
	require.NotNil(t, got.LastActivityAt)
	assert.True(t, now.Equal(*got.LastActivityAt))

	// Upsert overwrites.
	acct.Available = dec("0")
	require.NoError(t, store.SaveAccount(ctx, acct))
	got, err = store.GetAccount(ctx, "c-1")
	require.NoError(t, err)
	assert.True(t, got.Available.IsZero())
}

func TestStore_ListAccounts_ParticipatingOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAccount(ctx, &loyalty.Account{CustomerID: "c-1", Participates: true}))
	require.NoError(t, store.SaveAccount(ctx, &loyalty.Account{CustomerID: "c-2", Participates: false}))

	all, err := store.ListAccounts(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	participating, err := store.ListAccounts(ctx, true)
	require.NoError(t, err)
	require.Len(t, participating, 1)
	assert.Equal(t, "c-1", participating[0].CustomerID)
}

// =============================================================================
// LEDGER ENTRY TESTS
// =============================================================================

func entryAt(id string, points string, recorded time.Time, expires *time.Time) loyalty.Entry {
	return loyalty.Entry{
		ID:         id,
		CustomerID: "c-1",
		SaleID:     "sale-1",
		Event:      loyalty.EventPurchase,
		Points:     dec(points),
		Multiplier: dec("1"),
		Value:      dec(points).Mul(loyalty.ValuePerPoint),
		RecordedAt: recorded,
		ExpiresAt:  expires,
	}
}

func TestStore_ListByCustomer_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Append(ctx, entryAt("e-1", "100", base, nil)))
	require.NoError(t, store.Append(ctx, entryAt("e-2", "200", base.Add(time.Minute), nil)))

	entries, err := store.ListByCustomer(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e-2", entries[0].ID)
	assert.Equal(t, "e-1", entries[1].ID)
}

func TestStore_ListExpirable_Predicate(t *testing.T) {
	// GIVEN: entries that are past-expiry, future-expiry, already expired,
	//        negative, and non-expiring
	// WHEN: Listing expirable entries as of now
	// THEN: Only the past-expiry positive unexpired entry qualifies

	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.NoError(t, store.Append(ctx, entryAt("e-past", "100", now.AddDate(-2, 0, 0), &past)))
	require.NoError(t, store.Append(ctx, entryAt("e-future", "100", now, &future)))
	require.NoError(t, store.Append(ctx, entryAt("e-none", "100", now, nil)))

	negative := entryAt("e-negative", "-100", now, &past)
	negative.Event = loyalty.EventRedemption
	negative.IsRedemption = true
	require.NoError(t, store.Append(ctx, negative))

	done := entryAt("e-done", "100", now.AddDate(-2, 0, 0), &past)
	done.Expired = true
	require.NoError(t, store.Append(ctx, done))

	expirable, err := store.ListExpirable(ctx, now)
	require.NoError(t, err)
	require.Len(t, expirable, 1)
	assert.Equal(t, "e-past", expirable[0].ID)
}

func TestStore_MarkExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, entryAt("e-1", "100", time.Now().UTC(), nil)))
	require.NoError(t, store.MarkExpired(ctx, "e-1"))

	entries, err := store.ListByCustomer(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Expired)

	err = store.MarkExpired(ctx, "e-missing")
	assert.True(t, errors.Is(err, loyalty.ErrEntryNotFound))
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestStore_WithTx_RollbackOnError(t *testing.T) {
	// GIVEN: a transaction that writes an entry and an account, then fails
	// WHEN: The transaction function returns an error
	// THEN: Neither write is visible

	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s loyalty.Store) error {
		if err := s.Append(ctx, entryAt("e-1", "100", time.Now().UTC(), nil)); err != nil {
			return err
		}
		if err := s.SaveAccount(ctx, &loyalty.Account{CustomerID: "c-1", Participates: true}); err != nil {
			return err
		}
		return loyalty.ErrTransactionFailed
	})
	require.Error(t, err)

	entries, err := store.ListByCustomer(ctx, "c-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	acct, err := store.GetAccount(ctx, "c-1")
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestStore_WithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s loyalty.Store) error {
		return s.Append(ctx, entryAt("e-1", "100", time.Now().UTC(), nil))
	})
	require.NoError(t, err)

	entries, err := store.ListByCustomer(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// SWEEP RUN TESTS
// =============================================================================

func TestStore_SweepRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.RecordSweepRun(ctx, loyalty.SweepRun{
		ID:          "run-1",
		StartedAt:   started,
		CompletedAt: started.Add(time.Second),
		Processed:   7,
	}))

	runs, err := store.ListSweepRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, 7, runs[0].Processed)
}
