/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements finance.Store and loyalty.TxStore (plus the sweep-run audit
  extension) using SQLite. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The loyalty_entries table is append-only:
  - No DELETE statements exist
  - The single UPDATE flips the `expired` flag during the sweep
  - Corrections are made via adjustment entries

KEY TABLES:
  customers:        Loyalty accounts (participation flag + running totals)
  sales:            Sale records with MXN/USD money fields
  payments:         Installments, write-once then confirm-once
  loyalty_entries:  Immutable points ledger
  sweep_runs:       Expiration-sweep audit trail

CONCURRENCY:
  sync.RWMutex for in-process thread safety; WAL mode for better
  on-disk concurrency (readers don't block, single writer at a time).

USAGE:
  store, err := sqlite.New("./data/backoffice.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := loyalty.NewLedger(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - finance/store.go, loyalty/store.go: Interface definitions
  - store/memory.go: In-memory loyalty store for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/movums/backoffice/finance"
	"github.com/movums/backoffice/loyalty"
)

// Store implements the storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second pooled connection would see its own empty ":memory:" database.
	// Access is serialized through the store's mutex anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Customers carry the loyalty account: participation flag plus the
	-- two denormalized running totals (rebuildable from loyalty_entries).
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		participates BOOLEAN NOT NULL DEFAULT TRUE,
		accumulated_points TEXT NOT NULL DEFAULT '0',
		available_points TEXT NOT NULL DEFAULT '0',
		last_activity_at TEXT,
		last_birthday_bonus TEXT
	);

	-- Sales
	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		folio TEXT NOT NULL UNIQUE,
		slug TEXT NOT NULL UNIQUE,
		customer_id TEXT NOT NULL,
		list_price TEXT NOT NULL DEFAULT '0',
		net_cost TEXT NOT NULL DEFAULT '0',
		opening_payment TEXT NOT NULL DEFAULT '0',
		modification_cost TEXT NOT NULL DEFAULT '0',
		loyalty_discount TEXT NOT NULL DEFAULT '0',
		promotions_discount TEXT NOT NULL DEFAULT '0',
		base_fare_usd TEXT NOT NULL DEFAULT '0',
		taxes_usd TEXT NOT NULL DEFAULT '0',
		supplements_usd TEXT NOT NULL DEFAULT '0',
		tours_usd TEXT NOT NULL DEFAULT '0',
		exchange_rate TEXT NOT NULL DEFAULT '0',
		trip_type TEXT NOT NULL,
		opening_method TEXT NOT NULL,
		confirmation_state TEXT NOT NULL,
		applies_loyalty_discount BOOLEAN NOT NULL DEFAULT FALSE,
		promo_discount_as_payment BOOLEAN NOT NULL DEFAULT FALSE,
		opening_receipt_uploaded BOOLEAN NOT NULL DEFAULT FALSE,
		opening_confirmed_at TEXT,
		opening_confirmed_by TEXT,
		canceled_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_customer
		ON sales(customer_id);
	-- Folio sequence lookups (per-day count)
	CREATE INDEX IF NOT EXISTS idx_sales_created_day
		ON sales(DATE(created_at));

	-- Payments: inserted once, confirmed once, never deleted
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		amount_usd TEXT,
		rate_applied TEXT NOT NULL DEFAULT '0',
		method TEXT NOT NULL,
		confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		confirmed_at TEXT,
		confirmed_by TEXT,
		receipt_ref TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_sale
		ON payments(sale_id);

	-- Points ledger (append-only)
	CREATE TABLE IF NOT EXISTS loyalty_entries (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		sale_id TEXT,
		event_type TEXT NOT NULL,
		points TEXT NOT NULL,
		multiplier TEXT NOT NULL DEFAULT '1',
		equivalent_value TEXT NOT NULL DEFAULT '0',
		description TEXT,
		recorded_at TEXT NOT NULL,
		expires_at TEXT,
		is_redemption BOOLEAN NOT NULL DEFAULT FALSE,
		expired BOOLEAN NOT NULL DEFAULT FALSE
	);

	-- Balance recomputation (hot path for validate/repair)
	CREATE INDEX IF NOT EXISTS idx_entries_customer_recorded
		ON loyalty_entries(customer_id, recorded_at DESC);
	-- Cancellation reversal
	CREATE INDEX IF NOT EXISTS idx_entries_sale
		ON loyalty_entries(sale_id) WHERE sale_id IS NOT NULL;
	-- Expiration sweep scan
	CREATE INDEX IF NOT EXISTS idx_entries_expirable
		ON loyalty_entries(expires_at)
		WHERE expires_at IS NOT NULL AND expired = FALSE;

	-- Expiration sweep audit trail
	CREATE TABLE IF NOT EXISTS sweep_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier abstracts *sql.DB and *sql.Tx so the same statements run inside
// and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LOYALTY ACCOUNTS (loyalty.Store interface)
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, customerID string) (*loyalty.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, customerID)
}

func getAccount(ctx context.Context, q querier, customerID string) (*loyalty.Account, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, participates, accumulated_points, available_points,
		       last_activity_at, last_birthday_bonus
		FROM customers WHERE id = ?`, customerID)

	var (
		acct                   loyalty.Account
		accumulated, avail     string
		lastActivity, lastBDay sql.NullString
	)
	err := row.Scan(&acct.CustomerID, &acct.Name, &acct.Participates,
		&accumulated, &avail, &lastActivity, &lastBDay)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	acct.Accumulated = parseDecimal(accumulated)
	acct.Available = parseDecimal(avail)
	acct.LastActivityAt = parseNullTime(lastActivity)
	acct.LastBirthdayBonus = parseNullTime(lastBDay)
	return &acct, nil
}

func (s *Store) SaveAccount(ctx context.Context, acct *loyalty.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAccount(ctx, s.db, acct)
}

func saveAccount(ctx context.Context, q querier, acct *loyalty.Account) error {
	query := `
		INSERT INTO customers
		(id, name, participates, accumulated_points, available_points, last_activity_at, last_birthday_bonus)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			participates = excluded.participates,
			accumulated_points = excluded.accumulated_points,
			available_points = excluded.available_points,
			last_activity_at = excluded.last_activity_at,
			last_birthday_bonus = excluded.last_birthday_bonus
	`
	_, err := q.ExecContext(ctx, query,
		acct.CustomerID,
		acct.Name,
		acct.Participates,
		acct.Accumulated.String(),
		acct.Available.String(),
		formatNullTime(acct.LastActivityAt),
		formatNullTime(acct.LastBirthdayBonus),
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, participatingOnly bool) ([]loyalty.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAccounts(ctx, s.db, participatingOnly)
}

func listAccounts(ctx context.Context, q querier, participatingOnly bool) ([]loyalty.Account, error) {
	query := `
		SELECT id, name, participates, accumulated_points, available_points,
		       last_activity_at, last_birthday_bonus
		FROM customers`
	if participatingOnly {
		query += ` WHERE participates = TRUE`
	}
	query += ` ORDER BY id`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []loyalty.Account
	for rows.Next() {
		var (
			acct                   loyalty.Account
			accumulated, avail     string
			lastActivity, lastBDay sql.NullString
		)
		if err := rows.Scan(&acct.CustomerID, &acct.Name, &acct.Participates,
			&accumulated, &avail, &lastActivity, &lastBDay); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		acct.Accumulated = parseDecimal(accumulated)
		acct.Available = parseDecimal(avail)
		acct.LastActivityAt = parseNullTime(lastActivity)
		acct.LastBirthdayBonus = parseNullTime(lastBDay)
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// =============================================================================
// LOYALTY ENTRIES (append-only)
// =============================================================================

func (s *Store) Append(ctx context.Context, e loyalty.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, q querier, e loyalty.Entry) error {
	query := `
		INSERT INTO loyalty_entries
		(id, customer_id, sale_id, event_type, points, multiplier, equivalent_value,
		 description, recorded_at, expires_at, is_redemption, expired)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		e.ID,
		e.CustomerID,
		nullString(e.SaleID),
		string(e.Event),
		e.Points.String(),
		e.Multiplier.String(),
		e.Value.String(),
		e.Description,
		e.RecordedAt.UTC().Format(time.RFC3339),
		formatNullTime(e.ExpiresAt),
		e.IsRedemption,
		e.Expired,
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

const entryColumns = `id, customer_id, sale_id, event_type, points, multiplier,
	equivalent_value, description, recorded_at, expires_at, is_redemption, expired`

func (s *Store) ListByCustomer(ctx context.Context, customerID string) ([]loyalty.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listByCustomer(ctx, s.db, customerID)
}

func listByCustomer(ctx context.Context, q querier, customerID string) ([]loyalty.Entry, error) {
	query := `SELECT ` + entryColumns + `
		FROM loyalty_entries WHERE customer_id = ?
		ORDER BY recorded_at DESC, id DESC`
	return queryEntries(ctx, q, query, customerID)
}

func (s *Store) ListBySale(ctx context.Context, saleID string) ([]loyalty.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBySale(ctx, s.db, saleID)
}

func listBySale(ctx context.Context, q querier, saleID string) ([]loyalty.Entry, error) {
	query := `SELECT ` + entryColumns + `
		FROM loyalty_entries WHERE sale_id = ?
		ORDER BY recorded_at ASC, id ASC`
	return queryEntries(ctx, q, query, saleID)
}

func (s *Store) ListExpirable(ctx context.Context, asOf time.Time) ([]loyalty.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listExpirable(ctx, s.db, asOf)
}

func listExpirable(ctx context.Context, q querier, asOf time.Time) ([]loyalty.Entry, error) {
	query := `SELECT ` + entryColumns + `
		FROM loyalty_entries
		WHERE expires_at IS NOT NULL
		  AND expires_at < ?
		  AND is_redemption = FALSE
		  AND expired = FALSE
		  AND CAST(points AS REAL) > 0
		ORDER BY expires_at ASC`
	return queryEntries(ctx, q, query, asOf.UTC().Format(time.RFC3339))
}

func (s *Store) MarkExpired(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markExpired(ctx, s.db, entryID)
}

func markExpired(ctx context.Context, q querier, entryID string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE loyalty_entries SET expired = TRUE WHERE id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("failed to mark entry expired: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return loyalty.ErrEntryNotFound
	}
	return nil
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]loyalty.Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []loyalty.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (loyalty.Entry, error) {
	var (
		e                       loyalty.Entry
		saleID, desc, expiresAt sql.NullString
		points, multiplier, val string
		recordedAt              string
	)
	err := rows.Scan(&e.ID, &e.CustomerID, &saleID, &e.Event, &points, &multiplier,
		&val, &desc, &recordedAt, &expiresAt, &e.IsRedemption, &e.Expired)
	if err != nil {
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	e.SaleID = saleID.String
	e.Description = desc.String
	e.Points = parseDecimal(points)
	e.Multiplier = parseDecimal(multiplier)
	e.Value = parseDecimal(val)
	e.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
	e.ExpiresAt = parseNullTime(expiresAt)
	return e, nil
}

// =============================================================================
// TRANSACTIONAL STORE (loyalty.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store loyalty.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore runs every statement through the open transaction. No locking:
// WithTx already holds the store's write lock.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetAccount(ctx context.Context, customerID string) (*loyalty.Account, error) {
	return getAccount(ctx, ts.tx, customerID)
}

func (ts *txStore) SaveAccount(ctx context.Context, acct *loyalty.Account) error {
	return saveAccount(ctx, ts.tx, acct)
}

func (ts *txStore) ListAccounts(ctx context.Context, participatingOnly bool) ([]loyalty.Account, error) {
	return listAccounts(ctx, ts.tx, participatingOnly)
}

func (ts *txStore) Append(ctx context.Context, e loyalty.Entry) error {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) ListByCustomer(ctx context.Context, customerID string) ([]loyalty.Entry, error) {
	return listByCustomer(ctx, ts.tx, customerID)
}

func (ts *txStore) ListBySale(ctx context.Context, saleID string) ([]loyalty.Entry, error) {
	return listBySale(ctx, ts.tx, saleID)
}

func (ts *txStore) ListExpirable(ctx context.Context, asOf time.Time) ([]loyalty.Entry, error) {
	return listExpirable(ctx, ts.tx, asOf)
}

func (ts *txStore) MarkExpired(ctx context.Context, entryID string) error {
	return markExpired(ctx, ts.tx, entryID)
}

// =============================================================================
// SWEEP RUNS (loyalty.SweepRunStore extension)
// =============================================================================

func (s *Store) RecordSweepRun(ctx context.Context, run loyalty.SweepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, started_at, completed_at, processed, error)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.CompletedAt.UTC().Format(time.RFC3339),
		run.Processed,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record sweep run: %w", err)
	}
	return nil
}

// ListSweepRuns returns sweep executions, newest first.
func (s *Store) ListSweepRuns(ctx context.Context, limit int) ([]loyalty.SweepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, processed, error
		FROM sweep_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep runs: %w", err)
	}
	defer rows.Close()

	var runs []loyalty.SweepRun
	for rows.Next() {
		var (
			run                loyalty.SweepRun
			started, completed string
			runErr             sql.NullString
		)
		if err := rows.Scan(&run.ID, &started, &completed, &run.Processed, &runErr); err != nil {
			return nil, err
		}
		run.StartedAt, _ = time.Parse(time.RFC3339, started)
		run.CompletedAt, _ = time.Parse(time.RFC3339, completed)
		run.Error = runErr.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// SALES (finance.Store interface)
// =============================================================================

func (s *Store) GetSale(ctx context.Context, id string) (*finance.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, folio, slug, customer_id,
		       list_price, net_cost, opening_payment, modification_cost,
		       loyalty_discount, promotions_discount,
		       base_fare_usd, taxes_usd, supplements_usd, tours_usd, exchange_rate,
		       trip_type, opening_method, confirmation_state,
		       applies_loyalty_discount, promo_discount_as_payment, opening_receipt_uploaded,
		       opening_confirmed_at, opening_confirmed_by,
		       canceled_at, created_at
		FROM sales WHERE id = ?`, id)

	sale, err := scanSale(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sale: %w", err)
	}
	return sale, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*finance.Sale, error) {
	var (
		sale                     finance.Sale
		listPrice, netCost       string
		opening, modification    string
		loyaltyDisc, promoDisc   string
		baseFare, taxes          string
		supplements, tours, rate string
		openingConfirmedAt       sql.NullString
		openingConfirmedBy       sql.NullString
		canceledAt               sql.NullString
		createdAt                string
	)
	err := row.Scan(&sale.ID, &sale.Folio, &sale.Slug, &sale.CustomerID,
		&listPrice, &netCost, &opening, &modification,
		&loyaltyDisc, &promoDisc,
		&baseFare, &taxes, &supplements, &tours, &rate,
		&sale.TripType, &sale.OpeningMethod, &sale.ConfirmationState,
		&sale.AppliesLoyaltyDiscount, &sale.PromoDiscountAsPayment, &sale.OpeningReceiptUploaded,
		&openingConfirmedAt, &openingConfirmedBy,
		&canceledAt, &createdAt)
	if err != nil {
		return nil, err
	}

	sale.ListPrice = parseDecimal(listPrice)
	sale.NetCost = parseDecimal(netCost)
	sale.OpeningPayment = parseDecimal(opening)
	sale.ModificationCost = parseDecimal(modification)
	sale.LoyaltyDiscount = parseDecimal(loyaltyDisc)
	sale.PromotionsDiscount = parseDecimal(promoDisc)
	sale.BaseFareUSD = parseDecimal(baseFare)
	sale.TaxesUSD = parseDecimal(taxes)
	sale.SupplementsUSD = parseDecimal(supplements)
	sale.ToursUSD = parseDecimal(tours)
	sale.ExchangeRate = parseDecimal(rate)
	sale.OpeningConfirmedAt = parseNullTime(openingConfirmedAt)
	sale.OpeningConfirmedBy = openingConfirmedBy.String
	sale.CanceledAt = parseNullTime(canceledAt)
	sale.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sale, nil
}

func (s *Store) SaveSale(ctx context.Context, sale *finance.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO sales
		(id, folio, slug, customer_id,
		 list_price, net_cost, opening_payment, modification_cost,
		 loyalty_discount, promotions_discount,
		 base_fare_usd, taxes_usd, supplements_usd, tours_usd, exchange_rate,
		 trip_type, opening_method, confirmation_state,
		 applies_loyalty_discount, promo_discount_as_payment, opening_receipt_uploaded,
		 opening_confirmed_at, opening_confirmed_by,
		 canceled_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			list_price = excluded.list_price,
			net_cost = excluded.net_cost,
			opening_payment = excluded.opening_payment,
			modification_cost = excluded.modification_cost,
			loyalty_discount = excluded.loyalty_discount,
			promotions_discount = excluded.promotions_discount,
			base_fare_usd = excluded.base_fare_usd,
			taxes_usd = excluded.taxes_usd,
			supplements_usd = excluded.supplements_usd,
			tours_usd = excluded.tours_usd,
			exchange_rate = excluded.exchange_rate,
			trip_type = excluded.trip_type,
			opening_method = excluded.opening_method,
			confirmation_state = excluded.confirmation_state,
			applies_loyalty_discount = excluded.applies_loyalty_discount,
			promo_discount_as_payment = excluded.promo_discount_as_payment,
			opening_receipt_uploaded = excluded.opening_receipt_uploaded,
			opening_confirmed_at = excluded.opening_confirmed_at,
			opening_confirmed_by = excluded.opening_confirmed_by,
			canceled_at = excluded.canceled_at
	`
	_, err := s.db.ExecContext(ctx, query,
		sale.ID, sale.Folio, sale.Slug, sale.CustomerID,
		sale.ListPrice.String(), sale.NetCost.String(),
		sale.OpeningPayment.String(), sale.ModificationCost.String(),
		sale.LoyaltyDiscount.String(), sale.PromotionsDiscount.String(),
		sale.BaseFareUSD.String(), sale.TaxesUSD.String(),
		sale.SupplementsUSD.String(), sale.ToursUSD.String(),
		sale.ExchangeRate.String(),
		string(sale.TripType), string(sale.OpeningMethod), string(sale.ConfirmationState),
		sale.AppliesLoyaltyDiscount, sale.PromoDiscountAsPayment, sale.OpeningReceiptUploaded,
		formatNullTime(sale.OpeningConfirmedAt), nullString(sale.OpeningConfirmedBy),
		formatNullTime(sale.CanceledAt),
		sale.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return finance.ErrDuplicateFolio
		}
		return fmt.Errorf("failed to save sale: %w", err)
	}
	return nil
}

func (s *Store) CountSalesOn(ctx context.Context, day time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sales WHERE DATE(created_at) = ?`,
		day.UTC().Format("2006-01-02"),
	).Scan(&count)
	return count, err
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) ListPayments(ctx context.Context, saleID string) ([]finance.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, amount, amount_usd, rate_applied, method,
		       confirmed, confirmed_at, confirmed_by, receipt_ref, recorded_at
		FROM payments WHERE sale_id = ?
		ORDER BY recorded_at ASC`, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []finance.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *Store) GetPayment(ctx context.Context, id string) (*finance.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, amount, amount_usd, rate_applied, method,
		       confirmed, confirmed_at, confirmed_by, receipt_ref, recorded_at
		FROM payments WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	p, err := scanPayment(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPayment(rows *sql.Rows) (finance.Payment, error) {
	var (
		p                        finance.Payment
		amount, rate             string
		amountUSD                sql.NullString
		confirmedAt, confirmedBy sql.NullString
		receiptRef               sql.NullString
		recordedAt               string
	)
	err := rows.Scan(&p.ID, &p.SaleID, &amount, &amountUSD, &rate, &p.Method,
		&p.Confirmed, &confirmedAt, &confirmedBy, &receiptRef, &recordedAt)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}

	p.Amount = parseDecimal(amount)
	p.RateApplied = parseDecimal(rate)
	if amountUSD.Valid {
		usd := parseDecimal(amountUSD.String)
		p.AmountUSD = &usd
	}
	p.ConfirmedAt = parseNullTime(confirmedAt)
	p.ConfirmedBy = confirmedBy.String
	p.ReceiptRef = receiptRef.String
	p.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
	return p, nil
}

func (s *Store) AddPayment(ctx context.Context, p finance.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var amountUSD any
	if p.AmountUSD != nil {
		amountUSD = p.AmountUSD.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments
		(id, sale_id, amount, amount_usd, rate_applied, method,
		 confirmed, confirmed_at, confirmed_by, receipt_ref, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SaleID, p.Amount.String(), amountUSD, p.RateApplied.String(),
		string(p.Method), p.Confirmed, formatNullTime(p.ConfirmedAt),
		nullString(p.ConfirmedBy), nullString(p.ReceiptRef),
		p.RecordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to add payment: %w", err)
	}
	return nil
}

// ConfirmPayment records accountant confirmation. One-way: an already
// confirmed payment is left untouched.
func (s *Store) ConfirmPayment(ctx context.Context, id, actor string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET confirmed = TRUE, confirmed_at = ?, confirmed_by = ?
		WHERE id = ? AND confirmed = FALSE`,
		at.UTC().Format(time.RFC3339), actor, id)
	if err != nil {
		return fmt.Errorf("failed to confirm payment: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM payments WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return finance.ErrPaymentNotFound
		}
		// Already confirmed: silent no-op.
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
