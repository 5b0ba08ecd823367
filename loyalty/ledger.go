/*
ledger.go - Ledger service: accrual, redemption, reversal, expiration

PURPOSE:
  All mutations of the points ledger and the paired account totals live
  here. Every multi-step mutation runs inside one store transaction:
  either the entry and the account update commit together or neither does.

FAILURE SEMANTICS:
  Business-rule non-events (non-participating customer, zero amount,
  insufficient balance, bonus already granted this year) silently no-op
  and return (nil, nil). Only infrastructure failures propagate as errors.

SEE ALSO:
  - types.go: Entry/Account definitions and program constants
  - validate.go: Drift detection and repair
*/
package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the service coordinating ledger entries and account totals.
type Ledger struct {
	store  TxStore
	logger *zap.Logger
}

// NewLedger creates a ledger service. A nil logger falls back to a no-op
// logger.
func NewLedger(store TxStore, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, logger: logger}
}

// =============================================================================
// ENTRY CONSTRUCTION
// =============================================================================

// buildEntry assembles a ledger entry. Returns nil for zero points: zero
// entries are never persisted.
func buildEntry(customerID, saleID string, event EventType, points decimal.Decimal,
	multiplier decimal.Decimal, description string, isRedemption bool) *Entry {

	if points.IsZero() {
		return nil
	}
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	now := time.Now().UTC()
	return &Entry{
		ID:           uuid.NewString(),
		CustomerID:   customerID,
		SaleID:       saleID,
		Event:        event,
		Points:       points,
		Multiplier:   multiplier,
		Value:        points.Mul(ValuePerPoint),
		Description:  description,
		RecordedAt:   now,
		ExpiresAt:    expiryFor(event, isRedemption, now),
		IsRedemption: isRedemption,
	}
}

// expiryFor gives earned points their validity window. Debits, adjustments
// and reversals never expire.
func expiryFor(event EventType, isRedemption bool, now time.Time) *time.Time {
	if isRedemption {
		return nil
	}
	switch event {
	case EventPurchase, EventReferral, EventBirthday, EventCampaign, EventPromoBonus:
		t := now.AddDate(0, 0, ValidityDays)
		return &t
	}
	return nil
}

// =============================================================================
// ACCRUAL
// =============================================================================

// AccruePurchase credits points for a completed purchase:
// amount * PointsPerPeso * multiplier, expiring after the validity window.
// No-op for non-participating customers or non-positive amounts.
func (l *Ledger) AccruePurchase(ctx context.Context, customerID string, amount decimal.Decimal, saleID string, multiplier decimal.Decimal) (*Entry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	points := amount.Mul(PointsPerPeso).Mul(multiplier)

	var created *Entry
	err := l.store.WithTx(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, customerID)
		if err != nil {
			return err
		}
		if acct == nil || !acct.Participates {
			return nil
		}

		e := buildEntry(customerID, saleID, EventPurchase, points, multiplier,
			"Points earned on purchase", false)
		if e == nil {
			return nil
		}
		if err := s.Append(ctx, *e); err != nil {
			return err
		}

		acct.Accumulated = acct.Accumulated.Add(points)
		acct.Available = acct.Available.Add(points)
		touch(acct)
		if err := s.SaveAccount(ctx, acct); err != nil {
			return err
		}
		created = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created != nil {
		l.logger.Info("points accrued",
			zap.String("customer", customerID),
			zap.String("sale", saleID),
			zap.String("points", points.String()))
	}
	return created, nil
}

// AccrueReferral grants the fixed referral bonus.
func (l *Ledger) AccrueReferral(ctx context.Context, customerID, description string) (*Entry, error) {
	if description == "" {
		description = "Referral bonus"
	}
	return l.accrueFixedBonus(ctx, customerID, ReferralBonus, EventReferral, description, nil)
}

// AccrueBirthday grants the birthday bonus, at most once per calendar year.
func (l *Ledger) AccrueBirthday(ctx context.Context, customerID string) (*Entry, error) {
	today := time.Now().UTC()
	return l.accrueFixedBonus(ctx, customerID, BirthdayBonus, EventBirthday, "Birthday bonus", &today)
}

// AccrueCampaign grants a campaign-defined point amount.
func (l *Ledger) AccrueCampaign(ctx context.Context, customerID string, points decimal.Decimal, description string) (*Entry, error) {
	if description == "" {
		description = "Campaign bonus"
	}
	return l.accrueFixedBonus(ctx, customerID, points, EventCampaign, description, nil)
}

// accrueFixedBonus is the shared path for fixed grants. birthday, when set,
// enforces the one-per-calendar-year rule and stamps the grant date.
func (l *Ledger) accrueFixedBonus(ctx context.Context, customerID string, points decimal.Decimal, event EventType, description string, birthday *time.Time) (*Entry, error) {
	if points.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}

	var created *Entry
	err := l.store.WithTx(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, customerID)
		if err != nil {
			return err
		}
		if acct == nil || !acct.Participates {
			return nil
		}
		if birthday != nil && acct.LastBirthdayBonus != nil &&
			acct.LastBirthdayBonus.Year() == birthday.Year() {
			return nil
		}

		e := buildEntry(customerID, "", event, points, decimal.Decimal{}, description, false)
		if e == nil {
			return nil
		}
		if err := s.Append(ctx, *e); err != nil {
			return err
		}

		acct.Accumulated = acct.Accumulated.Add(points)
		acct.Available = acct.Available.Add(points)
		if birthday != nil {
			acct.LastBirthdayBonus = birthday
		}
		touch(acct)
		if err := s.SaveAccount(ctx, acct); err != nil {
			return err
		}
		created = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created != nil {
		l.logger.Info("bonus granted",
			zap.String("customer", customerID),
			zap.String("event", string(event)),
			zap.String("points", points.String()))
	}
	return created, nil
}

// =============================================================================
// REDEMPTION
// =============================================================================

// Redeem spends points against a sale. The requested amount is clamped to
// the available balance; a clamped amount of zero is a silent no-op.
// Redemption decrements Available only - it never erases earned history.
func (l *Ledger) Redeem(ctx context.Context, customerID string, points decimal.Decimal, saleID, description string) (*Entry, error) {
	if points.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}
	if description == "" {
		description = "Redemption applied to service"
	}

	var created *Entry
	err := l.store.WithTx(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, customerID)
		if err != nil {
			return err
		}
		if acct == nil || !acct.Participates {
			return nil
		}

		redeemed := points
		if redeemed.GreaterThan(acct.Available) {
			redeemed = acct.Available
		}
		if redeemed.LessThanOrEqual(decimal.Zero) {
			return nil
		}

		e := buildEntry(customerID, saleID, EventRedemption, redeemed.Neg(),
			decimal.Decimal{}, description, true)
		if err := s.Append(ctx, *e); err != nil {
			return err
		}

		acct.Available = acct.Available.Sub(redeemed)
		touch(acct)
		if err := s.SaveAccount(ctx, acct); err != nil {
			return err
		}
		created = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created != nil {
		l.logger.Info("points redeemed",
			zap.String("customer", customerID),
			zap.String("sale", saleID),
			zap.String("points", created.Points.String()))
	}
	return created, nil
}

// MaxRedeemableForSale returns the redemption ceiling for a sale total:
// at most 10% of the total, expressed as (points, peso value), each
// rounded to 2 decimals. Returns zeros for a non-positive total.
func MaxRedeemableForSale(saleTotal decimal.Decimal) (points, value decimal.Decimal) {
	if saleTotal.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero
	}
	value = saleTotal.Mul(MaxDiscountFraction)
	points = value.Div(ValuePerPoint)
	return round2(points), round2(value)
}

// =============================================================================
// PROMOTIONAL BONUS
// =============================================================================

// ApplyPromoBonus credits promotional points against a sale.
func (l *Ledger) ApplyPromoBonus(ctx context.Context, customerID string, points decimal.Decimal, saleID, promoName string) (*Entry, error) {
	if points.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}

	var created *Entry
	err := l.store.WithTx(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, customerID)
		if err != nil {
			return err
		}
		if acct == nil || !acct.Participates {
			return nil
		}

		e := buildEntry(customerID, saleID, EventPromoBonus, points, decimal.Decimal{},
			fmt.Sprintf("Promotional bonus: %s", promoName), false)
		if err := s.Append(ctx, *e); err != nil {
			return err
		}

		acct.Accumulated = acct.Accumulated.Add(points)
		acct.Available = acct.Available.Add(points)
		touch(acct)
		if err := s.SaveAccount(ctx, acct); err != nil {
			return err
		}
		created = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ReversePromoBonus undoes a promotional credit, recorded as a negative
// ADJUSTMENT entry. Both totals are decremented and floored at zero
// independently, even when the reversal exceeds the current balance.
func (l *Ledger) ReversePromoBonus(ctx context.Context, customerID string, points decimal.Decimal, saleID, promoName string) (*Entry, error) {
	if points.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}

	var created *Entry
	err := l.store.WithTx(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, customerID)
		if err != nil {
			return err
		}
		if acct == nil || !acct.Participates {
			return nil
		}

		e := buildEntry(customerID, saleID, EventAdjustment, points.Neg(), decimal.Decimal{},
			fmt.Sprintf("Promotional bonus reversed: %s", promoName), false)
		if err := s.Append(ctx, *e); err != nil {
			return err
		}

		acct.Accumulated = floorZero(acct.Accumulated.Sub(points))
		acct.Available = floorZero(acct.Available.Sub(points))
		touch(acct)
		if err := s.SaveAccount(ctx, acct); err != nil {
			return err
		}
		created = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// =============================================================================
// CANCELLATION REVERSAL
// =============================================================================

// ReverseOnCancellation undoes both accrual and redemption effects
// previously recorded against a sale, inside one transaction.
//
// Prior accruals (positive, non-redemption, non-expired entries of an
// accrual event type) are negated with a CANCELLATION_REVERSAL entry and
// removed from both totals, floored at zero independently. PROMO_BONUS
// sources keep ADJUSTMENT as the reversal's recorded type, for
// backward-compatible reporting.
//
// Prior redemptions are restored with a positive REDEMPTION_REVERSAL
// entry, crediting Available only.
//
// Idempotent in effect: reversal entries carry event types outside both
// query sets, so a second call finds nothing and writes nothing.
func (l *Ledger) ReverseOnCancellation(ctx context.Context, saleID string) (*ReversalSummary, error) {
	summary := &ReversalSummary{
		SaleID:         saleID,
		PointsReversed: decimal.Zero,
		PointsRestored: decimal.Zero,
	}

	err := l.store.WithTx(ctx, func(s Store) error {
		entries, err := s.ListBySale(ctx, saleID)
		if err != nil {
			return err
		}

		accounts := make(map[string]*Account)
		load := func(customerID string) (*Account, error) {
			if acct, ok := accounts[customerID]; ok {
				return acct, nil
			}
			acct, err := s.GetAccount(ctx, customerID)
			if err != nil {
				return nil, err
			}
			accounts[customerID] = acct
			return acct, nil
		}

		for _, src := range entries {
			switch {
			case accrualEvents[src.Event] && src.Points.IsPositive() && !src.IsRedemption && !src.Expired:
				acct, err := load(src.CustomerID)
				if err != nil {
					return err
				}
				if acct == nil {
					continue
				}

				reversalEvent := EventCancellationReversal
				if src.Event == EventPromoBonus {
					reversalEvent = EventAdjustment
				}
				e := buildEntry(src.CustomerID, saleID, reversalEvent, src.Points.Neg(),
					decimal.Decimal{}, "Accrual reversed on sale cancellation", false)
				if err := s.Append(ctx, *e); err != nil {
					return err
				}

				acct.Accumulated = floorZero(acct.Accumulated.Sub(src.Points))
				acct.Available = floorZero(acct.Available.Sub(src.Points))
				summary.EntriesWritten++
				summary.PointsReversed = summary.PointsReversed.Add(src.Points)

			case src.Event == EventRedemption && src.Points.IsNegative() && src.IsRedemption && !src.Expired:
				acct, err := load(src.CustomerID)
				if err != nil {
					return err
				}
				if acct == nil {
					continue
				}

				restored := src.Points.Abs()
				e := buildEntry(src.CustomerID, saleID, EventRedemptionReversal, restored,
					decimal.Decimal{}, "Redemption restored on sale cancellation", false)
				if err := s.Append(ctx, *e); err != nil {
					return err
				}

				acct.Available = acct.Available.Add(restored)
				summary.EntriesWritten++
				summary.PointsRestored = summary.PointsRestored.Add(restored)
			}
		}

		if summary.EntriesWritten == 0 {
			return nil
		}

		for _, acct := range accounts {
			if acct == nil {
				continue
			}
			touch(acct)
			if err := s.SaveAccount(ctx, acct); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("sale loyalty effects reversed",
		zap.String("sale", saleID),
		zap.Int("entries", summary.EntriesWritten),
		zap.String("reversed", summary.PointsReversed.String()),
		zap.String("restored", summary.PointsRestored.String()))
	return summary, nil
}

// =============================================================================
// EXPIRATION SWEEP
// =============================================================================

// SweepExpirations processes every earned entry whose validity window has
// elapsed: writes an EXPIRATION entry with the negated points, flips the
// source entry's expired flag, and decrements the customer's Available
// (floored at zero). Accumulated is untouched - it is a lifetime counter.
//
// Each entry commits in its own transaction, so the sweep is safe to
// interrupt and to re-run: already-expired entries are excluded by query.
// Returns the number of entries processed.
func (l *Ledger) SweepExpirations(ctx context.Context) (int, error) {
	started := time.Now().UTC()

	expirable, err := l.store.ListExpirable(ctx, started)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, src := range expirable {
		wrote := false
		err := l.store.WithTx(ctx, func(s Store) error {
			acct, err := s.GetAccount(ctx, src.CustomerID)
			if err != nil {
				return err
			}
			if acct == nil {
				return nil
			}

			e := buildEntry(src.CustomerID, src.SaleID, EventExpiration, src.Points.Neg(),
				decimal.Decimal{},
				fmt.Sprintf("Automatic expiration of points recorded on %s", src.RecordedAt.Format("02/01/2006")),
				true)
			if err := s.Append(ctx, *e); err != nil {
				return err
			}
			if err := s.MarkExpired(ctx, src.ID); err != nil {
				return err
			}

			acct.Available = floorZero(acct.Available.Sub(src.Points))
			if err := s.SaveAccount(ctx, acct); err != nil {
				return err
			}
			wrote = true
			return nil
		})
		if err != nil {
			l.recordSweep(ctx, started, processed, err)
			return processed, err
		}
		if wrote {
			processed++
		}
	}

	l.recordSweep(ctx, started, processed, nil)
	l.logger.Info("expiration sweep completed", zap.Int("processed", processed))
	return processed, nil
}

func (l *Ledger) recordSweep(ctx context.Context, started time.Time, processed int, sweepErr error) {
	rs, ok := l.store.(SweepRunStore)
	if !ok {
		return
	}
	run := SweepRun{
		ID:          uuid.NewString(),
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
		Processed:   processed,
	}
	if sweepErr != nil {
		run.Error = sweepErr.Error()
	}
	if err := rs.RecordSweepRun(ctx, run); err != nil {
		l.logger.Warn("failed to record sweep run", zap.Error(err))
	}
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary builds the account read model: totals, peso value, the ten most
// recent entries and the next upcoming expiration. Returns (nil, nil) for
// an unknown customer.
func (l *Ledger) Summary(ctx context.Context, customerID string) (*AccountSummary, error) {
	acct, err := l.store.GetAccount(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, nil
	}

	entries, err := l.store.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	recent := entries
	if len(recent) > 10 {
		recent = recent[:10]
	}

	now := time.Now().UTC()
	var next *time.Time
	for _, e := range entries {
		if e.Expired || e.ExpiresAt == nil || !e.ExpiresAt.After(now) {
			continue
		}
		if next == nil || e.ExpiresAt.Before(*next) {
			t := *e.ExpiresAt
			next = &t
		}
	}

	return &AccountSummary{
		CustomerID:     acct.CustomerID,
		Participates:   acct.Participates,
		Accumulated:    acct.Accumulated,
		Available:      acct.Available,
		Value:          acct.Available.Mul(ValuePerPoint),
		LastActivityAt: acct.LastActivityAt,
		NextExpiration: next,
		Recent:         recent,
	}, nil
}

func touch(acct *Account) {
	now := time.Now().UTC()
	acct.LastActivityAt = &now
}
