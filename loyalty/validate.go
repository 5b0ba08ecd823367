/*
validate.go - Drift detection and repair for account totals

PURPOSE:
  The account's two running totals are a cache over the ledger. Validate
  recomputes both directly from the ledger and reports any divergence
  beyond tolerance; Repair corrects the drift with audit-visible
  adjustment entries and rewrites the cache.

COMPUTATION:
  accumulated = sum of all positive entries (expired or not - it is a
                lifetime counter)
  available   = sum of positive non-expired entries
              + sum of negative non-expired entries, floored at zero

REPAIR STRATEGY:
  Two adjustment entries, not one: the first covers the accumulated
  delta, the second the part of the available delta not already explained
  by the first. The audit trail then shows why each total moved instead
  of one opaque catch-all correction. After writing, both stored fields
  are rewritten from the ledger including the new entries, which makes
  the routine idempotent: a second call finds a consistent account.

SEE ALSO:
  - ledger.go: The mutations that normally keep the cache in sync
*/
package loyalty

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// REPORTS
// =============================================================================

// ValidationReport compares stored totals against ledger-computed ones.
type ValidationReport struct {
	CustomerID string
	Consistent bool

	StoredAccumulated   decimal.Decimal
	ComputedAccumulated decimal.Decimal
	AccumulatedDelta    decimal.Decimal // computed - stored

	StoredAvailable   decimal.Decimal
	ComputedAvailable decimal.Decimal
	AvailableDelta    decimal.Decimal // computed - stored
}

// RepairResult carries the before/after snapshots of a repair.
type RepairResult struct {
	CustomerID     string
	Repaired       bool // false when already consistent and not forced
	EntriesWritten int
	Before         ValidationReport
	After          ValidationReport
}

// PortfolioReport aggregates validation across the participating portfolio.
type PortfolioReport struct {
	Total        int
	Consistent   int
	Inconsistent int
	Diffs        []ValidationReport // one per inconsistent account
}

// =============================================================================
// VALIDATE
// =============================================================================

// Validate recomputes both totals from the ledger and compares them to the
// stored fields with the drift tolerance. Returns (nil, nil) for an
// unknown customer.
func (l *Ledger) Validate(ctx context.Context, customerID string) (*ValidationReport, error) {
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

	report := buildReport(acct, entries)
	return &report, nil
}

func buildReport(acct *Account, entries []Entry) ValidationReport {
	accumulated, available := computeTotals(entries)

	r := ValidationReport{
		CustomerID:          acct.CustomerID,
		StoredAccumulated:   acct.Accumulated,
		ComputedAccumulated: accumulated,
		AccumulatedDelta:    accumulated.Sub(acct.Accumulated),
		StoredAvailable:     acct.Available,
		ComputedAvailable:   available,
		AvailableDelta:      available.Sub(acct.Available),
	}
	r.Consistent = r.AccumulatedDelta.Abs().LessThanOrEqual(DriftTolerance) &&
		r.AvailableDelta.Abs().LessThanOrEqual(DriftTolerance)
	return r
}

// Err converts a drifted report into a hard failure for operational
// tooling. Returns nil when the report is consistent.
func (r ValidationReport) Err() error {
	if r.Consistent {
		return nil
	}
	return &DriftError{
		CustomerID:       r.CustomerID,
		AccumulatedDelta: r.AccumulatedDelta,
		AvailableDelta:   r.AvailableDelta,
	}
}

// computeTotals replays the ledger. Available is floored at zero so a
// repaired account always satisfies the non-negative invariant.
func computeTotals(entries []Entry) (accumulated, available decimal.Decimal) {
	accumulated = decimal.Zero
	available = decimal.Zero
	for _, e := range entries {
		if e.Points.IsPositive() {
			accumulated = accumulated.Add(e.Points)
		}
		if !e.Expired {
			available = available.Add(e.Points)
		}
	}
	return accumulated, floorZero(available)
}

// =============================================================================
// REPAIR
// =============================================================================

// Repair validates the account and, when drifted (or forced), writes the
// correcting adjustment entries and rewrites both stored totals from the
// ledger. Returns (nil, nil) for an unknown customer.
func (l *Ledger) Repair(ctx context.Context, customerID string, force bool) (*RepairResult, error) {
	var result *RepairResult

	err := l.store.WithTx(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, customerID)
		if err != nil {
			return err
		}
		if acct == nil {
			return nil
		}

		entries, err := s.ListByCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		before := buildReport(acct, entries)

		result = &RepairResult{CustomerID: customerID, Before: before, After: before}
		if before.Consistent && !force {
			return nil
		}

		// First adjustment: the accumulated correction.
		if before.AccumulatedDelta.Abs().GreaterThan(DriftTolerance) {
			e := buildEntry(customerID, "", EventAdjustment, before.AccumulatedDelta,
				decimal.Decimal{}, "Balance repair: accumulated correction", false)
			if err := s.Append(ctx, *e); err != nil {
				return err
			}
			entries = append(entries, *e)
			result.EntriesWritten++
		}

		// Second adjustment: the part of the available delta not already
		// explained by the accumulated correction.
		remainder := before.AvailableDelta.Sub(before.AccumulatedDelta)
		if remainder.Abs().GreaterThan(DriftTolerance) {
			e := buildEntry(customerID, "", EventAdjustment, remainder,
				decimal.Decimal{}, "Balance repair: available correction", false)
			if err := s.Append(ctx, *e); err != nil {
				return err
			}
			entries = append(entries, *e)
			result.EntriesWritten++
		}

		// Rewrite the cache from the ledger, new entries included.
		accumulated, available := computeTotals(entries)
		acct.Accumulated = accumulated
		acct.Available = available
		touch(acct)
		if err := s.SaveAccount(ctx, acct); err != nil {
			return err
		}

		result.Repaired = true
		result.After = buildReport(acct, entries)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result != nil && result.Repaired {
		l.logger.Info("account repaired",
			zap.String("customer", customerID),
			zap.Int("entries", result.EntriesWritten),
			zap.String("accumulated_delta", result.Before.AccumulatedDelta.String()),
			zap.String("available_delta", result.Before.AvailableDelta.String()))
	}
	return result, nil
}

// =============================================================================
// PORTFOLIO VALIDATION
// =============================================================================

// ValidateAll runs Validate over every participating account and aggregates
// the results. Operational tooling only - never called from request paths.
func (l *Ledger) ValidateAll(ctx context.Context) (*PortfolioReport, error) {
	accounts, err := l.store.ListAccounts(ctx, true)
	if err != nil {
		return nil, err
	}

	report := &PortfolioReport{}
	for _, acct := range accounts {
		entries, err := l.store.ListByCustomer(ctx, acct.CustomerID)
		if err != nil {
			return nil, err
		}
		r := buildReport(&acct, entries)
		report.Total++
		if r.Consistent {
			report.Consistent++
		} else {
			report.Inconsistent++
			report.Diffs = append(report.Diffs, r)
		}
	}
	return report, nil
}
