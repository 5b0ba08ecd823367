/*
Package audit defines the audit-trail collaborator.

PURPOSE:
  Sale, payment and ledger mutations emit human-readable event
  descriptions to an audit trail. The trail is fire-and-forget: it is
  not part of the financial correctness contract and must never fail a
  business operation.
*/
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event is one human-readable audit record.
type Event struct {
	At     time.Time
	Actor  string
	Action string
	Entity string // e.g. "sale:MV-20260830-01", "customer:c-42"
	Detail string
}

// Trail receives audit events. Implementations must be non-blocking from
// the caller's perspective and must swallow their own failures.
type Trail interface {
	Record(ctx context.Context, e Event)
}

// =============================================================================
// ZAP TRAIL - Default implementation, structured log output
// =============================================================================

type ZapTrail struct {
	logger *zap.Logger
}

func NewZapTrail(logger *zap.Logger) *ZapTrail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapTrail{logger: logger}
}

func (t *ZapTrail) Record(_ context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	t.logger.Info("audit",
		zap.Time("at", e.At),
		zap.String("actor", e.Actor),
		zap.String("action", e.Action),
		zap.String("entity", e.Entity),
		zap.String("detail", e.Detail))
}

// NopTrail discards every event.
type NopTrail struct{}

func (NopTrail) Record(context.Context, Event) {}
