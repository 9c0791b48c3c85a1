package execution

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/observability"
	"solana-arb-engine/internal/storage"
)

// Reconcile re-reads the on-chain fate of every expired attempt. Landed and
// failed attempts are resolved from the chain; attempts still unknown after
// their blockhash validity are resolved as dropped. Unresolved attempts keep
// their resources and are retried on the next call. Returns the number resolved.
func (p *Pipeline) Reconcile(ctx context.Context) int {
	p.mu.Lock()
	queue := p.backlog
	p.backlog = nil
	p.mu.Unlock()

	var keep []*pending
	resolved := 0
	for _, it := range queue {
		if ctx.Err() != nil {
			keep = append(keep, it)
			continue
		}
		if p.reconcileOne(ctx, it) {
			resolved++
			continue
		}
		keep = append(keep, it)
	}

	if len(keep) > 0 {
		p.mu.Lock()
		p.backlog = append(keep, p.backlog...)
		p.mu.Unlock()
	}
	observability.SetInFlight(p.guard.inFlight())
	return resolved
}

func (p *Pipeline) reconcileOne(ctx context.Context, it *pending) bool {
	a := it.attempt
	now := p.now()

	conf, err := p.transport.Lookup(ctx, a.Signature)
	if err != nil {
		p.log.Warn().Err(err).Str("attempt", a.ID).Str("signature", a.Signature).Msg("reconciliation lookup failed")
		return false
	}

	rec := &domain.ReconciliationRecord{
		AttemptID:    a.ID,
		Signature:    a.Signature,
		Slot:         conf.Slot,
		FeeLamports:  conf.FeeLamports,
		ReconciledAt: now.UnixMilli(),
	}
	switch {
	case conf.Status == domain.TxConfirmed:
		rec.Outcome = domain.ReconcileLanded
		if v, ok := conf.Effect(a.Opportunity.Route); ok {
			rec.RealizedPnL = decimal.NewFromFloat(v)
			rec.RealizedPnLUSD = rec.RealizedPnL.Mul(decimal.NewFromFloat(p.usdPrice(a.Opportunity.Anchor)))
			rec.PnLKnown = true
			p.gate.RecordPnL(rec.RealizedPnLUSD, now)
			observability.AddRealizedPnL(rec.RealizedPnLUSD.InexactFloat64())
		}
	case conf.Status == domain.TxFailed:
		rec.Outcome = domain.ReconcileFailed
	case !now.Before(it.deadline):
		rec.Outcome = domain.ReconcileDropped
	default:
		return false
	}

	if err := p.execLog.AppendReconciliation(ctx, rec); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		p.log.Error().Err(err).Str("attempt", a.ID).Msg("append reconciliation record")
		return false
	}

	observability.RecordReconciliation(rec.Outcome)
	p.log.Info().
		Str("attempt", a.ID).
		Str("signature", a.Signature).
		Str("outcome", rec.Outcome).
		Uint64("slot", rec.Slot).
		Str("realized_pnl", rec.RealizedPnL.String()).
		Bool("pnl_known", rec.PnLKnown).
		Dur("since_submit", now.Sub(a.SubmittedAt)).
		Msg("expired attempt reconciled")

	it.unlock()
	return true
}

// Drain resolves the backlog until it is empty or ctx ends, polling at the
// given interval. Used on shutdown so expired attempts are not forgotten.
func (p *Pipeline) Drain(ctx context.Context, interval time.Duration) int {
	total := 0
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		total += p.Reconcile(ctx)
		if p.Pending() == 0 {
			return total
		}
		select {
		case <-ctx.Done():
			return total
		case <-ticker.C:
		}
	}
}
