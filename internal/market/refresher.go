package market

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/observability"
)

// RefreshStats summarizes one refresh pass.
type RefreshStats struct {
	Fetched  int
	Upserted int
	Stale    int
	Invalid  int
}

// Refresher polls one adapter and writes normalized states to the store.
type Refresher struct {
	adapter  Adapter
	store    Upserter
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

// NewRefresher creates a refresher for adapter. Each Fetch is bounded by timeout.
func NewRefresher(adapter Adapter, store Upserter, interval, timeout time.Duration, log zerolog.Logger) *Refresher {
	return &Refresher{
		adapter:  adapter,
		store:    store,
		interval: interval,
		timeout:  timeout,
		log:      log.With().Str("component", "refresher").Str("source", adapter.Source()).Logger(),
	}
}

// Run refreshes until ctx is cancelled. Fetch failures are logged and the
// affected pools simply age out of snapshots.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn().Err(err).Msg("refresh failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RefreshOnce performs a single fetch-normalize-upsert pass.
func (r *Refresher) RefreshOnce(ctx context.Context) (RefreshStats, error) {
	var stats RefreshStats

	fctx, cancel := context.WithTimeout(ctx, r.timeout)
	start := time.Now()
	raws, err := r.adapter.Fetch(fctx)
	cancel()
	observability.RecordAdapterFetch(r.adapter.Source(), time.Since(start), err)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(raws)

	for _, raw := range raws {
		p, err := r.adapter.Normalize(raw)
		if err != nil {
			stats.Invalid++
			r.log.Debug().Err(err).Str("pool", raw.PoolID).Msg("normalize failed")
			continue
		}
		if err := r.store.Upsert(p); err != nil {
			switch {
			case errors.Is(err, domain.ErrStaleUpdate):
				stats.Stale++
			default:
				stats.Invalid++
				r.log.Debug().Err(err).Str("pool", raw.PoolID).Msg("upsert rejected")
			}
			continue
		}
		stats.Upserted++
	}
	return stats, nil
}
