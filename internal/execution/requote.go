package execution

import (
	"fmt"
	"time"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/graph"
)

// PoolReader reads the latest stored pool states.
type PoolReader interface {
	Get(key domain.PoolKey) (*domain.PoolState, bool)
	Degraded(key domain.PoolKey) bool
}

// MarketQuoter reprices routes against the market store.
type MarketQuoter struct {
	pools     PoolReader
	staleness time.Duration
}

// NewMarketQuoter creates a quoter refusing pools older than staleness.
func NewMarketQuoter(pools PoolReader, staleness time.Duration) *MarketQuoter {
	return &MarketQuoter{pools: pools, staleness: staleness}
}

// Requote prices the opportunity's route at its input against the latest
// state. Missing, degraded or stale pools fail with domain.ErrData.
func (q *MarketQuoter) Requote(opp domain.Opportunity, now time.Time) (domain.Opportunity, error) {
	return graph.Reprice(opp, func(key domain.PoolKey) (*domain.PoolState, error) {
		p, ok := q.pools.Get(key)
		switch {
		case !ok:
			return nil, fmt.Errorf("%w: pool %s not tracked", domain.ErrData, key)
		case q.pools.Degraded(key):
			return nil, fmt.Errorf("%w: pool %s degraded", domain.ErrData, key)
		case q.staleness > 0 && p.Staleness(now) > q.staleness:
			return nil, fmt.Errorf("%w: pool %s stale by %s", domain.ErrData, key, p.Staleness(now))
		}
		return p, nil
	})
}
