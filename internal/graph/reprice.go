package graph

import (
	"fmt"

	"solana-arb-engine/internal/domain"
)

// PoolLookup resolves the current state of a pool.
type PoolLookup func(key domain.PoolKey) (*domain.PoolState, error)

// Reprice quotes the route of opp again at the same input size against the
// states returned by lookup. Identity and snapshot fields are kept, scores
// and status are cleared.
func Reprice(opp domain.Opportunity, lookup PoolLookup) (domain.Opportunity, error) {
	if opp.Route.Len() == 0 || opp.InputAmount <= 0 {
		return domain.Opportunity{}, fmt.Errorf("reprice: empty route or input")
	}

	hops := make([]domain.Hop, opp.Route.Len())
	amount := opp.InputAmount
	for i, h := range opp.Route.Hops {
		p, err := lookup(h.Pool.Key)
		if err != nil {
			return domain.Opportunity{}, fmt.Errorf("hop %d: %w", i, err)
		}
		out, err := Quote(p, h.TokenIn, amount)
		if err != nil {
			return domain.Opportunity{}, fmt.Errorf("hop %d via %s: %w", i, p.Key, err)
		}
		hops[i] = domain.Hop{Pool: p, TokenIn: h.TokenIn, TokenOut: h.TokenOut, AmountIn: amount, AmountOut: out}
		amount = out
	}

	next := valuate(opp.Anchor, sized{hops: hops, input: opp.InputAmount, output: amount})
	next.ID = opp.ID
	next.SnapshotVersion = opp.SnapshotVersion
	next.SnapshotTakenAt = opp.SnapshotTakenAt
	next.CreatedAt = opp.CreatedAt
	return next, nil
}
