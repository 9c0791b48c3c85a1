package graph

import (
	"math"

	"solana-arb-engine/internal/domain"
)

// sized is a cycle priced at a concrete input amount.
type sized struct {
	hops   []domain.Hop
	input  float64
	output float64
}

func (s sized) profit() float64 {
	return s.output - s.input
}

// price walks the cycle with the given input, quoting each hop against
// the snapshot state.
func (c cycle) price(amountIn float64) (sized, error) {
	hops := make([]domain.Hop, len(c.edges))
	amount := amountIn
	for i, e := range c.edges {
		out, err := Quote(e.pool, e.tokenIn, amount)
		if err != nil {
			return sized{}, err
		}
		hops[i] = domain.Hop{
			Pool:      e.pool,
			TokenIn:   e.tokenIn,
			TokenOut:  e.tokenOut,
			AmountIn:  amount,
			AmountOut: out,
		}
		amount = out
	}
	return sized{hops: hops, input: amountIn, output: amount}, nil
}

// optimize searches input sizes in (0, maxPosition] for the largest
// profit. A geometric ladder of halvings from maxPosition locates the
// peak, then ternary search refines between the neighbouring rungs.
func (c cycle) optimize(maxPosition float64, steps, iterations int) (sized, bool) {
	if maxPosition <= 0 || steps < 1 {
		return sized{}, false
	}
	rungs := make([]float64, steps)
	for i := range rungs {
		rungs[i] = maxPosition / math.Pow(2, float64(i))
	}

	best := sized{}
	bestIdx := -1
	for i := len(rungs) - 1; i >= 0; i-- {
		s, err := c.price(rungs[i])
		if err != nil {
			continue
		}
		if bestIdx < 0 || s.profit() > best.profit() {
			best, bestIdx = s, i
		}
	}
	if bestIdx < 0 {
		return sized{}, false
	}

	lo := rungs[bestIdx] / 2
	if bestIdx+1 < len(rungs) {
		lo = rungs[bestIdx+1]
	}
	hi := rungs[bestIdx]
	if bestIdx > 0 {
		hi = rungs[bestIdx-1]
	}

	profitAt := func(x float64) float64 {
		s, err := c.price(x)
		if err != nil {
			return math.Inf(-1)
		}
		return s.profit()
	}
	for i := 0; i < iterations; i++ {
		m1 := lo + (hi-lo)/3
		m2 := hi - (hi-lo)/3
		if profitAt(m1) < profitAt(m2) {
			lo = m1
		} else {
			hi = m2
		}
	}
	if refined, err := c.price((lo + hi) / 2); err == nil && refined.profit() > best.profit() {
		best = refined
	}
	return best, best.profit() > 0
}
