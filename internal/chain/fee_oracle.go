package chain

import (
	"context"
	"fmt"
	"sort"

	"solana-arb-engine/internal/solana"
)

// FeeOracle estimates network congestion from recent prioritization fees.
type FeeOracle struct {
	rpc        solana.RPCClient
	base       uint64  // micro-lamports per CU considered uncongested
	percentile float64 // in [0,1]
}

// NewFeeOracle creates an oracle comparing the given percentile of recent
// fees against base.
func NewFeeOracle(rpc solana.RPCClient, base uint64, percentile float64) *FeeOracle {
	if percentile <= 0 || percentile > 1 {
		percentile = 0.75
	}
	return &FeeOracle{rpc: rpc, base: base, percentile: percentile}
}

// Congestion returns recent fee level / base for the writable accounts,
// never below 1. With no samples or a zero base it returns 1.
func (f *FeeOracle) Congestion(ctx context.Context, accounts []string) (float64, error) {
	fees, err := f.rpc.GetRecentPrioritizationFees(ctx, accounts)
	if err != nil {
		return 1, fmt.Errorf("get recent prioritization fees: %w", err)
	}
	if len(fees) == 0 || f.base == 0 {
		return 1, nil
	}

	vals := make([]uint64, len(fees))
	for i, fee := range fees {
		vals[i] = fee.PrioritizationFee
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	idx := int(f.percentile*float64(len(vals)-1) + 0.5)

	c := float64(vals[idx]) / float64(f.base)
	if c < 1 {
		return 1, nil
	}
	return c, nil
}
