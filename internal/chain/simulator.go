// Package chain adapts the Solana JSON-RPC client to the simulation, transport
// and fee contracts of the execution pipeline.
package chain

import (
	"context"
	"fmt"
	"time"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/observability"
	"solana-arb-engine/internal/solana"
)

// Simulator dry-runs serialized transactions against current chain state.
type Simulator struct {
	rpc        solana.RPCClient
	commitment string
}

// NewSimulator creates a simulator. An empty commitment defaults to processed.
func NewSimulator(rpc solana.RPCClient, commitment string) *Simulator {
	if commitment == "" {
		commitment = solana.CommitmentProcessed
	}
	return &Simulator{rpc: rpc, commitment: commitment}
}

// Simulate runs the transaction with signature verification off and the
// blockhash replaced, so a payload signed against an older blockhash still
// simulates. A revert is reported in SimulationResult.Err, not as an error.
func (s *Simulator) Simulate(ctx context.Context, tx []byte) (*domain.SimulationResult, error) {
	start := time.Now()
	val, err := s.rpc.SimulateTransaction(ctx, tx, solana.SimulateOpts{
		SigVerify:              false,
		ReplaceRecentBlockhash: true,
		Commitment:             s.commitment,
	})
	observability.RecordRPCLatency("simulateTransaction", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("simulate transaction: %w", err)
	}

	res := &domain.SimulationResult{Logs: val.Logs}
	if val.UnitsConsumed != nil {
		res.UnitsConsumed = *val.UnitsConsumed
	}
	if val.Err != nil {
		res.Err = fmt.Sprint(val.Err)
	}
	return res, nil
}
