package execution

import (
	"fmt"

	"solana-arb-engine/internal/solana"
	"solana-arb-engine/internal/venue"
)

// Base network fee per signature in lamports.
const lamportsPerSignature = 5_000

// Compute unit estimate used when simulation reports none.
const (
	baseComputeUnits   = 50_000
	computeUnitsPerHop = 100_000
)

func estimateComputeUnits(hops int, limit uint32) uint32 {
	est := uint64(baseComputeUnits + computeUnitsPerHop*hops)
	if est > uint64(limit) {
		return limit
	}
	return uint32(est)
}

// validateTransaction checks a built transaction against the program
// whitelist and size limits before it is simulated or signed.
func validateTransaction(ixs []solana.Instruction, hops int, cfg Config, allowed map[solana.PublicKey]struct{}) error {
	if hops < 1 || hops > venue.MaxRouteHops {
		return fmt.Errorf("route has %d hops, allowed 1..%d", hops, venue.MaxRouteHops)
	}
	if cfg.MaxInstructions > 0 && len(ixs) > cfg.MaxInstructions {
		return fmt.Errorf("transaction has %d instructions, max %d", len(ixs), cfg.MaxInstructions)
	}
	for i, ix := range ixs {
		if _, ok := allowed[ix.ProgramID]; !ok {
			return fmt.Errorf("instruction %d calls program %s outside the whitelist", i, ix.ProgramID)
		}
		if cfg.MaxInstructionData > 0 && len(ix.Data) > cfg.MaxInstructionData {
			return fmt.Errorf("instruction %d carries %d bytes of data, max %d", i, len(ix.Data), cfg.MaxInstructionData)
		}
	}
	return nil
}

// networkFeeLamports is the base signature fee plus the priority fee for
// the compute unit limit.
func networkFeeLamports(signatures int, cuLimit uint32, microLamportsPerCU uint64) uint64 {
	return uint64(signatures)*lamportsPerSignature + uint64(cuLimit)*microLamportsPerCU/1_000_000
}
