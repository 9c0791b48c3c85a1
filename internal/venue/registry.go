// Package venue knows the supported DEX programs and adapts their on-chain
// accounts to the normalized pool model.
package venue

import (
	"sort"

	"solana-arb-engine/internal/domain"
)

// Known DEX program IDs.
const (
	// RaydiumAMMV4 is the Raydium AMM v4 program ID.
	RaydiumAMMV4 = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	// OrcaWhirlpool is the Orca Whirlpool program ID.
	OrcaWhirlpool = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
	// MeteoraDLMM is the Meteora dynamic liquidity market maker program ID.
	MeteoraDLMM = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"
	// MeteoraDAMM is the Meteora dynamic AMM program ID.
	MeteoraDAMM = "Eo7WjKq67rjJQSZxS6z3YkapzY3eMj6Xy8X5EQVn5UaB"
	// Phoenix is the Phoenix order book program ID.
	Phoenix = "PhoeNiXZ8ByJGLkxNfZRnkUfjvmuYqLR89jjFHGqdXY"
	// PumpFun is the pump.fun program ID.
	PumpFun = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	// Saber is the Saber stable swap program ID.
	Saber = "SSwpkEEcbUqx4vtoEByFjSkhKdCT862DNVb52nZg1UZ"
	// Serum is the Serum DEX v3 program ID.
	Serum = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	// Lifinity is the Lifinity v2 program ID.
	Lifinity = "EewxydAPCCVuNEyrVN68PuSYdQ7wKn27V9Gjeoi8dy3S"
)

// Program describes a known venue program.
type Program struct {
	ID     string
	Source string // venue identifier used in pool keys
	Kind   domain.VenueKind
}

var programs = map[string]Program{
	RaydiumAMMV4:  {ID: RaydiumAMMV4, Source: "raydium", Kind: domain.VenueConstantProduct},
	OrcaWhirlpool: {ID: OrcaWhirlpool, Source: "orca", Kind: domain.VenueConcentrated},
	MeteoraDLMM:   {ID: MeteoraDLMM, Source: "meteora", Kind: domain.VenueConcentrated},
	MeteoraDAMM:   {ID: MeteoraDAMM, Source: "meteora_damm", Kind: domain.VenueConstantProduct},
	Phoenix:       {ID: Phoenix, Source: "phoenix", Kind: domain.VenueOrderBook},
	PumpFun:       {ID: PumpFun, Source: "pumpfun", Kind: domain.VenueConstantProduct},
	Saber:         {ID: Saber, Source: "saber", Kind: domain.VenueConstantProduct},
	Serum:         {ID: Serum, Source: "serum", Kind: domain.VenueOrderBook},
	Lifinity:      {ID: Lifinity, Source: "lifinity", Kind: domain.VenueConstantProduct},
}

// Lookup returns the program registered under id.
func Lookup(id string) (Program, bool) {
	p, ok := programs[id]
	return p, ok
}

// BySource returns the program whose venue identifier is source.
func BySource(source string) (Program, bool) {
	for _, p := range programs {
		if p.Source == source {
			return p, true
		}
	}
	return Program{}, false
}

// Programs returns all known programs sorted by source.
func Programs() []Program {
	out := make([]Program, 0, len(programs))
	for _, p := range programs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// DefaultMonitored is the program set watched for pressure by default.
func DefaultMonitored() []string {
	return []string{RaydiumAMMV4, OrcaWhirlpool, Phoenix, MeteoraDLMM}
}
