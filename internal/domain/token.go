package domain

// Token is an SPL mint tracked by the engine.
// Immutable once loaded; keyed by Mint.
type Token struct {
	Mint      string  // base58 mint address
	Symbol    string  // display symbol, e.g. "SOL"
	Decimals  uint8   // mint decimals
	USDPrice  float64 // valuation hint used for TVL and loss accounting
	Validated bool    // decimals confirmed against the on-chain mint account
}

// Well-known mints.
const (
	MintSOL  = "So11111111111111111111111111111111111111112"
	MintUSDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	MintUSDT = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000
