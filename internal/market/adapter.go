package market

import (
	"context"
	"time"

	"solana-arb-engine/internal/domain"
)

// RawPool is venue data as fetched, before normalization.
type RawPool struct {
	PoolID    string
	Accounts  map[string][]byte // account data keyed by role, e.g. "vault_a"
	Slot      uint64
	FetchedAt time.Time
}

// Adapter is the capability a venue integration provides. Venue-specific
// wire decoding and pagination stay behind this interface.
type Adapter interface {
	// Source identifies the venue, e.g. "raydium".
	Source() string
	// Fetch reads raw state for every pool the adapter tracks.
	Fetch(ctx context.Context) ([]RawPool, error)
	// Normalize converts one raw pool into the shared PoolState shape.
	Normalize(raw RawPool) (domain.PoolState, error)
}

// Upserter is the write side of the store used by refreshers.
type Upserter interface {
	Upsert(p domain.PoolState) error
}
