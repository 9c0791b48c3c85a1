package domain

import (
	"fmt"
	"math"
	"time"
)

// VenueKind tags the liquidity model a pool follows.
type VenueKind string

// Venue kinds.
const (
	VenueConstantProduct VenueKind = "amm_cp"
	VenueConcentrated    VenueKind = "amm_clmm"
	VenueOrderBook       VenueKind = "orderbook"
)

// IsValid checks if the venue kind is known.
func (k VenueKind) IsValid() bool {
	switch k {
	case VenueConstantProduct, VenueConcentrated, VenueOrderBook:
		return true
	}
	return false
}

// PoolKey identifies a pool within a source venue.
type PoolKey struct {
	Source string // venue identifier, e.g. "raydium"
	PoolID string // pool (or market) address
}

func (k PoolKey) String() string {
	return k.Source + ":" + k.PoolID
}

// Less orders keys lexicographically by source, then pool id.
func (k PoolKey) Less(o PoolKey) bool {
	if k.Source != o.Source {
		return k.Source < o.Source
	}
	return k.PoolID < o.PoolID
}

// Level is one price level of an order book.
// Price is quoted in TokenB per TokenA, Size in TokenA.
type Level struct {
	Price float64
	Size  float64
}

// PoolState is the normalized state of one liquidity venue instance.
// Owned by the market store and replaced atomically on refresh.
type PoolState struct {
	Key     PoolKey
	Kind    VenueKind
	Program string // owning program id

	TokenA Token // base token for order books
	TokenB Token // quote token for order books

	// Reserves in UI units (already divided by 10^decimals).
	ReserveA float64
	ReserveB float64

	// Active-range depth for concentrated pools, zero otherwise.
	VirtualA float64
	VirtualB float64

	// Order book depth, best level first.
	Bids []Level
	Asks []Level

	FeeRate    float64   // fraction, 0.003 = 0.3%
	TVLUSD     float64   // total value locked estimate
	Slot       uint64    // slot the state was read at
	LastUpdate time.Time // monotonically increasing per key

	// Stability is the reserve-ratio stability in [0,1] maintained by
	// the market store across refreshes. 1 means the ratio did not move.
	Stability float64
}

// Staleness returns how old the state is relative to now.
func (p *PoolState) Staleness(now time.Time) time.Duration {
	return now.Sub(p.LastUpdate)
}

// HasToken reports whether the pool trades the given mint.
func (p *PoolState) HasToken(mint string) bool {
	return p.TokenA.Mint == mint || p.TokenB.Mint == mint
}

// Counterpart returns the other side of the pair for the given mint.
func (p *PoolState) Counterpart(mint string) (Token, bool) {
	switch mint {
	case p.TokenA.Mint:
		return p.TokenB, true
	case p.TokenB.Mint:
		return p.TokenA, true
	}
	return Token{}, false
}

// Ratio returns ReserveB/ReserveA, or 0 when undefined.
func (p *PoolState) Ratio() float64 {
	switch p.Kind {
	case VenueOrderBook:
		if len(p.Bids) == 0 || len(p.Asks) == 0 {
			return 0
		}
		return (p.Bids[0].Price + p.Asks[0].Price) / 2
	default:
		if p.ReserveA <= 0 {
			return 0
		}
		return p.ReserveB / p.ReserveA
	}
}

// Clone returns a deep copy.
func (p *PoolState) Clone() *PoolState {
	c := *p
	if p.Bids != nil {
		c.Bids = append([]Level(nil), p.Bids...)
	}
	if p.Asks != nil {
		c.Asks = append([]Level(nil), p.Asks...)
	}
	return &c
}

// Validate checks the normalized shape produced by an adapter.
func (p *PoolState) Validate() error {
	if p.Key.Source == "" || p.Key.PoolID == "" {
		return fmt.Errorf("%w: pool key is incomplete", ErrData)
	}
	if !p.Kind.IsValid() {
		return fmt.Errorf("%w: pool %s has unknown venue kind %q", ErrData, p.Key, p.Kind)
	}
	if p.TokenA.Mint == "" || p.TokenB.Mint == "" || p.TokenA.Mint == p.TokenB.Mint {
		return fmt.Errorf("%w: pool %s has invalid token pair", ErrData, p.Key)
	}
	if p.FeeRate < 0 || p.FeeRate >= 1 || math.IsNaN(p.FeeRate) {
		return fmt.Errorf("%w: pool %s fee rate %v out of range", ErrData, p.Key, p.FeeRate)
	}
	if p.LastUpdate.IsZero() {
		return fmt.Errorf("%w: pool %s has no update time", ErrData, p.Key)
	}
	switch p.Kind {
	case VenueOrderBook:
		for _, l := range append(append([]Level(nil), p.Bids...), p.Asks...) {
			if l.Price <= 0 || l.Size < 0 {
				return fmt.Errorf("%w: pool %s has invalid book level", ErrData, p.Key)
			}
		}
	default:
		if p.ReserveA < 0 || p.ReserveB < 0 || p.VirtualA < 0 || p.VirtualB < 0 {
			return fmt.Errorf("%w: pool %s has negative reserves", ErrData, p.Key)
		}
	}
	return nil
}

// GraphSnapshot is an immutable copy of all usable pool states at one
// instant. Pools are sorted by key. Never mutated after creation.
type GraphSnapshot struct {
	Version uint64       // store version the snapshot was taken at
	TakenAt time.Time    // wall clock at acquisition
	Pools   []*PoolState // fresh, non-degraded pools
}

// Pool looks up a pool in the snapshot by key.
func (s *GraphSnapshot) Pool(key PoolKey) (*PoolState, bool) {
	lo, hi := 0, len(s.Pools)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.Pools[mid].Key.Less(key) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(s.Pools) && s.Pools[lo].Key == key {
		return s.Pools[lo], true
	}
	return nil, false
}

// Age returns how long ago the snapshot was taken.
func (s *GraphSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.TakenAt)
}
