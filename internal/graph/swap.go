package graph

import (
	"errors"
	"fmt"
	"math"

	"solana-arb-engine/internal/domain"
)

// ErrInsufficientLiquidity is returned when a pool cannot fill the input.
var ErrInsufficientLiquidity = errors.New("insufficient liquidity")

// Quote returns the output of swapping amountIn of tokenIn through the pool,
// after the venue fee. Amounts are in UI units.
func Quote(p *domain.PoolState, tokenIn string, amountIn float64) (float64, error) {
	return quote(p, tokenIn, amountIn, p.FeeRate)
}

// QuoteNoFee is Quote with the venue fee removed. Used to attribute fee drag.
func QuoteNoFee(p *domain.PoolState, tokenIn string, amountIn float64) (float64, error) {
	return quote(p, tokenIn, amountIn, 0)
}

func quote(p *domain.PoolState, tokenIn string, amountIn, fee float64) (float64, error) {
	if amountIn <= 0 || math.IsNaN(amountIn) || math.IsInf(amountIn, 0) {
		return 0, fmt.Errorf("invalid input amount %v", amountIn)
	}
	if !p.HasToken(tokenIn) {
		return 0, fmt.Errorf("pool %s does not trade %s", p.Key, tokenIn)
	}
	aToB := tokenIn == p.TokenA.Mint

	switch p.Kind {
	case domain.VenueConstantProduct:
		rin, rout := reserves(p, aToB)
		return constantProduct(amountIn, rin, rout, fee)

	case domain.VenueConcentrated:
		rin, rout := reserves(p, aToB)
		vin, vout := virtualReserves(p, aToB)
		if vin <= 0 || vout <= 0 {
			vin, vout = rin, rout
		}
		out, err := constantProduct(amountIn, vin, vout, fee)
		if err != nil {
			return 0, err
		}
		// the active range cannot pay out more than the pool holds
		if out >= rout {
			return 0, fmt.Errorf("%w: pool %s range exhausted", ErrInsufficientLiquidity, p.Key)
		}
		return out, nil

	case domain.VenueOrderBook:
		var out float64
		var err error
		if aToB {
			out, err = sellIntoBids(p.Bids, amountIn)
		} else {
			out, err = buyFromAsks(p.Asks, amountIn)
		}
		if err != nil {
			return 0, fmt.Errorf("pool %s: %w", p.Key, err)
		}
		return out * (1 - fee), nil
	}
	return 0, fmt.Errorf("pool %s has unknown venue kind %q", p.Key, p.Kind)
}

// SpotRate returns the marginal exchange rate for an infinitesimal input,
// net of the venue fee. Zero when the pool has no usable depth.
func SpotRate(p *domain.PoolState, tokenIn string) float64 {
	if !p.HasToken(tokenIn) {
		return 0
	}
	aToB := tokenIn == p.TokenA.Mint
	fee := 1 - p.FeeRate

	switch p.Kind {
	case domain.VenueConstantProduct:
		rin, rout := reserves(p, aToB)
		if rin <= 0 {
			return 0
		}
		return fee * rout / rin
	case domain.VenueConcentrated:
		vin, vout := virtualReserves(p, aToB)
		if vin <= 0 || vout <= 0 {
			vin, vout = reserves(p, aToB)
		}
		if vin <= 0 {
			return 0
		}
		return fee * vout / vin
	case domain.VenueOrderBook:
		if aToB {
			if len(p.Bids) == 0 {
				return 0
			}
			return fee * p.Bids[0].Price
		}
		if len(p.Asks) == 0 || p.Asks[0].Price <= 0 {
			return 0
		}
		return fee / p.Asks[0].Price
	}
	return 0
}

// Depth returns the amount of tokenIn the pool can absorb at its
// current state, used to scale probe sizes.
func Depth(p *domain.PoolState, tokenIn string) float64 {
	aToB := tokenIn == p.TokenA.Mint
	switch p.Kind {
	case domain.VenueOrderBook:
		var d float64
		if aToB {
			for _, l := range p.Bids {
				d += l.Size
			}
		} else {
			for _, l := range p.Asks {
				d += l.Size * l.Price
			}
		}
		return d
	default:
		rin, _ := reserves(p, aToB)
		return rin
	}
}

func constantProduct(amountIn, rin, rout, fee float64) (float64, error) {
	if rin <= 0 || rout <= 0 {
		return 0, ErrInsufficientLiquidity
	}
	in := amountIn * (1 - fee)
	return in * rout / (rin + in), nil
}

func reserves(p *domain.PoolState, aToB bool) (float64, float64) {
	if aToB {
		return p.ReserveA, p.ReserveB
	}
	return p.ReserveB, p.ReserveA
}

func virtualReserves(p *domain.PoolState, aToB bool) (float64, float64) {
	if aToB {
		return p.VirtualA, p.VirtualB
	}
	return p.VirtualB, p.VirtualA
}

// sellIntoBids sells base size into the bid side, returning quote.
func sellIntoBids(bids []domain.Level, base float64) (float64, error) {
	remaining := base
	var out float64
	for _, l := range bids {
		fill := math.Min(remaining, l.Size)
		out += fill * l.Price
		remaining -= fill
		if remaining <= 0 {
			return out, nil
		}
	}
	return 0, ErrInsufficientLiquidity
}

// buyFromAsks spends quote against the ask side, returning base.
func buyFromAsks(asks []domain.Level, quote float64) (float64, error) {
	remaining := quote
	var out float64
	for _, l := range asks {
		cost := l.Size * l.Price
		if remaining <= cost {
			return out + remaining/l.Price, nil
		}
		out += l.Size
		remaining -= cost
	}
	return 0, ErrInsufficientLiquidity
}
