// Package scoring decides whether a detected opportunity may be executed.
// Score is a pure function: it reads the opportunity, the pressure view and
// the execution context and returns an annotated copy.
package scoring

import (
	"fmt"
	"math"

	"solana-arb-engine/internal/domain"
)

// Rejection reasons.
const (
	ReasonCircuitBreaker = "circuit_breaker"
	ReasonConcurrency    = "concurrency_limit"
	ReasonProfit         = "below_min_profit"
	ReasonSlippage       = "slippage_exceeded"
	ReasonLiquidity      = "insufficient_liquidity"
	ReasonConfidence     = "low_confidence"
	ReasonRisk           = "risk_exceeded"
)

// Liquidity tiers for the base risk score, by average hop TVL in USD.
const (
	thinLiquidityUSD   = 10_000
	mediumLiquidityUSD = 50_000

	thinRisk   = 0.8
	mediumRisk = 0.5
	deepRisk   = 0.2

	adverseRiskWeight = 0.3
)

// Thresholds are the configured accept bounds and score weights.
type Thresholds struct {
	MinProfitPct          float64 // net profit, percent of input
	MaxSlippagePct        float64 // price impact, percent
	MinLiquidityUSD       float64 // total TVL across hops
	MaxConcurrent         int     // open executions allowed
	MinConfidence         float64
	MaxRisk               float64
	HighConfidence        float64 // rejections at or above this are logged
	DepthWeight           float64
	StabilityWeight       float64
	PressureWeight        float64 // confidence discount per unit of adverse pressure
	LiquidityReferenceUSD float64 // TVL at which depth ratio saturates
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinProfitPct:          0.5,
		MaxSlippagePct:        1.0,
		MinLiquidityUSD:       10_000,
		MaxConcurrent:         3,
		MinConfidence:         0.3,
		MaxRisk:               0.7,
		HighConfidence:        0.7,
		DepthWeight:           0.6,
		StabilityWeight:       0.4,
		PressureWeight:        0.5,
		LiquidityReferenceUSD: 100_000,
	}
}

// Pressure is the read side of the pressure-signal store. The zero
// monitor.PressureView is neutral.
type Pressure interface {
	MaxAdverse(route domain.Route) float64
}

// Context is the execution state the decision depends on.
type Context struct {
	OpenExecutions int
	BreakerTripped bool
}

// Decision is the scorer's verdict. Opportunity is an annotated copy; the
// route is shared with the input and never modified.
type Decision struct {
	Accepted    bool
	Reason      string
	Confidence  float64
	Risk        float64
	Adverse     float64
	Opportunity domain.Opportunity
}

// Err returns nil for accepted decisions, otherwise an error wrapping
// ErrRiskViolation (and ErrCircuitBreakerTripped when the breaker was the cause).
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	if d.Reason == ReasonCircuitBreaker {
		return fmt.Errorf("%w: %w", domain.ErrRiskViolation, domain.ErrCircuitBreakerTripped)
	}
	return fmt.Errorf("%w: %s", domain.ErrRiskViolation, d.Reason)
}

// HighConfidence reports whether a rejected decision should be surfaced.
func (d Decision) HighConfidence(th Thresholds) bool {
	return d.Confidence >= th.HighConfidence
}

// Score evaluates opp. Scores are computed for every opportunity so that
// rejected ones can be logged with full context.
func Score(opp domain.Opportunity, pressure Pressure, ctx Context, th Thresholds) Decision {
	var adverse float64
	if pressure != nil {
		adverse = clamp01(pressure.MaxAdverse(opp.Route))
	}

	confidence := Confidence(opp, adverse, th)
	risk := Risk(opp, adverse)

	d := Decision{Confidence: confidence, Risk: risk, Adverse: adverse}
	switch {
	case ctx.BreakerTripped:
		d.Reason = ReasonCircuitBreaker
	case th.MaxConcurrent > 0 && ctx.OpenExecutions >= th.MaxConcurrent:
		d.Reason = ReasonConcurrency
	case opp.NetProfitPct < th.MinProfitPct:
		d.Reason = ReasonProfit
	case opp.Slippage*100 > th.MaxSlippagePct:
		d.Reason = ReasonSlippage
	case opp.TotalLiquidityUSD < th.MinLiquidityUSD:
		d.Reason = ReasonLiquidity
	case confidence < th.MinConfidence:
		d.Reason = ReasonConfidence
	case risk > th.MaxRisk:
		d.Reason = ReasonRisk
	default:
		d.Accepted = true
	}

	out := opp
	out.Confidence = confidence
	out.Risk = risk
	if d.Accepted {
		out.Status = domain.OpportunityAccepted
		out.RejectReason = ""
	} else {
		out.Status = domain.OpportunityRejected
		out.RejectReason = d.Reason
	}
	d.Opportunity = out
	return d
}

// Confidence combines the liquidity depth ratio with per-hop stability,
// discounted by adverse pressure. In [0,1].
func Confidence(opp domain.Opportunity, adverse float64, th Thresholds) float64 {
	var depth float64
	if th.LiquidityReferenceUSD > 0 {
		depth = math.Min(opp.TotalLiquidityUSD/th.LiquidityReferenceUSD, 1)
	}

	var stability float64
	if n := opp.Route.Len(); n > 0 {
		for _, h := range opp.Route.Hops {
			stability += hopStability(h.Pool)
		}
		stability /= float64(n)
	}

	wd, ws := th.DepthWeight, th.StabilityWeight
	if sum := wd + ws; sum > 0 {
		wd, ws = wd/sum, ws/sum
	}
	base := wd*depth + ws*stability
	return clamp01(base * (1 - clamp01(th.PressureWeight*adverse)))
}

// Risk is the liquidity tier of the route plus a pressure term. In [0,1].
func Risk(opp domain.Opportunity, adverse float64) float64 {
	base := thinRisk
	if n := opp.Route.Len(); n > 0 {
		avg := opp.TotalLiquidityUSD / float64(n)
		switch {
		case avg < thinLiquidityUSD:
			base = thinRisk
		case avg < mediumLiquidityUSD:
			base = mediumRisk
		default:
			base = deepRisk
		}
	}
	return clamp01(base + adverseRiskWeight*adverse)
}

// hopStability is the reserve-ratio stability kept by the market store for
// AMM pools and the evenness of level sizes for order books.
func hopStability(p *domain.PoolState) float64 {
	if p == nil {
		return 0
	}
	if p.Kind == domain.VenueOrderBook {
		return bookEvenness(p)
	}
	return clamp01(p.Stability)
}

// bookEvenness is 1 minus the coefficient of variation of level sizes
// across both sides of the book. A book with one level is even.
func bookEvenness(p *domain.PoolState) float64 {
	sizes := make([]float64, 0, len(p.Bids)+len(p.Asks))
	for _, l := range p.Bids {
		sizes = append(sizes, l.Size)
	}
	for _, l := range p.Asks {
		sizes = append(sizes, l.Size)
	}
	if len(sizes) == 0 {
		return 0
	}
	var mean float64
	for _, s := range sizes {
		mean += s
	}
	mean /= float64(len(sizes))
	if mean <= 0 {
		return 0
	}
	var variance float64
	for _, s := range sizes {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(sizes))
	return clamp01(1 - math.Sqrt(variance)/mean)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
