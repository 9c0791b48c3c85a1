// Package monitor turns large pending flow into decaying pressure signals.
package monitor

import (
	"math"
	"sync"
	"time"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/observability"
)

// PressureConfig configures signal decay.
type PressureConfig struct {
	HalfLife time.Duration
	// MaxAge drops signals not refreshed for this long.
	MaxAge time.Duration
	// Floor is the decayed magnitude below which a signal is neutral.
	Floor float64
}

// DefaultPressureConfig returns default decay settings.
func DefaultPressureConfig() PressureConfig {
	return PressureConfig{
		HalfLife: 30 * time.Second,
		MaxAge:   5 * time.Minute,
		Floor:    0.01,
	}
}

type signalKey struct {
	scope domain.PressureScope
	key   string
	side  domain.PressureSide
}

// PressureStore holds the latest signal per (scope, key, side). Each key
// has a single writer, the monitor; readers take immutable views.
type PressureStore struct {
	cfg     PressureConfig
	mu      sync.Mutex
	signals map[signalKey]domain.PressureSignal
}

// NewPressureStore creates an empty store.
func NewPressureStore(cfg PressureConfig) *PressureStore {
	if cfg.Floor <= 0 {
		cfg.Floor = DefaultPressureConfig().Floor
	}
	return &PressureStore{cfg: cfg, signals: make(map[signalKey]domain.PressureSignal)}
}

// Apply folds an update into the signal for its key. The existing signal
// is decayed to now and the new magnitude added, capped at 1.
func (s *PressureStore) Apply(u domain.PressureUpdate, now time.Time) domain.PressureSignal {
	at := u.At
	if at.IsZero() || at.After(now) {
		at = now
	}
	k := signalKey{scope: u.Scope, key: u.Key, side: u.Side}

	s.mu.Lock()
	defer s.mu.Unlock()

	mag := clamp01(u.Magnitude)
	if prev, ok := s.signals[k]; ok && s.live(prev, at) {
		mag = clamp01(prev.Decayed(at, s.cfg.HalfLife) + mag)
	}
	sig := domain.PressureSignal{Scope: u.Scope, Key: u.Key, Side: u.Side, Magnitude: mag, UpdatedAt: at}
	s.signals[k] = sig
	return sig
}

func (s *PressureStore) live(sig domain.PressureSignal, now time.Time) bool {
	if s.cfg.MaxAge > 0 && now.Sub(sig.UpdatedAt) > s.cfg.MaxAge {
		return false
	}
	return sig.Decayed(now, s.cfg.HalfLife) >= s.cfg.Floor
}

// View returns the decayed live signals at now and prunes dead ones.
func (s *PressureStore) View(now time.Time) PressureView {
	v := PressureView{
		At:     now,
		tokens: make(map[string]sides),
		pools:  make(map[string]sides),
	}

	s.mu.Lock()
	for k, sig := range s.signals {
		if !s.live(sig, now) {
			delete(s.signals, k)
			continue
		}
		m := sig.Decayed(now, s.cfg.HalfLife)
		target := v.tokens
		if k.scope == domain.ScopePool {
			target = v.pools
		}
		cur := target[k.key]
		cur.set(k.side, m)
		target[k.key] = cur
		v.n++
	}
	s.mu.Unlock()

	observability.SetPressureSignals(v.n)
	return v
}

// Len returns the number of stored signals, live or not yet pruned.
func (s *PressureStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.signals)
}

type sides struct {
	buy, sell, unknown float64
}

func (s *sides) set(side domain.PressureSide, m float64) {
	switch side {
	case domain.PressureBuy:
		s.buy = m
	case domain.PressureSell:
		s.sell = m
	default:
		s.unknown = m
	}
}

// PressureView is an immutable point-in-time read of live signals.
// The zero value is neutral.
type PressureView struct {
	At     time.Time
	tokens map[string]sides
	pools  map[string]sides
	n      int
}

// Len returns the number of live signals in the view.
func (v PressureView) Len() int {
	return v.n
}

// Token returns the decayed magnitude for a token and side.
func (v PressureView) Token(mint string, side domain.PressureSide) float64 {
	s := v.tokens[mint]
	switch side {
	case domain.PressureBuy:
		return s.buy
	case domain.PressureSell:
		return s.sell
	default:
		return s.unknown
	}
}

// Adverse returns the strongest signal moving against a hop. Swapping in
// for out loses when others buy out or sell in ahead of us. Signals with
// unknown direction and pool-scoped signals count against the hop.
func (v PressureView) Adverse(h domain.Hop) float64 {
	in := v.tokens[h.TokenIn]
	out := v.tokens[h.TokenOut]
	m := math.Max(out.buy, in.sell)
	m = math.Max(m, math.Max(in.unknown, out.unknown))
	if h.Pool != nil {
		p := v.pools[h.Pool.Key.PoolID]
		m = math.Max(m, math.Max(p.buy, math.Max(p.sell, p.unknown)))
	}
	return m
}

// MaxAdverse returns the strongest adverse signal over a route.
func (v PressureView) MaxAdverse(r domain.Route) float64 {
	var m float64
	for _, h := range r.Hops {
		m = math.Max(m, v.Adverse(h))
	}
	return m
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
