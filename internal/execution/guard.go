package execution

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"solana-arb-engine/internal/domain"
)

// ErrCooldown is returned when a route touches a pool that recently
// finished an attempt.
var ErrCooldown = errors.New("pool in cooldown")

// ErrOpportunityExpired is returned at approval when the snapshot behind an
// opportunity is older than the configured bound.
var ErrOpportunityExpired = fmt.Errorf("%w: opportunity expired", domain.ErrRiskViolation)

// guard enforces that no two in-flight attempts share a pool or token,
// bounds the number of in-flight attempts and tracks pool cooldowns.
type guard struct {
	mu       sync.Mutex
	max      int                 // 0 = unbounded
	held     map[string]string   // resource -> attempt id
	owners   map[string][]string // attempt id -> resources
	cooldown map[domain.PoolKey]time.Time
}

func newGuard(maxInFlight int) *guard {
	return &guard{
		max:      maxInFlight,
		held:     make(map[string]string),
		owners:   make(map[string][]string),
		cooldown: make(map[domain.PoolKey]time.Time),
	}
}

// acquire reserves every resource of route for id, or none of them.
func (g *guard) acquire(id string, route domain.Route, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, k := range route.PoolKeys() {
		if until, ok := g.cooldown[k]; ok && now.Before(until) {
			return fmt.Errorf("%w: %s until %s", ErrCooldown, k, until.Format(time.RFC3339Nano))
		}
	}
	if g.max > 0 && len(g.owners) >= g.max {
		return fmt.Errorf("%w: %d attempts in flight", domain.ErrResourceBusy, len(g.owners))
	}
	res := route.Resources()
	for _, r := range res {
		if owner, ok := g.held[r]; ok {
			return fmt.Errorf("%w: %s held by attempt %s", domain.ErrResourceBusy, r, owner)
		}
	}
	for _, r := range res {
		g.held[r] = id
	}
	g.owners[id] = res
	return nil
}

// release frees the resources of id. Releasing twice is a no-op.
func (g *guard) release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range g.owners[id] {
		if g.held[r] == id {
			delete(g.held, r)
		}
	}
	delete(g.owners, id)
}

// cool puts the pools of route into cooldown until the given time.
func (g *guard) cool(route domain.Route, until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, k := range route.PoolKeys() {
		if until.After(g.cooldown[k]) {
			g.cooldown[k] = until
		}
	}
}

func (g *guard) cooling(keys []domain.PoolKey, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for k, until := range g.cooldown {
		if !now.Before(until) {
			delete(g.cooldown, k)
		}
	}
	for _, k := range keys {
		if _, ok := g.cooldown[k]; ok {
			return true
		}
	}
	return false
}

func (g *guard) inFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.owners)
}
