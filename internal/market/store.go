// Package market holds the latest normalized state of every tracked pool.
package market

import (
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/observability"
)

// ChangeKind classifies a store change event.
type ChangeKind string

// Change kinds.
const (
	ChangeUpserted  ChangeKind = "upserted"
	ChangeDegraded  ChangeKind = "degraded"
	ChangeRecovered ChangeKind = "recovered"
)

// ChangeEvent is emitted for observability on every store mutation.
type ChangeEvent struct {
	Key     domain.PoolKey
	Kind    ChangeKind
	Version uint64
	At      time.Time
}

// StoreConfig configures the market state store.
type StoreConfig struct {
	// Staleness is the maximum age of a pool state included in snapshots.
	Staleness time.Duration
	// EventBuffer is the capacity of the change event channel.
	EventBuffer int
	// StabilityAlpha is the EWMA weight of the newest reserve-ratio observation.
	StabilityAlpha float64
	// StabilityScale is the relative ratio move that counts as fully unstable.
	StabilityScale float64
}

// DefaultStoreConfig returns default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Staleness:      10 * time.Second,
		EventBuffer:    1024,
		StabilityAlpha: 0.3,
		StabilityScale: 0.02,
	}
}

// initialStability is assigned to a pool seen for the first time.
const initialStability = 0.5

type entry struct {
	state    *domain.PoolState
	degraded bool
}

// table is an immutable view of the store. Writers build a new table
// and publish it; readers only ever load a pointer.
type table struct {
	version uint64
	entries []entry // sorted by key
	index   map[domain.PoolKey]int
}

func (t *table) lookup(key domain.PoolKey) (entry, bool) {
	i, ok := t.index[key]
	if !ok {
		return entry{}, false
	}
	return t.entries[i], true
}

// Store is the versioned, copy-on-write market state store.
// Upserts are serialized; snapshots never block.
type Store struct {
	cfg    StoreConfig
	log    zerolog.Logger
	writeM sync.Mutex
	cur    atomic.Pointer[table]
	events chan ChangeEvent
	drops  atomic.Uint64
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig, log zerolog.Logger) *Store {
	d := DefaultStoreConfig()
	if cfg.Staleness <= 0 {
		cfg.Staleness = d.Staleness
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = d.EventBuffer
	}
	if cfg.StabilityAlpha <= 0 || cfg.StabilityAlpha > 1 {
		cfg.StabilityAlpha = d.StabilityAlpha
	}
	if cfg.StabilityScale <= 0 {
		cfg.StabilityScale = d.StabilityScale
	}
	s := &Store{
		cfg:    cfg,
		log:    log.With().Str("component", "market_store").Logger(),
		events: make(chan ChangeEvent, cfg.EventBuffer),
	}
	s.cur.Store(&table{index: map[domain.PoolKey]int{}})
	return s
}

// Upsert replaces the state stored for the pool key. The update must be
// strictly newer than the stored state, otherwise ErrStaleUpdate is
// returned and the store is unchanged. A degraded pool recovers on upsert.
func (s *Store) Upsert(p domain.PoolState) error {
	if err := p.Validate(); err != nil {
		return err
	}
	next := p.Clone()

	s.writeM.Lock()
	defer s.writeM.Unlock()

	old := s.cur.Load()
	prev, exists := old.lookup(p.Key)
	if exists && !next.LastUpdate.After(prev.state.LastUpdate) {
		observability.RecordStaleUpdate()
		return domain.ErrStaleUpdate
	}

	if exists {
		next.Stability = s.stability(prev.state, next)
	} else {
		next.Stability = initialStability
	}

	t := &table{version: old.version + 1}
	kind := ChangeUpserted
	if exists {
		t.entries = make([]entry, len(old.entries))
		copy(t.entries, old.entries)
		t.index = old.index
		i := old.index[p.Key]
		if t.entries[i].degraded {
			kind = ChangeRecovered
		}
		t.entries[i] = entry{state: next}
	} else {
		t.entries = make([]entry, 0, len(old.entries)+1)
		t.entries = append(t.entries, old.entries...)
		t.entries = append(t.entries, entry{state: next})
		sort.Slice(t.entries, func(i, j int) bool {
			return t.entries[i].state.Key.Less(t.entries[j].state.Key)
		})
		t.index = make(map[domain.PoolKey]int, len(t.entries))
		for i, e := range t.entries {
			t.index[e.state.Key] = i
		}
	}
	s.cur.Store(t)

	observability.RecordPoolUpsert()
	if kind == ChangeRecovered {
		s.log.Info().Str("pool", p.Key.String()).Msg("pool recovered")
		observability.SetDegradedPools(countDegraded(t))
	}
	s.emit(ChangeEvent{Key: p.Key, Kind: kind, Version: t.version, At: next.LastUpdate})
	return nil
}

// stability folds the latest reserve-ratio move into an EWMA in [0,1].
func (s *Store) stability(prev, next *domain.PoolState) float64 {
	base := prev.Stability
	r0, r1 := prev.Ratio(), next.Ratio()
	if r0 <= 0 || r1 <= 0 {
		return base
	}
	move := math.Abs(r1/r0 - 1)
	obs := math.Max(0, 1-move/s.cfg.StabilityScale)
	a := s.cfg.StabilityAlpha
	return (1-a)*base + a*obs
}

// Snapshot returns an immutable copy of every fresh, non-degraded pool.
// Pool states are shared, not copied; they are never mutated after upsert.
func (s *Store) Snapshot(now time.Time) *domain.GraphSnapshot {
	t := s.cur.Load()
	snap := &domain.GraphSnapshot{
		Version: t.version,
		TakenAt: now,
		Pools:   make([]*domain.PoolState, 0, len(t.entries)),
	}
	for _, e := range t.entries {
		if e.degraded || e.state.Staleness(now) > s.cfg.Staleness {
			continue
		}
		snap.Pools = append(snap.Pools, e.state)
	}
	observability.SetSnapshotPools(len(snap.Pools))
	return snap
}

// Staleness returns the age of the stored state for key.
func (s *Store) Staleness(key domain.PoolKey, now time.Time) (time.Duration, bool) {
	e, ok := s.cur.Load().lookup(key)
	if !ok {
		return 0, false
	}
	return e.state.Staleness(now), true
}

// Get returns the stored state for key, including degraded pools.
func (s *Store) Get(key domain.PoolKey) (*domain.PoolState, bool) {
	e, ok := s.cur.Load().lookup(key)
	if !ok {
		return nil, false
	}
	return e.state, true
}

// PoolByID finds a pool by address regardless of source.
func (s *Store) PoolByID(id string) (*domain.PoolState, bool) {
	for _, e := range s.cur.Load().entries {
		if e.state.Key.PoolID == id {
			return e.state, true
		}
	}
	return nil, false
}

// Degraded reports whether key is currently marked degraded.
func (s *Store) Degraded(key domain.PoolKey) bool {
	e, ok := s.cur.Load().lookup(key)
	return ok && e.degraded
}

// Len returns the number of tracked pools.
func (s *Store) Len() int {
	return len(s.cur.Load().entries)
}

// Version returns the current store version.
func (s *Store) Version() uint64 {
	return s.cur.Load().version
}

// Sweep marks every pool whose data is older than the staleness bound as
// degraded. Degraded pools stay in the store and recover on the next
// fresh upsert. Returns the keys newly degraded by this call.
func (s *Store) Sweep(now time.Time) []domain.PoolKey {
	s.writeM.Lock()
	defer s.writeM.Unlock()

	old := s.cur.Load()
	var marked []domain.PoolKey
	for _, e := range old.entries {
		if !e.degraded && e.state.Staleness(now) > s.cfg.Staleness {
			marked = append(marked, e.state.Key)
		}
	}
	if len(marked) == 0 {
		return nil
	}

	t := &table{version: old.version + 1, index: old.index, entries: make([]entry, len(old.entries))}
	copy(t.entries, old.entries)
	for _, k := range marked {
		t.entries[t.index[k]].degraded = true
	}
	s.cur.Store(t)

	for _, k := range marked {
		age := t.entries[t.index[k]].state.Staleness(now)
		s.log.Warn().Str("pool", k.String()).Dur("age", age).Msg("pool degraded")
		s.emit(ChangeEvent{Key: k, Kind: ChangeDegraded, Version: t.version, At: now})
	}
	observability.SetDegradedPools(countDegraded(t))
	return marked
}

// Events returns the change event stream. Events are dropped when the
// consumer falls behind.
func (s *Store) Events() <-chan ChangeEvent {
	return s.events
}

// DroppedEvents returns how many change events were dropped.
func (s *Store) DroppedEvents() uint64 {
	return s.drops.Load()
}

func (s *Store) emit(ev ChangeEvent) {
	select {
	case s.events <- ev:
	default:
		s.drops.Add(1)
		observability.RecordChangeEventDropped()
	}
}

func countDegraded(t *table) int {
	n := 0
	for _, e := range t.entries {
		if e.degraded {
			n++
		}
	}
	return n
}

// IsStale reports whether err is a rejected out-of-order upsert.
func IsStale(err error) bool {
	return errors.Is(err, domain.ErrStaleUpdate)
}
