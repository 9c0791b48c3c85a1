package market

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-arb-engine/internal/domain"
)

var (
	sol  = domain.Token{Mint: domain.MintSOL, Symbol: "SOL", Decimals: 9, USDPrice: 100}
	usdc = domain.Token{Mint: domain.MintUSDC, Symbol: "USDC", Decimals: 6, USDPrice: 1}
	t0   = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
)

func cpPool(source, id string, a, b float64, at time.Time) domain.PoolState {
	return domain.PoolState{
		Key:        domain.PoolKey{Source: source, PoolID: id},
		Kind:       domain.VenueConstantProduct,
		TokenA:     sol,
		TokenB:     usdc,
		ReserveA:   a,
		ReserveB:   b,
		FeeRate:    0.003,
		LastUpdate: at,
	}
}

func newTestStore() *Store {
	return NewStore(StoreConfig{Staleness: 10 * time.Second, EventBuffer: 4}, zerolog.Nop())
}

func TestStore_UpsertAndGet(t *testing.T) {
	s := newTestStore()
	p := cpPool("raydium", "p1", 100, 10000, t0)

	require.NoError(t, s.Upsert(p))

	got, ok := s.Get(p.Key)
	require.True(t, ok)
	assert.Equal(t, 100.0, got.ReserveA)
	assert.Equal(t, initialStability, got.Stability)
	assert.Equal(t, uint64(1), s.Version())
	assert.Equal(t, 1, s.Len())
}

func TestStore_RejectsNonMonotonicUpdate(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Upsert(cpPool("raydium", "p1", 100, 10000, t0)))

	err := s.Upsert(cpPool("raydium", "p1", 50, 5000, t0))
	assert.ErrorIs(t, err, domain.ErrStaleUpdate)
	assert.ErrorIs(t, err, domain.ErrData)
	assert.True(t, IsStale(err))

	err = s.Upsert(cpPool("raydium", "p1", 50, 5000, t0.Add(-time.Second)))
	assert.ErrorIs(t, err, domain.ErrStaleUpdate)

	got, _ := s.Get(domain.PoolKey{Source: "raydium", PoolID: "p1"})
	assert.Equal(t, 100.0, got.ReserveA, "rejected update must not change state")
}

func TestStore_RejectsInvalidState(t *testing.T) {
	s := newTestStore()
	p := cpPool("raydium", "p1", 100, 10000, t0)
	p.TokenB = sol
	assert.ErrorIs(t, s.Upsert(p), domain.ErrData)
	assert.Equal(t, 0, s.Len())
}

func TestStore_SnapshotIsImmutable(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Upsert(cpPool("raydium", "p1", 100, 10000, t0)))

	snap := s.Snapshot(t0.Add(time.Second))
	require.Len(t, snap.Pools, 1)

	require.NoError(t, s.Upsert(cpPool("raydium", "p1", 200, 20000, t0.Add(2*time.Second))))
	require.NoError(t, s.Upsert(cpPool("orca", "p2", 98, 10500, t0.Add(2*time.Second))))

	assert.Len(t, snap.Pools, 1)
	assert.Equal(t, 100.0, snap.Pools[0].ReserveA)

	next := s.Snapshot(t0.Add(3 * time.Second))
	assert.Len(t, next.Pools, 2)
	assert.Greater(t, next.Version, snap.Version)
}

func TestStore_UpsertCopiesInput(t *testing.T) {
	s := newTestStore()
	p := domain.PoolState{
		Key:        domain.PoolKey{Source: "phoenix", PoolID: "m1"},
		Kind:       domain.VenueOrderBook,
		TokenA:     sol,
		TokenB:     usdc,
		Bids:       []domain.Level{{Price: 99, Size: 10}},
		Asks:       []domain.Level{{Price: 101, Size: 10}},
		LastUpdate: t0,
	}
	require.NoError(t, s.Upsert(p))
	p.Bids[0].Price = 1

	got, _ := s.Get(p.Key)
	assert.Equal(t, 99.0, got.Bids[0].Price)
}

func TestStore_SnapshotExcludesStalePools(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Upsert(cpPool("raydium", "old", 100, 10000, t0)))
	require.NoError(t, s.Upsert(cpPool("orca", "fresh", 98, 10500, t0.Add(15*time.Second))))

	now := t0.Add(20 * time.Second)
	snap := s.Snapshot(now)

	require.Len(t, snap.Pools, 1)
	assert.Equal(t, "fresh", snap.Pools[0].Key.PoolID)

	// still present in the store
	_, ok := s.Get(domain.PoolKey{Source: "raydium", PoolID: "old"})
	assert.True(t, ok)
	age, ok := s.Staleness(domain.PoolKey{Source: "raydium", PoolID: "old"}, now)
	assert.True(t, ok)
	assert.Equal(t, 20*time.Second, age)
}

func TestStore_SnapshotSortedByKey(t *testing.T) {
	s := newTestStore()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Upsert(cpPool("raydium", id, 100, 10000, t0)))
	}
	require.NoError(t, s.Upsert(cpPool("orca", "z", 100, 10000, t0)))

	snap := s.Snapshot(t0)
	var keys []string
	for _, p := range snap.Pools {
		keys = append(keys, p.Key.String())
	}
	assert.Equal(t, []string{"orca:z", "raydium:a", "raydium:b", "raydium:c"}, keys)

	p, ok := snap.Pool(domain.PoolKey{Source: "raydium", PoolID: "b"})
	require.True(t, ok)
	assert.Equal(t, "b", p.Key.PoolID)
}

func TestStore_SweepDegradesAndRecovers(t *testing.T) {
	s := newTestStore()
	key := domain.PoolKey{Source: "raydium", PoolID: "p1"}
	require.NoError(t, s.Upsert(cpPool("raydium", "p1", 100, 10000, t0)))

	marked := s.Sweep(t0.Add(11 * time.Second))
	assert.Equal(t, []domain.PoolKey{key}, marked)
	assert.True(t, s.Degraded(key))
	assert.Nil(t, s.Sweep(t0.Add(12*time.Second)), "already degraded pools are not re-marked")

	require.NoError(t, s.Upsert(cpPool("raydium", "p1", 100, 10000, t0.Add(12*time.Second))))
	assert.False(t, s.Degraded(key))
	assert.Len(t, s.Snapshot(t0.Add(13*time.Second)).Pools, 1)
}

func TestStore_DegradedExcludedEvenIfWithinBound(t *testing.T) {
	s := NewStore(StoreConfig{Staleness: 10 * time.Second}, zerolog.Nop())
	require.NoError(t, s.Upsert(cpPool("raydium", "p1", 100, 10000, t0)))
	s.Sweep(t0.Add(11 * time.Second))

	// a snapshot taken "earlier" than the sweep still excludes the degraded pool
	assert.Empty(t, s.Snapshot(t0.Add(time.Second)).Pools)
}

func TestStore_EventsNonBlocking(t *testing.T) {
	s := newTestStore() // buffer of 4
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Upsert(cpPool("raydium", "p1", 100, 10000, t0.Add(time.Duration(i)*time.Second))))
	}
	assert.Equal(t, uint64(6), s.DroppedEvents())

	ev := <-s.Events()
	assert.Equal(t, ChangeUpserted, ev.Kind)
	assert.Equal(t, uint64(1), ev.Version)
}

func TestStore_StabilityTracksRatioMoves(t *testing.T) {
	s := newTestStore()
	key := domain.PoolKey{Source: "raydium", PoolID: "p1"}
	require.NoError(t, s.Upsert(cpPool("raydium", "p1", 100, 10000, t0)))

	for i := 1; i <= 20; i++ {
		require.NoError(t, s.Upsert(cpPool("raydium", "p1", 100, 10000, t0.Add(time.Duration(i)*time.Second))))
	}
	steady, _ := s.Get(key)
	assert.Greater(t, steady.Stability, 0.99)

	// a 5% ratio move is beyond the instability scale
	require.NoError(t, s.Upsert(cpPool("raydium", "p1", 100, 10500, t0.Add(30*time.Second))))
	moved, _ := s.Get(key)
	assert.InDelta(t, 0.7*steady.Stability, moved.Stability, 1e-9)
}

func TestStore_ConcurrentUpsertsAndSnapshots(t *testing.T) {
	s := NewStore(StoreConfig{Staleness: time.Hour}, zerolog.Nop())
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := string(rune('a' + w))
			for i := 0; i < 200; i++ {
				_ = s.Upsert(cpPool("raydium", id, float64(100+i), float64(10000+i), t0.Add(time.Duration(i)*time.Millisecond)))
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			snap := s.Snapshot(t0)
			for _, p := range snap.Pools {
				// reserves always move together within one state
				assert.Equal(t, p.ReserveA+9900, p.ReserveB)
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, 4, s.Len())
}
