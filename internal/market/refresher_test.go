package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-arb-engine/internal/domain"
)

type fakeAdapter struct {
	raws []RawPool
	err  error
	wait time.Duration
}

func (f *fakeAdapter) Source() string { return "fake" }

func (f *fakeAdapter) Fetch(ctx context.Context) ([]RawPool, error) {
	if f.wait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.wait):
		}
	}
	return f.raws, f.err
}

func (f *fakeAdapter) Normalize(raw RawPool) (domain.PoolState, error) {
	if raw.PoolID == "bad" {
		return domain.PoolState{}, errors.New("bad pool")
	}
	return cpPool("fake", raw.PoolID, 100, 10000, raw.FetchedAt), nil
}

func TestRefresher_RefreshOnce(t *testing.T) {
	store := newTestStore()
	adapter := &fakeAdapter{raws: []RawPool{
		{PoolID: "p1", FetchedAt: t0},
		{PoolID: "bad", FetchedAt: t0},
		{PoolID: "p2", FetchedAt: t0},
	}}
	r := NewRefresher(adapter, store, time.Second, time.Second, zerolog.Nop())

	stats, err := r.RefreshOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RefreshStats{Fetched: 3, Upserted: 2, Invalid: 1}, stats)

	// same timestamps again are stale
	stats, err = r.RefreshOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Stale)
	assert.Equal(t, 0, stats.Upserted)
}

func TestRefresher_FetchTimeout(t *testing.T) {
	store := newTestStore()
	adapter := &fakeAdapter{wait: time.Second}
	r := NewRefresher(adapter, store, time.Second, 20*time.Millisecond, zerolog.Nop())

	_, err := r.RefreshOnce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, store.Len())
}

func TestRefresher_RunStopsOnCancel(t *testing.T) {
	store := newTestStore()
	adapter := &fakeAdapter{err: errors.New("rpc down")}
	r := NewRefresher(adapter, store, 5*time.Millisecond, time.Second, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, r.Run(ctx))
}
