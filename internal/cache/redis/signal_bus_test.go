package redis

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-arb-engine/internal/domain"
)

func TestSignalBus_FanOutSkipsOwnUpdates(t *testing.T) {
	c := setupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewSignalBus(c, "engine-a", zerolog.Nop())
	b := NewSignalBus(c, "engine-b", zerolog.Nop())

	got := make(chan domain.PressureUpdate, 4)
	require.NoError(t, b.SubscribePressure(ctx, func(u domain.PressureUpdate) { got <- u }))

	at := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	own := domain.PressureUpdate{Scope: domain.ScopeToken, Key: "own", Side: domain.PressureBuy, Magnitude: 0.1, At: at}
	require.NoError(t, b.PublishPressure(ctx, own))

	sent := domain.PressureUpdate{
		Scope:     domain.ScopeToken,
		Key:       domain.MintUSDC,
		Side:      domain.PressureSell,
		Magnitude: 0.75,
		Notional:  1200,
		Signature: "sig-1",
		At:        at,
	}
	require.NoError(t, a.PublishPressure(ctx, sent))

	select {
	case u := <-got:
		assert.Equal(t, sent.Key, u.Key)
		assert.Equal(t, domain.PressureSell, u.Side)
		assert.InDelta(t, 0.75, u.Magnitude, 1e-12)
		assert.True(t, u.At.Equal(at))
	case <-time.After(5 * time.Second):
		t.Fatal("pressure update not delivered")
	}

	select {
	case u := <-got:
		t.Fatalf("unexpected second update %+v", u)
	case <-time.After(200 * time.Millisecond):
	}
}
