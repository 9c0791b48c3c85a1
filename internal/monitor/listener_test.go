package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/solana"
	"solana-arb-engine/internal/venue"
)

type fakeWS struct {
	logs     chan solana.LogNotification
	accounts chan solana.AccountNotification

	mu       sync.Mutex
	filters  []solana.LogsFilter
	watched  []string
	failLogs int // SubscribeLogs calls to fail before succeeding, -1 = always
	attempts int
}

func newFakeWS() *fakeWS {
	return &fakeWS{
		logs:     make(chan solana.LogNotification, 8),
		accounts: make(chan solana.AccountNotification, 8),
	}
}

func (f *fakeWS) SubscribeLogs(_ context.Context, filter solana.LogsFilter) (<-chan solana.LogNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failLogs != 0 {
		if f.failLogs > 0 {
			f.failLogs--
		}
		return nil, errors.New("transient ws error")
	}
	f.filters = append(f.filters, filter)
	return f.logs, nil
}

func (f *fakeWS) SubscribeAccount(_ context.Context, pubkey string) (<-chan solana.AccountNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched = append(f.watched, pubkey)
	return f.accounts, nil
}

func (f *fakeWS) logAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeWS) Close() error {
	close(f.logs)
	close(f.accounts)
	return nil
}

func TestListener_EndToEnd(t *testing.T) {
	store := NewPressureStore(DefaultPressureConfig())
	m := New(Config{
		Programs:       []string{venue.PumpFun},
		Whales:         []string{"whale1"},
		MinNotionalSOL: 10,
	}, store, nil, nil, zerolog.Nop())
	m.now = func() time.Time { return t0 }

	ws := newFakeWS()
	l := NewListener(ws, m, []string{venue.PumpFun}, []string{"whale1"}, zerolog.Nop())
	l.now = func() time.Time { return t0 }

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	ws.logs <- solana.LogNotification{Signature: "s1", Logs: []string{
		"Program " + venue.PumpFun + " invoke [1]",
		"Program log: Instruction: Sell",
		"Program log: mint: " + mintX + " amount: 40000000000 ",
		"Program " + venue.PumpFun + " success",
	}}
	ws.logs <- solana.LogNotification{Signature: "bad", Logs: []string{
		"Program " + venue.PumpFun + " invoke [1]",
		"Program log: amount: nope",
	}}
	ws.accounts <- solana.AccountNotification{Pubkey: "whale1", Lamports: 1000 * domain.LamportsPerSOL}
	ws.accounts <- solana.AccountNotification{Pubkey: "whale1", Lamports: 900 * domain.LamportsPerSOL}

	require.Eventually(t, func() bool {
		s := m.Stats()
		return s.Qualified == 2 && s.DecodeErrors == 1
	}, 2*time.Second, 10*time.Millisecond)

	view := store.View(t0)
	assert.InDelta(t, 0.4, view.Token(mintX, domain.PressureSell), 1e-12)
	assert.Greater(t, view.Token(domain.MintSOL, domain.PressureUnknown), 0.0)

	ws.Close()
	select {
	case err := <-done:
		assert.NoError(t, err, "closed subscriptions end the listener quietly")
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}

	assert.Equal(t, []solana.LogsFilter{{Mentions: []string{venue.PumpFun}}}, ws.filters)
	assert.Equal(t, []string{"whale1"}, ws.watched)
}

func TestListener_StopsOnCancel(t *testing.T) {
	m := New(Config{}, NewPressureStore(DefaultPressureConfig()), nil, nil, zerolog.Nop())
	l := NewListener(newFakeWS(), m, []string{venue.PumpFun}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListener_RetriesFailedSubscribe(t *testing.T) {
	store := NewPressureStore(DefaultPressureConfig())
	m := New(Config{Programs: []string{venue.PumpFun}, MinNotionalSOL: 10}, store, nil, nil, zerolog.Nop())
	m.now = func() time.Time { return t0 }

	ws := newFakeWS()
	ws.failLogs = 3
	l := NewListener(ws, m, []string{venue.PumpFun}, nil, zerolog.Nop()).WithRetry(time.Millisecond, 5*time.Millisecond)
	l.now = func() time.Time { return t0 }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	ws.logs <- solana.LogNotification{Signature: "s1", Logs: []string{
		"Program " + venue.PumpFun + " invoke [1]",
		"Program log: Instruction: Buy",
		"Program log: mint: " + mintX + " amount: 40000000000 ",
	}}
	require.Eventually(t, func() bool { return m.Stats().Qualified == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, ws.logAttempts())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListener_SubscribeFailureDoesNotStopSiblings(t *testing.T) {
	m := New(Config{}, NewPressureStore(DefaultPressureConfig()), nil, nil, zerolog.Nop())
	ws := newFakeWS()
	ws.failLogs = -1
	l := NewListener(ws, m, []string{venue.PumpFun}, nil, zerolog.Nop()).WithRetry(time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.Run(gctx) })

	ticks := make(chan struct{}, 1)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(time.Millisecond):
				select {
				case ticks <- struct{}{}:
				default:
				}
			}
		}
	})

	require.Eventually(t, func() bool { return ws.logAttempts() >= 5 }, 2*time.Second, 5*time.Millisecond)
	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("detection stopped while subscriptions were failing")
	}
	assert.NoError(t, gctx.Err(), "subscribe failures must not cancel the group")

	cancel()
	assert.NoError(t, g.Wait())
}

func TestListener_NothingToWatch(t *testing.T) {
	m := New(Config{}, NewPressureStore(DefaultPressureConfig()), nil, nil, zerolog.Nop())
	l := NewListener(newFakeWS(), m, nil, nil, zerolog.Nop())

	assert.NoError(t, l.Run(context.Background()))
}
