package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"solana-arb-engine/internal/solana"
)

// Listener feeds websocket notifications through the decoders into the monitor.
type Listener struct {
	ws       solana.WSClient
	decoder  *LogDecoder
	whales   *WhaleTracker
	monitor  *Monitor
	programs []string
	addrs    []string
	retry    func() backoff.BackOff
	now      func() time.Time
	log      zerolog.Logger
}

// NewListener creates a listener subscribing to programs' logs and to
// the given whale accounts.
func NewListener(ws solana.WSClient, m *Monitor, programs, whales []string, log zerolog.Logger) *Listener {
	l := &Listener{
		ws:       ws,
		decoder:  NewLogDecoder(programs),
		whales:   NewWhaleTracker(),
		monitor:  m,
		programs: programs,
		addrs:    whales,
		now:      time.Now,
		log:      log.With().Str("component", "listener").Logger(),
	}
	return l.WithRetry(time.Second, 30*time.Second)
}

// WithRetry sets the backoff bounds for failed subscribe calls.
func (l *Listener) WithRetry(initial, maxInterval time.Duration) *Listener {
	l.retry = func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = initial
		bo.MaxInterval = maxInterval
		bo.MaxElapsedTime = 0
		bo.Reset()
		return bo
	}
	return l
}

// Run subscribes and processes notifications until ctx is cancelled or
// every subscription channel closes. A failed subscribe is retried with
// backoff and never ends Run: while a feed is missing no pressure updates
// arrive from it and its signals decay to neutral. Reconnects of an
// established feed are handled by the websocket client.
func (l *Listener) Run(ctx context.Context) error {
	if len(l.programs) == 0 && len(l.addrs) == 0 {
		l.log.Info().Msg("no programs or whale addresses configured, listener idle")
		return nil
	}

	var wg sync.WaitGroup
	for _, program := range l.programs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			filter := solana.LogsFilter{Mentions: []string{program}}
			var ch <-chan solana.LogNotification
			err := l.subscribe(ctx, "program", program, func() (err error) {
				ch, err = l.ws.SubscribeLogs(ctx, filter)
				return err
			})
			if err == nil {
				l.consumeLogs(ctx, ch)
			}
		}()
	}
	for _, addr := range l.addrs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var ch <-chan solana.AccountNotification
			err := l.subscribe(ctx, "account", addr, func() (err error) {
				ch, err = l.ws.SubscribeAccount(ctx, addr)
				return err
			})
			if err == nil {
				l.consumeAccounts(ctx, ch)
			}
		}()
	}

	l.log.Info().Int("programs", len(l.programs)).Int("whales", len(l.addrs)).Msg("listening")
	wg.Wait()
	if ctx.Err() == nil {
		l.log.Warn().Msg("all subscriptions closed, pressure updates stopped")
	}
	return nil
}

// subscribe retries op until it succeeds or ctx ends.
func (l *Listener) subscribe(ctx context.Context, kind, target string, op func() error) error {
	notify := func(err error, wait time.Duration) {
		l.log.Warn().Err(err).Str(kind, target).Dur("retry_in", wait).Msg("subscribe failed")
	}
	return backoff.RetryNotify(op, backoff.WithContext(l.retry(), ctx), notify)
}

func (l *Listener) consumeLogs(ctx context.Context, ch <-chan solana.LogNotification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			l.HandleLogs(n)
		}
	}
}

func (l *Listener) consumeAccounts(ctx context.Context, ch <-chan solana.AccountNotification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			l.HandleAccount(n)
		}
	}
}

// HandleLogs decodes one log notification and forwards its events.
func (l *Listener) HandleLogs(n solana.LogNotification) {
	events, err := l.decoder.Decode(n, l.now())
	if err != nil {
		l.monitor.DecodeError()
		l.log.Debug().Err(err).Msg("drop malformed logs")
		return
	}
	for _, ev := range events {
		l.monitor.OnEvent(ev)
	}
}

// HandleAccount forwards a whale balance change.
func (l *Listener) HandleAccount(n solana.AccountNotification) {
	if ev, ok := l.whales.Observe(n, l.now()); ok {
		l.monitor.OnEvent(ev)
	}
}
