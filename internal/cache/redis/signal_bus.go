package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/monitor"
)

// pressureMessage is the wire form of a pressure update.
type pressureMessage struct {
	Origin    string  `json:"origin"`
	Scope     string  `json:"scope"`
	Key       string  `json:"key"`
	Side      string  `json:"side"`
	Magnitude float64 `json:"magnitude"`
	Notional  float64 `json:"notional"`
	Signature string  `json:"signature,omitempty"`
	AtMs      int64   `json:"at_ms"`
}

// SignalBus fans pressure updates out over Redis Pub/Sub. Messages carry the
// publishing process id so a subscriber skips its own updates.
type SignalBus struct {
	c      *Client
	origin string
	log    zerolog.Logger
}

// NewSignalBus creates a SignalBus. origin identifies this process.
func NewSignalBus(c *Client, origin string, log zerolog.Logger) *SignalBus {
	return &SignalBus{c: c, origin: origin, log: log.With().Str("component", "signal_bus").Logger()}
}

var _ monitor.Publisher = (*SignalBus)(nil)

func (sb *SignalBus) channel() string {
	return sb.c.key("pressure")
}

// PublishPressure publishes one update.
func (sb *SignalBus) PublishPressure(ctx context.Context, u domain.PressureUpdate) error {
	payload, err := json.Marshal(pressureMessage{
		Origin:    sb.origin,
		Scope:     string(u.Scope),
		Key:       u.Key,
		Side:      string(u.Side),
		Magnitude: u.Magnitude,
		Notional:  u.Notional,
		Signature: u.Signature,
		AtMs:      u.At.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("redis: encode pressure: %w", err)
	}
	if err := sb.c.rdb.Publish(ctx, sb.channel(), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish pressure: %w", err)
	}
	return nil
}

// SubscribePressure delivers updates from other processes to apply until
// ctx ends. The subscription is confirmed before it returns.
func (sb *SignalBus) SubscribePressure(ctx context.Context, apply func(domain.PressureUpdate)) error {
	pubsub := sb.c.rdb.Subscribe(ctx, sb.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis: subscribe pressure: %w", err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m pressureMessage
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					sb.log.Warn().Err(err).Msg("malformed pressure message")
					continue
				}
				if m.Origin == sb.origin {
					continue
				}
				apply(domain.PressureUpdate{
					Scope:     domain.PressureScope(m.Scope),
					Key:       m.Key,
					Side:      domain.PressureSide(m.Side),
					Magnitude: m.Magnitude,
					Notional:  m.Notional,
					Signature: m.Signature,
					At:        time.UnixMilli(m.AtMs),
				})
			}
		}
	}()
	return nil
}
