package monitor

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/solana"
	"solana-arb-engine/internal/venue"
)

var (
	invokePattern  = regexp.MustCompile(`^Program ([1-9A-HJ-NP-Za-km-z]{32,44}) invoke \[(\d+)\]`)
	exitPattern    = regexp.MustCompile(`^Program ([1-9A-HJ-NP-Za-km-z]{32,44}) (success|failed)`)
	amountPattern  = regexp.MustCompile(`amount: (\S+)`)
	mintPattern    = regexp.MustCompile(`mint: ([1-9A-HJ-NP-Za-km-z]{32,44})`)
	sidePattern    = regexp.MustCompile(`Instruction: (Buy|Sell)`)
	rayLogPattern  = regexp.MustCompile(`ray_log: ([A-Za-z0-9+/=]+)`)
	rayLogSwapSize = 1 + 32 + 32 + 32 + 8 + 8
)

// LogDecoder extracts raw events from program log notifications. Only
// invocations of tracked programs are decoded.
type LogDecoder struct {
	programs map[string]struct{}
}

// NewLogDecoder creates a decoder for the given programs.
func NewLogDecoder(programs []string) *LogDecoder {
	d := &LogDecoder{programs: make(map[string]struct{}, len(programs))}
	for _, p := range programs {
		d.programs[p] = struct{}{}
	}
	return d
}

type segment struct {
	program string
	ev      domain.RawEvent
	touched bool
}

// Decode returns one event per tracked program invocation that carried an
// amount. Failed transactions decode to nothing. A malformed amount or
// ray_log payload is reported as ErrDecode.
func (d *LogDecoder) Decode(n solana.LogNotification, at time.Time) ([]domain.RawEvent, error) {
	if n.Err != nil {
		return nil, nil
	}

	var events []domain.RawEvent
	var stack []*segment

	flush := func(s *segment) {
		if s.touched && s.ev.Amount > 0 {
			events = append(events, s.ev)
		}
	}

	for _, line := range n.Logs {
		if m := invokePattern.FindStringSubmatch(line); m != nil {
			stack = append(stack, &segment{
				program: m[1],
				ev: domain.RawEvent{
					Program:   m[1],
					Side:      domain.PressureUnknown,
					Signature: n.Signature,
					Slot:      n.Slot,
					Timestamp: at,
				},
			})
			continue
		}
		if m := exitPattern.FindStringSubmatch(line); m != nil {
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if _, ok := d.programs[top.program]; ok && m[2] == "success" {
					flush(top)
				}
			}
			continue
		}
		if len(stack) == 0 {
			continue
		}
		cur := stack[len(stack)-1]
		if _, ok := d.programs[cur.program]; !ok {
			continue
		}
		if err := decodeLine(cur, line); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrDecode, n.Signature, err)
		}
	}

	// logs truncated before the exit line
	for _, s := range stack {
		if _, ok := d.programs[s.program]; ok {
			flush(s)
		}
	}
	return events, nil
}

func decodeLine(s *segment, line string) error {
	if m := amountPattern.FindStringSubmatch(line); m != nil {
		lamports, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return fmt.Errorf("amount %q", m[1])
		}
		s.ev.Amount = float64(lamports) / domain.LamportsPerSOL
		s.touched = true
	}
	if m := mintPattern.FindStringSubmatch(line); m != nil {
		s.ev.Mint = m[1]
		s.touched = true
	}
	if m := sidePattern.FindStringSubmatch(line); m != nil {
		if m[1] == "Buy" {
			s.ev.Side = domain.PressureBuy
		} else {
			s.ev.Side = domain.PressureSell
		}
		s.touched = true
	}
	if m := rayLogPattern.FindStringSubmatch(line); m != nil && s.program == venue.RaydiumAMMV4 {
		return decodeRayLog(s, m[1])
	}
	return nil
}

// decodeRayLog reads a Raydium swap log: discriminator, amm id, input
// mint, output mint, amount in, amount out. Only SOL-denominated swaps
// carry a notional; the other mint is the pressured token.
func decodeRayLog(s *segment, payload string) error {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("ray_log: %v", err)
	}
	if len(data) < 1 || !isRaySwap(data[0]) {
		return nil
	}
	if len(data) < rayLogSwapSize {
		return fmt.Errorf("ray_log: swap payload %d bytes", len(data))
	}
	amm := base58.Encode(data[1:33])
	in := base58.Encode(data[33:65])
	out := base58.Encode(data[65:97])
	amountIn := binary.LittleEndian.Uint64(data[97:105])
	amountOut := binary.LittleEndian.Uint64(data[105:113])

	s.ev.Accounts = append(s.ev.Accounts, amm)
	switch {
	case in == domain.MintSOL:
		s.ev.Amount = float64(amountIn) / domain.LamportsPerSOL
		s.ev.Mint = out
		s.ev.Side = domain.PressureBuy
	case out == domain.MintSOL:
		s.ev.Amount = float64(amountOut) / domain.LamportsPerSOL
		s.ev.Mint = in
		s.ev.Side = domain.PressureSell
	}
	s.touched = true
	return nil
}

// isRaySwap matches SwapBaseIn and SwapBaseOut discriminators.
func isRaySwap(disc byte) bool {
	return disc == 0x09 || disc == 0x0b || disc == 0x0d || disc == 0x0e
}

// WhaleTracker turns account lamport changes of watched addresses into events.
type WhaleTracker struct {
	mu   sync.Mutex
	last map[string]uint64
}

// NewWhaleTracker creates an empty tracker.
func NewWhaleTracker() *WhaleTracker {
	return &WhaleTracker{last: make(map[string]uint64)}
}

// Observe records a balance. The first observation of an address only sets
// the baseline; later ones emit the absolute lamport delta in SOL.
func (w *WhaleTracker) Observe(n solana.AccountNotification, at time.Time) (domain.RawEvent, bool) {
	w.mu.Lock()
	prev, seen := w.last[n.Pubkey]
	w.last[n.Pubkey] = n.Lamports
	w.mu.Unlock()

	if !seen || prev == n.Lamports {
		return domain.RawEvent{}, false
	}
	var delta uint64
	if n.Lamports > prev {
		delta = n.Lamports - prev
	} else {
		delta = prev - n.Lamports
	}
	return domain.RawEvent{
		Accounts:  []string{n.Pubkey},
		Amount:    float64(delta) / domain.LamportsPerSOL,
		Mint:      domain.MintSOL,
		Side:      domain.PressureUnknown,
		Slot:      n.Slot,
		Timestamp: at,
	}, true
}
