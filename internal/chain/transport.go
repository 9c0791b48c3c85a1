package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/observability"
	"solana-arb-engine/internal/solana"
)

// TransportConfig configures submission and confirmation polling.
type TransportConfig struct {
	Commitment    string        // preflight and confirmation level
	PollInterval  time.Duration // between getSignatureStatuses calls
	SkipPreflight bool
}

// Transport submits signed transactions and follows them to a final status.
// Deltas are computed for the token accounts owned by Owner.
type Transport struct {
	rpc   solana.RPCClient
	owner string
	cfg   TransportConfig
	log   zerolog.Logger
	now   func() time.Time
}

// NewTransport creates a transport for transactions paid by owner.
func NewTransport(rpc solana.RPCClient, owner string, cfg TransportConfig, log zerolog.Logger) *Transport {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solana.CommitmentConfirmed
	}
	return &Transport{
		rpc:   rpc,
		owner: owner,
		cfg:   cfg,
		log:   log.With().Str("component", "transport").Logger(),
		now:   time.Now,
	}
}

// LatestBlockhash returns a recent blockhash for message construction.
func (t *Transport) LatestBlockhash(ctx context.Context) (string, error) {
	bh, err := t.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("get latest blockhash: %w", err)
	}
	return bh.Hash, nil
}

// Send submits a signed payload once. Retries belong to the caller.
func (t *Transport) Send(ctx context.Context, payload []byte) (string, error) {
	start := time.Now()
	// the node must not rebroadcast on its own; the pipeline owns retries
	var noRetry uint
	sig, err := t.rpc.SendTransaction(ctx, payload, solana.SendOpts{
		SkipPreflight:       t.cfg.SkipPreflight,
		PreflightCommitment: t.cfg.Commitment,
		MaxRetries:          &noRetry,
	})
	observability.RecordRPCLatency("sendTransaction", time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrSubmission, err)
	}
	return sig, nil
}

// Confirm polls the signature until it lands, fails or timeout elapses.
// A timeout is reported as TxTimeout with a nil error. Errors are returned
// only when ctx is cancelled.
func (t *Transport) Confirm(ctx context.Context, sig string, timeout time.Duration) (*domain.Confirmation, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conf, err := t.poll(ctx, sig, false)
		switch {
		case err != nil:
			t.log.Debug().Err(err).Str("signature", sig).Msg("confirmation poll failed")
		case conf.Status == domain.TxConfirmed || conf.Status == domain.TxFailed:
			return conf, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return &domain.Confirmation{Status: domain.TxTimeout}, nil
		case <-ticker.C:
		}
	}
}

// Lookup reads the current fate of a signature, searching history. Used to
// reconcile expired attempts.
func (t *Transport) Lookup(ctx context.Context, sig string) (*domain.Confirmation, error) {
	return t.poll(ctx, sig, true)
}

func (t *Transport) poll(ctx context.Context, sig string, searchHistory bool) (*domain.Confirmation, error) {
	start := time.Now()
	statuses, err := t.rpc.GetSignatureStatuses(ctx, []string{sig}, searchHistory)
	observability.RecordRPCLatency("getSignatureStatuses", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("get signature status: %w", err)
	}
	if len(statuses) == 0 || statuses[0] == nil {
		return &domain.Confirmation{Status: domain.TxNotFound}, nil
	}
	st := statuses[0]

	switch {
	case st.Err != nil:
		conf := &domain.Confirmation{Status: domain.TxFailed, Slot: st.Slot, Err: fmt.Sprint(st.Err), ConfirmedAt: t.now()}
		if tx, err := t.rpc.GetTransaction(ctx, sig); err == nil && tx != nil && tx.Meta != nil {
			conf.FeeLamports = tx.Meta.Fee
		}
		return conf, nil
	case st.Landed():
		return t.confirmed(ctx, sig, st.Slot)
	default:
		return &domain.Confirmation{Status: domain.TxSubmitted, Slot: st.Slot}, nil
	}
}

// confirmed fetches the landed transaction for its fee and balance deltas.
// Missing metadata leaves Deltas nil so the effect stays unknown.
func (t *Transport) confirmed(ctx context.Context, sig string, slot uint64) (*domain.Confirmation, error) {
	conf := &domain.Confirmation{Status: domain.TxConfirmed, Slot: slot, ConfirmedAt: t.now()}

	tx, err := t.rpc.GetTransaction(ctx, sig)
	if err != nil {
		t.log.Warn().Err(err).Str("signature", sig).Msg("landed transaction not readable")
		return conf, nil
	}
	if tx == nil || tx.Meta == nil {
		return conf, nil
	}
	if tx.BlockTime > 0 {
		conf.ConfirmedAt = time.Unix(tx.BlockTime, 0).UTC()
	}
	conf.FeeLamports = tx.Meta.Fee
	if tx.Meta.Err != nil {
		conf.Status = domain.TxFailed
		conf.Err = fmt.Sprint(tx.Meta.Err)
		return conf, nil
	}

	deltas, err := BalanceDeltas(t.owner, tx.Meta.PreTokenBalances, tx.Meta.PostTokenBalances)
	if err != nil {
		t.log.Warn().Err(err).Str("signature", sig).Msg("token balances not decodable")
		return conf, nil
	}
	conf.Deltas = deltas
	return conf, nil
}

// BalanceDeltas sums post minus pre token balances per mint for accounts
// owned by owner, in UI units.
func BalanceDeltas(owner string, pre, post []solana.TokenBalance) (map[string]float64, error) {
	sums := make(map[string]decimal.Decimal)
	add := func(balances []solana.TokenBalance, sign int64) error {
		for _, b := range balances {
			if b.Owner != owner {
				continue
			}
			raw, err := decimal.NewFromString(b.Amount)
			if err != nil {
				return fmt.Errorf("account %d amount %q: %w", b.AccountIndex, b.Amount, err)
			}
			ui := raw.Shift(-int32(b.Decimals)).Mul(decimal.NewFromInt(sign))
			sums[b.Mint] = sums[b.Mint].Add(ui)
		}
		return nil
	}
	if err := add(pre, -1); err != nil {
		return nil, err
	}
	if err := add(post, 1); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(sums))
	for mint, d := range sums {
		out[mint] = d.InexactFloat64()
	}
	return out, nil
}
