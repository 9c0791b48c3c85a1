package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/solana"
)

// mintDecimalsOffset is the position of the decimals byte in an SPL mint account.
const mintDecimalsOffset = 44

// AccountReader reads single accounts.
type AccountReader interface {
	GetAccountInfo(ctx context.Context, pubkey string) (*solana.AccountInfo, error)
}

// TokenRegistry serves configured tokens and caches on-chain validation
// of their mint metadata.
type TokenRegistry struct {
	tokens map[string]domain.Token
	rpc    AccountReader
	cache  *expirable.LRU[string, domain.Token]
}

// NewTokenRegistry creates a registry over the configured tokens. rpc may
// be nil, in which case tokens are served unvalidated.
func NewTokenRegistry(tokens []domain.Token, rpc AccountReader, size int, ttl time.Duration) *TokenRegistry {
	if size <= 0 {
		size = 1024
	}
	m := make(map[string]domain.Token, len(tokens))
	for _, t := range tokens {
		m[t.Mint] = t
	}
	return &TokenRegistry{
		tokens: m,
		rpc:    rpc,
		cache:  expirable.NewLRU[string, domain.Token](size, nil, ttl),
	}
}

// Lookup returns the configured token without touching the chain.
func (r *TokenRegistry) Lookup(mint string) (domain.Token, bool) {
	if t, ok := r.cache.Get(mint); ok {
		return t, true
	}
	t, ok := r.tokens[mint]
	return t, ok
}

// All returns configured tokens sorted by mint.
func (r *TokenRegistry) All() []domain.Token {
	out := make([]domain.Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		if c, ok := r.cache.Get(t.Mint); ok {
			t = c
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out
}

// Validate confirms the configured decimals against the mint account and
// caches the validated token for the registry TTL.
func (r *TokenRegistry) Validate(ctx context.Context, mint string) (domain.Token, error) {
	if t, ok := r.cache.Get(mint); ok {
		return t, nil
	}
	t, ok := r.tokens[mint]
	if !ok {
		return domain.Token{}, fmt.Errorf("%w: unknown token %s", domain.ErrData, mint)
	}
	if r.rpc == nil {
		return t, nil
	}

	info, err := r.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return t, fmt.Errorf("read mint %s: %w", mint, err)
	}
	if info == nil {
		return t, fmt.Errorf("%w: mint account %s not found", domain.ErrData, mint)
	}
	if len(info.Data) <= mintDecimalsOffset {
		return t, fmt.Errorf("%w: mint account %s too short (%d bytes)", domain.ErrData, mint, len(info.Data))
	}
	onChain := info.Data[mintDecimalsOffset]
	if onChain != t.Decimals {
		return t, fmt.Errorf("%w: mint %s has %d decimals, configured %d", domain.ErrData, mint, onChain, t.Decimals)
	}

	t.Validated = true
	r.cache.Add(mint, t)
	return t, nil
}

// ValidateAll validates every configured token. It returns the tokens that
// passed, sorted by mint, and the mints that failed.
func (r *TokenRegistry) ValidateAll(ctx context.Context) ([]domain.Token, map[string]error) {
	var ok []domain.Token
	failed := make(map[string]error)
	for mint := range r.tokens {
		t, err := r.Validate(ctx, mint)
		if err != nil {
			failed[mint] = err
			continue
		}
		ok = append(ok, t)
	}
	sort.Slice(ok, func(i, j int) bool { return ok[i].Mint < ok[j].Mint })
	return ok, failed
}
