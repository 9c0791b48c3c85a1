package venue

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/market"
	"solana-arb-engine/internal/solana"
)

// tokenAmountOffset is the position of the u64 amount in an SPL token account.
const tokenAmountOffset = 64

// maxAccountsPerCall is the getMultipleAccounts request limit.
const maxAccountsPerCall = 100

// AccountsReader is the RPC surface needed by VaultAdapter.
type AccountsReader interface {
	GetMultipleAccounts(ctx context.Context, pubkeys []string) ([]*solana.AccountInfo, error)
	GetSlot(ctx context.Context) (uint64, error)
}

// VaultPool is a constant-product pool priced from its two token vaults.
type VaultPool struct {
	PoolID  string
	Program string
	TokenA  domain.Token
	TokenB  domain.Token
	VaultA  string
	VaultB  string
	FeeRate float64
}

// VaultAdapter reads constant-product reserves straight from the pool's
// SPL token vaults.
type VaultAdapter struct {
	source string
	rpc    AccountsReader
	pools  map[string]VaultPool
	order  []string
	now    func() time.Time
}

// NewVaultAdapter creates an adapter for pools of one venue.
func NewVaultAdapter(source string, rpc AccountsReader, pools []VaultPool) *VaultAdapter {
	a := &VaultAdapter{
		source: source,
		rpc:    rpc,
		pools:  make(map[string]VaultPool, len(pools)),
		now:    time.Now,
	}
	for _, p := range pools {
		a.pools[p.PoolID] = p
		a.order = append(a.order, p.PoolID)
	}
	return a
}

// Source returns the venue identifier.
func (a *VaultAdapter) Source() string {
	return a.source
}

// Fetch reads every vault with batched getMultipleAccounts calls. Pools
// with a missing vault are skipped and age out of snapshots.
func (a *VaultAdapter) Fetch(ctx context.Context) ([]market.RawPool, error) {
	keys := make([]string, 0, 2*len(a.order))
	for _, id := range a.order {
		p := a.pools[id]
		keys = append(keys, p.VaultA, p.VaultB)
	}

	slot, err := a.rpc.GetSlot(ctx)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}

	accounts := make(map[string]*solana.AccountInfo, len(keys))
	for start := 0; start < len(keys); start += maxAccountsPerCall {
		end := min(start+maxAccountsPerCall, len(keys))
		infos, err := a.rpc.GetMultipleAccounts(ctx, keys[start:end])
		if err != nil {
			return nil, fmt.Errorf("get vault accounts: %w", err)
		}
		for i, info := range infos {
			if info != nil {
				accounts[keys[start+i]] = info
			}
		}
	}

	fetchedAt := a.now()
	raws := make([]market.RawPool, 0, len(a.order))
	for _, id := range a.order {
		p := a.pools[id]
		va, okA := accounts[p.VaultA]
		vb, okB := accounts[p.VaultB]
		if !okA || !okB {
			continue
		}
		raws = append(raws, market.RawPool{
			PoolID:    id,
			Accounts:  map[string][]byte{"vault_a": va.Data, "vault_b": vb.Data},
			Slot:      slot,
			FetchedAt: fetchedAt,
		})
	}
	return raws, nil
}

// Normalize decodes vault balances into UI-unit reserves.
func (a *VaultAdapter) Normalize(raw market.RawPool) (domain.PoolState, error) {
	p, ok := a.pools[raw.PoolID]
	if !ok {
		return domain.PoolState{}, fmt.Errorf("%w: unknown pool %s", domain.ErrData, raw.PoolID)
	}
	amtA, err := tokenAmount(raw.Accounts["vault_a"])
	if err != nil {
		return domain.PoolState{}, fmt.Errorf("pool %s vault a: %w", raw.PoolID, err)
	}
	amtB, err := tokenAmount(raw.Accounts["vault_b"])
	if err != nil {
		return domain.PoolState{}, fmt.Errorf("pool %s vault b: %w", raw.PoolID, err)
	}

	resA := float64(amtA) / math.Pow10(int(p.TokenA.Decimals))
	resB := float64(amtB) / math.Pow10(int(p.TokenB.Decimals))

	return domain.PoolState{
		Key:        domain.PoolKey{Source: a.source, PoolID: p.PoolID},
		Kind:       domain.VenueConstantProduct,
		Program:    p.Program,
		TokenA:     p.TokenA,
		TokenB:     p.TokenB,
		ReserveA:   resA,
		ReserveB:   resB,
		FeeRate:    p.FeeRate,
		TVLUSD:     resA*p.TokenA.USDPrice + resB*p.TokenB.USDPrice,
		Slot:       raw.Slot,
		LastUpdate: raw.FetchedAt,
	}, nil
}

func tokenAmount(data []byte) (uint64, error) {
	if len(data) < tokenAmountOffset+8 {
		return 0, fmt.Errorf("%w: token account too short (%d bytes)", domain.ErrData, len(data))
	}
	return binary.LittleEndian.Uint64(data[tokenAmountOffset:]), nil
}

var _ market.Adapter = (*VaultAdapter)(nil)
