package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/solana"
)

type countingReader struct {
	accounts map[string]*solana.AccountInfo
	calls    int
}

func (c *countingReader) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.calls++
	return c.accounts[pubkey], nil
}

func mintData(decimals uint8) []byte {
	data := make([]byte, 82)
	data[mintDecimalsOffset] = decimals
	return data
}

func TestTokenRegistry_ValidateCaches(t *testing.T) {
	rpc := &countingReader{accounts: map[string]*solana.AccountInfo{
		domain.MintSOL: {Data: mintData(9)},
	}}
	reg := NewTokenRegistry([]domain.Token{sol, usdc}, rpc, 16, time.Minute)

	tok, err := reg.Validate(context.Background(), domain.MintSOL)
	require.NoError(t, err)
	assert.True(t, tok.Validated)

	_, err = reg.Validate(context.Background(), domain.MintSOL)
	require.NoError(t, err)
	assert.Equal(t, 1, rpc.calls)

	cached, ok := reg.Lookup(domain.MintSOL)
	require.True(t, ok)
	assert.True(t, cached.Validated)
}

func TestTokenRegistry_DecimalsMismatch(t *testing.T) {
	rpc := &countingReader{accounts: map[string]*solana.AccountInfo{
		domain.MintUSDC: {Data: mintData(9)},
	}}
	reg := NewTokenRegistry([]domain.Token{usdc}, rpc, 16, time.Minute)

	_, err := reg.Validate(context.Background(), domain.MintUSDC)
	assert.ErrorIs(t, err, domain.ErrData)

	tok, ok := reg.Lookup(domain.MintUSDC)
	require.True(t, ok)
	assert.False(t, tok.Validated)
}

func TestTokenRegistry_MissingAndUnknown(t *testing.T) {
	rpc := &countingReader{accounts: map[string]*solana.AccountInfo{}}
	reg := NewTokenRegistry([]domain.Token{sol}, rpc, 16, time.Minute)

	_, err := reg.Validate(context.Background(), domain.MintSOL)
	assert.ErrorIs(t, err, domain.ErrData)

	_, err = reg.Validate(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrData)

	ok, failed := reg.ValidateAll(context.Background())
	assert.Empty(t, ok)
	assert.Contains(t, failed, domain.MintSOL)
}

func TestTokenRegistry_ValidateAllSplitsResults(t *testing.T) {
	rpc := &countingReader{accounts: map[string]*solana.AccountInfo{
		domain.MintSOL:  {Data: mintData(9)},
		domain.MintUSDC: {Data: mintData(9)},
	}}
	reg := NewTokenRegistry([]domain.Token{sol, usdc}, rpc, 16, time.Minute)

	ok, failed := reg.ValidateAll(context.Background())
	require.Len(t, ok, 1)
	assert.Equal(t, domain.MintSOL, ok[0].Mint)
	assert.True(t, ok[0].Validated)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[domain.MintUSDC], domain.ErrData)
}

func TestTokenRegistry_NoRPC(t *testing.T) {
	reg := NewTokenRegistry([]domain.Token{sol, usdc}, nil, 0, time.Minute)
	tok, err := reg.Validate(context.Background(), domain.MintSOL)
	require.NoError(t, err)
	assert.False(t, tok.Validated)

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, domain.MintUSDC, all[0].Mint)
}
