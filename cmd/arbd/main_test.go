package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-arb-engine/internal/config"
	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/market"
	"solana-arb-engine/internal/solana"
	"solana-arb-engine/internal/solana/stub"
	"solana-arb-engine/internal/venue"
)

const mintBONK = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

func mintAccount(decimals uint8) *solana.AccountInfo {
	data := make([]byte, 82)
	data[44] = decimals
	return &solana.AccountInfo{Data: data}
}

func TestVaultPools_DecimalsMismatchExcludesPool(t *testing.T) {
	cfg := config.Defaults()
	cfg.Tokens = []config.TokenConfig{
		{Mint: domain.MintSOL, Symbol: "SOL", Decimals: 9, USDPrice: 150},
		{Mint: domain.MintUSDC, Symbol: "USDC", Decimals: 6, USDPrice: 1},
		{Mint: mintBONK, Symbol: "BONK", Decimals: 8, USDPrice: 0.00002},
	}
	cfg.Pools = []config.PoolConfig{
		{ID: "sol-usdc", Source: "raydium", Program: venue.RaydiumAMMV4, TokenA: domain.MintSOL, TokenB: domain.MintUSDC, VaultA: "va1", VaultB: "vb1", FeeRate: 0.0025},
		{ID: "bonk-sol", Source: "raydium", Program: venue.RaydiumAMMV4, TokenA: mintBONK, TokenB: domain.MintSOL, VaultA: "va2", VaultB: "vb2", FeeRate: 0.0025},
	}

	rpc := stub.NewRPCClient()
	rpc.Accounts[domain.MintSOL] = mintAccount(9)
	rpc.Accounts[domain.MintUSDC] = mintAccount(6)
	rpc.Accounts[mintBONK] = mintAccount(5)

	tokens := market.NewTokenRegistry(cfg.DomainTokens(), rpc, 16, time.Minute)
	pools := vaultPools(context.Background(), &cfg, tokens, zerolog.Nop())

	require.Len(t, pools["raydium"], 1)
	p := pools["raydium"][0]
	assert.Equal(t, "sol-usdc", p.PoolID)
	assert.True(t, p.TokenA.Validated)
	assert.True(t, p.TokenB.Validated)
}

func TestVaultPools_UnreadableMintExcludesPool(t *testing.T) {
	cfg := config.Defaults()
	cfg.Tokens = []config.TokenConfig{
		{Mint: domain.MintSOL, Symbol: "SOL", Decimals: 9, USDPrice: 150},
		{Mint: domain.MintUSDC, Symbol: "USDC", Decimals: 6, USDPrice: 1},
	}
	cfg.Pools = []config.PoolConfig{
		{ID: "sol-usdc", Source: "orca", Program: venue.OrcaWhirlpool, TokenA: domain.MintSOL, TokenB: domain.MintUSDC, VaultA: "va", VaultB: "vb"},
	}

	rpc := stub.NewRPCClient()
	rpc.Accounts[domain.MintSOL] = mintAccount(9)

	tokens := market.NewTokenRegistry(cfg.DomainTokens(), rpc, 16, time.Minute)
	assert.Empty(t, vaultPools(context.Background(), &cfg, tokens, zerolog.Nop()))
}
