package monitor

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/solana"
	"solana-arb-engine/internal/venue"
)

func rayLog(t *testing.T, amm, in, out string, amountIn, amountOut uint64) string {
	t.Helper()
	data := []byte{0x09}
	for _, k := range []string{amm, in, out} {
		raw, err := base58.Decode(k)
		require.NoError(t, err)
		require.Len(t, raw, 32)
		data = append(data, raw...)
	}
	data = binary.LittleEndian.AppendUint64(data, amountIn)
	data = binary.LittleEndian.AppendUint64(data, amountOut)
	return "Program log: ray_log: " + base64.StdEncoding.EncodeToString(data)
}

func TestLogDecoder_PumpStyleLogs(t *testing.T) {
	d := NewLogDecoder([]string{venue.PumpFun})
	n := solana.LogNotification{
		Signature: "sig1",
		Slot:      10,
		Logs: []string{
			"Program " + venue.PumpFun + " invoke [1]",
			"Program log: Instruction: Buy",
			"Program log: mint: " + mintX + " amount: 25000000000 ",
			"Program " + venue.PumpFun + " success",
		},
	}

	events, err := d.Decode(n, t0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, venue.PumpFun, ev.Program)
	assert.Equal(t, mintX, ev.Mint)
	assert.Equal(t, domain.PressureBuy, ev.Side)
	assert.InDelta(t, 25.0, ev.Amount, 1e-12)
	assert.Equal(t, "sig1", ev.Signature)
	assert.Equal(t, uint64(10), ev.Slot)
}

func TestLogDecoder_IgnoresUntrackedAndNested(t *testing.T) {
	d := NewLogDecoder([]string{venue.RaydiumAMMV4})
	n := solana.LogNotification{
		Logs: []string{
			"Program " + venue.PumpFun + " invoke [1]",
			"Program log: amount: 99000000000",
			"Program " + venue.RaydiumAMMV4 + " invoke [2]",
			"Program log: Instruction: Sell",
			"Program log: amount: 3000000000",
			"Program " + venue.RaydiumAMMV4 + " success",
			"Program " + venue.PumpFun + " success",
		},
	}

	events, err := d.Decode(n, t0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, venue.RaydiumAMMV4, events[0].Program)
	assert.InDelta(t, 3.0, events[0].Amount, 1e-12)
	assert.Equal(t, domain.PressureSell, events[0].Side)
}

func TestLogDecoder_RayLogSwap(t *testing.T) {
	amm := solana.MustPublicKey(venue.OrcaWhirlpool).String()
	d := NewLogDecoder([]string{venue.RaydiumAMMV4})
	n := solana.LogNotification{
		Logs: []string{
			"Program " + venue.RaydiumAMMV4 + " invoke [1]",
			rayLog(t, amm, domain.MintSOL, domain.MintUSDC, 40_000_000_000, 4_000_000_000),
			"Program " + venue.RaydiumAMMV4 + " success",
		},
	}

	events, err := d.Decode(n, t0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, domain.MintUSDC, ev.Mint)
	assert.Equal(t, domain.PressureBuy, ev.Side)
	assert.InDelta(t, 40.0, ev.Amount, 1e-12)
	assert.Equal(t, []string{amm}, ev.Accounts)
}

func TestLogDecoder_FailedTransactions(t *testing.T) {
	d := NewLogDecoder([]string{venue.PumpFun})
	logs := []string{
		"Program " + venue.PumpFun + " invoke [1]",
		"Program log: amount: 25000000000",
		"Program " + venue.PumpFun + " failed: custom program error",
	}

	events, err := d.Decode(solana.LogNotification{Logs: logs}, t0)
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = d.Decode(solana.LogNotification{Logs: logs[:2], Err: map[string]interface{}{"x": 1}}, t0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLogDecoder_TruncatedLogsStillFlush(t *testing.T) {
	d := NewLogDecoder([]string{venue.PumpFun})
	events, err := d.Decode(solana.LogNotification{Logs: []string{
		"Program " + venue.PumpFun + " invoke [1]",
		"Program log: amount: 11000000000",
	}}, t0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestLogDecoder_Malformed(t *testing.T) {
	d := NewLogDecoder([]string{venue.PumpFun, venue.RaydiumAMMV4})

	_, err := d.Decode(solana.LogNotification{Logs: []string{
		"Program " + venue.PumpFun + " invoke [1]",
		"Program log: amount: -5",
	}}, t0)
	assert.ErrorIs(t, err, domain.ErrDecode)

	short := base64.StdEncoding.EncodeToString([]byte{0x09, 1, 2, 3})
	_, err = d.Decode(solana.LogNotification{Logs: []string{
		"Program " + venue.RaydiumAMMV4 + " invoke [1]",
		"Program log: ray_log: " + short,
	}}, t0)
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestWhaleTracker(t *testing.T) {
	w := NewWhaleTracker()

	_, ok := w.Observe(solana.AccountNotification{Pubkey: "whale1", Lamports: 1_000 * domain.LamportsPerSOL}, t0)
	assert.False(t, ok, "first observation sets baseline")

	ev, ok := w.Observe(solana.AccountNotification{Pubkey: "whale1", Lamports: 700 * domain.LamportsPerSOL, Slot: 5}, t0)
	require.True(t, ok)
	assert.InDelta(t, 300.0, ev.Amount, 1e-9)
	assert.Equal(t, []string{"whale1"}, ev.Accounts)
	assert.Equal(t, domain.MintSOL, ev.Mint)
	assert.Equal(t, "", ev.Program)

	_, ok = w.Observe(solana.AccountNotification{Pubkey: "whale1", Lamports: 700 * domain.LamportsPerSOL}, t0)
	assert.False(t, ok, "unchanged balance")
}
