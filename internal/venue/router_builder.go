package venue

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"solana-arb-engine/internal/domain"
	"solana-arb-engine/internal/solana"
)

// ErrNoBuilder is returned when no instruction builder is configured.
var ErrNoBuilder = errors.New("no instruction builder configured")

// MaxRouteHops is the largest route a single transaction may carry.
const MaxRouteHops = 5

// InstructionBuilder turns a priced route into swap instructions.
type InstructionBuilder interface {
	Build(payer solana.PublicKey, route domain.Route) ([]solana.Instruction, error)
}

// RouterBuilder encodes a whole route as one instruction of an on-chain
// router program. The instruction data is an 8-byte method discriminator,
// a u8 hop count, then per hop the raw u64 input amount and the raw u64
// minimum output.
type RouterBuilder struct {
	program   solana.PublicKey
	tolerance float64 // fraction of expected output that may be lost per hop
}

// NewRouterBuilder creates a builder for the router program.
func NewRouterBuilder(program solana.PublicKey, tolerance float64) *RouterBuilder {
	return &RouterBuilder{program: program, tolerance: tolerance}
}

// Program returns the router program id.
func (b *RouterBuilder) Program() solana.PublicKey {
	return b.program
}

func routeDiscriminator() []byte {
	sum := sha256.Sum256([]byte("global:route"))
	return sum[:8]
}

// Build encodes the route. Account order: payer, token program, then per
// hop the pool and the payer's token accounts for the hop's input and output.
func (b *RouterBuilder) Build(payer solana.PublicKey, route domain.Route) ([]solana.Instruction, error) {
	if err := route.Validate(); err != nil {
		return nil, err
	}
	if route.Len() > MaxRouteHops {
		return nil, fmt.Errorf("route has %d hops, max %d", route.Len(), MaxRouteHops)
	}

	data := make([]byte, 0, 9+16*route.Len())
	data = append(data, routeDiscriminator()...)
	data = append(data, byte(route.Len()))

	accounts := []solana.AccountMeta{
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: solana.MustPublicKey(solana.TokenProgramID)},
	}

	for i, h := range route.Hops {
		in, ok := tokenOf(h.Pool, h.TokenIn)
		if !ok {
			return nil, fmt.Errorf("hop %d: pool %s does not trade %s", i, h.Pool.Key, h.TokenIn)
		}
		out, _ := tokenOf(h.Pool, h.TokenOut)

		amountIn, err := toRaw(h.AmountIn, in.Decimals)
		if err != nil {
			return nil, fmt.Errorf("hop %d input: %w", i, err)
		}
		minOut, err := toRaw(h.AmountOut*(1-b.tolerance), out.Decimals)
		if err != nil {
			return nil, fmt.Errorf("hop %d output: %w", i, err)
		}
		data = binary.LittleEndian.AppendUint64(data, amountIn)
		data = binary.LittleEndian.AppendUint64(data, minOut)

		pool, err := solana.ParsePublicKey(h.Pool.Key.PoolID)
		if err != nil {
			return nil, fmt.Errorf("hop %d pool: %w", i, err)
		}
		ataIn, err := ata(payer, h.TokenIn)
		if err != nil {
			return nil, fmt.Errorf("hop %d input account: %w", i, err)
		}
		ataOut, err := ata(payer, h.TokenOut)
		if err != nil {
			return nil, fmt.Errorf("hop %d output account: %w", i, err)
		}
		accounts = append(accounts,
			solana.AccountMeta{PublicKey: pool, IsWritable: true},
			solana.AccountMeta{PublicKey: ataIn, IsWritable: true},
			solana.AccountMeta{PublicKey: ataOut, IsWritable: true},
		)
	}

	return []solana.Instruction{{ProgramID: b.program, Accounts: accounts, Data: data}}, nil
}

func tokenOf(p *domain.PoolState, mint string) (domain.Token, bool) {
	switch mint {
	case p.TokenA.Mint:
		return p.TokenA, true
	case p.TokenB.Mint:
		return p.TokenB, true
	}
	return domain.Token{}, false
}

func toRaw(amount float64, decimals uint8) (uint64, error) {
	v := math.Floor(amount * math.Pow10(int(decimals)))
	if v < 0 || math.IsNaN(v) || v >= math.MaxUint64 {
		return 0, fmt.Errorf("amount %v out of range", amount)
	}
	return uint64(v), nil
}

func ata(owner solana.PublicKey, mint string) (solana.PublicKey, error) {
	m, err := solana.ParsePublicKey(mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.FindAssociatedTokenAddress(owner, m)
}

var _ InstructionBuilder = (*RouterBuilder)(nil)
