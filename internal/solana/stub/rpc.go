// Package stub provides an in-memory solana.RPCClient for tests.
package stub

import (
	"context"
	"fmt"
	"sync"

	"solana-arb-engine/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
// All fields may be set before use; methods are safe for concurrent use.
type RPCClient struct {
	mu sync.Mutex

	Accounts     map[string]*solana.AccountInfo
	Transactions map[string]*solana.Transaction
	Statuses     map[string]*solana.SignatureStatus
	Fees         []solana.PrioritizationFee
	Blockhash    solana.Blockhash
	Slot         uint64

	// Simulate overrides simulation; default returns 100k units and no error.
	Simulate func(tx []byte) (*solana.SimulationValue, error)
	// SendErrors are returned by successive SendTransaction calls before succeeding.
	SendErrors []error
	// OnSend is invoked with each submitted signature, e.g. to script statuses.
	OnSend func(sig string)

	sent    [][]byte
	sendSeq int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Accounts:     make(map[string]*solana.AccountInfo),
		Transactions: make(map[string]*solana.Transaction),
		Statuses:     make(map[string]*solana.SignatureStatus),
		Blockhash: solana.Blockhash{
			Hash:                 "11111111111111111111111111111111",
			LastValidBlockHeight: 1000,
		},
		Slot: 1,
	}
}

// GetAccountInfo returns the stored account or nil.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Accounts[pubkey], nil
}

// GetMultipleAccounts returns stored accounts in request order, nil for missing.
func (c *RPCClient) GetMultipleAccounts(_ context.Context, pubkeys []string) ([]*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.AccountInfo, len(pubkeys))
	for i, k := range pubkeys {
		out[i] = c.Accounts[k]
	}
	return out, nil
}

// GetLatestBlockhash returns the configured blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (*solana.Blockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bh := c.Blockhash
	bh.Slot = c.Slot
	return &bh, nil
}

// SimulateTransaction runs the Simulate hook or a successful default.
func (c *RPCClient) SimulateTransaction(_ context.Context, tx []byte, _ solana.SimulateOpts) (*solana.SimulationValue, error) {
	c.mu.Lock()
	fn := c.Simulate
	c.mu.Unlock()
	if fn != nil {
		return fn(tx)
	}
	units := uint64(100_000)
	return &solana.SimulationValue{UnitsConsumed: &units, Logs: []string{"Program log: ok"}}, nil
}

// SendTransaction records the payload and returns a deterministic signature.
func (c *RPCClient) SendTransaction(_ context.Context, tx []byte, _ solana.SendOpts) (string, error) {
	c.mu.Lock()
	if len(c.SendErrors) > 0 {
		err := c.SendErrors[0]
		c.SendErrors = c.SendErrors[1:]
		c.mu.Unlock()
		return "", err
	}
	c.sendSeq++
	sig := fmt.Sprintf("sig-%d", c.sendSeq)
	c.sent = append(c.sent, append([]byte(nil), tx...))
	hook := c.OnSend
	c.mu.Unlock()

	if hook != nil {
		hook(sig)
	}
	return sig, nil
}

// Sent returns a copy of all submitted payloads.
func (c *RPCClient) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// SetStatus sets the status reported for a signature.
func (c *RPCClient) SetStatus(sig string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[sig] = status
}

// GetSignatureStatuses returns stored statuses, nil for unknown signatures.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string, _ bool) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.SignatureStatus, len(signatures))
	for i, s := range signatures {
		out[i] = c.Statuses[s]
	}
	return out, nil
}

// GetRecentPrioritizationFees returns the configured fee samples.
func (c *RPCClient) GetRecentPrioritizationFees(_ context.Context, _ []string) ([]solana.PrioritizationFee, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]solana.PrioritizationFee(nil), c.Fees...), nil
}

// GetTransaction retrieves a transaction by signature from the stub store.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.Transactions[signature]
	if !ok {
		return nil, nil
	}
	return tx, nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// AddAccount adds an account to the stub store.
func (c *RPCClient) AddAccount(pubkey string, info *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pubkey] = info
}

// GetSlot returns the configured slot.
func (c *RPCClient) GetSlot(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Slot, nil
}

var _ solana.RPCClient = (*RPCClient)(nil)
