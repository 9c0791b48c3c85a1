package solana

import "context"

// RPCClient defines the Solana JSON-RPC surface the engine uses.
type RPCClient interface {
	// GetAccountInfo retrieves one account. Returns nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetMultipleAccounts retrieves accounts in request order; missing accounts are nil.
	GetMultipleAccounts(ctx context.Context, pubkeys []string) ([]*AccountInfo, error)

	// GetLatestBlockhash returns a recent blockhash for message construction.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// SimulateTransaction dry-runs a serialized transaction.
	SimulateTransaction(ctx context.Context, tx []byte, opts SimulateOpts) (*SimulationValue, error)

	// SendTransaction submits a serialized, signed transaction and returns its signature.
	SendTransaction(ctx context.Context, tx []byte, opts SendOpts) (string, error)

	// GetSignatureStatuses returns statuses in request order; unknown signatures are nil.
	GetSignatureStatuses(ctx context.Context, signatures []string, searchHistory bool) ([]*SignatureStatus, error)

	// GetRecentPrioritizationFees returns per-slot prioritization fees for writable accounts.
	GetRecentPrioritizationFees(ctx context.Context, accounts []string) ([]PrioritizationFee, error)

	// GetTransaction retrieves a confirmed transaction. Returns nil if not found.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (uint64, error)
}
