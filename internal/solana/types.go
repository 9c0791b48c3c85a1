package solana

// Commitment levels.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Data       []byte // decoded from base64
	Executable bool
	RentEpoch  uint64
}

// Blockhash from getLatestBlockhash.
type Blockhash struct {
	Hash                 string
	LastValidBlockHeight uint64
	Slot                 uint64
}

// SimulateOpts configures simulateTransaction.
type SimulateOpts struct {
	SigVerify              bool
	ReplaceRecentBlockhash bool
	Commitment             string
}

// SimulationValue is the result of simulateTransaction.
type SimulationValue struct {
	Err           interface{}
	Logs          []string
	UnitsConsumed *uint64
}

// SendOpts configures sendTransaction.
type SendOpts struct {
	SkipPreflight       bool
	PreflightCommitment string
	MaxRetries          *uint
}

// SignatureStatus from getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64 // nil once rooted
	Err                interface{}
	ConfirmationStatus string
}

// Landed reports whether the transaction reached at least confirmed commitment.
func (s *SignatureStatus) Landed() bool {
	return s != nil && (s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized)
}

// PrioritizationFee is one entry of getRecentPrioritizationFees.
type PrioritizationFee struct {
	Slot              uint64
	PrioritizationFee uint64 // micro-lamports per compute unit
}

// Transaction represents a confirmed Solana transaction.
type Transaction struct {
	Slot      uint64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64
	LogMessages       []string
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TokenBalance is a token account balance snapshot inside transaction meta.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       string // raw base units
	Decimals     uint8
}
