package solana

import (
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrAccountNotFound is returned when the queried address holds no account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransactionNotFound is returned when the node has no record of a signature.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// AccountInfo is a raw account read. Owner is the program that owns the
// account, not the wallet that controls it.
type AccountInfo struct {
	Address  solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// Blockhash is a recent blockhash and the last block height at which a
// transaction referencing it is still accepted.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// SignatureStatus is the cluster's view of a submitted signature.
type SignatureStatus struct {
	Slot         uint64
	Confirmation string  // processed, confirmed or finalized
	Err          *string // nil if the transaction succeeded
}

// Confirmed reports whether the status has reached at least confirmed
// commitment. Processed is not enough; it can still be rolled back.
func (s *SignatureStatus) Confirmed() bool {
	return s != nil && (s.Confirmation == "confirmed" || s.Confirmation == "finalized")
}

// Transfer is a parsed System Program transfer.
type Transfer struct {
	From     string
	To       string
	Lamports uint64
}

// Transaction represents a parsed Solana transaction.
// This is our domain model, independent of the RPC response format.
type Transaction struct {
	Signature   string
	Slot        uint64
	BlockTime   time.Time
	FeePayer    string
	AccountKeys []string
	Programs    []string  // program id of each top-level instruction, in order
	FeeTransfer *Transfer // set when instruction 0 is a system transfer
	Err         *string   // nil if transaction succeeded, contains error message if failed
}
