package engine

import (
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// Treasury receives every service fee. It is compiled in and never taken
// from a request or from configuration.
var Treasury = solanago.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")

// feeSchedule is the service fee per operation, in lamports.
var feeSchedule = map[Operation]uint64{
	OpCreateToken:           50_000_000,
	OpRevokeMintAuthority:   10_000_000,
	OpRevokeFreezeAuthority: 10_000_000,
	OpSetAuthority:          10_000_000,
	OpFreezeAccount:         5_000_000,
	OpThawAccount:           5_000_000,
	OpApproveDelegate:       5_000_000,
	OpRevokeDelegate:        5_000_000,
	OpCloseAccount:          2_000_000,
}

// networkFeePerSignature is the base fee the cluster charges per signature.
const networkFeePerSignature = 5_000

// Fee is the service fee for one operation.
type Fee struct {
	Operation Operation          `json:"operation"`
	Lamports  uint64             `json:"lamports"`
	Treasury  solanago.PublicKey `json:"treasury"`
}

// FeeFor returns the fixed fee for op.
func FeeFor(op Operation) (Fee, error) {
	lamports, ok := feeSchedule[op]
	if !ok {
		return Fee{}, fmt.Errorf("no fee scheduled for operation %q", op)
	}
	return Fee{Operation: op, Lamports: lamports, Treasury: Treasury}, nil
}

// Instruction is the system transfer that pays the fee from payer.
func (f Fee) Instruction(payer solanago.PublicKey) solanago.Instruction {
	return system.NewTransferInstruction(f.Lamports, payer, f.Treasury).Build()
}
