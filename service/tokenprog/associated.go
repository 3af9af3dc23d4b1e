package tokenprog

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	ataCreate           uint8 = 0
	ataCreateIdempotent uint8 = 1
)

// AssociatedTokenAddress derives the canonical holding account of owner for
// mint under the given variant. The token program id is part of the seeds,
// so the same owner and mint map to different addresses per variant.
func AssociatedTokenAddress(v Variant, owner, mint solana.PublicKey) (solana.PublicKey, error) {
	if v != VariantClassic && v != VariantExtended {
		return solana.PublicKey{}, fmt.Errorf("cannot derive holding account for variant %s", v)
	}
	programID := v.ProgramID()
	addr, _, err := solana.FindProgramAddress([][]byte{
		owner[:],
		programID[:],
		mint[:],
	}, solana.SPLAssociatedTokenAccountProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}

type ataArgs struct {
	Idempotent bool
}

func (a ataArgs) MarshalWithEncoder(enc *bin.Encoder) error {
	if !a.Idempotent {
		return enc.WriteUint8(ataCreate)
	}
	return enc.WriteUint8(ataCreateIdempotent)
}

// CreateAssociatedTokenAccount creates the holding account of owner for
// mint, funded by payer. The idempotent form succeeds when the account
// already exists with the expected owner and mint.
func CreateAssociatedTokenAccount(v Variant, payer, owner, mint solana.PublicKey, idempotent bool) (solana.Instruction, solana.PublicKey, error) {
	ata, err := AssociatedTokenAddress(v, owner, mint)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	data, err := encode(ataArgs{Idempotent: idempotent})
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to encode instruction data: %w", err)
	}
	ix := solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(owner),
		solana.Meta(mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(v.ProgramID()),
	}, data)
	return ix, ata, nil
}
