package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// parseTransactionFromResult parses a full GetTransactionResult into our
// domain Transaction. The fee transfer is only recognised at instruction 0;
// a transfer anywhere else is not a service fee.
func parseTransactionFromResult(sig solana.Signature, result *rpc.GetTransactionResult) (*Transaction, error) {
	txn := &Transaction{
		Signature: sig.String(),
		Slot:      result.Slot,
	}
	if result.BlockTime != nil {
		txn.BlockTime = result.BlockTime.Time()
	}
	if result.Meta != nil && result.Meta.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", result.Meta.Err)
		txn.Err = &errMsg
	}
	if result.Transaction == nil {
		return nil, fmt.Errorf("transaction %s has no body", sig)
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return parseTransaction(txn, tx)
}

func parseTransaction(txn *Transaction, tx *solana.Transaction) (*Transaction, error) {
	accountKeys := tx.Message.AccountKeys
	if len(accountKeys) == 0 {
		return nil, fmt.Errorf("transaction has no account keys")
	}
	txn.FeePayer = accountKeys[0].String()
	for _, k := range accountKeys {
		txn.AccountKeys = append(txn.AccountKeys, k.String())
	}

	for i, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			return nil, fmt.Errorf("instruction %d references unknown program index %d", i, instruction.ProgramIDIndex)
		}
		programID := accountKeys[instruction.ProgramIDIndex]
		txn.Programs = append(txn.Programs, programID.String())

		if i == 0 && programID.Equals(solana.SystemProgramID) {
			if transfer, err := parseSystemTransfer(instruction, accountKeys); err == nil {
				txn.FeeTransfer = transfer
			}
		}
	}
	return txn, nil
}

// parseSystemTransfer extracts the amount and both parties from a System
// Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (*Transfer, error) {
	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)
	if len(instruction.Data) < 12 {
		return nil, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return nil, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	// System Transfer accounts: [from, to]
	if len(instruction.Accounts) < 2 {
		return nil, fmt.Errorf("transfer instruction has %d accounts", len(instruction.Accounts))
	}
	from, to := instruction.Accounts[0], instruction.Accounts[1]
	if int(from) >= len(accountKeys) || int(to) >= len(accountKeys) {
		return nil, fmt.Errorf("transfer instruction references unknown account")
	}

	return &Transfer{
		From:     accountKeys[from].String(),
		To:       accountKeys[to].String(),
		Lamports: binary.LittleEndian.Uint64(instruction.Data[4:12]),
	}, nil
}
