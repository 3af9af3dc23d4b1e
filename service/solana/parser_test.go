package solana

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create a TransactionResultEnvelope from a Transaction.
// Since TransactionResultEnvelope has unexported fields, we use JSON marshaling.
func makeTransactionEnvelope(tx *solana.Transaction) (*rpc.TransactionResultEnvelope, error) {
	txJSON, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	var temp struct {
		Transaction json.RawMessage `json:"transaction"`
	}
	temp.Transaction = txJSON

	envelopeJSON, err := json.Marshal(temp)
	if err != nil {
		return nil, err
	}

	var result rpc.GetTransactionResult
	if err := json.Unmarshal(envelopeJSON, &result); err != nil {
		return nil, err
	}

	return result.Transaction, nil
}

var testTreasury = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

func buildTx(t *testing.T, ixs ...solana.Instruction) *solana.Transaction {
	t.Helper()
	tx, err := solana.NewTransaction(ixs, solana.Hash{}, solana.TransactionPayer(testWallet))
	require.NoError(t, err)
	return tx
}

func TestParseTransaction_FeeTransferFirst(t *testing.T) {
	tx := buildTx(t,
		system.NewTransferInstruction(5_000_000, testWallet, testTreasury).Build(),
		solana.NewInstruction(solana.TokenProgramID, solana.AccountMetaSlice{
			solana.Meta(testMint).WRITE(),
			solana.Meta(testWallet).SIGNER(),
		}, []byte{10}),
	)

	envelope, err := makeTransactionEnvelope(tx)
	require.NoError(t, err)

	now := solana.UnixTimeSeconds(time.Now().Unix())
	result := &rpc.GetTransactionResult{Slot: 42, BlockTime: &now, Transaction: envelope}

	txn, err := parseTransactionFromResult(testSig, result)
	require.NoError(t, err)

	assert.Equal(t, testSig.String(), txn.Signature)
	assert.Equal(t, uint64(42), txn.Slot)
	assert.Equal(t, testWallet.String(), txn.FeePayer)
	assert.Nil(t, txn.Err)
	require.Len(t, txn.Programs, 2)
	assert.Equal(t, solana.SystemProgramID.String(), txn.Programs[0])
	assert.Equal(t, solana.TokenProgramID.String(), txn.Programs[1])
	assert.Contains(t, txn.AccountKeys, testMint.String())

	require.NotNil(t, txn.FeeTransfer)
	assert.Equal(t, testWallet.String(), txn.FeeTransfer.From)
	assert.Equal(t, testTreasury.String(), txn.FeeTransfer.To)
	assert.Equal(t, uint64(5_000_000), txn.FeeTransfer.Lamports)
}

func TestParseTransaction_TransferNotFirst(t *testing.T) {
	tx := buildTx(t,
		solana.NewInstruction(solana.TokenProgramID, solana.AccountMetaSlice{
			solana.Meta(testMint).WRITE(),
			solana.Meta(testWallet).SIGNER(),
		}, []byte{10}),
		system.NewTransferInstruction(5_000_000, testWallet, testTreasury).Build(),
	)

	txn, err := parseTransaction(&Transaction{}, tx)
	require.NoError(t, err)
	assert.Nil(t, txn.FeeTransfer)
}

func TestParseTransaction_Failed(t *testing.T) {
	tx := buildTx(t, system.NewTransferInstruction(1, testWallet, testTreasury).Build())
	envelope, err := makeTransactionEnvelope(tx)
	require.NoError(t, err)

	result := &rpc.GetTransactionResult{
		Slot:        7,
		Transaction: envelope,
		Meta:        &rpc.TransactionMeta{Err: map[string]any{"InstructionError": []any{0, "InsufficientFunds"}}},
	}
	txn, err := parseTransactionFromResult(testSig, result)
	require.NoError(t, err)
	require.NotNil(t, txn.Err)
	assert.Contains(t, *txn.Err, "InsufficientFunds")
}

func TestParseSystemTransfer_Malformed(t *testing.T) {
	keys := []solana.PublicKey{testWallet, testTreasury, solana.SystemProgramID}

	_, err := parseSystemTransfer(solana.CompiledInstruction{Data: []byte{2, 0, 0}}, keys)
	assert.Error(t, err)

	data := make([]byte, 12)
	data[0] = 0 // CreateAccount, not Transfer
	_, err = parseSystemTransfer(solana.CompiledInstruction{Accounts: []uint16{0, 1}, Data: data}, keys)
	assert.Error(t, err)

	data[0] = 2
	_, err = parseSystemTransfer(solana.CompiledInstruction{Accounts: []uint16{0, 9}, Data: data}, keys)
	assert.Error(t, err)
}
