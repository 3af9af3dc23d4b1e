package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/brojonat/mintctl/service/engine"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTx(t *testing.T, payer solanago.PublicKey) *solanago.Transaction {
	t.Helper()
	to := solanago.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{system.NewTransferInstruction(1, payer, to).Build()},
		solanago.Hash{},
		solanago.TransactionPayer(payer),
	)
	require.NoError(t, err)
	return tx
}

func TestSignTransaction(t *testing.T) {
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)

	var seen Summary
	w := New(key, func(ctx context.Context, s Summary) (bool, error) {
		seen = s
		return true, nil
	}, nil)

	tx := newTx(t, key.PublicKey())
	require.NoError(t, w.SignTransaction(context.Background(), tx))
	assert.NoError(t, tx.VerifySignatures())

	assert.Equal(t, key.PublicKey(), seen.FeePayer)
	assert.Equal(t, 1, seen.Instructions)
	assert.Equal(t, []solanago.PublicKey{solanago.SystemProgramID}, seen.Programs)
}

func TestSignTransaction_Declined(t *testing.T) {
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	w := New(key, func(context.Context, Summary) (bool, error) { return false, nil }, nil)

	tx := newTx(t, key.PublicKey())
	err = w.SignTransaction(context.Background(), tx)
	assert.ErrorIs(t, err, engine.ErrSigningRejected)
	assert.Empty(t, tx.Signatures)
}

func TestSignTransaction_PromptError(t *testing.T) {
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	w := New(key, func(context.Context, Summary) (bool, error) { return false, errors.New("no tty") }, nil)

	err = w.SignTransaction(context.Background(), newTx(t, key.PublicKey()))
	require.Error(t, err)
	assert.NotErrorIs(t, err, engine.ErrSigningRejected)
}

func TestSignTransaction_NotASigner(t *testing.T) {
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	other, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)

	err = New(key, nil, nil).SignTransaction(context.Background(), newTx(t, other.PublicKey()))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)

	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	w, err := Load(path, nil, nil)
	require.NoError(t, err)
	addr, err := w.Address(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), addr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"), nil, nil)
	assert.Error(t, err)
}
