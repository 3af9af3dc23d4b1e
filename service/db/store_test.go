package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiptParams(sig string, confirmed time.Time) CreateReceiptParams {
	mint := "So11111111111111111111111111111111111111112"
	return CreateReceiptParams{
		Network:     "devnet",
		Signature:   sig,
		Operation:   "create-token",
		Owner:       "owner123",
		Mint:        &mint,
		Variant:     "classic",
		Params:      json.RawMessage(`{"symbol":"TST","decimals":6}`),
		Touched:     []string{mint, "ata123"},
		FeeLamports: 50_000_000,
		Slot:        1234,
		SubmittedAt: confirmed.Add(-2 * time.Second),
		ConfirmedAt: confirmed,
	}
}

func TestCreateReceipt(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("create", func(t *testing.T) {
		params := receiptParams("sig1", now)
		r, created, err := store.CreateReceipt(ctx, params)
		require.NoError(t, err)
		assert.True(t, created)

		assert.Equal(t, params.Signature, r.Signature)
		assert.Equal(t, params.Owner, r.Owner)
		require.NotNil(t, r.Mint)
		assert.Equal(t, *params.Mint, *r.Mint)
		assert.Nil(t, r.Account)
		assert.Equal(t, params.Touched, r.Touched)
		assert.JSONEq(t, string(params.Params), string(r.Params))
		assert.Equal(t, int64(50_000_000), r.FeeLamports)
		assert.Equal(t, VerificationPending, r.VerificationStatus)
		assert.Nil(t, r.VerifiedAt)
		assert.WithinDuration(t, now, r.ConfirmedAt, time.Microsecond)
		assert.WithinDuration(t, time.Now(), r.CreatedAt, 5*time.Second)
	})

	t.Run("duplicate is idempotent", func(t *testing.T) {
		params := receiptParams("sig1", now)
		params.Owner = "someone-else"
		r, created, err := store.CreateReceipt(ctx, params)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "owner123", r.Owner, "the first report wins")
	})

	t.Run("same signature on another network", func(t *testing.T) {
		params := receiptParams("sig1", now)
		params.Network = "mainnet"
		_, created, err := store.CreateReceipt(ctx, params)
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("nil params and touched", func(t *testing.T) {
		params := receiptParams("sig2", now)
		params.Params = nil
		params.Touched = nil
		r, _, err := store.CreateReceipt(ctx, params)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(r.Params))
		assert.Empty(t, r.Touched)
	})
}

func TestGetReceipt_NotFound(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()

	_, err := store.GetReceipt(context.Background(), "devnet", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListReceiptsByOwner(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, sig := range []string{"a", "b", "c"} {
		_, _, err := store.CreateReceipt(ctx, receiptParams(sig, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	other := receiptParams("d", base)
	other.Owner = "other"
	_, _, err := store.CreateReceipt(ctx, other)
	require.NoError(t, err)

	receipts, err := store.ListReceiptsByOwner(ctx, ListReceiptsParams{Owner: "owner123", Network: "devnet", Limit: 10})
	require.NoError(t, err)
	require.Len(t, receipts, 3)
	assert.Equal(t, "c", receipts[0].Signature, "newest first")
	assert.Equal(t, "a", receipts[2].Signature)

	page, err := store.ListReceiptsByOwner(ctx, ListReceiptsParams{Owner: "owner123", Network: "devnet", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].Signature)

	n, err := store.CountReceiptsByOwner(ctx, "owner123", "devnet")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestVerification(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	_, _, err := store.CreateReceipt(ctx, receiptParams("old", now.Add(-48*time.Hour)))
	require.NoError(t, err)
	_, _, err = store.CreateReceipt(ctx, receiptParams("new", now))
	require.NoError(t, err)

	pending, err := store.ListPendingReceipts(ctx, "devnet", now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "new", pending[0].Signature)

	reason := "fee transfer missing"
	r, err := store.UpdateVerification(ctx, UpdateVerificationParams{
		Network:    "devnet",
		Signature:  "new",
		Status:     VerificationRejected,
		Reason:     &reason,
		VerifiedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, VerificationRejected, r.VerificationStatus)
	require.NotNil(t, r.VerificationReason)
	assert.Equal(t, reason, *r.VerificationReason)
	require.NotNil(t, r.VerifiedAt)

	pending, err = store.ListPendingReceipts(ctx, "devnet", now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = store.UpdateVerification(ctx, UpdateVerificationParams{Network: "devnet", Signature: "missing", Status: VerificationVerified})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordFee(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	entry := FeeEntry{
		Network:   "devnet",
		Signature: "sig1",
		Operation: "freeze-account",
		Payer:     "owner123",
		Treasury:  "treasury",
		Lamports:  5_000_000,
	}

	created, err := store.RecordFee(ctx, entry)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.RecordFee(ctx, entry)
	require.NoError(t, err)
	assert.False(t, created, "a signature is charged once")

	entry.Signature = "sig2"
	_, err = store.RecordFee(ctx, entry)
	require.NoError(t, err)

	count, lamports, err := store.FeeTotal(ctx, "devnet", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, int64(10_000_000), lamports)
}

func TestMigrate_Idempotent(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()

	assert.NoError(t, store.Migrate(context.Background()))
}
