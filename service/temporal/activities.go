package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/mintctl/service/db"
	"github.com/brojonat/mintctl/service/metrics"
	natspkg "github.com/brojonat/mintctl/service/nats"
	"github.com/brojonat/mintctl/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// FetchTransactionInput contains parameters for the FetchTransaction activity.
type FetchTransactionInput struct {
	Network   string `json:"network"`
	Signature string `json:"signature"`
}

// FetchTransactionResult contains the parsed on-chain transaction.
type FetchTransactionResult struct {
	Transaction *solana.Transaction `json:"transaction"`
}

// RecordVerificationInput contains parameters for the RecordVerification activity.
type RecordVerificationInput struct {
	Network     string  `json:"network"`
	Signature   string  `json:"signature"`
	Operation   string  `json:"operation"`
	Owner       string  `json:"owner"`
	Status      string  `json:"status"`
	Reason      *string `json:"reason,omitempty"`
	Treasury    string  `json:"treasury"`
	FeeLamports uint64  `json:"fee_lamports"`
}

// RecordVerificationResult carries the updated receipt as an event ready to publish.
type RecordVerificationResult struct {
	Event      *natspkg.ReceiptEvent `json:"event"`
	FeeCharged bool                  `json:"fee_charged"`
}

// PublishReceiptInput contains parameters for the PublishReceipt activity.
type PublishReceiptInput struct {
	Event *natspkg.ReceiptEvent `json:"event"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	UpdateVerification(context.Context, db.UpdateVerificationParams) (*db.Receipt, error)
	RecordFee(context.Context, db.FeeEntry) (bool, error)
}

// SolanaClientInterface defines the Solana operations needed by activities.
// This allows for easy mocking in tests.
type SolanaClientInterface interface {
	GetTransaction(ctx context.Context, sig solanago.Signature) (*solana.Transaction, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishReceipt(ctx context.Context, event *natspkg.ReceiptEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store     StoreInterface
	clients   map[string]SolanaClientInterface // keyed by network
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	store StoreInterface,
	clients map[string]SolanaClientInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		clients:   clients,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// FetchTransaction loads and parses the transaction behind a receipt.
// A transaction the node does not know yet is a retryable error; an
// unparseable signature is not.
func (a *Activities) FetchTransaction(ctx context.Context, input FetchTransactionInput) (*FetchTransactionResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("FetchTransaction", time.Since(start).Seconds())
	}()

	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid signature %q", input.Signature), "InvalidSignature", err)
	}

	client, ok := a.clients[input.Network]
	if !ok || client == nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("no solana client for network %q", input.Network), "UnknownNetwork", nil)
	}

	txn, err := client.GetTransaction(ctx, sig)
	if err != nil {
		if errors.Is(err, solana.ErrTransactionNotFound) {
			a.logger.InfoContext(ctx, "transaction not yet available",
				"network", input.Network,
				"signature", input.Signature,
			)
			return nil, temporalsdk.NewApplicationError("transaction not found", ErrTypeTransactionNotFound)
		}
		a.logger.WarnContext(ctx, "failed to fetch transaction",
			"network", input.Network,
			"signature", input.Signature,
			"error", err,
		)
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}

	a.logger.DebugContext(ctx, "fetched transaction",
		"signature", input.Signature,
		"slot", txn.Slot,
		"instructions", len(txn.Programs),
	)
	return &FetchTransactionResult{Transaction: txn}, nil
}

// RecordVerification stores the verification outcome and, for verified
// receipts, appends the fee to the ledger. Both writes are idempotent so
// the activity can be retried freely.
func (a *Activities) RecordVerification(ctx context.Context, input RecordVerificationInput) (*RecordVerificationResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("RecordVerification", time.Since(start).Seconds())
	}()

	receipt, err := a.store.UpdateVerification(ctx, db.UpdateVerificationParams{
		Network:    input.Network,
		Signature:  input.Signature,
		Status:     input.Status,
		Reason:     input.Reason,
		VerifiedAt: time.Now().UTC(),
	})
	if errors.Is(err, db.ErrNotFound) {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("receipt %s/%s not found", input.Network, input.Signature), "ReceiptNotFound", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update verification: %w", err)
	}

	result := &RecordVerificationResult{Event: natspkg.FromDBReceipt(receipt)}
	if input.Status == db.VerificationVerified {
		created, err := a.store.RecordFee(ctx, db.FeeEntry{
			Network:   input.Network,
			Signature: input.Signature,
			Operation: input.Operation,
			Payer:     input.Owner,
			Treasury:  input.Treasury,
			Lamports:  int64(input.FeeLamports),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record fee: %w", err)
		}
		result.FeeCharged = created
	}

	a.metrics.RecordReceiptVerified(input.Operation, input.Status)
	// Measured from acceptance, which is when the workflow is started.
	a.metrics.RecordWorkflowDuration(input.Status, time.Since(receipt.CreatedAt).Seconds())
	a.logger.InfoContext(ctx, "receipt verification recorded",
		"network", input.Network,
		"signature", input.Signature,
		"status", input.Status,
		"fee_charged", result.FeeCharged,
	)
	return result, nil
}

// PublishReceipt announces the verified receipt on NATS.
func (a *Activities) PublishReceipt(ctx context.Context, input PublishReceiptInput) error {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("PublishReceipt", time.Since(start).Seconds())
	}()

	if a.publisher == nil {
		a.logger.DebugContext(ctx, "no publisher configured, skipping receipt event")
		return nil
	}
	if err := a.publisher.PublishReceipt(ctx, input.Event); err != nil {
		return fmt.Errorf("failed to publish receipt: %w", err)
	}
	return nil
}
