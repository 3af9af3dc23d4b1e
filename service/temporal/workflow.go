package temporal

import (
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/mintctl/service/db"
	"github.com/brojonat/mintctl/service/engine"
	"github.com/brojonat/mintctl/service/solana"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ErrTypeTransactionNotFound marks a fetch that may succeed on retry.
const ErrTypeTransactionNotFound = "TransactionNotFound"

// DefaultVerifyAttempts bounds how often a missing transaction is re-fetched.
const DefaultVerifyAttempts = 5

// VerifyReceiptInput identifies a reported receipt to check against the chain.
type VerifyReceiptInput struct {
	Network     string `json:"network"`
	Signature   string `json:"signature"`
	Operation   string `json:"operation"`
	Owner       string `json:"owner"`
	MaxAttempts int32  `json:"max_attempts"`
}

// VerifyReceiptResult contains the outcome of verifying a receipt.
type VerifyReceiptResult struct {
	Signature  string  `json:"signature"`
	Status     string  `json:"status"`
	Reason     *string `json:"reason,omitempty"`
	FeeCharged bool    `json:"fee_charged"`
}

// WorkflowID is the id of the verification workflow for a receipt. One
// receipt maps to one workflow, so re-reporting never double-charges.
func WorkflowID(network, signature string) string {
	return "verify-receipt-" + network + "-" + signature
}

// VerifyReceiptWorkflow checks that a reported receipt is backed by a
// successful transaction whose first instruction pays the scheduled service
// fee to the treasury.
//
// The workflow performs these steps:
// 1. Fetch the transaction (FetchTransaction activity, retried while the node catches up)
// 2. Check the fee transfer
// 3. Record the outcome and the fee-ledger entry (RecordVerification activity)
// 4. Publish the updated receipt to NATS (PublishReceipt activity, best effort)
func VerifyReceiptWorkflow(ctx workflow.Context, input VerifyReceiptInput) (*VerifyReceiptResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("VerifyReceiptWorkflow started", "network", input.Network, "signature", input.Signature)

	attempts := input.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultVerifyAttempts
	}

	fetchCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    attempts,
		},
	})

	var status string
	var reason *string
	var fee engine.Fee

	var fetched *FetchTransactionResult
	err := workflow.ExecuteActivity(fetchCtx, a.FetchTransaction, FetchTransactionInput{
		Network:   input.Network,
		Signature: input.Signature,
	}).Get(ctx, &fetched)
	var appErr *temporalsdk.ApplicationError
	switch {
	case err == nil:
		status, reason, fee = CheckFeeTransfer(fetched.Transaction, input.Operation, input.Owner)
	case errors.As(err, &appErr) && appErr.Type() == ErrTypeTransactionNotFound:
		msg := "transaction not found"
		status, reason = db.VerificationRejected, &msg
	default:
		logger.Error("failed to fetch transaction", "signature", input.Signature, "error", err)
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}

	logger.Info("receipt checked", "signature", input.Signature, "status", status)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var recorded *RecordVerificationResult
	err = workflow.ExecuteActivity(ctx, a.RecordVerification, RecordVerificationInput{
		Network:     input.Network,
		Signature:   input.Signature,
		Operation:   input.Operation,
		Owner:       input.Owner,
		Status:      status,
		Reason:      reason,
		Treasury:    engine.Treasury.String(),
		FeeLamports: fee.Lamports,
	}).Get(ctx, &recorded)
	if err != nil {
		logger.Error("failed to record verification", "signature", input.Signature, "error", err)
		return nil, fmt.Errorf("failed to record verification: %w", err)
	}

	result := &VerifyReceiptResult{
		Signature:  input.Signature,
		Status:     status,
		Reason:     reason,
		FeeCharged: recorded.FeeCharged,
	}

	if err := workflow.ExecuteActivity(ctx, a.PublishReceipt, PublishReceiptInput{Event: recorded.Event}).Get(ctx, nil); err != nil {
		logger.Warn("failed to publish receipt event", "signature", input.Signature, "error", err)
	}

	logger.Info("VerifyReceiptWorkflow completed",
		"signature", input.Signature,
		"status", status,
		"fee_charged", result.FeeCharged,
	)
	return result, nil
}

// CheckFeeTransfer decides whether txn pays the service fee for operation.
// Only instruction 0 counts as the fee transfer. Overpaying is accepted, and
// the returned fee carries the amount actually paid.
func CheckFeeTransfer(txn *solana.Transaction, operation, owner string) (string, *string, engine.Fee) {
	reject := func(format string, args ...any) (string, *string, engine.Fee) {
		msg := fmt.Sprintf(format, args...)
		return db.VerificationRejected, &msg, engine.Fee{}
	}

	fee, err := engine.FeeFor(engine.Operation(operation))
	if err != nil {
		return reject("unknown operation %q", operation)
	}
	if txn == nil {
		return reject("transaction not found")
	}
	if txn.Err != nil {
		return reject("transaction failed on chain")
	}
	if txn.FeePayer != owner {
		return reject("fee payer %s is not the receipt owner", txn.FeePayer)
	}
	if txn.FeeTransfer == nil {
		return reject("instruction 0 is not a fee transfer")
	}
	if txn.FeeTransfer.To != fee.Treasury.String() {
		return reject("fee paid to %s, not the treasury", txn.FeeTransfer.To)
	}
	if txn.FeeTransfer.From != owner {
		return reject("fee paid by %s, not the receipt owner", txn.FeeTransfer.From)
	}
	if txn.FeeTransfer.Lamports < fee.Lamports {
		return reject("fee of %d lamports is below the scheduled %d", txn.FeeTransfer.Lamports, fee.Lamports)
	}
	fee.Lamports = txn.FeeTransfer.Lamports
	return db.VerificationVerified, nil, fee
}
