package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/mintctl/service/db"
)

// PendingLister lists receipts that have not been verified yet.
type PendingLister interface {
	ListPendingReceipts(ctx context.Context, network string, since time.Time, limit int32) ([]*db.Receipt, error)
}

// reconcileBatch bounds how many pending receipts one pass starts.
const reconcileBatch = 500

// ReconcileReport summarizes one reconcile pass.
type ReconcileReport struct {
	Pending int
	Started int
	Failed  []string // signatures whose workflow could not be started
}

// ReconcilePending starts verification for every pending receipt on
// network confirmed after since. Receipts whose verification is already
// running are not started twice, because the workflow id is derived from
// the receipt.
func ReconcilePending(ctx context.Context, store PendingLister, verifier Verifier, network string, since time.Time, attempts int, logger *slog.Logger) (*ReconcileReport, error) {
	receipts, err := store.ListPendingReceipts(ctx, network, since, reconcileBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending receipts: %w", err)
	}

	report := &ReconcileReport{Pending: len(receipts)}
	for _, r := range receipts {
		_, err := verifier.StartReceiptVerification(ctx, VerifyReceiptInput{
			Network:     r.Network,
			Signature:   r.Signature,
			Operation:   r.Operation,
			Owner:       r.Owner,
			MaxAttempts: int32(attempts),
		})
		if err != nil {
			logger.WarnContext(ctx, "failed to start verification for pending receipt",
				"signature", r.Signature,
				"error", err,
			)
			report.Failed = append(report.Failed, r.Signature)
			continue
		}
		report.Started++
	}

	logger.InfoContext(ctx, "pending receipts reconciled",
		"network", network,
		"pending", report.Pending,
		"started", report.Started,
		"failed", len(report.Failed),
	)
	return report, nil
}
