package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/mintctl/service/metrics"
)

const (
	DefaultConfirmTimeout = 90 * time.Second
	DefaultPollInterval   = 2 * time.Second
)

// Confirmation is the cluster's confirmed view of a submission.
type Confirmation struct {
	Slot        uint64
	Status      string
	ConfirmedAt time.Time
}

// Waiter polls until a submission is confirmed, fails on chain, or its
// outcome can no longer be determined. It never rebroadcasts.
type Waiter struct {
	chain        Chain
	timeout      time.Duration
	pollInterval time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

func NewWaiter(chain Chain, timeout, pollInterval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Waiter {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Waiter{chain: chain, timeout: timeout, pollInterval: pollInterval, metrics: m, logger: logger}
}

// Wait blocks until sub is confirmed. Past blockhash expiry, the wall-clock
// ceiling or cancellation, it returns an indeterminate error carrying the
// signature.
func (w *Waiter) Wait(ctx context.Context, sub *Submission) (*Confirmation, error) {
	start := time.Now()
	conf, err := w.poll(ctx, sub)
	outcome := "confirmed"
	if err != nil {
		outcome = string(KindOf(err))
	}
	w.metrics.RecordConfirmation(outcome, time.Since(start).Seconds())
	return conf, err
}

func (w *Waiter) poll(ctx context.Context, sub *Submission) (*Confirmation, error) {
	waitCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	sig := sub.Signature
	indeterminate := func(reason Reason, err error) *Error {
		e := newError(KindIndeterminate, reason, err)
		e.Signature = sig.String()
		return e
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		conf, done, err := w.check(waitCtx, sub)
		if done {
			return conf, err
		}

		height, err := w.chain.BlockHeight(waitCtx)
		if err != nil {
			w.logger.WarnContext(ctx, "block height check failed", "signature", sig.String(), "error", err)
		} else if height > sub.Blockhash.LastValidBlockHeight {
			// The blockhash expired; the cluster will not accept the
			// transaction from now on, so one last status read decides.
			if conf, done, err := w.check(ctx, sub); done {
				return conf, err
			}
			return nil, indeterminate(ReasonBlockhashExpired,
				fmt.Errorf("blockhash expired at height %d without confirmation", sub.Blockhash.LastValidBlockHeight))
		}

		select {
		case <-waitCtx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, indeterminate(ReasonConfirmationTimeout, fmt.Errorf("confirmation wait cancelled: %w", ctx.Err()))
			}
			return nil, indeterminate(ReasonConfirmationTimeout, fmt.Errorf("not confirmed within %s", w.timeout))
		case <-ticker.C:
		}
	}
}

// check reads the signature status once. done is true when the outcome is
// decided; transient read errors are logged and polling continues.
func (w *Waiter) check(ctx context.Context, sub *Submission) (*Confirmation, bool, error) {
	status, err := w.chain.SignatureStatus(ctx, sub.Signature)
	if err != nil {
		w.logger.WarnContext(ctx, "signature status check failed", "signature", sub.Signature.String(), "error", err)
		return nil, false, nil
	}
	if status == nil {
		return nil, false, nil
	}
	if status.Err != nil {
		e := newError(KindBroadcast, ReasonTransactionFailed, fmt.Errorf("transaction failed on chain: %s", *status.Err))
		e.Signature = sub.Signature.String()
		return nil, true, e
	}
	if status.Confirmed() {
		return &Confirmation{Slot: status.Slot, Status: status.Confirmation, ConfirmedAt: time.Now()}, true, nil
	}
	return nil, false, nil
}
