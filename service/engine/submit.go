package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/mintctl/service/metrics"
	"github.com/brojonat/mintctl/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// DefaultSigningTimeout bounds the wait for the wallet.
const DefaultSigningTimeout = 15 * time.Second

// Wallet is the external signing boundary. SignTransaction must ask the
// user for consent on every call and add the wallet's signature to tx.
// A declined request returns an error wrapping ErrSigningRejected.
type Wallet interface {
	Address(ctx context.Context) (solanago.PublicKey, error)
	SignTransaction(ctx context.Context, tx *solanago.Transaction) error
}

// Submission is a broadcast transaction awaiting confirmation.
type Submission struct {
	Signature   solanago.Signature
	Blockhash   solana.Blockhash
	SubmittedAt time.Time
}

// Submitter signs and broadcasts envelopes. It broadcasts at most once per
// call and never retries.
type Submitter struct {
	chain          Chain
	wallet         Wallet
	signingTimeout time.Duration
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

func NewSubmitter(chain Chain, wallet Wallet, signingTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Submitter {
	if signingTimeout <= 0 {
		signingTimeout = DefaultSigningTimeout
	}
	return &Submitter{
		chain:          chain,
		wallet:         wallet,
		signingTimeout: signingTimeout,
		metrics:        m,
		logger:         logger,
	}
}

// Submit attaches a fresh blockhash, collects signatures and broadcasts.
func (s *Submitter) Submit(ctx context.Context, env *Envelope) (*Submission, error) {
	bh, err := s.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, networkError(err)
	}

	tx, err := solanago.NewTransaction(env.instructions, bh.Hash, solanago.TransactionPayer(env.FeePayer))
	if err != nil {
		return nil, fmt.Errorf("failed to assemble transaction: %w", err)
	}
	if len(env.signers) > 0 {
		signers := env.signers
		if _, err := tx.PartialSign(func(key solanago.PublicKey) *solanago.PrivateKey {
			for i := range signers {
				if signers[i].PublicKey().Equals(key) {
					return &signers[i]
				}
			}
			return nil
		}); err != nil {
			return nil, fmt.Errorf("failed to sign with envelope keys: %w", err)
		}
	}

	if err := s.sign(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.VerifySignatures(); err != nil {
		return nil, newError(KindSigning, ReasonSigningFailed, fmt.Errorf("transaction is not fully signed: %w", err))
	}

	// The fee payer's signature identifies the transaction whether or not
	// the broadcast call returns.
	pending := tx.Signatures[0]
	submittedAt := time.Now()
	sig, err := s.chain.SendTransaction(ctx, tx)
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			e := newError(KindBroadcast, ReasonBroadcastFailed, err)
			e.Signature = pending.String()
			return nil, e
		}
		e := newError(KindIndeterminate, ReasonBroadcastUnconfirmed, err)
		e.Signature = pending.String()
		return nil, e
	}

	s.logger.InfoContext(ctx, "transaction submitted",
		"operation", string(env.Operation),
		"signature", sig.String(),
		"last_valid_block_height", bh.LastValidBlockHeight,
	)
	return &Submission{Signature: sig, Blockhash: bh, SubmittedAt: submittedAt}, nil
}

// sign waits for the wallet under the signing timeout. A timed-out wait
// returns before any broadcast, even if the wallet later completes.
func (s *Submitter) sign(ctx context.Context, tx *solanago.Transaction) error {
	signCtx, cancel := context.WithTimeout(ctx, s.signingTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- s.wallet.SignTransaction(signCtx, tx) }()

	var err error
	select {
	case err = <-done:
	case <-signCtx.Done():
		err = signCtx.Err()
	}

	outcome, e := classifySigning(ctx, signCtx, err)
	s.metrics.RecordSigningWait(outcome, time.Since(start).Seconds())
	if e != nil {
		s.logger.WarnContext(ctx, "signing did not complete", "outcome", outcome, "error", err)
		return e
	}
	return nil
}

func classifySigning(ctx, signCtx context.Context, err error) (string, *Error) {
	switch {
	case err == nil:
		return "signed", nil
	case errors.Is(err, ErrSigningRejected):
		return "rejected", newError(KindSigning, ReasonSigningRejected, err)
	case ctx.Err() != nil:
		return "cancelled", newError(KindSigning, ReasonCancelled, ctx.Err())
	case errors.Is(signCtx.Err(), context.DeadlineExceeded):
		return "timeout", newError(KindSigning, ReasonSigningTimeout, fmt.Errorf("no signature within the signing window: %w", err))
	default:
		return "failed", newError(KindSigning, ReasonSigningFailed, err)
	}
}
