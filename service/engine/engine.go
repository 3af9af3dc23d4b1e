// Package engine orchestrates token operations: it validates a request
// against fresh chain state, builds the fee-first instruction list,
// publishes metadata for new tokens, collects the wallet signature under a
// bounded wait, broadcasts once, waits for confirmation and reports the
// receipt, emitting a status event at every transition.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/mintctl/service/metrics"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// MetadataInput is the descriptive part of a new token.
type MetadataInput struct {
	Name        string
	Symbol      string
	Description string
	Image       []byte
	ImageName   string
}

// MetadataPublisher uploads a token's image and metadata document. Errors
// wrap ErrStorageQuote, ErrStorageFunding or ErrStorageUpload.
type MetadataPublisher interface {
	Publish(ctx context.Context, in MetadataInput) (*MetadataURIs, error)
}

type Config struct {
	// Network labels receipts, e.g. "mainnet" or "devnet".
	Network        string
	SigningTimeout time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

type Deps struct {
	Chain     Chain
	Wallet    Wallet
	Publisher MetadataPublisher
	Reporter  Reporter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Engine runs operations. It holds no per-operation state and may be
// shared; concurrent operations are neither serialized nor deduplicated.
type Engine struct {
	network   string
	wallet    Wallet
	reader    *Reader
	builder   *Builder
	submitter *Submitter
	waiter    *Waiter
	publisher MetadataPublisher
	reporter  Reporter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(cfg Config, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		network:   cfg.Network,
		wallet:    deps.Wallet,
		reader:    NewReader(deps.Chain, logger),
		builder:   NewBuilder(),
		submitter: NewSubmitter(deps.Chain, deps.Wallet, cfg.SigningTimeout, deps.Metrics, logger),
		waiter:    NewWaiter(deps.Chain, cfg.ConfirmTimeout, cfg.PollInterval, deps.Metrics, logger),
		publisher: deps.Publisher,
		reporter:  deps.Reporter,
		metrics:   deps.Metrics,
		logger:    logger,
	}
}

// Result is the outcome of a confirmed operation. Persisted is false for
// guests and when the backend write failed.
type Result struct {
	OperationID string
	Receipt     Receipt
	Persisted   bool
}

// Preview is what an operation would cost and act on, without signing.
type Preview struct {
	Fee              Fee
	RequiredLamports uint64
	Snapshot         *Snapshot
}

// run tracks one operation's status stream.
type run struct {
	id    string
	op    Operation
	sink  Sink
	start time.Time
	sig   string
	mint  string
}

func (r *run) emit(ctx context.Context, stage Stage) {
	r.sink.Emit(ctx, Event{
		OperationID: r.id,
		Operation:   r.op,
		Stage:       stage,
		Signature:   r.sig,
		Mint:        r.mint,
		At:          time.Now().UTC(),
	})
}

// Execute runs req to completion. On a persistence failure both the result
// and the error are returned: the operation succeeded on chain.
func (e *Engine) Execute(ctx context.Context, sess Session, req Request, sink Sink) (*Result, error) {
	if sink == nil {
		sink = SinkFunc(func(context.Context, Event) {})
	}
	if req == nil {
		return nil, validationError(ReasonInvalidRequest, "request is nil")
	}
	r := &run{id: uuid.NewString(), op: req.Operation(), sink: sink, start: time.Now()}
	logger := e.logger.With("operation_id", r.id, "operation", string(r.op))

	r.emit(ctx, StageValidating)
	if err := CheckRequest(req); err != nil {
		return nil, e.fail(ctx, r, logger, err)
	}
	if targetsMint(req) {
		r.mint = req.Target().String()
	}

	requester, err := e.requester(ctx)
	if err != nil {
		return nil, e.fail(ctx, r, logger, err)
	}
	fee, err := FeeFor(r.op)
	if err != nil {
		return nil, e.fail(ctx, r, logger, validationError(ReasonInvalidRequest, "%v", err))
	}
	snap, err := e.check(ctx, requester, req, fee)
	if err != nil {
		return nil, e.fail(ctx, r, logger, err)
	}

	var uris *MetadataURIs
	if create, ok := req.(CreateTokenRequest); ok {
		r.emit(ctx, StagePublishingMetadata)
		if uris, err = e.publish(ctx, create); err != nil {
			return nil, e.fail(ctx, r, logger, err)
		}
		// Publishing takes a while; state is read again before building.
		if snap, err = e.check(ctx, requester, req, fee); err != nil {
			return nil, e.fail(ctx, r, logger, err)
		}
	}

	r.emit(ctx, StageBuilding)
	env, err := e.builder.Build(req, snap, fee, uris)
	if err != nil {
		return nil, e.fail(ctx, r, logger, err)
	}
	if !env.Mint.IsZero() {
		r.mint = env.Mint.String()
	}

	r.emit(ctx, StageAwaitingSignature)
	sub, err := e.submitter.Submit(ctx, env)
	if err != nil {
		return nil, e.fail(ctx, r, logger, err)
	}
	r.sig = sub.Signature.String()

	r.emit(ctx, StageConfirming)
	conf, err := e.waiter.Wait(ctx, sub)
	if err != nil {
		return nil, e.fail(ctx, r, logger, err)
	}

	res := &Result{
		OperationID: r.id,
		Receipt:     newReceipt(e.network, req, env, sub, conf, sess.Guest()),
	}
	e.metrics.RecordFee(string(r.op), fee.Lamports)

	if !sess.Guest() {
		r.emit(ctx, StagePersisting)
		if err := e.report(ctx, *sess.Credential, res.Receipt); err != nil {
			return res, e.fail(ctx, r, logger, err)
		}
		res.Persisted = true
	}

	r.emit(ctx, StageDone)
	e.metrics.RecordOperation(string(r.op), "success", time.Since(r.start).Seconds())
	logger.InfoContext(ctx, "operation confirmed",
		"signature", r.sig,
		"mint", r.mint,
		"slot", conf.Slot,
		"guest", sess.Guest(),
	)
	return res, nil
}

// Preview reads and validates req as the wallet's address would see it
// right now.
func (e *Engine) Preview(ctx context.Context, req Request) (*Preview, error) {
	if err := CheckRequest(req); err != nil {
		return nil, err
	}
	requester, err := e.requester(ctx)
	if err != nil {
		return nil, err
	}
	fee, err := FeeFor(req.Operation())
	if err != nil {
		return nil, validationError(ReasonInvalidRequest, "%v", err)
	}
	snap, err := e.check(ctx, requester, req, fee)
	if err != nil {
		return nil, err
	}
	return &Preview{Fee: fee, RequiredLamports: requiredLamports(req.Operation(), snap, fee), Snapshot: snap}, nil
}

// Holdings lists owner's holding accounts under both token programs.
func (e *Engine) Holdings(ctx context.Context, owner solanago.PublicKey) ([]Holding, error) {
	return e.reader.ListHoldings(ctx, owner)
}

func (e *Engine) requester(ctx context.Context) (solanago.PublicKey, error) {
	if e.wallet == nil {
		return solanago.PublicKey{}, newError(KindSigning, ReasonWalletUnavailable, errors.New("no wallet configured"))
	}
	addr, err := e.wallet.Address(ctx)
	if err != nil {
		return solanago.PublicKey{}, newError(KindSigning, ReasonWalletUnavailable, err)
	}
	return addr, nil
}

func (e *Engine) check(ctx context.Context, requester solanago.PublicKey, req Request, fee Fee) (*Snapshot, error) {
	snap, err := e.reader.Read(ctx, requester, req)
	if err != nil {
		return nil, err
	}
	if err := Validate(req, snap, fee); err != nil {
		return nil, err
	}
	return snap, nil
}

func (e *Engine) publish(ctx context.Context, r CreateTokenRequest) (*MetadataURIs, error) {
	if e.publisher == nil {
		return nil, newError(KindStorage, ReasonStorageUploadFailed, errors.New("no metadata publisher configured"))
	}
	uris, err := e.publisher.Publish(ctx, MetadataInput{
		Name:        r.Name,
		Symbol:      r.Symbol,
		Description: r.Description,
		Image:       r.Image,
		ImageName:   r.ImageName,
	})
	switch {
	case err == nil:
		return uris, nil
	case errors.Is(err, ErrStorageQuote):
		return nil, newError(KindStorage, ReasonStorageQuoteFailed, err)
	case errors.Is(err, ErrStorageFunding):
		return nil, newError(KindStorage, ReasonStorageFundingFailed, err)
	default:
		return nil, newError(KindStorage, ReasonStorageUploadFailed, err)
	}
}

func (e *Engine) report(ctx context.Context, cred Credential, receipt Receipt) error {
	if e.reporter == nil {
		return newError(KindPersistence, ReasonPersistenceFailed, errors.New("no backend of record configured"))
	}
	if err := e.reporter.Report(ctx, cred, receipt); err != nil {
		return newError(KindPersistence, ReasonPersistenceFailed, err)
	}
	return nil
}

// fail turns err into the terminal engine error of r, emits the failed
// event and records the outcome.
func (e *Engine) fail(ctx context.Context, r *run, logger *slog.Logger, err error) error {
	ee, ok := AsError(err)
	if !ok {
		ee = newError(KindValidation, ReasonInvalidRequest, err)
	}
	if ee.Operation == "" {
		ee.Operation = r.op
	}
	if ee.Signature == "" {
		ee.Signature = r.sig
	}
	if ee.Signature != "" {
		r.sig = ee.Signature
	}
	if ee.Mint == "" {
		ee.Mint = r.mint
	}

	r.sink.Emit(ctx, Event{
		OperationID: r.id,
		Operation:   r.op,
		Stage:       StageFailed,
		Signature:   ee.Signature,
		Mint:        r.mint,
		ErrorKind:   ee.Kind,
		Reason:      ee.Reason,
		Message:     ee.Error(),
		At:          time.Now().UTC(),
	})
	e.metrics.RecordOperation(string(r.op), string(ee.Kind), time.Since(r.start).Seconds())

	level := slog.LevelWarn
	if ee.Kind == KindIndeterminate || ee.Kind == KindPersistence {
		level = slog.LevelError
	}
	logger.Log(ctx, level, "operation failed",
		"kind", string(ee.Kind),
		"reason", string(ee.Reason),
		"signature", ee.Signature,
		"mint", ee.Mint,
		"error", fmt.Sprint(ee.Err),
	)
	return ee
}
