package db

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/brojonat/mintctl/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a receipt does not exist.
var ErrNotFound = errors.New("receipt not found")

// Verification states of a receipt.
const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationRejected = "rejected"
)

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithMetrics records query durations on m.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

func (s *Store) observe(operation, table string, start time.Time, err error) {
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
}

// Migrate applies the embedded schema. Every statement is idempotent, so it
// is safe to run on each startup.
func (s *Store) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("failed to apply %s: %w", name, err)
		}
	}
	return nil
}

// Receipt is a confirmed token operation reported by a registered account.
type Receipt struct {
	Network            string
	Signature          string
	Operation          string
	Owner              string
	Mint               *string
	Account            *string
	Variant            string
	Params             json.RawMessage
	Touched            []string
	FeeLamports        int64
	Slot               int64
	SubmittedAt        time.Time
	ConfirmedAt        time.Time
	VerificationStatus string
	VerificationReason *string
	VerifiedAt         *time.Time
	CreatedAt          time.Time
}

// CreateReceiptParams contains the parameters for recording a receipt.
type CreateReceiptParams struct {
	Network     string
	Signature   string
	Operation   string
	Owner       string
	Mint        *string
	Account     *string
	Variant     string
	Params      json.RawMessage
	Touched     []string
	FeeLamports int64
	Slot        int64
	SubmittedAt time.Time
	ConfirmedAt time.Time
}

// ListReceiptsParams contains pagination parameters.
type ListReceiptsParams struct {
	Owner   string
	Network string
	Limit   int32
	Offset  int32
}

const receiptColumns = `network, signature, operation, owner, mint, account, variant, params, touched,
	fee_lamports, slot, submitted_at, confirmed_at, verification_status, verification_reason,
	verified_at, created_at`

// CreateReceipt inserts a receipt. Reporting the same (network, signature)
// twice is not an error: the stored receipt is returned and created is false.
func (s *Store) CreateReceipt(ctx context.Context, params CreateReceiptParams) (*Receipt, bool, error) {
	if params.Params == nil {
		params.Params = json.RawMessage("{}")
	}
	if params.Touched == nil {
		params.Touched = []string{}
	}
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO receipts (network, signature, operation, owner, mint, account, variant, params,
			touched, fee_lamports, slot, submitted_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (network, signature) DO NOTHING
		RETURNING `+receiptColumns,
		params.Network,
		params.Signature,
		params.Operation,
		params.Owner,
		pgtextFromStringPtr(params.Mint),
		pgtextFromStringPtr(params.Account),
		params.Variant,
		[]byte(params.Params),
		params.Touched,
		params.FeeLamports,
		params.Slot,
		pgtype.Timestamptz{Time: params.SubmittedAt, Valid: true},
		pgtype.Timestamptz{Time: params.ConfirmedAt, Valid: true},
	)
	r, err := scanReceipt(row)
	s.observe("insert", "receipts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := s.GetReceipt(ctx, params.Network, params.Signature)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// GetReceipt retrieves a receipt by network and signature.
func (s *Store) GetReceipt(ctx context.Context, network, signature string) (*Receipt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE network = $1 AND signature = $2`,
		network, signature)
	r, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListReceiptsByOwner retrieves an owner's receipts, newest first.
func (s *Store) ListReceiptsByOwner(ctx context.Context, params ListReceiptsParams) ([]*Receipt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+receiptColumns+` FROM receipts
		WHERE owner = $1 AND network = $2
		ORDER BY confirmed_at DESC, signature
		LIMIT $3 OFFSET $4`,
		params.Owner, params.Network, params.Limit, params.Offset)
	if err != nil {
		return nil, err
	}
	return collectReceipts(rows)
}

// CountReceiptsByOwner counts an owner's receipts.
func (s *Store) CountReceiptsByOwner(ctx context.Context, owner, network string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM receipts WHERE owner = $1 AND network = $2`,
		owner, network).Scan(&n)
	return n, err
}

// ListPendingReceipts returns unverified receipts confirmed after since,
// oldest first.
func (s *Store) ListPendingReceipts(ctx context.Context, network string, since time.Time, limit int32) ([]*Receipt, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+receiptColumns+` FROM receipts
		WHERE network = $1 AND verification_status = $2 AND confirmed_at >= $3
		ORDER BY confirmed_at
		LIMIT $4`,
		network, VerificationPending, pgtype.Timestamptz{Time: since, Valid: true}, limit)
	s.observe("list_pending", "receipts", start, err)
	if err != nil {
		return nil, err
	}
	return collectReceipts(rows)
}

// UpdateVerificationParams records the outcome of verifying a receipt.
type UpdateVerificationParams struct {
	Network    string
	Signature  string
	Status     string
	Reason     *string
	VerifiedAt time.Time
}

// UpdateVerification sets a receipt's verification outcome.
func (s *Store) UpdateVerification(ctx context.Context, params UpdateVerificationParams) (*Receipt, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE receipts
		SET verification_status = $3, verification_reason = $4, verified_at = $5
		WHERE network = $1 AND signature = $2
		RETURNING `+receiptColumns,
		params.Network,
		params.Signature,
		params.Status,
		pgtextFromStringPtr(params.Reason),
		pgtype.Timestamptz{Time: params.VerifiedAt, Valid: true},
	)
	r, err := scanReceipt(row)
	s.observe("update", "receipts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// FeeEntry is one verified service-fee payment.
type FeeEntry struct {
	Network    string
	Signature  string
	Operation  string
	Payer      string
	Treasury   string
	Lamports   int64
	RecordedAt time.Time
}

// RecordFee appends a fee entry. A repeated signature is ignored and
// reported as created == false.
func (s *Store) RecordFee(ctx context.Context, e FeeEntry) (bool, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO fee_ledger (network, signature, operation, payer, treasury, lamports)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (network, signature) DO NOTHING`,
		e.Network, e.Signature, e.Operation, e.Payer, e.Treasury, e.Lamports)
	s.observe("insert", "fee_ledger", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FeeTotal sums recorded fees for a network since the given time.
func (s *Store) FeeTotal(ctx context.Context, network string, since time.Time) (count int64, lamports int64, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(lamports), 0)::BIGINT FROM fee_ledger
		WHERE network = $1 AND recorded_at >= $2`,
		network, pgtype.Timestamptz{Time: since, Valid: true}).Scan(&count, &lamports)
	return count, lamports, err
}

func collectReceipts(rows pgx.Rows) ([]*Receipt, error) {
	defer rows.Close()
	var receipts []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var (
		r                             Receipt
		mint, account, reason         pgtype.Text
		params                        []byte
		submitted, confirmed, created pgtype.Timestamptz
		verified                      pgtype.Timestamptz
	)
	err := row.Scan(
		&r.Network, &r.Signature, &r.Operation, &r.Owner, &mint, &account, &r.Variant,
		&params, &r.Touched, &r.FeeLamports, &r.Slot, &submitted, &confirmed,
		&r.VerificationStatus, &reason, &verified, &created,
	)
	if err != nil {
		return nil, err
	}
	r.Mint = stringPtrFromPgtext(mint)
	r.Account = stringPtrFromPgtext(account)
	r.VerificationReason = stringPtrFromPgtext(reason)
	r.Params = json.RawMessage(params)
	r.SubmittedAt = submitted.Time
	r.ConfirmedAt = confirmed.Time
	r.VerifiedAt = timePtrFromPgTimestamptz(verified)
	r.CreatedAt = created.Time
	return &r, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
