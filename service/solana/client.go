package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/mintctl/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.Account, error)
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetTokenAccountsByOwner(ctx context.Context, owner, programID solana.PublicKey) ([]*rpc.TokenAccount, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (*rpc.LatestBlockhashResult, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*rpc.SignatureStatusesResult, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// DefaultCallTimeout bounds a single RPC call when the caller does not
// configure one.
const DefaultCallTimeout = 10 * time.Second

// Client wraps the RPC client with domain-specific operations. Every call
// carries its own timeout so that a slow node surfaces as a network error
// at the call that stalled.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	timeout  time.Duration
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded. A zero timeout selects
// DefaultCallTimeout.
func NewClient(rpcClient RPCClient, endpoint string, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
		timeout:  timeout,
	}
}

// call runs one RPC under the per-call timeout and records its outcome.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil && !errors.Is(err, rpc.ErrNotFound) {
		status = "error"
		if strings.Contains(err.Error(), "429") {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
		c.logger.WarnContext(ctx, "solana rpc call failed",
			"method", method,
			"endpoint", c.endpoint,
			"error", err,
		)
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, duration)
	return err
}

// AccountInfo reads one account. It returns ErrAccountNotFound when the
// address is empty.
func (c *Client) AccountInfo(ctx context.Context, address solana.PublicKey) (*AccountInfo, error) {
	var acct *rpc.Account
	err := c.call(ctx, "GetAccountInfo", func(ctx context.Context) error {
		var err error
		acct, err = c.rpc.GetAccountInfo(ctx, address)
		return err
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && acct == nil) {
		return nil, fmt.Errorf("%s: %w", address, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	info := &AccountInfo{
		Address:  address,
		Owner:    acct.Owner,
		Lamports: acct.Lamports,
	}
	if acct.Data != nil {
		info.Data = acct.Data.GetBinary()
	}
	return info, nil
}

// Balance returns the lamport balance of address.
func (c *Client) Balance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	var lamports uint64
	err := c.call(ctx, "GetBalance", func(ctx context.Context) error {
		var err error
		lamports, err = c.rpc.GetBalance(ctx, address)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", address, err)
	}
	return lamports, nil
}

// TokenAccountsByOwner lists the holding accounts of owner under one token
// program.
func (c *Client) TokenAccountsByOwner(ctx context.Context, owner, programID solana.PublicKey) ([]AccountInfo, error) {
	var accounts []*rpc.TokenAccount
	err := c.call(ctx, "GetTokenAccountsByOwner", func(ctx context.Context) error {
		var err error
		accounts, err = c.rpc.GetTokenAccountsByOwner(ctx, owner, programID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list token accounts of %s: %w", owner, err)
	}

	out := make([]AccountInfo, 0, len(accounts))
	for _, ta := range accounts {
		if ta == nil {
			continue
		}
		info := AccountInfo{
			Address:  ta.Pubkey,
			Owner:    ta.Account.Owner,
			Lamports: ta.Account.Lamports,
		}
		if ta.Account.Data != nil {
			info.Data = ta.Account.Data.GetBinary()
		}
		out = append(out, info)
	}
	c.logger.DebugContext(ctx, "listed token accounts",
		"owner", owner.String(),
		"program", programID.String(),
		"count", len(out),
	)
	return out, nil
}

// RentExemption returns the minimum lamports an account of size bytes needs.
func (c *Client) RentExemption(ctx context.Context, size uint64) (uint64, error) {
	var lamports uint64
	err := c.call(ctx, "GetMinimumBalanceForRentExemption", func(ctx context.Context) error {
		var err error
		lamports, err = c.rpc.GetMinimumBalanceForRentExemption(ctx, size)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get rent exemption for %d bytes: %w", size, err)
	}
	return lamports, nil
}

// LatestBlockhash fetches a fresh blockhash and its validity window.
func (c *Client) LatestBlockhash(ctx context.Context) (Blockhash, error) {
	var res *rpc.LatestBlockhashResult
	err := c.call(ctx, "GetLatestBlockhash", func(ctx context.Context) error {
		var err error
		res, err = c.rpc.GetLatestBlockhash(ctx)
		return err
	})
	if err != nil {
		return Blockhash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return Blockhash{Hash: res.Blockhash, LastValidBlockHeight: res.LastValidBlockHeight}, nil
}

// BlockHeight returns the current block height.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.call(ctx, "GetBlockHeight", func(ctx context.Context) error {
		var err error
		height, err = c.rpc.GetBlockHeight(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get block height: %w", err)
	}
	return height, nil
}

// SendTransaction broadcasts a fully signed transaction exactly once.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := c.call(ctx, "SendTransaction", func(ctx context.Context) error {
		var err error
		sig, err = c.rpc.SendTransaction(ctx, tx)
		return err
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	c.logger.InfoContext(ctx, "transaction broadcast", "signature", sig.String())
	return sig, nil
}

// SignatureStatus returns the status of sig, or nil when the cluster has
// not seen it yet.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	var statuses []*rpc.SignatureStatusesResult
	err := c.call(ctx, "GetSignatureStatuses", func(ctx context.Context) error {
		var err error
		statuses, err = c.rpc.GetSignatureStatuses(ctx, sig)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}
	if len(statuses) == 0 || statuses[0] == nil {
		return nil, nil
	}
	s := statuses[0]
	out := &SignatureStatus{
		Slot:         s.Slot,
		Confirmation: string(s.ConfirmationStatus),
	}
	if s.Err != nil {
		msg := fmt.Sprintf("%v", s.Err)
		out.Err = &msg
	}
	return out, nil
}

// GetTransaction fetches and parses a confirmed transaction by signature.
// Versioned encoding is tried first; nodes that cannot serve it fall back
// to the legacy format.
func (c *Client) GetTransaction(ctx context.Context, sig solana.Signature) (*Transaction, error) {
	var result *rpc.GetTransactionResult
	err := c.call(ctx, "GetTransaction", func(ctx context.Context) error {
		var err error
		result, err = c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &[]uint64{0}[0],
		})
		return err
	})

	// Handle parsing errors for legacy transactions
	if err != nil && strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'") {
		c.logger.WarnContext(ctx, "could not parse as versioned tx, retrying as legacy",
			"signature", sig.String(),
		)
		err = c.call(ctx, "GetTransaction", func(ctx context.Context) error {
			var err error
			result, err = c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
				Encoding:   solana.EncodingBase64,
				Commitment: rpc.CommitmentConfirmed,
			})
			return err
		})
	}
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && result == nil) {
		return nil, fmt.Errorf("%s: %w", sig, ErrTransactionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", sig, err)
	}

	return parseTransactionFromResult(sig, result)
}
