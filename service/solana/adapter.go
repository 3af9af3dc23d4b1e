package solana

import (
	"context"
	"errors"
	"math/rand"
	"net/url"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// realRPCClient adapts the actual solana-go RPC client to our RPCClient interface.
// This adapter allows us to control the interface and makes testing easier.
type realRPCClient struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

// NewRPCClient creates a new RPCClient that wraps the solana-go RPC client.
// Reads use confirmed commitment so that state validated before building a
// transaction is not rolled back from under it.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURL string) RPCClient {
	return &realRPCClient{
		client:     rpc.New(rpcURL),
		commitment: rpc.CommitmentConfirmed,
	}
}

// SelectRandomEndpoint picks one of the configured RPC endpoints so that
// several processes sharing a config spread their load.
func SelectRandomEndpoint(endpoints []string) (string, error) {
	var usable []string
	for _, e := range endpoints {
		if e = strings.TrimSpace(e); e != "" {
			usable = append(usable, e)
		}
	}
	if len(usable) == 0 {
		return "", errors.New("no RPC endpoints configured")
	}
	return usable[rand.Intn(len(usable))], nil
}

// EndpointLabel shortens an RPC URL to a provider or cluster name for
// metrics labels, so API keys in the URL never become label values.
func EndpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	host := parsed.Hostname()
	for _, name := range []string{"helius", "quiknode", "alchemy", "triton", "rpcpool", "mainnet", "devnet", "testnet"} {
		if strings.Contains(host, name) {
			return name
		}
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "local"
	}
	return host
}

func (r *realRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.Account, error) {
	out, err := r.client.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: r.commitment,
	})
	if err != nil {
		return nil, err
	}
	return out.Value, nil
}

func (r *realRPCClient) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := r.client.GetBalance(ctx, account, r.commitment)
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

func (r *realRPCClient) GetTokenAccountsByOwner(
	ctx context.Context,
	owner solana.PublicKey,
	programID solana.PublicKey,
) ([]*rpc.TokenAccount, error) {
	out, err := r.client.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: &programID},
		&rpc.GetTokenAccountsOpts{Commitment: r.commitment, Encoding: solana.EncodingBase64},
	)
	if err != nil {
		return nil, err
	}
	return out.Value, nil
}

func (r *realRPCClient) GetMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	return r.client.GetMinimumBalanceForRentExemption(ctx, size, r.commitment)
}

func (r *realRPCClient) GetLatestBlockhash(ctx context.Context) (*rpc.LatestBlockhashResult, error) {
	out, err := r.client.GetLatestBlockhash(ctx, r.commitment)
	if err != nil {
		return nil, err
	}
	if out.Value == nil {
		return nil, errors.New("empty blockhash response")
	}
	return out.Value, nil
}

func (r *realRPCClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	return r.client.GetBlockHeight(ctx, r.commitment)
}

func (r *realRPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return r.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: r.commitment,
	})
}

func (r *realRPCClient) GetSignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*rpc.SignatureStatusesResult, error) {
	out, err := r.client.GetSignatureStatuses(ctx, true, sigs...)
	if err != nil {
		return nil, err
	}
	return out.Value, nil
}

func (r *realRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	return r.client.GetTransaction(ctx, signature, opts)
}
