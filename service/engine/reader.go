package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brojonat/mintctl/service/solana"
	"github.com/brojonat/mintctl/service/tokenprog"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"golang.org/x/sync/errgroup"
)

// Chain is the subset of the network client the engine uses. It is
// satisfied by *solana.Client; every call applies its own timeout.
type Chain interface {
	AccountInfo(ctx context.Context, address solanago.PublicKey) (*solana.AccountInfo, error)
	Balance(ctx context.Context, address solanago.PublicKey) (uint64, error)
	TokenAccountsByOwner(ctx context.Context, owner, programID solanago.PublicKey) ([]solana.AccountInfo, error)
	RentExemption(ctx context.Context, size uint64) (uint64, error)
	LatestBlockhash(ctx context.Context) (solana.Blockhash, error)
	BlockHeight(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error)
	SignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SignatureStatus, error)
}

// Reader produces snapshots from fresh network reads. It never caches.
type Reader struct {
	chain  Chain
	logger *slog.Logger
}

func NewReader(chain Chain, logger *slog.Logger) *Reader {
	return &Reader{chain: chain, logger: logger}
}

func networkError(err error) *Error {
	return newError(KindNetwork, ReasonNetworkUnavailable, err)
}

// Read returns the snapshot req needs, as seen by requester right now.
func (r *Reader) Read(ctx context.Context, requester solanago.PublicKey, req Request) (*Snapshot, error) {
	lamports, err := r.chain.Balance(ctx, requester)
	if err != nil {
		return nil, networkError(err)
	}
	snap := &Snapshot{Requester: requester, Lamports: lamports}

	if create, ok := req.(CreateTokenRequest); ok {
		snap.Variant = create.Variant
		if snap.Variant == tokenprog.VariantUnknown {
			snap.Variant = tokenprog.VariantClassic
		}
		if err := r.readRents(ctx, snap); err != nil {
			return nil, err
		}
		return snap, nil
	}

	target := req.Target()
	info, variant, err := r.readTokenAccount(ctx, target)
	if err != nil {
		return nil, err
	}
	snap.Variant = variant

	isMint := tokenprog.IsMintData(info.Data)
	if targetsMint(req) {
		if !isMint {
			return nil, validationError(ReasonWrongAccountType, "%s is a holding account, not a mint", target)
		}
		if err := fillMint(snap, target, info.Data); err != nil {
			return nil, err
		}
		return snap, nil
	}

	if isMint {
		return nil, validationError(ReasonWrongAccountType, "%s is a mint, not a holding account", target)
	}
	acct, err := tokenprog.DecodeAccount(info.Data)
	if err != nil {
		return nil, validationError(ReasonWrongAccountType, "%s: %v", target, err)
	}
	snap.Account = &AccountState{
		Address:         target,
		Owner:           acct.Owner,
		Balance:         acct.Amount,
		Frozen:          acct.State == token.Frozen,
		IsNative:        acct.IsNative != nil,
		Delegate:        acct.Delegate,
		DelegatedAmount: acct.DelegatedAmount,
		CloseAuthority:  acct.CloseAuthority,
	}

	mintInfo, mintVariant, err := r.readTokenAccount(ctx, acct.Mint)
	if err != nil {
		return nil, err
	}
	if mintVariant != variant {
		return nil, validationError(ReasonVariantMismatch,
			"account %s is owned by the %s program but its mint by the %s program", target, variant, mintVariant)
	}
	if err := fillMint(snap, acct.Mint, mintInfo.Data); err != nil {
		return nil, err
	}
	return snap, nil
}

// readTokenAccount reads address and resolves which token program owns it.
func (r *Reader) readTokenAccount(ctx context.Context, address solanago.PublicKey) (*solana.AccountInfo, tokenprog.Variant, error) {
	info, err := r.chain.AccountInfo(ctx, address)
	if errors.Is(err, solana.ErrAccountNotFound) {
		return nil, tokenprog.VariantUnknown, validationError(ReasonNotFound, "no account at %s", address)
	}
	if err != nil {
		return nil, tokenprog.VariantUnknown, networkError(err)
	}
	variant, ok := tokenprog.VariantOf(info.Owner)
	if !ok {
		return nil, tokenprog.VariantUnknown, validationError(ReasonNotFound,
			"%s is not owned by a token program (owner %s)", address, info.Owner)
	}
	return info, variant, nil
}

func fillMint(snap *Snapshot, address solanago.PublicKey, data []byte) error {
	mint, err := tokenprog.DecodeMint(data)
	if err != nil {
		return validationError(ReasonWrongAccountType, "%s: %v", address, err)
	}
	snap.Mint = address
	snap.MintAuthority = mint.MintAuthority
	snap.FreezeAuthority = mint.FreezeAuthority
	snap.Decimals = mint.Decimals
	snap.Supply = mint.Supply
	return nil
}

func (r *Reader) readRents(ctx context.Context, snap *Snapshot) error {
	var err error
	if snap.MintRent, err = r.chain.RentExemption(ctx, tokenprog.MintSize); err != nil {
		return networkError(err)
	}
	if snap.AccountRent, err = r.chain.RentExemption(ctx, tokenprog.AccountSize); err != nil {
		return networkError(err)
	}
	if snap.MetadataRent, err = r.chain.RentExemption(ctx, tokenprog.MetadataAccountSize); err != nil {
		return networkError(err)
	}
	return nil
}

// ListHoldings returns every holding account of owner under both token
// programs. The two programs are probed concurrently.
func (r *Reader) ListHoldings(ctx context.Context, owner solanago.PublicKey) ([]Holding, error) {
	var (
		mu       sync.Mutex
		holdings []Holding
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, v := range tokenprog.Variants {
		v := v
		g.Go(func() error {
			accounts, err := r.chain.TokenAccountsByOwner(gctx, owner, v.ProgramID())
			if err != nil {
				return fmt.Errorf("%s program: %w", v, err)
			}
			found := make([]Holding, 0, len(accounts))
			for _, info := range accounts {
				acct, err := tokenprog.DecodeAccount(info.Data)
				if err != nil {
					r.logger.WarnContext(gctx, "skipping undecodable token account",
						"address", info.Address.String(),
						"error", err,
					)
					continue
				}
				found = append(found, Holding{
					Address:  info.Address,
					Mint:     acct.Mint,
					Variant:  v,
					Balance:  acct.Amount,
					Frozen:   acct.State == token.Frozen,
					Delegate: acct.Delegate,
				})
			}
			mu.Lock()
			holdings = append(holdings, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, networkError(err)
	}
	sortHoldings(holdings)
	return holdings, nil
}
