package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brojonat/mintctl/service/solana"
	"github.com/brojonat/mintctl/service/tokenprog"
	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/stretchr/testify/require"
)

// fakeChain implements Chain for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type fakeChain struct {
	mu        sync.Mutex
	accounts  map[solanago.PublicKey]*solana.AccountInfo
	holdings  map[solanago.PublicKey][]solana.AccountInfo
	lamports  uint64
	blockhash solana.Blockhash
	// heights and statuses are consumed one per call; the last value repeats.
	heights   []uint64
	statuses  []*solana.SignatureStatus
	readErr   error
	holdErr   error
	sendErr   error
	statusErr error
	sent      []*solanago.Transaction
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		accounts: map[solanago.PublicKey]*solana.AccountInfo{},
		holdings: map[solanago.PublicKey][]solana.AccountInfo{},
		lamports: 10 * solanago.LAMPORTS_PER_SOL,
		blockhash: solana.Blockhash{
			Hash:                 solanago.MustHashFromBase58("4sGjMW1sUnHzSxGspuhpqLDx6wiyjNtZAMdL4VZHirAn"),
			LastValidBlockHeight: 150,
		},
		heights:  []uint64{100},
		statuses: []*solana.SignatureStatus{{Slot: 42, Confirmation: "confirmed"}},
	}
}

func (c *fakeChain) put(address, owner solanago.PublicKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[address] = &solana.AccountInfo{Address: address, Owner: owner, Lamports: 2_039_280, Data: data}
}

func (c *fakeChain) AccountInfo(ctx context.Context, address solanago.PublicKey) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	info, ok := c.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%s: %w", address, solana.ErrAccountNotFound)
	}
	cp := *info
	return &cp, nil
}

func (c *fakeChain) Balance(ctx context.Context, address solanago.PublicKey) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lamports, c.readErr
}

func (c *fakeChain) TokenAccountsByOwner(ctx context.Context, owner, programID solanago.PublicKey) ([]solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holdErr != nil {
		return nil, c.holdErr
	}
	return c.holdings[programID], nil
}

func (c *fakeChain) RentExemption(ctx context.Context, size uint64) (uint64, error) {
	return (size + 128) * 6960, nil
}

func (c *fakeChain) LatestBlockhash(ctx context.Context) (solana.Blockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockhash, c.readErr
}

func (c *fakeChain) BlockHeight(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.heights[0]
	if len(c.heights) > 1 {
		c.heights = c.heights[1:]
	}
	return h, nil
}

func (c *fakeChain) SendTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tx)
	if c.sendErr != nil {
		return solanago.Signature{}, c.sendErr
	}
	return tx.Signatures[0], nil
}

func (c *fakeChain) SignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusErr != nil {
		return nil, c.statusErr
	}
	s := c.statuses[0]
	if len(c.statuses) > 1 {
		c.statuses = c.statuses[1:]
	}
	return s, nil
}

func (c *fakeChain) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// fakeWallet signs with an in-memory key.
type fakeWallet struct {
	key     solanago.PrivateKey
	reject  bool
	delay   time.Duration
	err     error
	addrErr error
	calls   atomic.Int32
}

func newFakeWallet(t *testing.T) *fakeWallet {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	return &fakeWallet{key: key}
}

func (w *fakeWallet) Address(ctx context.Context) (solanago.PublicKey, error) {
	if w.addrErr != nil {
		return solanago.PublicKey{}, w.addrErr
	}
	return w.key.PublicKey(), nil
}

func (w *fakeWallet) SignTransaction(ctx context.Context, tx *solanago.Transaction) error {
	w.calls.Add(1)
	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if w.reject {
		return fmt.Errorf("user declined: %w", ErrSigningRejected)
	}
	if w.err != nil {
		return w.err
	}
	pub := w.key.PublicKey()
	_, err := tx.PartialSign(func(k solanago.PublicKey) *solanago.PrivateKey {
		if k.Equals(pub) {
			return &w.key
		}
		return nil
	})
	return err
}

type fakePublisher struct {
	err   error
	calls int
}

func (p *fakePublisher) Publish(ctx context.Context, in MetadataInput) (*MetadataURIs, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &MetadataURIs{
		Image:    "https://arweave.net/image-" + in.Symbol,
		Metadata: "https://arweave.net/meta-" + in.Symbol,
	}, nil
}

type fakeReporter struct {
	err      error
	receipts []Receipt
	creds    []Credential
}

func (r *fakeReporter) Report(ctx context.Context, cred Credential, receipt Receipt) error {
	if r.err != nil {
		return r.err
	}
	r.creds = append(r.creds, cred)
	r.receipts = append(r.receipts, receipt)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newKey(t *testing.T) solanago.PublicKey {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	return key.PublicKey()
}

func mintData(t *testing.T, mintAuthority, freezeAuthority *solanago.PublicKey, decimals uint8, supply uint64) []byte {
	t.Helper()
	raw, err := bin.MarshalBin(token.Mint{
		MintAuthority:   mintAuthority,
		Supply:          supply,
		Decimals:        decimals,
		IsInitialized:   true,
		FreezeAuthority: freezeAuthority,
	})
	require.NoError(t, err)
	require.Len(t, raw, tokenprog.MintSize)
	return raw
}

type accountOpts struct {
	amount         uint64
	frozen         bool
	delegate       *solanago.PublicKey
	closeAuthority *solanago.PublicKey
}

func accountData(t *testing.T, mint, owner solanago.PublicKey, o accountOpts) []byte {
	t.Helper()
	state := token.Initialized
	if o.frozen {
		state = token.Frozen
	}
	acct := token.Account{
		Mint:           mint,
		Owner:          owner,
		Amount:         o.amount,
		Delegate:       o.delegate,
		State:          state,
		CloseAuthority: o.closeAuthority,
	}
	if o.delegate != nil {
		acct.DelegatedAmount = 10
	}
	raw, err := bin.MarshalBin(acct)
	require.NoError(t, err)
	require.Len(t, raw, tokenprog.AccountSize)
	return raw
}

// fixture is a mint and a holding account of the wallet under one variant.
type fixture struct {
	chain   *fakeChain
	wallet  *fakeWallet
	variant tokenprog.Variant
	mint    solanago.PublicKey
	account solanago.PublicKey
}

type fixtureOpts struct {
	mintAuthority   *solanago.PublicKey
	freezeAuthority *solanago.PublicKey
	noMintAuthority bool
	noFreeze        bool
	account         accountOpts
	accountOwner    *solanago.PublicKey
}

func newFixture(t *testing.T, v tokenprog.Variant, o fixtureOpts) *fixture {
	t.Helper()
	f := &fixture{
		chain:   newFakeChain(),
		wallet:  newFakeWallet(t),
		variant: v,
		mint:    newKey(t),
		account: newKey(t),
	}
	me := f.wallet.key.PublicKey()

	mintAuth, freezeAuth := &me, &me
	if o.mintAuthority != nil {
		mintAuth = o.mintAuthority
	}
	if o.freezeAuthority != nil {
		freezeAuth = o.freezeAuthority
	}
	if o.noMintAuthority {
		mintAuth = nil
	}
	if o.noFreeze {
		freezeAuth = nil
	}
	owner := me
	if o.accountOwner != nil {
		owner = *o.accountOwner
	}
	f.chain.put(f.mint, v.ProgramID(), mintData(t, mintAuth, freezeAuth, 6, 1_000_000))
	f.chain.put(f.account, v.ProgramID(), accountData(t, f.mint, owner, o.account))
	return f
}

func (f *fixture) engine(pub MetadataPublisher, rep Reporter) *Engine {
	return New(Config{
		Network:        "devnet",
		SigningTimeout: time.Second,
		ConfirmTimeout: 2 * time.Second,
		PollInterval:   5 * time.Millisecond,
	}, Deps{
		Chain:     f.chain,
		Wallet:    f.wallet,
		Publisher: pub,
		Reporter:  rep,
		Logger:    discardLogger(),
	})
}

var errBoom = errors.New("boom")
