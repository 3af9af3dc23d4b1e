package engine

import (
	"context"
	"testing"

	"github.com/brojonat/mintctl/service/tokenprog"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RuleTable(t *testing.T) {
	someoneElse := solanago.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	tests := []struct {
		name   string
		opts   fixtureOpts
		req    func(f *fixture) Request
		reason Reason
	}{
		{
			name:   "revoke mint authority already revoked",
			opts:   fixtureOpts{noMintAuthority: true},
			req:    func(f *fixture) Request { return RevokeMintAuthorityRequest{Mint: f.mint} },
			reason: ReasonAlreadyRevoked,
		},
		{
			name:   "revoke mint authority by non-authority",
			opts:   fixtureOpts{mintAuthority: &someoneElse},
			req:    func(f *fixture) Request { return RevokeMintAuthorityRequest{Mint: f.mint} },
			reason: ReasonNotAuthority,
		},
		{
			name:   "revoke freeze authority already revoked",
			opts:   fixtureOpts{noFreeze: true},
			req:    func(f *fixture) Request { return RevokeFreezeAuthorityRequest{Mint: f.mint} },
			reason: ReasonAlreadyRevoked,
		},
		{
			name:   "revoke freeze authority by non-authority",
			opts:   fixtureOpts{freezeAuthority: &someoneElse},
			req:    func(f *fixture) Request { return RevokeFreezeAuthorityRequest{Mint: f.mint} },
			reason: ReasonNotAuthority,
		},
		{
			name:   "freeze without freeze authority",
			opts:   fixtureOpts{noFreeze: true},
			req:    func(f *fixture) Request { return FreezeAccountRequest{Account: f.account} },
			reason: ReasonNoFreezeAuthority,
		},
		{
			name:   "freeze already frozen",
			opts:   fixtureOpts{account: accountOpts{frozen: true}},
			req:    func(f *fixture) Request { return FreezeAccountRequest{Account: f.account} },
			reason: ReasonAlreadyFrozen,
		},
		{
			name:   "freeze by non-authority",
			opts:   fixtureOpts{freezeAuthority: &someoneElse},
			req:    func(f *fixture) Request { return FreezeAccountRequest{Account: f.account} },
			reason: ReasonNotAuthority,
		},
		{
			name:   "thaw without freeze authority",
			opts:   fixtureOpts{noFreeze: true, account: accountOpts{frozen: true}},
			req:    func(f *fixture) Request { return ThawAccountRequest{Account: f.account} },
			reason: ReasonNoFreezeAuthority,
		},
		{
			name:   "thaw not frozen",
			req:    func(f *fixture) Request { return ThawAccountRequest{Account: f.account} },
			reason: ReasonNotFrozen,
		},
		{
			name: "set owner without successor",
			req: func(f *fixture) Request {
				return SetAuthorityRequest{Address: f.account, Authority: tokenprog.AuthorityAccountOwner}
			},
			reason: ReasonMissingSuccessor,
		},
		{
			name: "set mint authority already revoked",
			opts: fixtureOpts{noMintAuthority: true},
			req: func(f *fixture) Request {
				return SetAuthorityRequest{Address: f.mint, Authority: tokenprog.AuthorityMintTokens, NewAuthority: &someoneElse}
			},
			reason: ReasonAlreadyRevoked,
		},
		{
			name: "set owner by non-owner",
			opts: fixtureOpts{accountOwner: &someoneElse},
			req: func(f *fixture) Request {
				return SetAuthorityRequest{Address: f.account, Authority: tokenprog.AuthorityAccountOwner, NewAuthority: &someoneElse}
			},
			reason: ReasonNotAuthority,
		},
		{
			name: "set close authority on frozen account",
			opts: fixtureOpts{account: accountOpts{frozen: true}},
			req: func(f *fixture) Request {
				return SetAuthorityRequest{Address: f.account, Authority: tokenprog.AuthorityCloseAccount}
			},
			reason: ReasonAccountFrozen,
		},
		{
			name: "approve by non-owner",
			opts: fixtureOpts{accountOwner: &someoneElse},
			req: func(f *fixture) Request {
				return ApproveDelegateRequest{Account: f.account, Delegate: someoneElse, Amount: 1}
			},
			reason: ReasonNotAuthority,
		},
		{
			name: "approve on frozen account",
			opts: fixtureOpts{account: accountOpts{frozen: true}},
			req: func(f *fixture) Request {
				return ApproveDelegateRequest{Account: f.account, Delegate: someoneElse, Amount: 1}
			},
			reason: ReasonAccountFrozen,
		},
		{
			name:   "revoke delegate with none set",
			req:    func(f *fixture) Request { return RevokeDelegateRequest{Account: f.account} },
			reason: ReasonNoDelegate,
		},
		{
			name:   "revoke delegate by stranger",
			opts:   fixtureOpts{accountOwner: &someoneElse, account: accountOpts{delegate: &someoneElse}},
			req:    func(f *fixture) Request { return RevokeDelegateRequest{Account: f.account} },
			reason: ReasonNotAuthority,
		},
		{
			name:   "close with balance",
			opts:   fixtureOpts{account: accountOpts{amount: 1}},
			req:    func(f *fixture) Request { return CloseAccountRequest{Account: f.account} },
			reason: ReasonNonZeroBalance,
		},
		{
			name:   "close by owner when close authority is set",
			opts:   fixtureOpts{account: accountOpts{closeAuthority: &someoneElse}},
			req:    func(f *fixture) Request { return CloseAccountRequest{Account: f.account} },
			reason: ReasonNotAuthority,
		},
		{
			name:   "approve zero amount",
			req:    func(f *fixture) Request { return ApproveDelegateRequest{Account: f.account, Delegate: someoneElse} },
			reason: ReasonInvalidRequest,
		},
		{
			name:   "mint operation on holding account",
			req:    func(f *fixture) Request { return RevokeMintAuthorityRequest{Mint: f.account} },
			reason: ReasonWrongAccountType,
		},
		{
			name:   "account operation on mint",
			req:    func(f *fixture) Request { return FreezeAccountRequest{Account: f.mint} },
			reason: ReasonWrongAccountType,
		},
	}

	for _, v := range tokenprog.Variants {
		for _, tt := range tests {
			t.Run(v.String()+"/"+tt.name, func(t *testing.T) {
				f := newFixture(t, v, tt.opts)
				e := f.engine(&fakePublisher{}, &fakeReporter{})

				_, err := e.Preview(context.Background(), tt.req(f))
				require.Error(t, err)
				assert.Equal(t, KindValidation, KindOf(err))
				assert.Equal(t, tt.reason, ReasonOf(err))
				assert.Zero(t, f.chain.sentCount())
			})
		}
	}
}

func TestValidate_LegalOperations(t *testing.T) {
	for _, v := range tokenprog.Variants {
		t.Run(v.String(), func(t *testing.T) {
			someone := newKey(t)
			f := newFixture(t, v, fixtureOpts{})
			me := f.wallet.key.PublicKey()
			e := f.engine(&fakePublisher{}, &fakeReporter{})
			ctx := context.Background()

			for _, req := range []Request{
				RevokeMintAuthorityRequest{Mint: f.mint},
				RevokeFreezeAuthorityRequest{Mint: f.mint},
				FreezeAccountRequest{Account: f.account},
				SetAuthorityRequest{Address: f.mint, Authority: tokenprog.AuthorityMintTokens, NewAuthority: &someone},
				SetAuthorityRequest{Address: f.mint, Authority: tokenprog.AuthorityFreezeAccount},
				SetAuthorityRequest{Address: f.account, Authority: tokenprog.AuthorityCloseAccount, NewAuthority: &someone},
				ApproveDelegateRequest{Account: f.account, Delegate: someone, Amount: 5},
				CloseAccountRequest{Account: f.account},
			} {
				_, err := e.Preview(ctx, req)
				assert.NoError(t, err, req.Operation())
			}

			// Delegates may revoke themselves.
			d := newFixture(t, v, fixtureOpts{accountOwner: &someone, account: accountOpts{delegate: &me}})
			d.wallet = f.wallet
			_, err := d.engine(nil, nil).Preview(ctx, RevokeDelegateRequest{Account: d.account})
			assert.NoError(t, err)

			// Frozen accounts can be thawed.
			fr := newFixture(t, v, fixtureOpts{account: accountOpts{frozen: true}})
			_, err = fr.engine(nil, nil).Preview(ctx, ThawAccountRequest{Account: fr.account})
			assert.NoError(t, err)

			// The close authority, not the owner, closes.
			ca := newFixture(t, v, fixtureOpts{accountOwner: &someone})
			caMe := ca.wallet.key.PublicKey()
			ca.chain.put(ca.account, v.ProgramID(), accountData(t, ca.mint, someone, accountOpts{closeAuthority: &caMe}))
			_, err = ca.engine(nil, nil).Preview(ctx, CloseAccountRequest{Account: ca.account})
			assert.NoError(t, err)
		})
	}
}

func TestValidate_InsufficientFunds(t *testing.T) {
	f := newFixture(t, tokenprog.VariantClassic, fixtureOpts{})
	f.chain.lamports = 1_000_000
	e := f.engine(nil, nil)

	_, err := e.Preview(context.Background(), FreezeAccountRequest{Account: f.account})
	assert.Equal(t, ReasonInsufficientFunds, ReasonOf(err))

	// Creation also needs the rent of the accounts it creates.
	f.chain.lamports = 50_010_000
	_, err = e.Preview(context.Background(), CreateTokenRequest{Name: "A", Symbol: "A", Supply: "1", Image: []byte{1}})
	assert.Equal(t, ReasonInsufficientFunds, ReasonOf(err))
}

func TestValidate_SupplyOverflow(t *testing.T) {
	f := newFixture(t, tokenprog.VariantClassic, fixtureOpts{})
	_, err := f.engine(nil, nil).Preview(context.Background(),
		CreateTokenRequest{Name: "Big", Symbol: "BIG", Decimals: 18, Supply: "100", Image: []byte{1}})
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, ReasonSupplyOverflow, ReasonOf(err))
}

func TestCheckRequest(t *testing.T) {
	img := []byte{1}
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"valid create", CreateTokenRequest{Name: "Test", Symbol: "TST", Supply: "10", Image: img}, true},
		{"missing name", CreateTokenRequest{Symbol: "TST", Supply: "10", Image: img}, false},
		{"long symbol", CreateTokenRequest{Name: "Test", Symbol: "ABCDEFGHIJK", Supply: "10", Image: img}, false},
		{"multibyte name over 32 bytes", CreateTokenRequest{Name: "ééééééééééééééééé", Symbol: "E", Supply: "10", Image: img}, false},
		{"decimals over 18", CreateTokenRequest{Name: "Test", Symbol: "TST", Decimals: 19, Supply: "10", Image: img}, false},
		{"non-numeric supply", CreateTokenRequest{Name: "Test", Symbol: "TST", Supply: "1e6", Image: img}, false},
		{"empty image", CreateTokenRequest{Name: "Test", Symbol: "TST", Supply: "10", Image: []byte{}}, false},
		{"zero mint", RevokeMintAuthorityRequest{}, false},
		{"zero account", CloseAccountRequest{}, false},
		{"zero delegate", ApproveDelegateRequest{Account: newKey(t), Amount: 1}, false},
		{"unknown authority", SetAuthorityRequest{Address: newKey(t), Authority: 9}, false},
		{"nil request", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRequest(tt.req)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, ReasonInvalidRequest, ReasonOf(err))
		})
	}
}
