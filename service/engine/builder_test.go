package engine

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/brojonat/mintctl/service/tokenprog"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requestsFor returns one request per operation that is legal against f.
func requestsFor(t *testing.T, f *fixture) []Request {
	successor := newKey(t)
	return []Request{
		CreateTokenRequest{Name: "Test", Symbol: "TST", Decimals: 6, Supply: "1000000", Image: []byte{0x89, 'P', 'N', 'G'}, Variant: f.variant},
		RevokeMintAuthorityRequest{Mint: f.mint},
		RevokeFreezeAuthorityRequest{Mint: f.mint},
		FreezeAccountRequest{Account: f.account},
		ThawAccountRequest{Account: f.account},
		SetAuthorityRequest{Address: f.account, Authority: tokenprog.AuthorityAccountOwner, NewAuthority: &successor},
		ApproveDelegateRequest{Account: f.account, Delegate: newKey(t), Amount: 500},
		RevokeDelegateRequest{Account: f.account},
		CloseAccountRequest{Account: f.account},
	}
}

func assertFeeTransfer(t *testing.T, ix solanago.Instruction, payer solanago.PublicKey, lamports uint64) {
	t.Helper()
	assert.Equal(t, solanago.SystemProgramID, ix.ProgramID())
	accounts := ix.Accounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, payer, accounts[0].PublicKey)
	assert.True(t, accounts[0].IsSigner)
	assert.Equal(t, Treasury, accounts[1].PublicKey)

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 12)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[:4]), "system transfer")
	assert.Equal(t, lamports, binary.LittleEndian.Uint64(data[4:]))
}

func TestBuild_FeeTransferIsFirst(t *testing.T) {
	for _, v := range tokenprog.Variants {
		f := newFixture(t, v, fixtureOpts{})
		payer := f.wallet.key.PublicKey()
		snap := &Snapshot{Requester: payer, Variant: v, Mint: f.mint, MintRent: 1, AccountRent: 1}
		uris := &MetadataURIs{Image: "ar://img", Metadata: "ar://meta"}

		for _, req := range requestsFor(t, f) {
			t.Run(v.String()+"/"+string(req.Operation()), func(t *testing.T) {
				s := *snap
				if !targetsMint(req) && req.Operation() != OpCreateToken {
					s.Account = &AccountState{Address: f.account, Owner: payer}
				}
				fee, err := FeeFor(req.Operation())
				require.NoError(t, err)

				env, err := NewBuilder().Build(req, &s, fee, uris)
				require.NoError(t, err)

				ixs := env.Instructions()
				require.NotEmpty(t, ixs)
				assertFeeTransfer(t, ixs[0], payer, fee.Lamports)
				for _, ix := range ixs {
					for _, meta := range ix.Accounts() {
						if meta.IsSigner && !meta.PublicKey.Equals(payer) {
							assert.Equal(t, OpCreateToken, env.Operation, "only the new mint may co-sign")
						}
					}
				}
				assert.Equal(t, payer, env.FeePayer)
			})
		}
	}
}

func TestBuild_CreateToken(t *testing.T) {
	for _, v := range tokenprog.Variants {
		t.Run(v.String(), func(t *testing.T) {
			payer := newKey(t)
			mintKey, err := solanago.NewRandomPrivateKey()
			require.NoError(t, err)
			b := &Builder{newKey: func() (solanago.PrivateKey, error) { return mintKey, nil }}

			req := CreateTokenRequest{Name: "Test", Symbol: "TST", Decimals: 6, Supply: "1000000", Image: []byte{1}}
			snap := &Snapshot{Requester: payer, Variant: v, MintRent: 1_461_600}
			fee, err := FeeFor(OpCreateToken)
			require.NoError(t, err)

			env, err := b.Build(req, snap, fee, &MetadataURIs{Metadata: "https://arweave.net/meta"})
			require.NoError(t, err)

			ixs := env.Instructions()
			require.Len(t, ixs, 6)
			assertFeeTransfer(t, ixs[0], payer, 50_000_000)

			assert.Equal(t, solanago.SystemProgramID, ixs[1].ProgramID(), "mint allocation")
			assert.Equal(t, v.ProgramID(), ixs[2].ProgramID(), "mint initialization")
			assert.Equal(t, solanago.SPLAssociatedTokenAccountProgramID, ixs[3].ProgramID(), "associated account")
			assert.Equal(t, v.ProgramID(), ixs[4].ProgramID(), "issuance")
			assert.Equal(t, solanago.TokenMetadataProgramID, ixs[5].ProgramID(), "metadata")

			// Allocation is owned by the variant's program and sized for a mint.
			data, err := ixs[1].Data()
			require.NoError(t, err)
			assert.Equal(t, uint64(1_461_600), binary.LittleEndian.Uint64(data[4:12]))
			assert.Equal(t, uint64(tokenprog.MintSize), binary.LittleEndian.Uint64(data[12:20]))
			assert.Equal(t, v.ProgramID().Bytes(), data[20:52])

			init, err := ixs[2].Data()
			require.NoError(t, err)
			assert.Equal(t, byte(20), init[0])
			assert.Equal(t, byte(6), init[1])
			assert.Equal(t, payer.Bytes(), init[2:34], "mint authority is the requester")
			assert.Equal(t, byte(1), init[34])
			assert.Equal(t, payer.Bytes(), init[35:67], "freeze authority is the requester")

			mintTo, err := ixs[4].Data()
			require.NoError(t, err)
			assert.Equal(t, byte(7), mintTo[0])
			assert.Equal(t, uint64(1_000_000_000_000), binary.LittleEndian.Uint64(mintTo[1:9]))
			assert.Equal(t, uint64(1_000_000_000_000), env.BaseUnits)

			ata, err := tokenprog.AssociatedTokenAddress(v, payer, mintKey.PublicKey())
			require.NoError(t, err)
			assert.Equal(t, mintKey.PublicKey(), env.Mint)
			assert.Equal(t, ata, env.Account)
			assert.Equal(t, ata, ixs[4].Accounts()[1].PublicKey)

			signers := env.Signers()
			require.Len(t, signers, 1)
			assert.Equal(t, mintKey.PublicKey(), signers[0].PublicKey())
		})
	}
}

func TestBuild_CreateTokenFreshMintEachTime(t *testing.T) {
	req := CreateTokenRequest{Name: "Test", Symbol: "TST", Decimals: 0, Supply: "1", Image: []byte{1}}
	snap := &Snapshot{Requester: newKey(t), Variant: tokenprog.VariantClassic}
	fee, _ := FeeFor(OpCreateToken)
	uris := &MetadataURIs{Metadata: "ar://meta"}

	b := NewBuilder()
	first, err := b.Build(req, snap, fee, uris)
	require.NoError(t, err)
	second, err := b.Build(req, snap, fee, uris)
	require.NoError(t, err)
	assert.NotEqual(t, first.Mint, second.Mint)
}

func TestBuild_CreateTokenRequiresURI(t *testing.T) {
	req := CreateTokenRequest{Name: "Test", Symbol: "TST", Supply: "1", Image: []byte{1}}
	fee, _ := FeeFor(OpCreateToken)
	_, err := NewBuilder().Build(req, &Snapshot{Requester: newKey(t), Variant: tokenprog.VariantClassic}, fee, nil)
	assert.Error(t, err)
}

func TestBuild_FeeMismatch(t *testing.T) {
	fee, _ := FeeFor(OpCloseAccount)
	_, err := NewBuilder().Build(RevokeMintAuthorityRequest{Mint: newKey(t)}, &Snapshot{Requester: newKey(t)}, fee, nil)
	assert.Error(t, err)
}

func TestBuild_VariantThreadedThrough(t *testing.T) {
	payer := newKey(t)
	acct := newKey(t)
	fee, _ := FeeFor(OpFreezeAccount)
	for _, v := range tokenprog.Variants {
		snap := &Snapshot{Requester: payer, Variant: v, Mint: newKey(t), Account: &AccountState{Address: acct, Owner: newKey(t)}}
		env, err := NewBuilder().Build(FreezeAccountRequest{Account: acct}, snap, fee, nil)
		require.NoError(t, err)
		ixs := env.Instructions()
		require.Len(t, ixs, 2)
		assert.Equal(t, v.ProgramID(), ixs[1].ProgramID())
	}
}

func TestBuild_CloseDestination(t *testing.T) {
	payer := newKey(t)
	acct := newKey(t)
	dest := newKey(t)
	fee, _ := FeeFor(OpCloseAccount)
	snap := &Snapshot{Requester: payer, Variant: tokenprog.VariantClassic, Account: &AccountState{Address: acct, Owner: payer}}

	env, err := NewBuilder().Build(CloseAccountRequest{Account: acct}, snap, fee, nil)
	require.NoError(t, err)
	assert.Equal(t, payer, env.Instructions()[1].Accounts()[1].PublicKey)

	env, err = NewBuilder().Build(CloseAccountRequest{Account: acct, Destination: &dest}, snap, fee, nil)
	require.NoError(t, err)
	assert.Equal(t, dest, env.Instructions()[1].Accounts()[1].PublicKey)
	assert.Contains(t, env.Touched, dest)
}

func TestBaseUnits(t *testing.T) {
	for decimals := uint8(0); decimals <= 18; decimals++ {
		got, err := BaseUnits("7", decimals)
		require.NoError(t, err, "decimals %d", decimals)
		want := new(big.Int).Mul(big.NewInt(7), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
		assert.Equal(t, want.Uint64(), got, "decimals %d", decimals)
	}

	got, err := BaseUnits("1000000", 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000_000), got)

	got, err = BaseUnits("18446744073709551615", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), got)

	_, err = BaseUnits("19", 18)
	assert.Equal(t, ReasonSupplyOverflow, ReasonOf(err))

	_, err = BaseUnits("18446744073709551616", 0)
	assert.Equal(t, ReasonSupplyOverflow, ReasonOf(err))

	_, err = BaseUnits("0", 6)
	assert.Equal(t, ReasonInvalidRequest, ReasonOf(err))

	_, err = BaseUnits("12abc", 6)
	assert.Equal(t, ReasonInvalidRequest, ReasonOf(err))
}

func TestFeeFor(t *testing.T) {
	for _, op := range Operations {
		fee, err := FeeFor(op)
		require.NoError(t, err, op)
		assert.Positive(t, fee.Lamports, op)
		assert.Equal(t, Treasury, fee.Treasury)
		assert.Equal(t, op, fee.Operation)
	}

	_, err := FeeFor("mint-more")
	assert.Error(t, err)
}
