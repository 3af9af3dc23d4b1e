package engine

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/brojonat/mintctl/service/tokenprog"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// Envelope is the ordered, immutable instruction list of one operation.
// Instruction 0 is always the fee transfer and every instruction shares
// FeePayer. The blockhash is attached at submission.
type Envelope struct {
	Operation Operation
	FeePayer  solanago.PublicKey
	Variant   tokenprog.Variant
	Fee       Fee

	// Mint is the created or governing mint; Account the holding account
	// created or acted on, zero for mint-level operations.
	Mint    solanago.PublicKey
	Account solanago.PublicKey
	// Touched lists every address the transaction writes or names.
	Touched []solanago.PublicKey
	// BaseUnits is the issued supply for CreateToken.
	BaseUnits uint64

	instructions []solanago.Instruction
	signers      []solanago.PrivateKey
}

// Instructions returns a copy of the ordered instruction list.
func (e *Envelope) Instructions() []solanago.Instruction {
	return slices.Clone(e.instructions)
}

// Signers returns the keys the engine itself signs with, beyond the wallet.
func (e *Envelope) Signers() []solanago.PrivateKey {
	return slices.Clone(e.signers)
}

// MetadataURIs are the published locations of a new token's image and
// metadata document.
type MetadataURIs struct {
	Image    string `json:"image"`
	Metadata string `json:"metadata"`
}

// BaseUnits scales a whole-token supply to base units. The multiplication
// is exact; results that do not fit a uint64 fail with SupplyOverflow.
func BaseUnits(supply string, decimals uint8) (uint64, error) {
	n, ok := new(big.Int).SetString(supply, 10)
	if !ok {
		return 0, validationError(ReasonInvalidRequest, "supply %q is not a whole number", supply)
	}
	if n.Sign() <= 0 {
		return 0, validationError(ReasonInvalidRequest, "supply must be positive")
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	n.Mul(n, scale)
	if !n.IsUint64() {
		return 0, validationError(ReasonSupplyOverflow, "supply %s with %d decimals exceeds %d base units", supply, decimals, uint64(1<<64-1))
	}
	return n.Uint64(), nil
}

// Builder translates a validated request and its snapshot into an envelope.
type Builder struct {
	newKey func() (solanago.PrivateKey, error)
}

func NewBuilder() *Builder {
	return &Builder{newKey: solanago.NewRandomPrivateKey}
}

// Build assembles the envelope. uris is required for CreateToken and
// ignored otherwise. Every token instruction is encoded for snap.Variant.
func (b *Builder) Build(req Request, snap *Snapshot, fee Fee, uris *MetadataURIs) (*Envelope, error) {
	if fee.Operation != req.Operation() || fee.Lamports == 0 {
		return nil, fmt.Errorf("fee for %q does not match operation %q", fee.Operation, req.Operation())
	}
	payer := snap.Requester
	env := &Envelope{
		Operation:    req.Operation(),
		FeePayer:     payer,
		Variant:      snap.Variant,
		Fee:          fee,
		Mint:         snap.Mint,
		instructions: []solanago.Instruction{fee.Instruction(payer)},
		Touched:      []solanago.PublicKey{payer, fee.Treasury},
	}
	if snap.Account != nil {
		env.Account = snap.Account.Address
	}

	var (
		ix  solanago.Instruction
		err error
	)
	v := snap.Variant
	switch r := req.(type) {
	case CreateTokenRequest:
		return b.buildCreate(env, r, snap, uris)
	case RevokeMintAuthorityRequest:
		ix, err = tokenprog.SetAuthority(v, r.Mint, tokenprog.AuthorityMintTokens, payer, nil)
		env.Touched = append(env.Touched, r.Mint)
	case RevokeFreezeAuthorityRequest:
		ix, err = tokenprog.SetAuthority(v, r.Mint, tokenprog.AuthorityFreezeAccount, payer, nil)
		env.Touched = append(env.Touched, r.Mint)
	case FreezeAccountRequest:
		ix, err = tokenprog.FreezeAccount(v, r.Account, snap.Mint, payer)
		env.Touched = append(env.Touched, r.Account, snap.Mint)
	case ThawAccountRequest:
		ix, err = tokenprog.ThawAccount(v, r.Account, snap.Mint, payer)
		env.Touched = append(env.Touched, r.Account, snap.Mint)
	case SetAuthorityRequest:
		ix, err = tokenprog.SetAuthority(v, r.Address, r.Authority, payer, r.NewAuthority)
		env.Touched = append(env.Touched, r.Address)
		if r.NewAuthority != nil {
			env.Touched = append(env.Touched, *r.NewAuthority)
		}
	case ApproveDelegateRequest:
		ix, err = tokenprog.Approve(v, r.Account, r.Delegate, payer, r.Amount)
		env.Touched = append(env.Touched, r.Account, r.Delegate)
	case RevokeDelegateRequest:
		ix, err = tokenprog.Revoke(v, r.Account, payer)
		env.Touched = append(env.Touched, r.Account)
	case CloseAccountRequest:
		dest := payer
		if r.Destination != nil {
			dest = *r.Destination
		}
		ix, err = tokenprog.CloseAccount(v, r.Account, dest, payer)
		env.Touched = append(env.Touched, r.Account, dest)
	default:
		return nil, fmt.Errorf("unsupported request type %T", req)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", req.Operation(), err)
	}
	env.instructions = append(env.instructions, ix)
	env.Touched = dedupKeys(env.Touched)
	return env, nil
}

// buildCreate lays out token creation: fee, mint allocation, mint
// initialization, associated account, full issuance, metadata.
func (b *Builder) buildCreate(env *Envelope, r CreateTokenRequest, snap *Snapshot, uris *MetadataURIs) (*Envelope, error) {
	if uris == nil || uris.Metadata == "" {
		return nil, fmt.Errorf("create-token requires a published metadata URI")
	}
	amount, err := BaseUnits(r.Supply, r.Decimals)
	if err != nil {
		return nil, err
	}
	mintKey, err := b.newKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate mint keypair: %w", err)
	}
	payer := snap.Requester
	mint := mintKey.PublicKey()
	v := snap.Variant

	allocate := system.NewCreateAccountInstruction(
		snap.MintRent, tokenprog.MintSize, v.ProgramID(), payer, mint,
	).Build()

	initMint, err := tokenprog.InitializeMint2(v, mint, r.Decimals, payer, &payer)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mint initialization: %w", err)
	}
	createATA, ata, err := tokenprog.CreateAssociatedTokenAccount(v, payer, payer, mint, true)
	if err != nil {
		return nil, fmt.Errorf("failed to encode associated account creation: %w", err)
	}
	mintTo, err := tokenprog.MintTo(v, mint, ata, payer, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to encode issuance: %w", err)
	}
	createMD, metadataAddr, err := tokenprog.CreateMetadataAccountV3(mint, payer, payer, payer, tokenprog.TokenMetadata{
		Name:      r.Name,
		Symbol:    r.Symbol,
		URI:       uris.Metadata,
		IsMutable: true,
	})
	if err != nil {
		return nil, validationError(ReasonInvalidRequest, "metadata: %v", err)
	}

	env.instructions = append(env.instructions, allocate, initMint, createATA, mintTo, createMD)
	env.signers = []solanago.PrivateKey{mintKey}
	env.Mint = mint
	env.Account = ata
	env.BaseUnits = amount
	env.Touched = dedupKeys(append(env.Touched, mint, ata, metadataAddr))
	return env, nil
}

func dedupKeys(keys []solanago.PublicKey) []solanago.PublicKey {
	out := make([]solanago.PublicKey, 0, len(keys))
	for _, k := range keys {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}
