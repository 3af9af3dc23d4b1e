package tokenprog

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Token program instruction discriminators. Both variants share the base
// instruction set, so the same tags apply to either program id.
const (
	instApprove         uint8 = 4
	instRevoke          uint8 = 5
	instSetAuthority    uint8 = 6
	instMintTo          uint8 = 7
	instCloseAccount    uint8 = 9
	instFreezeAccount   uint8 = 10
	instThawAccount     uint8 = 11
	instInitializeMint2 uint8 = 20
)

// AuthorityType selects which authority SetAuthority replaces.
type AuthorityType uint8

const (
	AuthorityMintTokens AuthorityType = iota
	AuthorityFreezeAccount
	AuthorityAccountOwner
	AuthorityCloseAccount
)

func (a AuthorityType) String() string {
	switch a {
	case AuthorityMintTokens:
		return "mint-tokens"
	case AuthorityFreezeAccount:
		return "freeze-account"
	case AuthorityAccountOwner:
		return "account-owner"
	case AuthorityCloseAccount:
		return "close-account"
	default:
		return fmt.Sprintf("authority(%d)", uint8(a))
	}
}

// TargetsMint reports whether the authority lives on the mint record rather
// than on a holding account.
func (a AuthorityType) TargetsMint() bool {
	return a == AuthorityMintTokens || a == AuthorityFreezeAccount
}

func (a AuthorityType) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AuthorityType) UnmarshalText(text []byte) error {
	parsed, err := ParseAuthorityType(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAuthorityType parses the names produced by AuthorityType.String.
func ParseAuthorityType(s string) (AuthorityType, error) {
	switch s {
	case "mint-tokens", "mint":
		return AuthorityMintTokens, nil
	case "freeze-account", "freeze":
		return AuthorityFreezeAccount, nil
	case "account-owner", "owner":
		return AuthorityAccountOwner, nil
	case "close-account", "close":
		return AuthorityCloseAccount, nil
	}
	return 0, fmt.Errorf("unknown authority type %q", s)
}

type initializeMint2Args struct {
	Decimals        uint8
	MintAuthority   solana.PublicKey
	FreezeAuthority *solana.PublicKey
}

func (a initializeMint2Args) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint8(instInitializeMint2); err != nil {
		return err
	}
	if err := enc.WriteUint8(a.Decimals); err != nil {
		return err
	}
	if err := enc.WriteBytes(a.MintAuthority[:], false); err != nil {
		return err
	}
	return writeOptionalKey(enc, a.FreezeAuthority)
}

type amountArgs struct {
	Tag    uint8
	Amount uint64
}

func (a amountArgs) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint8(a.Tag); err != nil {
		return err
	}
	return enc.WriteUint64(a.Amount, bin.LE)
}

type tagArgs struct {
	Tag uint8
}

func (a tagArgs) MarshalWithEncoder(enc *bin.Encoder) error {
	return enc.WriteUint8(a.Tag)
}

type setAuthorityArgs struct {
	Type         AuthorityType
	NewAuthority *solana.PublicKey
}

func (a setAuthorityArgs) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint8(instSetAuthority); err != nil {
		return err
	}
	if err := enc.WriteUint8(uint8(a.Type)); err != nil {
		return err
	}
	return writeOptionalKey(enc, a.NewAuthority)
}

func build(v Variant, m bin.BinaryMarshaler, accounts ...*solana.AccountMeta) (solana.Instruction, error) {
	if v != VariantClassic && v != VariantExtended {
		return nil, fmt.Errorf("cannot encode for token program variant %s", v)
	}
	data, err := encode(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode instruction data: %w", err)
	}
	return solana.NewInstruction(v.ProgramID(), accounts, data), nil
}

// InitializeMint2 initializes a freshly allocated mint account. The rent
// sysvar is not required by this form of the instruction.
func InitializeMint2(v Variant, mint solana.PublicKey, decimals uint8, mintAuthority solana.PublicKey, freezeAuthority *solana.PublicKey) (solana.Instruction, error) {
	return build(v,
		initializeMint2Args{Decimals: decimals, MintAuthority: mintAuthority, FreezeAuthority: freezeAuthority},
		solana.Meta(mint).WRITE(),
	)
}

// MintTo issues amount base units of mint into destination.
func MintTo(v Variant, mint, destination, authority solana.PublicKey, amount uint64) (solana.Instruction, error) {
	return build(v,
		amountArgs{Tag: instMintTo, Amount: amount},
		solana.Meta(mint).WRITE(),
		solana.Meta(destination).WRITE(),
		solana.Meta(authority).SIGNER(),
	)
}

// Approve grants delegate the right to move up to amount base units out of
// account.
func Approve(v Variant, account, delegate, owner solana.PublicKey, amount uint64) (solana.Instruction, error) {
	return build(v,
		amountArgs{Tag: instApprove, Amount: amount},
		solana.Meta(account).WRITE(),
		solana.Meta(delegate),
		solana.Meta(owner).SIGNER(),
	)
}

// Revoke clears the delegate of account. The signer may be the owner or the
// current delegate.
func Revoke(v Variant, account, signer solana.PublicKey) (solana.Instruction, error) {
	return build(v,
		tagArgs{Tag: instRevoke},
		solana.Meta(account).WRITE(),
		solana.Meta(signer).SIGNER(),
	)
}

// SetAuthority replaces (or, with a nil successor, removes) one authority of
// a mint or holding account.
func SetAuthority(v Variant, subject solana.PublicKey, kind AuthorityType, current solana.PublicKey, successor *solana.PublicKey) (solana.Instruction, error) {
	return build(v,
		setAuthorityArgs{Type: kind, NewAuthority: successor},
		solana.Meta(subject).WRITE(),
		solana.Meta(current).SIGNER(),
	)
}

// CloseAccount reclaims the rent of an empty holding account into
// destination.
func CloseAccount(v Variant, account, destination, authority solana.PublicKey) (solana.Instruction, error) {
	return build(v,
		tagArgs{Tag: instCloseAccount},
		solana.Meta(account).WRITE(),
		solana.Meta(destination).WRITE(),
		solana.Meta(authority).SIGNER(),
	)
}

// FreezeAccount freezes a holding account of mint.
func FreezeAccount(v Variant, account, mint, freezeAuthority solana.PublicKey) (solana.Instruction, error) {
	return build(v,
		tagArgs{Tag: instFreezeAccount},
		solana.Meta(account).WRITE(),
		solana.Meta(mint),
		solana.Meta(freezeAuthority).SIGNER(),
	)
}

// ThawAccount thaws a frozen holding account of mint.
func ThawAccount(v Variant, account, mint, freezeAuthority solana.PublicKey) (solana.Instruction, error) {
	return build(v,
		tagArgs{Tag: instThawAccount},
		solana.Meta(account).WRITE(),
		solana.Meta(mint),
		solana.Meta(freezeAuthority).SIGNER(),
	)
}
