// Package tokenprog encodes instructions for the two SPL token program
// implementations, the associated token account program and the Metaplex
// token metadata program.
package tokenprog

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Account sizes of the base (extension-free) layouts. Token-2022 accepts
// the same sizes when no extension is initialized.
const (
	MintSize    = 82
	AccountSize = 165
)

// Variant identifies which token program implementation owns a mint or
// holding account. Instructions encoded for one variant are rejected by the
// other, so the variant resolved when state is read must be passed to every
// encoder.
type Variant int

const (
	VariantUnknown Variant = iota
	VariantClassic
	VariantExtended
)

// Variants lists every supported variant in probe order.
var Variants = []Variant{VariantClassic, VariantExtended}

// ProgramID returns the on-chain program address for the variant.
func (v Variant) ProgramID() solana.PublicKey {
	switch v {
	case VariantClassic:
		return solana.TokenProgramID
	case VariantExtended:
		return solana.Token2022ProgramID
	default:
		return solana.PublicKey{}
	}
}

func (v Variant) String() string {
	switch v {
	case VariantClassic:
		return "classic"
	case VariantExtended:
		return "extended"
	default:
		return "unknown"
	}
}

// MarshalText lets variants appear by name in JSON receipts and events.
func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (v *Variant) UnmarshalText(text []byte) error {
	parsed, err := ParseVariant(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseVariant converts a CLI or config value to a Variant. Program ids are
// accepted as well as names.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "classic", "spl-token", solana.TokenProgramID.String():
		return VariantClassic, nil
	case "extended", "token-2022", solana.Token2022ProgramID.String():
		return VariantExtended, nil
	}
	return VariantUnknown, fmt.Errorf("unknown token program variant %q", s)
}

// VariantOf maps an account's owning program to a variant. The second
// return value is false when neither token program owns the account.
func VariantOf(owner solana.PublicKey) (Variant, bool) {
	switch {
	case owner.Equals(solana.TokenProgramID):
		return VariantClassic, true
	case owner.Equals(solana.Token2022ProgramID):
		return VariantExtended, true
	}
	return VariantUnknown, false
}

// encode runs a marshaler against a borsh encoder. Marshalers are invoked
// directly because the generic encoder skips zero-valued structs.
func encode(m bin.BinaryMarshaler) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := m.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeOptionalKey(enc *bin.Encoder, key *solana.PublicKey) error {
	if key == nil {
		return enc.WriteOption(false)
	}
	if err := enc.WriteOption(true); err != nil {
		return err
	}
	return enc.WriteBytes(key[:], false)
}
