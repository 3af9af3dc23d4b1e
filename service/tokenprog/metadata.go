package tokenprog

import (
	"fmt"
	"unicode/utf8"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const instCreateMetadataAccountV3 uint8 = 33

// Field limits enforced by the metadata program.
const (
	MaxNameLength   = 32
	MaxSymbolLength = 10
	MaxURILength    = 200

	// MetadataAccountSize is the fixed size the metadata program allocates,
	// used to estimate the rent the payer funds.
	MetadataAccountSize = 679
)

// TokenMetadata is the on-chain portion of a token's metadata. The rich
// document (description, image) lives off-chain at URI.
type TokenMetadata struct {
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
	IsMutable            bool
}

// Validate checks the byte limits the metadata program would reject.
func (m TokenMetadata) Validate() error {
	if !utf8.ValidString(m.Name) || len(m.Name) == 0 || len(m.Name) > MaxNameLength {
		return fmt.Errorf("name must be 1-%d bytes of UTF-8", MaxNameLength)
	}
	if !utf8.ValidString(m.Symbol) || len(m.Symbol) == 0 || len(m.Symbol) > MaxSymbolLength {
		return fmt.Errorf("symbol must be 1-%d bytes of UTF-8", MaxSymbolLength)
	}
	if len(m.URI) > MaxURILength {
		return fmt.Errorf("uri exceeds %d bytes", MaxURILength)
	}
	if m.SellerFeeBasisPoints > 10000 {
		return fmt.Errorf("seller fee basis points exceeds 10000")
	}
	return nil
}

type createMetadataV3Args struct {
	Data TokenMetadata
}

// MarshalWithEncoder writes DataV2 with no creators, collection or uses,
// followed by is_mutable and an absent collection_details.
func (a createMetadataV3Args) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteUint8(instCreateMetadataAccountV3); err != nil {
		return err
	}
	for _, s := range []string{a.Data.Name, a.Data.Symbol, a.Data.URI} {
		if err := enc.WriteString(s); err != nil {
			return err
		}
	}
	if err := enc.WriteUint16(a.Data.SellerFeeBasisPoints, bin.LE); err != nil {
		return err
	}
	// creators, collection, uses
	for i := 0; i < 3; i++ {
		if err := enc.WriteOption(false); err != nil {
			return err
		}
	}
	if err := enc.WriteBool(a.Data.IsMutable); err != nil {
		return err
	}
	return enc.WriteOption(false)
}

// MetadataAddress derives the metadata account of mint.
func MetadataAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindTokenMetadataAddress(mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive metadata address: %w", err)
	}
	return addr, nil
}

// CreateMetadataAccountV3 attaches metadata to mint. The mint authority must
// sign; payer funds the metadata account and updateAuthority controls later
// edits.
func CreateMetadataAccountV3(mint, mintAuthority, payer, updateAuthority solana.PublicKey, md TokenMetadata) (solana.Instruction, solana.PublicKey, error) {
	if err := md.Validate(); err != nil {
		return nil, solana.PublicKey{}, err
	}
	metadata, err := MetadataAddress(mint)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	data, err := encode(createMetadataV3Args{Data: md})
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to encode instruction data: %w", err)
	}
	ix := solana.NewInstruction(solana.TokenMetadataProgramID, solana.AccountMetaSlice{
		solana.Meta(metadata).WRITE(),
		solana.Meta(mint),
		solana.Meta(mintAuthority).SIGNER(),
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(updateAuthority).SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, data)
	return ix, metadata, nil
}
