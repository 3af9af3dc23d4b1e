package tokenprog

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go/programs/token"
)

// DecodeMint parses the base mint layout. Token-2022 mints may carry
// extension data after the base layout; it is ignored.
func DecodeMint(data []byte) (*token.Mint, error) {
	if len(data) < MintSize {
		return nil, fmt.Errorf("mint data too short: %d bytes", len(data))
	}
	var mint token.Mint
	if err := bin.NewBinDecoder(data).Decode(&mint); err != nil {
		return nil, fmt.Errorf("failed to decode mint: %w", err)
	}
	if !mint.IsInitialized {
		return nil, fmt.Errorf("mint is not initialized")
	}
	return &mint, nil
}

// DecodeAccount parses the base holding-account layout.
func DecodeAccount(data []byte) (*token.Account, error) {
	if len(data) < AccountSize {
		return nil, fmt.Errorf("token account data too short: %d bytes", len(data))
	}
	var acct token.Account
	if err := bin.NewBinDecoder(data).Decode(&acct); err != nil {
		return nil, fmt.Errorf("failed to decode token account: %w", err)
	}
	if acct.State == token.Uninitialized {
		return nil, fmt.Errorf("token account is not initialized")
	}
	return &acct, nil
}

// IsMintData distinguishes a mint record from a holding account by length.
// Token-2022 pads extended mints past AccountSize and tags them, but every
// holding account is at least AccountSize bytes.
func IsMintData(data []byte) bool {
	if len(data) == MintSize {
		return true
	}
	// Token-2022 extended layouts place the account type byte at
	// AccountSize: 1 = mint, 2 = account.
	return len(data) > AccountSize && data[AccountSize] == 1
}
