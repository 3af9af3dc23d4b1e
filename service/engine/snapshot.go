package engine

import (
	"bytes"
	"cmp"
	"slices"

	"github.com/brojonat/mintctl/service/tokenprog"
	solanago "github.com/gagliardetto/solana-go"
)

// Snapshot is a point-in-time read of the on-chain state one operation
// depends on. It carries no slot or read time so that two reads of
// unchanged state compare equal.
type Snapshot struct {
	Requester solanago.PublicKey
	// Lamports is the requester's native balance.
	Lamports uint64
	Variant  tokenprog.Variant

	// Mint fields. Zero for CreateToken, where the mint does not exist yet.
	Mint            solanago.PublicKey
	MintAuthority   *solanago.PublicKey
	FreezeAuthority *solanago.PublicKey
	Decimals        uint8
	Supply          uint64

	// Account is set for operations that target a holding account.
	Account *AccountState

	// Rent-exempt minimums, read only for CreateToken.
	MintRent     uint64
	AccountRent  uint64
	MetadataRent uint64
}

// AccountState is the holding-account part of a snapshot.
type AccountState struct {
	Address         solanago.PublicKey
	Owner           solanago.PublicKey
	Balance         uint64
	Frozen          bool
	IsNative        bool
	Delegate        *solanago.PublicKey
	DelegatedAmount uint64
	CloseAuthority  *solanago.PublicKey
}

// Holding is one entry of an owner's token holdings, as listed for target
// selection.
type Holding struct {
	Address  solanago.PublicKey  `json:"address"`
	Mint     solanago.PublicKey  `json:"mint"`
	Variant  tokenprog.Variant   `json:"variant"`
	Balance  uint64              `json:"balance"`
	Frozen   bool                `json:"frozen"`
	Delegate *solanago.PublicKey `json:"delegate,omitempty"`
}

func samePtrKey(a, b *solanago.PublicKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equals(*b)
}

// Equal reports whether two snapshots describe the same state.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Requester != o.Requester || s.Lamports != o.Lamports || s.Variant != o.Variant ||
		s.Mint != o.Mint || s.Decimals != o.Decimals || s.Supply != o.Supply ||
		s.MintRent != o.MintRent || s.AccountRent != o.AccountRent || s.MetadataRent != o.MetadataRent {
		return false
	}
	if !samePtrKey(s.MintAuthority, o.MintAuthority) || !samePtrKey(s.FreezeAuthority, o.FreezeAuthority) {
		return false
	}
	if s.Account == nil || o.Account == nil {
		return s.Account == o.Account
	}
	a, b := s.Account, o.Account
	return a.Address == b.Address && a.Owner == b.Owner && a.Balance == b.Balance &&
		a.Frozen == b.Frozen && a.IsNative == b.IsNative && a.DelegatedAmount == b.DelegatedAmount &&
		samePtrKey(a.Delegate, b.Delegate) && samePtrKey(a.CloseAuthority, b.CloseAuthority)
}

// sortHoldings orders holdings by program, then by address, so listings
// are stable across the concurrent probe.
func sortHoldings(hs []Holding) {
	slices.SortFunc(hs, func(a, b Holding) int {
		if c := cmp.Compare(a.Variant, b.Variant); c != 0 {
			return c
		}
		return bytes.Compare(a.Address[:], b.Address[:])
	})
}
