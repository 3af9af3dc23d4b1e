package engine

import (
	"github.com/brojonat/mintctl/service/tokenprog"
	solanago "github.com/gagliardetto/solana-go"
)

// rule is one row of the precondition table. Checks run in the order
// request, authority, state, funds; the first failure wins.
type rule struct {
	// request checks the request alone.
	request func(Request) *Error
	// authority returns the keys any one of which may sign, or nil when
	// the governing authority is absent.
	authority func(Request, *Snapshot) []solanago.PublicKey
	// absent is the reason reported when authority returns nil.
	absent Reason
	// state checks the snapshot for an illegal state.
	state func(Request, *Snapshot) *Error
}

var rules = map[Operation]rule{
	OpCreateToken: {
		request: func(req Request) *Error {
			r := req.(CreateTokenRequest)
			if _, err := BaseUnits(r.Supply, r.Decimals); err != nil {
				e, _ := AsError(err)
				return e
			}
			return nil
		},
	},
	OpRevokeMintAuthority: {
		authority: func(_ Request, s *Snapshot) []solanago.PublicKey { return keys(s.MintAuthority) },
		absent:    ReasonAlreadyRevoked,
	},
	OpRevokeFreezeAuthority: {
		authority: func(_ Request, s *Snapshot) []solanago.PublicKey { return keys(s.FreezeAuthority) },
		absent:    ReasonAlreadyRevoked,
	},
	OpFreezeAccount: {
		authority: func(_ Request, s *Snapshot) []solanago.PublicKey { return keys(s.FreezeAuthority) },
		absent:    ReasonNoFreezeAuthority,
		state: func(_ Request, s *Snapshot) *Error {
			if s.Account.Frozen {
				return validationError(ReasonAlreadyFrozen, "account %s is already frozen", s.Account.Address)
			}
			return nil
		},
	},
	OpThawAccount: {
		authority: func(_ Request, s *Snapshot) []solanago.PublicKey { return keys(s.FreezeAuthority) },
		absent:    ReasonNoFreezeAuthority,
		state: func(_ Request, s *Snapshot) *Error {
			if !s.Account.Frozen {
				return validationError(ReasonNotFrozen, "account %s is not frozen", s.Account.Address)
			}
			return nil
		},
	},
	OpSetAuthority: {
		request: func(req Request) *Error {
			r := req.(SetAuthorityRequest)
			if r.Authority == tokenprog.AuthorityAccountOwner && r.NewAuthority == nil {
				return validationError(ReasonMissingSuccessor, "account owner cannot be removed, a successor is required")
			}
			return nil
		},
		authority: func(req Request, s *Snapshot) []solanago.PublicKey {
			switch req.(SetAuthorityRequest).Authority {
			case tokenprog.AuthorityMintTokens:
				return keys(s.MintAuthority)
			case tokenprog.AuthorityFreezeAccount:
				return keys(s.FreezeAuthority)
			case tokenprog.AuthorityAccountOwner:
				return keys(&s.Account.Owner)
			default:
				return closeAuthority(s.Account)
			}
		},
		absent: ReasonAlreadyRevoked,
		state: func(req Request, s *Snapshot) *Error {
			if s.Account != nil {
				return notFrozen(s.Account)
			}
			return nil
		},
	},
	OpApproveDelegate: {
		authority: func(_ Request, s *Snapshot) []solanago.PublicKey { return keys(&s.Account.Owner) },
		state:     func(_ Request, s *Snapshot) *Error { return notFrozen(s.Account) },
	},
	OpRevokeDelegate: {
		authority: func(_ Request, s *Snapshot) []solanago.PublicKey {
			return keys(&s.Account.Owner, s.Account.Delegate)
		},
		state: func(_ Request, s *Snapshot) *Error {
			if s.Account.Delegate == nil {
				return validationError(ReasonNoDelegate, "account %s has no delegate", s.Account.Address)
			}
			return notFrozen(s.Account)
		},
	},
	OpCloseAccount: {
		authority: func(_ Request, s *Snapshot) []solanago.PublicKey { return closeAuthority(s.Account) },
		state: func(_ Request, s *Snapshot) *Error {
			if !s.Account.IsNative && s.Account.Balance > 0 {
				return validationError(ReasonNonZeroBalance, "account %s still holds %d base units", s.Account.Address, s.Account.Balance)
			}
			return notFrozen(s.Account)
		},
	},
}

func keys(candidates ...*solanago.PublicKey) []solanago.PublicKey {
	var out []solanago.PublicKey
	for _, k := range candidates {
		if k != nil {
			out = append(out, *k)
		}
	}
	return out
}

func closeAuthority(a *AccountState) []solanago.PublicKey {
	if a.CloseAuthority != nil {
		return keys(a.CloseAuthority)
	}
	return keys(&a.Owner)
}

func notFrozen(a *AccountState) *Error {
	if a.Frozen {
		return validationError(ReasonAccountFrozen, "account %s is frozen", a.Address)
	}
	return nil
}

// Validate decides whether req is legal against snap. It is pure and is
// the only place the precondition table lives.
func Validate(req Request, snap *Snapshot, fee Fee) error {
	if err := CheckRequest(req); err != nil {
		return err
	}
	op := req.Operation()
	rl, ok := rules[op]
	if !ok {
		return validationError(ReasonInvalidRequest, "unsupported operation %q", op)
	}
	if targetsMint(req) == (snap.Account != nil) && op != OpCreateToken {
		return validationError(ReasonWrongAccountType, "snapshot does not match the %s target", op)
	}

	if rl.request != nil {
		if err := rl.request(req); err != nil {
			return withOp(err, op)
		}
	}
	if rl.authority != nil {
		allowed := rl.authority(req, snap)
		if len(allowed) == 0 {
			return withOp(validationError(rl.absent, "the governing authority is not set"), op)
		}
		if !containsKey(allowed, snap.Requester) {
			return withOp(validationError(ReasonNotAuthority, "%s is not the required signer", snap.Requester), op)
		}
	}
	if rl.state != nil {
		if err := rl.state(req, snap); err != nil {
			return withOp(err, op)
		}
	}
	if need := requiredLamports(op, snap, fee); snap.Lamports < need {
		return withOp(validationError(ReasonInsufficientFunds,
			"%s holds %d lamports, %d required", snap.Requester, snap.Lamports, need), op)
	}
	return nil
}

// requiredLamports is the fee plus network fees and, for CreateToken, the
// rent of the three accounts the transaction creates.
func requiredLamports(op Operation, snap *Snapshot, fee Fee) uint64 {
	need := fee.Lamports + networkFeePerSignature
	if op == OpCreateToken {
		need += networkFeePerSignature + snap.MintRent + snap.AccountRent + snap.MetadataRent
	}
	return need
}

func containsKey(set []solanago.PublicKey, k solanago.PublicKey) bool {
	for _, s := range set {
		if s.Equals(k) {
			return true
		}
	}
	return false
}

func withOp(e *Error, op Operation) *Error {
	e.Operation = op
	return e
}
