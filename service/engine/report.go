package engine

import (
	"context"
	"time"

	"github.com/brojonat/mintctl/service/tokenprog"
)

// Credential is the bearer token of a registered account.
type Credential struct {
	Token string
}

// Session carries who is running the operation. A nil Credential is a
// guest: the operation still runs but nothing is persisted.
type Session struct {
	Credential *Credential
}

func (s Session) Guest() bool {
	return s.Credential == nil || s.Credential.Token == ""
}

// Receipt is the record of a confirmed operation. It is built only after
// confirmation and never modified afterwards.
type Receipt struct {
	Network     string            `json:"network"`
	Operation   Operation         `json:"operation"`
	Signature   string            `json:"signature"`
	Mint        string            `json:"mint,omitempty"`
	Account     string            `json:"account,omitempty"`
	Owner       string            `json:"owner"`
	Touched     []string          `json:"touched"`
	Params      map[string]any    `json:"params"`
	FeeLamports uint64            `json:"fee_lamports"`
	Variant     tokenprog.Variant `json:"variant"`
	SubmittedAt time.Time         `json:"submitted_at"`
	ConfirmedAt time.Time         `json:"confirmed_at"`
	Slot        uint64            `json:"slot"`
	Guest       bool              `json:"guest"`
}

// Reporter writes receipts to the backend of record.
type Reporter interface {
	Report(ctx context.Context, cred Credential, receipt Receipt) error
}

func newReceipt(network string, req Request, env *Envelope, sub *Submission, conf *Confirmation, guest bool) Receipt {
	touched := make([]string, len(env.Touched))
	for i, k := range env.Touched {
		touched[i] = k.String()
	}
	r := Receipt{
		Network:     network,
		Operation:   env.Operation,
		Signature:   sub.Signature.String(),
		Owner:       env.FeePayer.String(),
		Touched:     touched,
		Params:      requestParams(req, env),
		FeeLamports: env.Fee.Lamports,
		Variant:     env.Variant,
		SubmittedAt: sub.SubmittedAt.UTC(),
		ConfirmedAt: conf.ConfirmedAt.UTC(),
		Slot:        conf.Slot,
		Guest:       guest,
	}
	if !env.Mint.IsZero() {
		r.Mint = env.Mint.String()
	}
	if !env.Account.IsZero() {
		r.Account = env.Account.String()
	}
	return r
}

// requestParams flattens the requested parameters for the receipt. Image
// bytes are left out; the metadata URI stands in for them.
func requestParams(req Request, env *Envelope) map[string]any {
	switch r := req.(type) {
	case CreateTokenRequest:
		return map[string]any{
			"name":        r.Name,
			"symbol":      r.Symbol,
			"description": r.Description,
			"decimals":    r.Decimals,
			"supply":      r.Supply,
			"base_units":  env.BaseUnits,
		}
	case RevokeMintAuthorityRequest:
		return map[string]any{"mint": r.Mint.String()}
	case RevokeFreezeAuthorityRequest:
		return map[string]any{"mint": r.Mint.String()}
	case FreezeAccountRequest:
		return map[string]any{"account": r.Account.String()}
	case ThawAccountRequest:
		return map[string]any{"account": r.Account.String()}
	case SetAuthorityRequest:
		p := map[string]any{"address": r.Address.String(), "authority": r.Authority.String(), "new_authority": nil}
		if r.NewAuthority != nil {
			p["new_authority"] = r.NewAuthority.String()
		}
		return p
	case ApproveDelegateRequest:
		return map[string]any{"account": r.Account.String(), "delegate": r.Delegate.String(), "amount": r.Amount}
	case RevokeDelegateRequest:
		return map[string]any{"account": r.Account.String()}
	case CloseAccountRequest:
		p := map[string]any{"account": r.Account.String()}
		if r.Destination != nil {
			p["destination"] = r.Destination.String()
		}
		return p
	}
	return map[string]any{}
}
