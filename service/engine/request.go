package engine

import (
	"fmt"

	"github.com/brojonat/mintctl/service/tokenprog"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/go-playground/validator/v10"
)

// Operation names a kind of token operation.
type Operation string

const (
	OpCreateToken           Operation = "create-token"
	OpRevokeMintAuthority   Operation = "revoke-mint-authority"
	OpRevokeFreezeAuthority Operation = "revoke-freeze-authority"
	OpFreezeAccount         Operation = "freeze-account"
	OpThawAccount           Operation = "thaw-account"
	OpSetAuthority          Operation = "set-authority"
	OpApproveDelegate       Operation = "approve-delegate"
	OpRevokeDelegate        Operation = "revoke-delegate"
	OpCloseAccount          Operation = "close-account"
)

// Operations lists every supported operation.
var Operations = []Operation{
	OpCreateToken,
	OpRevokeMintAuthority,
	OpRevokeFreezeAuthority,
	OpFreezeAccount,
	OpThawAccount,
	OpSetAuthority,
	OpApproveDelegate,
	OpRevokeDelegate,
	OpCloseAccount,
}

// Request is one of the operation request types below. Requests are plain
// values; the engine never modifies them.
type Request interface {
	Operation() Operation
	// Target is the mint or holding account the operation acts on. It is
	// the zero key for CreateToken.
	Target() solanago.PublicKey
	isRequest()
}

// CreateTokenRequest mints a new token with metadata and issues the whole
// supply to the requester.
type CreateTokenRequest struct {
	Name        string `json:"name" validate:"required,max=32"`
	Symbol      string `json:"symbol" validate:"required,max=10"`
	Description string `json:"description" validate:"max=1000"`
	Decimals    uint8  `json:"decimals" validate:"lte=18"`
	// Supply is a whole-token count in decimal digits. It is scaled by
	// 10^Decimals to base units.
	Supply    string            `json:"supply" validate:"required,number"`
	Image     []byte            `json:"-" validate:"required,min=1"`
	ImageName string            `json:"image_name"`
	Variant   tokenprog.Variant `json:"variant"`
}

type RevokeMintAuthorityRequest struct {
	Mint solanago.PublicKey `json:"mint" validate:"required"`
}

type RevokeFreezeAuthorityRequest struct {
	Mint solanago.PublicKey `json:"mint" validate:"required"`
}

type FreezeAccountRequest struct {
	Account solanago.PublicKey `json:"account" validate:"required"`
}

type ThawAccountRequest struct {
	Account solanago.PublicKey `json:"account" validate:"required"`
}

// SetAuthorityRequest replaces one authority. Address is the mint for
// mint-tokens and freeze-account authorities and the holding account
// otherwise. A nil NewAuthority removes the authority.
type SetAuthorityRequest struct {
	Address      solanago.PublicKey      `json:"address" validate:"required"`
	Authority    tokenprog.AuthorityType `json:"authority" validate:"lte=3"`
	NewAuthority *solanago.PublicKey     `json:"new_authority,omitempty"`
}

// ApproveDelegateRequest lets Delegate move up to Amount base units.
type ApproveDelegateRequest struct {
	Account  solanago.PublicKey `json:"account" validate:"required"`
	Delegate solanago.PublicKey `json:"delegate" validate:"required"`
	Amount   uint64             `json:"amount" validate:"gt=0"`
}

type RevokeDelegateRequest struct {
	Account solanago.PublicKey `json:"account" validate:"required"`
}

// CloseAccountRequest closes an empty holding account. Rent goes to
// Destination, or back to the requester when nil.
type CloseAccountRequest struct {
	Account     solanago.PublicKey  `json:"account" validate:"required"`
	Destination *solanago.PublicKey `json:"destination,omitempty"`
}

func (CreateTokenRequest) Operation() Operation           { return OpCreateToken }
func (RevokeMintAuthorityRequest) Operation() Operation   { return OpRevokeMintAuthority }
func (RevokeFreezeAuthorityRequest) Operation() Operation { return OpRevokeFreezeAuthority }
func (FreezeAccountRequest) Operation() Operation         { return OpFreezeAccount }
func (ThawAccountRequest) Operation() Operation           { return OpThawAccount }
func (SetAuthorityRequest) Operation() Operation          { return OpSetAuthority }
func (ApproveDelegateRequest) Operation() Operation       { return OpApproveDelegate }
func (RevokeDelegateRequest) Operation() Operation        { return OpRevokeDelegate }
func (CloseAccountRequest) Operation() Operation          { return OpCloseAccount }

func (CreateTokenRequest) Target() solanago.PublicKey             { return solanago.PublicKey{} }
func (r RevokeMintAuthorityRequest) Target() solanago.PublicKey   { return r.Mint }
func (r RevokeFreezeAuthorityRequest) Target() solanago.PublicKey { return r.Mint }
func (r FreezeAccountRequest) Target() solanago.PublicKey         { return r.Account }
func (r ThawAccountRequest) Target() solanago.PublicKey           { return r.Account }
func (r SetAuthorityRequest) Target() solanago.PublicKey          { return r.Address }
func (r ApproveDelegateRequest) Target() solanago.PublicKey       { return r.Account }
func (r RevokeDelegateRequest) Target() solanago.PublicKey        { return r.Account }
func (r CloseAccountRequest) Target() solanago.PublicKey          { return r.Account }

func (CreateTokenRequest) isRequest()           {}
func (RevokeMintAuthorityRequest) isRequest()   {}
func (RevokeFreezeAuthorityRequest) isRequest() {}
func (FreezeAccountRequest) isRequest()         {}
func (ThawAccountRequest) isRequest()           {}
func (SetAuthorityRequest) isRequest()          {}
func (ApproveDelegateRequest) isRequest()       {}
func (RevokeDelegateRequest) isRequest()        {}
func (CloseAccountRequest) isRequest()          {}

// targetsMint reports whether the request's target address is a mint
// rather than a holding account.
func targetsMint(req Request) bool {
	switch r := req.(type) {
	case RevokeMintAuthorityRequest, RevokeFreezeAuthorityRequest:
		return true
	case SetAuthorityRequest:
		return r.Authority.TargetsMint()
	}
	return false
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// CheckRequest validates the request's own fields, before any state is read.
func CheckRequest(req Request) error {
	if req == nil {
		return validationError(ReasonInvalidRequest, "request is nil")
	}
	if err := validate.Struct(req); err != nil {
		return &Error{Kind: KindValidation, Reason: ReasonInvalidRequest, Operation: req.Operation(), Err: err}
	}
	if r, ok := req.(CreateTokenRequest); ok {
		md := tokenprog.TokenMetadata{Name: r.Name, Symbol: r.Symbol}
		if err := md.Validate(); err != nil {
			return &Error{Kind: KindValidation, Reason: ReasonInvalidRequest, Operation: OpCreateToken, Err: err}
		}
		if r.Variant != tokenprog.VariantUnknown && r.Variant != tokenprog.VariantClassic && r.Variant != tokenprog.VariantExtended {
			return &Error{Kind: KindValidation, Reason: ReasonInvalidRequest, Operation: OpCreateToken,
				Err: fmt.Errorf("unsupported token program variant %d", r.Variant)}
		}
	}
	return nil
}
