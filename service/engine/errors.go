package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a terminal failure by what the caller can safely do
// next.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindStorage       ErrorKind = "storage"
	KindSigning       ErrorKind = "signing"
	KindNetwork       ErrorKind = "network"
	KindBroadcast     ErrorKind = "broadcast"
	KindIndeterminate ErrorKind = "indeterminate"
	KindPersistence   ErrorKind = "persistence"
)

// Reason is the stable, machine-readable cause inside a kind.
type Reason string

const (
	ReasonInvalidRequest    Reason = "InvalidRequest"
	ReasonNotFound          Reason = "NotFound"
	ReasonWrongAccountType  Reason = "WrongAccountType"
	ReasonVariantMismatch   Reason = "VariantMismatch"
	ReasonAlreadyRevoked    Reason = "AlreadyRevoked"
	ReasonNoFreezeAuthority Reason = "NoFreezeAuthority"
	ReasonNotAuthority      Reason = "NotAuthority"
	ReasonAlreadyFrozen     Reason = "AlreadyFrozen"
	ReasonNotFrozen         Reason = "NotFrozen"
	ReasonAccountFrozen     Reason = "AccountFrozen"
	ReasonMissingSuccessor  Reason = "MissingSuccessor"
	ReasonNoDelegate        Reason = "NoDelegate"
	ReasonNonZeroBalance    Reason = "NonZeroBalance"
	ReasonSupplyOverflow    Reason = "SupplyOverflow"
	ReasonInsufficientFunds Reason = "InsufficientFunds"

	ReasonStorageQuoteFailed   Reason = "StorageQuoteFailed"
	ReasonStorageFundingFailed Reason = "StorageFundingFailed"
	ReasonStorageUploadFailed  Reason = "StorageUploadFailed"

	ReasonWalletUnavailable Reason = "WalletUnavailable"
	ReasonSigningRejected   Reason = "SigningRejected"
	ReasonSigningTimeout    Reason = "SigningTimeout"
	ReasonSigningFailed     Reason = "SigningFailed"
	ReasonCancelled         Reason = "Cancelled"

	ReasonNetworkUnavailable Reason = "NetworkUnavailable"

	ReasonBroadcastFailed   Reason = "BroadcastFailed"
	ReasonTransactionFailed Reason = "TransactionFailed"

	ReasonBlockhashExpired     Reason = "BlockhashExpired"
	ReasonConfirmationTimeout  Reason = "ConfirmationTimeout"
	ReasonBroadcastUnconfirmed Reason = "BroadcastUnconfirmed"

	ReasonPersistenceFailed Reason = "PersistenceFailed"
)

// Sentinel errors that collaborators wrap so the engine can classify their
// failures without importing them.
var (
	// ErrSigningRejected is returned (wrapped) by a Wallet when the user
	// declines to sign.
	ErrSigningRejected = errors.New("signature request rejected")

	ErrStorageQuote   = errors.New("storage quote failed")
	ErrStorageFunding = errors.New("storage funding failed")
	ErrStorageUpload  = errors.New("storage upload failed")
)

// Error is the single error type the engine returns. Signature and Mint are
// set whenever they are known so that indeterminate and persistence
// failures can be reconciled by hand.
type Error struct {
	Kind      ErrorKind
	Reason    Reason
	Operation Operation
	Signature string
	Mint      string
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	if e.Operation != "" {
		msg = fmt.Sprintf("%s %s", e.Operation, msg)
	}
	if e.Signature != "" {
		msg += " (signature " + e.Signature + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether starting the operation again from the top is
// safe. Indeterminate and persistence failures are not: the first attempt
// may have landed on chain.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindValidation, KindStorage, KindSigning, KindNetwork:
		return true
	case KindBroadcast:
		return e.Reason == ReasonBroadcastFailed
	default:
		return false
	}
}

func newError(kind ErrorKind, reason Reason, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func validationError(reason Reason, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Err: fmt.Errorf(format, args...)}
}

// AsError extracts the engine error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of an engine error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the reason of an engine error, or "" for foreign errors.
func ReasonOf(err error) Reason {
	if e, ok := AsError(err); ok {
		return e.Reason
	}
	return ""
}
