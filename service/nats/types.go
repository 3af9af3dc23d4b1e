package nats

import (
	"time"

	"github.com/brojonat/mintctl/service/db"
)

// ReceiptEvent represents a receipt event published to NATS.
// This is published to the subject "receipts.{owner}" in JetStream, once
// when the receipt is accepted and again when it has been verified.
type ReceiptEvent struct {
	// Receipt identifiers
	Network   string `json:"network"`
	Signature string `json:"signature"`
	Slot      int64  `json:"slot"`

	// Operation details
	Operation   string  `json:"operation"`
	Owner       string  `json:"owner"`
	Mint        *string `json:"mint,omitempty"`
	Account     *string `json:"account,omitempty"`
	Variant     string  `json:"variant"`
	FeeLamports int64   `json:"fee_lamports"`

	// Verification state: "pending", "verified" or "rejected"
	VerificationStatus string  `json:"verification_status"`
	VerificationReason *string `json:"verification_reason,omitempty"`

	ConfirmedAt time.Time `json:"confirmed_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromDBReceipt converts a stored receipt to a ReceiptEvent for publishing.
func FromDBReceipt(r *db.Receipt) *ReceiptEvent {
	return &ReceiptEvent{
		Network:            r.Network,
		Signature:          r.Signature,
		Slot:               r.Slot,
		Operation:          r.Operation,
		Owner:              r.Owner,
		Mint:               r.Mint,
		Account:            r.Account,
		Variant:            r.Variant,
		FeeLamports:        r.FeeLamports,
		VerificationStatus: r.VerificationStatus,
		VerificationReason: r.VerificationReason,
		ConfirmedAt:        r.ConfirmedAt,
		PublishedAt:        time.Now().UTC(),
	}
}
