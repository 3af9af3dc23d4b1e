package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/mintctl/service/db"
	"github.com/brojonat/mintctl/service/engine"
	natspkg "github.com/brojonat/mintctl/service/nats"
	"github.com/brojonat/mintctl/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - receipts are small
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxSignatureLength = 100     // signatures are 87-88 chars
	defaultListLimit   = 100
	maxListLimit       = 1000
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validBase58Regex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

	knownNetworks = map[string]bool{"mainnet": true, "devnet": true, "testnet": true, "local": true}
)

// ReceiptStore is the persistence the receipt handlers need.
type ReceiptStore interface {
	CreateReceipt(ctx context.Context, params db.CreateReceiptParams) (*db.Receipt, bool, error)
	GetReceipt(ctx context.Context, network, signature string) (*db.Receipt, error)
	ListReceiptsByOwner(ctx context.Context, params db.ListReceiptsParams) ([]*db.Receipt, error)
	CountReceiptsByOwner(ctx context.Context, owner, network string) (int64, error)
}

// handleCreateReceipt returns a handler that records a confirmed operation.
// POST /api/v1/receipts
//
// The token subject must be the receipt owner. Reporting the same
// (network, signature) again returns the stored receipt with 200 instead
// of 201, and does not restart verification.
func handleCreateReceipt(store ReceiptStore, verifier temporal.Verifier, publisher natspkg.Publisher, verifyAttempts int, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var receipt engine.Receipt
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&receipt); err != nil {
			logger.DebugContext(r.Context(), "invalid receipt body", "error", err)
			writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		if err := validateReceipt(&receipt); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		subject := subjectFrom(r.Context())
		if subject != receipt.Owner {
			logger.WarnContext(r.Context(), "receipt owner does not match token subject",
				"owner", receipt.Owner,
				"subject", subject,
			)
			writeError(w, "receipt owner does not match credential", http.StatusForbidden)
			return
		}

		params, err := json.Marshal(receipt.Params)
		if err != nil {
			writeError(w, "invalid params", http.StatusBadRequest)
			return
		}

		stored, created, err := store.CreateReceipt(r.Context(), db.CreateReceiptParams{
			Network:     receipt.Network,
			Signature:   receipt.Signature,
			Operation:   string(receipt.Operation),
			Owner:       receipt.Owner,
			Mint:        optionalString(receipt.Mint),
			Account:     optionalString(receipt.Account),
			Variant:     receipt.Variant.String(),
			Params:      params,
			Touched:     receipt.Touched,
			FeeLamports: int64(receipt.FeeLamports),
			Slot:        int64(receipt.Slot),
			SubmittedAt: receipt.SubmittedAt,
			ConfirmedAt: receipt.ConfirmedAt,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to store receipt",
				"signature", receipt.Signature,
				"error", err,
			)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if !created {
			logger.InfoContext(r.Context(), "receipt already recorded", "signature", stored.Signature)
			writeJSON(w, receiptToResponse(stored), http.StatusOK)
			return
		}

		logger.InfoContext(r.Context(), "receipt recorded",
			"network", stored.Network,
			"signature", stored.Signature,
			"operation", stored.Operation,
			"owner", stored.Owner,
		)

		// Both follow-ups are best effort: the receipt is stored, and a
		// pending receipt can be re-verified later.
		if publisher != nil {
			if err := publisher.PublishReceipt(r.Context(), natspkg.FromDBReceipt(stored)); err != nil {
				logger.WarnContext(r.Context(), "failed to publish receipt event", "signature", stored.Signature, "error", err)
			}
		}
		if verifier != nil {
			if _, err := verifier.StartReceiptVerification(r.Context(), temporal.VerifyReceiptInput{
				Network:     stored.Network,
				Signature:   stored.Signature,
				Operation:   stored.Operation,
				Owner:       stored.Owner,
				MaxAttempts: int32(verifyAttempts),
			}); err != nil {
				logger.ErrorContext(r.Context(), "failed to start receipt verification", "signature", stored.Signature, "error", err)
			}
		}

		writeJSON(w, receiptToResponse(stored), http.StatusCreated)
	})
}

// handleGetReceipt returns a handler that retrieves one receipt.
// GET /api/v1/receipts/{signature}?network={network}
func handleGetReceipt(store ReceiptStore, defaultNetwork string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receipt, ok := lookupReceipt(w, r, store, defaultNetwork, logger)
		if !ok {
			return
		}
		writeJSON(w, receiptToResponse(receipt), http.StatusOK)
	})
}

// handleReceiptQR returns a handler that renders a QR code linking the
// receipt's transaction on the block explorer.
// GET /api/v1/receipts/{signature}/qr?network={network}
func handleReceiptQR(store ReceiptStore, defaultNetwork string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receipt, ok := lookupReceipt(w, r, store, defaultNetwork, logger)
		if !ok {
			return
		}
		png, err := generateQRCode(explorerURL(receipt.Network, receipt.Signature))
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to render QR code", "signature", receipt.Signature, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
	})
}

func lookupReceipt(w http.ResponseWriter, r *http.Request, store ReceiptStore, defaultNetwork string, logger *slog.Logger) (*db.Receipt, bool) {
	signature := r.PathValue("signature")
	if err := validateSignature(signature); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	network := r.URL.Query().Get("network")
	if network == "" {
		network = defaultNetwork
	}
	if err := validateNetwork(network); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}

	receipt, err := store.GetReceipt(r.Context(), network, signature)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, "receipt not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to get receipt", "signature", signature, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return receipt, true
}

// handleListReceipts returns a handler that lists an owner's receipts.
// GET /api/v1/receipts?owner=ADDRESS&network=NETWORK&limit=N&offset=N
func handleListReceipts(store ReceiptStore, defaultNetwork string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		owner := query.Get("owner")
		if owner == "" {
			writeError(w, "owner query parameter is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(owner); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		network := query.Get("network")
		if network == "" {
			network = defaultNetwork
		}
		if err := validateNetwork(network); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := parseBoundedInt(query.Get("limit"), "limit", defaultListLimit, 1, maxListLimit)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		offset, err := parseBoundedInt(query.Get("offset"), "offset", 0, 0, math.MaxInt32)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		receipts, err := store.ListReceiptsByOwner(r.Context(), db.ListReceiptsParams{
			Owner:   owner,
			Network: network,
			Limit:   int32(limit),
			Offset:  int32(offset),
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list receipts", "owner", owner, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		total, err := store.CountReceiptsByOwner(r.Context(), owner, network)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to count receipts", "owner", owner, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]receiptResponse, len(receipts))
		for i := range receipts {
			resp[i] = receiptToResponse(receipts[i])
		}

		writeJSON(w, map[string]any{
			"receipts": resp,
			"count":    len(resp),
			"total":    total,
			"limit":    limit,
			"offset":   offset,
		}, http.StatusOK)
	})
}

// receiptResponse is the JSON response format for a receipt.
type receiptResponse struct {
	Network            string          `json:"network"`
	Signature          string          `json:"signature"`
	Operation          string          `json:"operation"`
	Owner              string          `json:"owner"`
	Mint               *string         `json:"mint,omitempty"`
	Account            *string         `json:"account,omitempty"`
	Variant            string          `json:"variant"`
	Params             json.RawMessage `json:"params"`
	Touched            []string        `json:"touched"`
	FeeLamports        int64           `json:"fee_lamports"`
	Slot               int64           `json:"slot"`
	SubmittedAt        time.Time       `json:"submitted_at"`
	ConfirmedAt        time.Time       `json:"confirmed_at"`
	VerificationStatus string          `json:"verification_status"`
	VerificationReason *string         `json:"verification_reason,omitempty"`
	VerifiedAt         *time.Time      `json:"verified_at,omitempty"`
	ExplorerURL        string          `json:"explorer_url"`
	CreatedAt          time.Time       `json:"created_at"`
}

// receiptToResponse converts a stored Receipt to a response format.
func receiptToResponse(r *db.Receipt) receiptResponse {
	return receiptResponse{
		Network:            r.Network,
		Signature:          r.Signature,
		Operation:          r.Operation,
		Owner:              r.Owner,
		Mint:               r.Mint,
		Account:            r.Account,
		Variant:            r.Variant,
		Params:             r.Params,
		Touched:            r.Touched,
		FeeLamports:        r.FeeLamports,
		Slot:               r.Slot,
		SubmittedAt:        r.SubmittedAt,
		ConfirmedAt:        r.ConfirmedAt,
		VerificationStatus: r.VerificationStatus,
		VerificationReason: r.VerificationReason,
		VerifiedAt:         r.VerifiedAt,
		ExplorerURL:        explorerURL(r.Network, r.Signature),
		CreatedAt:          r.CreatedAt,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateReceipt checks a reported receipt before it is stored.
func validateReceipt(r *engine.Receipt) error {
	if r.Guest {
		return errorf("guest receipts are not recorded")
	}
	if err := validateNetwork(r.Network); err != nil {
		return err
	}
	if err := validateSignature(r.Signature); err != nil {
		return err
	}
	if err := validateAddress(r.Owner); err != nil {
		return errorf("owner: %v", err)
	}
	if _, err := engine.FeeFor(r.Operation); err != nil {
		return errorf("unknown operation %q", r.Operation)
	}
	for _, field := range []struct {
		name  string
		value string
	}{{"mint", r.Mint}, {"account", r.Account}} {
		if field.value == "" {
			continue
		}
		if err := validateAddress(field.value); err != nil {
			return errorf("%s: %v", field.name, err)
		}
	}
	for _, addr := range r.Touched {
		if err := validateAddress(addr); err != nil {
			return errorf("touched: %v", err)
		}
	}
	if r.FeeLamports > math.MaxInt64 || r.Slot > math.MaxInt64 {
		return errorf("fee_lamports and slot must fit in a signed 64-bit integer")
	}
	if r.ConfirmedAt.IsZero() {
		return errorf("confirmed_at is required")
	}
	if r.ConfirmedAt.After(time.Now().Add(5 * time.Minute)) {
		return errorf("confirmed_at is in the future")
	}
	return nil
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validBase58Regex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	if _, err := solanago.PublicKeyFromBase58(address); err != nil {
		return errorf("invalid address: %v", err)
	}

	return nil
}

// validateSignature validates a transaction signature.
func validateSignature(signature string) error {
	if signature == "" {
		return errorf("signature is required")
	}
	if len(signature) > maxSignatureLength {
		return errorf("signature too long: maximum length is %d characters", maxSignatureLength)
	}
	if !validBase58Regex.MatchString(signature) {
		return errorf("invalid signature format: must contain only valid base58 characters")
	}
	if _, err := solanago.SignatureFromBase58(signature); err != nil {
		return errorf("invalid signature: %v", err)
	}
	return nil
}

// validateNetwork validates a network parameter.
func validateNetwork(network string) error {
	if network == "" {
		return errorf("network is required")
	}

	if !knownNetworks[network] {
		return errorf("invalid network: must be one of mainnet, devnet, testnet, local")
	}

	return nil
}

func parseBoundedInt(raw, name string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorf("invalid %s parameter: must be an integer", name)
	}
	if v < lo {
		return 0, errorf("%s must be at least %d", name, lo)
	}
	if v > hi {
		return 0, errorf("%s cannot exceed %d", name, hi)
	}
	return v, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// errorf is a helper to format error strings.
func errorf(format string, args ...any) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
