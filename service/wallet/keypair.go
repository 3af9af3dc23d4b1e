// Package wallet provides a local signing wallet backed by a solana-keygen
// key file.
package wallet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/mintctl/service/engine"
	solanago "github.com/gagliardetto/solana-go"
)

// Consent asks the user to approve one transaction. It returns false to
// decline. It is called for every signature; approvals are never cached.
type Consent func(ctx context.Context, summary Summary) (bool, error)

// Summary describes the transaction being signed.
type Summary struct {
	FeePayer     solanago.PublicKey
	Instructions int
	Programs     []solanago.PublicKey
}

// Keypair signs with an in-memory private key.
type Keypair struct {
	key     solanago.PrivateKey
	consent Consent
	logger  *slog.Logger
}

var _ engine.Wallet = (*Keypair)(nil)

// Load reads a solana-keygen JSON key file.
func Load(path string, consent Consent, logger *slog.Logger) (*Keypair, error) {
	key, err := solanago.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load key file %s: %w", path, err)
	}
	return New(key, consent, logger), nil
}

// New wraps key. A nil consent approves every request.
func New(key solanago.PrivateKey, consent Consent, logger *slog.Logger) *Keypair {
	if logger == nil {
		logger = slog.Default()
	}
	return &Keypair{key: key, consent: consent, logger: logger}
}

func (k *Keypair) Address(ctx context.Context) (solanago.PublicKey, error) {
	return k.key.PublicKey(), nil
}

// SignTransaction adds this key's signature to tx after consent.
func (k *Keypair) SignTransaction(ctx context.Context, tx *solanago.Transaction) error {
	if k.consent != nil {
		ok, err := k.consent(ctx, summarize(tx))
		if err != nil {
			return fmt.Errorf("consent prompt failed: %w", err)
		}
		if !ok {
			return fmt.Errorf("declined by user: %w", engine.ErrSigningRejected)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	pub := k.key.PublicKey()
	signed := false
	if _, err := tx.PartialSign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(pub) {
			signed = true
			return &k.key
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}
	if !signed {
		return fmt.Errorf("%s is not a signer of this transaction", pub)
	}
	k.logger.DebugContext(ctx, "transaction signed", "signer", pub.String())
	return nil
}

func summarize(tx *solanago.Transaction) Summary {
	s := Summary{Instructions: len(tx.Message.Instructions)}
	if len(tx.Message.AccountKeys) > 0 {
		s.FeePayer = tx.Message.AccountKeys[0]
	}
	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) < len(tx.Message.AccountKeys) {
			s.Programs = append(s.Programs, tx.Message.AccountKeys[ix.ProgramIDIndex])
		}
	}
	return s
}
