package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/satnamapp/federation-guardian-backend/cryptoutils"
	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// rewrapRecord is the persisted form of a rewrapped secret. Only the
// ciphertext is stored; the recovery key holder decrypts it client-side.
type rewrapRecord struct {
	OwnerRef   string    `json:"owner_ref"`
	Ciphertext []byte    `json:"ciphertext"`
	CreatedAt  time.Time `json:"created_at"`
}

// RewrapSink re-encrypts the recovered secret to the requester's recovery
// public key and parks the ciphertext in a shard backend for pickup. The
// plaintext exists only on the stack between recombination and
// re-encryption.
type RewrapSink struct {
	backend interfaces.ShardBackend
	clock   interfaces.Clock
	log     *slog.Logger
}

// NewRewrapSink creates a sink over the given backend.
func NewRewrapSink(backend interfaces.ShardBackend, clock interfaces.Clock, log *slog.Logger) *RewrapSink {
	if clock == nil {
		clock = interfaces.SystemClock()
	}
	if log == nil {
		log = slog.Default()
	}

	return &RewrapSink{backend: backend, clock: clock, log: log}
}

// Deliver encrypts the secret to recoveryPubkey and stores the result.
func (s *RewrapSink) Deliver(ctx context.Context, owner interfaces.OwnerRef, recoveryPubkey, secret []byte) error {
	if len(recoveryPubkey) == 0 {
		return fmt.Errorf("no recovery public key in payload")
	}

	ciphertext, err := cryptoutils.EncryptToRecipient(recoveryPubkey, secret)
	if err != nil {
		return fmt.Errorf("failed to rewrap recovered secret: %w", err)
	}

	data, err := json.Marshal(&rewrapRecord{
		OwnerRef:   owner.String(),
		Ciphertext: ciphertext,
		CreatedAt:  s.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to serialize rewrap record: %w", err)
	}

	id, err := s.backend.Store(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to store rewrapped secret: %w", err)
	}

	s.log.Info("Recovered secret rewrapped for pickup",
		slog.String("record_id", id.String()))
	return nil
}

// OpenRewrapped decrypts a stored rewrap record with the recovery private
// key PEM. Client-side helper for pickup tooling and tests.
func OpenRewrapped(privateKeyPEM, data []byte) ([]byte, error) {
	var record rewrapRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt rewrap record: %w", err)
	}

	secret, err := cryptoutils.DecryptWithRecipientKey(privateKeyPEM, record.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to open rewrap record: %w", err)
	}
	return secret, nil
}
