package shardvault

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// Record is the persisted form of a guardian shard. Rows are immutable:
// rotation inserts a new record and updates the owner's share-index
// pointers, and only explicit revocation deletes one.
type Record struct {
	OwnerRef  string          `json:"owner_ref"`
	ShareType string          `json:"share_type"`
	Encrypted DoubleEncrypted `json:"encrypted"`

	ShareIndex *int       `json:"share_index,omitempty"`
	Threshold  *int       `json:"threshold_required,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Card is an owner's hardware token or identity card entry.
type Card struct {
	Ref   string
	Owner interfaces.OwnerRef

	// HashAvailable reports whether the card's identity hash has been
	// computed out-of-band. Signing cannot be enabled without it.
	HashAvailable bool

	SigningEnabled bool
}

// CardDirectory resolves cards and maintains owner records. The share
// index it keeps is a convenience pointer list, not the source of truth.
type CardDirectory interface {
	// Card returns the card if it exists and is owned by owner.
	// Returns interfaces.ErrCardNotFound otherwise.
	Card(ctx context.Context, cardRef string, owner interfaces.OwnerRef) (*Card, error)

	// EnableSigning sets the signing-capable flag on the card's owner
	// record. Idempotent: reports whether the flag was newly set.
	EnableSigning(ctx context.Context, cardRef string) (bool, error)

	// AppendShareIndex appends a shard ID to the owner's share-index list.
	AppendShareIndex(ctx context.Context, owner interfaces.OwnerRef, id interfaces.ShardID) error
}

// EnableSigningParams carries the validated input of an enable-signing
// call. Share is the raw secret share; it is encrypted before anything
// else sees it.
type EnableSigningParams struct {
	Owner     interfaces.OwnerRef
	CardRef   string
	ShareType interfaces.ShareType
	Share     []byte

	ShareIndex *int
	Threshold  *int
	ExpiresAt  *time.Time
}

// Vault owns shard custody: layered encryption, persistence and the
// signing-capable flag lifecycle.
type Vault struct {
	cipher  *Cipher
	backend interfaces.ShardBackend
	cards   CardDirectory
	clock   interfaces.Clock
	log     *slog.Logger
}

// New creates a vault. A nil clock defaults to wall time.
func New(cipher *Cipher, backend interfaces.ShardBackend, cards CardDirectory, clock interfaces.Clock, log *slog.Logger) *Vault {
	if clock == nil {
		clock = interfaces.ClockFunc(time.Now)
	}
	if log == nil {
		log = slog.Default()
	}

	return &Vault{
		cipher:  cipher,
		backend: backend,
		cards:   cards,
		clock:   clock,
		log:     log,
	}
}

// EnableSigning verifies card ownership, ensures the signing-capable flag
// is set, encrypts the share under both layers and persists the shard
// record. A failure to update the owner's share index is logged but does
// not roll back the insert.
func (v *Vault) EnableSigning(ctx context.Context, params EnableSigningParams) (interfaces.ShardID, error) {
	card, err := v.cards.Card(ctx, params.CardRef, params.Owner)
	if err != nil {
		return interfaces.ShardID{}, err
	}
	if !card.HashAvailable {
		return interfaces.ShardID{}, interfaces.ErrCardHashUnavailable
	}

	encrypted, err := v.cipher.Encrypt(params.Share)
	if err != nil {
		return interfaces.ShardID{}, fmt.Errorf("failed to encrypt share: %w", err)
	}

	record := &Record{
		OwnerRef:   params.Owner.String(),
		ShareType:  params.ShareType.String(),
		Encrypted:  *encrypted,
		ShareIndex: params.ShareIndex,
		Threshold:  params.Threshold,
		ExpiresAt:  params.ExpiresAt,
		CreatedAt:  v.clock.Now().UTC(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return interfaces.ShardID{}, fmt.Errorf("failed to serialize shard record: %w", err)
	}

	id, err := v.backend.Store(ctx, data)
	if err != nil {
		return interfaces.ShardID{}, fmt.Errorf("%w: %v", interfaces.ErrShardPersistFailure, err)
	}

	newlySet, err := v.cards.EnableSigning(ctx, params.CardRef)
	if err != nil {
		return interfaces.ShardID{}, fmt.Errorf("failed to set signing flag: %w", err)
	}
	if newlySet {
		v.log.Info("Signing capability enabled",
			slog.String("card_ref", params.CardRef),
			slog.String("share_type", params.ShareType.String()))
	}

	if err := v.cards.AppendShareIndex(ctx, params.Owner, id); err != nil {
		// The index is a convenience pointer; the shard row is the source
		// of truth and stays inserted.
		v.log.Warn("Failed to update owner share index",
			slog.String("shard_id", id.String()),
			"err", err)
	}

	v.log.Info("Guardian shard stored",
		slog.String("shard_id", id.String()),
		slog.String("share_type", params.ShareType.String()))

	return id, nil
}

// RetrieveShare fetches a shard record and decrypts both layers. The
// caller must be the recorded owner.
func (v *Vault) RetrieveShare(ctx context.Context, id interfaces.ShardID, owner interfaces.OwnerRef) ([]byte, error) {
	record, err := v.fetchRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.OwnerRef != owner.String() {
		return nil, interfaces.ErrShardNotFound
	}

	if record.ExpiresAt != nil && v.clock.Now().After(*record.ExpiresAt) {
		return nil, fmt.Errorf("%w: shard expired", interfaces.ErrShardNotFound)
	}

	share, err := v.cipher.Decrypt(&record.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt shard %s: %w", id, err)
	}
	return share, nil
}

// RevokeShare deletes a shard record. Only the recorded owner may revoke.
func (v *Vault) RevokeShare(ctx context.Context, id interfaces.ShardID, owner interfaces.OwnerRef) error {
	record, err := v.fetchRecord(ctx, id)
	if err != nil {
		return err
	}

	if record.OwnerRef != owner.String() {
		return interfaces.ErrShardNotFound
	}

	if err := v.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete shard %s: %w", id, err)
	}

	v.log.Info("Guardian shard revoked", slog.String("shard_id", id.String()))
	return nil
}

func (v *Vault) fetchRecord(ctx context.Context, id interfaces.ShardID) (*Record, error) {
	data, err := v.backend.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt shard record %s: %w", id, err)
	}
	return &record, nil
}
