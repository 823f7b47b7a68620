// Package recovery executes approved key-recovery requests: it collects
// the owner's guardian shards, recombines the Shamir-split secret and
// hands the result to a delivery sink. The plaintext secret never leaves
// the executor except through the sink.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hashicorp/vault/shamir"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
	"github.com/satnamapp/federation-guardian-backend/shardvault"
)

// Payload is the type-specific payload of a key-recovery request.
type Payload struct {
	OwnerRef string   `json:"owner_ref"`
	ShardIDs []string `json:"shard_ids"`

	// RecoveryPubkey is the PEM public key the recovered secret is
	// re-encrypted to before it leaves the executor.
	RecoveryPubkey []byte `json:"recovery_pubkey"`
}

// SecretSink receives the recombined secret. Implementations must not
// persist or log the plaintext.
type SecretSink interface {
	Deliver(ctx context.Context, owner interfaces.OwnerRef, recoveryPubkey, secret []byte) error
}

// Executor implements interfaces.ActionExecutor for key-recovery and
// account-restoration requests.
type Executor struct {
	vault *shardvault.Vault
	sink  SecretSink
	log   *slog.Logger
}

// NewExecutor creates a recovery executor over the given vault and sink.
func NewExecutor(vault *shardvault.Vault, sink SecretSink, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}

	return &Executor{vault: vault, sink: sink, log: log}
}

// Execute retrieves every shard named by the request payload, recombines
// the secret and delivers it through the sink. Any missing or corrupt
// shard fails the whole recovery; the request stays approved and
// retryable.
func (e *Executor) Execute(ctx context.Context, req *interfaces.ConsensusRequest) error {
	var payload Payload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return fmt.Errorf("malformed recovery payload: %w", err)
	}
	if len(payload.ShardIDs) == 0 {
		return fmt.Errorf("recovery payload names no shards")
	}

	owner, err := interfaces.NewOwnerRefFromHex(payload.OwnerRef)
	if err != nil {
		return fmt.Errorf("malformed owner reference: %w", err)
	}

	shares := make([][]byte, 0, len(payload.ShardIDs))
	for _, raw := range payload.ShardIDs {
		id, err := interfaces.NewShardIDFromHex(raw)
		if err != nil {
			return fmt.Errorf("malformed shard id %q: %w", raw, err)
		}

		share, err := e.vault.RetrieveShare(ctx, id, owner)
		if err != nil {
			return fmt.Errorf("failed to retrieve shard %s: %w", id, err)
		}
		shares = append(shares, share)
	}

	secret, err := recombine(shares)
	if err != nil {
		return err
	}

	if err := e.sink.Deliver(ctx, owner, payload.RecoveryPubkey, secret); err != nil {
		return fmt.Errorf("failed to deliver recovered secret: %w", err)
	}

	e.log.Info("Recovery executed",
		slog.String("request_id", string(req.ID)),
		slog.Int("shards", len(shares)))
	return nil
}

// recombine reconstructs the secret from its shares. A single share is
// the whole secret (unsplit custody); two or more go through Shamir
// combination.
func recombine(shares [][]byte) ([]byte, error) {
	if len(shares) == 1 {
		return shares[0], nil
	}

	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to recombine shares: %w", err)
	}
	return secret, nil
}
