package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// VaultBackend stores shard records in HashiCorp Vault's KV v2 engine.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault shard backend using token
// authentication.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path within the mount (e.g. "guardian-shards")
//   - token: Vault token with read/write on the data path
func NewVaultBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Fetch retrieves a shard record by ID via the KV v2 API.
func (b *VaultBackend) Fetch(ctx context.Context, id interfaces.ShardID) ([]byte, error) {
	path := b.kvPath("data", id)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrShardNotFound
	}

	inner, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid KV v2 response for shard %s", id)
	}

	encoded, ok := inner["shard"].(string)
	if !ok {
		return nil, interfaces.ErrShardNotFound
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("corrupt shard encoding in Vault: %w", err)
	}

	b.log.Debug("Fetched shard from Vault",
		slog.String("path", path),
		slog.Int("size", len(data)))

	return data, nil
}

// Store writes a shard record and returns its content-addressed ID.
func (b *VaultBackend) Store(ctx context.Context, data []byte) (interfaces.ShardID, error) {
	id := interfaces.ComputeShardID(data)
	path := b.kvPath("data", id)

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"shard": base64.StdEncoding.EncodeToString(data),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, path, payload); err != nil {
		return id, fmt.Errorf("failed to write shard to Vault: %w", err)
	}

	b.log.Debug("Stored shard in Vault",
		slog.String("path", path),
		slog.String("shard_id", id.String()))

	return id, nil
}

// Delete removes a shard record, including all KV v2 metadata versions.
func (b *VaultBackend) Delete(ctx context.Context, id interfaces.ShardID) error {
	path := b.kvPath("metadata", id)
	if _, err := b.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("failed to delete shard from Vault: %w", err)
	}
	return nil
}

// Available checks the Vault health endpoint.
func (b *VaultBackend) Available(ctx context.Context) bool {
	health, err := b.client.Sys().HealthWithContext(ctx)
	if err != nil {
		b.log.Debug("Vault backend unavailable", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

// Name returns a unique identifier for this backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s", b.mountPath)
}

// LocationURI returns the URI this backend was created from.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) kvPath(op string, id interfaces.ShardID) string {
	return fmt.Sprintf("%s/%s/%s/%s", b.mountPath, op, b.dataPath, id)
}
