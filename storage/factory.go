package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// Factory creates shard backends from location URIs and assembles
// replicated configurations.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a backend factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// BackendFor creates a shard backend from a location URI.
//
// Supported schemes:
//   - file:///var/lib/guardian (local filesystem)
//   - s3://access:secret@bucket/prefix?region=us-east-1&endpoint=... (S3)
//   - vault://token@vault.example.com:8200/secret/guardian-shards (Vault KV v2)
//   - ipfs://127.0.0.1:5001 (IPFS node API)
func (f *Factory) BackendFor(location interfaces.ShardBackendLocation) (interfaces.ShardBackend, error) {
	u, err := url.Parse(string(location))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return NewFileBackend(u.Path, f.log)
	case "s3":
		return f.createS3Backend(u)
	case "vault":
		return f.createVaultBackend(u)
	case "ipfs":
		return f.createIPFSBackend(u)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// ReplicatedBackendFrom creates a replicated backend from a list of
// location URIs, skipping URIs that fail to produce a backend. Returns an
// error only if no backend could be created.
func (f *Factory) ReplicatedBackendFrom(locations []interfaces.ShardBackendLocation) (interfaces.ShardBackend, error) {
	backends := make([]interfaces.ShardBackend, 0, len(locations))

	for _, location := range locations {
		backend, err := f.BackendFor(location)
		if err != nil {
			f.log.Warn("Failed to create shard backend",
				slog.String("location", string(location)),
				"err", err)
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid shard backends created")
	}
	if len(backends) == 1 {
		return backends[0], nil
	}

	return NewReplicatedBackend(backends, f.log), nil
}

func (f *Factory) createS3Backend(u *url.URL) (interfaces.ShardBackend, error) {
	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Backend(u.Host, strings.TrimPrefix(u.Path, "/"), region, query.Get("endpoint"), accessKey, secretKey, f.log)
}

func (f *Factory) createVaultBackend(u *url.URL) (interfaces.ShardBackend, error) {
	var token string
	if u.User != nil {
		token = u.User.Username()
	}

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: vault URI needs /mount/path", interfaces.ErrInvalidLocationURI)
	}

	scheme := "https"
	if u.Query().Get("insecure") == "true" {
		scheme = "http"
	}

	return NewVaultBackend(fmt.Sprintf("%s://%s", scheme, u.Host), parts[0], parts[1], token, f.log)
}

func (f *Factory) createIPFSBackend(u *url.URL) (interfaces.ShardBackend, error) {
	port := u.Port()
	if port == "" {
		port = "5001"
	}
	return NewIPFSBackend(u.Hostname(), port, f.log)
}
