package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// IPFSBackend stores shard records in an IPFS node's mutable file system,
// keyed by shard ID so records stay addressable by content hash. Shards
// are double-encrypted before they reach any backend, so ciphertext on a
// public DHT discloses nothing.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates an IPFS shard backend connected to the node API
// at host:port.
func NewIPFSBackend(host, port string, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)

	return &IPFSBackend{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/", apiURL),
	}, nil
}

// Fetch retrieves a shard record by ID.
func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ShardID) ([]byte, error) {
	if !b.shell.IsUp() {
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := b.shell.FilesRead(ctx, b.mfsPath(id))
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return nil, interfaces.ErrShardNotFound
		}
		return nil, fmt.Errorf("failed to read shard from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read IPFS response: %w", err)
	}

	b.log.Debug("Fetched shard from IPFS",
		slog.String("shard_id", id.String()),
		slog.Int("size", len(data)))

	return data, nil
}

// Store writes a shard record and returns its content-addressed ID.
func (b *IPFSBackend) Store(ctx context.Context, data []byte) (interfaces.ShardID, error) {
	id := interfaces.ComputeShardID(data)

	if !b.shell.IsUp() {
		return id, interfaces.ErrBackendUnavailable
	}

	err := b.shell.FilesWrite(ctx, b.mfsPath(id), bytes.NewReader(data),
		shell.FilesWrite.Create(true), shell.FilesWrite.Parents(true))
	if err != nil {
		return id, fmt.Errorf("failed to write shard to IPFS: %w", err)
	}

	b.log.Debug("Stored shard in IPFS", slog.String("shard_id", id.String()))
	return id, nil
}

// Delete removes a shard record from the node's file system.
func (b *IPFSBackend) Delete(ctx context.Context, id interfaces.ShardID) error {
	if !b.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	if err := b.shell.FilesRm(ctx, b.mfsPath(id), true); err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return nil
		}
		return fmt.Errorf("failed to remove shard from IPFS: %w", err)
	}
	return nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI this backend was created from.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) mfsPath(id interfaces.ShardID) string {
	return fmt.Sprintf("/guardian-shards/%s", id)
}
