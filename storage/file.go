package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// FileBackend stores shard records on the local file system, one file per
// shard named by its content-addressed ID.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file backend rooted at baseDir, creating the
// directory if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	shardDir := filepath.Join(baseDir, "shards")
	if err := os.MkdirAll(shardDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create shard directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Fetch retrieves a shard record by ID. Returns ErrShardNotFound if the
// file does not exist.
func (b *FileBackend) Fetch(ctx context.Context, id interfaces.ShardID) ([]byte, error) {
	path := b.shardPath(id)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, interfaces.ErrShardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read shard file: %w", err)
	}

	b.log.Debug("Fetched shard from file",
		slog.String("path", path),
		slog.Int("size", len(data)))

	return data, nil
}

// Store writes a shard record and returns its content-addressed ID.
func (b *FileBackend) Store(ctx context.Context, data []byte) (interfaces.ShardID, error) {
	id := interfaces.ComputeShardID(data)
	path := b.shardPath(id)

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return id, fmt.Errorf("failed to write shard file: %w", err)
	}

	b.log.Debug("Stored shard in file",
		slog.String("path", path),
		slog.String("shard_id", id.String()))

	return id, nil
}

// Delete removes a shard record. Deleting a missing shard is not an error.
func (b *FileBackend) Delete(ctx context.Context, id interfaces.ShardID) error {
	err := os.Remove(b.shardPath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete shard file: %w", err)
	}
	return nil
}

// Available verifies the base directory still exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI this backend was created from.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) shardPath(id interfaces.ShardID) string {
	return filepath.Join(b.baseDir, "shards", id.String())
}
