package interfaces

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ShardID is the SHA-256 hash of a serialized guardian shard record,
// uniquely identifying it across every storage backend.
type ShardID [32]byte

// NewShardIDFromBytes creates a shard ID from a 32-byte slice.
func NewShardIDFromBytes(source []byte) (ShardID, error) {
	if len(source) != 32 {
		return ShardID{}, errors.New("invalid shard ID length: must be 32 bytes")
	}

	var id ShardID
	copy(id[:], source)
	return id, nil
}

// NewShardIDFromHex creates a shard ID from a 64-character hex string.
func NewShardIDFromHex(source string) (ShardID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return ShardID{}, errors.New("invalid shard ID length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return ShardID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewShardIDFromBytes(raw)
}

// ComputeShardID calculates the content-addressed ID of a shard record.
func ComputeShardID(data []byte) ShardID {
	return ShardID(sha256.Sum256(data))
}

// String returns the hex representation of the shard ID.
func (id ShardID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte hash.
func (id ShardID) Bytes() []byte {
	return id[:]
}

// Equal compares two shard IDs.
func (id ShardID) Equal(other ShardID) bool {
	return bytes.Equal(id[:], other[:])
}

// ShardBackend stores serialized, double-encrypted guardian shard records.
// Backends only ever see ciphertext bundles.
type ShardBackend interface {
	// Fetch retrieves a shard record by ID. Returns ErrShardNotFound if
	// the backend does not hold it.
	Fetch(ctx context.Context, id ShardID) ([]byte, error)

	// Store persists a shard record, returning its content-addressed ID.
	Store(ctx context.Context, data []byte) (ShardID, error)

	// Delete removes a shard record. Used only by explicit revocation.
	Delete(ctx context.Context, id ShardID) error

	// Available reports whether the backend is currently reachable.
	Available(ctx context.Context) bool

	// Name returns a unique identifier for the backend.
	Name() string

	// LocationURI returns the URI the backend was created from.
	LocationURI() string
}

// ShardBackendLocation is a validated storage backend URI.
type ShardBackendLocation string

// NewShardBackendLocation validates a backend URI string.
func NewShardBackendLocation(uri string) (ShardBackendLocation, error) {
	scheme, _, found := strings.Cut(uri, "://")
	if !found {
		return "", fmt.Errorf("%w: missing scheme in %q", ErrInvalidLocationURI, uri)
	}

	switch strings.ToLower(scheme) {
	case "file", "s3", "vault", "ipfs":
		return ShardBackendLocation(uri), nil
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, scheme)
	}
}
