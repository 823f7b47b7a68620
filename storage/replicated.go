package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// ReplicatedBackend implements interfaces.ShardBackend across multiple
// backends. Store replicates to every available backend; Fetch returns
// from the first backend holding the record; Delete removes from all.
type ReplicatedBackend struct {
	backends []interfaces.ShardBackend
	log      *slog.Logger
}

// NewReplicatedBackend creates a replicating backend over the given set.
func NewReplicatedBackend(backends []interfaces.ShardBackend, log *slog.Logger) *ReplicatedBackend {
	if log == nil {
		log = slog.Default()
	}

	return &ReplicatedBackend{
		backends: backends,
		log:      log,
	}
}

// Fetch returns the record from the first available backend holding it.
func (r *ReplicatedBackend) Fetch(ctx context.Context, id interfaces.ShardID) ([]byte, error) {
	start := time.Now()
	var errs []error

	for _, backend := range r.backends {
		if !backend.Available(ctx) {
			r.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("shard_id", id.String()))
			continue
		}

		data, err := backend.Fetch(ctx, id)
		if err == nil {
			r.log.Debug("Fetched shard",
				slog.String("backend_name", backend.Name()),
				slog.String("shard_id", id.String()),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		r.log.Debug("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("shard_id", id.String()),
			"err", err)
	}

	r.log.Error("All backends failed to fetch shard",
		slog.String("shard_id", id.String()),
		slog.Int("failed_backends", len(errs)))

	return nil, fmt.Errorf("all backends failed to fetch shard %s: %v", id, errs)
}

// Store replicates the record to every available backend. Success requires
// at least one backend to accept it.
func (r *ReplicatedBackend) Store(ctx context.Context, data []byte) (interfaces.ShardID, error) {
	id := interfaces.ComputeShardID(data)
	var stored int
	var errs []error

	for _, backend := range r.backends {
		if !backend.Available(ctx) {
			r.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			continue
		}

		if _, err := backend.Store(ctx, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			r.log.Warn("Failed to store shard to backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}
		stored++
	}

	if stored == 0 {
		return id, fmt.Errorf("all backends failed to store shard: %v", errs)
	}

	r.log.Info("Shard replicated",
		slog.String("shard_id", id.String()),
		slog.Int("replicas", stored))

	return id, nil
}

// Delete removes the record from every backend. Partial failure is
// reported so revocation can be retried.
func (r *ReplicatedBackend) Delete(ctx context.Context, id interfaces.ShardID) error {
	var errs []error

	for _, backend := range r.backends {
		if !backend.Available(ctx) {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}
		if err := backend.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to delete shard %s from %d backends: %v", id, len(errs), errs)
	}
	return nil
}

// Available reports whether any backend is available.
func (r *ReplicatedBackend) Available(ctx context.Context) bool {
	for _, backend := range r.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend.
func (r *ReplicatedBackend) Name() string {
	return "replicated"
}

// LocationURI returns a combined URI of all member backends.
func (r *ReplicatedBackend) LocationURI() string {
	locations := make([]string, 0, len(r.backends))
	for _, backend := range r.backends {
		locations = append(locations, backend.LocationURI())
	}
	return "replicated:[" + strings.Join(locations, ",") + "]"
}
