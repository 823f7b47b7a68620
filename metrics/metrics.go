// Package metrics exposes Prometheus metrics on a dedicated listener,
// separate from the API server so scrapes never contend with API traffic.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsCreated counts consensus requests created, by request type.
	RequestsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_consensus_requests_created_total",
		Help: "Number of consensus requests created",
	}, []string{"request_type"})

	// VotesRecorded counts recorded guardian votes, by decision.
	VotesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_consensus_votes_recorded_total",
		Help: "Number of guardian votes recorded",
	}, []string{"decision"})

	// RelayPublishes counts per-relay publish outcomes.
	RelayPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_relay_publishes_total",
		Help: "Number of relay publish attempts by final outcome",
	}, []string{"outcome"})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardian_rate_limited_total",
		Help: "Number of requests rejected by the rate limiter",
	})
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr. The service name is kept
// for parity with the API server configuration but not otherwise used.
func New(service, addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving scrapes until Shutdown is called.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
