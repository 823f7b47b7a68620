package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
	"github.com/satnamapp/federation-guardian-backend/metrics"
)

const (
	// attemptsPerRelay is the retry budget for each relay.
	attemptsPerRelay = 3

	// perAttemptTimeout bounds a single publish attempt.
	perAttemptTimeout = 5 * time.Second

	// backoffBase is the delay before the second attempt; it doubles for
	// each further attempt on the same relay.
	backoffBase = 200 * time.Millisecond
)

// Publisher fans a finalized envelope out to every relay in its set.
// Relays are tried in parallel; one relay's retries never block another.
type Publisher struct {
	relays []interfaces.RelayTransport
	log    *slog.Logger
}

// NewPublisher creates a publisher over the given relay set (primary
// relays plus any fallback pool, already merged).
func NewPublisher(relays []interfaces.RelayTransport, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}

	return &Publisher{relays: relays, log: log}
}

// Publish submits the envelope to every relay independently and returns
// the per-relay outcome vector. Delivery succeeded if at least one relay
// accepted the message; the caller decides what a total failure means.
// No deadline is imposed beyond the per-attempt timeouts: a caller with
// an overall budget must cancel ctx itself.
func (p *Publisher) Publish(ctx context.Context, env *interfaces.Envelope) []interfaces.DeliveryReport {
	reports := make([]interfaces.DeliveryReport, len(p.relays))

	var wg sync.WaitGroup
	for i, relay := range p.relays {
		wg.Add(1)
		go func(i int, relay interfaces.RelayTransport) {
			defer wg.Done()
			reports[i] = p.publishToRelay(ctx, relay, env)
		}(i, relay)
	}
	wg.Wait()

	for _, report := range reports {
		metrics.RelayPublishes.WithLabelValues(report.Outcome.String()).Inc()
	}

	return reports
}

// Delivered reports whether at least one relay accepted the message.
func Delivered(reports []interfaces.DeliveryReport) bool {
	for _, report := range reports {
		if report.Outcome == interfaces.DeliverySuccess {
			return true
		}
	}
	return false
}

// publishToRelay spends the retry budget on one relay: up to
// attemptsPerRelay attempts, each bounded by perAttemptTimeout, with
// exponential backoff between attempts.
func (p *Publisher) publishToRelay(ctx context.Context, relay interfaces.RelayTransport, env *interfaces.Envelope) interfaces.DeliveryReport {
	start := time.Now()
	report := interfaces.DeliveryReport{Endpoint: relay.Endpoint()}

	backoff := backoffBase
	for attempt := 1; attempt <= attemptsPerRelay; attempt++ {
		report.Attempts = attempt

		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		err := relay.Publish(attemptCtx, env)
		cancel()

		if err == nil {
			report.Outcome = interfaces.DeliverySuccess
			report.Elapsed = time.Since(start)
			p.log.Debug("Relay accepted message",
				slog.String("relay", relay.Endpoint()),
				slog.Int("attempt", attempt),
				slog.Duration("elapsed", report.Elapsed))
			return report
		}

		if errors.Is(err, context.DeadlineExceeded) {
			report.Outcome = interfaces.DeliveryTimeout
		} else {
			report.Outcome = interfaces.DeliveryError
		}
		report.Err = err

		p.log.Debug("Relay publish attempt failed",
			slog.String("relay", relay.Endpoint()),
			slog.Int("attempt", attempt),
			"err", err)

		// The enclosing ctx is gone; retrying is pointless.
		if ctx.Err() != nil {
			break
		}

		if attempt < attemptsPerRelay {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				report.Elapsed = time.Since(start)
				return report
			}
			backoff *= 2
		}
	}

	report.Elapsed = time.Since(start)
	return report
}
