package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRelay fails a fixed number of times before accepting, or always
// fails when failuresBeforeSuccess is negative.
type scriptedRelay struct {
	endpoint              string
	failuresBeforeSuccess int

	mu    sync.Mutex
	calls int
}

func (r *scriptedRelay) Publish(ctx context.Context, env *interfaces.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++

	if r.failuresBeforeSuccess < 0 || r.calls <= r.failuresBeforeSuccess {
		return errors.New("relay unavailable")
	}
	return nil
}

func (r *scriptedRelay) Endpoint() string { return r.endpoint }

func (r *scriptedRelay) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// hangingRelay blocks until its context is cancelled.
type hangingRelay struct {
	endpoint string
}

func (r *hangingRelay) Publish(ctx context.Context, env *interfaces.Envelope) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *hangingRelay) Endpoint() string { return r.endpoint }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEnvelope() *interfaces.Envelope {
	return &interfaces.Envelope{
		Protocol:   interfaces.DirectEncryptProtocol,
		Ciphertext: []byte("ciphertext"),
	}
}

func TestPublisher_OneRelaySucceedsOnFinalAttempt(t *testing.T) {
	// Two relays exhaust their budget; one succeeds on its last attempt.
	alwaysFailing1 := &scriptedRelay{endpoint: "wss://relay-1", failuresBeforeSuccess: -1}
	alwaysFailing2 := &scriptedRelay{endpoint: "wss://relay-2", failuresBeforeSuccess: -1}
	lastAttempt := &scriptedRelay{endpoint: "wss://relay-3", failuresBeforeSuccess: attemptsPerRelay - 1}

	publisher := NewPublisher([]interfaces.RelayTransport{alwaysFailing1, alwaysFailing2, lastAttempt}, discardLogger())
	reports := publisher.Publish(context.Background(), testEnvelope())

	require.Len(t, reports, 3)
	assert.True(t, Delivered(reports), "one accepting relay means overall success")

	byEndpoint := map[string]interfaces.DeliveryReport{}
	for _, report := range reports {
		byEndpoint[report.Endpoint] = report
	}

	assert.Equal(t, interfaces.DeliveryError, byEndpoint["wss://relay-1"].Outcome)
	assert.Equal(t, attemptsPerRelay, byEndpoint["wss://relay-1"].Attempts)
	assert.Equal(t, interfaces.DeliveryError, byEndpoint["wss://relay-2"].Outcome)
	assert.Equal(t, interfaces.DeliverySuccess, byEndpoint["wss://relay-3"].Outcome)
	assert.Equal(t, attemptsPerRelay, byEndpoint["wss://relay-3"].Attempts)

	assert.Equal(t, attemptsPerRelay, lastAttempt.callCount(), "retry budget must be spent on the same relay")
}

func TestPublisher_AllRelaysFail(t *testing.T) {
	relays := []interfaces.RelayTransport{
		&scriptedRelay{endpoint: "wss://relay-1", failuresBeforeSuccess: -1},
		&scriptedRelay{endpoint: "wss://relay-2", failuresBeforeSuccess: -1},
	}

	publisher := NewPublisher(relays, discardLogger())
	reports := publisher.Publish(context.Background(), testEnvelope())

	assert.False(t, Delivered(reports))
	for _, report := range reports {
		assert.Equal(t, interfaces.DeliveryError, report.Outcome)
		assert.Error(t, report.Err)
	}
}

func TestPublisher_FirstAttemptSuccessSkipsBackoff(t *testing.T) {
	relay := &scriptedRelay{endpoint: "wss://relay", failuresBeforeSuccess: 0}

	publisher := NewPublisher([]interfaces.RelayTransport{relay}, discardLogger())

	start := time.Now()
	reports := publisher.Publish(context.Background(), testEnvelope())
	elapsed := time.Since(start)

	require.Len(t, reports, 1)
	assert.Equal(t, interfaces.DeliverySuccess, reports[0].Outcome)
	assert.Equal(t, 1, reports[0].Attempts)
	assert.Less(t, elapsed, backoffBase, "a first-attempt success must not back off")
}

func TestPublisher_CallerCancellationStopsRetries(t *testing.T) {
	relay := &hangingRelay{endpoint: "wss://hanging"}
	publisher := NewPublisher([]interfaces.RelayTransport{relay}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	reports := publisher.Publish(ctx, testEnvelope())
	elapsed := time.Since(start)

	require.Len(t, reports, 1)
	assert.False(t, Delivered(reports))
	assert.Less(t, elapsed, perAttemptTimeout, "caller cancellation must cut the retry budget short")
	assert.Less(t, reports[0].Attempts, attemptsPerRelay)
}

func TestPublisher_RelaysRunInParallel(t *testing.T) {
	// Ten relays that each succeed immediately; the fan-out should take
	// nowhere near ten sequential round trips.
	var relays []interfaces.RelayTransport
	for i := 0; i < 10; i++ {
		relays = append(relays, &scriptedRelay{endpoint: "wss://relay", failuresBeforeSuccess: 0})
	}

	publisher := NewPublisher(relays, discardLogger())
	reports := publisher.Publish(context.Background(), testEnvelope())

	assert.True(t, Delivered(reports))
	assert.Len(t, reports, 10)
}
