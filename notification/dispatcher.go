package notification

import (
	"context"
	"log/slog"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// Result is the outcome of one notification dispatch.
type Result struct {
	// Delivered reports whether at least one relay accepted the message.
	Delivered bool

	// Protocol is the envelope protocol that was ultimately published.
	Protocol interfaces.EnvelopeProtocol

	// Reports is the per-relay outcome vector of the final publish.
	Reports []interfaces.DeliveryReport
}

// Dispatcher encrypts payloads and fans them out to the relay set. The
// encoder chain is ordered strongest-first; a failure to encode or to get
// any relay to accept an envelope moves on to the next protocol, so
// delivery never blocks solely because gift-wrapping is unavailable.
type Dispatcher struct {
	encoders  []ProtocolEncoder
	publisher *Publisher
	log       *slog.Logger
}

// NewDispatcher creates a dispatcher with the given encoder chain and
// publisher. Encoders are tried in slice order.
func NewDispatcher(encoders []ProtocolEncoder, publisher *Publisher, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		encoders:  encoders,
		publisher: publisher,
		log:       log,
	}
}

// Notify encrypts the payload for the recipient and publishes it. Returns
// interfaces.ErrNoProtocol if every encoder failed, or
// interfaces.ErrAllRelaysFailed alongside the final result if an envelope
// was produced but no relay accepted it. Callers in the consensus flow
// treat both as degraded guardian awareness, never as request failure.
func (d *Dispatcher) Notify(ctx context.Context, recipient *interfaces.GuardianMember, payload *interfaces.NotificationPayload, urgency interfaces.Urgency) (*Result, error) {
	var lastResult *Result
	encoded := false

	for _, encoder := range d.encoders {
		env, err := encoder.Encode(recipient, payload)
		if err != nil {
			d.log.Warn("Envelope encoding failed, trying next protocol",
				slog.String("protocol", encoder.Protocol().String()),
				slog.String("recipient", recipient.ID.String()),
				"err", err)
			continue
		}
		encoded = true

		reports := d.publisher.Publish(ctx, env)
		result := &Result{
			Delivered: Delivered(reports),
			Protocol:  encoder.Protocol(),
			Reports:   reports,
		}

		if result.Delivered {
			d.log.Info("Notification delivered",
				slog.String("protocol", encoder.Protocol().String()),
				slog.String("recipient", recipient.ID.String()),
				slog.String("kind", string(payload.Kind)),
				slog.Int("urgency", int(urgency)))
			return result, nil
		}

		d.log.Warn("No relay accepted envelope, trying next protocol",
			slog.String("protocol", encoder.Protocol().String()),
			slog.String("recipient", recipient.ID.String()))
		lastResult = result
	}

	if !encoded {
		return nil, interfaces.ErrNoProtocol
	}

	return lastResult, interfaces.ErrAllRelaysFailed
}
