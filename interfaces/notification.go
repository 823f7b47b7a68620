package interfaces

import (
	"context"
	"time"
)

// EnvelopeProtocol identifies which encoding produced a notification
// envelope. Protocols are tried in order; GiftWrap first, DirectEncrypt
// when gift-wrapping is unavailable.
type EnvelopeProtocol int

const (
	// GiftWrapProtocol hides sender and recipient metadata from relay
	// observers behind an ephemeral outer layer.
	GiftWrapProtocol EnvelopeProtocol = iota
	// DirectEncryptProtocol encrypts the payload to the recipient without
	// metadata protection.
	DirectEncryptProtocol
)

// String returns the protocol name.
func (p EnvelopeProtocol) String() string {
	switch p {
	case GiftWrapProtocol:
		return "gift-wrap"
	case DirectEncryptProtocol:
		return "direct-encrypt"
	default:
		return "unknown"
	}
}

// MessageKind discriminates notification payloads so the recipient can
// decide without contacting another service.
type MessageKind string

const (
	SignatureRequestMessage MessageKind = "signature_request"
	OTPMessage              MessageKind = "otp"
	RecoveryNoticeMessage   MessageKind = "recovery_notice"
)

// Urgency hints at delivery priority for a notification.
type Urgency int

const (
	UrgencyNormal Urgency = iota
	UrgencyHigh
)

// NotificationPayload is the plaintext content of a guardian notification.
type NotificationPayload struct {
	Kind        MessageKind     `json:"kind"`
	RequestID   RequestID       `json:"request_id,omitempty"`
	GroupID     string          `json:"group_id,omitempty"`
	Description string          `json:"description,omitempty"`
	AmountSats  uint64          `json:"amount_sats,omitempty"`
	Deadline    time.Time       `json:"deadline,omitempty"`
	OTP         string          `json:"otp,omitempty"`
}

// Envelope is a finalized, encrypted notification ready for relay publish.
type Envelope struct {
	Protocol   EnvelopeProtocol
	Recipient  GuardianID
	Ciphertext []byte
}

// RelayTransport is one independent message-transport endpoint.
type RelayTransport interface {
	// Publish submits the envelope, honoring ctx cancellation. A nil error
	// means the relay accepted the message.
	Publish(ctx context.Context, env *Envelope) error

	// Endpoint returns the relay's address for logging and reports.
	Endpoint() string
}

// DeliveryOutcome is the final result of publishing to one relay.
type DeliveryOutcome int

const (
	DeliverySuccess DeliveryOutcome = iota
	DeliveryTimeout
	DeliveryError
)

// String returns the outcome name.
func (o DeliveryOutcome) String() string {
	switch o {
	case DeliverySuccess:
		return "success"
	case DeliveryTimeout:
		return "timeout"
	case DeliveryError:
		return "error"
	default:
		return "unknown"
	}
}

// DeliveryReport describes the retry budget spent on one relay. Reports
// are transient; they are returned to the caller and never persisted.
type DeliveryReport struct {
	Endpoint string
	Attempts int
	Outcome  DeliveryOutcome
	Elapsed  time.Duration
	Err      error
}
