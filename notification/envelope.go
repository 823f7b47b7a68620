// Package notification delivers encrypted payloads to guardian identities
// over a set of independent transport relays. Messages are wrapped by the
// strongest available privacy protocol: a gift-wrapped sealed envelope
// that hides sender and recipient metadata from relay observers, with a
// plain direct-encryption fallback so delivery never blocks on gift-wrap
// availability.
package notification

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"

	"github.com/satnamapp/federation-guardian-backend/cryptoutils"
	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// ProtocolEncoder produces a finalized envelope for one privacy protocol.
// Encoders are tried in order by the dispatcher; each returns a typed
// result and the first success wins.
type ProtocolEncoder interface {
	// Encode encrypts the payload for the recipient.
	Encode(recipient *interfaces.GuardianMember, payload *interfaces.NotificationPayload) (*interfaces.Envelope, error)

	// Protocol identifies the encoding this encoder produces.
	Protocol() interfaces.EnvelopeProtocol
}

// sealedMessage is the inner, sender-identifying message of a gift wrap.
type sealedMessage struct {
	Sender  string                          `json:"sender"`
	Payload *interfaces.NotificationPayload `json:"payload"`
}

// giftWrap is the outer envelope. It carries only the sealed ciphertext
// and random padding; nothing about the sender survives in the clear.
type giftWrap struct {
	Sealed  []byte `json:"sealed"`
	Padding []byte `json:"padding"`
}

// GiftWrapEncoder implements the sealed-envelope protocol: the payload and
// sender identity are encrypted to the recipient (the seal), then the seal
// is encrypted again under a fresh ephemeral key with random-length
// padding, so relay observers learn neither sender nor message size.
type GiftWrapEncoder struct {
	// SenderID identifies this instance inside the seal. Only the
	// recipient can recover it.
	SenderID interfaces.GuardianID
}

// Encode produces a gift-wrapped envelope for the recipient.
func (e *GiftWrapEncoder) Encode(recipient *interfaces.GuardianMember, payload *interfaces.NotificationPayload) (*interfaces.Envelope, error) {
	if len(recipient.NotifyPubkey) == 0 {
		return nil, fmt.Errorf("recipient %s has no notification key", recipient.ID)
	}

	inner, err := json.Marshal(&sealedMessage{
		Sender:  e.SenderID.String(),
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize sealed message: %w", err)
	}

	sealed, err := cryptoutils.EncryptToRecipient(recipient.NotifyPubkey, inner)
	if err != nil {
		return nil, fmt.Errorf("failed to seal message: %w", err)
	}

	padding, err := randomPadding()
	if err != nil {
		return nil, err
	}

	wrapped, err := json.Marshal(&giftWrap{Sealed: sealed, Padding: padding})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize gift wrap: %w", err)
	}

	ciphertext, err := cryptoutils.EncryptToRecipient(recipient.NotifyPubkey, wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap message: %w", err)
	}

	return &interfaces.Envelope{
		Protocol:   interfaces.GiftWrapProtocol,
		Recipient:  recipient.ID,
		Ciphertext: ciphertext,
	}, nil
}

// Protocol returns GiftWrapProtocol.
func (e *GiftWrapEncoder) Protocol() interfaces.EnvelopeProtocol {
	return interfaces.GiftWrapProtocol
}

// DirectEncoder implements the fallback protocol: a single encryption of
// the payload to the recipient, without metadata protection.
type DirectEncoder struct {
	SenderID interfaces.GuardianID
}

// Encode produces a directly encrypted envelope for the recipient.
func (e *DirectEncoder) Encode(recipient *interfaces.GuardianMember, payload *interfaces.NotificationPayload) (*interfaces.Envelope, error) {
	if len(recipient.NotifyPubkey) == 0 {
		return nil, fmt.Errorf("recipient %s has no notification key", recipient.ID)
	}

	plain, err := json.Marshal(&sealedMessage{
		Sender:  e.SenderID.String(),
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}

	ciphertext, err := cryptoutils.EncryptToRecipient(recipient.NotifyPubkey, plain)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message: %w", err)
	}

	return &interfaces.Envelope{
		Protocol:   interfaces.DirectEncryptProtocol,
		Recipient:  recipient.ID,
		Ciphertext: ciphertext,
	}, nil
}

// Protocol returns DirectEncryptProtocol.
func (e *DirectEncoder) Protocol() interfaces.EnvelopeProtocol {
	return interfaces.DirectEncryptProtocol
}

// OpenDirect decrypts an envelope produced by either encoder using the
// recipient's private key PEM. Gift wraps are unwrapped layer by layer.
// Exported for recipient-side tooling and tests.
func OpenDirect(privateKeyPEM []byte, env *interfaces.Envelope) (*interfaces.NotificationPayload, error) {
	outer, err := cryptoutils.DecryptWithRecipientKey(privateKeyPEM, env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to open envelope: %w", err)
	}

	if env.Protocol == interfaces.GiftWrapProtocol {
		var wrap giftWrap
		if err := json.Unmarshal(outer, &wrap); err != nil {
			return nil, fmt.Errorf("malformed gift wrap: %w", err)
		}

		outer, err = cryptoutils.DecryptWithRecipientKey(privateKeyPEM, wrap.Sealed)
		if err != nil {
			return nil, fmt.Errorf("failed to open seal: %w", err)
		}
	}

	var msg sealedMessage
	if err := json.Unmarshal(outer, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	return msg.Payload, nil
}

// randomPadding returns 1-256 random bytes to mask message size.
func randomPadding() ([]byte, error) {
	var sizeByte [1]byte
	if _, err := io.ReadFull(rand.Reader, sizeByte[:]); err != nil {
		return nil, fmt.Errorf("failed to generate padding: %w", err)
	}

	padding := make([]byte, int(sizeByte[0])+1)
	if _, err := io.ReadFull(rand.Reader, padding); err != nil {
		return nil, fmt.Errorf("failed to generate padding: %w", err)
	}
	return padding, nil
}
