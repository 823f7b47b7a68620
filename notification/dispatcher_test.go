package notification

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/satnamapp/federation-guardian-backend/cryptoutils"
	"github.com/satnamapp/federation-guardian-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// protocolPickyRelay only accepts envelopes of one protocol.
type protocolPickyRelay struct {
	endpoint string
	accepts  interfaces.EnvelopeProtocol

	mu        sync.Mutex
	published []*interfaces.Envelope
}

func (r *protocolPickyRelay) Publish(ctx context.Context, env *interfaces.Envelope) error {
	if env.Protocol != r.accepts {
		return errors.New("unsupported message kind")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, env)
	return nil
}

func (r *protocolPickyRelay) Endpoint() string { return r.endpoint }

func (r *protocolPickyRelay) lastPublished() *interfaces.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.published) == 0 {
		return nil
	}
	return r.published[len(r.published)-1]
}

// failingEncoder always fails to encode.
type failingEncoder struct {
	protocol interfaces.EnvelopeProtocol
}

func (e *failingEncoder) Encode(*interfaces.GuardianMember, *interfaces.NotificationPayload) (*interfaces.Envelope, error) {
	return nil, errors.New("no session key")
}

func (e *failingEncoder) Protocol() interfaces.EnvelopeProtocol { return e.protocol }

func testRecipient(t *testing.T) (*interfaces.GuardianMember, []byte) {
	t.Helper()

	privPEM, pubPEM, err := cryptoutils.GenerateRecipientKeypair()
	require.NoError(t, err)

	id, err := interfaces.NewGuardianIDFromBytes(make([]byte, 32))
	require.NoError(t, err)

	return &interfaces.GuardianMember{
		ID:           id,
		Role:         interfaces.RoleGuardian,
		NotifyPubkey: pubPEM,
	}, privPEM
}

func testPayload() *interfaces.NotificationPayload {
	return &interfaces.NotificationPayload{
		Kind:        interfaces.SignatureRequestMessage,
		RequestID:   interfaces.RequestID("req-1"),
		Description: "approve spending request",
		AmountSats:  21000,
	}
}

func TestDispatcher_GiftWrapDeliveredAndReadable(t *testing.T) {
	recipient, privPEM := testRecipient(t)
	relay := &protocolPickyRelay{endpoint: "wss://relay", accepts: interfaces.GiftWrapProtocol}

	var senderID interfaces.GuardianID
	copy(senderID[:], []byte("sender"))

	dispatcher := NewDispatcher(
		[]ProtocolEncoder{
			&GiftWrapEncoder{SenderID: senderID},
			&DirectEncoder{SenderID: senderID},
		},
		NewPublisher([]interfaces.RelayTransport{relay}, discardLogger()),
		discardLogger(),
	)

	result, err := dispatcher.Notify(context.Background(), recipient, testPayload(), interfaces.UrgencyNormal)
	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.Equal(t, interfaces.GiftWrapProtocol, result.Protocol)

	env := relay.lastPublished()
	require.NotNil(t, env)

	opened, err := OpenDirect(privPEM, env)
	require.NoError(t, err)
	assert.Equal(t, testPayload(), opened)
}

func TestDispatcher_FallsBackWhenGiftWrapEncodingFails(t *testing.T) {
	recipient, privPEM := testRecipient(t)
	relay := &protocolPickyRelay{endpoint: "wss://relay", accepts: interfaces.DirectEncryptProtocol}

	dispatcher := NewDispatcher(
		[]ProtocolEncoder{
			&failingEncoder{protocol: interfaces.GiftWrapProtocol},
			&DirectEncoder{},
		},
		NewPublisher([]interfaces.RelayTransport{relay}, discardLogger()),
		discardLogger(),
	)

	result, err := dispatcher.Notify(context.Background(), recipient, testPayload(), interfaces.UrgencyHigh)
	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.Equal(t, interfaces.DirectEncryptProtocol, result.Protocol)

	opened, err := OpenDirect(privPEM, relay.lastPublished())
	require.NoError(t, err)
	assert.Equal(t, testPayload(), opened)
}

func TestDispatcher_FallsBackWhenRelaysRejectGiftWrap(t *testing.T) {
	// The relay understands only directly encrypted messages, so the
	// gift-wrapped publish fails outright and the dispatcher retries with
	// the weaker protocol.
	recipient, _ := testRecipient(t)
	relay := &protocolPickyRelay{endpoint: "wss://relay", accepts: interfaces.DirectEncryptProtocol}

	dispatcher := NewDispatcher(
		[]ProtocolEncoder{
			&GiftWrapEncoder{},
			&DirectEncoder{},
		},
		NewPublisher([]interfaces.RelayTransport{relay}, discardLogger()),
		discardLogger(),
	)

	result, err := dispatcher.Notify(context.Background(), recipient, testPayload(), interfaces.UrgencyNormal)
	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.Equal(t, interfaces.DirectEncryptProtocol, result.Protocol)
}

func TestDispatcher_AllEncodersFail(t *testing.T) {
	recipient, _ := testRecipient(t)
	recipient.NotifyPubkey = nil

	dispatcher := NewDispatcher(
		[]ProtocolEncoder{&GiftWrapEncoder{}, &DirectEncoder{}},
		NewPublisher(nil, discardLogger()),
		discardLogger(),
	)

	result, err := dispatcher.Notify(context.Background(), recipient, testPayload(), interfaces.UrgencyNormal)
	assert.ErrorIs(t, err, interfaces.ErrNoProtocol)
	assert.Nil(t, result)
}

func TestDispatcher_AllRelaysReject(t *testing.T) {
	recipient, _ := testRecipient(t)
	relays := []interfaces.RelayTransport{
		&scriptedRelay{endpoint: "wss://relay-1", failuresBeforeSuccess: -1},
		&scriptedRelay{endpoint: "wss://relay-2", failuresBeforeSuccess: -1},
	}

	dispatcher := NewDispatcher(
		[]ProtocolEncoder{&DirectEncoder{}},
		NewPublisher(relays, discardLogger()),
		discardLogger(),
	)

	result, err := dispatcher.Notify(context.Background(), recipient, testPayload(), interfaces.UrgencyNormal)
	assert.ErrorIs(t, err, interfaces.ErrAllRelaysFailed)
	require.NotNil(t, result)
	assert.False(t, result.Delivered)
	assert.Len(t, result.Reports, 2)
}

func TestGiftWrap_HidesSenderFromOuterLayer(t *testing.T) {
	recipient, privPEM := testRecipient(t)

	var senderID interfaces.GuardianID
	copy(senderID[:], []byte("hidden-sender"))

	encoder := &GiftWrapEncoder{SenderID: senderID}
	env, err := encoder.Encode(recipient, testPayload())
	require.NoError(t, err)

	// The outer layer decrypts to a wrap that carries only the sealed
	// ciphertext and padding, nothing naming the sender.
	outer, err := cryptoutils.DecryptWithRecipientKey(privPEM, env.Ciphertext)
	require.NoError(t, err)
	assert.NotContains(t, string(outer), senderID.String())

	opened, err := OpenDirect(privPEM, env)
	require.NoError(t, err)
	assert.Equal(t, testPayload(), opened)
}
