package recovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/hashicorp/vault/shamir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satnamapp/federation-guardian-backend/cryptoutils"
	"github.com/satnamapp/federation-guardian-backend/interfaces"
	"github.com/satnamapp/federation-guardian-backend/shardvault"
	"github.com/satnamapp/federation-guardian-backend/storage"
)

// captureSink records the delivered secret.
type captureSink struct {
	mu     sync.Mutex
	owner  interfaces.OwnerRef
	secret []byte
	err    error
}

func (s *captureSink) Deliver(ctx context.Context, owner interfaces.OwnerRef, recoveryPubkey, secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.owner = owner
	s.secret = append([]byte(nil), secret...)
	return nil
}

func testVault(t *testing.T) (*shardvault.Vault, *shardvault.MemoryDirectory) {
	t.Helper()

	cipher, err := shardvault.NewCipher(bytes.Repeat([]byte{0x11}, 32), bytes.Repeat([]byte{0x22}, 32))
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := storage.NewFileBackend(t.TempDir(), log)
	require.NoError(t, err)

	cards := shardvault.NewMemoryDirectory()
	return shardvault.New(cipher, backend, cards, nil, log), cards
}

func storeShares(t *testing.T, vault *shardvault.Vault, cards *shardvault.MemoryDirectory, owner interfaces.OwnerRef, shares [][]byte) []string {
	t.Helper()

	cards.AddCard(&shardvault.Card{Ref: "card-1", Owner: owner, HashAvailable: true})

	var ids []string
	for _, share := range shares {
		id, err := vault.EnableSigning(context.Background(), shardvault.EnableSigningParams{
			Owner:     owner,
			CardRef:   "card-1",
			ShareType: interfaces.FamilyShare,
			Share:     share,
		})
		require.NoError(t, err)
		ids = append(ids, id.String())
	}
	return ids
}

func recoveryRequest(t *testing.T, owner interfaces.OwnerRef, shardIDs []string, pubkey []byte) *interfaces.ConsensusRequest {
	t.Helper()

	payload, err := json.Marshal(&Payload{
		OwnerRef:       owner.String(),
		ShardIDs:       shardIDs,
		RecoveryPubkey: pubkey,
	})
	require.NoError(t, err)

	return &interfaces.ConsensusRequest{
		ID:      interfaces.RequestID("req-recovery"),
		Type:    interfaces.KeyRecoveryRequest,
		Payload: payload,
	}
}

func TestExecutor_RecombinesShamirShares(t *testing.T) {
	vault, cards := testVault(t)
	var owner interfaces.OwnerRef
	owner[0] = 0x42

	secret := []byte("family master key material 1234")
	shares, err := shamir.Split(secret, 3, 2)
	require.NoError(t, err)

	// Two of three shares meet the threshold.
	ids := storeShares(t, vault, cards, owner, shares[:2])

	sink := &captureSink{}
	executor := NewExecutor(vault, sink, nil)

	err = executor.Execute(context.Background(), recoveryRequest(t, owner, ids, []byte("unused")))
	require.NoError(t, err)
	assert.Equal(t, secret, sink.secret)
	assert.Equal(t, owner, sink.owner)
}

func TestExecutor_SingleShardIsWholeSecret(t *testing.T) {
	vault, cards := testVault(t)
	var owner interfaces.OwnerRef
	owner[0] = 0x43

	secret := []byte("unsplit custody secret")
	ids := storeShares(t, vault, cards, owner, [][]byte{secret})

	sink := &captureSink{}
	executor := NewExecutor(vault, sink, nil)

	require.NoError(t, executor.Execute(context.Background(), recoveryRequest(t, owner, ids, nil)))
	assert.Equal(t, secret, sink.secret)
}

func TestExecutor_MissingShardFailsRecovery(t *testing.T) {
	vault, cards := testVault(t)
	var owner interfaces.OwnerRef
	owner[0] = 0x44

	shares, err := shamir.Split([]byte("secret material"), 3, 2)
	require.NoError(t, err)
	ids := storeShares(t, vault, cards, owner, shares[:1])

	missing := interfaces.ComputeShardID([]byte("never stored"))
	sink := &captureSink{}
	executor := NewExecutor(vault, sink, nil)

	err = executor.Execute(context.Background(), recoveryRequest(t, owner, append(ids, missing.String()), nil))
	require.Error(t, err)
	assert.Nil(t, sink.secret, "a partial recovery must not deliver anything")
}

func TestExecutor_MalformedPayload(t *testing.T) {
	vault, _ := testVault(t)
	executor := NewExecutor(vault, &captureSink{}, nil)

	req := &interfaces.ConsensusRequest{Payload: []byte("{")}
	assert.Error(t, executor.Execute(context.Background(), req))

	req = &interfaces.ConsensusRequest{Payload: []byte(`{"owner_ref":"xx","shard_ids":["aa"]}`)}
	assert.Error(t, executor.Execute(context.Background(), req))

	req = &interfaces.ConsensusRequest{Payload: []byte(`{"owner_ref":"` + interfaces.OwnerRef{}.String() + `","shard_ids":[]}`)}
	assert.Error(t, executor.Execute(context.Background(), req))
}

func TestExecutor_SinkFailureSurfaces(t *testing.T) {
	vault, cards := testVault(t)
	var owner interfaces.OwnerRef
	owner[0] = 0x45

	ids := storeShares(t, vault, cards, owner, [][]byte{[]byte("secret")})

	sink := &captureSink{err: errors.New("pickup store unavailable")}
	executor := NewExecutor(vault, sink, nil)

	err := executor.Execute(context.Background(), recoveryRequest(t, owner, ids, nil))
	assert.Error(t, err)
}

// capturingBackend records the last payload it stored.
type capturingBackend struct {
	mu   sync.Mutex
	last []byte
}

func (b *capturingBackend) Store(ctx context.Context, data []byte) (interfaces.ShardID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = append([]byte(nil), data...)
	return interfaces.ComputeShardID(data), nil
}

func (b *capturingBackend) Fetch(ctx context.Context, id interfaces.ShardID) ([]byte, error) {
	return nil, interfaces.ErrShardNotFound
}

func (b *capturingBackend) Delete(ctx context.Context, id interfaces.ShardID) error { return nil }
func (b *capturingBackend) Available(ctx context.Context) bool                      { return true }
func (b *capturingBackend) Name() string                                            { return "capture" }
func (b *capturingBackend) LocationURI() string                                     { return "capture://" }

func TestRewrapSink_RoundTrip(t *testing.T) {
	backend := &capturingBackend{}
	privPEM, pubPEM, err := cryptoutils.GenerateRecipientKeypair()
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := NewRewrapSink(backend, nil, log)

	var owner interfaces.OwnerRef
	owner[0] = 0x46

	secret := []byte("recovered key material")
	require.NoError(t, sink.Deliver(context.Background(), owner, pubPEM, secret))

	require.NotNil(t, backend.last)
	assert.NotContains(t, string(backend.last), string(secret), "plaintext must never reach storage")

	opened, err := OpenRewrapped(privPEM, backend.last)
	require.NoError(t, err)
	assert.Equal(t, secret, opened)
}

func TestOpenRewrapped(t *testing.T) {
	privPEM, pubPEM, err := cryptoutils.GenerateRecipientKeypair()
	require.NoError(t, err)

	secret := []byte("recovered key material")
	ciphertext, err := cryptoutils.EncryptToRecipient(pubPEM, secret)
	require.NoError(t, err)

	data, err := json.Marshal(&rewrapRecord{OwnerRef: "owner", Ciphertext: ciphertext})
	require.NoError(t, err)

	opened, err := OpenRewrapped(privPEM, data)
	require.NoError(t, err)
	assert.Equal(t, secret, opened)

	_, err = OpenRewrapped(privPEM, []byte("not json"))
	assert.Error(t, err)
}

func TestRewrapSink_RequiresRecoveryKey(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := storage.NewFileBackend(t.TempDir(), log)
	require.NoError(t, err)

	sink := NewRewrapSink(backend, nil, log)
	err = sink.Deliver(context.Background(), interfaces.OwnerRef{}, nil, []byte("secret"))
	assert.Error(t, err)
}
