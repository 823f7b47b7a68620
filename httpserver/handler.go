package httpserver

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/satnamapp/federation-guardian-backend/consensus"
	"github.com/satnamapp/federation-guardian-backend/interfaces"
	"github.com/satnamapp/federation-guardian-backend/shardvault"
	"github.com/satnamapp/federation-guardian-backend/sigverify"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// RequestError carries an HTTP status code alongside the underlying
// error, so handlers can map domain failures onto the wire uniformly.
type RequestError struct {
	StatusCode int
	Err        error
}

// Error returns the underlying error message.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

// KeyDirectory resolves peer federation signing keys by key id.
type KeyDirectory interface {
	// PublicKey returns the Ed25519 key registered under id.
	PublicKey(id string) (ed25519.PublicKey, bool)
}

// StaticKeyDirectory is a fixed key set loaded at startup.
type StaticKeyDirectory map[string]ed25519.PublicKey

// PublicKey looks up a key by id.
func (d StaticKeyDirectory) PublicKey(id string) (ed25519.PublicKey, bool) {
	key, ok := d[id]
	return key, ok
}

// Handler processes HTTP requests for the guardian consensus service. It
// wires the consensus manager, shard vault and federation verifier behind
// the operational surface.
type Handler struct {
	manager  *consensus.Manager
	vault    *shardvault.Vault
	verifier *sigverify.Verifier
	peerKeys KeyDirectory
	log      *slog.Logger
}

// NewHandler creates a handler with the given dependencies.
func NewHandler(manager *consensus.Manager, vault *shardvault.Vault, verifier *sigverify.Verifier, peerKeys KeyDirectory, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}

	return &Handler{
		manager:  manager,
		vault:    vault,
		verifier: verifier,
		peerKeys: peerKeys,
		log:      log,
	}
}

// createRequestBody is the wire form of a create-request call.
type createRequestBody struct {
	Type        string          `json:"type"`
	GroupID     string          `json:"group_id"`
	InitiatorID string          `json:"initiator_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// HandleCreateRequest opens a new consensus request.
//
// POST /api/v1/requests
func (h *Handler) HandleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, err)
		return
	}

	typ, err := interfaces.ParseRequestType(body.Type)
	if err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, err})
		return
	}

	group, err := interfaces.NewGroupIDFromHex(body.GroupID)
	if err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("malformed group_id: %w", err)})
		return
	}

	initiator, err := interfaces.NewGuardianIDFromHex(body.InitiatorID)
	if err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("malformed initiator_id: %w", err)})
		return
	}

	req, err := h.manager.Create(r.Context(), typ, group, initiator, body.Payload)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, req)
}

// voteBody is the wire form of a cast-vote call.
type voteBody struct {
	GuardianID string `json:"guardian_id"`
	Decision   string `json:"decision"`
}

// HandleCastVote records one guardian's decision.
//
// POST /api/v1/requests/{request_id}/votes
func (h *Handler) HandleCastVote(w http.ResponseWriter, r *http.Request) {
	id := interfaces.RequestID(r.PathValue("request_id"))
	if id == "" {
		h.writeError(w, &RequestError{http.StatusBadRequest, errors.New("missing request id")})
		return
	}

	var body voteBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, err)
		return
	}

	guardian, err := interfaces.NewGuardianIDFromHex(body.GuardianID)
	if err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("malformed guardian_id: %w", err)})
		return
	}

	decision, err := interfaces.ParseVoteDecision(body.Decision)
	if err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, err})
		return
	}

	req, err := h.manager.RecordVote(r.Context(), id, guardian, decision)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, req)
}

// HandleGetStatus returns a request's current state and vote breakdown.
//
// GET /api/v1/requests/{request_id}
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := interfaces.RequestID(r.PathValue("request_id"))
	if id == "" {
		h.writeError(w, &RequestError{http.StatusBadRequest, errors.New("missing request id")})
		return
	}

	report, err := h.manager.GetStatus(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// executeBody is the wire form of an execute call.
type executeBody struct {
	ExecutorID string `json:"executor_id"`
}

// HandleExecute runs the action of an approved request.
//
// POST /api/v1/requests/{request_id}/execute
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	id := interfaces.RequestID(r.PathValue("request_id"))
	if id == "" {
		h.writeError(w, &RequestError{http.StatusBadRequest, errors.New("missing request id")})
		return
	}

	var body executeBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, err)
		return
	}

	executor, err := interfaces.NewGuardianIDFromHex(body.ExecutorID)
	if err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("malformed executor_id: %w", err)})
		return
	}

	if err := h.manager.Execute(r.Context(), id, executor); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "executed"})
}

// enableSigningBody is the wire form of an enable-signing call. The share
// is base64; it never appears in any response or log.
type enableSigningBody struct {
	OwnerRef   string     `json:"owner_ref"`
	CardRef    string     `json:"card_ref"`
	ShareType  string     `json:"share_type"`
	Share      string     `json:"share"`
	ShareIndex *int       `json:"share_index,omitempty"`
	Threshold  *int       `json:"threshold_required,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// HandleEnableSigning stores a guardian shard and flags the owner as
// signing-capable.
//
// POST /api/v1/signing/enable
func (h *Handler) HandleEnableSigning(w http.ResponseWriter, r *http.Request) {
	var body enableSigningBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, err)
		return
	}

	owner, err := interfaces.NewOwnerRefFromHex(body.OwnerRef)
	if err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("malformed owner_ref: %w", err)})
		return
	}

	shareType, err := interfaces.ParseShareType(body.ShareType)
	if err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, err})
		return
	}

	share, err := base64.StdEncoding.DecodeString(body.Share)
	if err != nil || len(share) == 0 {
		h.writeError(w, &RequestError{http.StatusBadRequest, errors.New("share must be non-empty base64")})
		return
	}

	id, err := h.vault.EnableSigning(r.Context(), shardvault.EnableSigningParams{
		Owner:      owner,
		CardRef:    body.CardRef,
		ShareType:  shareType,
		Share:      share,
		ShareIndex: body.ShareIndex,
		Threshold:  body.Threshold,
		ExpiresAt:  body.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"shard_id": id.String()})
}

// HandleVerifyPeer authenticates a peer federation response: the raw body
// is checked against the signature headers and the key named by the
// key-id header.
//
// POST /api/v1/federation/verify
func (h *Handler) HandleVerifyPeer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, &RequestError{http.StatusBadRequest, fmt.Errorf("failed to read body: %w", err)})
		return
	}

	keyID := r.Header.Get(sigverify.KeyIDHeader)
	publicKey, ok := h.peerKeys.PublicKey(keyID)
	if !ok {
		h.writeError(w, &RequestError{http.StatusUnauthorized, fmt.Errorf("unknown federation key id %q", keyID)})
		return
	}

	role := interfaces.RoleFederation
	if raw := r.Header.Get("X-Federation-Role"); raw != "" {
		role, err = interfaces.ParseGuardianRole(raw)
		if err != nil {
			h.writeError(w, &RequestError{http.StatusBadRequest, err})
			return
		}
	}

	result, err := h.verifier.Verify(body, r.Header, publicKey, role)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"verified":  true,
		"key_id":    result.KeyID,
		"signed_at": result.SignedAt.Unix(),
	})
}

func (h *Handler) decode(r *http.Request, into interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return &RequestError{http.StatusBadRequest, fmt.Errorf("failed to read body: %w", err)}
	}
	if err := json.Unmarshal(data, into); err != nil {
		return &RequestError{http.StatusBadRequest, fmt.Errorf("malformed JSON body: %w", err)}
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// writeError maps domain errors onto HTTP status codes. Unknown errors
// become 500s with their message withheld.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		http.Error(w, reqErr.Error(), reqErr.StatusCode)
		return
	}

	status := http.StatusInternalServerError
	message := err.Error()

	switch {
	case errors.Is(err, interfaces.ErrRequestNotFound),
		errors.Is(err, interfaces.ErrCardNotFound),
		errors.Is(err, interfaces.ErrShardNotFound):
		status = http.StatusNotFound
	case errors.Is(err, interfaces.ErrDuplicateVote),
		errors.Is(err, interfaces.ErrRequestClosed),
		errors.Is(err, interfaces.ErrNotApproved):
		status = http.StatusConflict
	case errors.Is(err, interfaces.ErrRequestExpired):
		status = http.StatusGone
	case errors.Is(err, interfaces.ErrNotGuardian),
		errors.Is(err, interfaces.ErrIndividualContext):
		status = http.StatusForbidden
	case errors.Is(err, interfaces.ErrInsufficientGuardians):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, interfaces.ErrCardHashUnavailable):
		status = http.StatusPreconditionFailed
	case errors.Is(err, interfaces.ErrInvalidSignature),
		errors.Is(err, interfaces.ErrStaleTimestamp),
		errors.Is(err, interfaces.ErrFutureTimestamp):
		status = http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrNoExecutor):
		status = http.StatusNotImplemented
	case errors.Is(err, interfaces.ErrShardPersistFailure),
		errors.Is(err, interfaces.ErrBackendUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, interfaces.ErrVersionConflict):
		status = http.StatusServiceUnavailable
	case errors.Is(err, interfaces.ErrRateLimited):
		status = http.StatusTooManyRequests
	default:
		h.log.Error("Request failed", "err", err)
		message = "internal server error"
	}

	http.Error(w, message, status)
}
