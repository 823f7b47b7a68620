// Package sigverify authenticates responses from peer federation
// instances. Verification is federation-to-federation only; individual
// identities are refused outright, so a compromised single-user flow can
// never masquerade as a peer federation.
package sigverify

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// Header names carried on cross-federation responses.
const (
	// SignatureHeader is the hex-encoded Ed25519 detached signature.
	SignatureHeader = "X-Federation-Signature"

	// TimestampHeader is the Unix timestamp the response was signed at.
	TimestampHeader = "X-Federation-Timestamp"

	// KeyIDHeader optionally names the signing key for rotation tracking.
	KeyIDHeader = "X-Federation-Key-Id"
)

const (
	// signatureHexLen is the exact hex length of an Ed25519 signature.
	signatureHexLen = 2 * ed25519.SignatureSize

	// maxAge is the replay window: older timestamps are rejected.
	maxAge = time.Hour

	// maxSkew is the tolerated clock skew for future timestamps.
	maxSkew = 5 * time.Minute
)

// Verifier checks detached signatures on peer federation responses.
type Verifier struct {
	clock interfaces.Clock
}

// New creates a verifier. A nil clock defaults to wall time.
func New(clock interfaces.Clock) *Verifier {
	if clock == nil {
		clock = interfaces.ClockFunc(time.Now)
	}
	return &Verifier{clock: clock}
}

// Result carries the verified metadata of an accepted response.
type Result struct {
	// KeyID is the optional key identifier header, for rotation tracking.
	KeyID string

	// SignedAt is the validated signing time.
	SignedAt time.Time
}

// Verify authenticates a raw response body against its signature headers.
// Any structural defect (missing header, malformed hex, wrong length) is a
// verification failure, never a panic. Hard-fails with
// interfaces.ErrIndividualContext when contextRole denotes an individual
// identity.
func (v *Verifier) Verify(body []byte, headers http.Header, publicKey ed25519.PublicKey, contextRole interfaces.GuardianRole) (*Result, error) {
	if contextRole.Individual() {
		return nil, interfaces.ErrIndividualContext
	}

	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes", interfaces.ErrInvalidSignature, ed25519.PublicKeySize)
	}

	sigHex := headers.Get(SignatureHeader)
	if sigHex == "" {
		return nil, fmt.Errorf("%w: missing %s header", interfaces.ErrInvalidSignature, SignatureHeader)
	}
	if len(sigHex) != signatureHexLen {
		return nil, fmt.Errorf("%w: signature must be %d hex characters", interfaces.ErrInvalidSignature, signatureHexLen)
	}

	signature, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature hex", interfaces.ErrInvalidSignature)
	}

	tsRaw := headers.Get(TimestampHeader)
	if tsRaw == "" {
		return nil, fmt.Errorf("%w: missing %s header", interfaces.ErrInvalidSignature, TimestampHeader)
	}

	tsUnix, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed timestamp", interfaces.ErrInvalidSignature)
	}

	signedAt := time.Unix(tsUnix, 0)
	now := v.clock.Now()

	if now.Sub(signedAt) > maxAge {
		return nil, fmt.Errorf("%w: signed %s ago", interfaces.ErrStaleTimestamp, now.Sub(signedAt))
	}
	if signedAt.Sub(now) > maxSkew {
		return nil, fmt.Errorf("%w: signed %s ahead", interfaces.ErrFutureTimestamp, signedAt.Sub(now))
	}

	digest := sha256.Sum256(body)
	if !ed25519.Verify(publicKey, digest[:], signature) {
		return nil, interfaces.ErrInvalidSignature
	}

	return &Result{
		KeyID:    headers.Get(KeyIDHeader),
		SignedAt: signedAt,
	}, nil
}

// Sign produces the signature headers for an outbound federation response.
// Counterpart of Verify, used by peers and by tests.
func Sign(body []byte, privateKey ed25519.PrivateKey, signedAt time.Time, keyID string) http.Header {
	digest := sha256.Sum256(body)
	signature := ed25519.Sign(privateKey, digest[:])

	headers := http.Header{}
	headers.Set(SignatureHeader, hex.EncodeToString(signature))
	headers.Set(TimestampHeader, strconv.FormatInt(signedAt.Unix(), 10))
	if keyID != "" {
		headers.Set(KeyIDHeader, keyID)
	}
	return headers
}
