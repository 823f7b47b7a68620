// Package interfaces defines the core types and contracts shared by the
// guardian consensus components. It provides the contract between the
// consensus manager, the notification dispatcher, the shard vault and the
// storage layer without implementation details.
package interfaces

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RequestID uniquely identifies a consensus request. Generated as a UUID
// at creation time and opaque to every consumer.
type RequestID string

// String returns the request ID as a string.
func (id RequestID) String() string {
	return string(id)
}

// Validate checks the ID is non-empty.
func (id RequestID) Validate() error {
	if len(id) == 0 {
		return errors.New("empty request id")
	}
	return nil
}

// GroupID identifies a guardian roster scope (a family or federation).
// It is a 32-byte identifier, typically the hash of the federation charter.
type GroupID [32]byte

// NewGroupIDFromBytes creates a group ID from raw bytes.
func NewGroupIDFromBytes(source []byte) (GroupID, error) {
	if len(source) != 32 {
		return GroupID{}, errors.New("invalid group ID length: must be 32 bytes")
	}

	var id GroupID
	copy(id[:], source)
	return id, nil
}

// NewGroupIDFromHex creates a group ID from a 64-character hex string.
func NewGroupIDFromHex(source string) (GroupID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return GroupID{}, errors.New("invalid group ID length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return GroupID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewGroupIDFromBytes(raw)
}

// String returns the hex representation of the group ID.
func (id GroupID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte identifier.
func (id GroupID) Bytes() []byte {
	return id[:]
}

// Equal compares two group IDs.
func (id GroupID) Equal(other GroupID) bool {
	return id == other
}

// GuardianID is the 32-byte public identity key of a roster member.
type GuardianID [32]byte

// NewGuardianIDFromBytes creates a guardian ID from raw bytes.
func NewGuardianIDFromBytes(source []byte) (GuardianID, error) {
	if len(source) != 32 {
		return GuardianID{}, errors.New("invalid guardian ID length: must be 32 bytes")
	}

	var id GuardianID
	copy(id[:], source)
	return id, nil
}

// NewGuardianIDFromHex creates a guardian ID from a 64-character hex string.
func NewGuardianIDFromHex(source string) (GuardianID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return GuardianID{}, errors.New("invalid guardian ID length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return GuardianID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewGuardianIDFromBytes(raw)
}

// String returns the hex representation of the guardian ID.
func (id GuardianID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte identity key.
func (id GuardianID) Bytes() []byte {
	return id[:]
}

// Equal compares two guardian IDs.
func (id GuardianID) Equal(other GuardianID) bool {
	return bytes.Equal(id[:], other[:])
}

// OwnerRef is the SHA-256 hash of an owning identity or hardware card.
// The raw identifier is never stored or transmitted.
type OwnerRef [32]byte

// NewOwnerRefFromHex creates an owner reference from a 64-character hex string.
func NewOwnerRefFromHex(source string) (OwnerRef, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return OwnerRef{}, errors.New("invalid owner ref length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return OwnerRef{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var ref OwnerRef
	copy(ref[:], raw)
	return ref, nil
}

// String returns the hex representation of the owner reference.
func (ref OwnerRef) String() string {
	return hex.EncodeToString(ref[:])
}

// RequestType enumerates the kinds of operations that require guardian
// consensus before execution.
type RequestType int

const (
	// SpendingRequest covers general fund transfers.
	SpendingRequest RequestType = iota
	// KeyRecoveryRequest covers recovery of a protected signing key.
	KeyRecoveryRequest
	// LiquidityReleaseRequest covers time-critical payment rail operations.
	LiquidityReleaseRequest
	// AccountRestorationRequest covers restoring a disabled account.
	AccountRestorationRequest
)

// ParseRequestType converts a wire string into a RequestType.
func ParseRequestType(s string) (RequestType, error) {
	switch s {
	case "spending":
		return SpendingRequest, nil
	case "key-recovery":
		return KeyRecoveryRequest, nil
	case "liquidity-release":
		return LiquidityReleaseRequest, nil
	case "account-restoration":
		return AccountRestorationRequest, nil
	default:
		return 0, fmt.Errorf("unknown request type: %q", s)
	}
}

// String returns the wire name of the request type.
func (t RequestType) String() string {
	switch t {
	case SpendingRequest:
		return "spending"
	case KeyRecoveryRequest:
		return "key-recovery"
	case LiquidityReleaseRequest:
		return "liquidity-release"
	case AccountRestorationRequest:
		return "account-restoration"
	default:
		return "unknown"
	}
}

// RequestStatus is the consensus request state machine position.
//
// pending -> awaiting-signatures -> {approved|rejected} -> executed, with
// any non-terminal state moving to expired once the TTL passes.
type RequestStatus int

const (
	StatusPending RequestStatus = iota
	StatusAwaitingSignatures
	StatusApproved
	StatusRejected
	StatusExecuted
	StatusExpired
)

// Terminal reports whether the status permits no further mutation.
func (s RequestStatus) Terminal() bool {
	return s == StatusRejected || s == StatusExecuted || s == StatusExpired
}

// String returns the wire name of the status.
func (s RequestStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAwaitingSignatures:
		return "awaiting-signatures"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	case StatusExecuted:
		return "executed"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// VoteDecision is a guardian's recorded decision on a request.
type VoteDecision int

const (
	DecisionApproved VoteDecision = iota
	DecisionRejected
	DecisionAbstained
)

// ParseVoteDecision converts a wire string into a VoteDecision.
func ParseVoteDecision(s string) (VoteDecision, error) {
	switch s {
	case "approved":
		return DecisionApproved, nil
	case "rejected":
		return DecisionRejected, nil
	case "abstained":
		return DecisionAbstained, nil
	default:
		return 0, fmt.Errorf("unknown vote decision: %q", s)
	}
}

// String returns the wire name of the decision.
func (d VoteDecision) String() string {
	switch d {
	case DecisionApproved:
		return "approved"
	case DecisionRejected:
		return "rejected"
	case DecisionAbstained:
		return "abstained"
	default:
		return "unknown"
	}
}

// ShareType scopes a guardian shard to its custody arrangement.
type ShareType int

const (
	IndividualShare ShareType = iota
	FamilyShare
	FederationShare
)

// ParseShareType converts a wire string into a ShareType.
func ParseShareType(s string) (ShareType, error) {
	switch s {
	case "individual":
		return IndividualShare, nil
	case "family":
		return FamilyShare, nil
	case "federation":
		return FederationShare, nil
	default:
		return 0, fmt.Errorf("unknown share type: %q", s)
	}
}

// String returns the wire name of the share type.
func (t ShareType) String() string {
	switch t {
	case IndividualShare:
		return "individual"
	case FamilyShare:
		return "family"
	case FederationShare:
		return "federation"
	default:
		return "unknown"
	}
}

// GuardianRole is the closed set of roster roles. Free-form permission
// blobs from earlier deployments are migrated onto this enum at roster
// read time.
type GuardianRole int

const (
	// RoleObserver can view group state but holds no approval authority.
	RoleObserver GuardianRole = iota
	// RoleMember is a regular member without approval authority.
	RoleMember
	// RoleGuardian holds approval authority over sensitive operations.
	RoleGuardian
	// RoleSteward holds approval authority and roster administration.
	RoleSteward
	// RoleFederation marks a remote federation peer, not an individual.
	RoleFederation
)

// CanApprove reports whether the role carries approval authority.
func (r GuardianRole) CanApprove() bool {
	return r == RoleGuardian || r == RoleSteward
}

// Individual reports whether the role denotes a single-user identity
// rather than a federation instance.
func (r GuardianRole) Individual() bool {
	return r != RoleFederation
}

// ParseGuardianRole converts a wire string into a GuardianRole.
func ParseGuardianRole(s string) (GuardianRole, error) {
	switch s {
	case "observer":
		return RoleObserver, nil
	case "member":
		return RoleMember, nil
	case "guardian":
		return RoleGuardian, nil
	case "steward":
		return RoleSteward, nil
	case "federation":
		return RoleFederation, nil
	default:
		return 0, fmt.Errorf("unknown guardian role: %q", s)
	}
}

// String returns the wire name of the role.
func (r GuardianRole) String() string {
	switch r {
	case RoleObserver:
		return "observer"
	case RoleMember:
		return "member"
	case RoleGuardian:
		return "guardian"
	case RoleSteward:
		return "steward"
	case RoleFederation:
		return "federation"
	default:
		return "unknown"
	}
}

// GuardianMember is one roster entry: the member identity, its role and
// the public key notifications to it are encrypted against.
type GuardianMember struct {
	ID GuardianID

	Role GuardianRole

	// NotifyPubkey is the member's encryption public key in PEM format.
	NotifyPubkey []byte
}

// AuditRecord is an immutable entry appended when an approved request is
// executed.
type AuditRecord struct {
	ID         string
	RequestID  RequestID
	ExecutorID GuardianID
	Action     RequestType
	Outcome    string
	Timestamp  time.Time
}
