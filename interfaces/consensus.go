package interfaces

import (
	"context"
	"encoding/json"
	"time"
)

// ConsensusRequest is one approval-seeking request row. RequiredApprovals
// is computed once at creation and immutable; CurrentApprovals only ever
// grows; a request in a terminal status never mutates again.
type ConsensusRequest struct {
	ID          RequestID       `json:"id"`
	Type        RequestType     `json:"type"`
	GroupID     GroupID         `json:"group_id"`
	InitiatorID GuardianID      `json:"initiator_id"`
	Required    int             `json:"required_approvals"`
	Approvals   int             `json:"current_approvals"`
	Status      RequestStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Payload     json.RawMessage `json:"payload"`

	// Version supports optimistic concurrency control on updates. It is
	// owned by the store and bumped on every successful write.
	Version uint64 `json:"-"`
}

// Expired reports whether the request TTL has passed at the given instant.
func (r *ConsensusRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Approval is one guardian's vote on a request. At most one row may exist
// per (RequestID, GuardianID) pair.
type Approval struct {
	RequestID  RequestID    `json:"request_id"`
	GuardianID GuardianID   `json:"guardian_id"`
	Decision   VoteDecision `json:"decision"`
	Timestamp  time.Time    `json:"timestamp"`
}

// ConsensusStore persists consensus requests and approvals. Implementations
// must enforce the (request, guardian) uniqueness constraint on approvals
// and the version check on request updates.
type ConsensusStore interface {
	// InsertRequest persists a new request row.
	InsertRequest(ctx context.Context, req *ConsensusRequest) error

	// GetRequest returns the current row, including its version.
	// Returns ErrRequestNotFound if no such request exists.
	GetRequest(ctx context.Context, id RequestID) (*ConsensusRequest, error)

	// UpdateRequest writes the row if and only if the stored version still
	// equals expectedVersion, then bumps the version. Returns
	// ErrVersionConflict otherwise; the caller re-reads and retries.
	UpdateRequest(ctx context.Context, req *ConsensusRequest, expectedVersion uint64) error

	// InsertApproval records a vote. Returns ErrDuplicateVote if the
	// guardian already voted on the request.
	InsertApproval(ctx context.Context, approval *Approval) error

	// DeleteApproval removes a recorded vote, rolling back an insert whose
	// status recompute could not be applied. Deleting a missing row is not
	// an error.
	DeleteApproval(ctx context.Context, id RequestID, guardian GuardianID) error

	// ApprovalsFor returns all recorded votes for a request.
	ApprovalsFor(ctx context.Context, id RequestID) ([]*Approval, error)

	// AppendAudit appends an immutable audit record for an executed action.
	AppendAudit(ctx context.Context, record *AuditRecord) error
}

// RosterClient resolves the guardian roster for a group.
type RosterClient interface {
	// GroupMembers returns every roster entry for the group, including
	// members without approval authority.
	GroupMembers(ctx context.Context, group GroupID) ([]*GuardianMember, error)
}

// ActionExecutor performs the external effect of an approved request.
// Executor failure leaves the request approved and retryable.
type ActionExecutor interface {
	Execute(ctx context.Context, req *ConsensusRequest) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now returns the function's current time.
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock returns a Clock backed by wall time.
func SystemClock() Clock {
	return ClockFunc(time.Now)
}
