package consensus

import (
	"context"
	"sync"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// MemoryStore is an in-memory ConsensusStore for single-instance
// deployments and tests. It enforces the same contracts a database-backed
// store would: version-checked updates and one vote per guardian per
// request.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[interfaces.RequestID]*interfaces.ConsensusRequest
	approvals map[interfaces.RequestID]map[interfaces.GuardianID]*interfaces.Approval
	audit     []*interfaces.AuditRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[interfaces.RequestID]*interfaces.ConsensusRequest),
		approvals: make(map[interfaces.RequestID]map[interfaces.GuardianID]*interfaces.Approval),
	}
}

// InsertRequest persists a new request row at version 1.
func (s *MemoryStore) InsertRequest(ctx context.Context, req *interfaces.ConsensusRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *req
	stored.Version = 1
	s.requests[req.ID] = &stored
	return nil
}

// GetRequest returns a copy of the current row.
func (s *MemoryStore) GetRequest(ctx context.Context, id interfaces.RequestID) (*interfaces.ConsensusRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.requests[id]
	if !ok {
		return nil, interfaces.ErrRequestNotFound
	}

	row := *stored
	return &row, nil
}

// UpdateRequest writes the row only if the stored version still equals
// expectedVersion, then bumps the version.
func (s *MemoryStore) UpdateRequest(ctx context.Context, req *interfaces.ConsensusRequest, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.requests[req.ID]
	if !ok {
		return interfaces.ErrRequestNotFound
	}
	if stored.Version != expectedVersion {
		return interfaces.ErrVersionConflict
	}

	updated := *req
	updated.Version = expectedVersion + 1
	s.requests[req.ID] = &updated
	return nil
}

// InsertApproval records a vote, rejecting a second vote from the same
// guardian on the same request.
func (s *MemoryStore) InsertApproval(ctx context.Context, approval *interfaces.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	votes, ok := s.approvals[approval.RequestID]
	if !ok {
		votes = make(map[interfaces.GuardianID]*interfaces.Approval)
		s.approvals[approval.RequestID] = votes
	}

	if _, voted := votes[approval.GuardianID]; voted {
		return interfaces.ErrDuplicateVote
	}

	row := *approval
	votes[approval.GuardianID] = &row
	return nil
}

// DeleteApproval removes a vote row if present.
func (s *MemoryStore) DeleteApproval(ctx context.Context, id interfaces.RequestID, guardian interfaces.GuardianID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.approvals[id], guardian)
	return nil
}

// ApprovalsFor returns all recorded votes for a request.
func (s *MemoryStore) ApprovalsFor(ctx context.Context, id interfaces.RequestID) ([]*interfaces.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	votes := make([]*interfaces.Approval, 0, len(s.approvals[id]))
	for _, approval := range s.approvals[id] {
		row := *approval
		votes = append(votes, &row)
	}
	return votes, nil
}

// AppendAudit appends an immutable audit record.
func (s *MemoryStore) AppendAudit(ctx context.Context, record *interfaces.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := *record
	s.audit = append(s.audit, &row)
	return nil
}

// AuditLog returns the audit records appended so far, oldest first.
func (s *MemoryStore) AuditLog() []*interfaces.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := make([]*interfaces.AuditRecord, len(s.audit))
	copy(log, s.audit)
	return log
}
