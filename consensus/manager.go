// Package consensus owns the lifecycle of guardian approval requests:
// creation with roster-derived thresholds, vote recording with optimistic
// concurrency control, execution of approved actions, and expiry.
package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/satnamapp/federation-guardian-backend/interfaces"
	"github.com/satnamapp/federation-guardian-backend/metrics"
	"github.com/satnamapp/federation-guardian-backend/notification"
)

// casRetries bounds the read-modify-write retry loop on a version
// conflict before giving up.
const casRetries = 5

// Notifier delivers a notification to one guardian. Satisfied by
// notification.Dispatcher.
type Notifier interface {
	Notify(ctx context.Context, recipient *interfaces.GuardianMember, payload *interfaces.NotificationPayload, urgency interfaces.Urgency) (*notification.Result, error)
}

// StatusReport is the read-only view returned by GetStatus.
type StatusReport struct {
	Request *interfaces.ConsensusRequest `json:"request"`
	Votes   []*interfaces.Approval       `json:"votes"`
}

// Manager coordinates consensus requests over a persisted store. All
// methods are safe for concurrent use; races between simultaneous votes
// are resolved by version-checked updates on the request row.
type Manager struct {
	store    interfaces.ConsensusStore
	roster   interfaces.RosterClient
	notifier Notifier
	policies map[interfaces.RequestType]Policy
	clock    interfaces.Clock
	log      *slog.Logger

	mu        sync.RWMutex
	executors map[interfaces.RequestType]interfaces.ActionExecutor
}

// NewManager creates a manager. A nil policies map falls back to
// DefaultPolicies; a nil clock uses wall time.
func NewManager(store interfaces.ConsensusStore, roster interfaces.RosterClient, notifier Notifier, policies map[interfaces.RequestType]Policy, clock interfaces.Clock, log *slog.Logger) *Manager {
	if policies == nil {
		policies = DefaultPolicies()
	}
	if clock == nil {
		clock = interfaces.SystemClock()
	}
	if log == nil {
		log = slog.Default()
	}

	return &Manager{
		store:     store,
		roster:    roster,
		notifier:  notifier,
		policies:  policies,
		clock:     clock,
		log:       log,
		executors: make(map[interfaces.RequestType]interfaces.ActionExecutor),
	}
}

// RegisterExecutor binds an action executor to a request type. Requests
// of a type with no executor can be approved but not executed.
func (m *Manager) RegisterExecutor(typ interfaces.RequestType, executor interfaces.ActionExecutor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executors[typ] = executor
}

func (m *Manager) executorFor(typ interfaces.RequestType) (interfaces.ActionExecutor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	executor, ok := m.executors[typ]
	return executor, ok
}

// Create opens a new approval request. The initiator must hold an
// approval-capable role in the group; their implicit vote is recorded
// immediately, so CurrentApprovals starts at 1. The threshold is computed
// from the group's current eligible-approver count and the type's policy.
// Every eligible guardian except the initiator is notified best-effort;
// notification failures never fail creation.
func (m *Manager) Create(ctx context.Context, typ interfaces.RequestType, group interfaces.GroupID, initiator interfaces.GuardianID, payload []byte) (*interfaces.ConsensusRequest, error) {
	policy, ok := m.policies[typ]
	if !ok {
		return nil, fmt.Errorf("no consensus policy for request type %s", typ)
	}

	members, err := m.roster.GroupMembers(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch guardian roster: %w", err)
	}

	eligible := eligibleApprovers(members)
	if len(eligible) == 0 {
		return nil, interfaces.ErrInsufficientGuardians
	}

	// The initiator's vote counts toward the threshold, so only an
	// eligible approver may open a request.
	initiatorEligible := false
	for _, member := range eligible {
		if member.ID.Equal(initiator) {
			initiatorEligible = true
			break
		}
	}
	if !initiatorEligible {
		return nil, interfaces.ErrNotGuardian
	}

	now := m.clock.Now()
	req := &interfaces.ConsensusRequest{
		ID:          interfaces.RequestID(uuid.NewString()),
		Type:        typ,
		GroupID:     group,
		InitiatorID: initiator,
		Required:    policy.RequiredApprovals(len(eligible)),
		Approvals:   1,
		Status:      interfaces.StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(policy.TTL),
		Payload:     payload,
	}

	if err := m.store.InsertRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to persist request: %w", err)
	}

	// The initiator's implicit vote lives as a real approval row, so a
	// later explicit vote from the initiator hits the uniqueness check.
	initiatorVote := &interfaces.Approval{
		RequestID:  req.ID,
		GuardianID: initiator,
		Decision:   interfaces.DecisionApproved,
		Timestamp:  now,
	}
	if err := m.store.InsertApproval(ctx, initiatorVote); err != nil {
		return nil, fmt.Errorf("failed to record initiator vote: %w", err)
	}

	metrics.RequestsCreated.WithLabelValues(typ.String()).Inc()
	m.log.Info("Consensus request created",
		slog.String("request_id", string(req.ID)),
		slog.String("type", typ.String()),
		slog.String("group", group.String()),
		slog.Int("required_approvals", req.Required),
		slog.Int("eligible_guardians", len(eligible)))

	m.notifyGuardians(ctx, req, eligible)

	return req, nil
}

// notifyGuardians fans a signature request out to every eligible guardian
// other than the initiator, in parallel. Failures are logged and absorbed.
func (m *Manager) notifyGuardians(ctx context.Context, req *interfaces.ConsensusRequest, eligible []*interfaces.GuardianMember) {
	if m.notifier == nil {
		return
	}

	payload := &interfaces.NotificationPayload{
		Kind:        interfaces.SignatureRequestMessage,
		RequestID:   req.ID,
		GroupID:     req.GroupID.String(),
		Description: fmt.Sprintf("%s request awaiting your approval", req.Type),
		Deadline:    req.ExpiresAt,
	}

	urgency := interfaces.UrgencyNormal
	if req.Type == interfaces.KeyRecoveryRequest || req.Type == interfaces.AccountRestorationRequest {
		urgency = interfaces.UrgencyHigh
	}

	var wg sync.WaitGroup
	for _, member := range eligible {
		if member.ID.Equal(req.InitiatorID) {
			continue
		}

		wg.Add(1)
		go func(member *interfaces.GuardianMember) {
			defer wg.Done()
			if _, err := m.notifier.Notify(ctx, member, payload, urgency); err != nil {
				m.log.Warn("Guardian notification failed",
					slog.String("request_id", string(req.ID)),
					slog.String("guardian", member.ID.String()),
					"err", err)
			}
		}(member)
	}
	wg.Wait()
}

// RecordVote applies one guardian's decision to a request and returns the
// updated row. Terminal and expired requests reject the vote; a second
// vote from the same guardian returns ErrDuplicateVote without touching
// the approval count. The status recompute runs under optimistic
// concurrency control, so two guardians voting at once cannot lose an
// increment or double-flip the status.
func (m *Manager) RecordVote(ctx context.Context, id interfaces.RequestID, guardian interfaces.GuardianID, decision interfaces.VoteDecision) (*interfaces.ConsensusRequest, error) {
	req, err := m.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Status.Terminal() {
		return nil, interfaces.ErrRequestClosed
	}

	now := m.clock.Now()
	if req.Expired(now) {
		m.expire(ctx, req)
		return nil, interfaces.ErrRequestExpired
	}

	if err := m.verifyGuardian(ctx, req.GroupID, guardian); err != nil {
		return nil, err
	}

	approval := &interfaces.Approval{
		RequestID:  id,
		GuardianID: guardian,
		Decision:   decision,
		Timestamp:  now,
	}
	if err := m.store.InsertApproval(ctx, approval); err != nil {
		return nil, err
	}

	// From here on the vote row exists; any path that cannot land the
	// status recompute takes the row back so the vote is either applied
	// in full or rejected in full.
	for attempt := 0; attempt < casRetries; attempt++ {
		req, err = m.store.GetRequest(ctx, id)
		if err != nil {
			m.revokeApproval(ctx, id, guardian)
			return nil, err
		}
		if req.Status.Terminal() {
			m.revokeApproval(ctx, id, guardian)
			return nil, interfaces.ErrRequestClosed
		}

		if decision == interfaces.DecisionApproved {
			req.Approvals++
		}
		req.Status = recomputeStatus(req)

		err = m.store.UpdateRequest(ctx, req, req.Version)
		if err == nil {
			metrics.VotesRecorded.WithLabelValues(decision.String()).Inc()
			m.log.Info("Vote recorded",
				slog.String("request_id", string(id)),
				slog.String("guardian", guardian.String()),
				slog.String("decision", decision.String()),
				slog.Int("approvals", req.Approvals),
				slog.Int("required", req.Required),
				slog.String("status", req.Status.String()))
			return req, nil
		}
		if err != interfaces.ErrVersionConflict {
			m.revokeApproval(ctx, id, guardian)
			return nil, err
		}
	}

	m.revokeApproval(ctx, id, guardian)
	return nil, interfaces.ErrVersionConflict
}

// revokeApproval removes a vote row whose count update did not land.
func (m *Manager) revokeApproval(ctx context.Context, id interfaces.RequestID, guardian interfaces.GuardianID) {
	if err := m.store.DeleteApproval(ctx, id, guardian); err != nil {
		m.log.Warn("Failed to revoke unapplied vote",
			slog.String("request_id", string(id)),
			slog.String("guardian", guardian.String()),
			"err", err)
	}
}

// recomputeStatus derives the post-vote status. An already approved
// request stays approved; otherwise reaching the threshold flips the
// request to approved and any recorded vote moves pending off its
// initial state.
func recomputeStatus(req *interfaces.ConsensusRequest) interfaces.RequestStatus {
	if req.Status == interfaces.StatusApproved {
		return interfaces.StatusApproved
	}
	if req.Approvals >= req.Required {
		return interfaces.StatusApproved
	}
	return interfaces.StatusAwaitingSignatures
}

// Execute runs the registered executor for an approved request. On
// success the request transitions to executed and an audit record is
// appended; on executor failure the request stays approved and retryable.
func (m *Manager) Execute(ctx context.Context, id interfaces.RequestID, executorID interfaces.GuardianID) error {
	req, err := m.store.GetRequest(ctx, id)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	if req.Status != interfaces.StatusExecuted && req.Expired(now) {
		m.expire(ctx, req)
		return interfaces.ErrRequestExpired
	}
	if req.Status != interfaces.StatusApproved {
		return interfaces.ErrNotApproved
	}

	executor, ok := m.executorFor(req.Type)
	if !ok {
		return interfaces.ErrNoExecutor
	}

	if err := executor.Execute(ctx, req); err != nil {
		m.appendAudit(ctx, req, executorID, "failed")
		m.log.Error("Action execution failed, request stays approved",
			slog.String("request_id", string(id)),
			slog.String("type", req.Type.String()),
			"err", err)
		return fmt.Errorf("action execution failed: %w", err)
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		req.Status = interfaces.StatusExecuted
		err = m.store.UpdateRequest(ctx, req, req.Version)
		if err == nil {
			break
		}
		if err != interfaces.ErrVersionConflict {
			return err
		}
		if req, err = m.store.GetRequest(ctx, id); err != nil {
			return err
		}
	}
	if err != nil {
		return err
	}

	m.appendAudit(ctx, req, executorID, "executed")
	m.log.Info("Request executed",
		slog.String("request_id", string(id)),
		slog.String("type", req.Type.String()),
		slog.String("executor", executorID.String()))
	return nil
}

// GetStatus returns the current row and the per-guardian vote breakdown.
// Pure read; never mutates.
func (m *Manager) GetStatus(ctx context.Context, id interfaces.RequestID) (*StatusReport, error) {
	req, err := m.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	votes, err := m.store.ApprovalsFor(ctx, id)
	if err != nil {
		return nil, err
	}

	return &StatusReport{Request: req, Votes: votes}, nil
}

// verifyGuardian checks that the voter holds an approval-capable role in
// the request's group.
func (m *Manager) verifyGuardian(ctx context.Context, group interfaces.GroupID, guardian interfaces.GuardianID) error {
	members, err := m.roster.GroupMembers(ctx, group)
	if err != nil {
		return fmt.Errorf("failed to fetch guardian roster: %w", err)
	}

	for _, member := range members {
		if member.ID.Equal(guardian) && member.Role.CanApprove() {
			return nil
		}
	}
	return interfaces.ErrNotGuardian
}

// expire opportunistically flips a request past its TTL to expired. A
// concurrent writer winning the race is fine; the request ends up
// terminal either way.
func (m *Manager) expire(ctx context.Context, req *interfaces.ConsensusRequest) {
	req.Status = interfaces.StatusExpired
	if err := m.store.UpdateRequest(ctx, req, req.Version); err != nil && err != interfaces.ErrVersionConflict {
		m.log.Warn("Failed to mark request expired",
			slog.String("request_id", string(req.ID)),
			"err", err)
	}
}

func (m *Manager) appendAudit(ctx context.Context, req *interfaces.ConsensusRequest, executorID interfaces.GuardianID, outcome string) {
	record := &interfaces.AuditRecord{
		ID:         uuid.NewString(),
		RequestID:  req.ID,
		ExecutorID: executorID,
		Action:     req.Type,
		Outcome:    outcome,
		Timestamp:  m.clock.Now(),
	}
	if err := m.store.AppendAudit(ctx, record); err != nil {
		m.log.Error("Failed to append audit record",
			slog.String("request_id", string(req.ID)),
			"err", err)
	}
}

// eligibleApprovers filters a roster down to members holding an
// approval-capable role.
func eligibleApprovers(members []*interfaces.GuardianMember) []*interfaces.GuardianMember {
	var eligible []*interfaces.GuardianMember
	for _, member := range members {
		if member.Role.CanApprove() {
			eligible = append(eligible, member)
		}
	}
	return eligible
}
