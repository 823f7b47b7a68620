package consensus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
	"github.com/satnamapp/federation-guardian-backend/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRoster struct {
	members []*interfaces.GuardianMember
	err     error
}

func (r *staticRoster) GroupMembers(ctx context.Context, group interfaces.GroupID) ([]*interfaces.GuardianMember, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.members, nil
}

type recordingNotifier struct {
	mu         sync.Mutex
	recipients []interfaces.GuardianID
	err        error
}

func (n *recordingNotifier) Notify(ctx context.Context, recipient *interfaces.GuardianMember, payload *interfaces.NotificationPayload, urgency interfaces.Urgency) (*notification.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recipients = append(n.recipients, recipient.ID)
	if n.err != nil {
		return nil, n.err
	}
	return &notification.Result{Delivered: true}, nil
}

func (n *recordingNotifier) notified() []interfaces.GuardianID {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]interfaces.GuardianID, len(n.recipients))
	copy(out, n.recipients)
	return out
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []*interfaces.ConsensusRequest
	err      error
}

func (e *fakeExecutor) Execute(ctx context.Context, req *interfaces.ConsensusRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.executed = append(e.executed, req)
	return nil
}

// fakeClock is a settable clock shared across a test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func guardianID(n byte) interfaces.GuardianID {
	var id interfaces.GuardianID
	id[0] = n
	return id
}

func guardianRoster(count int) []*interfaces.GuardianMember {
	var members []*interfaces.GuardianMember
	for i := 0; i < count; i++ {
		members = append(members, &interfaces.GuardianMember{
			ID:   guardianID(byte(i + 1)),
			Role: interfaces.RoleGuardian,
		})
	}
	return members
}

func newTestManager(t *testing.T, roster interfaces.RosterClient, notifier Notifier) (*Manager, *MemoryStore, *fakeClock) {
	t.Helper()

	store := NewMemoryStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(store, roster, notifier, nil, clock, log), store, clock
}

func TestManager_CreateComputesSupermajorityThreshold(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(5)}
	notifier := &recordingNotifier{}
	manager, _, _ := newTestManager(t, roster, notifier)

	req, err := manager.Create(context.Background(), interfaces.KeyRecoveryRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)

	// 5 eligible at 0.75 rounds up to 4.
	assert.Equal(t, 4, req.Required)
	assert.Equal(t, 1, req.Approvals, "initiator vote counts immediately")
	assert.Equal(t, interfaces.StatusPending, req.Status)
	assert.Equal(t, 24*time.Hour, req.ExpiresAt.Sub(req.CreatedAt))
}

func TestManager_CreateSpendingUsesFixedThreshold(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(7)}
	manager, _, _ := newTestManager(t, roster, &recordingNotifier{})

	req, err := manager.Create(context.Background(), interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, req.Required)
	assert.Equal(t, time.Hour, req.ExpiresAt.Sub(req.CreatedAt))
}

func TestManager_CreateNotifiesEveryoneExceptInitiator(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(4)}
	notifier := &recordingNotifier{}
	manager, _, _ := newTestManager(t, roster, notifier)

	_, err := manager.Create(context.Background(), interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(2), nil)
	require.NoError(t, err)

	notified := notifier.notified()
	assert.Len(t, notified, 3)
	for _, id := range notified {
		assert.False(t, id.Equal(guardianID(2)), "initiator must not be notified")
	}
}

func TestManager_CreateSucceedsWhenNotificationsFail(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(3)}
	notifier := &recordingNotifier{err: errors.New("all relays down")}
	manager, store, _ := newTestManager(t, roster, notifier)

	req, err := manager.Create(context.Background(), interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err, "notification failure must not fail creation")

	stored, err := store.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusPending, stored.Status)
}

func TestManager_CreateRejectsEmptyRoster(t *testing.T) {
	observers := []*interfaces.GuardianMember{
		{ID: guardianID(1), Role: interfaces.RoleObserver},
		{ID: guardianID(2), Role: interfaces.RoleMember},
	}
	manager, _, _ := newTestManager(t, &staticRoster{members: observers}, &recordingNotifier{})

	_, err := manager.Create(context.Background(), interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(1), nil)
	assert.ErrorIs(t, err, interfaces.ErrInsufficientGuardians)
}

func TestManager_CreateRejectsIneligibleInitiator(t *testing.T) {
	members := append(guardianRoster(2), &interfaces.GuardianMember{
		ID:   guardianID(9),
		Role: interfaces.RoleObserver,
	})
	manager, _, _ := newTestManager(t, &staticRoster{members: members}, &recordingNotifier{})
	ctx := context.Background()

	_, err := manager.Create(ctx, interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(99), nil)
	assert.ErrorIs(t, err, interfaces.ErrNotGuardian, "initiator outside the roster")

	_, err = manager.Create(ctx, interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(9), nil)
	assert.ErrorIs(t, err, interfaces.ErrNotGuardian, "initiator without approval authority")
}

func TestManager_ApprovalsNeverExceedEligible(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(2)}
	manager, store, _ := newTestManager(t, roster, &recordingNotifier{})
	ctx := context.Background()

	req, err := manager.Create(ctx, interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)
	require.Equal(t, 2, req.Required)

	updated, err := manager.RecordVote(ctx, req.ID, guardianID(2), interfaces.DecisionApproved)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusApproved, updated.Status)

	// Both approvers have voted; neither a repeat vote nor an outsider
	// can push the count past the eligible roster size.
	_, err = manager.RecordVote(ctx, req.ID, guardianID(1), interfaces.DecisionApproved)
	require.Error(t, err)
	_, err = manager.RecordVote(ctx, req.ID, guardianID(3), interfaces.DecisionApproved)
	require.Error(t, err)

	stored, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, stored.Approvals, 2)
}

func TestManager_VotesReachThresholdAndLateRejectionChangesNothing(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(5)}
	manager, _, _ := newTestManager(t, roster, &recordingNotifier{})
	ctx := context.Background()

	req, err := manager.Create(ctx, interfaces.KeyRecoveryRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)
	require.Equal(t, 4, req.Required)

	updated, err := manager.RecordVote(ctx, req.ID, guardianID(2), interfaces.DecisionApproved)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Approvals)
	assert.Equal(t, interfaces.StatusAwaitingSignatures, updated.Status)

	updated, err = manager.RecordVote(ctx, req.ID, guardianID(3), interfaces.DecisionApproved)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusAwaitingSignatures, updated.Status)

	updated, err = manager.RecordVote(ctx, req.ID, guardianID(4), interfaces.DecisionApproved)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Approvals)
	assert.Equal(t, interfaces.StatusApproved, updated.Status)

	// A rejection arriving after approval is recorded but changes nothing.
	updated, err = manager.RecordVote(ctx, req.ID, guardianID(5), interfaces.DecisionRejected)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Approvals)
	assert.Equal(t, interfaces.StatusApproved, updated.Status)
}

func TestManager_RejectionDoesNotVeto(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(5)}
	manager, _, _ := newTestManager(t, roster, &recordingNotifier{})
	ctx := context.Background()

	req, err := manager.Create(ctx, interfaces.KeyRecoveryRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)

	updated, err := manager.RecordVote(ctx, req.ID, guardianID(2), interfaces.DecisionRejected)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Approvals, "a rejection never moves the count")
	assert.Equal(t, interfaces.StatusAwaitingSignatures, updated.Status, "the request keeps collecting approvals")
}

func TestManager_DuplicateVoteRejectedWithoutCountChange(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(5)}
	manager, store, _ := newTestManager(t, roster, &recordingNotifier{})
	ctx := context.Background()

	req, err := manager.Create(ctx, interfaces.KeyRecoveryRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)

	_, err = manager.RecordVote(ctx, req.ID, guardianID(2), interfaces.DecisionApproved)
	require.NoError(t, err)

	_, err = manager.RecordVote(ctx, req.ID, guardianID(2), interfaces.DecisionApproved)
	assert.ErrorIs(t, err, interfaces.ErrDuplicateVote)

	// The initiator's implicit vote also blocks an explicit one.
	_, err = manager.RecordVote(ctx, req.ID, guardianID(1), interfaces.DecisionApproved)
	assert.ErrorIs(t, err, interfaces.ErrDuplicateVote)

	stored, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Approvals)
}

func TestManager_VoteFromNonGuardianRejected(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(3)}
	manager, _, _ := newTestManager(t, roster, &recordingNotifier{})
	ctx := context.Background()

	req, err := manager.Create(ctx, interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)

	_, err = manager.RecordVote(ctx, req.ID, guardianID(99), interfaces.DecisionApproved)
	assert.ErrorIs(t, err, interfaces.ErrNotGuardian)
}

func TestManager_ExpiredRequestRejectsVoteAndFlipsStatus(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(3)}
	manager, store, clock := newTestManager(t, roster, &recordingNotifier{})
	ctx := context.Background()

	req, err := manager.Create(ctx, interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)

	_, err = manager.RecordVote(ctx, req.ID, guardianID(2), interfaces.DecisionApproved)
	assert.ErrorIs(t, err, interfaces.ErrRequestExpired)

	stored, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusExpired, stored.Status)

	// Terminal now; further votes see RequestClosed.
	_, err = manager.RecordVote(ctx, req.ID, guardianID(3), interfaces.DecisionApproved)
	assert.ErrorIs(t, err, interfaces.ErrRequestClosed)
}

func TestManager_ConcurrentVotesLoseNoIncrement(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(5)}
	manager, store, _ := newTestManager(t, roster, &recordingNotifier{})
	ctx := context.Background()

	req, err := manager.Create(ctx, interfaces.KeyRecoveryRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = manager.RecordVote(ctx, req.ID, guardianID(byte(i+2)), interfaces.DecisionApproved)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	stored, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Approvals)
	assert.Equal(t, interfaces.StatusApproved, stored.Status)
}

// closingStore flips the request terminal right after a vote row lands,
// simulating an expiry or execution racing the vote.
type closingStore struct {
	*MemoryStore
	closeNext bool
}

func (s *closingStore) InsertApproval(ctx context.Context, approval *interfaces.Approval) error {
	if err := s.MemoryStore.InsertApproval(ctx, approval); err != nil {
		return err
	}
	if s.closeNext {
		req, err := s.GetRequest(ctx, approval.RequestID)
		if err != nil {
			return err
		}
		req.Status = interfaces.StatusExpired
		return s.UpdateRequest(ctx, req, req.Version)
	}
	return nil
}

// conflictedStore fails every version-checked update while conflict is
// set, as if other writers always won the race.
type conflictedStore struct {
	*MemoryStore
	conflict bool
}

func (s *conflictedStore) UpdateRequest(ctx context.Context, req *interfaces.ConsensusRequest, expectedVersion uint64) error {
	if s.conflict {
		return interfaces.ErrVersionConflict
	}
	return s.MemoryStore.UpdateRequest(ctx, req, expectedVersion)
}

func TestManager_VoteRevokedWhenRequestClosesMidVote(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(3)}
	store := &closingStore{MemoryStore: NewMemoryStore()}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := NewManager(store, roster, &recordingNotifier{}, nil, clock, log)
	ctx := context.Background()

	req, err := manager.Create(ctx, interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)

	store.closeNext = true
	_, err = manager.RecordVote(ctx, req.ID, guardianID(2), interfaces.DecisionApproved)
	assert.ErrorIs(t, err, interfaces.ErrRequestClosed)

	// The rejected vote leaves no row behind; only the initiator's
	// implicit vote remains.
	votes, err := store.ApprovalsFor(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.True(t, votes[0].GuardianID.Equal(guardianID(1)))
}

func TestManager_VoteRevokedWhenConflictRetriesExhaust(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(3)}
	store := &conflictedStore{MemoryStore: NewMemoryStore()}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := NewManager(store, roster, &recordingNotifier{}, nil, clock, log)
	ctx := context.Background()

	req, err := manager.Create(ctx, interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)

	store.conflict = true
	_, err = manager.RecordVote(ctx, req.ID, guardianID(2), interfaces.DecisionApproved)
	assert.ErrorIs(t, err, interfaces.ErrVersionConflict)

	votes, err := store.ApprovalsFor(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, votes, 1, "the unapplied vote must be rolled back")

	// Once the contention clears the same guardian's vote goes through.
	store.conflict = false
	updated, err := manager.RecordVote(ctx, req.ID, guardianID(2), interfaces.DecisionApproved)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Approvals)
	assert.Equal(t, interfaces.StatusApproved, updated.Status)
}

func TestManager_ExecuteApprovedRequest(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(3)}
	manager, store, _ := newTestManager(t, roster, &recordingNotifier{})
	executor := &fakeExecutor{}
	manager.RegisterExecutor(interfaces.SpendingRequest, executor)
	ctx := context.Background()

	req, err := manager.Create(ctx, interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)

	_, err = manager.RecordVote(ctx, req.ID, guardianID(2), interfaces.DecisionApproved)
	require.NoError(t, err)

	require.NoError(t, manager.Execute(ctx, req.ID, guardianID(2)))

	stored, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusExecuted, stored.Status)
	assert.Len(t, executor.executed, 1)

	audit := store.AuditLog()
	require.Len(t, audit, 1)
	assert.Equal(t, req.ID, audit[0].RequestID)
	assert.Equal(t, "executed", audit[0].Outcome)

	// Executed is terminal.
	err = manager.Execute(ctx, req.ID, guardianID(2))
	assert.ErrorIs(t, err, interfaces.ErrNotApproved)
}

func TestManager_ExecuteRequiresApproval(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(3)}
	manager, _, _ := newTestManager(t, roster, &recordingNotifier{})
	manager.RegisterExecutor(interfaces.SpendingRequest, &fakeExecutor{})
	ctx := context.Background()

	req, err := manager.Create(ctx, interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)

	err = manager.Execute(ctx, req.ID, guardianID(2))
	assert.ErrorIs(t, err, interfaces.ErrNotApproved)
}

func TestManager_ExecutorFailureLeavesRequestApproved(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(3)}
	manager, store, _ := newTestManager(t, roster, &recordingNotifier{})
	executor := &fakeExecutor{err: errors.New("settlement rail unavailable")}
	manager.RegisterExecutor(interfaces.SpendingRequest, executor)
	ctx := context.Background()

	req, err := manager.Create(ctx, interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)
	_, err = manager.RecordVote(ctx, req.ID, guardianID(2), interfaces.DecisionApproved)
	require.NoError(t, err)

	err = manager.Execute(ctx, req.ID, guardianID(2))
	require.Error(t, err)

	stored, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusApproved, stored.Status, "failed execution is retryable")

	// The retry succeeds once the rail comes back.
	executor.err = nil
	require.NoError(t, manager.Execute(ctx, req.ID, guardianID(2)))
}

func TestManager_ExecuteWithoutExecutor(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(3)}
	manager, _, _ := newTestManager(t, roster, &recordingNotifier{})
	ctx := context.Background()

	req, err := manager.Create(ctx, interfaces.SpendingRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)
	_, err = manager.RecordVote(ctx, req.ID, guardianID(2), interfaces.DecisionApproved)
	require.NoError(t, err)

	err = manager.Execute(ctx, req.ID, guardianID(2))
	assert.ErrorIs(t, err, interfaces.ErrNoExecutor)
}

func TestManager_GetStatusReturnsVoteBreakdown(t *testing.T) {
	roster := &staticRoster{members: guardianRoster(5)}
	manager, _, _ := newTestManager(t, roster, &recordingNotifier{})
	ctx := context.Background()

	req, err := manager.Create(ctx, interfaces.KeyRecoveryRequest, interfaces.GroupID{}, guardianID(1), nil)
	require.NoError(t, err)
	_, err = manager.RecordVote(ctx, req.ID, guardianID(2), interfaces.DecisionApproved)
	require.NoError(t, err)
	_, err = manager.RecordVote(ctx, req.ID, guardianID(3), interfaces.DecisionRejected)
	require.NoError(t, err)

	report, err := manager.GetStatus(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Request.Approvals)
	assert.Len(t, report.Votes, 3, "initiator vote plus two explicit votes")

	decisions := map[interfaces.GuardianID]interfaces.VoteDecision{}
	for _, vote := range report.Votes {
		decisions[vote.GuardianID] = vote.Decision
	}
	assert.Equal(t, interfaces.DecisionApproved, decisions[guardianID(1)])
	assert.Equal(t, interfaces.DecisionApproved, decisions[guardianID(2)])
	assert.Equal(t, interfaces.DecisionRejected, decisions[guardianID(3)])
}

func TestManager_GetStatusUnknownRequest(t *testing.T) {
	manager, _, _ := newTestManager(t, &staticRoster{}, &recordingNotifier{})

	_, err := manager.GetStatus(context.Background(), interfaces.RequestID("missing"))
	assert.ErrorIs(t, err, interfaces.ErrRequestNotFound)
}

func TestPolicy_RequiredApprovals(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		eligible int
		want     int
	}{
		{"five guardians at 75 percent", Policy{Fraction: 0.75}, 5, 4},
		{"four guardians at 75 percent", Policy{Fraction: 0.75}, 4, 3},
		{"single guardian fraction", Policy{Fraction: 0.75}, 1, 1},
		{"fixed two of many", Policy{Fixed: 2}, 7, 2},
		{"fixed clamped to roster", Policy{Fixed: 2}, 1, 1},
		{"fraction never below one", Policy{Fraction: 0.1}, 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.RequiredApprovals(tt.eligible))
		})
	}
}
