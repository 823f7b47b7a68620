package interfaces

import "errors"

// Consensus errors. Surfaced to the caller with enough detail to decide
// the next action; never retried blindly.
var (
	// ErrInsufficientGuardians indicates a group has no approval-capable
	// members, so no threshold can be computed.
	ErrInsufficientGuardians = errors.New("no eligible guardians in group")

	// ErrDuplicateVote indicates a guardian already voted on the request.
	ErrDuplicateVote = errors.New("guardian already voted on this request")

	// ErrRequestClosed indicates the request is in a terminal state.
	ErrRequestClosed = errors.New("request is closed")

	// ErrRequestExpired indicates the request TTL has passed.
	ErrRequestExpired = errors.New("request has expired")

	// ErrRequestNotFound indicates no request exists with the given ID.
	ErrRequestNotFound = errors.New("request not found")

	// ErrNotApproved indicates execution was attempted before threshold.
	ErrNotApproved = errors.New("request has not reached approval threshold")

	// ErrNotGuardian indicates the voter holds no approval authority in
	// the request's group.
	ErrNotGuardian = errors.New("not an approval-capable guardian of this group")

	// ErrVersionConflict indicates an optimistic concurrency check failed;
	// the caller should re-read and retry.
	ErrVersionConflict = errors.New("request row version conflict")

	// ErrNoExecutor indicates no action executor is registered for the
	// request type.
	ErrNoExecutor = errors.New("no executor registered for request type")
)

// Shard vault errors.
var (
	// ErrCardNotFound indicates the referenced identity card does not exist
	// or is not owned by the caller.
	ErrCardNotFound = errors.New("card not found")

	// ErrCardHashUnavailable indicates the card has no identity hash; the
	// hash must be computed out-of-band before signing can be enabled.
	ErrCardHashUnavailable = errors.New("card hash unavailable")

	// ErrShardPersistFailure indicates the shard row could not be stored.
	ErrShardPersistFailure = errors.New("failed to persist guardian shard")

	// ErrShardNotFound indicates no shard exists with the given ID.
	ErrShardNotFound = errors.New("shard not found")
)

// Storage errors.
var (
	// ErrBackendUnavailable indicates a storage backend cannot be reached.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI indicates a malformed backend location URI.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// Delivery errors. Logged and absorbed by consensus callers: a failed
// notification degrades guardian awareness, never the request itself.
var (
	// ErrAllRelaysFailed indicates every relay exhausted its retry budget.
	ErrAllRelaysFailed = errors.New("all relays failed to accept message")

	// ErrNoProtocol indicates every encoding strategy in the fallback
	// chain failed.
	ErrNoProtocol = errors.New("no envelope protocol could encode the message")
)

// Verification errors. Always surfaced as hard failures.
var (
	// ErrInvalidSignature indicates the detached signature did not verify.
	ErrInvalidSignature = errors.New("signature verification failed")

	// ErrStaleTimestamp indicates the signed timestamp is outside the
	// replay window.
	ErrStaleTimestamp = errors.New("timestamp outside replay window")

	// ErrFutureTimestamp indicates the signed timestamp exceeds the clock
	// skew tolerance.
	ErrFutureTimestamp = errors.New("timestamp too far in the future")

	// ErrIndividualContext indicates federation response verification was
	// attempted for an individual identity, which is never permitted.
	ErrIndividualContext = errors.New("federation verification not permitted for individual context")
)

// ErrRateLimited indicates the caller exceeded its request budget.
var ErrRateLimited = errors.New("rate limit exceeded")
