package consensus

import (
	"math"
	"time"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// Policy decides the approval threshold and TTL for one request type.
// Exactly one of Fraction or Fixed is set: a fractional policy requires
// ceil(eligible * Fraction) approvals, a fixed policy requires Fixed
// approvals regardless of roster size. Either way the result is clamped
// to [1, eligible].
type Policy struct {
	Fraction float64
	Fixed    int
	TTL      time.Duration
}

// RequiredApprovals computes the threshold for a roster with the given
// number of eligible approvers. eligible must be > 0.
func (p Policy) RequiredApprovals(eligible int) int {
	var required int
	if p.Fixed > 0 {
		required = p.Fixed
	} else {
		required = int(math.Ceil(float64(eligible) * p.Fraction))
	}

	if required < 1 {
		required = 1
	}
	if required > eligible {
		required = eligible
	}
	return required
}

// DefaultPolicies returns the per-type consensus policies. Routine
// spending and liquidity releases use a fixed 2-of-N threshold; recovery
// operations require a 75% supermajority. Liquidity releases ride a
// time-critical payment rail and get the shortest window.
func DefaultPolicies() map[interfaces.RequestType]Policy {
	return map[interfaces.RequestType]Policy{
		interfaces.SpendingRequest:           {Fixed: 2, TTL: time.Hour},
		interfaces.LiquidityReleaseRequest:   {Fixed: 2, TTL: 30 * time.Minute},
		interfaces.KeyRecoveryRequest:        {Fraction: 0.75, TTL: 24 * time.Hour},
		interfaces.AccountRestorationRequest: {Fraction: 0.75, TTL: 24 * time.Hour},
	}
}
