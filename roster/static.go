package roster

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// StaticRoster is an in-memory RosterClient for deployments without an
// on-chain registry. Membership is fixed at startup.
type StaticRoster struct {
	mu     sync.RWMutex
	groups map[interfaces.GroupID][]*interfaces.GuardianMember
}

// NewStaticRoster creates an empty static roster.
func NewStaticRoster() *StaticRoster {
	return &StaticRoster{groups: make(map[interfaces.GroupID][]*interfaces.GuardianMember)}
}

// AddMember appends a member to a group's roster.
func (r *StaticRoster) AddMember(group interfaces.GroupID, member *interfaces.GuardianMember) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[group] = append(r.groups[group], member)
}

// GroupMembers returns the group's roster. An unknown group has an empty
// roster, not an error.
func (r *StaticRoster) GroupMembers(ctx context.Context, group interfaces.GroupID) ([]*interfaces.GuardianMember, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*interfaces.GuardianMember, len(r.groups[group]))
	copy(members, r.groups[group])
	return members, nil
}

// ParseMemberSpec parses one "guardianHex:role" flag value into a roster
// entry. The guardian id is 64 hex chars; the role is one of the wire
// role names.
func ParseMemberSpec(spec string) (*interfaces.GuardianMember, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed member spec %q, want guardianHex:role", spec)
	}

	id, err := interfaces.NewGuardianIDFromHex(parts[0])
	if err != nil {
		return nil, fmt.Errorf("malformed guardian id in %q: %w", spec, err)
	}

	role, err := interfaces.ParseGuardianRole(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed role in %q: %w", spec, err)
	}

	return &interfaces.GuardianMember{ID: id, Role: role}, nil
}
