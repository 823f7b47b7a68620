package roster

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// MockRosterClient implements interfaces.RosterClient for testing.
type MockRosterClient struct {
	mock.Mock
}

// GroupMembers mocks roster resolution.
func (m *MockRosterClient) GroupMembers(ctx context.Context, group interfaces.GroupID) ([]*interfaces.GuardianMember, error) {
	args := m.Called(ctx, group)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*interfaces.GuardianMember), args.Error(1)
}
