package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"tripsync/internal/domain"
)

// MembershipRepository 是 repository.MembershipRepository 的 mock。
type MembershipRepository struct {
	mock.Mock
}

func (m *MembershipRepository) Find(ctx context.Context, roomID, userID uint) (*domain.Membership, error) {
	args := m.Called(ctx, roomID, userID)
	membership, _ := args.Get(0).(*domain.Membership)
	return membership, args.Error(1)
}

func (m *MembershipRepository) Create(ctx context.Context, membership *domain.Membership) error {
	args := m.Called(ctx, membership)
	return args.Error(0)
}

func (m *MembershipRepository) Delete(ctx context.Context, roomID, userID uint) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *MembershipRepository) ListMembers(ctx context.Context, roomID uint) ([]domain.Member, error) {
	args := m.Called(ctx, roomID)
	members, _ := args.Get(0).([]domain.Member)
	return members, args.Error(1)
}
