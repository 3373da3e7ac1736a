package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"tripsync/internal/domain"
	"tripsync/internal/repository"
)

// ChangeFeed 是 repository.ChangeFeed 的 mock。
type ChangeFeed struct {
	mock.Mock
}

func (m *ChangeFeed) Publish(ctx context.Context, event domain.RoomEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *ChangeFeed) Subscribe(ctx context.Context, roomID uint, handler func(domain.RoomEvent)) (repository.Subscription, error) {
	args := m.Called(ctx, roomID, handler)
	sub, _ := args.Get(0).(repository.Subscription)
	return sub, args.Error(1)
}
