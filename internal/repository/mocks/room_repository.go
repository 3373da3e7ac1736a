package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"tripsync/internal/domain"
	"tripsync/internal/repository"
)

// RoomRepository 是 repository.RoomRepository 的 mock。
type RoomRepository struct {
	mock.Mock
}

func (m *RoomRepository) FindByID(ctx context.Context, id uint) (*domain.Room, error) {
	args := m.Called(ctx, id)
	room, _ := args.Get(0).(*domain.Room)
	return room, args.Error(1)
}

func (m *RoomRepository) FindByCode(ctx context.Context, code string) (*domain.Room, error) {
	args := m.Called(ctx, code)
	room, _ := args.Get(0).(*domain.Room)
	return room, args.Error(1)
}

func (m *RoomRepository) IsCodeExists(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepository) CreateWithAdmin(ctx context.Context, room *domain.Room, admin *domain.Membership) error {
	args := m.Called(ctx, room, admin)
	return args.Error(0)
}

func (m *RoomRepository) UpdateIfRevision(ctx context.Context, id uint, expected int64, changes repository.RoomChanges) (bool, error) {
	args := m.Called(ctx, id, expected, changes)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepository) Delete(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *RoomRepository) ListByMember(ctx context.Context, userID uint) ([]domain.Room, error) {
	args := m.Called(ctx, userID)
	rooms, _ := args.Get(0).([]domain.Room)
	return rooms, args.Error(1)
}

func (m *RoomRepository) FindOrphans(ctx context.Context, createdBefore time.Time) ([]uint, error) {
	args := m.Called(ctx, createdBefore)
	ids, _ := args.Get(0).([]uint)
	return ids, args.Error(1)
}
