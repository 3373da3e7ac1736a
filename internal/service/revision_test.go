package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripsync/internal/domain"
	gormpersistence "tripsync/internal/infra/persistence/gorm"
	"tripsync/internal/infra/setup"
	"tripsync/internal/repository"
)

func TestNextRevision(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	micros := now.UnixMicro()

	testCases := []struct {
		name string
		prev int64
		want int64
	}{
		{"时钟领先", micros - 10, micros},
		{"时钟与上次相同", micros, micros + 1},
		{"时钟落后", micros + 500, micros + 501},
		{"首次写入", 0, micros},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, nextRevision(now, tc.prev))
		})
	}
}

func TestCasUpdate_FrozenClockStillAdvancesRevision(t *testing.T) {
	db, err := setup.InitDB(setup.DBConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, setup.MigrateDB(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	rooms := gormpersistence.NewGormRoomRepository(db)
	ctx := context.Background()

	frozen := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return frozen }

	room := &domain.Room{Name: "trip", Code: "ABC123", TravelMode: domain.TravelModeFlight, CreatedBy: 1, Revision: frozen.UnixMicro()}
	require.NoError(t, rooms.CreateWithAdmin(ctx, room, &domain.Membership{UserID: 1, Role: domain.RoleAdmin}))

	prev := room.Revision
	for i, dest := range []string{"Oslo", "Bergen", "Tromso"} {
		committed, written, err := casUpdate(ctx, rooms, room.ID, 1, clock, func(fresh *domain.Room) (repository.RoomChanges, error) {
			fields := fieldsOf(fresh)
			fields.Destination = dest
			return repository.RoomChanges{Fields: &fields}, nil
		})
		require.NoError(t, err)
		require.True(t, written)
		assert.Greater(t, committed.Revision, prev, "第 %d 次写入的 revision 应严格递增", i+1)
		prev = committed.Revision
	}

	stored, err := rooms.FindByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, frozen.UnixMicro()+3, stored.Revision)
	assert.Equal(t, "Tromso", stored.Destination)
}
