package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tripsync/internal/domain"
	gormpersistence "tripsync/internal/infra/persistence/gorm"
	"tripsync/internal/infra/setup"
	"tripsync/internal/repository"
)

type store struct {
	db      *gorm.DB
	rooms   *gormpersistence.GormRoomRepository
	members *gormpersistence.GormMembershipRepository
	users   *gormpersistence.GormUserRepository
}

func newStore(t *testing.T) *store {
	t.Helper()
	db, err := setup.InitDB(setup.DBConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, setup.MigrateDB(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &store{
		db:      db,
		rooms:   gormpersistence.NewGormRoomRepository(db),
		members: gormpersistence.NewGormMembershipRepository(db),
		users:   gormpersistence.NewGormUserRepository(db),
	}
}

func (s *store) membershipCount(t *testing.T, roomID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Model(&domain.Membership{}).Where("room_id = ?", roomID).Count(&n).Error)
	return n
}

// memFeed 是进程内的同步变更通道
type memFeed struct {
	mu        sync.Mutex
	nextID    int
	handlers  map[uint]map[int]func(domain.RoomEvent)
	published []domain.RoomEvent
}

func newMemFeed() *memFeed {
	return &memFeed{handlers: make(map[uint]map[int]func(domain.RoomEvent))}
}

func (f *memFeed) Publish(_ context.Context, event domain.RoomEvent) error {
	f.mu.Lock()
	f.published = append(f.published, event)
	var targets []func(domain.RoomEvent)
	for _, h := range f.handlers[event.RoomID] {
		targets = append(targets, h)
	}
	f.mu.Unlock()

	for _, h := range targets {
		e := event
		if e.Room != nil {
			e.Room = e.Room.Clone()
		}
		h(e)
	}
	return nil
}

func (f *memFeed) Subscribe(_ context.Context, roomID uint, handler func(domain.RoomEvent)) (repository.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers[roomID] == nil {
		f.handlers[roomID] = make(map[int]func(domain.RoomEvent))
	}
	f.nextID++
	id := f.nextID
	f.handlers[roomID][id] = handler
	return &memSubscription{feed: f, roomID: roomID, id: id}, nil
}

func (f *memFeed) subscribers(roomID uint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[roomID])
}

func (f *memFeed) events(typ domain.RoomEventType) []domain.RoomEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RoomEvent
	for _, e := range f.published {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type memSubscription struct {
	feed   *memFeed
	roomID uint
	id     int
}

func (s *memSubscription) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	delete(s.feed.handlers[s.roomID], s.id)
	return nil
}

var errConnReset = errors.New("connection reset by peer")

// instrumentedRooms 统计条件写入次数，可注入失败和读后钩子
type instrumentedRooms struct {
	repository.RoomRepository

	mu          sync.Mutex
	updates     int
	failUpdates int // >0 剩余失败次数，<0 永远失败
	afterFind   func()
}

func (r *instrumentedRooms) FindByID(ctx context.Context, id uint) (*domain.Room, error) {
	room, err := r.RoomRepository.FindByID(ctx, id)
	r.mu.Lock()
	hook := r.afterFind
	r.afterFind = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return room, err
}

func (r *instrumentedRooms) UpdateIfRevision(ctx context.Context, id uint, expected int64, changes repository.RoomChanges) (bool, error) {
	r.mu.Lock()
	r.updates++
	fail := r.failUpdates != 0
	if r.failUpdates > 0 {
		r.failUpdates--
	}
	r.mu.Unlock()
	if fail {
		return false, errConnReset
	}
	return r.RoomRepository.UpdateIfRevision(ctx, id, expected, changes)
}

func (r *instrumentedRooms) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

func (r *instrumentedRooms) setFailures(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failUpdates = n
}

func (r *instrumentedRooms) onNextFind(hook func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterFind = hook
}

// recordingListener 记录会话推送
type recordingListener struct {
	mu       sync.Mutex
	rooms    []*domain.Room
	unsynced []bool
	deleted  bool
}

func (l *recordingListener) RoomChanged(room *domain.Room, unsynced bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rooms = append(l.rooms, room)
	l.unsynced = append(l.unsynced, unsynced)
}

func (l *recordingListener) RoomDeleted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted = true
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rooms)
}

func (l *recordingListener) wasDeleted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deleted
}

func strPtr(s string) *string { return &s }
