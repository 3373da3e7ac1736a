package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tripsync/internal/domain"
	"tripsync/internal/repository"
)

const closeFlushTimeout = 5 * time.Second

// RoomSession 是某个用户在某个房间上的本地镜像。
// 本地编辑先乐观地应用到镜像，再写入存储；远端变更通过订阅回流。
type RoomSession struct {
	rooms    repository.RoomRepository
	feed     repository.ChangeFeed
	sub      repository.Subscription
	cfg      SessionConfig
	now      func() time.Time
	roomID   uint
	actorID  uint
	listener SessionListener
	log      *logrus.Entry

	mu            sync.Mutex
	room          *domain.Room
	applied       int64 // 已应用的最大 revision
	pending       domain.RoomPatch
	hasPending    bool
	timer         *time.Timer
	inFlight      int // 进行中的勾选写入
	cooldownUntil time.Time
	unsynced      bool
	closed        bool
	deleted       bool

	flushMu     sync.Mutex     // 串行化字段写入
	timers      sync.WaitGroup // 每次启动的防抖定时器对应一次 Done
	retryCtx    context.Context
	cancelRetry context.CancelFunc
	closeOnce   sync.Once
	closeErr    error
}

// RoomID 返回会话所在房间
func (s *RoomSession) RoomID() uint { return s.roomID }

// Snapshot 返回当前镜像的深拷贝
func (s *RoomSession) Snapshot() *domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room.Clone()
}

// Unsynced 报告是否有本地修改未能写入存储
func (s *RoomSession) Unsynced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsynced
}

// UpdateFields 乐观地应用字段补丁，并在防抖窗口结束后合并写入一次。
// 只做同步校验，写入失败不会返回给调用者。
func (s *RoomSession) UpdateFields(patch domain.RoomPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	if patch.Destination != nil {
		d := strings.TrimSpace(*patch.Destination)
		patch.Destination = &d
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writableLocked(); err != nil {
		return err
	}
	preview := s.room.Clone()
	patch.ApplyTo(preview)
	if err := validateFields(fieldsOf(preview)); err != nil {
		return err
	}

	s.room = preview
	s.pending = s.pending.Merge(patch)
	s.hasPending = true

	if s.timer != nil && s.timer.Stop() {
		s.timers.Done()
	}
	s.timers.Add(1)
	s.timer = time.AfterFunc(s.cfg.Debounce, s.autosave)
	return nil
}

func (s *RoomSession) autosave() {
	defer s.timers.Done()
	if err := s.flushPending(s.retryCtx, true); err != nil {
		// 自动保存不向用户报错，只留下 unsynced 标记
		s.log.WithError(err).Warn("Autosave failed, changes remain unsynced")
	}
}

// flushPending 把累积的补丁写入存储。retry 为 true 时对传输错误做指数退避重试。
func (s *RoomSession) flushPending(ctx context.Context, retry bool) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if !s.hasPending || s.deleted {
		s.mu.Unlock()
		return nil
	}
	patch := s.pending
	s.pending = domain.RoomPatch{}
	s.hasPending = false
	s.mu.Unlock()

	backoff := s.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		committed, err := s.writePatch(ctx, patch)
		if err == nil {
			s.commit(ctx, committed, true)
			return nil
		}
		if !retry || !errors.Is(err, ErrTransport) || attempt >= s.cfg.MaxRetries {
			s.requeue(patch)
			return err
		}
		s.log.WithError(err).Debugf("Autosave attempt %d failed, retrying in %s", attempt+1, backoff)
		if sleepErr := sleepCtx(ctx, backoff); sleepErr != nil {
			s.requeue(patch)
			return err
		}
		backoff *= 2
	}
}

// requeue 把写入失败的补丁放回队列，之后的编辑覆盖它
func (s *RoomSession) requeue(patch domain.RoomPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = patch.Merge(s.pending)
	s.hasPending = true
	s.unsynced = true
}

func (s *RoomSession) writePatch(ctx context.Context, patch domain.RoomPatch) (*domain.Room, error) {
	committed, _, err := casUpdate(ctx, s.rooms, s.roomID, s.actorID, s.now, func(fresh *domain.Room) (repository.RoomChanges, error) {
		next := fresh.Clone()
		patch.ApplyTo(next)
		fields := fieldsOf(next)
		return repository.RoomChanges{Fields: &fields}, nil
	})
	return committed, err
}

// TogglePackingItem 翻转一项的勾选状态。
// 以读取到的 revision 为条件写入，不重试：被拒绝时用最新数据替换本地镜像并返回 ErrConcurrencyConflict。
func (s *RoomSession) TogglePackingItem(ctx context.Context, itemID string) error {
	logCtx := s.log.WithFields(logrus.Fields{"operation": "TogglePackingItem", "item_id": itemID})

	s.mu.Lock()
	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	list, ok := s.room.PackingList.Toggle(itemID)
	if !ok {
		s.mu.Unlock()
		return ErrItemNotFound
	}
	s.room.PackingList = list
	s.inFlight++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.cooldownUntil = s.now().Add(s.cfg.EchoCooldown)
		s.mu.Unlock()
	}()

	fresh, err := s.rooms.FindByID(ctx, s.roomID)
	if err != nil {
		return mapRepoError(err)
	}
	next, ok := fresh.PackingList.Toggle(itemID)
	if !ok {
		// 其他人已经删除了该项
		s.replace(fresh)
		return ErrItemNotFound
	}
	changes := repository.RoomChanges{
		PackingList:   &next,
		LastUpdatedBy: s.actorID,
		Revision:      nextRevision(s.now(), fresh.Revision),
	}
	accepted, err := s.rooms.UpdateIfRevision(ctx, s.roomID, fresh.Revision, changes)
	if err != nil {
		return mapRepoError(err)
	}
	if !accepted {
		latest, err := s.rooms.FindByID(ctx, s.roomID)
		if err != nil {
			return mapRepoError(err)
		}
		s.replace(latest)
		logCtx.Warn("Toggle lost the race, local list replaced with remote state")
		return ErrConcurrencyConflict
	}
	applyChanges(fresh, changes)
	s.commit(ctx, fresh, false)
	return nil
}

// AddCustomItem 添加自定义物品。写入在最新数据上重放，并发添加不会互相覆盖。
func (s *RoomSession) AddCustomItem(ctx context.Context, text string) (*domain.PackingItem, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, validationError("item text is required")
	}
	if len(text) > 255 {
		return nil, validationError("item text is too long")
	}
	item := newPackingItem(text, "custom")

	s.mu.Lock()
	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.room.PackingList = append(s.room.PackingList.Clone(), item)
	s.mu.Unlock()

	committed, _, err := casUpdate(ctx, s.rooms, s.roomID, s.actorID, s.now, func(fresh *domain.Room) (repository.RoomChanges, error) {
		if fresh.PackingList.Index(item.ID) >= 0 {
			return repository.RoomChanges{}, errNoChange
		}
		list := append(fresh.PackingList.Clone(), item)
		return repository.RoomChanges{PackingList: &list}, nil
	})
	if err != nil {
		return nil, err
	}
	s.commit(ctx, committed, false)
	return &item, nil
}

// RemoveItem 删除一项。远端已删除时视为成功。
func (s *RoomSession) RemoveItem(ctx context.Context, itemID string) error {
	s.mu.Lock()
	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	list, ok := s.room.PackingList.Without(itemID)
	if !ok {
		s.mu.Unlock()
		return ErrItemNotFound
	}
	s.room.PackingList = list
	s.mu.Unlock()

	committed, written, err := casUpdate(ctx, s.rooms, s.roomID, s.actorID, s.now, func(fresh *domain.Room) (repository.RoomChanges, error) {
		next, ok := fresh.PackingList.Without(itemID)
		if !ok {
			return repository.RoomChanges{}, errNoChange
		}
		return repository.RoomChanges{PackingList: &next}, nil
	})
	if err != nil {
		return err
	}
	if written {
		s.commit(ctx, committed, false)
	} else {
		s.replace(committed)
	}
	return nil
}

// Save 显式保存：取消待执行的自动保存，把镜像中的字段、清单和天气整体写入。
// 与自动保存不同，错误会返回给调用者。
func (s *RoomSession) Save(ctx context.Context) error {
	s.mu.Lock()
	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.timer != nil && s.timer.Stop() {
		s.timers.Done()
	}
	s.timer = nil
	s.mu.Unlock()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	local := s.room.Clone()
	s.pending = domain.RoomPatch{}
	s.hasPending = false
	s.mu.Unlock()

	fields := fieldsOf(local)
	list := local.PackingList
	committed, _, err := casUpdate(ctx, s.rooms, s.roomID, s.actorID, s.now, func(*domain.Room) (repository.RoomChanges, error) {
		return repository.RoomChanges{
			Fields:      &fields,
			PackingList: &list,
			Weather:     local.Weather,
			Forecast:    local.Forecast,
		}, nil
	})
	if err != nil {
		s.mu.Lock()
		s.unsynced = true
		s.mu.Unlock()
		s.log.WithError(err).Warn("Explicit save failed")
		return err
	}
	s.commit(ctx, committed, true)
	return nil
}

// OnRemoteChange 应用来自订阅的远端快照。
// 勾选写入进行中或冷却期内、或 revision 不比已应用的新时忽略，返回是否应用。
func (s *RoomSession) OnRemoteChange(room *domain.Room) bool {
	if room == nil {
		return false
	}
	s.mu.Lock()
	if s.closed || s.deleted || room.ID != s.roomID {
		s.mu.Unlock()
		return false
	}
	if s.inFlight > 0 || s.now().Before(s.cooldownUntil) {
		s.mu.Unlock()
		s.log.WithField("revision", room.Revision).Debug("Remote change suppressed during local write")
		return false
	}
	if room.Revision <= s.applied {
		s.mu.Unlock()
		return false
	}
	if s.room == nil {
		// 会话还在打开，记下即可，由 load 决定初始镜像
		s.room = room.Clone()
		s.applied = room.Revision
		s.mu.Unlock()
		return true
	}
	s.room = room.Clone()
	s.applied = room.Revision
	if s.hasPending {
		// 尚未写出的本地编辑继续覆盖在远端数据之上
		s.pending.ApplyTo(s.room)
	}
	snap, unsynced := s.room.Clone(), s.unsynced
	s.mu.Unlock()

	s.listener.RoomChanged(snap, unsynced)
	return true
}

// load 设置打开时读到的房间。订阅已先送达更新的快照时保留那一份；
// 打开期间房间被删除时返回 false。
func (s *RoomSession) load(room *domain.Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return false
	}
	if s.room == nil || room.Revision > s.applied {
		s.room = room
		s.applied = room.Revision
	}
	return true
}

func (s *RoomSession) handleEvent(event domain.RoomEvent) {
	switch event.Type {
	case domain.RoomEventUpdated:
		s.OnRemoteChange(event.Room)
	case domain.RoomEventDeleted:
		s.onDeleted()
	}
}

func (s *RoomSession) onDeleted() {
	s.mu.Lock()
	if s.closed || s.deleted {
		s.mu.Unlock()
		return
	}
	s.deleted = true
	s.pending = domain.RoomPatch{}
	s.hasPending = false
	if s.timer != nil && s.timer.Stop() {
		s.timers.Done()
	}
	s.timer = nil
	opening := s.room == nil
	s.mu.Unlock()

	s.log.Info("Room deleted remotely")
	if opening {
		return
	}
	s.listener.RoomDeleted()
}

// commit 记录一次成功写入：更新镜像并广播
func (s *RoomSession) commit(ctx context.Context, committed *domain.Room, clearUnsynced bool) {
	s.mu.Lock()
	if committed.Revision > s.applied {
		s.room = committed.Clone()
		s.applied = committed.Revision
		if s.hasPending {
			s.pending.ApplyTo(s.room)
		}
	}
	if clearUnsynced && !s.hasPending {
		s.unsynced = false
	}
	snap, unsynced := s.room.Clone(), s.unsynced
	s.mu.Unlock()

	s.listener.RoomChanged(snap, unsynced)
	if err := s.feed.Publish(ctx, domain.RoomEvent{Type: domain.RoomEventUpdated, RoomID: s.roomID, Room: committed}); err != nil {
		s.log.WithError(err).Warn("Failed to publish room change")
	}
}

// replace 用远端数据覆盖本地镜像 (冲突恢复)，不受冷却期限制
func (s *RoomSession) replace(room *domain.Room) {
	s.mu.Lock()
	s.room = room.Clone()
	if room.Revision > s.applied {
		s.applied = room.Revision
	}
	if s.hasPending {
		s.pending.ApplyTo(s.room)
	}
	snap, unsynced := s.room.Clone(), s.unsynced
	s.mu.Unlock()

	s.listener.RoomChanged(snap, unsynced)
}

func (s *RoomSession) writableLocked() error {
	switch {
	case s.deleted:
		return ErrRoomNotFound
	case s.closed:
		return ErrSessionClosed
	}
	return nil
}

// Close 写出待保存的编辑，停止定时器并释放订阅。可重复调用。
func (s *RoomSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.timer != nil && s.timer.Stop() {
			s.timers.Done()
		}
		s.timer = nil
		s.mu.Unlock()

		// 中断自动保存的退避等待，再等正在运行的回调退出
		s.cancelRetry()
		s.timers.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
		if err := s.flushPending(ctx, false); err != nil {
			s.log.WithError(err).Warn("Failed to flush pending edits on close")
		}
		cancel()

		if s.sub != nil {
			s.closeErr = s.sub.Close()
		}
		s.log.Info("Room session closed")
	})
	return s.closeErr
}
