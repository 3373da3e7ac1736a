package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tripsync/internal/domain"
	"tripsync/internal/repository"
)

// SessionConfig 控制房间会话的写入节奏
type SessionConfig struct {
	Debounce     time.Duration // 字段编辑的合并窗口
	EchoCooldown time.Duration // 勾选写入后屏蔽远端通知的时长
	MaxRetries   int           // 自动保存遇到传输错误时的重试次数
	RetryBackoff time.Duration // 首次重试前的等待，之后指数增长
}

// DefaultSessionConfig 返回默认配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Debounce:     2 * time.Second,
		EchoCooldown: 500 * time.Millisecond,
		MaxRetries:   3,
		RetryBackoff: 200 * time.Millisecond,
	}
}

func (c SessionConfig) withDefaults() SessionConfig {
	d := DefaultSessionConfig()
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.EchoCooldown < 0 {
		c.EchoCooldown = 0
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	return c
}

// SessionListener 接收会话镜像的变化。回调可能来自不同 goroutine，实现方不应阻塞。
type SessionListener interface {
	RoomChanged(room *domain.Room, unsynced bool)
	RoomDeleted()
}

// CollaborationService 为每个连接打开一个房间会话。
type CollaborationService struct {
	roomRepo   repository.RoomRepository
	memberRepo repository.MembershipRepository
	feed       repository.ChangeFeed
	cfg        SessionConfig
	now        func() time.Time
}

// NewCollaborationService 创建 CollaborationService 实例。
func NewCollaborationService(
	roomRepo repository.RoomRepository,
	memberRepo repository.MembershipRepository,
	feed repository.ChangeFeed,
	cfg SessionConfig,
) *CollaborationService {
	if roomRepo == nil || memberRepo == nil || feed == nil {
		panic("All repositories must be non-nil for CollaborationService")
	}
	return &CollaborationService{
		roomRepo:   roomRepo,
		memberRepo: memberRepo,
		feed:       feed,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
	}
}

// Open 加载房间并订阅其变更。返回的会话必须在所有退出路径上 Close。
func (s *CollaborationService) Open(ctx context.Context, actorID, roomID uint, listener SessionListener) (*RoomSession, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID, "operation": "OpenSession"})

	if _, err := s.memberRepo.Find(ctx, roomID, actorID); err != nil {
		if errors.Is(err, repository.ErrMembershipNotFound) {
			return nil, ErrPermissionDenied
		}
		return nil, mapRepoError(err)
	}
	if listener == nil {
		listener = nopListener{}
	}

	retryCtx, cancel := context.WithCancel(context.Background())
	sess := &RoomSession{
		rooms:       s.roomRepo,
		feed:        s.feed,
		cfg:         s.cfg,
		now:         s.now,
		roomID:      roomID,
		actorID:     actorID,
		listener:    listener,
		retryCtx:    retryCtx,
		cancelRetry: cancel,
		log:         logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID}),
	}
	// 先订阅再读取，读取期间提交的变更由订阅补上
	sub, err := s.feed.Subscribe(ctx, roomID, sess.handleEvent)
	if err != nil {
		cancel()
		logCtx.WithError(err).Error("Failed to subscribe to room changes")
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	sess.sub = sub

	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		cancel()
		_ = sub.Close()
		return nil, mapRepoError(err)
	}
	if !sess.load(room) {
		cancel()
		_ = sub.Close()
		return nil, ErrRoomNotFound
	}
	logCtx.Info("Room session opened")
	return sess, nil
}

type nopListener struct{}

func (nopListener) RoomChanged(*domain.Room, bool) {}
func (nopListener) RoomDeleted()                   {}
