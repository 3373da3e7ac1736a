package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"tripsync/internal/domain"
	"tripsync/internal/repository"
)

// RedisChangeFeed 基于 Redis Pub/Sub 实现 repository.ChangeFeed。
// 每个房间对应一个频道，所有实例上的会话都通过它接收远端修改。
type RedisChangeFeed struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisChangeFeed 创建 RedisChangeFeed 实例
func NewRedisChangeFeed(client *redis.Client, keyPrefix string) *RedisChangeFeed {
	if client == nil {
		panic("redis client cannot be nil for RedisChangeFeed")
	}
	if keyPrefix == "" {
		keyPrefix = "ts:"
	}
	return &RedisChangeFeed{client: client, keyPrefix: keyPrefix}
}

var _ repository.ChangeFeed = (*RedisChangeFeed)(nil)

func (f *RedisChangeFeed) roomChannel(roomID uint) string {
	return fmt.Sprintf("%sroom:%d:changes", f.keyPrefix, roomID)
}

// Publish 将房间事件序列化后发布到房间频道
func (f *RedisChangeFeed) Publish(ctx context.Context, event domain.RoomEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal room event: %w", err)
	}
	channel := f.roomChannel(event.RoomID)
	if err := f.client.Publish(ctx, channel, payload).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"room_id": event.RoomID,
			"channel": channel,
			"type":    event.Type,
		}).WithError(err).Error("Redis Publish failed")
		return fmt.Errorf("redis: failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe 订阅房间频道。订阅确认后才返回，之后发布的事件不会丢失。
func (f *RedisChangeFeed) Subscribe(ctx context.Context, roomID uint, handler func(domain.RoomEvent)) (repository.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("redis: nil handler for room %d", roomID)
	}
	channel := f.roomChannel(roomID)
	pubsub := f.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: failed to subscribe to %s: %w", channel, err)
	}

	sub := &redisSubscription{pubsub: pubsub, done: make(chan struct{})}
	go sub.loop(roomID, handler)
	return sub, nil
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *redisSubscription) loop(roomID uint, handler func(domain.RoomEvent)) {
	defer close(s.done)
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "component": "change_feed"})
	// Channel() 在 pubsub 关闭后会被关闭
	for msg := range s.pubsub.Channel() {
		var event domain.RoomEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			logCtx.WithError(err).Warn("Dropping malformed room event")
			continue
		}
		handler(event)
	}
}

// Close 取消订阅并等待投递 goroutine 退出
func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.pubsub.Close()
		<-s.done
	})
	return s.closeErr
}
