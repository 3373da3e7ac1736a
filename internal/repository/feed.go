package repository

import (
	"context"

	"tripsync/internal/domain"
)

// Subscription 是对变更通道的一次订阅，Close 后不再投递事件。
type Subscription interface {
	Close() error
}

// ChangeFeed 向房间的所有订阅者推送提交后的房间快照。
type ChangeFeed interface {
	// Publish 发布一个房间事件。
	Publish(ctx context.Context, event domain.RoomEvent) error

	// Subscribe 订阅指定房间的事件。handler 在订阅者自己的 goroutine 中被顺序调用。
	Subscribe(ctx context.Context, roomID uint, handler func(domain.RoomEvent)) (Subscription, error)
}
