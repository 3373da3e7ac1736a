package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"tripsync/internal/tasks"
)

// OrphanSweeper 由 service.RoomService 实现
type OrphanSweeper interface {
	SweepOrphans(ctx context.Context, olderThan time.Duration, isLive func(roomID uint) bool) (int, error)
}

// LiveRooms 报告房间是否仍有连接，由 hub.Hub 实现
type LiveRooms interface {
	IsRoomLive(roomID uint) bool
}

// 单次清理的时限
const sweepTimeout = 2 * time.Minute

// OrphanSweepHandler 处理周期性的孤儿房间清理。
// 成员全部离开后房间会留下，这里把它们连同数据一起删除，跳过仍有活跃连接的房间。
type OrphanSweepHandler struct {
	rooms OrphanSweeper
	live  LiveRooms
}

// NewOrphanSweepHandler 创建 Handler 实例
func NewOrphanSweepHandler(rooms OrphanSweeper, live LiveRooms) *OrphanSweepHandler {
	if rooms == nil {
		panic("OrphanSweeper cannot be nil for OrphanSweepHandler")
	}
	return &OrphanSweepHandler{rooms: rooms, live: live}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *OrphanSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	olderThan, err := tasks.ParseOrphanSweepPayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to parse task payload")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	isLive := func(uint) bool { return false }
	if h.live != nil {
		isLive = h.live.IsRoomLive
	}

	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	removed, err := h.rooms.SweepOrphans(sweepCtx, olderThan, isLive)
	if err != nil {
		logCtx.WithError(err).WithField("removed", removed).Error("Orphan sweep failed")
		return err
	}
	logCtx.WithFields(logrus.Fields{"removed": removed, "older_than": olderThan.String()}).Info("Orphan sweep completed")
	return nil
}
