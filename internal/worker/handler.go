package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"tripsync/internal/domain"
	"tripsync/internal/service"
	"tripsync/internal/tasks"
)

// WeatherRefresher 由 service.RoomService 实现
type WeatherRefresher interface {
	RefreshWeather(ctx context.Context, actorID, roomID uint) (*domain.Room, error)
}

// WeatherRefreshHandler 处理天气刷新任务
type WeatherRefreshHandler struct {
	rooms WeatherRefresher
}

// NewWeatherRefreshHandler 创建 Handler 实例
func NewWeatherRefreshHandler(rooms WeatherRefresher) *WeatherRefreshHandler {
	return &WeatherRefreshHandler{rooms: rooms}
}

// ProcessTask 实现 asynq.Handler 接口。
// 只有后端故障会重试；房间不存在、权限或目的地无效时放弃。
func (h *WeatherRefreshHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	payload, err := tasks.ParseWeatherRefreshPayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to parse task payload")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithFields(logrus.Fields{"room_id": payload.RoomID, "user_id": payload.ActorID})

	room, err := h.rooms.RefreshWeather(ctx, payload.ActorID, payload.RoomID)
	if err != nil {
		if errors.Is(err, service.ErrTransport) {
			logCtx.WithError(err).Warn("Weather refresh failed, will retry")
			return err
		}
		logCtx.WithError(err).Warn("Weather refresh dropped")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logCtx.WithField("revision", room.Revision).Info("Weather refreshed")
	return nil
}

// taskLogger 构建带任务上下文的日志
func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	retry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     retry,
		"max_retry": maxRetry,
	})
}
