package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// 任务类型
const (
	TypeWeatherRefresh = "room:weather_refresh" // 刷新房间目的地天气并合并建议物品
	TypeOrphanSweep    = "room:orphan_sweep"    // 周期性清理没有成员的房间
)

// 同一房间的天气刷新在该时间窗内只排队一次
const weatherRefreshUniqueWindow = time.Minute

// WeatherRefreshPayload 天气刷新任务的数据
type WeatherRefreshPayload struct {
	RoomID  uint `json:"room_id"`
	ActorID uint `json:"actor_id"` // 请求刷新的成员，写入 last_updated_by
}

// OrphanSweepPayload 孤儿房间清理任务的数据
type OrphanSweepPayload struct {
	OlderThanSeconds int64 `json:"older_than_seconds"` // 只清理创建时间早于该时长的房间
}

// NewWeatherRefreshTask 创建天气刷新任务
func NewWeatherRefreshTask(roomID, actorID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(WeatherRefreshPayload{RoomID: roomID, ActorID: actorID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeWeatherRefresh, payload), nil
}

// ParseWeatherRefreshPayload 解析天气刷新任务
func ParseWeatherRefreshPayload(t *asynq.Task) (WeatherRefreshPayload, error) {
	var p WeatherRefreshPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal %s payload: %w", t.Type(), err)
	}
	if p.RoomID == 0 || p.ActorID == 0 {
		return p, fmt.Errorf("invalid %s payload: room_id and actor_id are required", t.Type())
	}
	return p, nil
}

// NewOrphanSweepTask 创建孤儿房间清理任务
func NewOrphanSweepTask(olderThan time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(OrphanSweepPayload{OlderThanSeconds: int64(olderThan / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeOrphanSweep, payload), nil
}

// ParseOrphanSweepPayload 解析清理任务，缺省时长为 0
func ParseOrphanSweepPayload(t *asynq.Task) (time.Duration, error) {
	if len(t.Payload()) == 0 {
		return 0, nil
	}
	var p OrphanSweepPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s payload: %w", t.Type(), err)
	}
	if p.OlderThanSeconds < 0 {
		return 0, fmt.Errorf("invalid %s payload: negative duration", t.Type())
	}
	return time.Duration(p.OlderThanSeconds) * time.Second, nil
}

// Enqueuer 是 *asynq.Client 的入队能力
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher 把 HTTP 层的请求转成后台任务
type Dispatcher struct {
	client Enqueuer
}

// NewDispatcher 创建 Dispatcher
func NewDispatcher(client Enqueuer) *Dispatcher {
	return &Dispatcher{client: client}
}

// EnqueueWeatherRefresh 排队一次天气刷新。同一房间已在排队时视为成功。
func (d *Dispatcher) EnqueueWeatherRefresh(ctx context.Context, roomID, actorID uint) error {
	task, err := NewWeatherRefreshTask(roomID, actorID)
	if err != nil {
		return err
	}
	info, err := d.client.EnqueueContext(ctx, task,
		asynq.Queue("default"),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
		asynq.Unique(weatherRefreshUniqueWindow),
	)
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": actorID, "task_type": TypeWeatherRefresh})
	if errors.Is(err, asynq.ErrDuplicateTask) {
		logCtx.Debug("Weather refresh already queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", TypeWeatherRefresh, err)
	}
	logCtx.WithField("task_id", info.ID).Info("Weather refresh queued")
	return nil
}
