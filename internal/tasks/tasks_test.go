package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func TestWeatherRefreshPayload(t *testing.T) {
	task, err := NewWeatherRefreshTask(4, 9)
	require.NoError(t, err)
	assert.Equal(t, TypeWeatherRefresh, task.Type())

	p, err := ParseWeatherRefreshPayload(task)
	require.NoError(t, err)
	assert.Equal(t, WeatherRefreshPayload{RoomID: 4, ActorID: 9}, p)

	_, err = ParseWeatherRefreshPayload(asynq.NewTask(TypeWeatherRefresh, []byte(`{"room_id":4}`)))
	assert.Error(t, err)
	_, err = ParseWeatherRefreshPayload(asynq.NewTask(TypeWeatherRefresh, []byte(`not json`)))
	assert.Error(t, err)
}

func TestOrphanSweepPayload(t *testing.T) {
	task, err := NewOrphanSweepTask(90 * time.Minute)
	require.NoError(t, err)
	d, err := ParseOrphanSweepPayload(task)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	d, err = ParseOrphanSweepPayload(asynq.NewTask(TypeOrphanSweep, nil))
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseOrphanSweepPayload(asynq.NewTask(TypeOrphanSweep, []byte(`{"older_than_seconds":-1}`)))
	assert.Error(t, err)
}

func TestDispatcher_EnqueueWeatherRefresh(t *testing.T) {
	rec := &recordingEnqueuer{}
	d := NewDispatcher(rec)

	require.NoError(t, d.EnqueueWeatherRefresh(context.Background(), 4, 9))
	require.Len(t, rec.tasks, 1)
	p, err := ParseWeatherRefreshPayload(rec.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, uint(4), p.RoomID)
}

func TestDispatcher_DuplicateIsNotAnError(t *testing.T) {
	d := NewDispatcher(&recordingEnqueuer{err: asynq.ErrDuplicateTask})
	assert.NoError(t, d.EnqueueWeatherRefresh(context.Background(), 4, 9))
}

func TestDispatcher_EnqueueFailure(t *testing.T) {
	boom := errors.New("redis down")
	d := NewDispatcher(&recordingEnqueuer{err: boom})
	err := d.EnqueueWeatherRefresh(context.Background(), 4, 9)
	assert.ErrorIs(t, err, boom)
}
