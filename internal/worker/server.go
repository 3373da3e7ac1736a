package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"tripsync/internal/tasks"
)

// WorkerServer 封装了 Asynq Worker Server 与周期任务调度器的启动和关闭
type WorkerServer struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	log       *logrus.Entry
}

// NewWorkerServer 创建 WorkerServer 并注册任务处理器
func NewWorkerServer(redisOpt asynq.RedisClientOpt, weather *WeatherRefreshHandler, sweep *OrphanSweepHandler, logger *logrus.Logger) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskLogger(ctx, task).WithError(err).Error("Task failed")
			}),
			Logger: logEntry,
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeWeatherRefresh, weather)
	mux.Handle(tasks.TypeOrphanSweep, sweep)

	return &WorkerServer{
		server:    server,
		scheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: logEntry}),
		mux:       mux,
		log:       logEntry,
	}
}

// SchedulePeriodic 注册周期任务，需在 Start 之前调用
func (ws *WorkerServer) SchedulePeriodic(spec string, task *asynq.Task, opts ...asynq.Option) error {
	entryID, err := ws.scheduler.Register(spec, task, opts...)
	if err != nil {
		return err
	}
	ws.log.WithFields(logrus.Fields{"schedule": spec, "task_type": task.Type(), "entry_id": entryID}).Info("Periodic task registered")
	return nil
}

// Start 启动调度器与 Worker Server，不阻塞
func (ws *WorkerServer) Start() error {
	if err := ws.server.Start(ws.mux); err != nil {
		return fmt.Errorf("could not start worker server: %w", err)
	}
	if err := ws.scheduler.Start(); err != nil {
		ws.server.Shutdown()
		return fmt.Errorf("could not start scheduler: %w", err)
	}
	ws.log.Info("Worker server started")
	return nil
}

// Shutdown 优雅地关闭调度器和 Worker Server
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.scheduler.Shutdown()
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
