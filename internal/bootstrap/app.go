package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tripsync/internal/export"
	httpHandler "tripsync/internal/handler/http"
	wsHandler "tripsync/internal/handler/websocket"
	"tripsync/internal/hub"
	gormpersistence "tripsync/internal/infra/persistence/gorm"
	"tripsync/internal/infra/setup"
	redisstate "tripsync/internal/infra/state/redis"
	"tripsync/internal/middleware"
	"tripsync/internal/service"
	"tripsync/internal/tasks"
	"tripsync/internal/weather"
	"tripsync/internal/worker"
)

// App 包含应用的所有组件和配置
type App struct {
	Config       *Config
	Log          *logrus.Logger
	DB           *gorm.DB
	RedisClient  *redis.Client
	AsynqClient  *asynq.Client
	WorkerServer *worker.WorkerServer
	Hub          *hub.Hub
	HttpServer   *http.Server
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := newLogger(cfg)
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	cfg.DB.LogSQL = cfg.LogLevel == "debug"
	db, err := setup.InitDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database initialized and migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Redis and Asynq clients initialized")

	// 4. 初始化 Repositories
	userRepo := gormpersistence.NewGormUserRepository(db)
	roomRepo := gormpersistence.NewGormRoomRepository(db)
	memberRepo := gormpersistence.NewGormMembershipRepository(db)
	feed := redisstate.NewRedisChangeFeed(redisClient, cfg.KeyPrefix)

	// 5. 初始化 Services
	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	roomOpts := []service.RoomServiceOption{service.WithExporter(export.NewPackingListPDF())}
	if cfg.OpenWeatherAPIKey != "" {
		roomOpts = append(roomOpts, service.WithWeatherProvider(weather.NewClient(cfg.OpenWeatherAPIKey)))
	} else {
		log.Warn("OPENWEATHER_API_KEY not set, weather refresh disabled")
	}
	roomService := service.NewRoomService(roomRepo, memberRepo, feed, roomOpts...)
	collabService := service.NewCollaborationService(roomRepo, memberRepo, feed, cfg.Session)
	log.Info("Services initialized")

	// 6. Hub 与 Handlers
	hubInstance := hub.NewHub()
	authHandler := httpHandler.NewAuthHandler(authService)
	var dispatcher httpHandler.WeatherDispatcher
	if cfg.OpenWeatherAPIKey != "" {
		dispatcher = tasks.NewDispatcher(asynqClient)
	}
	roomHandler := httpHandler.NewRoomHandler(roomService, dispatcher)
	websocketHandler := wsHandler.NewWebSocketHandler(hubInstance, collabService, cfg.CORSAllowedOrigin)

	// 7. Worker Server 与周期任务
	workerServer := worker.NewWorkerServer(
		redisClientOpt,
		worker.NewWeatherRefreshHandler(roomService),
		worker.NewOrphanSweepHandler(roomService, hubInstance),
		log,
	)
	sweepTask, err := tasks.NewOrphanSweepTask(cfg.OrphanSweepMinAge)
	if err != nil {
		return nil, fmt.Errorf("failed to build orphan sweep task: %w", err)
	}
	if err := workerServer.SchedulePeriodic(cfg.OrphanSweepSchedule, sweepTask, asynq.Queue("low")); err != nil {
		return nil, fmt.Errorf("failed to schedule orphan sweep '%s': %w", cfg.OrphanSweepSchedule, err)
	}

	// 8. Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigin))
	router.Use(middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))

	authMW := middleware.Auth(cfg.JWTSecret)
	httpHandler.RegisterRoutes(router, authHandler, roomHandler, authMW)
	router.GET("/ws/room/:roomId", authMW, websocketHandler.HandleConnection)
	log.Info("Router setup complete")

	return &App{
		Config:       cfg,
		Log:          log,
		DB:           db,
		RedisClient:  redisClient,
		AsynqClient:  asynqClient,
		WorkerServer: workerServer,
		Hub:          hubInstance,
		HttpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.StandardLogger()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	return log
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() error {
	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	if err := a.WorkerServer.Start(); err != nil {
		return err
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
	return nil
}

// Shutdown 优雅地关闭应用。
// 先停止接收请求，再关闭所有房间会话以写出未保存的编辑，最后释放连接。
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	}

	// 被劫持的 WebSocket 连接不受 HttpServer.Shutdown 管理
	a.Hub.Stop()
	a.Log.Info("All room sessions closed")

	a.WorkerServer.Shutdown()

	if err := a.AsynqClient.Close(); err != nil {
		a.Log.Errorf("Error closing Asynq client: %v", err)
	}
	if err := a.RedisClient.Close(); err != nil {
		a.Log.Errorf("Error closing Redis connection: %v", err)
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.Log.Errorf("Error closing database connection: %v", err)
		}
	}
	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		path := c.Request.URL.Path // 不记录查询串，WebSocket 的 token 在其中
		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})
		if userID, ok := middleware.UserID(c); ok {
			entry = entry.WithField("user_id", userID)
		}

		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			entry.Error(errorMessage)
			return
		}
		switch {
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
