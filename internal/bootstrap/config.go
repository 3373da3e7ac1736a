package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"tripsync/internal/infra/setup"
	"tripsync/internal/service"
)

// Config 存储从环境变量或 .env 文件加载的配置
type Config struct {
	DB setup.DBConfig

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string // Redis key 与频道前缀

	JWTSecret      string
	JWTExpiryHours int

	ServerPort        string
	LogLevel          string
	AppEnv            string // development/production
	CORSAllowedOrigin string

	RateLimitMax    int
	RateLimitWindow time.Duration

	OpenWeatherAPIKey string // 为空时关闭天气刷新

	Session service.SessionConfig

	OrphanSweepSchedule string
	OrphanSweepMinAge   time.Duration
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	defaults := service.DefaultSessionConfig()
	cfg := &Config{
		DB: setup.DBConfig{
			Driver:     envString("DB_DRIVER", "mysql"),
			User:       os.Getenv("DB_USER"),
			Password:   os.Getenv("DB_PASSWORD"),
			Host:       os.Getenv("DB_HOST"),
			Port:       os.Getenv("DB_PORT"),
			Name:       os.Getenv("DB_NAME"),
			SQLitePath: envString("SQLITE_PATH", "tripsync.db"),
		},
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:         envString("REDIS_KEY_PREFIX", "ts:"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		ServerPort:        envString("SERVER_PORT", "8080"),
		LogLevel:          envString("LOG_LEVEL", "info"),
		AppEnv:            envString("APP_ENV", "development"),
		CORSAllowedOrigin: os.Getenv("CORS_ALLOWED_ORIGIN"),
		OpenWeatherAPIKey: os.Getenv("OPENWEATHER_API_KEY"),
		OrphanSweepSchedule: envString("ORPHAN_SWEEP_SCHEDULE", "@every 1h"),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.JWTExpiryHours, err = envInt("JWT_EXPIRY_HOURS", 24); err != nil {
		return nil, err
	}
	if cfg.RateLimitMax, err = envInt("RATE_LIMIT_MAX", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = envDuration("RATE_LIMIT_WINDOW", time.Second); err != nil {
		return nil, err
	}
	if cfg.Session.Debounce, err = envDuration("AUTOSAVE_DEBOUNCE", defaults.Debounce); err != nil {
		return nil, err
	}
	if cfg.Session.EchoCooldown, err = envDuration("ECHO_COOLDOWN", defaults.EchoCooldown); err != nil {
		return nil, err
	}
	if cfg.Session.MaxRetries, err = envInt("AUTOSAVE_MAX_RETRIES", defaults.MaxRetries); err != nil {
		return nil, err
	}
	cfg.Session.RetryBackoff = defaults.RetryBackoff
	if cfg.OrphanSweepMinAge, err = envDuration("ORPHAN_SWEEP_MIN_AGE", time.Hour); err != nil {
		return nil, err
	}

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	if cfg.DB.Driver != "mysql" && cfg.DB.Driver != "sqlite" {
		return nil, fmt.Errorf("unsupported DB_DRIVER '%s'", cfg.DB.Driver)
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': %w", key, v, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': %w", key, v, err)
	}
	return d, nil
}
