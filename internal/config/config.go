package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults для серверной конфигурации
const (
	DefaultAddr            = ":8080"
	DefaultDBPath          = "zetra-sync.db"
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultRateLimit       = 120
	DefaultAuthRateLimit   = 10
	DefaultRateWindow      = time.Minute
	DefaultShutdownTimeout = 10 * time.Second
)

// Config конфигурация сервера синхронизации.
// Все значения берутся из окружения с префиксом ZETRA_SYNC_.
type Config struct {
	Addr            string        // ZETRA_SYNC_ADDR
	DBPath          string        // ZETRA_SYNC_DB_PATH
	JWTSecret       string        // ZETRA_SYNC_JWT_SECRET (обязательный)
	AccessTokenTTL  time.Duration // ZETRA_SYNC_ACCESS_TOKEN_TTL
	RefreshTokenTTL time.Duration // ZETRA_SYNC_REFRESH_TOKEN_TTL
	RateLimit       int           // ZETRA_SYNC_RATE_LIMIT запросов на окно
	AuthRateLimit   int           // ZETRA_SYNC_AUTH_RATE_LIMIT лимит для login/register
	RateWindow      time.Duration // ZETRA_SYNC_RATE_WINDOW
	ShutdownTimeout time.Duration // ZETRA_SYNC_SHUTDOWN_TIMEOUT
	LogLevel        string        // ZETRA_SYNC_LOG_LEVEL: debug, info, warn, error
}

// Load читает конфигурацию из переменных окружения.
// Возвращает ошибку, если не задан JWT secret: сервер без него
// выдавал бы токены с предсказуемой подписью.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:            envString("ZETRA_SYNC_ADDR", DefaultAddr),
		DBPath:          envString("ZETRA_SYNC_DB_PATH", DefaultDBPath),
		JWTSecret:       os.Getenv("ZETRA_SYNC_JWT_SECRET"),
		AccessTokenTTL:  DefaultAccessTokenTTL,
		RefreshTokenTTL: DefaultRefreshTokenTTL,
		RateLimit:       DefaultRateLimit,
		AuthRateLimit:   DefaultAuthRateLimit,
		RateWindow:      DefaultRateWindow,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        envString("ZETRA_SYNC_LOG_LEVEL", "info"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("ZETRA_SYNC_JWT_SECRET is required")
	}

	var err error
	if cfg.AccessTokenTTL, err = envDuration("ZETRA_SYNC_ACCESS_TOKEN_TTL", DefaultAccessTokenTTL); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = envDuration("ZETRA_SYNC_REFRESH_TOKEN_TTL", DefaultRefreshTokenTTL); err != nil {
		return nil, err
	}
	if cfg.RateWindow, err = envDuration("ZETRA_SYNC_RATE_WINDOW", DefaultRateWindow); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = envDuration("ZETRA_SYNC_SHUTDOWN_TIMEOUT", DefaultShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = envInt("ZETRA_SYNC_RATE_LIMIT", DefaultRateLimit); err != nil {
		return nil, err
	}
	if cfg.AuthRateLimit, err = envInt("ZETRA_SYNC_AUTH_RATE_LIMIT", DefaultAuthRateLimit); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
