package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/tripzi-app/calling/pkg/cache"
	"github.com/tripzi-app/calling/pkg/logger"
	"github.com/tripzi-app/calling/pkg/utils"
)

// Config holds the full service configuration
type Config struct {
	ServerName string `env:"SERVER_NAME"`
	Addr       string `env:"ADDR"`
	Mode       string `env:"MODE"`
	APIPrefix  string `env:"API_PREFIX"`

	DBDriver string `env:"DB_DRIVER"`
	DSN      string `env:"DSN"`

	// WebRTC signaling
	STUNUrls      []string      `env:"STUN_URLS"`      // comma separated stun: urls
	RingTimeout   time.Duration `env:"RING_TIMEOUT"`   // unanswered calls expire after this
	SweepSchedule string        `env:"SWEEP_SCHEDULE"` // cron expression for the ring-timeout sweeper

	MonitorPrefix string `env:"MONITOR_PREFIX"`

	Log   logger.LogConfig
	Cache cache.Config
}

// GlobalConfig is populated by Load before anything else starts
var GlobalConfig *Config

// Load reads .env (optional) and the environment into GlobalConfig.
// Every key has a default so the service starts with no .env at all.
func Load() error {
	env := os.Getenv("APP_ENV")
	if err := utils.LoadEnv(env); err != nil {
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	GlobalConfig = &Config{
		ServerName:   utils.GetEnvDefault("SERVER_NAME", "tripzi-calling"),
		Addr:         utils.GetEnvDefault("ADDR", ":7080"),
		Mode:         utils.GetEnvDefault("MODE", "development"),
		APIPrefix:    utils.GetEnvDefault("API_PREFIX", "/api"),
		DBDriver: utils.GetEnvDefault("DB_DRIVER", "sqlite"),
		DSN:      utils.GetEnvDefault("DSN", "./calling.db"),

		STUNUrls:      splitList(utils.GetEnvDefault("STUN_URLS", "stun:stun.l.google.com:19302")),
		RingTimeout:   durationOrDefault("RING_TIMEOUT", 45*time.Second),
		SweepSchedule: utils.GetEnvDefault("SWEEP_SCHEDULE", "*/1 * * * *"),

		MonitorPrefix: utils.GetEnvDefault("MONITOR_PREFIX", "/metrics"),

		Log: logger.LogConfig{
			Level:      utils.GetEnvDefault("LOG_LEVEL", "info"),
			Filename:   utils.GetEnvDefault("LOG_FILENAME", ""),
			MaxSize:    utils.GetEnvInt("LOG_MAX_SIZE", 100),
			MaxAge:     utils.GetEnvInt("LOG_MAX_AGE", 30),
			MaxBackups: utils.GetEnvInt("LOG_MAX_BACKUPS", 5),
		},
		Cache: cache.Config{
			Backend:           utils.GetEnvDefault("CACHE_BACKEND", "local"),
			DefaultExpiration: durationOrDefault("CACHE_DEFAULT_EXPIRATION", 5*time.Minute),
			CleanupInterval:   durationOrDefault("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
			RedisAddr:         utils.GetEnv("CACHE_REDIS_ADDR"),
			RedisPassword:     utils.GetEnv("CACHE_REDIS_PASSWORD"),
			RedisDB:           utils.GetEnvInt("CACHE_REDIS_DB", 0),
		},
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		log.Printf("invalid duration for %s: %q, using default %v", key, v, def)
		return def
	}
	return d
}

