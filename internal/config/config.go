package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Bulk         BulkConfig
	Jobs         JobsConfig
	Events       EventsConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines bearer token verification parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// NotificationConfig holds notification delivery settings.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
	Queue      string

	// BufferSize bounds jobs waiting for the enqueue worker; beyond it new
	// jobs are dropped.
	BufferSize            int
	EnqueueTimeoutSeconds int
}

// BulkConfig bounds bulk operations and their idempotency records.
type BulkConfig struct {
	MaxItems              int
	IdempotencyTTLSeconds int
	// IdempotencyStore selects "redis" (shared across replicas) or "memory".
	IdempotencyStore string
}

// JobsConfig lists the queues exposed by the job inspector.
type JobsConfig struct {
	Queues       []string
	KeyPrefix    string
	HistoryLimit int
}

// EventsConfig tunes the server-sent event stream.
type EventsConfig struct {
	HeartbeatSeconds int
	BufferSize       int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "property-maintenance-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
			Queue:      getEnv("NOTIFY_QUEUE", "notifications"),

			BufferSize:            getEnvAsInt("NOTIFY_BUFFER_SIZE", 256),
			EnqueueTimeoutSeconds: getEnvAsInt("NOTIFY_ENQUEUE_TIMEOUT_SECONDS", 5),
		},
		Bulk: BulkConfig{
			MaxItems:              getEnvAsInt("BULK_MAX_ITEMS", 50),
			IdempotencyTTLSeconds: getEnvAsInt("IDEMPOTENCY_TTL_SECONDS", 86400),
			IdempotencyStore:      strings.ToLower(getEnv("IDEMPOTENCY_STORE", "redis")),
		},
		Jobs: JobsConfig{
			Queues:       getEnvAsList("JOBS_QUEUES", []string{"tickets", "notifications"}),
			KeyPrefix:    getEnv("JOBS_KEY_PREFIX", "bull"),
			HistoryLimit: getEnvAsInt("JOBS_HISTORY_LIMIT", 50),
		},
		Events: EventsConfig{
			HeartbeatSeconds: getEnvAsInt("EVENTS_HEARTBEAT_SECONDS", 15),
			BufferSize:       getEnvAsInt("EVENTS_BUFFER_SIZE", 64),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// IdempotencyTTL returns how long bulk results are replayable.
func (b BulkConfig) IdempotencyTTL() time.Duration {
	if b.IdempotencyTTLSeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(b.IdempotencyTTLSeconds) * time.Second
}

// EnqueueTimeout bounds a single notification enqueue.
func (n NotificationConfig) EnqueueTimeout() time.Duration {
	if n.EnqueueTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(n.EnqueueTimeoutSeconds) * time.Second
}

// Heartbeat returns the interval between keep-alive comments.
func (e EventsConfig) Heartbeat() time.Duration {
	if e.HeartbeatSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(e.HeartbeatSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
