package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig          `yaml:"app"`
	Storage      StorageConfig      `yaml:"storage"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Redis        RedisConfig        `yaml:"redis"`
	Logger       LoggerConfig       `yaml:"logger"`
	Auth         AuthConfig         `yaml:"auth"`
	Cache        CacheConfig        `yaml:"cache"`
	Modification ModificationConfig `yaml:"modification"`
	Notification NotificationConfig `yaml:"notification"`
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `yaml:"name"`
	Env                   string `yaml:"env"`
	Host                  string `yaml:"host"`
	Port                  string `yaml:"port"`
	Version               string `yaml:"version"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	// ConsoleUserID identifies actions taken by the operator console rather than a person.
	ConsoleUserID string `yaml:"console_user_id"`
}

// StorageConfig selects the ticket store.
type StorageConfig struct {
	Backend       string `yaml:"backend"`
	SQLitePath    string `yaml:"sqlite_path"`
	TimeoutMillis int    `yaml:"timeout_millis"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	MaxConns       int32  `yaml:"max_conns"`
	MinConns       int32  `yaml:"min_conns"`
	RunMigrations  bool   `yaml:"run_migrations"`
	ConnMaxIdleSec int32  `yaml:"conn_max_idle_seconds"`
	ConnMaxLifeSec int32  `yaml:"conn_max_life_seconds"`
}

// RedisConfig holds Redis connection values. When disabled, locks and presence stay in-process.
type RedisConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	LockTTLSeconds  int    `yaml:"lock_ttl_seconds"`
	PresenceTTLSecs int    `yaml:"presence_ttl_seconds"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `yaml:"level"`
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string `yaml:"jwt_secret"`
	AccessTokenTTLMinutes int    `yaml:"access_token_ttl_minutes"`
}

// CacheConfig sizes the ticket cache.
type CacheConfig struct {
	ClosedCapacity int `yaml:"closed_capacity"`
}

// ModificationConfig bounds how long a mutation waits for its ticket.
type ModificationConfig struct {
	LockTimeoutMillis int `yaml:"lock_timeout_millis"`
}

// NotificationConfig controls dispatch of lifecycle notices.
type NotificationConfig struct {
	Workers               int    `yaml:"workers"`
	QueueSize             int    `yaml:"queue_size"`
	WebhookURL            string `yaml:"webhook_url"`
	WebhookTimeoutSeconds int    `yaml:"webhook_timeout_seconds"`
	RetryIntervalSeconds  int    `yaml:"retry_interval_seconds"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:                  "support-ticket-service",
			Env:                   "development",
			Host:                  "0.0.0.0",
			Port:                  "8080",
			Version:               "dev",
			RequestTimeoutSeconds: 30,
			ConsoleUserID:         uuid.Nil.String(),
		},
		Storage: StorageConfig{
			Backend:       BackendSQLite,
			SQLitePath:    "data/tickets.db",
			TimeoutMillis: 5000,
		},
		Postgres: PostgresConfig{
			MaxConns:       10,
			MinConns:       2,
			RunMigrations:  true,
			ConnMaxIdleSec: 30,
			ConnMaxLifeSec: 300,
		},
		Redis: RedisConfig{
			Addr:            "127.0.0.1:6379",
			LockTTLSeconds:  10,
			PresenceTTLSecs: 120,
		},
		Logger: LoggerConfig{Level: "info"},
		Auth: AuthConfig{
			JWTSecret:             "dev-secret",
			AccessTokenTTLMinutes: 60,
		},
		Cache:        CacheConfig{ClosedCapacity: 1024},
		Modification: ModificationConfig{LockTimeoutMillis: 2000},
		Notification: NotificationConfig{
			Workers:               4,
			QueueSize:             256,
			WebhookTimeoutSeconds: 5,
			RetryIntervalSeconds:  30,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path, and then
// environment variables, each layer overriding the previous one.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		c.Redis.DB = db
	}

	c.App.Name = getEnv("APP_NAME", c.App.Name)
	c.App.Env = getEnv("APP_ENV", c.App.Env)
	c.App.Host = getEnv("APP_HOST", c.App.Host)
	c.App.Port = getEnv("APP_PORT", c.App.Port)
	c.App.Version = getEnv("APP_VERSION", c.App.Version)
	c.App.RequestTimeoutSeconds = getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", c.App.RequestTimeoutSeconds)
	c.App.ConsoleUserID = getEnv("CONSOLE_USER_ID", c.App.ConsoleUserID)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.TimeoutMillis = getEnvAsInt("STORAGE_TIMEOUT_MILLIS", c.Storage.TimeoutMillis)

	c.Postgres.DSN = getEnv("POSTGRES_DSN", c.Postgres.DSN)
	c.Postgres.MaxConns = int32(getEnvAsInt("POSTGRES_MAX_CONNS", int(c.Postgres.MaxConns)))
	c.Postgres.MinConns = int32(getEnvAsInt("POSTGRES_MIN_CONNS", int(c.Postgres.MinConns)))
	c.Postgres.RunMigrations = getEnvAsBool("POSTGRES_RUN_MIGRATIONS", c.Postgres.RunMigrations)
	c.Postgres.ConnMaxIdleSec = int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", int(c.Postgres.ConnMaxIdleSec)))
	c.Postgres.ConnMaxLifeSec = int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", int(c.Postgres.ConnMaxLifeSec)))

	c.Redis.Enabled = getEnvAsBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.LockTTLSeconds = getEnvAsInt("REDIS_LOCK_TTL_SECONDS", c.Redis.LockTTLSeconds)
	c.Redis.PresenceTTLSecs = getEnvAsInt("REDIS_PRESENCE_TTL_SECONDS", c.Redis.PresenceTTLSecs)

	c.Logger.Level = getEnv("LOG_LEVEL", c.Logger.Level)

	c.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.AccessTokenTTLMinutes = getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", c.Auth.AccessTokenTTLMinutes)

	c.Cache.ClosedCapacity = getEnvAsInt("CACHE_CLOSED_CAPACITY", c.Cache.ClosedCapacity)
	c.Modification.LockTimeoutMillis = getEnvAsInt("MODIFICATION_LOCK_TIMEOUT_MILLIS", c.Modification.LockTimeoutMillis)

	c.Notification.Workers = getEnvAsInt("NOTIFY_WORKERS", c.Notification.Workers)
	c.Notification.QueueSize = getEnvAsInt("NOTIFY_QUEUE_SIZE", c.Notification.QueueSize)
	c.Notification.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", c.Notification.WebhookURL)
	c.Notification.WebhookTimeoutSeconds = getEnvAsInt("NOTIFY_WEBHOOK_TIMEOUT_SECONDS", c.Notification.WebhookTimeoutSeconds)
	c.Notification.RetryIntervalSeconds = getEnvAsInt("NOTIFY_RETRY_INTERVAL_SECONDS", c.Notification.RetryIntervalSeconds)
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("storage backend %q requires POSTGRES_DSN", c.Storage.Backend)
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage backend %q requires SQLITE_PATH", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.TimeoutMillis <= 0 {
		return fmt.Errorf("storage timeout must be positive, got %d", c.Storage.TimeoutMillis)
	}
	if c.Modification.LockTimeoutMillis <= 0 {
		return fmt.Errorf("lock timeout must be positive, got %d", c.Modification.LockTimeoutMillis)
	}
	if _, err := c.App.ConsoleUser(); err != nil {
		return err
	}
	return nil
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

// ConsoleUser parses the console pseudo-user id.
func (a AppConfig) ConsoleUser() (uuid.UUID, error) {
	id, err := uuid.Parse(a.ConsoleUserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid console user id %q: %w", a.ConsoleUserID, err)
	}
	return id, nil
}

// Timeout bounds a single storage operation.
func (s StorageConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMillis) * time.Millisecond
}

// LockTimeout bounds how long a mutation waits for its ticket.
func (m ModificationConfig) LockTimeout() time.Duration {
	return time.Duration(m.LockTimeoutMillis) * time.Millisecond
}

// LockTTL is the lease length of a fleet-wide ticket lock.
func (r RedisConfig) LockTTL() time.Duration {
	return time.Duration(r.LockTTLSeconds) * time.Second
}

// PresenceTTL is how long a presence heartbeat stays valid.
func (r RedisConfig) PresenceTTL() time.Duration {
	return time.Duration(r.PresenceTTLSecs) * time.Second
}

// WebhookTimeout bounds one webhook call.
func (n NotificationConfig) WebhookTimeout() time.Duration {
	return time.Duration(n.WebhookTimeoutSeconds) * time.Second
}

// RetryInterval is the period of the integration retry loop.
func (n NotificationConfig) RetryInterval() time.Duration {
	return time.Duration(n.RetryIntervalSeconds) * time.Second
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
