package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	AMQP     AMQPConfig
	Log      LogConfig
	Admin    AdminConfig
	CORS     CORSConfig
	Platform PlatformConfig

	Pool     PoolConfig
	Queue    QueueConfig
	Transfer TransferConfig
	Cleanup  CleanupConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AMQPConfig points at the broker carrying transfer status events. Leave URL
// empty to disable publishing entirely.
type AMQPConfig struct {
	URL      string
	Exchange string
}

type LogConfig struct {
	Level  string
	Format string
}

// CORSConfig lists the origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string
}

// PlatformConfig points at the media gateway sidecar speaking the native
// chat-platform protocol.
type PlatformConfig struct {
	GatewayURL string
}

// AdminConfig secures the operator surface (cancel-all, pool inspection).
type AdminConfig struct {
	JWTSecret     string
	JWTExpiration time.Duration
}

// PoolConfig bounds the set of live platform sessions.
type PoolConfig struct {
	Capacity      int
	IdleTimeout   time.Duration
	EvictionGrace time.Duration
	SweepInterval time.Duration
}

// QueueConfig bounds admission and scheduling of transfer tasks.
type QueueConfig struct {
	MaxActive        int
	MaxPending       int
	MaxPendingAge    time.Duration
	SlotsFullBackoff time.Duration
	RetentionWindow  time.Duration
	TickInterval     time.Duration
}

// TransferConfig governs a single task's execution.
type TransferConfig struct {
	StorageDir      string
	Deadline        time.Duration
	MaxRetries      int
	AcquireRetries  int
	ChunkSize       int64
	FreeMaxBytes    int64
	PremiumMaxBytes int64
	SigningSecret   string
	SigningTTL      time.Duration
}

// CleanupConfig governs tier-delayed artifact deletion.
type CleanupConfig struct {
	PremiumDelay  time.Duration
	FreeDelay     time.Duration
	SafetyCeiling time.Duration
	SweepInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.AMQP = AMQPConfig{
		URL:      v.GetString("AMQP_URL"),
		Exchange: v.GetString("AMQP_EXCHANGE"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
	}

	cfg.Platform = PlatformConfig{
		GatewayURL: strings.TrimRight(v.GetString("PLATFORM_GATEWAY_URL"), "/"),
	}

	cfg.Admin = AdminConfig{
		JWTSecret:     v.GetString("ADMIN_JWT_SECRET"),
		JWTExpiration: parseDuration(v.GetString("ADMIN_JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.Pool = PoolConfig{
		Capacity:      v.GetInt("POOL_CAPACITY"),
		IdleTimeout:   parseDuration(v.GetString("POOL_IDLE_TIMEOUT"), 30*time.Minute),
		EvictionGrace: parseDuration(v.GetString("POOL_EVICTION_GRACE"), 2*time.Minute),
		SweepInterval: parseDuration(v.GetString("POOL_SWEEP_INTERVAL"), time.Minute),
	}

	cfg.Queue = QueueConfig{
		MaxActive:        v.GetInt("QUEUE_MAX_ACTIVE"),
		MaxPending:       v.GetInt("QUEUE_MAX_PENDING"),
		MaxPendingAge:    parseDuration(v.GetString("QUEUE_MAX_PENDING_AGE"), time.Hour),
		SlotsFullBackoff: parseDuration(v.GetString("QUEUE_SLOTS_FULL_BACKOFF"), 5*time.Second),
		RetentionWindow:  parseDuration(v.GetString("QUEUE_RETENTION_WINDOW"), 10*time.Minute),
		TickInterval:     parseDuration(v.GetString("QUEUE_TICK_INTERVAL"), time.Second),
	}

	maxFree := v.GetInt64("TRANSFER_FREE_MAX_BYTES")
	if maxFree <= 0 {
		maxFree = 2000 * 1024 * 1024
	}
	maxPremium := v.GetInt64("TRANSFER_PREMIUM_MAX_BYTES")
	if maxPremium <= 0 {
		maxPremium = 2 * maxFree
	}
	cfg.Transfer = TransferConfig{
		StorageDir:      v.GetString("TRANSFER_STORAGE_DIR"),
		Deadline:        parseDuration(v.GetString("TRANSFER_DEADLINE"), 30*time.Minute),
		MaxRetries:      v.GetInt("TRANSFER_MAX_RETRIES"),
		AcquireRetries:  v.GetInt("TRANSFER_ACQUIRE_RETRIES"),
		ChunkSize:       v.GetInt64("TRANSFER_CHUNK_SIZE"),
		FreeMaxBytes:    maxFree,
		PremiumMaxBytes: maxPremium,
		SigningSecret:   v.GetString("TRANSFER_SIGNING_SECRET"),
		SigningTTL:      parseDuration(v.GetString("TRANSFER_SIGNING_TTL"), 10*time.Minute),
	}

	cfg.Cleanup = CleanupConfig{
		PremiumDelay:  parseDuration(v.GetString("CLEANUP_PREMIUM_DELAY"), 30*time.Second),
		FreeDelay:     parseDuration(v.GetString("CLEANUP_FREE_DELAY"), 5*time.Minute),
		SafetyCeiling: parseDuration(v.GetString("CLEANUP_SAFETY_CEILING"), 45*time.Minute),
		SweepInterval: parseDuration(v.GetString("CLEANUP_SWEEP_INTERVAL"), 10*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "media_relay")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("AMQP_URL", "")
	v.SetDefault("AMQP_EXCHANGE", "relay.status")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("PLATFORM_GATEWAY_URL", "http://localhost:8090")

	v.SetDefault("ADMIN_JWT_SECRET", "dev_admin_secret")
	v.SetDefault("ADMIN_JWT_EXPIRATION", "24h")

	// Three sessions at roughly 70MB each plus base overhead stays inside a
	// 512MB container.
	v.SetDefault("POOL_CAPACITY", 3)
	v.SetDefault("POOL_IDLE_TIMEOUT", "30m")
	v.SetDefault("POOL_EVICTION_GRACE", "2m")
	v.SetDefault("POOL_SWEEP_INTERVAL", "1m")

	v.SetDefault("QUEUE_MAX_ACTIVE", 3)
	v.SetDefault("QUEUE_MAX_PENDING", 20)
	v.SetDefault("QUEUE_MAX_PENDING_AGE", "60m")
	v.SetDefault("QUEUE_SLOTS_FULL_BACKOFF", "5s")
	v.SetDefault("QUEUE_RETENTION_WINDOW", "10m")
	v.SetDefault("QUEUE_TICK_INTERVAL", "1s")

	v.SetDefault("TRANSFER_STORAGE_DIR", "./downloads")
	v.SetDefault("TRANSFER_DEADLINE", "30m")
	v.SetDefault("TRANSFER_MAX_RETRIES", 2)
	v.SetDefault("TRANSFER_ACQUIRE_RETRIES", 2)
	v.SetDefault("TRANSFER_CHUNK_SIZE", 1024*1024)
	v.SetDefault("TRANSFER_FREE_MAX_BYTES", int64(2000)*1024*1024)
	v.SetDefault("TRANSFER_SIGNING_SECRET", "dev_download_secret")
	v.SetDefault("TRANSFER_SIGNING_TTL", "10m")
	v.SetDefault("TRANSFER_PREMIUM_MAX_BYTES", int64(4000)*1024*1024)

	v.SetDefault("CLEANUP_PREMIUM_DELAY", "30s")
	v.SetDefault("CLEANUP_FREE_DELAY", "5m")
	v.SetDefault("CLEANUP_SAFETY_CEILING", "45m")
	v.SetDefault("CLEANUP_SWEEP_INTERVAL", "10m")
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}
