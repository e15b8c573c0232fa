package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server ServerConfig
	Pool   PoolConfig
	Store  StoreConfig
	Queue  QueueConfig
	Log    LogConfig
	API    APIConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PoolConfig holds the registry knobs. AcquireWait of zero means acquire
// fails fast on exhaustion instead of blocking for capacity.
type PoolConfig struct {
	GlobalMax       int           // Maximum live pool entries across all targets
	PerTargetMax    int           // Maximum outstanding checkouts per entry
	IdleTTL         time.Duration // Unused duration before background reclamation
	SweepInterval   time.Duration // Idle reclaimer tick
	AcquireWait     time.Duration // Optional wait for capacity before failing
	ShutdownGrace   time.Duration // Bounded drain before force-closing busy entries
	ConnectTimeout  time.Duration // Per-creation dial/ping budget
	HealthCheckWait time.Duration // Per-healthcheck budget
}

type StoreConfig struct {
	ValkeyAddr string
	Password   string
	DB         int
}

type QueueConfig struct {
	NATSURL     string
	StreamName  string
	WorkerCount int
}

type LogConfig struct {
	Level  string
	Format string
}

type APIConfig struct {
	Key string // Empty disables auth (development)
}

// Load loads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Pool: PoolConfig{
			GlobalMax:       getEnvInt("POOL_GLOBAL_MAX", 100),
			PerTargetMax:    getEnvInt("POOL_PER_TARGET_MAX", 10),
			IdleTTL:         getEnvDuration("POOL_IDLE_TTL", 5*time.Minute),
			SweepInterval:   getEnvDuration("POOL_SWEEP_INTERVAL", 60*time.Second),
			AcquireWait:     getEnvDuration("POOL_ACQUIRE_WAIT", 0),
			ShutdownGrace:   getEnvDuration("POOL_SHUTDOWN_GRACE", 10*time.Second),
			ConnectTimeout:  getEnvDuration("POOL_CONNECT_TIMEOUT", 10*time.Second),
			HealthCheckWait: getEnvDuration("POOL_HEALTHCHECK_WAIT", 5*time.Second),
		},
		Store: StoreConfig{
			ValkeyAddr: getEnv("VALKEY_ADDR", "localhost:6379"),
			Password:   getEnv("VALKEY_PASSWORD", ""),
			DB:         getEnvInt("VALKEY_DB", 0),
		},
		Queue: QueueConfig{
			NATSURL:     getEnv("NATS_URL", "nats://localhost:4222"),
			StreamName:  getEnv("NATS_STREAM_NAME", "POOL"),
			WorkerCount: getEnvInt("NATS_WORKER_COUNT", 2),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		API: APIConfig{
			Key: getEnv("API_KEY", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
