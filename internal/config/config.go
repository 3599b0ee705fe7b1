package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Stream    StreamConfig
	Scheduler SchedulerConfig
	LogLevel  string
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// StreamConfig carries the process-wide JetStream connection settings. The
// stream transport is optional: when URLs is empty the service runs queue-only.
type StreamConfig struct {
	URLs          string
	AuthMode      string
	Token         string
	NkeySeedFile  string
	CredsFile     string
	StreamName    string
	SubjectPrefix string
	PoolSize      int
}

type SchedulerConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	CleanupInterval time.Duration
	CleanupMaxAge   time.Duration
}

func Load() (*Config, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	config := &Config{
		Server: ServerConfig{
			Port: get("SERVER_PORT"),
			Host: get("SERVER_HOST"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  get("DB_SSLMODE"),
		},
		Stream: StreamConfig{
			URLs:          os.Getenv("STREAM_URLS"),
			AuthMode:      getDefault("STREAM_AUTH_MODE", "none"),
			Token:         os.Getenv("STREAM_TOKEN"),
			NkeySeedFile:  os.Getenv("STREAM_NKEY_SEED_FILE"),
			CredsFile:     os.Getenv("STREAM_CREDS_FILE"),
			StreamName:    getDefault("STREAM_NAME", "DELIVERIES"),
			SubjectPrefix: os.Getenv("STREAM_SUBJECT_PREFIX"),
			PoolSize:      getInt("STREAM_POOL_SIZE", 10),
		},
		Scheduler: SchedulerConfig{
			PollInterval:    getDuration("SCHEDULER_POLL_INTERVAL", 5*time.Second),
			BatchSize:       getInt("SCHEDULER_BATCH_SIZE", 100),
			CleanupInterval: getDuration("CLEANUP_INTERVAL", 1*time.Hour),
			CleanupMaxAge:   getDuration("CLEANUP_MAX_AGE", 30*24*time.Hour),
		},
		LogLevel: getDefault("LOG_LEVEL", "info"),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

func getDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

// ConnectionString returns a DSN string for GORM
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// StreamEnabled reports whether the stream transport is configured at all.
func (c *StreamConfig) StreamEnabled() bool {
	return c.URLs != ""
}
