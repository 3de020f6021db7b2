package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all gateway configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Gateway  GatewayConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port           int
	AllowedOrigins string
}

// DatabaseConfig holds the catalog Postgres settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	AccessTokenSecret string
	CredentialKey     string
}

// GatewayConfig holds limits applied to registered targets
type GatewayConfig struct {
	QueryTimeout      time.Duration
	ProbeTimeout      time.Duration
	HandlePingTimeout time.Duration
	HandleMaxOpen     int
	HandleMaxIdle     int
	HandleConnMaxIdle time.Duration
	HistoryLimit      int
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load reads configuration from the environment, loading .env first when
// present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", ""),
			Port:        getEnvInt("DB_PORT", 5432),
			Database:    getEnv("DB_DATABASE", "sqlgateway"),
			User:        getEnv("DB_USERNAME", "postgres"),
			Password:    getEnv("DB_PASSWORD", ""),
			MaxConns:    getEnvInt("DB_MAX_CONNS", 25),
			MinConns:    getEnvInt("DB_MIN_CONNS", 5),
			MaxIdleTime: getEnvDuration("DB_MAX_IDLE_TIME", time.Minute),
			MaxLifetime: getEnvDuration("DB_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			AccessTokenSecret: getEnv("ACCESS_TOKEN_SECRET", ""),
			CredentialKey:     getEnv("CREDENTIAL_KEY", ""),
		},
		Gateway: GatewayConfig{
			QueryTimeout:      getEnvDuration("QUERY_TIMEOUT", 30*time.Second),
			ProbeTimeout:      getEnvDuration("PROBE_TIMEOUT", 60*time.Second),
			HandlePingTimeout: getEnvDuration("HANDLE_PING_TIMEOUT", 3*time.Second),
			HandleMaxOpen:     getEnvInt("HANDLE_MAX_OPEN_CONNS", 5),
			HandleMaxIdle:     getEnvInt("HANDLE_MAX_IDLE_CONNS", 2),
			HandleConnMaxIdle: getEnvDuration("HANDLE_CONN_MAX_IDLE", 5*time.Minute),
			HistoryLimit:      getEnvInt("QUERY_HISTORY_LIMIT", 100),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "console"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST environment variable is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD environment variable is required")
	}
	if c.Auth.AccessTokenSecret == "" {
		return fmt.Errorf("ACCESS_TOKEN_SECRET environment variable is required")
	}
	if c.Auth.CredentialKey == "" {
		return fmt.Errorf("CREDENTIAL_KEY environment variable is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("DB_MAX_CONNS must be >= DB_MIN_CONNS")
	}
	if c.Gateway.QueryTimeout <= 0 {
		return fmt.Errorf("QUERY_TIMEOUT must be positive")
	}
	if c.Gateway.ProbeTimeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT must be positive")
	}
	return nil
}

// DatabaseURL builds the catalog connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s@%s:%d/%s?sslmode=disable",
		url.UserPassword(c.Database.User, c.Database.Password).String(),
		c.Database.Host,
		c.Database.Port,
		url.PathEscape(c.Database.Database),
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
