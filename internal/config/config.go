package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultTimezone is used when TIMEZONE is unset or not a valid tzdata name.
const DefaultTimezone = "Africa/Nairobi"

// Config holds application configuration
type Config struct {
	Environment       string
	LogLevel          string
	APIPort           int
	HeartbeatInterval time.Duration
	Timezone          string
	Location          *time.Location
	Rabbit            RabbitConfig
	Database          DatabaseConfig
}

// RabbitConfig holds broker connection configuration
type RabbitConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	VHost    string
	// ConnectionTimeout is how long a broker-blocked connection is
	// tolerated before the client drops it and redials on next use.
	ConnectionTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// URL returns the AMQP connection URL for the broker.
func (r RabbitConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.User, r.Password),
		Host:   fmt.Sprintf("%s:%d", r.Host, r.Port),
		Path:   r.VHost,
	}
	return u.String()
}

// Load loads configuration from environment variables. A .env file in the
// working directory is merged in first when present.
func Load() *Config {
	_ = godotenv.Load()

	tz, loc := loadTimezone()

	cfg := &Config{
		Environment:       getEnv("ENVIRONMENT", "production"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		APIPort:           getEnvInt("API_PORT", 8080),
		HeartbeatInterval: time.Duration(getEnvInt("HEARTBEAT_INTERVAL_SECONDS", 1)) * time.Second,
		Timezone:          tz,
		Location:          loc,
		Rabbit: RabbitConfig{
			User:              getEnv("RABBIT_USER", "guest"),
			Password:          getEnv("RABBIT_PASSWORD", "guest"),
			Host:              getEnv("RABBIT_HOST_IP", "localhost"),
			Port:              getEnvInt("RABBIT_PORT", 5672),
			VHost:             getEnv("RABBIT_VHOST", "/"),
			ConnectionTimeout: time.Duration(getEnvInt("RABBIT_CONNECTION_TIMEOUT", 6*60*60)) * time.Second,
		},
		Database: DatabaseConfig{
			DSN:          getEnv("DATABASE_DSN", buildPostgresDSN()),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	return cfg
}

func buildPostgresDSN() string {
	host := getEnv("DB_IP", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USERNAME", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbName := getEnv("DB_NAME", "postgres")
	sslMode := getEnv("DB_SSLMODE", "disable")

	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   dbName,
	}

	query := u.Query()
	query.Set("sslmode", sslMode)
	// Uptime rows are keyed on midnight-UTC dates; pin the session timezone
	// so date comparisons are not at the mercy of the server default.
	query.Set("timezone", "UTC")
	u.RawQuery = query.Encode()

	return u.String()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Rabbit.Host == "" {
		return fmt.Errorf("RABBIT_HOST_IP must not be empty")
	}
	if c.Rabbit.Port <= 0 || c.Rabbit.Port > 65535 {
		return fmt.Errorf("invalid RABBIT_PORT: %d", c.Rabbit.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must not be empty")
	}
	return nil
}

// loadTimezone validates TIMEZONE against the system timezone database and
// falls back to DefaultTimezone when it is unset or unknown.
func loadTimezone() (string, *time.Location) {
	tz := os.Getenv("TIMEZONE")
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return tz, loc
		}
		log.Printf("WARNING: invalid TIMEZONE %q, falling back to %s", tz, DefaultTimezone)
	}

	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		log.Printf("WARNING: timezone database unavailable, using UTC")
		return "UTC", time.UTC
	}
	return DefaultTimezone, loc
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}
