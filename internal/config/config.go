package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the full application configuration surface.
type Config struct {
	Server ServerConfig
	MySQL  MySQLConfig
	Redis  RedisConfig
	Ledger LedgerConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port string
}

// MySQLConfig holds settings for the authoritative store.
type MySQLConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds settings for the idempotency and cache store.
type RedisConfig struct {
	Addr     string
	PoolSize int
}

// LedgerConfig holds posting policy and cache-warm settings.
type LedgerConfig struct {
	// GateOnAvailability makes outbound postings respect outstanding holds.
	GateOnAvailability bool
	AppendRetries      int
	SummaryCacheTTL    time.Duration
	WarmCronSchedule   string
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Missing .env files are acceptable when configuration comes from
		// the environment directly.
		_ = godotenv.Load()
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getenvWithDefault("APP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:          getenvWithDefault("MYSQL_DSN", "root:root@tcp(localhost:3306)/stockledger?parseTime=true"),
			MaxOpenConns: getenvInt("MYSQL_MAX_OPEN_CONNS", 50),
			MaxIdleConns: getenvInt("MYSQL_MAX_IDLE_CONNS", 25),
		},
		Redis: RedisConfig{
			Addr:     getenvWithDefault("REDIS_ADDR", "localhost:6379"),
			PoolSize: getenvInt("REDIS_POOL_SIZE", 100),
		},
		Ledger: LedgerConfig{
			GateOnAvailability: getenvBool("LEDGER_GATE_ON_AVAILABILITY", false),
			AppendRetries:      getenvInt("LEDGER_APPEND_RETRIES", 3),
			SummaryCacheTTL:    getenvDuration("LEDGER_SUMMARY_CACHE_TTL", 30*time.Second),
			WarmCronSchedule:   getenvWithDefault("LEDGER_WARM_CRON", "*/5 * * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}
	if c.MySQL.DSN == "" {
		return errors.New("MYSQL_DSN must be provided")
	}
	if c.Redis.Addr == "" {
		return errors.New("REDIS_ADDR must be provided")
	}
	if c.Ledger.AppendRetries <= 0 {
		return errors.New("LEDGER_APPEND_RETRIES must be positive")
	}
	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
