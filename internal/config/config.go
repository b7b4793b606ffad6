package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/trogers1052/nepse-sentiment/internal/models"
	"github.com/trogers1052/nepse-sentiment/internal/sentiment"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	Log            LogConfig
	Sentiment      SentimentConfig
	MigrationsPath string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the market cache configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Enabled  bool
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers      []string
	ChangesTopic string
	EntriesTopic string
	GroupID      string
	Enabled      bool
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string
	Format string // json or console
}

// SentimentConfig holds aggregation engine configuration
type SentimentConfig struct {
	TotalStockPolicy  sentiment.TotalStockPolicy
	Sectors           []models.Sector
	RecomputeSchedule string // cron spec, empty disables
	RetryAttempts     int
}

// Load reads configuration from environment variables, after loading a .env
// file when one is present
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", "10s"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "nepse"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("REDIS_TTL", "10m"),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			ChangesTopic: getEnv("KAFKA_CHANGES_TOPIC", "nepse-sentiment-changes"),
			EntriesTopic: getEnv("KAFKA_ENTRIES_TOPIC", "nepse-sector-entries"),
			GroupID:      getEnv("KAFKA_GROUP_ID", "nepse-sentiment"),
			Enabled:      getEnvAsBool("KAFKA_ENABLED", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Sentiment: SentimentConfig{
			RecomputeSchedule: getEnv("SENTIMENT_RECOMPUTE_SCHEDULE", "@every 1h"),
			RetryAttempts:     getEnvAsInt("SENTIMENT_RETRY_ATTEMPTS", 3),
		},
		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),
	}

	policy, err := sentiment.ParseTotalStockPolicy(os.Getenv("SENTIMENT_TOTAL_STOCK_POLICY"))
	if err != nil {
		return nil, err
	}
	cfg.Sentiment.TotalStockPolicy = policy

	cfg.Sentiment.Sectors = models.AllSectors
	if raw := os.Getenv("SENTIMENT_SECTORS"); raw != "" {
		var sectors []models.Sector
		for _, name := range splitList(raw) {
			s, err := models.ParseSector(name, models.AllSectors)
			if err != nil {
				return nil, fmt.Errorf("SENTIMENT_SECTORS: %w", err)
			}
			if models.ContainsSector(sectors, s) {
				return nil, fmt.Errorf("SENTIMENT_SECTORS: duplicate sector %q (from %q)", s, name)
			}
			sectors = append(sectors, s)
		}
		if len(sectors) == 0 {
			return nil, fmt.Errorf("SENTIMENT_SECTORS: no sectors listed")
		}
		cfg.Sentiment.Sectors = sectors
	}

	switch cfg.Log.Format {
	case "json", "console":
	default:
		return nil, fmt.Errorf("LOG_FORMAT must be json or console, got %q", cfg.Log.Format)
	}

	return cfg, nil
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

// Addr returns the HTTP listen address
func (s *ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key, defaultValue string) time.Duration {
	duration, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
