package config

import (
	"os"
	"strconv"
	"time"

	"gokpi/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database DatabaseConfig
	Recalc   RecalcConfig
	Insights InsightConfig
	Logging  LoggingConfig
	Import   ImportConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RecalcConfig holds recalculation engine settings
type RecalcConfig struct {
	Parallelism int
}

// InsightConfig holds insight rule calibration overrides
type InsightConfig struct {
	DeviationRatio          float64
	HighDeviationPct        float64
	ConsecutiveTrendEntries int
	AnomalyStdDevs          float64
	StaleDays               int
	Freshness               time.Duration
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level string
}

// ImportConfig holds batch import settings
type ImportConfig struct {
	FilePath string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	dbConfig, err := loadDatabaseConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load database configuration")
	}

	config := &Config{
		Database: *dbConfig,
		Recalc: RecalcConfig{
			Parallelism: getEnvIntOrDefault("RECALC_PARALLELISM", 4),
		},
		Insights: InsightConfig{
			DeviationRatio:          getEnvFloatOrDefault("INSIGHT_DEVIATION_RATIO", 0.20),
			HighDeviationPct:        getEnvFloatOrDefault("INSIGHT_HIGH_DEVIATION_PCT", 30),
			ConsecutiveTrendEntries: getEnvIntOrDefault("INSIGHT_TREND_ENTRIES", 4),
			AnomalyStdDevs:          getEnvFloatOrDefault("INSIGHT_ANOMALY_STDDEVS", 1.5),
			StaleDays:               getEnvIntOrDefault("INSIGHT_STALE_DAYS", 3),
			Freshness:               getEnvDurationOrDefault("INSIGHT_FRESHNESS", 24*time.Hour),
		},
		Logging: LoggingConfig{
			Level: getEnvOrDefault("LOG_LEVEL", "info"),
		},
		Import: ImportConfig{
			FilePath: getEnvOrDefault("IMPORT_FILE", ""),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadDatabaseConfig() (*DatabaseConfig, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, errors.ConfigInvalid("DATABASE_URL is required")
	}

	return &DatabaseConfig{
		URL:          url,
		MaxOpenConns: getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns: getEnvIntOrDefault("DB_MAX_IDLE_CONNS", 5),
	}, nil
}

func validateConfig(config *Config) error {
	if config.Database.URL == "" {
		return errors.ConfigInvalid("database URL is required")
	}
	if config.Recalc.Parallelism < 1 {
		return errors.ConfigInvalid("recalc parallelism must be at least 1")
	}
	if config.Insights.Freshness <= 0 {
		return errors.ConfigInvalid("insight freshness must be positive")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
