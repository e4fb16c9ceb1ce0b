package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Telegram Bot configuration
	BotToken string
	OwnerID  int64

	// Trigger listener configuration
	TriggerHost string
	TriggerPort string

	// Storage configuration
	DataDir string

	// Scheduling configuration
	TickSeconds  int
	TimeoutTicks int
	GraceMinutes int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg := &Config{}

	// Required configurations
	botToken := os.Getenv("BOT_TOKEN")
	if botToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN environment variable is required")
	}
	cfg.BotToken = botToken

	// Optional configurations with defaults
	cfg.TriggerHost = getEnvWithDefault("TRIGGER_HOST", "0.0.0.0")
	cfg.TriggerPort = getEnvWithDefault("TRIGGER_PORT", "8555")
	cfg.DataDir = getEnvWithDefault("DATA_DIR", "./data")

	cfg.OwnerID, err = getEnvInt64("OWNER_ID", 0)
	if err != nil {
		return nil, err
	}

	tickSeconds, err := getEnvInt("TICK_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	cfg.TickSeconds = tickSeconds

	timeoutTicks, err := getEnvInt("TIMEOUT_TICKS", 120)
	if err != nil {
		return nil, err
	}
	cfg.TimeoutTicks = timeoutTicks

	graceMinutes, err := getEnvInt("GRACE_MINUTES", 10)
	if err != nil {
		return nil, err
	}
	cfg.GraceMinutes = graceMinutes

	// Log configuration with sensitive data redacted
	logCfg := *cfg
	if len(logCfg.BotToken) > 8 {
		logCfg.BotToken = logCfg.BotToken[:8] + "...REDACTED..."
	}
	log.Printf("Configuration loaded: %+v", logCfg)
	return cfg, nil
}

// getEnvWithDefault returns the value of the environment variable or the default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt returns the integer value of the environment variable or the default value
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

// getEnvInt64 returns the int64 value of the environment variable or the default value
func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}
