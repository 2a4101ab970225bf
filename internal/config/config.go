// Package config loads process configuration from environment variables
// (with an optional .env file) through typed getEnv/fallback helpers.
// Settings never live in a database here: this system has a single
// store, not a settings table, so credential rotation is a restart-time
// operation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every value the wiring layer needs to construct the
// process. Zero value is not meaningful; build with Load.
type Config struct {
	DataDir string // base directory for the SQLite store and token cache

	BrokerBaseURL    string
	BrokerAppKey     string
	BrokerAppSecret  string
	BrokerStreamURL  string

	FastReasonerURL string
	FastReasonerKey string
	SlowReasonerURL string
	SlowReasonerKey string

	NotifyWebhookURL string

	BackupBucket string
	BackupPrefix string

	LogLevel string
	Port     int
	DevMode  bool

	// Seoul is Asia/Seoul, loaded once at startup. A failure to resolve
	// the zoneinfo database is a startup fatal: every cron cadence and
	// every Friday-afternoon safety gate depends on it.
	Seoul *time.Location
}

// Load reads a .env file if present (ignored if absent, since production
// deploys set real environment variables) and then environment variables
// with typed fallbacks.
func Load() (*Config, error) {
	_ = godotenv.Load()

	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return nil, fmt.Errorf("load Asia/Seoul zoneinfo: %w", err)
	}

	cfg := &Config{
		DataDir: getEnv("AEGIS_DATA_DIR", "./data"),

		BrokerBaseURL:   getEnv("BROKER_BASE_URL", ""),
		BrokerAppKey:    getEnv("BROKER_APP_KEY", ""),
		BrokerAppSecret: getEnv("BROKER_APP_SECRET", ""),
		BrokerStreamURL: getEnv("BROKER_STREAM_URL", ""),

		FastReasonerURL: getEnv("FAST_REASONER_URL", ""),
		FastReasonerKey: getEnv("FAST_REASONER_KEY", ""),
		SlowReasonerURL: getEnv("SLOW_REASONER_URL", ""),
		SlowReasonerKey: getEnv("SLOW_REASONER_KEY", ""),

		NotifyWebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),

		BackupBucket: getEnv("BACKUP_S3_BUCKET", ""),
		BackupPrefix: getEnv("BACKUP_S3_PREFIX", "aegis"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("PORT", 8090),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Seoul:    loc,
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
