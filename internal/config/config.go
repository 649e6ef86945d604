package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	DatabaseURL    string
	MigrateOnStart bool
	BcryptCost     int

	RedisURL      string
	NotifyChannel string
	NotifyBuffer  int
	WebhookURL    string
	WebhookToken  string

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	RateLimitPerMinute       int
	RateLimitBurst           int
	BranchRateLimitPerMinute int
	BranchRateLimitBurst     int
	RequestTimeout           time.Duration
}

// Load reads the environment. A .env file in the working directory is
// applied first when present; real environment variables win over it.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:           port,
		DatabaseURL:    os.Getenv("DB_DSN"),
		MigrateOnStart: readBool("MIGRATE_ON_START", true),
		BcryptCost:     readInt("BCRYPT_COST", 10),

		RedisURL:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		NotifyChannel: readString("NOTIFY_CHANNEL", "qms.tokens"),
		NotifyBuffer:  readInt("NOTIFY_BUFFER", 256),
		WebhookURL:    strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL")),
		WebhookToken:  os.Getenv("NOTIFY_WEBHOOK_TOKEN"),

		LogLevel:      readString("LOG_LEVEL", "info"),
		LogFile:       strings.TrimSpace(os.Getenv("LOG_FILE")),
		LogMaxSizeMB:  readInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: readInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: readInt("LOG_MAX_AGE_DAYS", 28),

		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		BranchRateLimitPerMinute: readInt("BRANCH_RATE_LIMIT_PER_MIN", 600),
		BranchRateLimitBurst:     readInt("BRANCH_RATE_LIMIT_BURST", 120),
		RequestTimeout:           readDurationSeconds("REQUEST_TIMEOUT_SECONDS", 10),
	}
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
