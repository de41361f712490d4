package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StatsCacheTTL time.Duration

	AvgMinutesPerPatient int

	RateLimitPerMinute int
	RateLimitBurst     int

	EmailProvider     string
	SMSProvider       string
	NotifyTimeout     time.Duration
	NotifyMaxInFlight int

	ReminderCron string

	LogLevel  string
	LogPretty bool
}

// Load reads configuration from the environment, after loading a local .env
// file when one exists.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       readInt("REDIS_DB", 0),
		StatsCacheTTL: readDurationSeconds("STATS_CACHE_TTL_SECONDS", 15),

		AvgMinutesPerPatient: readInt("AVG_MINUTES_PER_PATIENT", 10),

		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),

		EmailProvider:     os.Getenv("NOTIFY_EMAIL_PROVIDER"),
		SMSProvider:       os.Getenv("NOTIFY_SMS_PROVIDER"),
		NotifyTimeout:     readDurationSeconds("NOTIFY_TIMEOUT_SECONDS", 5),
		NotifyMaxInFlight: readInt("NOTIFY_MAX_IN_FLIGHT", 64),

		ReminderCron: readString("REMINDER_CRON", "0 18 * * *"),

		LogLevel:  readString("LOG_LEVEL", "info"),
		LogPretty: readBool("LOG_PRETTY", false),
	}
}

func readString(key, fallback string) string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	return raw
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
