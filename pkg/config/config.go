// Package config loads citawatch configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DateFormat is the wire format the portal uses for appointment dates.
const DateFormat = "2006-01-02"

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv    string
	LogLevel  string
	LogFormat string

	// Portal account
	Username   string
	Password   string
	ScheduleID string
	Embassy    string

	// Scheduling window
	MinDate       time.Time
	MaxDate       time.Time
	ExcludedDates []time.Time
	PreferredTime string

	// Polling
	PollIntervalMin time.Duration
	PollIntervalMax time.Duration
	RequestTimeout  time.Duration

	// Backoff
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Anti-ban discipline
	WorkLimit    time.Duration
	WorkCooldown time.Duration
	BanThreshold int
	BanCooldown  time.Duration

	// Notifications
	PushoverToken  string
	PushoverUser   string
	SendGridAPIKey string
	AMQPURL        string

	// History
	HistoryDBPath string

	// Status endpoint
	StatusAddr string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		LogLevel:  getEnv("CITAWATCH_LOG_LEVEL", "info"),
		LogFormat: getEnv("CITAWATCH_LOG_FORMAT", "text"),

		Username:   getEnv("CITAWATCH_USERNAME", ""),
		Password:   getEnv("CITAWATCH_PASSWORD", ""),
		ScheduleID: getEnv("CITAWATCH_SCHEDULE_ID", ""),
		Embassy:    getEnv("CITAWATCH_EMBASSY", "es-co-bog"),

		PreferredTime: getEnv("CITAWATCH_PREFERRED_TIME", "10:00"),

		PollIntervalMin: getDurationEnv("CITAWATCH_POLL_INTERVAL_MIN", 5*time.Minute),
		PollIntervalMax: getDurationEnv("CITAWATCH_POLL_INTERVAL_MAX", 10*time.Minute),
		RequestTimeout:  getDurationEnv("CITAWATCH_REQUEST_TIMEOUT", 10*time.Second),

		MaxRetries:  getIntEnv("CITAWATCH_MAX_RETRIES", 5),
		BackoffBase: getDurationEnv("CITAWATCH_BACKOFF_BASE", 1*time.Minute),
		BackoffMax:  getDurationEnv("CITAWATCH_BACKOFF_MAX", 30*time.Minute),

		WorkLimit:    getDurationEnv("CITAWATCH_WORK_LIMIT", 90*time.Minute),
		WorkCooldown: getDurationEnv("CITAWATCH_WORK_COOLDOWN", 60*time.Minute),
		BanThreshold: getIntEnv("CITAWATCH_BAN_THRESHOLD", 3),
		BanCooldown:  getDurationEnv("CITAWATCH_BAN_COOLDOWN", 6*time.Hour),

		PushoverToken:  getEnv("CITAWATCH_PUSHOVER_TOKEN", ""),
		PushoverUser:   getEnv("CITAWATCH_PUSHOVER_USER", ""),
		SendGridAPIKey: getEnv("CITAWATCH_SENDGRID_API_KEY", ""),
		AMQPURL:        getEnv("CITAWATCH_AMQP_URL", ""),

		HistoryDBPath: getEnv("CITAWATCH_HISTORY_DB_PATH", "citawatch.db"),

		StatusAddr: getEnv("CITAWATCH_STATUS_ADDR", ""),
	}

	var err error
	if cfg.MinDate, err = getDateEnv("CITAWATCH_MIN_DATE"); err != nil {
		return nil, err
	}
	if cfg.MaxDate, err = getDateEnv("CITAWATCH_MAX_DATE"); err != nil {
		return nil, err
	}
	if cfg.ExcludedDates, err = getDateListEnv("CITAWATCH_EXCLUDED_DATES"); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("CITAWATCH_USERNAME and CITAWATCH_PASSWORD are required")
	}
	if c.ScheduleID == "" {
		return fmt.Errorf("CITAWATCH_SCHEDULE_ID is required")
	}
	if !c.MinDate.IsZero() && !c.MaxDate.IsZero() && c.MaxDate.Before(c.MinDate) {
		return fmt.Errorf("CITAWATCH_MAX_DATE is before CITAWATCH_MIN_DATE")
	}
	if c.PollIntervalMax < c.PollIntervalMin {
		return fmt.Errorf("CITAWATCH_POLL_INTERVAL_MAX is below CITAWATCH_POLL_INTERVAL_MIN")
	}
	if _, err := time.Parse("15:04", c.PreferredTime); err != nil {
		return fmt.Errorf("CITAWATCH_PREFERRED_TIME must be HH:MM: %w", err)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("CITAWATCH_MAX_RETRIES must be at least 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDateEnv(key string) (time.Time, error) {
	value := os.Getenv(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(DateFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD: %w", key, err)
	}
	return parsed, nil
}

func getDateListEnv(key string) ([]time.Time, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	dates := make([]time.Time, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := time.Parse(DateFormat, part)
		if err != nil {
			return nil, fmt.Errorf("%s contains an invalid date %q: %w", key, part, err)
		}
		dates = append(dates, parsed)
	}
	return dates, nil
}
