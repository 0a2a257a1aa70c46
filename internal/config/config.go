package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	// Storage
	DataDir     string
	PostgresDSN string // optional; JSONL backend when empty
	RedisURL    string // optional; pub/sub and webhook rate limit disabled when empty

	// Telegram
	TelegramBotToken      string
	TelegramAllowedUserID string
	TelegramWebhookSecret string

	// Platform credentials (live mode)
	LinkedInClientID      string
	LinkedInClientSecret  string
	LinkedInAccessToken   string
	LinkedInAuthorURN     string
	LinkedInPublicPageURL string
	XClientID             string
	XClientSecret         string
	XAccessToken          string
	XPublicPageURL        string

	// Worker
	DryRun         bool
	WorkerInterval time.Duration

	// Policy
	HealthGateCycleHour int
	MissedScheduleGrace time.Duration
	DecisionTimeout     time.Duration
	ReminderInterval    time.Duration
	QuietHoursStart     int
	QuietHoursEnd       int
	RateLimitPerMinute  int
	RetryDelays         []time.Duration
	ScheduleHorizon     time.Duration
	HeartbeatStale      time.Duration
	HealthAlertInterval time.Duration
	DecisionAutoRefresh bool

	// Digests (local-time slots)
	DailyDigestSlots []string
	WeeklyDigestDay  time.Weekday
	WeeklyDigestSlot string

	// Server
	APIPort string
}

func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:     getEnv("DATA_DIR", ".social_scheduler/data"),
		PostgresDSN: getEnv("POSTGRES_DSN", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAllowedUserID: getEnv("TELEGRAM_ALLOWED_USER_ID", ""),
		TelegramWebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),

		LinkedInClientID:      getEnv("LINKEDIN_CLIENT_ID", ""),
		LinkedInClientSecret:  getEnv("LINKEDIN_CLIENT_SECRET", ""),
		LinkedInAccessToken:   getEnv("LINKEDIN_ACCESS_TOKEN", ""),
		LinkedInAuthorURN:     getEnv("LINKEDIN_AUTHOR_URN", ""),
		LinkedInPublicPageURL: getEnv("LINKEDIN_PUBLIC_PAGE_URL", ""),
		XClientID:             getEnv("X_CLIENT_ID", ""),
		XClientSecret:         getEnv("X_CLIENT_SECRET", ""),
		XAccessToken:          getEnv("X_ACCESS_TOKEN", ""),
		XPublicPageURL:        getEnv("X_PUBLIC_PAGE_URL", ""),

		DryRun:         getEnvBool("DRY_RUN", true),
		WorkerInterval: time.Duration(getEnvInt("WORKER_INTERVAL_SECONDS", 60)) * time.Second,

		HealthGateCycleHour: getEnvInt("HEALTH_GATE_CYCLE_HOUR", 6),
		MissedScheduleGrace: time.Duration(getEnvInt("MISSED_SCHEDULE_GRACE_MINUTES", 120)) * time.Minute,
		DecisionTimeout:     time.Duration(getEnvInt("DECISION_TIMEOUT_MINUTES", 30)) * time.Minute,
		ReminderInterval:    time.Duration(getEnvInt("REMINDER_INTERVAL_MINUTES", 30)) * time.Minute,
		QuietHoursStart:     getEnvInt("QUIET_HOURS_START", 23),
		QuietHoursEnd:       getEnvInt("QUIET_HOURS_END", 6),
		RateLimitPerMinute:  getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
		RetryDelays:         parseDelayList(getEnv("RETRY_DELAYS_MINUTES", "5,15,60")),
		ScheduleHorizon:     time.Duration(getEnvInt("SCHEDULE_HORIZON_DAYS", 30)) * 24 * time.Hour,
		HeartbeatStale:      time.Duration(getEnvInt("HEARTBEAT_STALE_MINUTES", 5)) * time.Minute,
		HealthAlertInterval: time.Duration(getEnvInt("HEALTH_ALERT_INTERVAL_MINUTES", 30)) * time.Minute,
		DecisionAutoRefresh: getEnvBool("DECISION_AUTO_REFRESH", false),

		DailyDigestSlots: parseSlotList(getEnv("DAILY_DIGEST_SLOTS", "08:30,19:00")),
		WeeklyDigestDay:  time.Weekday(getEnvInt("WEEKLY_DIGEST_WEEKDAY", int(time.Monday))),
		WeeklyDigestSlot: getEnv("WEEKLY_DIGEST_SLOT", "20:00"),

		APIPort: getEnv("API_PORT", "3000"),
	}

	return cfg
}

// LiveCredentialsConfigured reports whether both platforms have app
// credentials, one of the daily health gate checks.
func (c *Config) LiveCredentialsConfigured() bool {
	return c.LinkedInClientID != "" && c.LinkedInClientSecret != "" &&
		c.XClientID != "" && c.XClientSecret != ""
}

func (c *Config) Validate(log *zap.Logger) {
	if c.TelegramBotToken == "" {
		log.Warn("TELEGRAM_BOT_TOKEN is not set, notifications disabled")
	}
	if c.TelegramAllowedUserID == "" {
		log.Warn("TELEGRAM_ALLOWED_USER_ID is not set, all operator commands will be rejected")
	}
	if !c.DryRun && !c.LiveCredentialsConfigured() {
		log.Warn("live mode enabled but platform credentials incomplete")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseDelayList(s string) []time.Duration {
	var delays []time.Duration
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		minutes, err := strconv.Atoi(p)
		if err != nil || minutes <= 0 {
			continue
		}
		delays = append(delays, time.Duration(minutes)*time.Minute)
	}
	return delays
}

func parseSlotList(s string) []string {
	var slots []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			slots = append(slots, p)
		}
	}
	return slots
}
