// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// RedisConfig provides the key-value store connection settings.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetRedisKeyPrefix() string
}

// SchedulerConfig provides settings for the reminder dispatcher and asynq worker.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetReminderPollInterval() time.Duration
	GetReminderMaxAttempts() int
}

// DatabaseConfig provides database connection settings for the optional audit log.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetWebhookRateLimit() float64
	GetWebhookRateBurst() int
}

// BookingAPIConfig provides settings for the booking platform REST API.
type BookingAPIConfig interface {
	GetBookingAPIURL() string
	GetBookingPartnerToken() string
	GetBookingUserToken() string
	GetBookingCompanyID() string
	GetBookingAPITimeout() time.Duration
	GetBookingAPIRateLimit() float64
	IsBookingAPIEnabled() bool
}

// WhatsAppConfig provides settings for the GOWA WhatsApp gateway.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
	GetPhoneRegion() string
}

// SMTPConfig provides settings for operator e-mail alerts.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	IsSMTPEnabled() bool
}

// ArchiveConfig provides settings for the MinIO raw event archive.
type ArchiveConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketEventArchive() string
	IsMinIOEnabled() bool
}

// ReconcilerConfig provides tuning knobs for the event pipeline.
type ReconcilerConfig interface {
	GetEventLogMaxLen() int64
	GetStoreCASRetries() int
	GetStageTimeout() time.Duration
	GetDomainConfigFile() string
	GetPhoneRegion() string
	GetTimezone() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                     string
	HTTPAddr                string
	WebhookRateLimit        float64
	WebhookRateBurst        int
	RedisURL                string
	RedisTLSInsecure        bool
	RedisKeyPrefix          string
	AsynqQueueName          string
	AsynqConcurrency        int
	ReminderPollInterval    time.Duration
	ReminderMaxAttempts     int
	DatabaseURL             string
	BookingAPIURL           string
	BookingPartnerToken     string
	BookingUserToken        string
	BookingCompanyID        string
	BookingAPITimeout       time.Duration
	BookingAPIRateLimit     float64
	WhatsAppURL             string
	WhatsAppKey             string
	WhatsAppDeviceID        string
	PhoneRegion             string
	SMTPHost                string
	SMTPPort                int
	SMTPUsername            string
	SMTPPassword            string
	EmailFromName           string
	EmailFromAddress        string
	MinIOEndpoint           string
	MinIOAccessKey          string
	MinIOSecretKey          string
	MinIOUseSSL             bool
	MinioBucketEventArchive string
	EventLogMaxLen          int64
	StoreCASRetries         int
	StageTimeout            time.Duration
	DomainConfigFile        string
	Timezone                string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// RedisConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetRedisKeyPrefix() string { return c.RedisKeyPrefix }

// SchedulerConfig implementation
func (c *Config) GetAsynqQueueName() string              { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int               { return c.AsynqConcurrency }
func (c *Config) GetReminderPollInterval() time.Duration { return c.ReminderPollInterval }
func (c *Config) GetReminderMaxAttempts() int            { return c.ReminderMaxAttempts }

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string          { return c.HTTPAddr }
func (c *Config) GetWebhookRateLimit() float64 { return c.WebhookRateLimit }
func (c *Config) GetWebhookRateBurst() int     { return c.WebhookRateBurst }

// BookingAPIConfig implementation
func (c *Config) GetBookingAPIURL() string            { return c.BookingAPIURL }
func (c *Config) GetBookingPartnerToken() string      { return c.BookingPartnerToken }
func (c *Config) GetBookingUserToken() string         { return c.BookingUserToken }
func (c *Config) GetBookingCompanyID() string         { return c.BookingCompanyID }
func (c *Config) GetBookingAPITimeout() time.Duration { return c.BookingAPITimeout }
func (c *Config) GetBookingAPIRateLimit() float64     { return c.BookingAPIRateLimit }
func (c *Config) IsBookingAPIEnabled() bool {
	return c.BookingAPIURL != "" && c.BookingCompanyID != ""
}

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string      { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string      { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string { return c.WhatsAppDeviceID }
func (c *Config) GetPhoneRegion() string      { return c.PhoneRegion }

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) IsSMTPEnabled() bool         { return c.SMTPHost != "" && c.EmailFromAddress != "" }

// ArchiveConfig implementation
func (c *Config) GetMinIOEndpoint() string  { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool      { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketEventArchive() string {
	return c.MinioBucketEventArchive
}
func (c *Config) IsMinIOEnabled() bool { return c.MinIOEndpoint != "" }

// ReconcilerConfig implementation
func (c *Config) GetEventLogMaxLen() int64       { return c.EventLogMaxLen }
func (c *Config) GetStoreCASRetries() int        { return c.StoreCASRetries }
func (c *Config) GetStageTimeout() time.Duration { return c.StageTimeout }
func (c *Config) GetDomainConfigFile() string    { return c.DomainConfigFile }
func (c *Config) GetTimezone() string            { return c.Timezone }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                     getEnv("APP_ENV", "development"),
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
		WebhookRateLimit:        mustFloat(getEnv("WEBHOOK_RATE_LIMIT", "50")),
		WebhookRateBurst:        mustInt(getEnv("WEBHOOK_RATE_BURST", "100")),
		RedisURL:                getEnv("REDIS_URL", ""),
		RedisTLSInsecure:        strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		RedisKeyPrefix:          getEnv("REDIS_KEY_PREFIX", "bsync:"),
		AsynqQueueName:          getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:        mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		ReminderPollInterval:    mustDuration(getEnv("REMINDER_POLL_INTERVAL", "30s")),
		ReminderMaxAttempts:     mustInt(getEnv("REMINDER_MAX_ATTEMPTS", "3")),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		BookingAPIURL:           strings.TrimRight(getEnv("BOOKING_API_URL", ""), "/"),
		BookingPartnerToken:     getEnv("BOOKING_PARTNER_TOKEN", ""),
		BookingUserToken:        getEnv("BOOKING_USER_TOKEN", ""),
		BookingCompanyID:        getEnv("BOOKING_COMPANY_ID", ""),
		BookingAPITimeout:       mustDuration(getEnv("BOOKING_API_TIMEOUT", "8s")),
		BookingAPIRateLimit:     mustFloat(getEnv("BOOKING_API_RATE_LIMIT", "5")),
		WhatsAppURL:             getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:             getEnv("WHATSAPP_KEY", ""),
		WhatsAppDeviceID:        getEnv("WHATSAPP_DEVICE_ID", ""),
		PhoneRegion:             getEnv("PHONE_REGION", "RU"),
		SMTPHost:                getEnv("SMTP_HOST", ""),
		SMTPPort:                mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:            getEnv("SMTP_USERNAME", ""),
		SMTPPassword:            getEnv("SMTP_PASSWORD", ""),
		EmailFromName:           getEnv("EMAIL_FROM_NAME", "Booking Sync"),
		EmailFromAddress:        getEnv("EMAIL_FROM_ADDRESS", ""),
		MinIOEndpoint:           getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:          getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:          getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:             strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketEventArchive: getEnv("MINIO_BUCKET_EVENT_ARCHIVE", "webhook-events"),
		EventLogMaxLen:          int64(mustInt(getEnv("EVENT_LOG_MAX_LEN", "500"))),
		StoreCASRetries:         mustInt(getEnv("STORE_CAS_RETRIES", "5")),
		StageTimeout:            mustDuration(getEnv("STAGE_TIMEOUT", "10s")),
		DomainConfigFile:        getEnv("DOMAIN_CONFIG_FILE", ""),
		Timezone:                getEnv("BOOKING_TIMEZONE", "Europe/Moscow"),
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.EventLogMaxLen <= 0 {
		return nil, fmt.Errorf("EVENT_LOG_MAX_LEN must be positive")
	}
	if cfg.StoreCASRetries < 1 {
		return nil, fmt.Errorf("STORE_CAS_RETRIES must be at least 1")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("BOOKING_TIMEZONE: %w", err)
	}
	if cfg.BookingAPIURL != "" && cfg.BookingCompanyID == "" {
		return nil, fmt.Errorf("BOOKING_COMPANY_ID is required when BOOKING_API_URL is set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}
