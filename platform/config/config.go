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

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// SchedulerConfig provides settings for the asynq-backed job scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// ProviderConfig provides settings for the bulk-email provider client.
type ProviderConfig interface {
	GetProviderBaseURL() string
	GetProviderAPIKey() string
	GetProviderRequestsPerSecond() float64
}

// ChatConfig provides settings for the chat notification sink.
type ChatConfig interface {
	GetChatBaseURL() string
	GetChatToken() string
	GetChatCampaignChannel() string
	GetChatAlertChannel() string
}

// AlertMailConfig provides settings for the email fallback alert channel.
type AlertMailConfig interface {
	GetAlertSMTPHost() string
	GetAlertSMTPPort() int
	GetAlertSMTPUsername() string
	GetAlertSMTPPassword() string
	GetAlertFromAddress() string
	GetAlertToAddress() string
	IsAlertMailEnabled() bool
}

// MaintenanceConfig provides settings for the post-launch list-maintenance stage.
type MaintenanceConfig interface {
	IsMaintenanceEnabled() bool
	GetPartitionCount() int
	GetSoftBounceThreshold() int
}

// LifecycleConfig provides tunables for the lifecycle orchestrator.
type LifecycleConfig interface {
	GetListSizeTolerance() int
	GetMaxStageAttempts() int
	GetRoundLeaseTTL() time.Duration
}

// CacheConfig provides settings for the advisory round read cache.
type CacheConfig interface {
	GetRedisURL() string
	GetCacheTTL() time.Duration
	IsCacheEnabled() bool
}

// HTTPConfig provides settings for the operator HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                       string
	HTTPAddr                  string
	DatabaseURL               string
	RedisURL                  string
	RedisTLSInsecure          bool
	AsynqQueueName            string
	AsynqConcurrency          int
	CORSAllowAll              bool
	CORSOrigins               []string
	ProviderBaseURL           string
	ProviderAPIKey            string
	ProviderRequestsPerSecond float64
	ChatBaseURL               string
	ChatToken                 string
	ChatCampaignChannel       string
	ChatAlertChannel          string
	AlertSMTPHost             string
	AlertSMTPPort             int
	AlertSMTPUsername         string
	AlertSMTPPassword         string
	AlertFromAddress          string
	AlertToAddress            string
	MaintenanceEnabled        bool
	PartitionCount            int
	SoftBounceThreshold       int
	ListSizeTolerance         int
	MaxStageAttempts          int
	RoundLeaseTTL             time.Duration
	CacheTTL                  time.Duration
	CacheEnabled              bool
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// ProviderConfig implementation
func (c *Config) GetProviderBaseURL() string { return c.ProviderBaseURL }
func (c *Config) GetProviderAPIKey() string  { return c.ProviderAPIKey }
func (c *Config) GetProviderRequestsPerSecond() float64 {
	return c.ProviderRequestsPerSecond
}

// ChatConfig implementation
func (c *Config) GetChatBaseURL() string         { return c.ChatBaseURL }
func (c *Config) GetChatToken() string           { return c.ChatToken }
func (c *Config) GetChatCampaignChannel() string { return c.ChatCampaignChannel }
func (c *Config) GetChatAlertChannel() string    { return c.ChatAlertChannel }

// AlertMailConfig implementation
func (c *Config) GetAlertSMTPHost() string     { return c.AlertSMTPHost }
func (c *Config) GetAlertSMTPPort() int        { return c.AlertSMTPPort }
func (c *Config) GetAlertSMTPUsername() string { return c.AlertSMTPUsername }
func (c *Config) GetAlertSMTPPassword() string { return c.AlertSMTPPassword }
func (c *Config) GetAlertFromAddress() string  { return c.AlertFromAddress }
func (c *Config) GetAlertToAddress() string    { return c.AlertToAddress }
func (c *Config) IsAlertMailEnabled() bool {
	return c.AlertSMTPHost != "" && c.AlertToAddress != ""
}

// MaintenanceConfig implementation
func (c *Config) IsMaintenanceEnabled() bool  { return c.MaintenanceEnabled }
func (c *Config) GetPartitionCount() int      { return c.PartitionCount }
func (c *Config) GetSoftBounceThreshold() int { return c.SoftBounceThreshold }

// LifecycleConfig implementation
func (c *Config) GetListSizeTolerance() int       { return c.ListSizeTolerance }
func (c *Config) GetMaxStageAttempts() int        { return c.MaxStageAttempts }
func (c *Config) GetRoundLeaseTTL() time.Duration { return c.RoundLeaseTTL }

// CacheConfig implementation
func (c *Config) GetCacheTTL() time.Duration { return c.CacheTTL }
func (c *Config) IsCacheEnabled() bool       { return c.CacheEnabled && c.RedisURL != "" }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                       getEnv("APP_ENV", "development"),
		HTTPAddr:                  getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:               getEnv("DATABASE_URL", ""),
		RedisURL:                  getEnv("REDIS_URL", ""),
		RedisTLSInsecure:          strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:            getEnv("ASYNQ_QUEUE", "campaigns"),
		AsynqConcurrency:          mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		CORSAllowAll:              corsAllowAll,
		CORSOrigins:               corsOrigins,
		ProviderBaseURL:           getEnv("PROVIDER_BASE_URL", ""),
		ProviderAPIKey:            getEnv("PROVIDER_API_KEY", ""),
		ProviderRequestsPerSecond: mustFloat(getEnv("PROVIDER_REQUESTS_PER_SECOND", "5")),
		ChatBaseURL:               getEnv("CHAT_BASE_URL", ""),
		ChatToken:                 getEnv("CHAT_TOKEN", ""),
		ChatCampaignChannel:       getEnv("CHAT_CAMPAIGN_CHANNEL", "#campaigns"),
		ChatAlertChannel:          getEnv("CHAT_ALERT_CHANNEL", "#campaign-alerts"),
		AlertSMTPHost:             getEnv("ALERT_SMTP_HOST", ""),
		AlertSMTPPort:             mustInt(getEnv("ALERT_SMTP_PORT", "587")),
		AlertSMTPUsername:         getEnv("ALERT_SMTP_USERNAME", ""),
		AlertSMTPPassword:         getEnv("ALERT_SMTP_PASSWORD", ""),
		AlertFromAddress:          getEnv("ALERT_FROM_ADDRESS", ""),
		AlertToAddress:            getEnv("ALERT_TO_ADDRESS", ""),
		MaintenanceEnabled:        strings.EqualFold(getEnv("MAINTENANCE_ENABLED", "true"), "true"),
		PartitionCount:            mustInt(getEnv("PARTITION_COUNT", "3")),
		SoftBounceThreshold:       mustInt(getEnv("SOFT_BOUNCE_THRESHOLD", "3")),
		ListSizeTolerance:         mustInt(getEnv("LIST_SIZE_TOLERANCE", "1")),
		MaxStageAttempts:          mustInt(getEnv("MAX_STAGE_ATTEMPTS", "3")),
		RoundLeaseTTL:             mustDuration(getEnv("ROUND_LEASE_TTL", "2m")),
		CacheTTL:                  mustDuration(getEnv("CACHE_TTL", "30s")),
		CacheEnabled:              strings.EqualFold(getEnv("CACHE_ENABLED", "true"), "true"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.ProviderBaseURL == "" {
		return nil, fmt.Errorf("PROVIDER_BASE_URL is required")
	}
	if cfg.PartitionCount < 1 {
		return nil, fmt.Errorf("PARTITION_COUNT must be at least 1")
	}
	if cfg.MaxStageAttempts < 1 {
		return nil, fmt.Errorf("MAX_STAGE_ATTEMPTS must be at least 1")
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
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
