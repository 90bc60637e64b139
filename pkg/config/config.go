package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Env          string
	LogLevel     string
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	OTEL         OTELConfig
	Booking      BookingConfig
	Notification NotificationConfig
	WhatsApp     WhatsAppConfig
	RateLimit    RateLimitConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Database      string
	SSLMode       string
	MigrateOnBoot bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName       string
	ServiceVersion    string
	Endpoint          string
	Enabled           bool
	LogsEnabled       bool
	PrometheusEnabled bool
}

// BookingConfig holds slot generation and reschedule policy
type BookingConfig struct {
	// DailyTemplates are "HH:MM" times of day used by slot generation
	DailyTemplates           []string
	HorizonDays              int
	DefaultDurationMinutes   int
	FeeMin                   float64
	FeeMax                   float64
	DefaultMode              string
	ReconfirmAfterReschedule bool
	PageSize                 int
	ProposalMaxAge           time.Duration
}

// NotificationConfig holds async dispatch settings
type NotificationConfig struct {
	Workers       int
	QueueSize     int
	Timeout       time.Duration
	RetryAttempts int
}

// WhatsAppConfig holds WhatsApp Cloud API credentials
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string
}

// Enabled reports whether credentials are present
func (c *WhatsAppConfig) Enabled() bool {
	return c.AccessToken != "" && c.PhoneNumberID != ""
}

// RateLimitConfig holds booking attempt limits
type RateLimitConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "postgres"),
			Password:      getEnv("DB_PASSWORD", ""),
			Database:      getEnv("DB_NAME", "carebook"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MigrateOnBoot: getEnvAsBool("DB_MIGRATE_ON_BOOT", false),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		OTEL: OTELConfig{
			ServiceName:       getEnv("OTEL_SERVICE_NAME", "carebook"),
			ServiceVersion:    getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:          getEnv("OTEL_ENDPOINT", ""),
			Enabled:           getEnvAsBool("OTEL_ENABLED", false),
			LogsEnabled:       getEnvAsBool("OTEL_LOGS_ENABLED", false),
			PrometheusEnabled: getEnvAsBool("PROMETHEUS_ENABLED", true),
		},
		Booking: BookingConfig{
			DailyTemplates:           getEnvAsList("SLOT_TEMPLATES", []string{"09:00", "10:00", "11:00", "14:00", "15:00", "16:00"}),
			HorizonDays:              getEnvAsInt("SLOT_HORIZON_DAYS", 14),
			DefaultDurationMinutes:   getEnvAsInt("SLOT_DURATION_MINUTES", 30),
			FeeMin:                   getEnvAsFloat("SLOT_FEE_MIN", 50),
			FeeMax:                   getEnvAsFloat("SLOT_FEE_MAX", 50),
			DefaultMode:              getEnv("SLOT_DEFAULT_MODE", "in-person"),
			ReconfirmAfterReschedule: getEnvAsBool("RESCHEDULE_REQUIRES_RECONFIRM", true),
			PageSize:                 getEnvAsInt("SLOT_PAGE_SIZE", 50),
			ProposalMaxAge:           getEnvAsDuration("PROPOSAL_MAX_AGE", 72*time.Hour),
		},
		Notification: NotificationConfig{
			Workers:       getEnvAsInt("NOTIFY_WORKERS", 4),
			QueueSize:     getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
			Timeout:       getEnvAsDuration("NOTIFY_TIMEOUT", 10*time.Second),
			RetryAttempts: getEnvAsInt("NOTIFY_RETRY_ATTEMPTS", 3),
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
			PhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			BaseURL:       getEnv("WHATSAPP_BASE_URL", "https://graph.facebook.com/v18.0"),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getEnvAsBool("RATE_LIMIT_ENABLED", true),
			MaxAttempts: getEnvAsInt("RATE_LIMIT_MAX_ATTEMPTS", 10),
			Window:      getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Booking.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the booking policy for values slot generation would reject
func (c *BookingConfig) Validate() error {
	if c.FeeMin < 0 || c.FeeMax < c.FeeMin {
		return fmt.Errorf("invalid slot fee range [%v, %v]", c.FeeMin, c.FeeMax)
	}
	if c.DefaultDurationMinutes < 15 || c.DefaultDurationMinutes > 240 {
		return fmt.Errorf("slot duration %d outside [15, 240] minutes", c.DefaultDurationMinutes)
	}
	if c.HorizonDays <= 0 {
		return fmt.Errorf("slot horizon must be positive, got %d", c.HorizonDays)
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL returns the PostgreSQL URL form used by the migrator
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
