// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database  DatabaseConfig  `json:"database"`
	Server    ServerConfig    `json:"server"`
	Security  SecurityConfig  `json:"security"`
	Mailer    MailerConfig    `json:"mailer"`
	Worker    WorkerConfig    `json:"worker"`
	Quota     QuotaConfig     `json:"quota"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Cache     CacheConfig     `json:"cache"`
	Logging   LoggingConfig   `json:"logging"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
	EnableMetrics   bool          `json:"enable_metrics"`
}

type SecurityConfig struct {
	// CORS
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`

	// Rate limiting
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per window
	RateLimitWindow time.Duration `json:"rate_limit_window"`
}

// MailerConfig describes the outbound email provider. The transport
// protocol itself is the provider's concern; "mock" selects the logging
// provider.
type MailerConfig struct {
	ProviderURL string        `json:"provider_url"`
	APIKey      string        `json:"api_key"`
	FromEmail   string        `json:"from_email"`
	FromName    string        `json:"from_name"`
	Timeout     time.Duration `json:"timeout"`
}

// WorkerConfig tunes the delivery worker poll loop
type WorkerConfig struct {
	Enabled      bool          `json:"enabled"`
	PollInterval time.Duration `json:"poll_interval"`
	BatchSize    int           `json:"batch_size"`
	MaxRetries   int           `json:"max_retries"`
	BackoffBase  time.Duration `json:"backoff_base"`
	BackoffMax   time.Duration `json:"backoff_max"`
	SendTimeout  time.Duration `json:"send_timeout"`
	LeaseTimeout time.Duration `json:"lease_timeout"`
	LogDir       string        `json:"log_dir"`
}

// QuotaConfig bounds total daily sends. The day boundary follows the
// organization's local calendar, not UTC midnight.
type QuotaConfig struct {
	DailyLimit  int    `json:"daily_limit"`
	OrgTimezone string `json:"org_timezone"`
}

// SchedulerConfig tunes the scheduled job runner
type SchedulerConfig struct {
	Enabled        bool          `json:"enabled"`
	TickInterval   time.Duration `json:"tick_interval"`
	BatchSize      int           `json:"batch_size"`
	FailureCeiling int           `json:"failure_ceiling"`
}

type CacheConfig struct {
	Enabled         bool          `json:"enabled"`
	Provider        string        `json:"provider"`
	RedisURL        string        `json:"redis_url"`
	RedisDB         int           `json:"redis_db"`
	RedisPrefix     string        `json:"redis_prefix"`
	HeartbeatTTL    time.Duration `json:"heartbeat_ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// OrgLocation resolves the organization timezone, falling back to UTC
// on a bad zone name
func (q QuotaConfig) OrgLocation() *time.Location {
	loc, err := time.LoadLocation(q.OrgTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadProductionConfig loads configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "mailengine"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024), // 4MB
			EnableMetrics:   getEnvBool("SERVER_ENABLE_METRICS", true),
		},
		Security: SecurityConfig{
			AllowedOrigins:   getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods:   getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders:   getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", false),
			GlobalRateLimit:  getEnvInt("GLOBAL_RATE_LIMIT", 1000),
			RateLimitWindow:  getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
		},
		Mailer: MailerConfig{
			ProviderURL: getEnvString("MAILER_PROVIDER_URL", "mock"),
			APIKey:      getEnvString("MAILER_API_KEY", ""),
			FromEmail:   getEnvString("MAILER_FROM_EMAIL", "no-reply@clubroster.org"),
			FromName:    getEnvString("MAILER_FROM_NAME", "Club Roster"),
			Timeout:     getEnvDuration("MAILER_TIMEOUT", 30*time.Second),
		},
		Worker: WorkerConfig{
			Enabled:      getEnvBool("WORKER_ENABLED", true),
			PollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 15*time.Second),
			BatchSize:    getEnvInt("WORKER_BATCH_SIZE", 50),
			MaxRetries:   getEnvInt("WORKER_MAX_RETRIES", 5),
			BackoffBase:  getEnvDuration("WORKER_BACKOFF_BASE", 1*time.Minute),
			BackoffMax:   getEnvDuration("WORKER_BACKOFF_MAX", 1*time.Hour),
			SendTimeout:  getEnvDuration("WORKER_SEND_TIMEOUT", 30*time.Second),
			LeaseTimeout: getEnvDuration("WORKER_LEASE_TIMEOUT", 5*time.Minute),
			LogDir:       getEnvString("WORKER_LOG_DIR", "data"),
		},
		Quota: QuotaConfig{
			DailyLimit:  getEnvInt("QUOTA_DAILY_LIMIT", 2000),
			OrgTimezone: getEnvString("QUOTA_ORG_TIMEZONE", "America/New_York"),
		},
		Scheduler: SchedulerConfig{
			Enabled:        getEnvBool("SCHEDULER_ENABLED", true),
			TickInterval:   getEnvDuration("SCHEDULER_TICK_INTERVAL", 2*time.Minute),
			BatchSize:      getEnvInt("SCHEDULER_BATCH_SIZE", 50),
			FailureCeiling: getEnvInt("SCHEDULER_FAILURE_CEILING", 5),
		},
		Cache: CacheConfig{
			Enabled:         getEnvBool("CACHE_ENABLED", false),
			Provider:        getEnvString("CACHE_PROVIDER", "redis"),
			RedisURL:        getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:         getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix:     getEnvString("CACHE_REDIS_PREFIX", "mailengine:"),
			HeartbeatTTL:    getEnvDuration("CACHE_HEARTBEAT_TTL", 1*time.Minute),
			CleanupInterval: getEnvDuration("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 50),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads environment variables from .env file if it exists
func loadEnvFile() error {
	envFile := ".env"

	// Check if .env file exists
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		// .env file doesn't exist, continue with environment variables
		return nil
	}

	// Open .env file
	file, err := os.Open(envFile)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	// Read file line by line
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key=value pairs
		if strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				key := strings.TrimSpace(parts[0])
				value := strings.TrimSpace(parts[1])

				// Remove quotes if present
				if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
					(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`)) {
					value = value[1 : len(value)-1]
				}

				// Set environment variable if not already set
				if os.Getenv(key) == "" {
					os.Setenv(key, value)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errors = append(errors, "SERVER_WRITE_TIMEOUT must be positive")
	}

	// Validate mailer configuration
	if cfg.Mailer.ProviderURL != "mock" {
		if cfg.Mailer.APIKey == "" {
			errors = append(errors, "MAILER_API_KEY is required for the provider")
		}
	}
	if cfg.Mailer.FromEmail == "" {
		errors = append(errors, "MAILER_FROM_EMAIL is required")
	}
	if cfg.Mailer.Timeout <= 0 {
		errors = append(errors, "MAILER_TIMEOUT must be positive")
	}

	// Validate worker configuration
	if cfg.Worker.PollInterval <= 0 {
		errors = append(errors, "WORKER_POLL_INTERVAL must be positive")
	}
	if cfg.Worker.BatchSize <= 0 {
		errors = append(errors, "WORKER_BATCH_SIZE must be positive")
	}
	if cfg.Worker.MaxRetries < 0 {
		errors = append(errors, "WORKER_MAX_RETRIES must not be negative")
	}
	if cfg.Worker.BackoffBase <= 0 {
		errors = append(errors, "WORKER_BACKOFF_BASE must be positive")
	}
	if cfg.Worker.BackoffMax < cfg.Worker.BackoffBase {
		errors = append(errors, "WORKER_BACKOFF_MAX must not be below WORKER_BACKOFF_BASE")
	}
	if cfg.Worker.LeaseTimeout <= 0 {
		errors = append(errors, "WORKER_LEASE_TIMEOUT must be positive")
	}

	// Validate quota configuration
	if cfg.Quota.DailyLimit <= 0 {
		errors = append(errors, "QUOTA_DAILY_LIMIT must be positive")
	}
	if _, err := time.LoadLocation(cfg.Quota.OrgTimezone); err != nil {
		errors = append(errors, fmt.Sprintf("QUOTA_ORG_TIMEZONE is not a valid IANA zone: %v", err))
	}

	// Validate scheduler configuration
	if cfg.Scheduler.TickInterval <= 0 {
		errors = append(errors, "SCHEDULER_TICK_INTERVAL must be positive")
	}
	if cfg.Scheduler.FailureCeiling <= 0 {
		errors = append(errors, "SCHEDULER_FAILURE_CEILING must be positive")
	}

	// Validate logging configuration
	if cfg.Logging.Level != "" {
		validLevels := []string{"debug", "info", "warn", "error"}
		valid := false
		for _, level := range validLevels {
			if cfg.Logging.Level == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %v", validLevels))
		}
	}

	// Validate cache configuration if enabled
	if cfg.Cache.Enabled {
		if cfg.Cache.Provider == "redis" && cfg.Cache.RedisURL == "" {
			errors = append(errors, "CACHE_REDIS_URL is required when cache is enabled with redis provider")
		}
	}

	// Return validation errors if any
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
