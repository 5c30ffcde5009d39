package config

import (
	"fmt"
	"strconv"
	"strings"

	errs "coffee-location-dedup/pkg/errors"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error for field '%s' with value '%s': %s", e.Field, e.Value, e.Message)
}

// ConfigValidator handles configuration validation
type ConfigValidator struct {
	errors []ValidationError
}

// NewConfigValidator creates a new configuration validator
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{
		errors: make([]ValidationError, 0),
	}
}

// AddError adds a validation error
func (cv *ConfigValidator) AddError(field, value, message string) {
	cv.errors = append(cv.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors
func (cv *ConfigValidator) HasErrors() bool {
	return len(cv.errors) > 0
}

// GetErrors returns all validation errors
func (cv *ConfigValidator) GetErrors() []ValidationError {
	return cv.errors
}

// GetErrorsAsString returns all validation errors as a formatted string
func (cv *ConfigValidator) GetErrorsAsString() string {
	var errorStrings []string
	for _, err := range cv.errors {
		errorStrings = append(errorStrings, err.Error())
	}
	return strings.Join(errorStrings, "\n")
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	validator := NewConfigValidator()

	c.validateRequired(validator)
	c.validateFormats(validator)
	c.validateRanges(validator)

	if validator.HasErrors() {
		return errs.NewValidation("config.Validate", fmt.Sprintf("configuration validation failed:\n%s", validator.GetErrorsAsString()), nil)
	}

	return nil
}

// validateRequired checks required configuration fields
func (c *Config) validateRequired(validator *ConfigValidator) {
	if c.Port == "" {
		validator.AddError("PORT", c.Port, "port is required")
	}
	// At least one store must be configured for the service; the CLI can run
	// store-less with its CSV fallback, so this is the only store check here.
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		validator.AddError("DATABASE_URL", "", "either DATABASE_URL or SQLITE_PATH must be set")
	}
}

// validateFormats checks format validity of configuration values
func (c *Config) validateFormats(validator *ConfigValidator) {
	if c.DatabaseURL != "" {
		if !strings.Contains(c.DatabaseURL, "@") || !strings.Contains(c.DatabaseURL, "/") {
			validator.AddError("DATABASE_URL", c.DatabaseURL, "invalid database URL format")
		}
	}

	if c.Port != "" {
		if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
			validator.AddError("PORT", c.Port, "invalid port number (must be 1-65535)")
		}
	}

	if c.AdminPort != "" {
		if port, err := strconv.Atoi(c.AdminPort); err != nil || port < 1 || port > 65535 {
			validator.AddError("ADMIN_PORT", c.AdminPort, "invalid admin port number")
		}
	}

	if c.AdminPort != "" && c.AdminPort == c.Port {
		validator.AddError("ADMIN_PORT", c.AdminPort, "admin port conflicts with PORT")
	}

	validLogLevels := []string{"trace", "debug", "info", "warn", "error", "fatal"}
	if c.LogLevel != "" && !contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		validator.AddError("LOG_LEVEL", c.LogLevel, "invalid log level (must be one of: trace, debug, info, warn, error, fatal)")
	}

	validPolicies := []string{"most_followers", "lowest_id", "most_complete"}
	if !contains(validPolicies, c.CanonicalPolicy) {
		validator.AddError("CANONICAL_POLICY", c.CanonicalPolicy, "invalid canonical policy (must be one of: most_followers, lowest_id, most_complete)")
	}
}

// validateRanges checks value ranges
func (c *Config) validateRanges(validator *ConfigValidator) {
	if c.TextThreshold < 0 || c.TextThreshold > 1 {
		validator.AddError("TEXT_THRESHOLD", fmt.Sprintf("%v", c.TextThreshold), "text threshold must be between 0 and 1")
	}

	if c.DistanceThresholdM <= 0 {
		validator.AddError("DISTANCE_THRESHOLD_M", fmt.Sprintf("%v", c.DistanceThresholdM), "distance threshold must be positive")
	}

	if c.FlagMargin < 0 || c.FlagMargin > c.TextThreshold {
		validator.AddError("FLAG_MARGIN", fmt.Sprintf("%v", c.FlagMargin), "flag margin must be between 0 and the text threshold")
	}

	if c.NameWeight < 0 || c.AddressWeight < 0 || c.NameWeight+c.AddressWeight <= 0 {
		validator.AddError("NAME_WEIGHT", fmt.Sprintf("%v/%v", c.NameWeight, c.AddressWeight), "name/address weights must be non-negative and sum to a positive value")
	}

	if c.WorkerCount < 0 || c.WorkerCount > 100 {
		validator.AddError("WORKER_COUNT", strconv.Itoa(c.WorkerCount), "worker count must be between 0 and 100")
	}

	if c.ScoreParallelism < 0 {
		validator.AddError("SCORE_PARALLELISM", strconv.Itoa(c.ScoreParallelism), "score parallelism cannot be negative")
	}

	if c.CellIndexMinRecords < 0 {
		validator.AddError("CELL_INDEX_MIN_RECORDS", strconv.Itoa(c.CellIndexMinRecords), "cell index minimum cannot be negative")
	}

	if c.QueueSize < 1 {
		validator.AddError("QUEUE_SIZE", strconv.Itoa(c.QueueSize), "queue size must be at least 1")
	}

	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		validator.AddError("MAX_RETRIES", strconv.Itoa(c.MaxRetries), "max retries must be between 0 and 10")
	}

	if c.DBMaxOpenConns < 1 || c.DBMaxOpenConns > 1000 {
		validator.AddError("DB_MAX_OPEN_CONNS", strconv.Itoa(c.DBMaxOpenConns), "max open connections must be between 1 and 1000")
	}

	if c.DBMaxIdleConns < 0 || c.DBMaxIdleConns > c.DBMaxOpenConns {
		validator.AddError("DB_MAX_IDLE_CONNS", strconv.Itoa(c.DBMaxIdleConns), "max idle connections must be between 0 and max open connections")
	}

	if c.DBConnMaxLifetime < 1 || c.DBConnMaxLifetime > 60 {
		validator.AddError("DB_CONN_MAX_LIFETIME_MINUTES", strconv.Itoa(c.DBConnMaxLifetime), "connection max lifetime must be between 1 and 60 minutes")
	}

	if c.DBConnMaxIdleTime < 1 || c.DBConnMaxIdleTime > 30 {
		validator.AddError("DB_CONN_MAX_IDLE_TIME_MINUTES", strconv.Itoa(c.DBConnMaxIdleTime), "connection max idle time must be between 1 and 30 minutes")
	}
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// GetConfigSummary returns a summary of the configuration (excluding sensitive data)
func (c *Config) GetConfigSummary() map[string]interface{} {
	return map[string]interface{}{
		"database_url":         maskString(c.DatabaseURL, 20),
		"sqlite_path":          c.SQLitePath,
		"redis_addr":           c.RedisAddr,
		"google_maps_api_key":  maskString(c.GoogleMapsAPIKey, 10),
		"openai_api_key":       maskString(c.OpenAIAPIKey, 10),
		"port":                 c.Port,
		"text_threshold":       c.TextThreshold,
		"distance_threshold_m": c.DistanceThresholdM,
		"flag_margin":          c.FlagMargin,
		"canonical_policy":     c.CanonicalPolicy,
		"worker_count":         c.WorkerCount,
		"score_parallelism":    c.ScoreParallelism,
		"log_level":            c.LogLevel,
		"env":                  c.Env,
	}
}

// maskString masks sensitive strings for logging/display
func maskString(s string, keepFirst int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepFirst {
		return strings.Repeat("*", len(s))
	}
	return s[:keepFirst] + strings.Repeat("*", len(s)-keepFirst)
}
