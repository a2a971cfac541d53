package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	stringsType  = reflect.TypeOf([]string(nil))
)

// Load reads configuration from environment variables, applies the
// default tag of every unset field and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct fills the env-tagged fields of each config section.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := range t.NumField() {
		field := t.Field(i)
		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(v.Field(i)); err != nil {
				return err
			}
			continue
		}

		name := field.Tag.Get("env")
		if name == "" {
			continue
		}
		value := lookup(name, field.Tag.Get("envAlt"), field.Tag.Get("default"))
		if value == "" {
			continue
		}
		if err := setField(v.Field(i), value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, value, err)
		}
	}

	return nil
}

// lookup returns the first non-empty of the primary variable, the
// alternate variable and the default.
func lookup(name, alt, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	if alt != "" {
		if v := os.Getenv(alt); v != "" {
			return v
		}
	}
	return def
}

// setField parses value into one of the field types Config uses.
func setField(field reflect.Value, value string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))

	case field.Type() == stringsType:
		var list []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				list = append(list, p)
			}
		}
		field.Set(reflect.ValueOf(list))

	case field.Kind() == reflect.String:
		field.SetString(value)

	case field.Kind() == reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(int64(n))

	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation (sink is optional)
	if c.Database.Enabled() {
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Source validation
	if c.Source.Dir == "" {
		if u, err := url.Parse(c.Source.TopURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("NDB_TOP_URL (%q) must be an absolute URL", c.Source.TopURL))
		}
	}
	if c.Source.RequestInterval < 0 {
		errs = append(errs, "NDB_REQUEST_INTERVAL must be non-negative")
	}
	if c.Source.HTTPTimeout <= 0 {
		errs = append(errs, "NDB_HTTP_TIMEOUT must be positive")
	}

	// Storage validation
	if c.Storage.Enabled() {
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			errs = append(errs, "S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_ENDPOINT is set")
		}
		if c.Storage.Bucket == "" {
			errs = append(errs, "S3_BUCKET is required when S3_ENDPOINT is set")
		}
	}

	// Cache validation
	if c.Cache.Workbooks <= 0 {
		errs = append(errs, "CACHE_WORKBOOKS must be positive")
	}

	// Extract validation
	if c.Extract.MaxConcurrentFiles <= 0 {
		errs = append(errs, "EXTRACT_MAX_CONCURRENT_FILES must be positive")
	}
	if c.Extract.MaxConcurrentRuns <= 0 {
		errs = append(errs, "EXTRACT_MAX_CONCURRENT_RUNS must be positive")
	}
	if c.Extract.MaxWaitTime <= 0 {
		errs = append(errs, "EXTRACT_MAX_WAIT_TIME must be positive")
	}
	if c.Extract.Timeout <= 0 {
		errs = append(errs, "EXTRACT_TIMEOUT must be positive")
	}
	if c.Extract.BatchSize <= 0 {
		errs = append(errs, "EXTRACT_BATCH_SIZE must be positive")
	}
	if c.Extract.Retention <= 0 {
		errs = append(errs, "EXTRACT_RETENTION must be positive")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.ExtractLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_EXTRACT must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "API_KEYS is required when REQUIRE_API_KEY is true")
	}

	// Refresh validation
	if c.Refresh.Interval < 0 {
		errs = append(errs, "CATALOG_REFRESH_INTERVAL must be non-negative")
	}
	if c.Refresh.HistoryRetention < 0 {
		errs = append(errs, "HISTORY_RETENTION must be non-negative")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Database URLs and storage credentials are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	if c.Database.Enabled() {
		b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
			c.Database.MaxConns, c.Database.MinConns))
	} else {
		b.WriteString("Database: {disabled}, ")
	}
	b.WriteString(fmt.Sprintf("Source: {TopURL: %q, Dir: %q, Interval: %s}, ",
		c.Source.TopURL, c.Source.Dir, c.Source.RequestInterval))
	if c.Storage.Enabled() {
		b.WriteString(fmt.Sprintf("Storage: {Endpoint: %q, Bucket: %q, Keys: [MASKED]}, ",
			c.Storage.Endpoint, c.Storage.Bucket))
	}
	b.WriteString(fmt.Sprintf("Extract: {MaxConcurrentFiles: %d, MaxConcurrentRuns: %d, BatchSize: %d}, ",
		c.Extract.MaxConcurrentFiles, c.Extract.MaxConcurrentRuns, c.Extract.BatchSize))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Security: {RequireAPIKey: %v, APIKeys: [%d MASKED]}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
