// Package config provides centralized configuration management for the extractor.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Source   SourceConfig
	Storage  StorageConfig
	Cache    CacheConfig
	Extract  ExtractConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Refresh  RefreshConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds the optional record sink connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Empty disables the record sink.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a record sink is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// SourceConfig controls where publication files are discovered and fetched.
type SourceConfig struct {
	// TopURL is the MHLW NDB open data index page.
	TopURL string `env:"NDB_TOP_URL" default:"https://www.mhlw.go.jp/stf/seisakunitsuite/bunya/0000177182.html"`

	// Dir is a local directory of downloaded files. When set, the web
	// catalog is not consulted.
	Dir string `env:"NDB_SOURCE_DIR"`

	// RequestInterval is the pause between page requests (default: 100ms)
	RequestInterval time.Duration `env:"NDB_REQUEST_INTERVAL" default:"100ms"`

	// HTTPTimeout bounds every source request (default: 60s)
	HTTPTimeout time.Duration `env:"NDB_HTTP_TIMEOUT" default:"60s"`

	// UserAgent is sent with every source request.
	UserAgent string `env:"NDB_USER_AGENT" default:"ndbmedicine"`

	// CSVEncoding is auto, utf-8 or shift_jis (default: auto)
	CSVEncoding string `env:"NDB_CSV_ENCODING" default:"auto"`
}

// StorageConfig holds the optional S3-compatible mirror of source files.
type StorageConfig struct {
	// Endpoint is host[:port] of the S3 service. Empty disables the mirror.
	Endpoint string `env:"S3_ENDPOINT"`

	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`

	// Bucket holds mirrored workbooks (default: ndb-open-data)
	Bucket string `env:"S3_BUCKET" default:"ndb-open-data"`

	Region string `env:"S3_REGION"`

	// Prefix is prepended to object keys.
	Prefix string `env:"S3_PREFIX" default:"prescription/"`

	// UseSSL selects https (default: true)
	UseSSL bool `env:"S3_USE_SSL" default:"true"`
}

// Enabled reports whether an S3 mirror is configured.
func (c *StorageConfig) Enabled() bool {
	return c.Endpoint != ""
}

// CacheConfig sizes in-memory caches.
type CacheConfig struct {
	// Workbooks is the number of parsed workbooks kept in memory (default: 16)
	Workbooks int `env:"CACHE_WORKBOOKS" default:"16"`
}

// ExtractConfig holds extraction pipeline settings.
type ExtractConfig struct {
	// MaxConcurrentFiles is the number of files fetched and parsed in parallel (default: 4)
	MaxConcurrentFiles int `env:"EXTRACT_MAX_CONCURRENT_FILES" default:"4"`

	// MaxConcurrentRuns is the number of extraction runs in flight (default: 2)
	MaxConcurrentRuns int `env:"EXTRACT_MAX_CONCURRENT_RUNS" default:"2"`

	// MaxWaitTime is how long a run waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"EXTRACT_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration of a single run (default: 30m)
	Timeout time.Duration `env:"EXTRACT_TIMEOUT" default:"30m"`

	// BatchSize is the number of records per COPY batch (default: 5000)
	BatchSize int `env:"EXTRACT_BATCH_SIZE" default:"5000"`

	// Retention is how long finished runs stay available in memory (default: 1h)
	Retention time.Duration `env:"EXTRACT_RETENTION" default:"1h"`

	// OutputDir is where the CLI writes files (default: out)
	OutputDir string `env:"EXTRACT_OUTPUT_DIR" default:"out"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ExtractLimit is requests per minute for extraction endpoints (default: 10)
	ExtractLimit int `env:"RATE_LIMIT_EXTRACT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey guards endpoints that start work or write to the mirror (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted X-API-Key values
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// RefreshConfig controls the periodic catalog refresh.
type RefreshConfig struct {
	// Interval between catalog refreshes; 0 disables the scheduler (default: 24h)
	Interval time.Duration `env:"CATALOG_REFRESH_INTERVAL" default:"24h"`

	// HistoryRetention prunes stored runs older than this on each refresh; 0 keeps them (default: 0)
	HistoryRetention time.Duration `env:"HISTORY_RETENTION" default:"0s"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
