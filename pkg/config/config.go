package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/nassdata/quickstats/pkg/errors"
)

const (
	// DefaultBaseURL is the QuickStats API root.
	DefaultBaseURL = "https://quickstats.nass.usda.gov/api"
	// MaxPageSize is the server-side cap on records returned by one request.
	MaxPageSize = 50000
	// APIKeyEnv is the environment variable holding the QuickStats credential.
	APIKeyEnv = "NASS_API_KEY"
)

// Config is the single configuration structure for the connector, the ingest runner and
// the output sink. It is organized into sections the way the YAML file is.
type Config struct {
	// Name identifies the run in logs and metrics
	Name string `yaml:"name" json:"name"`

	API           APIConfig           `yaml:"api" json:"api"`
	Performance   PerformanceConfig   `yaml:"performance" json:"performance"`
	Timeouts      TimeoutConfig       `yaml:"timeouts" json:"timeouts"`
	Reliability   ReliabilityConfig   `yaml:"reliability" json:"reliability"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Catalog       CatalogConfig       `yaml:"catalog" json:"catalog"`
	State         StateConfig         `yaml:"state" json:"state"`
	Output        OutputConfig        `yaml:"output" json:"output"`
}

// APIConfig describes the QuickStats endpoint and how records are paged out of it.
type APIConfig struct {
	// BaseURL is the API root; endpoints such as api_GET are appended to it
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKey is the credential; NASS_API_KEY overrides it
	APIKey string `yaml:"api_key" json:"-"`
	// PageSize is the number of records requested per page (at most 50,000)
	PageSize int `yaml:"page_size" json:"page_size"`
	// OffsetParam names the pagination offset query parameter; empty disables paging params
	OffsetParam string `yaml:"offset_param" json:"offset_param"`
	// LimitParam names the page size query parameter
	LimitParam string `yaml:"limit_param" json:"limit_param"`
	// NumericFields are coerced from strings to numbers
	NumericFields []string `yaml:"numeric_fields" json:"numeric_fields"`
	// UserAgent is sent with every request
	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// PerformanceConfig controls transport and job parallelism.
type PerformanceConfig struct {
	// MaxConcurrency is the number of independent jobs fetched at once
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`
	// EnableHTTP2 negotiates HTTP/2 with the API
	EnableHTTP2 bool `yaml:"enable_http2" json:"enable_http2"`
	// MaxIdleConns bounds the idle connection pool
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`
}

// TimeoutConfig contains all timeout-related settings.
type TimeoutConfig struct {
	// Request bounds one HTTP request including reading the body
	Request time.Duration `yaml:"request" json:"request"`
	// Connection bounds dialing and the TLS handshake
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Idle closes pooled connections unused for this long
	Idle time.Duration `yaml:"idle" json:"idle"`
}

// ReliabilityConfig contains retry, circuit breaker and pacing settings.
type ReliabilityConfig struct {
	RetryAttempts   int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay" json:"retry_delay"`
	RetryMultiplier float64       `yaml:"retry_multiplier" json:"retry_multiplier"`
	MaxRetryDelay   time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`

	CircuitBreaker   bool          `yaml:"circuit_breaker" json:"circuit_breaker"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout" json:"breaker_timeout"`

	// RateLimitPerSec limits requests per second (0 = unlimited)
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	RateBurst       int     `yaml:"rate_burst" json:"rate_burst"`

	// JobDelay is the pause between ingest jobs
	JobDelay time.Duration `yaml:"job_delay" json:"job_delay"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level" json:"log_level"`
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	Development bool   `yaml:"development" json:"development"`

	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics"`
	MetricsAddr   string `yaml:"metrics_addr" json:"metrics_addr"`

	EnableTracing     bool    `yaml:"enable_tracing" json:"enable_tracing"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// CatalogConfig selects which datasets an ingest run covers.
type CatalogConfig struct {
	// Path replaces the built-in catalog with a YAML file
	Path string `yaml:"path" json:"path"`
	// Datasets restricts the run to these dataset keys
	Datasets []string `yaml:"datasets" json:"datasets"`
	// Category restricts the run to one category
	Category string `yaml:"category" json:"category"`
}

// StateConfig locates the completed-job state.
type StateConfig struct {
	Path string `yaml:"path" json:"path"`
}

// OutputConfig selects and configures the sink fetched batches are written to.
// Fields irrelevant to the selected Type are ignored.
type OutputConfig struct {
	// Type is the registered sink name: file, s3, gcs, postgres, bigquery, snowflake, kafka, mongo
	Type string `yaml:"type" json:"type"`
	// Format is the payload encoding for file-like sinks: json, jsonl, csv
	Format string `yaml:"format" json:"format"`
	// Compression is the codec for file-like sinks: none, gzip, zstd, lz4, snappy, s2
	Compression string `yaml:"compression" json:"compression"`

	// Path is the directory for the file sink
	Path string `yaml:"path" json:"path"`

	// Bucket, Prefix, Region and Endpoint address object storage (s3, gcs)
	Bucket          string `yaml:"bucket" json:"bucket"`
	Prefix          string `yaml:"prefix" json:"prefix"`
	Region          string `yaml:"region" json:"region"`
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`

	// DSN and Table address PostgreSQL and Snowflake
	DSN   string `yaml:"dsn" json:"-"`
	Table string `yaml:"table" json:"table"`

	// Brokers and Topic address Kafka
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`

	// URI, Database and Collection address MongoDB
	URI        string `yaml:"uri" json:"-"`
	Database   string `yaml:"database" json:"database"`
	Collection string `yaml:"collection" json:"collection"`

	// Project and Location address BigQuery; Database names the BigQuery dataset and
	// Table the table inside it
	Project  string `yaml:"project" json:"project"`
	Location string `yaml:"location" json:"location"`
}

// NewConfig returns a Config with defaults that match the QuickStats API contract and
// the pacing the API tolerates.
func NewConfig() *Config {
	return &Config{
		Name: "nass_quickstats",
		API: APIConfig{
			BaseURL:       DefaultBaseURL,
			PageSize:      MaxPageSize,
			OffsetParam:   "offset",
			LimitParam:    "limit",
			NumericFields: []string{"Value", "CV (%)"},
			UserAgent:     "nass-quickstats/1.0",
		},
		Performance: PerformanceConfig{
			MaxConcurrency: 1,
			EnableHTTP2:    true,
			MaxIdleConns:   16,
		},
		Timeouts: TimeoutConfig{
			Request:    300 * time.Second,
			Connection: 30 * time.Second,
			Idle:       90 * time.Second,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:    4,
			RetryDelay:       time.Second,
			RetryMultiplier:  2.0,
			MaxRetryDelay:    60 * time.Second,
			CircuitBreaker:   true,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			BreakerTimeout:   30 * time.Second,
			RateLimitPerSec:  2,
			RateBurst:        1,
			JobDelay:         time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "json",
			TracingSampleRate: 1.0,
		},
		State: StateConfig{
			Path: "data/state/nass_quickstats.json",
		},
		Output: OutputConfig{
			Type:        "file",
			Format:      "json",
			Compression: "gzip",
			Path:        "data/raw",
			Table:       "nass_records",
			Topic:       "nass.quickstats",
			Database:    "nass",
			Collection:  "quickstats",
		},
	}
}

// Validate checks ranges and required fields. The API key is deliberately not checked
// here: commands that never reach the network (datasets, version) run without it, and the
// fetcher reports a missing key as an authentication error before its first request.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New(errors.ErrorTypeConfig, "api.base_url is required")
	}
	if c.API.PageSize <= 0 || c.API.PageSize > MaxPageSize {
		return errors.Newf(errors.ErrorTypeConfig, "api.page_size must be between 1 and %d", MaxPageSize)
	}
	if (c.API.OffsetParam == "") != (c.API.LimitParam == "") {
		return errors.New(errors.ErrorTypeConfig, "api.offset_param and api.limit_param must be set together")
	}
	if c.API.OffsetParam != "" && c.API.OffsetParam == c.API.LimitParam {
		return errors.New(errors.ErrorTypeConfig, "api.offset_param and api.limit_param must differ")
	}
	if c.Performance.MaxConcurrency <= 0 {
		return errors.New(errors.ErrorTypeConfig, "performance.max_concurrency must be positive")
	}
	if c.Reliability.RetryAttempts < 1 {
		return errors.New(errors.ErrorTypeConfig, "reliability.retry_attempts must be at least 1")
	}
	if c.Reliability.RateLimitPerSec < 0 {
		return errors.New(errors.ErrorTypeConfig, "reliability.rate_limit_per_sec cannot be negative")
	}
	if c.Reliability.JobDelay < 0 {
		return errors.New(errors.ErrorTypeConfig, "reliability.job_delay cannot be negative")
	}
	if c.Output.Type == "" {
		return errors.New(errors.ErrorTypeConfig, "output.type is required")
	}
	return nil
}

// RequireAPIKey returns an authentication error when no credential is configured.
func (a *APIConfig) RequireAPIKey() error {
	if strings.TrimSpace(a.APIKey) == "" {
		return errors.Auth(fmt.Sprintf("%s is not set", APIKeyEnv))
	}
	return nil
}

// IsRateLimited returns true if client-side rate limiting is enabled
func (r *ReliabilityConfig) IsRateLimited() bool {
	return r.RateLimitPerSec > 0
}

// HasPaging reports whether pagination parameters are sent with each request.
func (a *APIConfig) HasPaging() bool {
	return a.OffsetParam != ""
}
