// Package clients provides the HTTP transport used to talk to the QuickStats API
package clients

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
)

// HTTPClient wraps net/http with connection pooling, optional HTTP/2, a client-side rate
// limiter and a circuit breaker.
type HTTPClient struct {
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport

	totalRequests  int64
	failedRequests int64

	metrics        *HTTPMetrics
	circuitBreaker *HTTPCircuitBreaker
	rateLimiter    *RateLimiter
}

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	// Connection settings
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`

	EnableHTTP2 bool `json:"enable_http2"`

	// Timeouts
	DialTimeout         time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `json:"tls_handshake_timeout"`
	RequestTimeout      time.Duration `json:"request_timeout"`
	KeepAlive           time.Duration `json:"keep_alive"`

	UserAgent string `json:"user_agent"`

	// Rate limiting (0 disables)
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// Circuit breaker
	CircuitBreakerEnabled bool          `json:"circuit_breaker_enabled"`
	FailureThreshold      int           `json:"failure_threshold"`
	SuccessThreshold      int           `json:"success_threshold"`
	Timeout               time.Duration `json:"timeout"`
}

// DefaultHTTPConfig returns defaults suited to a single slow public API.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		RequestTimeout:        300 * time.Second,
		KeepAlive:             30 * time.Second,
		UserAgent:             "nass-quickstats/1.0",
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      1,
		Timeout:               30 * time.Second,
	}
}

// HTTPConfigFromConfig maps the application configuration onto the transport settings.
func HTTPConfigFromConfig(cfg *config.Config) *HTTPConfig {
	hc := DefaultHTTPConfig()
	hc.MaxIdleConns = cfg.Performance.MaxIdleConns
	hc.MaxIdleConnsPerHost = cfg.Performance.MaxIdleConns
	hc.EnableHTTP2 = cfg.Performance.EnableHTTP2
	hc.IdleConnTimeout = cfg.Timeouts.Idle
	hc.DialTimeout = cfg.Timeouts.Connection
	hc.RequestTimeout = cfg.Timeouts.Request
	hc.UserAgent = cfg.API.UserAgent
	if cfg.Reliability.IsRateLimited() {
		hc.RateLimit = cfg.Reliability.RateLimitPerSec
		hc.RateBurst = cfg.Reliability.RateBurst
	}
	hc.CircuitBreakerEnabled = cfg.Reliability.CircuitBreaker
	hc.FailureThreshold = cfg.Reliability.FailureThreshold
	hc.SuccessThreshold = cfg.Reliability.SuccessThreshold
	hc.Timeout = cfg.Reliability.BreakerTimeout
	return hc
}

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &HTTPClient{
		config:  config,
		logger:  logger.With(zap.String("component", "http_client")),
		metrics: NewHTTPMetrics(),
	}

	client.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	client.httpClient = &http.Client{
		Transport: client.transport,
		Timeout:   config.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	if config.RateLimit > 0 {
		client.rateLimiter = NewRateLimiter(config.RateLimit, config.RateBurst)
	}

	if config.CircuitBreakerEnabled {
		client.circuitBreaker = NewHTTPCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: config.FailureThreshold,
			SuccessThreshold: config.SuccessThreshold,
			Timeout:          config.Timeout,
		}, client.logger)
	}

	return client
}

// Get performs an HTTP GET request
func (c *HTTPClient) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "building request")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return c.Do(req)
}

// Do sends req after the rate limiter and the circuit breaker admit it. Transport failures
// come back as transient errors. A response with a 5xx status is returned to the caller but
// counts as a breaker failure; 429 slows the rate limiter down and ends any half-open trial.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			atomic.AddInt64(&c.failedRequests, 1)
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "waiting for rate limiter")
		}
	}

	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, errors.Transient(ErrCircuitOpen, "request rejected")
	}

	atomic.AddInt64(&c.totalRequests, 1)
	start := time.Now()

	resp, err := c.httpClient.Do(req)

	c.metrics.RecordRequest(req.Method, req.URL.Path, time.Since(start), statusOf(resp), err)

	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		if c.circuitBreaker != nil {
			c.circuitBreaker.RecordFailure()
		}
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, errors.ErrorTypeTimeout, "request cancelled")
		}
		return nil, errors.Transient(err, "sending request")
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		atomic.AddInt64(&c.failedRequests, 1)
		if c.circuitBreaker != nil {
			c.circuitBreaker.RecordFailure()
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		atomic.AddInt64(&c.failedRequests, 1)
		if c.circuitBreaker != nil {
			c.circuitBreaker.ReleaseProbe()
		}
		if c.rateLimiter != nil {
			c.rateLimiter.Penalize()
		}
	default:
		if c.circuitBreaker != nil {
			c.circuitBreaker.RecordSuccess()
		}
		if c.rateLimiter != nil {
			c.rateLimiter.Recover()
		}
	}

	return resp, nil
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// GetStats returns current client statistics
func (c *HTTPClient) GetStats() HTTPStats {
	totalRequests := atomic.LoadInt64(&c.totalRequests)
	failedRequests := atomic.LoadInt64(&c.failedRequests)

	stats := HTTPStats{
		TotalRequests:  totalRequests,
		FailedRequests: failedRequests,
		AverageLatency: c.metrics.GetAverageLatency(),
		P95Latency:     c.metrics.GetP95Latency(),
		P99Latency:     c.metrics.GetP99Latency(),
	}

	if totalRequests > 0 {
		stats.SuccessRate = float64(totalRequests-failedRequests) / float64(totalRequests) * 100
	}
	if c.circuitBreaker != nil {
		stats.CircuitState = c.circuitBreaker.GetState().State
	}

	return stats
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// HTTPStats represents HTTP client statistics
type HTTPStats struct {
	TotalRequests  int64         `json:"total_requests"`
	FailedRequests int64         `json:"failed_requests"`
	SuccessRate    float64       `json:"success_rate"`
	AverageLatency time.Duration `json:"average_latency"`
	P95Latency     time.Duration `json:"p95_latency"`
	P99Latency     time.Duration `json:"p99_latency"`
	CircuitState   string        `json:"circuit_state,omitempty"`
}
