// Package clients provides the shared HTTP client used by every remote
// source: KEGG REST, NCBI bulk downloads and Entrez E-utilities.
//
// The client layers a token-bucket rate limiter and a per-host circuit
// breaker over an HTTP/2-capable transport, and converts failures into
// typed hgderrors so retry logic can tell transient from fatal:
//
//   - transport errors and 5xx responses: ErrorTypeConnection
//   - deadlines, 408 and 504: ErrorTypeTimeout
//   - 429: ErrorTypeRateLimit
//   - any other non-2xx response: ErrorTypeRemote (not retried)
package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/humangenomedb/hgd/pkg/config"
	"github.com/humangenomedb/hgd/pkg/hgderrors"
	"github.com/humangenomedb/hgd/pkg/metrics"
	"github.com/humangenomedb/hgd/pkg/pool"
)

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 512

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	// Connection settings
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`
	EnableHTTP2         bool          `json:"enable_http2"`

	// Timeouts
	DialTimeout           time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `json:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `json:"response_header_timeout"`
	RequestTimeout        time.Duration `json:"request_timeout"`

	// Rate limiting (requests per second, 0 disables)
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// Circuit breaker
	CircuitBreakerEnabled bool          `json:"circuit_breaker_enabled"`
	FailureThreshold      int           `json:"failure_threshold"`
	OpenTimeout           time.Duration `json:"open_timeout"`

	UserAgent string `json:"user_agent"`
}

// DefaultHTTPConfig returns defaults suited to public scientific APIs.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 2 * time.Minute,
		RequestTimeout:        5 * time.Minute,
		RateLimit:             NCBIRate,
		RateBurst:             1,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		OpenTimeout:           30 * time.Second,
		UserAgent:             "hgd/1.0",
	}
}

// HTTPConfigFrom derives the client configuration from the pipeline config.
func HTTPConfigFrom(cfg *config.Config) *HTTPConfig {
	hc := DefaultHTTPConfig()
	if cfg.Performance.RequestTimeout > 0 {
		hc.RequestTimeout = cfg.Performance.RequestTimeout
	}
	switch {
	case cfg.Reliability.RateLimitPerSec != nil:
		hc.RateLimit = *cfg.Reliability.RateLimitPerSec
	case cfg.Sources.NCBI.APIKey != "":
		hc.RateLimit = NCBIKeyedRate
	default:
		hc.RateLimit = NCBIRate
	}
	hc.CircuitBreakerEnabled = cfg.Reliability.CircuitBreaker
	return hc
}

// HTTPClient is a rate-limited, circuit-protected HTTP client.
type HTTPClient struct {
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport

	rateLimiter RateLimiter

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewHTTPClient creates a new HTTP client. If config is nil the defaults are
// used.
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}

	client := &HTTPClient{
		config:   config,
		logger:   logger.With(zap.String("component", "http_client")),
		breakers: make(map[string]*CircuitBreaker),
	}

	client.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	client.httpClient = &http.Client{
		Transport: client.transport,
		Timeout:   config.RequestTimeout,
	}

	if config.RateLimit > 0 {
		client.rateLimiter = NewTokenBucketRateLimiter(config.RateLimit, config.RateBurst)
	}

	return client
}

// Get performs a GET request with query parameters appended to rawURL.
// Only 2xx responses are returned; the caller must close the body.
func (c *HTTPClient) Get(ctx context.Context, rawURL string, query url.Values) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeConfig, "invalid request URL").WithDetail("url", rawURL)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, hgderrors.Wrap(err, hgderrors.ErrorTypeInternal, "failed to build request")
	}
	return c.Do(req)
}

// GetBytes performs a GET request and reads the whole body.
func (c *HTTPClient) GetBytes(ctx context.Context, rawURL string, query url.Values) ([]byte, error) {
	resp, err := c.Get(ctx, rawURL, query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, classifyTransportError(err, resp.Request.URL.Host)
	}
	return bytes.Clone(buf.Bytes()), nil
}

// Do sends req through the rate limiter and the host's circuit breaker.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	host := req.URL.Host

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			return nil, classifyTransportError(err, host)
		}
	}

	breaker := c.breaker(host)
	if breaker != nil && !breaker.Allow() {
		return nil, hgderrors.New(hgderrors.ErrorTypeConnection, "circuit breaker open").WithDetail("host", host)
	}

	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	metrics.RemoteRequestDuration.WithLabelValues(host, metrics.StatusClass(status)).Observe(time.Since(start).Seconds())

	if err != nil {
		err = classifyTransportError(err, host)
		c.record(breaker, err)
		return nil, err
	}

	if status < 200 || status > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		err = classifyStatus(status, host, strings.TrimSpace(string(snippet)))
		c.record(breaker, err)
		return nil, err
	}

	c.record(breaker, nil)
	return resp, nil
}

func (c *HTTPClient) breaker(host string) *CircuitBreaker {
	if !c.config.CircuitBreakerEnabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[host]
	if !ok {
		cb = NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: c.config.FailureThreshold,
			OpenTimeout:      c.config.OpenTimeout,
		}, host, c.logger)
		c.breakers[host] = cb
	}
	return cb
}

// record feeds the breaker. Fatal remote errors prove the host is up, so
// only transient failures count against it.
func (c *HTTPClient) record(cb *CircuitBreaker, err error) {
	if cb == nil {
		return
	}
	if err != nil && hgderrors.IsRetryable(err) {
		cb.RecordFailure()
		return
	}
	cb.RecordSuccess()
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

func classifyTransportError(err error, host string) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return hgderrors.Wrap(err, hgderrors.ErrorTypeInternal, "request cancelled").WithDetail("host", host)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return hgderrors.Wrap(err, hgderrors.ErrorTypeTimeout, "request timed out").WithDetail("host", host)
	default:
		return hgderrors.Wrap(err, hgderrors.ErrorTypeConnection, "request failed").WithDetail("host", host)
	}
}

func classifyStatus(status int, host, body string) error {
	var errType hgderrors.ErrorType
	switch {
	case status == http.StatusTooManyRequests:
		errType = hgderrors.ErrorTypeRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		errType = hgderrors.ErrorTypeTimeout
	case status >= 500:
		errType = hgderrors.ErrorTypeConnection
	default:
		errType = hgderrors.ErrorTypeRemote
	}
	return hgderrors.Newf(errType, "unexpected status %d from %s", status, host).
		WithDetail("status", status).
		WithDetail("body", body)
}
