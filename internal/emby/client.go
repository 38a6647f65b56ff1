// Package emby is the transport client for the Emby REST API. It attaches
// the configured token header, paces requests with a token bucket, guards
// them with a circuit breaker and reports every failure as a *Failure value.
// It never retries; that decision belongs to the caller.
package emby

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/opd-ai/go-emby-bridge/internal/metrics"
	"github.com/opd-ai/go-emby-bridge/pkg/config"
)

const (
	maxResponseBytes    = 32 << 20
	maxFailureBodyBytes = 512
	defaultDialTimeout  = 5 * time.Second
	defaultIdleTimeout  = 90 * time.Second
)

// Request describes one API call. Path is relative to the server URL.
// A zero Timeout uses the configured default.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    interface{}
	Timeout time.Duration
}

// Response is a successful (2xx) raw response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client issues authenticated requests to one Emby server. It is safe for
// concurrent use.
type Client struct {
	config     *config.EmbyConfig
	logger     *slog.Logger
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*Response]
}

// New creates a client from explicit configuration. It fails fast with an
// error wrapping config.ErrConfigurationMissing when the server URL or API
// token is empty, before any request is attempted.
func New(cfg *config.EmbyConfig, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("emby config is nil: %w", config.ErrConfigurationMissing)
	}
	if err := config.ValidateEmby(cfg); err != nil {
		return nil, fmt.Errorf("invalid emby config: %w", err)
	}

	c := &Client{
		config:     cfg,
		logger:     logger,
		baseURL:    strings.TrimSuffix(cfg.ServerURL, "/"),
		httpClient: newHTTPClient(cfg),
	}

	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	if cfg.CircuitBreaker {
		c.breaker = newBreaker(logger)
	}

	logger.Debug("Emby client created",
		"server_url", c.baseURL,
		"token_header", cfg.TokenHeader,
		"verify_ssl", cfg.VerifySSL,
		"rate_limit", cfg.RateLimit,
		"circuit_breaker", cfg.CircuitBreaker)

	return c, nil
}

// newHTTPClient builds the transport. Timeouts are applied per request via
// the context, so the http.Client itself has none.
func newHTTPClient(cfg *config.EmbyConfig) *http.Client {
	dialTimeout := cfg.Timeout
	if dialTimeout > defaultDialTimeout {
		dialTimeout = defaultDialTimeout
	}

	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          16,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       defaultIdleTimeout,
			TLSHandshakeTimeout:   dialTimeout,
			ExpectContinueTimeout: time.Second,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !cfg.VerifySSL, // #nosec G402 -- operator opt-in for self-signed servers
			},
		},
	}
}

// Do performs the request and returns the raw 2xx response. Every other
// outcome is returned as a *Failure.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	started := time.Now()
	resp, err := c.execute(ctx, req)

	outcome := "ok"
	if err != nil {
		var f *Failure
		if errors.As(err, &f) {
			outcome = f.Kind.String()
		}
		c.logger.Debug("Emby request failed",
			"method", req.Method,
			"path", req.Path,
			"error", err)
	}
	metrics.ObserveEmbyRequest(req.Method, outcome, started)

	return resp, err
}

// Decode performs the request and decodes the JSON body into out. An empty
// body leaves out untouched.
func (c *Client) Decode(ctx context.Context, req Request, out interface{}) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		metrics.EmbyRequestsTotal.WithLabelValues(req.Method, FailureDecode.String()).Inc()
		return &Failure{Kind: FailureDecode, Method: req.Method, Path: req.Path, Err: err}
	}

	return nil
}

func (c *Client) execute(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, classify(req.Method, req.Path, err)
		}
	}

	if c.breaker == nil {
		return c.roundTrip(ctx, req)
	}

	resp, err := c.breaker.Execute(func() (*Response, error) {
		return c.roundTrip(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Failure{Kind: FailureCircuitOpen, Method: req.Method, Path: req.Path, Err: err}
	}
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &Failure{Kind: FailureOther, Method: req.Method, Path: req.Path,
				Err: fmt.Errorf("failed to encode request body: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.buildURL(req.Path, req.Query), body)
	if err != nil {
		return nil, &Failure{Kind: FailureOther, Method: req.Method, Path: req.Path,
			Err: fmt.Errorf("failed to create request: %w", err)}
	}
	c.setHeaders(httpReq.Header)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(req.Method, req.Path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, classify(req.Method, req.Path, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &Failure{
			Kind:       FailureHTTPStatus,
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: httpResp.StatusCode,
			Body:       truncate(string(data), maxFailureBodyBytes),
		}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
