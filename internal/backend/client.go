// Package backend is the REST transport shared by every console component.
// It attaches the session bearer token, maps responses onto the apperr
// taxonomy and routes every unauthorized response to the session's logout
// path.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/faqbot/console/internal/apperr"
	"github.com/faqbot/console/internal/metrics"
	"github.com/faqbot/console/pkg/circuitbreaker"
	"github.com/faqbot/console/pkg/config"
	"github.com/faqbot/console/pkg/logger"
	"github.com/faqbot/console/pkg/retry"
)

const maxResponseBytes = 8 << 20

// Authenticator supplies the bearer token and receives unauthorized
// notifications. The session manager is the only implementation.
type Authenticator interface {
	Token() string
	Invalidate(token string, cause error)
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Retry      retry.Config
	Breaker    circuitbreaker.Config
	HTTPClient *http.Client
}

// OptionsFrom builds client options from the backend configuration section.
func OptionsFrom(cfg config.BackendConfig) Options {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.Retry.MaxAttempts
	rc.InitialDelay = time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond
	rc.MaxDelay = time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond

	return Options{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout(),
		Retry:   rc,
		Breaker: circuitbreaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			OpenTimeout:      time.Duration(cfg.Breaker.OpenTimeoutSec) * time.Second,
		},
	}
}

type Client struct {
	baseURL     string
	httpClient  *http.Client
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	log         *zap.Logger

	mu   sync.RWMutex
	auth Authenticator
}

// Request describes one backend call. Path is relative to the base URL and
// Route is its low-cardinality template used for metrics and logs.
type Request struct {
	Method string
	Path   string
	Route  string
	Query  url.Values
	JSON   any
	Form   url.Values
	// Public requests carry no bearer token.
	Public bool
	// Token overrides the session token. Unauthorized responses to such
	// requests do not invalidate the session.
	Token string
}

func (r Request) op() string {
	route := r.Route
	if route == "" {
		route = r.Path
	}
	return r.Method + " " + route
}

func NewClient(opts Options) *Client {
	log := logger.Named("backend")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	rc := opts.Retry
	if rc.MaxAttempts == 0 {
		rc = retry.DefaultConfig()
	}
	rc.ShouldRetry = apperr.Retryable
	rc.Logger = log

	bc := opts.Breaker
	bc.IsFailure = func(err error) bool {
		return apperr.Retryable(err) && !errors.Is(err, context.Canceled)
	}
	bc.Logger = log
	bc.OnStateChange = func(name string, from, to circuitbreaker.State) {
		metrics.BreakerState.WithLabelValues(name).Set(float64(to))
	}

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  httpClient,
		cb:          circuitbreaker.New("backend", bc),
		retryConfig: rc,
		log:         log,
	}
}

// SetAuthenticator installs the token source. It is called once while the
// console is wired, before any authenticated request.
func (c *Client) SetAuthenticator(a Authenticator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = a
}

func (c *Client) authenticator() Authenticator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs req and decodes a successful JSON body into out (which may be
// nil). Authenticated requests without a token fail before any I/O. Reads
// are retried on transient failures; writes are sent once.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	op := req.op()

	token := req.Token
	fromSession := false
	if !req.Public && token == "" {
		if a := c.authenticator(); a != nil {
			token = a.Token()
		}
		if token == "" {
			return apperr.Auth(op, "not authenticated", nil)
		}
		fromSession = true
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return apperr.Validation(op, "failed to encode request: %v", err)
	}

	rc := c.retryConfig
	if req.Method != http.MethodGet {
		rc.MaxAttempts = 1
	}

	err = retry.Do(ctx, rc, func(attempt int) error {
		return c.cb.Execute(func() error {
			return c.send(ctx, req, op, token, body, contentType, out)
		})
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		metrics.BackendRequests.WithLabelValues(req.Method, routeLabel(req), "rejected").Inc()
		return apperr.Network(op, err)
	case errors.Is(err, apperr.ErrUnauthorized) && fromSession:
		if a := c.authenticator(); a != nil {
			a.Invalidate(token, err)
		}
	}
	return err
}

func (c *Client) send(ctx context.Context, req Request, op, token string, body []byte, contentType string, out any) error {
	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return apperr.Validation(op, "failed to create request: %v", err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	route := routeLabel(req)
	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	elapsed := time.Since(start)
	metrics.BackendRequestDuration.WithLabelValues(req.Method, route).Observe(elapsed.Seconds())

	if err != nil {
		metrics.BackendRequests.WithLabelValues(req.Method, route, "network_error").Inc()
		c.log.Debug("Backend request failed",
			zap.String("op", op),
			zap.String("request_id", requestID),
			zap.Duration("latency", elapsed),
			zap.Error(err),
		)
		return apperr.Network(op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.BackendRequests.WithLabelValues(req.Method, route, "network_error").Inc()
		return apperr.Network(op, fmt.Errorf("failed to read response: %w", err))
	}

	c.log.Debug("Backend request completed",
		zap.String("op", op),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", elapsed),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.BackendRequests.WithLabelValues(req.Method, route, fmt.Sprintf("%dxx", resp.StatusCode/100)).Inc()
		return apperr.FromStatus(op, resp.StatusCode, errorDetail(resp.StatusCode, payload))
	}
	metrics.BackendRequests.WithLabelValues(req.Method, route, "ok").Inc()

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return apperr.Backend(op, resp.StatusCode, fmt.Sprintf("malformed response: %v", err))
	}
	return nil
}

func encodeBody(req Request) ([]byte, string, error) {
	switch {
	case req.Form != nil:
		return []byte(req.Form.Encode()), "application/x-www-form-urlencoded", nil
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	default:
		return nil, "", nil
	}
}

func routeLabel(req Request) string {
	if req.Route != "" {
		return req.Route
	}
	return req.Path
}

// errorDetail extracts the human-readable message from an error body. The
// backend answers with {"detail": "..."}, a list of field errors under
// "detail", or {"error": "..."}.
func errorDetail(status int, payload []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if len(body.Detail) > 0 {
			var text string
			if json.Unmarshal(body.Detail, &text) == nil && text != "" {
				return text
			}
			var fields []struct {
				Msg string `json:"msg"`
			}
			if json.Unmarshal(body.Detail, &fields) == nil && len(fields) > 0 && fields[0].Msg != "" {
				return fields[0].Msg
			}
		}
		if body.Error != "" {
			return body.Error
		}
	}

	text := strings.TrimSpace(string(payload))
	if text != "" && !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "<") {
		if len(text) > 200 {
			text = text[:200]
		}
		return text
	}
	return http.StatusText(status)
}
