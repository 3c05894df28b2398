// Package remote is the gateway's client for the core backend REST API.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bordereau/console/internal/domain/access"
	"github.com/bordereau/console/internal/domain/bpc"
	"github.com/bordereau/console/internal/domain/shared"
	"github.com/bordereau/console/internal/infrastructure/config"
	"github.com/bordereau/console/internal/infrastructure/logger"
	"github.com/bordereau/console/internal/infrastructure/telemetry"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	userAgent       = "bordereau-console/1.0"
	maxResponseBody = 4 << 20
	defaultTimeout  = 10 * time.Second
)

// Client talks to the core backend on behalf of a signed-in operator. The
// operator's access token is forwarded on every call.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	cfg        config.RemoteConfig
	validate   *validator.Validate
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// Option is a functional option for configuring the client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger for the client
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBackOff sets the retry policy for retried reads
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) {
		c.newBackOff = newBackOff
	}
}

// NewClient creates a client for the configured core backend
func NewClient(cfg config.RemoteConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: cfg.Timeout,
		},
		baseURL:  base,
		cfg:      cfg,
		validate: validator.New(),
		logger:   zap.NewNop(),
	}
	c.newBackOff = c.defaultBackOff

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = c.cfg.RetryMaxElapsed
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = 5 * time.Second
	}
	return b
}

// FetchPermissions loads the operator's permission codes and module tree.
// It is not retried: a failed reload keeps the previous grant and the caller
// decides when to try again.
func (c *Client) FetchPermissions(ctx context.Context, identity *access.Identity) (*access.Grant, error) {
	var grant access.Grant
	found, err := c.get(ctx, "permissions.fetch", c.cfg.PermissionsPath, identity, &grant)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: permissions endpoint returned no body", shared.ErrUpstream)
	}
	if err := c.validate.StructCtx(ctx, &grant); err != nil {
		return nil, fmt.Errorf("%w: invalid permissions response: %v", shared.ErrUpstream, err)
	}
	return &grant, nil
}

// FetchCurrentStatus loads the operator's current status record. A nil
// record with a nil error means the backend has none.
func (c *Client) FetchCurrentStatus(ctx context.Context, identity *access.Identity) (*bpc.StatusRecord, error) {
	var record *bpc.StatusRecord
	err := c.retry(ctx, func() error {
		record = nil
		_, err := c.get(ctx, "bpc.status.fetch", c.cfg.StatusPath, identity, &record)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// FetchCurrentBordereau loads the bordereau currently assigned to the
// subscriber's work session. A nil result with a nil error means nothing is
// assigned.
func (c *Client) FetchCurrentBordereau(ctx context.Context, identity *access.Identity, subscriberID int64) (*bpc.Bordereau, error) {
	path := fmt.Sprintf(c.cfg.BordereauPath, subscriberID)

	var current *bpc.Bordereau
	err := c.retry(ctx, func() error {
		current = nil
		_, err := c.get(ctx, "bpc.bordereau.fetch", path, identity, &current)
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return current, nil
}

// retry runs op under the backoff policy; only upstream failures are retried
func (c *Client) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(c.newBackOff(), ctx)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err == nil || isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		logger.Enrich(ctx, c.logger).Warn("Core API call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	})
}

func isRetryable(err error) bool {
	return errors.Is(err, shared.ErrUpstream) || errors.Is(err, shared.ErrUpstreamTimeout)
}

// get performs one GET and decodes the JSON body into out. found is false
// for an empty or null body.
func (c *Client) get(ctx context.Context, op, path string, identity *access.Identity, out any) (found bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, op,
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttributes(attribute.String("http.route", path)),
	)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	u := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if identity != nil && identity.Token != "" {
		req.Header.Set("Authorization", "Bearer "+identity.Token)
	}
	if id := logger.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, classifyTransportError(err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	logger.Enrich(ctx, c.logger).Debug("Core API call",
		zap.String("op", op),
		zap.String("url", u),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return false, fmt.Errorf("%w: reading response: %v", shared.ErrUpstream, err)
	}

	if err := statusError(resp.StatusCode, body); err != nil {
		return false, err
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("%w: decoding response: %v", shared.ErrUpstream, err)
	}
	return true, nil
}

func (c *Client) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.baseURL.String() + path
	}
	return c.baseURL.ResolveReference(ref).String()
}

// statusError maps a non-2xx status to a console error
func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}

	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: core API rejected the access token", shared.ErrUnauthorized)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", shared.ErrForbidden, detail)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", shared.ErrNotFound, detail)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d: %s", shared.ErrUpstream, status, detail)
	default:
		return fmt.Errorf("%w: unexpected status %d: %s", shared.ErrInvalidInput, status, detail)
	}
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", shared.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", shared.ErrUpstream, err)
}
