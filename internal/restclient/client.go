// internal/restclient/client.go
package restclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/bugsync/internal/syncerr"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultTokenScheme = "Bearer"
	maxErrorBody       = 4 << 10
)

// Config holds the connection settings for one REST endpoint.
type Config struct {
	BaseURL  string
	Username string
	Password string
	// Token is sent as "Authorization: <TokenScheme> <Token>" and wins over
	// basic auth when both are set.
	Token       string
	TokenScheme string
	Timeout     time.Duration
	// RateLimit is the maximum number of requests per second. Zero disables it.
	RateLimit float64
	// MaxRetries bounds retries of idempotent requests. Zero disables them.
	MaxRetries int
}

// Client is a small JSON-over-HTTP client shared by the tracker and source
// collaborators.
type Client struct {
	base       *url.URL
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	// backoffFactory is replaced in tests to avoid real waits.
	backoffFactory func() backoff.BackOff
}

// New validates cfg and builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, syncerr.Configuration("rest client", "base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, syncerr.Configuration("rest client", "invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TokenScheme == "" {
		cfg.TokenScheme = defaultTokenScheme
	}

	c := &Client{
		base:       base,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("restclient").With(zap.String("host", base.Host)),
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c, nil
}

// BaseURL returns the configured endpoint root.
func (c *Client) BaseURL() string { return c.base.String() }

type requestOptions struct {
	contentType string
	headers     http.Header
}

// RequestOption adjusts a single request.
type RequestOption func(*requestOptions)

// WithContentType overrides the request content type (default application/json).
func WithContentType(ct string) RequestOption {
	return func(o *requestOptions) { o.contentType = ct }
}

// WithHeader adds a request header.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.headers.Add(key, value) }
}

// Get is shorthand for Do with GET and no body.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out, opts...)
}

// Do sends one request. body is JSON encoded unless it is a []byte; out is
// JSON decoded unless it is nil or a *[]byte. path is relative to the base
// URL unless it is absolute.
//
// GET and HEAD are retried on transport errors, 429 and 5xx responses. Other
// methods are sent exactly once. Non-2xx responses come back as *StatusError;
// 401 and 403 are classified as authentication errors, and failed GETs as
// remote lookup errors. Failed writes are left for the caller to classify.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any, opts ...RequestOption) error {
	ro := requestOptions{contentType: "application/json", headers: make(http.Header)}
	for _, opt := range opts {
		opt(&ro)
	}

	target, err := c.resolve(path, query)
	if err != nil {
		return err
	}

	var payload []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		payload = b
	default:
		if payload, err = json.Marshal(b); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	idempotent := method == http.MethodGet || method == http.MethodHead
	var respBody []byte
	operation := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		data, err := c.send(ctx, method, target, payload, ro)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			var se *StatusError
			if !errors.As(err, &se) || se.Retryable() {
				return err
			}
			return backoff.Permanent(err)
		}
		respBody = data
		return nil
	}

	if idempotent && c.cfg.MaxRetries > 0 {
		bo := backoff.WithContext(backoff.WithMaxRetries(c.backoffFactory(), uint64(c.cfg.MaxRetries)), ctx)
		err = backoff.RetryNotify(operation, bo, func(err error, wait time.Duration) {
			c.logger.Warn("Request failed, retrying",
				zap.String("method", method), zap.String("url", target), zap.Duration("wait", wait), zap.Error(err))
		})
	} else {
		err = operation()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}
	if err != nil {
		return c.classify(method, err)
	}

	switch o := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*o = respBody
		return nil
	default:
		if len(bytes.TrimSpace(respBody)) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response from %s %s: %w", method, target, err)
		}
		return nil
	}
}

func (c *Client) send(ctx context.Context, method, target string, payload []byte, ro requestOptions) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", ro.contentType)
	}
	for k, vs := range ro.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	switch {
	case c.cfg.Token != "":
		req.Header.Set("Authorization", c.cfg.TokenScheme+" "+c.cfg.Token)
	case c.cfg.Username != "" || c.cfg.Password != "":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	c.logger.Debug("HTTP request complete",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, &StatusError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

func (c *Client) resolve(path string, query url.Values) (string, error) {
	var u *url.URL
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		parsed, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("invalid request url %q: %w", path, err)
		}
		u = parsed
	} else {
		ref := *c.base
		rel, err := url.Parse(strings.TrimLeft(path, "/"))
		if err != nil {
			return "", fmt.Errorf("invalid request path %q: %w", path, err)
		}
		ref.Path = strings.TrimRight(ref.Path, "/") + "/" + rel.Path
		ref.RawPath = ""
		ref.RawQuery = rel.RawQuery
		u = &ref
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
	return u.String(), nil
}

func (c *Client) classify(method string, err error) error {
	op := method + " request"
	var se *StatusError
	if errors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden) {
		return syncerr.Authentication(op, err)
	}
	if method == http.MethodGet || method == http.MethodHead {
		return syncerr.RemoteLookup(op, err)
	}
	return err
}
