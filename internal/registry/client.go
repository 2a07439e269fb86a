// Package registry is the HTTP client for the downstream person registry:
// candidate search, submission, and health, behind a circuit breaker.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"regsync/internal/entity"
	"regsync/internal/registry/metrics"
	"regsync/pkg/platform/circuit"
	"regsync/pkg/platform/sentinel"
)

const (
	personsPath = "/persons"
	healthPath  = "/health"

	maxErrorBody = 4 << 10
)

// SearchParams are the lookup keys for candidate search. Empty fields are
// not sent.
type SearchParams struct {
	Identifier entity.Identifier
	BirthDate  string
}

// IsZero reports whether there is nothing to search on.
func (p SearchParams) IsZero() bool {
	return p.Identifier.Value == "" && p.BirthDate == ""
}

// Client talks to the registry REST API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  *TokenSource
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

func WithTokenSource(t *TokenSource) Option {
	return func(cl *Client) {
		cl.tokens = t
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) {
		cl.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("registry base url is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse registry base url: %w", err)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: circuit.New("registry"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Search returns the registry's persons matching params.
func (c *Client) Search(ctx context.Context, params SearchParams) ([]entity.Person, error) {
	q := url.Values{}
	if params.Identifier.Value != "" {
		q.Set("identifier", params.Identifier.System+"|"+params.Identifier.Value)
	}
	if params.BirthDate != "" {
		q.Set("birthdate", params.BirthDate)
	}

	var persons []entity.Person
	if err := c.do(ctx, "search", http.MethodGet, personsPath, q, nil, &persons); err != nil {
		return nil, err
	}
	return persons, nil
}

// Submit creates or updates person and returns the registry id. A person with
// an id is updated in place; one without is created. Both are idempotent
// from the registry's point of view because identity is resolved first.
func (c *Client) Submit(ctx context.Context, person *entity.Person) (string, error) {
	if person == nil {
		return "", errors.New("person is required")
	}
	method, path := http.MethodPost, personsPath
	if person.ID != "" {
		method, path = http.MethodPut, personsPath+"/"+url.PathEscape(person.ID)
	}

	var stored entity.Person
	if err := c.do(ctx, "submit", method, path, nil, person, &stored); err != nil {
		return "", err
	}
	if stored.ID == "" {
		stored.ID = person.ID
	}
	if stored.ID == "" {
		return "", newError(CategoryBadData, "submit", 0, "registry returned no id", nil)
	}
	return stored.ID, nil
}

// Health checks registry reachability. It bypasses the breaker so the status
// surface can report a recovering registry.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, healthPath, nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport("health", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return newError(categoryForStatus(resp.StatusCode), "health", resp.StatusCode, "", nil)
	}
	return nil
}

// BreakerState reports the circuit state.
func (c *Client) BreakerState() circuit.State {
	return c.breaker.State()
}

// BreakerHealth fails while the breaker is open, so /healthz shows that
// registry calls are being short-circuited even when Health succeeds.
func (c *Client) BreakerHealth(context.Context) error {
	if c.BreakerState() == circuit.StateOpen {
		return newError(CategoryOutage, "breaker", 0, "circuit open", sentinel.ErrUnavailable)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if !c.breaker.Allow() {
		c.observe(op, "rejected", 0)
		return newError(CategoryOutage, op, 0, "circuit open", sentinel.ErrUnavailable)
	}

	start := time.Now()
	err := c.roundTrip(ctx, op, method, path, query, body, out)
	elapsed := time.Since(start)

	if err != nil && IsRetryable(err) {
		_, change := c.breaker.RecordFailure()
		if change.Opened {
			c.logger.WarnContext(ctx, "registry circuit opened", "operation", op)
			if c.metrics != nil {
				c.metrics.SetBreakerOpen(true)
			}
		}
	} else {
		_, change := c.breaker.RecordSuccess()
		if change.Closed {
			c.logger.InfoContext(ctx, "registry circuit closed", "operation", op)
			if c.metrics != nil {
				c.metrics.SetBreakerOpen(false)
			}
		}
	}

	outcome := "success"
	if err != nil {
		outcome = string(CategoryOf(err))
	}
	c.observe(op, outcome, elapsed)
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
		c.tokens.Invalidate()
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return newError(categoryForStatus(resp.StatusCode), op, resp.StatusCode, strings.TrimSpace(string(msg)), nil)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return newError(CategoryBadData, op, resp.StatusCode, "decode response", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode registry request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, newError(CategoryAuthentication, "token", 0, "", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) observe(op, outcome string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.ObserveRequest(op, outcome, d)
	}
}

func classifyTransport(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return newError(CategoryTimeout, op, 0, "", err)
	}
	if errors.Is(err, context.Canceled) {
		return newError(CategoryInternal, op, 0, "request cancelled", err)
	}
	return newError(CategoryOutage, op, 0, "", err)
}
