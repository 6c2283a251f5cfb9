package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/abaquiz/backend/internal/logging"
)

// DefaultLadder is the extended backoff entered once a provider's own
// retries give up on a rate limit.
var DefaultLadder = []time.Duration{60 * time.Second, 300 * time.Second, 600 * time.Second}

const (
	DefaultTimeout      = 30 * time.Minute
	contentFilterDelay  = 2 * time.Second
	maxJitterFraction   = 0.10
	defaultOutputTokens = 8192
)

// Client wraps a Provider with the extended backoff ladder, content filter
// retry, JSON decoding and token accounting.
type Client struct {
	provider Provider
	logger   *logging.Logger
	metrics  *Metrics
	limiter  *rate.Limiter
	ladder   []time.Duration
	timeout  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func(d time.Duration) time.Duration

	task  usageCounter
	total usageCounter
}

type Option func(*Client)

// WithLadder replaces the extended backoff ladder.
func WithLadder(ladder []time.Duration) Option {
	return func(c *Client) { c.ladder = ladder }
}

// WithSleep replaces the context-aware sleep used between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithJitter replaces the jitter function; it returns the extra delay to add.
func WithJitter(jitter func(d time.Duration) time.Duration) Option {
	return func(c *Client) { c.jitter = jitter }
}

// WithTimeout sets the outer per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRequestsPerMinute paces outbound calls. Zero disables pacing.
func WithRequestsPerMinute(rpm int) Option {
	return func(c *Client) {
		if rpm > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(provider Provider, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		logger:   logging.NewNop(),
		metrics:  NewMetrics(),
		ladder:   DefaultLadder,
		timeout:  DefaultTimeout,
		sleep:    sleepContext,
		jitter:   randomJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Complete sends req and returns the decoded JSON value.
//
// Rate limits that outlive the provider's retries walk the extended ladder
// once per rung, then fail with ErrPersistentRateLimit. A content filter is
// retried once after two seconds, then reported as ErrSchemaViolation.
// Any other error is returned as is.
func (c *Client) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.MaxOutputTokens <= 0 {
		req.MaxOutputTokens = defaultOutputTokens
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.completeWithBackoff(ctx, req)
	if errors.Is(err, ErrContentFilter) {
		c.logger.Warn(ctx, "content filter triggered, retrying once",
			zap.String("model", req.Model), zap.Error(err))
		if serr := c.sleep(ctx, contentFilterDelay); serr != nil {
			return nil, serr
		}
		resp, err = c.completeWithBackoff(ctx, req)
		if errors.Is(err, ErrContentFilter) {
			return nil, fmt.Errorf("%w: %w", ErrSchemaViolation, err)
		}
	}
	if err != nil {
		c.metrics.Calls.WithLabelValues(c.provider.Name(), outcome(err)).Inc()
		return nil, err
	}

	c.record(resp)
	c.metrics.Calls.WithLabelValues(c.provider.Name(), "ok").Inc()

	raw, err := DecodeJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if err := checkRequired(raw, req.Schema); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return raw, nil
}

func (c *Client) completeWithBackoff(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.call(ctx, req)
	if err == nil || !errors.Is(err, ErrRateLimit) {
		return resp, err
	}

	for i, base := range c.ladder {
		wait := base + c.jitter(base)
		c.logger.Warn(ctx, "rate limit persisted, entering extended backoff",
			zap.Int("rung", i+1),
			zap.Int("rungs", len(c.ladder)),
			zap.Duration("wait", wait),
			zap.Error(err))
		c.metrics.ExtendedBackoff.WithLabelValues(strconv.Itoa(i + 1)).Inc()

		if serr := c.sleep(ctx, wait); serr != nil {
			return nil, serr
		}

		resp, err = c.call(ctx, req)
		if err == nil {
			c.logger.Info(ctx, "recovered from rate limit", zap.Int("rung", i+1))
			return resp, nil
		}
		if !errors.Is(err, ErrRateLimit) {
			return nil, err
		}
	}

	c.logger.Error(ctx, "rate limit persisted through extended backoff", zap.Error(err))
	return nil, fmt.Errorf("%w after %d extended attempts: %v", ErrPersistentRateLimit, len(c.ladder), err)
}

func (c *Client) call(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return c.provider.Complete(ctx, req)
}

func (c *Client) record(resp *Response) {
	c.task.add(resp.InputTokens, resp.OutputTokens)
	c.total.add(resp.InputTokens, resp.OutputTokens)
	c.metrics.Tokens.WithLabelValues(c.provider.Name(), "input").Add(float64(resp.InputTokens))
	c.metrics.Tokens.WithLabelValues(c.provider.Name(), "output").Add(float64(resp.OutputTokens))
}

// TaskUsage returns the counters since the last ResetTaskUsage.
func (c *Client) TaskUsage() Usage {
	return c.task.snapshot()
}

// TotalUsage returns the process-lifetime counters.
func (c *Client) TotalUsage() Usage {
	return c.total.snapshot()
}

func (c *Client) ResetTaskUsage() {
	c.task.reset()
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrPersistentRateLimit):
		return "persistent_rate_limit"
	case errors.Is(err, ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, ErrRateLimit):
		return "rate_limit"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomJitter(d time.Duration) time.Duration {
	return time.Duration(rand.Float64() * maxJitterFraction * float64(d))
}

// ── JSON Handling ───────────────────────────────────────

// DecodeJSON extracts a JSON value from model output. It strips markdown
// code fences and falls back to the outermost {...} span.
func DecodeJSON(text string) (json.RawMessage, error) {
	cleaned := stripCodeFences(text)
	if cleaned == "" {
		return nil, errors.New("empty response")
	}
	if json.Valid([]byte(cleaned)) {
		return json.RawMessage(cleaned), nil
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		candidate := cleaned[start : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	preview := cleaned
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return nil, fmt.Errorf("response is not valid JSON: %s", preview)
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// checkRequired verifies the top-level "required" keys of an object schema.
// Deeper validation belongs to the caller.
func checkRequired(raw, schema json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	var s struct {
		Type     string   `json:"type"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	if s.Type != "object" {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("expected a JSON object: %w", err)
	}
	for _, key := range s.Required {
		if _, ok := obj[key]; !ok {
			return fmt.Errorf("missing required field %q", key)
		}
	}
	return nil
}
