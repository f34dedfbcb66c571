// Package api talks to the remote waitlist API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/comitanigiacomo/walme-bot/internal/core/delay"
	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
)

const (
	// RequestTimeout bounds every single HTTP request.
	RequestTimeout = 30 * time.Second

	profilePath = "/user/profile"
	tasksPath   = "/waitlist/tasks"

	maxErrorBody = 4 << 10

	// MaxBackoff bounds the wait between two attempts.
	MaxBackoff         = 10 * time.Minute
	maxBackoffExponent = 10
)

type Client struct {
	baseURL     string
	logger      zerolog.Logger
	sleeper     delay.Sleeper
	maxAttempts atomic.Int32
	transport   http.RoundTripper

	mu      sync.Mutex
	clients map[string]*http.Client
}

type Option func(*Client)

// WithTransport replaces the base transport. Proxies are not applied to a custom transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

func WithSleeper(s delay.Sleeper) Option {
	return func(c *Client) { c.sleeper = s }
}

func NewClient(baseURL string, maxAttempts int, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		sleeper: delay.ContextSleeper{},
		clients: make(map[string]*http.Client),
	}
	c.SetMaxAttempts(maxAttempts)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetMaxAttempts changes the attempt budget of subsequent calls. Values below 1 mean one attempt.
func (c *Client) SetMaxAttempts(n int) {
	if n < 1 {
		n = 1
	}
	c.maxAttempts.Store(int32(n))
}

func (c *Client) MaxAttempts() int {
	return int(c.maxAttempts.Load())
}

func (c *Client) FetchProfile(ctx context.Context, token, proxy string) (*domain.Profile, error) {
	body, err := c.do(ctx, "fetch profile", http.MethodGet, c.baseURL+profilePath, token, proxy)
	if err != nil {
		return nil, err
	}

	profile := &domain.Profile{
		Email:    firstString(body, "email", "data.email"),
		Nickname: firstString(body, "nickname", "data.nickname"),
	}
	if profile.Email == "" {
		profile.Email = "unknown"
	}
	if profile.Nickname == "" {
		profile.Nickname = "unknown"
	}

	c.logger.Info().Str("email", profile.Email).Str("nickname", profile.Nickname).Msg("Profile fetched")
	return profile, nil
}

func (c *Client) FetchTasks(ctx context.Context, token, proxy string) ([]domain.Task, error) {
	body, err := c.do(ctx, "fetch tasks", http.MethodGet, c.baseURL+tasksPath, token, proxy)
	if err != nil {
		return nil, err
	}

	var tasks []domain.Task
	if err := json.Unmarshal(body, &tasks); err != nil {
		return nil, fmt.Errorf("%w: decode tasks: %v", domain.ErrInvalidTask, err)
	}
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func (c *Client) CompleteTask(ctx context.Context, id, token, proxy string) (*domain.Task, error) {
	endpoint := c.baseURL + tasksPath + "/" + url.PathEscape(id)
	op := fmt.Sprintf("complete task %s", id)

	body, err := c.do(ctx, op, http.MethodPatch, endpoint, token, proxy)
	if err != nil {
		return nil, err
	}

	task := &domain.Task{ID: domain.TaskID(id)}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, task); err != nil {
			c.logger.Debug().Err(err).Str("task_id", id).Msg("Completion response is not a task object")
		}
	}
	if task.ID == "" {
		task.ID = domain.TaskID(id)
	}

	c.logger.Info().Str("task_id", id).Str("title", task.DisplayTitle()).Msg("Task completed")
	return task, nil
}

// do runs one request with the retry policy: transport failures are retried
// with 2^attempt seconds of backoff; any non-2xx answer fails immediately.
func (c *Client) do(ctx context.Context, op, method, endpoint, token, proxy string) ([]byte, error) {
	client, err := c.httpClient(proxy)
	if err != nil {
		return nil, err
	}

	attempts := c.MaxAttempts()
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		body, status, err := c.once(ctx, client, method, endpoint, token)
		if err == nil {
			if status >= 200 && status < 300 {
				return body, nil
			}
			apiErr := &domain.APIError{Operation: op, StatusCode: status, Body: string(body)}
			c.logger.Error().Int("status", status).Str("body", apiErr.Body).Msgf("Failed to %s", op)
			return nil, apiErr
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if attempt < attempts-1 {
			wait := Backoff(attempt)
			c.logger.Warn().Err(err).
				Dur("retry_in", wait).
				Msgf("Retrying %s (%d/%d)", op, attempt+1, attempts)
			if err := c.sleeper.Sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}

	c.logger.Error().Err(lastErr).Msgf("Failed to %s after %d attempts", op, attempts)
	return nil, fmt.Errorf("%s: %w after %d attempts: %v", op, domain.ErrRetriesExhausted, attempts, lastErr)
}

func (c *Client) once(ctx context.Context, client *http.Client, method, endpoint, token string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPatch {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	limit := int64(10 << 20)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		limit = maxErrorBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) httpClient(proxy string) (*http.Client, error) {
	key := ""
	var proxyURL *url.URL
	if proxy != "" && c.transport == nil {
		u, err := NormalizeProxy(proxy)
		if err != nil {
			return nil, err
		}
		proxyURL = u
		key = u.String()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.clients[key]; ok {
		return hc, nil
	}

	var rt http.RoundTripper
	if c.transport != nil {
		rt = c.transport
	} else {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if proxyURL != nil {
			tr.Proxy = http.ProxyURL(proxyURL)
		}
		rt = tr
	}

	hc := &http.Client{Transport: rt, Timeout: RequestTimeout}
	c.clients[key] = hc
	return hc, nil
}

// NormalizeProxy adds the http scheme when the proxy string has none.
func NormalizeProxy(proxy string) (*url.URL, error) {
	proxy = strings.TrimSpace(proxy)
	if !strings.HasPrefix(proxy, "http://") && !strings.HasPrefix(proxy, "https://") &&
		!strings.HasPrefix(proxy, "socks5://") {
		proxy = "http://" + proxy
	}

	u, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", proxy, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy %q: missing host", proxy)
	}
	return u, nil
}

// Backoff is 2^attempt seconds, attempt counted from 0, capped at MaxBackoff.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= maxBackoffExponent {
		return MaxBackoff
	}
	return min(time.Duration(math.Pow(2, float64(attempt)))*time.Second, MaxBackoff)
}

func firstString(body []byte, paths ...string) string {
	for _, p := range paths {
		if r := gjson.GetBytes(body, p); r.Exists() && r.String() != "" {
			return r.String()
		}
	}
	return ""
}
