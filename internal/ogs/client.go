package ogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

var ErrUnauthorized = errors.New("ogs: unauthorized")

// Client talks to the OGS REST API.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int

	authM   sync.RWMutex
	apiKey  string
	cookies map[string]string
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

// WithDial swaps the dialer, used by tests to route through an in-memory listener.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
		cookies:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) APIKey() string {
	c.authM.RLock()
	defer c.authM.RUnlock()
	return c.apiKey
}

func (c *Client) setAPIKey(key string) {
	c.authM.Lock()
	c.apiKey = key
	c.authM.Unlock()
}

// Login signs in with a username and password and keeps the session cookies
// for later calls.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	err := c.do(ctx, fasthttp.MethodPost, "/api/v0/login", body, nil, false, c.storeCookies)
	if err != nil {
		return fmt.Errorf("login %s: %w", username, err)
	}
	return nil
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, fasthttp.MethodGet, "/api/v1/me", nil, &u, true, nil); err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}
	return &u, nil
}

// BotAPIKey fetches the realtime API key of the logged-in bot account and
// uses it for later requests. An empty key is not an error.
func (c *Client) BotAPIKey(ctx context.Context) (string, error) {
	var resp struct {
		APIKey string `json:"apikey"`
	}
	if err := c.do(ctx, fasthttp.MethodGet, "/api/v1/ui/bot", nil, &resp, true, nil); err != nil {
		return "", fmt.Errorf("get bot api key: %w", err)
	}
	key := strings.TrimSpace(resp.APIKey)
	if key != "" {
		c.setAPIKey(key)
	}
	return key, nil
}

// CreateChallenge posts an open challenge and returns its id. Not retried:
// a replayed POST would open a second challenge.
func (c *Client) CreateChallenge(ctx context.Context, req ChallengeRequest) (int64, error) {
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, fasthttp.MethodPost, "/api/v1/challenges", req, &resp, false, nil); err != nil {
		return 0, fmt.Errorf("create challenge: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) storeCookies(resp *fasthttp.Response) {
	c.authM.Lock()
	defer c.authM.Unlock()
	resp.Header.VisitAllCookie(func(_, value []byte) {
		ck := fasthttp.AcquireCookie()
		defer fasthttp.ReleaseCookie(ck)
		if err := ck.ParseBytes(value); err != nil {
			return
		}
		c.cookies[string(ck.Key())] = string(ck.Value())
	})
}

func (c *Client) applyAuth(req *fasthttp.Request) {
	c.authM.RLock()
	defer c.authM.RUnlock()
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.cookies {
		req.Header.SetCookie(k, v)
	}
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any, retry bool, inspect func(*fasthttp.Response)) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req)

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			if attempt == attempts {
				return fmt.Errorf("request failed: %w", err)
			}
			lastErr = err
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden {
			return fmt.Errorf("%w: %s %s status=%d", ErrUnauthorized, method, path, status)
		}
		if status < 200 || status >= 300 {
			err := fmt.Errorf("ogs api error: %s %s status=%d body=%s", method, path, status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return err
			}
			lastErr = err
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if inspect != nil {
			inspect(resp)
		}
		if out != nil && len(resp.Body()) > 0 {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
