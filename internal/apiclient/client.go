package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// GuestHeader carries a locally cached guest id when no cookie identifies the caller
const GuestHeader = "X-Guest-User-Id"

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "console_api_requests_total",
	Help: "Remote API calls made by the console by operation and outcome.",
}, []string{"op", "outcome"})

// Client talks to the annotation REST API. Cookies are kept in a jar so
// session cookies behave like a browser's credentialed requests.
type Client struct {
	baseURL       *url.URL
	httpClient    *http.Client
	sessionCookie string
	logger        *zap.Logger

	mu      sync.RWMutex
	guestID string
}

// Options tune a Client
type Options struct {
	Timeout       time.Duration
	SessionCookie string
}

// NewClient creates a new API client
func NewClient(baseURL string, opts Options, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url must be absolute: %q", baseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.SessionCookie == "" {
		opts.SessionCookie = "session"
	}

	return &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Jar:     jar,
		},
		sessionCookie: opts.SessionCookie,
		logger:        logger,
	}, nil
}

// BaseURL returns the API root
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// SetGuestID makes every later call present id in the guest header. An
// empty id stops sending the header.
func (c *Client) SetGuestID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guestID = id
}

// GuestID returns the id sent in the guest header
func (c *Client) GuestID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.guestID
}

// SessionToken returns the session cookie currently held in the jar
func (c *Client) SessionToken() string {
	for _, ck := range c.httpClient.Jar.Cookies(c.baseURL) {
		if ck.Name == c.sessionCookie {
			return ck.Value
		}
	}
	return ""
}

// RestoreSession puts a previously saved session cookie back into the jar
func (c *Client) RestoreSession(token string) {
	if token == "" {
		return
	}
	c.httpClient.Jar.SetCookies(c.baseURL, []*http.Cookie{{
		Name:  c.sessionCookie,
		Value: token,
		Path:  "/",
	}})
}

// ClearSession drops the session cookie from the jar
func (c *Client) ClearSession() {
	c.httpClient.Jar.SetCookies(c.baseURL, []*http.Cookie{{
		Name:   c.sessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}})
}

type call struct {
	op       string
	method   string
	path     string
	body     interface{}
	guestID  string // overrides the client guest id when set
	expect   []int
	out      interface{}
	noDecode bool
}

func (c *Client) newRequest(ctx context.Context, cl call) (*http.Request, error) {
	var body io.Reader
	if cl.body != nil {
		jsonData, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL.String()+cl.path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	guestID := cl.guestID
	if guestID == "" {
		guestID = c.GuestID()
	}
	if guestID != "" {
		req.Header.Set(GuestHeader, guestID)
	}
	return req, nil
}

// send performs the call and returns the open response on an expected status
func (c *Client) send(ctx context.Context, cl call) (*http.Response, error) {
	req, err := c.newRequest(ctx, cl)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(cl.op, "transport_error").Inc()
		c.logger.Warn("API request failed",
			zap.String("op", cl.op),
			zap.String("path", cl.path),
			zap.Error(err))
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	expect := cl.expect
	if len(expect) == 0 {
		expect = []int{http.StatusOK}
	}
	for _, code := range expect {
		if resp.StatusCode == code {
			requestsTotal.WithLabelValues(cl.op, "ok").Inc()
			return resp, nil
		}
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	requestsTotal.WithLabelValues(cl.op, "status_error").Inc()

	se := newStatusError(resp.StatusCode, body)
	c.logger.Debug("API returned error status",
		zap.String("op", cl.op),
		zap.String("path", cl.path),
		zap.Int("status", resp.StatusCode),
		zap.String("detail", se.Detail))
	return nil, se
}

func (c *Client) do(ctx context.Context, cl call) error {
	resp, err := c.send(ctx, cl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if cl.out == nil || cl.noDecode || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Ping checks if the API is available
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, call{op: "health", method: http.MethodGet, path: "/health"})
}
