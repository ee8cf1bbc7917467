// Package rasp ingests attack events from an OpenRASP management server.
package rasp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ahrav/scan-orchestrator/internal/domain/scanning"
	"github.com/ahrav/scan-orchestrator/pkg/common"
)

// Config holds the management server address, credentials and paging limits.
type Config struct {
	BaseURL string
	// Token is a pre-provisioned API token. It takes precedence over
	// Username and Password.
	Token    string
	Username string
	Password string

	PageSize int
	MaxPages int
	// RequestsPerSecond paces page requests. Zero disables pacing.
	RequestsPerSecond float64
	Timeout           time.Duration
	StatusTimeout     time.Duration
	StatusPath        string
}

// DefaultConfig returns the settings used when none are supplied.
func DefaultConfig() Config {
	return Config{
		PageSize:      100,
		MaxPages:      10,
		Timeout:       30 * time.Second,
		StatusTimeout: 5 * time.Second,
		StatusPath:    "/status",
	}
}

const (
	searchPath  = "/v1/api/log/attack/search"
	loginPath   = "/v1/user/login"
	tokenHeader = "X-OpenRASP-Token"
)

var (
	errUnreachable = errors.New("rasp service unreachable")
	errAuth        = errors.New("rasp authentication failed")
	errEmptyBody   = errors.New("rasp service returned an empty body")
)

// statusError is returned for responses other than 200 OK.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("rasp service returned HTTP %d: %s", e.code, e.body)
}

// Client talks to the OpenRASP management API.
type Client struct {
	baseURL string
	http    *http.Client
	auth    authenticator
	limiter *common.RateLimiter
	cfg     Config
}

// NewClient creates a Client. The authentication strategy is chosen from the
// credentials present in cfg.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		limiter: common.NewRateLimiter(cfg.RequestsPerSecond, 1),
		cfg:     cfg,
	}

	switch {
	case cfg.Token != "":
		c.auth = tokenAuth{token: cfg.Token}
	case cfg.Username != "":
		c.auth = &loginAuth{client: c, username: cfg.Username, password: cfg.Password}
	default:
		c.auth = noAuth{}
	}
	return c
}

// searchRequest is the body of an attack log search.
type searchRequest struct {
	Data    searchFilter `json:"data"`
	Page    int          `json:"page"`
	PerPage int          `json:"perpage"`
}

type searchFilter struct {
	AppID     string `json:"app_id,omitempty"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
}

// search fetches one page of attack events and returns the raw response body.
func (c *Client) search(ctx context.Context, filter searchFilter, page int) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(searchRequest{Data: filter, Page: page, PerPage: c.cfg.PageSize})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	return c.do(ctx, http.MethodPost, searchPath, body, true)
}

// do sends an authenticated request. A 401 from a refreshable strategy is
// retried once after re-authenticating.
func (c *Client) do(ctx context.Context, method, path string, body []byte, retry bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.auth.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", errUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized && retry && c.auth.invalidate():
		return c.do(ctx, method, path, body, false)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d", errAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, &statusError{code: resp.StatusCode, body: excerpt(data)}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

// Configured reports whether a management server address was supplied.
func (c *Client) Configured() bool { return c.baseURL != "" }

// Status checks the management server. It never fails; problems are
// described in the report.
func (c *Client) Status(ctx context.Context) scanning.RASPStatus {
	if !c.Configured() {
		return scanning.RASPStatus{Status: scanning.RASPDisconnected, Message: "no rasp server configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.StatusTimeout)
	defer cancel()

	data, err := c.do(ctx, http.MethodGet, c.cfg.StatusPath, nil, true)
	var se *statusError
	switch {
	case err == nil:
		var payload any
		if json.Unmarshal(data, &payload) != nil {
			payload = excerpt(data)
		}
		return scanning.RASPStatus{Status: scanning.RASPConnected, Data: payload}
	case errors.As(err, &se):
		return scanning.RASPStatus{Status: scanning.RASPError, Message: fmt.Sprintf("HTTP %d", se.code)}
	case errors.Is(err, errAuth):
		return scanning.RASPStatus{Status: scanning.RASPError, Message: err.Error()}
	case errors.Is(err, errEmptyBody):
		return scanning.RASPStatus{Status: scanning.RASPConnected}
	default:
		return scanning.RASPStatus{Status: scanning.RASPDisconnected, Message: err.Error()}
	}
}

func excerpt(b []byte) string {
	const limit = 500
	if len(b) > limit {
		return string(b[:limit])
	}
	return string(b)
}
