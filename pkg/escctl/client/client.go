package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/telekom/voice-escalation/pkg/alerts"
	"github.com/telekom/voice-escalation/pkg/apiresponses"
	"github.com/telekom/voice-escalation/pkg/calls"
	"github.com/telekom/voice-escalation/pkg/version"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	http *resty.Client
}

type settings struct {
	server    *url.URL
	timeout   time.Duration
	userAgent string
	tls       *tls.Config
	logf      func(format string, args ...any)
}

type Option func(*settings) error

func New(opts ...Option) (*Client, error) {
	s := &settings{timeout: defaultTimeout, userAgent: version.UserAgent("escctl")}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.server == nil {
		return nil, errors.New("server is required")
	}

	rc := resty.New().
		SetBaseURL(strings.TrimSuffix(s.server.String(), "/")).
		SetTimeout(s.timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", s.userAgent)
	if s.tls != nil {
		rc.SetTLSClientConfig(s.tls)
	}
	if s.logf != nil {
		logf := s.logf
		rc.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			logf("%s %s", r.Method, r.URL)
			return nil
		})
		rc.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
			logf("%s %s -> %d in %s", r.Request.Method, r.Request.URL, r.StatusCode(), r.Time())
			return nil
		})
	}
	return &Client{http: rc}, nil
}

func WithServer(server string) Option {
	return func(s *settings) error {
		if server == "" {
			return errors.New("server is required")
		}
		parsed, err := url.Parse(server)
		if err != nil {
			return fmt.Errorf("invalid server: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("invalid server %q: scheme must be http or https", server)
		}
		s.server = parsed
		return nil
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(s *settings) error {
		if timeout > 0 {
			s.timeout = timeout
		}
		return nil
	}
}

func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(s *settings) error {
		tlsConfig, err := loadTLSConfig(caFile, insecureSkipTLSVerify)
		if err != nil {
			return err
		}
		s.tls = tlsConfig
		return nil
	}
}

// WithVerbose logs every request and response through logf.
func WithVerbose(logf func(format string, args ...any)) Option {
	return func(s *settings) error {
		s.logf = logf
		return nil
	}
}

func loadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure} //nolint:gosec // opt-in via flag
	if caFile == "" {
		return tlsConfig, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// CallFilter narrows ListCalls.
type CallFilter struct {
	AlertID string
	Limit   int
	Offset  int
}

// TriggerAlert queues a manual alert.
func (c *Client) TriggerAlert(ctx context.Context, req alerts.TriggerRequest) (*alerts.TriggerResponse, error) {
	var out alerts.TriggerResponse
	if err := c.do(ctx, http.MethodPost, "/api/alerts", req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAlert returns an alert with its call attempts.
func (c *Client) GetAlert(ctx context.Context, id string) (*alerts.AlertResponse, error) {
	var out alerts.AlertResponse
	if err := c.do(ctx, http.MethodGet, "/api/alerts/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCalls returns recorded call attempts, newest first.
func (c *Client) ListCalls(ctx context.Context, f CallFilter) (*calls.ListResponse, error) {
	query := map[string]string{}
	if f.AlertID != "" {
		query["alert_id"] = f.AlertID
	}
	if f.Limit > 0 {
		query["limit"] = strconv.Itoa(f.Limit)
	}
	if f.Offset > 0 {
		query["offset"] = strconv.Itoa(f.Offset)
	}
	var out calls.ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/calls", nil, query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ServerVersion returns the build info of the server.
func (c *Client) ServerVersion(ctx context.Context) (*version.BuildInfo, error) {
	var out version.BuildInfo
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, query map[string]string, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetError(&apiresponses.APIError{})
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return decodeError(resp)
	}
	return nil
}

func decodeError(resp *resty.Response) error {
	msg := ""
	if apiErr, ok := resp.Error().(*apiresponses.APIError); ok && apiErr != nil {
		msg = strings.TrimSpace(apiErr.Error)
	}
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	if msg == "" {
		msg = resp.Status()
	}
	return &HTTPError{StatusCode: resp.StatusCode(), Message: msg}
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}
