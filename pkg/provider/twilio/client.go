// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/telekom/voice-escalation/pkg/escalation"
	"github.com/telekom/voice-escalation/pkg/metrics"
	"github.com/telekom/voice-escalation/pkg/version"
)

const (
	// DefaultBaseURL is the public Twilio API endpoint.
	DefaultBaseURL = "https://api.twilio.com"
	providerName   = "twilio"
)

// statusCallbackEvents are the call progress events Twilio reports to the
// status callback.
var statusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// ErrCircuitOpen is returned while the breaker rejects calls after repeated
// provider failures.
var ErrCircuitOpen = errors.New("twilio circuit breaker is open")

// Config holds the Twilio account settings.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	// RequestTimeout bounds a single REST call.
	RequestTimeout time.Duration
	// BreakerFailures is the number of consecutive failures that opens the
	// circuit. BreakerCooldown is how long it stays open.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// APIError is the error document returned by the Twilio API.
type APIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio error %d (http %d): %s", e.Code, e.Status, e.Message)
}

// rejection marks client errors: the request itself was refused, the provider
// is healthy.
type rejection struct{ err error }

func (r *rejection) Error() string { return r.err.Error() }
func (r *rejection) Unwrap() error { return r.err }

type callResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// Client implements escalation.CallProvider.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	cfg     Config
	log     *zap.SugaredLogger
}

// NewClient creates a Twilio client. AccountSID and AuthToken are required.
func NewClient(cfg Config, log *zap.SugaredLogger) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio account sid and auth token are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	log = log.Named("twilio")

	c := &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
			SetTimeout(cfg.RequestTimeout).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", version.UserAgent("escalator")),
		cfg: cfg,
		log: log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        providerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			var r *rejection
			return err == nil || errors.As(err, &r)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.ProviderCircuitState.WithLabelValues(providerName).Set(float64(to))
		},
	})
	metrics.ProviderCircuitState.WithLabelValues(providerName).Set(float64(gobreaker.StateClosed))
	return c, nil
}

// PlaceCall creates an outbound call and returns the Twilio call SID.
func (c *Client) PlaceCall(ctx context.Context, req escalation.CallRequest) (string, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", req.InstructionsURL)
	form.Set("StatusCallback", req.StatusCallbackURL)
	form.Set("StatusCallbackMethod", http.MethodPost)
	for _, ev := range statusCallbackEvents {
		form.Add("StatusCallbackEvent", ev)
	}
	if req.TimeoutSeconds > 0 {
		form.Set("Timeout", fmt.Sprint(req.TimeoutSeconds))
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.createCall(ctx, form)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.ProviderRequests.WithLabelValues(providerName, "circuit_open").Inc()
			return "", fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		var r *rejection
		if errors.As(err, &r) {
			metrics.ProviderRequests.WithLabelValues(providerName, "rejected").Inc()
			return "", r.err
		}
		metrics.ProviderRequests.WithLabelValues(providerName, "error").Inc()
		return "", err
	}
	call := out.(*callResource)
	metrics.ProviderRequests.WithLabelValues(providerName, "success").Inc()
	c.log.Debugw("Call created", "sid", call.SID, "status", call.Status, "to", req.To)
	return call.SID, nil
}

func (c *Client) createCall(ctx context.Context, form url.Values) (*callResource, error) {
	var (
		result callResource
		apiErr APIError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("sid", c.cfg.AccountSID).
		SetFormDataFromValues(form).
		SetResult(&result).
		SetError(&apiErr).
		Post("/2010-04-01/Accounts/{sid}/Calls.json")
	if err != nil {
		return nil, fmt.Errorf("creating twilio call: %w", err)
	}
	if resp.IsError() {
		if apiErr.Status == 0 {
			apiErr.Status = resp.StatusCode()
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		if resp.StatusCode() >= 400 && resp.StatusCode() < 500 && resp.StatusCode() != http.StatusTooManyRequests {
			return nil, &rejection{err: &apiErr}
		}
		return nil, &apiErr
	}
	if result.SID == "" {
		return nil, fmt.Errorf("twilio response without call sid (http %d)", resp.StatusCode())
	}
	return &result, nil
}

var _ escalation.CallProvider = (*Client)(nil)
