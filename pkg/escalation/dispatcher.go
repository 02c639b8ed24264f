// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/voice-escalation/pkg/metrics"
	"github.com/telekom/voice-escalation/pkg/utils"
)

// DispatcherConfig holds the call parameters shared by every attempt.
type DispatcherConfig struct {
	// CallerID is the provider number calls are placed from.
	CallerID string
	// CallbackBaseURL is the public base URL of this service; instruction and
	// status URLs are derived from it.
	CallbackBaseURL string
	// RingTimeout is how long the provider lets a call ring before giving up.
	RingTimeout time.Duration
}

// CallDispatcher records and places a single call attempt.
type CallDispatcher struct {
	provider CallProvider
	store    CallRecordStore
	cfg      DispatcherConfig
	log      *zap.SugaredLogger
	retry    utils.RetryConfig

	newID func() string
	now   func() time.Time
}

// NewCallDispatcher creates a dispatcher placing calls through provider.
func NewCallDispatcher(provider CallProvider, store CallRecordStore, cfg DispatcherConfig, log *zap.SugaredLogger) *CallDispatcher {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 30 * time.Second
	}
	return &CallDispatcher{
		provider: provider,
		store:    store,
		cfg:      cfg,
		log:      log.Named("dispatcher"),
		retry:    utils.DefaultRetryConfig(),
		newID:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

// InstructionsURL returns the URL the provider fetches call instructions from.
func InstructionsURL(baseURL, attemptID string) (string, error) {
	return url.JoinPath(baseURL, "api", "calls", "twiml", attemptID)
}

// StatusCallbackURL returns the URL the provider posts status changes to.
func StatusCallbackURL(baseURL, attemptID string) (string, error) {
	return url.JoinPath(baseURL, "api", "calls", "status", attemptID)
}

// GatherCallbackURL returns the URL the provider posts keypad input to.
func GatherCallbackURL(baseURL, attemptID string) (string, error) {
	return url.JoinPath(baseURL, "api", "calls", "gather", attemptID)
}

// Dispatch persists a new attempt in state initiated and then asks the
// provider to place the call. The returned attempt is never nil. A provider
// rejection marks the attempt failed and yields a *DispatchError; a failure to
// record the attempt yields a *PersistenceError.
func (d *CallDispatcher) Dispatch(ctx context.Context, alert Alert, contact Contact, loop, attemptNumber int, message string) (*CallAttempt, error) {
	now := d.now().UTC()
	attempt := &CallAttempt{
		ID:            d.newID(),
		AlertID:       alert.ID,
		ContactID:     contact.ID,
		ContactName:   contact.Name,
		Phone:         contact.Phone,
		Status:        StatusInitiated,
		LoopNumber:    loop,
		AttemptNumber: attemptNumber,
		Message:       message,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	log := d.log.With("alertID", alert.ID, "attemptID", attempt.ID, "contact", contact.Name,
		"loop", loop, "attempt", attemptNumber)

	if err := d.store.CreateAttempt(ctx, attempt); err != nil {
		log.Errorw("Failed to record call attempt, skipping contact", "error", err)
		metrics.CallsDispatched.WithLabelValues("store_error").Inc()
		attempt.Status = StatusFailed
		attempt.ErrorMessage = err.Error()
		return attempt, &PersistenceError{Op: "recording call attempt", AttemptID: attempt.ID, Err: err}
	}

	req, err := d.buildRequest(contact, attempt.ID)
	if err == nil {
		log.Infow("Placing call", "phone", contact.Phone)
		attempt.ProviderCallID, err = d.provider.PlaceCall(ctx, req)
	}
	if err != nil {
		d.markFailed(ctx, log, attempt, err)
		metrics.CallsDispatched.WithLabelValues("rejected").Inc()
		return attempt, &DispatchError{AttemptID: attempt.ID, Phone: contact.Phone, Err: err}
	}

	if err := d.store.SetProviderCallID(ctx, attempt.ID, attempt.ProviderCallID); err != nil {
		// The call is already ringing and webhooks are keyed by attempt id,
		// so a missing provider reference is not fatal.
		log.Warnw("Failed to store provider call id", "providerCallID", attempt.ProviderCallID, "error", err)
	}
	_, changed, err := updateState(ctx, d.store, d.retry, attempt.ID, func(cur AttemptState) (AttemptState, bool) {
		if cur.Status != StatusInitiated || cur.Confirmed {
			return cur, false
		}
		cur.Status = StatusQueued
		return cur, true
	})
	if err != nil {
		log.Warnw("Failed to mark call attempt queued", "error", err)
	}
	if changed {
		attempt.Status = StatusQueued
	}
	metrics.CallsDispatched.WithLabelValues("queued").Inc()
	log.Infow("Call queued", "providerCallID", attempt.ProviderCallID)
	return attempt, nil
}

func (d *CallDispatcher) buildRequest(contact Contact, attemptID string) (CallRequest, error) {
	instructions, err := InstructionsURL(d.cfg.CallbackBaseURL, attemptID)
	if err != nil {
		return CallRequest{}, fmt.Errorf("building instructions url: %w", err)
	}
	status, err := StatusCallbackURL(d.cfg.CallbackBaseURL, attemptID)
	if err != nil {
		return CallRequest{}, fmt.Errorf("building status callback url: %w", err)
	}
	return CallRequest{
		To:                contact.Phone,
		From:              d.cfg.CallerID,
		InstructionsURL:   instructions,
		StatusCallbackURL: status,
		TimeoutSeconds:    int(d.cfg.RingTimeout / time.Second),
	}, nil
}

func (d *CallDispatcher) markFailed(ctx context.Context, log *zap.SugaredLogger, attempt *CallAttempt, cause error) {
	log.Warnw("Call provider rejected call", "phone", attempt.Phone, "error", cause)
	attempt.Status = StatusFailed
	attempt.ErrorMessage = cause.Error()

	if err := d.store.SetErrorMessage(ctx, attempt.ID, cause.Error()); err != nil {
		log.Errorw("Failed to record dispatch error", "error", err)
	}
	if _, _, err := updateState(ctx, d.store, d.retry, attempt.ID, func(cur AttemptState) (AttemptState, bool) {
		if cur.Status.IsTerminal() || cur.Confirmed {
			return cur, false
		}
		cur.Status = StatusFailed
		return cur, true
	}); err != nil {
		log.Errorw("Failed to mark call attempt failed", "error", err)
	}
}
