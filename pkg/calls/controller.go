// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package calls

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/voice-escalation/pkg/apiresponses"
	"github.com/telekom/voice-escalation/pkg/escalation"
	"github.com/telekom/voice-escalation/pkg/metrics"
	"github.com/telekom/voice-escalation/pkg/store"
	"github.com/telekom/voice-escalation/pkg/system"
	"github.com/telekom/voice-escalation/pkg/voice"
)

// ConfirmDigit is the key a callee presses to acknowledge an alert.
const ConfirmDigit = "1"

const contentTypeXML = "text/xml; charset=utf-8"

// StatusTracker applies provider events to stored attempts.
type StatusTracker interface {
	OnStatusEvent(ctx context.Context, attemptID, providerStatus string, duration *int) (bool, error)
	OnConfirmationEvent(ctx context.Context, attemptID string) (bool, error)
}

// AttemptReader loads recorded attempts.
type AttemptReader interface {
	GetAttempt(ctx context.Context, id string) (*escalation.CallAttempt, error)
	ListAttempts(ctx context.Context, f store.AttemptFilter) ([]escalation.CallAttempt, error)
}

// ListResponse is returned by GET /api/calls.
type ListResponse struct {
	Calls  []escalation.CallAttempt `json:"calls"`
	Count  int                      `json:"count"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

// CallController serves the provider callbacks under /api/calls.
type CallController struct {
	tracker     StatusTracker
	attempts    AttemptReader
	speech      voice.Speech
	callbackURL string
	log         *zap.SugaredLogger
	middleware  []gin.HandlerFunc
}

// NewCallController creates the controller. callbackBaseURL is the public base
// URL the provider reaches this service on; middleware runs before every route.
func NewCallController(log *zap.SugaredLogger, tracker StatusTracker, attempts AttemptReader,
	speech voice.Speech, callbackBaseURL string, middleware ...gin.HandlerFunc,
) *CallController {
	return &CallController{
		tracker:     tracker,
		attempts:    attempts,
		speech:      speech,
		callbackURL: callbackBaseURL,
		log:         log.Named("calls"),
		middleware:  middleware,
	}
}

func (cc *CallController) BasePath() string {
	return "calls"
}

func (cc *CallController) Handlers() []gin.HandlerFunc {
	return cc.middleware
}

func (cc *CallController) Register(rg *gin.RouterGroup) error {
	rg.GET("", cc.handleList)
	rg.GET("/twiml/:id", cc.handleInstructions)
	rg.POST("/twiml/:id", cc.handleInstructions)
	rg.POST("/status/:id", cc.handleStatus)
	rg.POST("/gather/:id", cc.handleGather)
	return nil
}

func (cc *CallController) reqLogger(c *gin.Context) *zap.SugaredLogger {
	return system.EnrichReqLoggerWithCall(c, system.GetReqLogger(c, cc.log))
}

func (cc *CallController) handleInstructions(c *gin.Context) {
	log := cc.reqLogger(c)
	id := c.Param("id")

	attempt, err := cc.attempts.GetAttempt(c.Request.Context(), id)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("instructions", "error").Inc()
		if errors.Is(err, escalation.ErrAttemptNotFound) {
			apiresponses.RespondNotFound(c, "call", id)
			return
		}
		apiresponses.RespondInternalError(c, "load call attempt", err, log)
		return
	}

	gatherURL, err := escalation.GatherCallbackURL(cc.callbackURL, id)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("instructions", "error").Inc()
		apiresponses.RespondInternalError(c, "build gather URL", err, log)
		return
	}
	body, err := cc.speech.Instructions(attempt.Message, gatherURL)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("instructions", "error").Inc()
		apiresponses.RespondInternalError(c, "render call instructions", err, log)
		return
	}
	metrics.WebhookEvents.WithLabelValues("instructions", "ok").Inc()
	log.Debugw("Serving call instructions", "alertID", attempt.AlertID)
	c.Data(http.StatusOK, contentTypeXML, body)
}

func (cc *CallController) handleStatus(c *gin.Context) {
	log := cc.reqLogger(c)
	id := c.Param("id")

	status := formValue(c, "CallStatus", "status")
	duration, err := parseDuration(formValue(c, "CallDuration", "duration"))
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("status", "malformed").Inc()
		log.Warnw("Rejecting status callback with invalid duration", "error", err)
		apiresponses.RespondBadRequest(c, "invalid call duration")
		return
	}

	changed, err := cc.tracker.OnStatusEvent(c.Request.Context(), id, status, duration)
	if cc.respondTrackerError(c, log, "status", id, err) {
		return
	}
	metrics.WebhookEvents.WithLabelValues("status", resultLabel(changed)).Inc()
	c.Status(http.StatusOK)
}

func (cc *CallController) handleGather(c *gin.Context) {
	log := cc.reqLogger(c)
	id := c.Param("id")

	digits := formValue(c, "Digits", "digit")
	if digits != ConfirmDigit {
		log.Infow("Callee pressed an unexpected key", "digits", digits)
		metrics.WebhookEvents.WithLabelValues("gather", "invalid_input").Inc()
		cc.reply(c, log, voice.InvalidInputPhrase)
		return
	}

	changed, err := cc.tracker.OnConfirmationEvent(c.Request.Context(), id)
	if cc.respondTrackerError(c, log, "gather", id, err) {
		return
	}
	log.Infow("Callee confirmed the alert", "newlyConfirmed", changed)
	metrics.WebhookEvents.WithLabelValues("gather", resultLabel(changed)).Inc()
	cc.reply(c, log, voice.ConfirmedPhrase)
}

func (cc *CallController) handleList(c *gin.Context) {
	log := system.GetReqLogger(c, cc.log)

	limit, err := queryInt(c, "limit", 50)
	if err != nil || limit < 1 || limit > store.MaxListLimit {
		apiresponses.RespondBadRequest(c, "limit must be between 1 and "+strconv.Itoa(store.MaxListLimit))
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		apiresponses.RespondBadRequest(c, "offset must be a non-negative integer")
		return
	}

	attempts, err := cc.attempts.ListAttempts(c.Request.Context(), store.AttemptFilter{
		AlertID: c.Query("alert_id"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		apiresponses.RespondInternalError(c, "list call attempts", err, log)
		return
	}
	apiresponses.RespondOK(c, ListResponse{Calls: attempts, Count: len(attempts), Limit: limit, Offset: offset})
}

// respondTrackerError writes the HTTP response for a failed tracker call and
// reports whether it did so.
func (cc *CallController) respondTrackerError(c *gin.Context, log *zap.SugaredLogger, kind, id string, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, escalation.ErrWebhookMalformed):
		metrics.WebhookEvents.WithLabelValues(kind, "malformed").Inc()
		log.Warnw("Rejecting malformed callback", "error", err)
		apiresponses.RespondBadRequest(c, err.Error())
	case errors.Is(err, escalation.ErrAttemptNotFound):
		metrics.WebhookEvents.WithLabelValues(kind, "not_found").Inc()
		apiresponses.RespondNotFound(c, "call", id)
	default:
		metrics.WebhookEvents.WithLabelValues(kind, "error").Inc()
		apiresponses.RespondInternalError(c, "apply "+kind+" callback", err, log)
	}
	return true
}

func (cc *CallController) reply(c *gin.Context, log *zap.SugaredLogger, text string) {
	body, err := cc.speech.Reply(text)
	if err != nil {
		apiresponses.RespondInternalError(c, "render reply", err, log)
		return
	}
	c.Data(http.StatusOK, contentTypeXML, body)
}

// formValue returns the first non-empty form or query value among keys.
func formValue(c *gin.Context, keys ...string) string {
	for _, k := range keys {
		if v := c.PostForm(k); v != "" {
			return v
		}
		if v := c.Query(k); v != "" {
			return v
		}
	}
	return ""
}

func parseDuration(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	if d < 0 {
		return nil, errors.New("negative duration")
	}
	return &d, nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func resultLabel(changed bool) string {
	if changed {
		return "applied"
	}
	return "ignored"
}
