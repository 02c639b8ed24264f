// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package alerts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/voice-escalation/pkg/apiresponses"
	"github.com/telekom/voice-escalation/pkg/escalation"
	"github.com/telekom/voice-escalation/pkg/store"
	"github.com/telekom/voice-escalation/pkg/system"
	"github.com/telekom/voice-escalation/pkg/voice"
)

// Submitter accepts manually triggered alerts.
type Submitter interface {
	Submit(alert escalation.Alert) error
}

// AlertReader loads stored alerts and their call attempts.
type AlertReader interface {
	GetAlert(ctx context.Context, id string) (*escalation.Alert, error)
	ListAttempts(ctx context.Context, f store.AttemptFilter) ([]escalation.CallAttempt, error)
}

// TriggerRequest is the body of POST /api/alerts.
type TriggerRequest struct {
	// ExternalID deduplicates repeated triggers; a random id is used if empty.
	ExternalID string `json:"externalID,omitempty"`
	Sender     string `json:"sender,omitempty"`
	Subject    string `json:"subject"`
	Body       string `json:"body,omitempty"`
}

// TriggerResponse is returned for an accepted trigger.
type TriggerResponse struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalID"`
}

// AlertResponse is returned by GET /api/alerts/:id.
type AlertResponse struct {
	escalation.Alert
	Calls []escalation.CallAttempt `json:"calls"`
}

// AlertController serves /api/alerts.
type AlertController struct {
	submitter  Submitter
	reader     AlertReader
	log        *zap.SugaredLogger
	middleware []gin.HandlerFunc
	now        func() time.Time
}

func NewAlertController(log *zap.SugaredLogger, submitter Submitter, reader AlertReader, middleware ...gin.HandlerFunc) *AlertController {
	return &AlertController{
		submitter:  submitter,
		reader:     reader,
		log:        log.Named("alerts"),
		middleware: middleware,
		now:        time.Now,
	}
}

func (ac *AlertController) BasePath() string {
	return "alerts"
}

func (ac *AlertController) Handlers() []gin.HandlerFunc {
	return ac.middleware
}

func (ac *AlertController) Register(rg *gin.RouterGroup) error {
	rg.POST("", ac.handleTrigger)
	rg.GET("/:id", ac.handleGet)
	return nil
}

func (ac *AlertController) handleTrigger(c *gin.Context) {
	log := system.GetReqLogger(c, ac.log)

	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid alert payload", err.Error())
		return
	}
	if strings.TrimSpace(req.Subject) == "" && strings.TrimSpace(req.Body) == "" {
		apiresponses.RespondBadRequest(c, "subject or body is required")
		return
	}

	alert := escalation.Alert{
		ID:         uuid.NewString(),
		ExternalID: strings.TrimSpace(req.ExternalID),
		Sender:     req.Sender,
		Subject:    voice.CollapseWhitespace(req.Subject),
		Preview:    voice.Preview(req.Body, voice.PreviewLength),
		ReceivedAt: ac.now().UTC(),
	}
	if alert.ExternalID == "" {
		alert.ExternalID = alert.ID
	}
	if err := ac.submitter.Submit(alert); err != nil {
		if errors.Is(err, ErrQueueFull) {
			apiresponses.RespondServiceUnavailable(c, "alert queue")
			return
		}
		apiresponses.RespondInternalError(c, "queue alert", err, log)
		return
	}
	log.Infow("Alert triggered via API", "alertID", alert.ID, "externalID", alert.ExternalID)
	apiresponses.RespondAccepted(c, TriggerResponse{ID: alert.ID, ExternalID: alert.ExternalID})
}

func (ac *AlertController) handleGet(c *gin.Context) {
	log := system.GetReqLogger(c, ac.log)
	id := c.Param("id")

	alert, err := ac.reader.GetAlert(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrAlertNotFound) {
			apiresponses.RespondNotFound(c, "alert", id)
			return
		}
		apiresponses.RespondInternalError(c, "load alert", err, log)
		return
	}
	attempts, err := ac.reader.ListAttempts(c.Request.Context(), store.AttemptFilter{AlertID: id, Limit: store.MaxListLimit})
	if err != nil {
		apiresponses.RespondInternalError(c, "list call attempts", err, log)
		return
	}
	if attempts == nil {
		attempts = []escalation.CallAttempt{}
	}
	apiresponses.RespondOK(c, AlertResponse{Alert: *alert, Calls: attempts})
}
