// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/telekom/voice-escalation/pkg/escalation"
	"github.com/telekom/voice-escalation/pkg/metrics"
	"github.com/telekom/voice-escalation/pkg/store"
)

const (
	DefaultPollInterval  = 2 * time.Minute
	DefaultMaxConcurrent = 10

	// fallbackMessage is spoken when the message template fails to render.
	fallbackMessage = "Critical Alert. Press 1 to confirm you have received this alert."
)

// AlertStore persists alerts and their processed flag.
type AlertStore interface {
	CreateAlert(ctx context.Context, a *escalation.Alert) error
	MarkAlertProcessed(ctx context.Context, id string, confirmed bool) (bool, error)
	ListUnprocessedAlerts(ctx context.Context, limit int) ([]escalation.Alert, error)
}

// Escalator runs one escalation. *escalation.Orchestrator implements it.
type Escalator interface {
	Run(ctx context.Context, req escalation.Request) (*escalation.Outcome, error)
}

// MessageRenderer builds the spoken text for an alert.
type MessageRenderer interface {
	Render(alert escalation.Alert) (string, error)
}

// Recorder receives alert lifecycle events.
type Recorder interface {
	AlertReceived(ctx context.Context, alert escalation.Alert)
	AlertProcessed(ctx context.Context, alert escalation.Alert, confirmed bool)
}

// UnconfirmedNotifier is told about alerts nobody confirmed.
type UnconfirmedNotifier interface {
	NotifyUnconfirmed(ctx context.Context, alert escalation.Alert, outcome *escalation.Outcome) error
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	PollInterval   time.Duration
	MaxConcurrent  int
	Contacts       []escalation.Contact
	MaxLoops       int
	ContactTimeout time.Duration
}

// Runner polls its sources and escalates every new alert in its own
// goroutine, bounded by MaxConcurrent.
type Runner struct {
	sources   []Source
	store     AlertStore
	escalator Escalator
	renderer  MessageRenderer
	recorder  Recorder
	notifier  UnconfirmedNotifier
	cfg       RunnerConfig
	log       *zap.SugaredLogger

	wake chan struct{}
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithRecorder sets the alert lifecycle recorder.
func WithRecorder(r Recorder) RunnerOption {
	return func(rn *Runner) { rn.recorder = r }
}

// WithUnconfirmedNotifier sets who is told about unconfirmed alerts.
func WithUnconfirmedNotifier(n UnconfirmedNotifier) RunnerOption {
	return func(rn *Runner) { rn.notifier = n }
}

// NewRunner creates a runner. At least one source is expected.
func NewRunner(sources []Source, st AlertStore, escalator Escalator, renderer MessageRenderer,
	cfg RunnerConfig, log *zap.SugaredLogger, opts ...RunnerOption,
) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	r := &Runner{
		sources:   sources,
		store:     st,
		escalator: escalator,
		renderer:  renderer,
		cfg:       cfg,
		log:       log.Named("alert-runner"),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Wake triggers a poll without waiting for the next tick.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run resumes alerts left unprocessed by a previous process, polls once
// immediately and then every PollInterval until ctx is done. It waits for
// running escalations before returning.
func (r *Runner) Run(ctx context.Context) error {
	g := &errgroup.Group{}
	g.SetLimit(r.cfg.MaxConcurrent)

	r.log.Infow("Alert runner started",
		"sources", len(r.sources), "pollInterval", r.cfg.PollInterval, "maxConcurrent", r.cfg.MaxConcurrent)

	for _, src := range r.sources {
		if n, ok := src.(readySource); ok {
			go r.forward(ctx, n.Ready())
		}
	}

	r.resume(ctx, g)
	r.poll(ctx, g)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("Alert runner stopping, waiting for running escalations")
			_ = g.Wait()
			return nil
		case <-ticker.C:
			r.poll(ctx, g)
		case <-r.wake:
			r.poll(ctx, g)
		}
	}
}

// readySource is a Source that signals new alerts instead of waiting to be
// polled.
type readySource interface {
	Ready() <-chan struct{}
}

func (r *Runner) forward(ctx context.Context, ready <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ready:
			r.Wake()
		}
	}
}

func (r *Runner) resume(ctx context.Context, g *errgroup.Group) {
	pending, err := r.store.ListUnprocessedAlerts(ctx, 0)
	if err != nil {
		r.log.Errorw("Failed to load unprocessed alerts", "error", err)
		return
	}
	for _, a := range pending {
		r.log.Infow("Resuming unprocessed alert", "alertID", a.ID, "source", a.Source)
		r.start(ctx, g, nil, a)
	}
}

func (r *Runner) poll(ctx context.Context, g *errgroup.Group) {
	for _, src := range r.sources {
		if ctx.Err() != nil {
			return
		}
		alerts, err := src.FetchNewAlerts(ctx)
		if err != nil {
			metrics.AlertSourceErrors.WithLabelValues(src.Name(), "fetch").Inc()
			r.log.Errorw("Failed to fetch alerts", "source", src.Name(), "error", err)
			continue
		}
		for _, a := range alerts {
			r.accept(ctx, g, src, a)
		}
	}
}

// accept stores a fetched alert and starts its escalation. Alerts whose
// external id is already known are acked and dropped.
func (r *Runner) accept(ctx context.Context, g *errgroup.Group, src Source, a escalation.Alert) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Source = src.Name()
	log := r.log.With("alertID", a.ID, "externalID", a.ExternalID, "source", a.Source)

	if err := r.store.CreateAlert(ctx, &a); err != nil {
		if errors.Is(err, store.ErrAlertExists) {
			metrics.AlertsDuplicate.WithLabelValues(a.Source).Inc()
			log.Infow("Skipping already known alert")
			r.ack(ctx, src, a)
			return
		}
		log.Errorw("Failed to store alert, leaving it with the source", "error", err)
		return
	}
	metrics.AlertsReceived.WithLabelValues(a.Source).Inc()
	log.Infow("New alert received", "subject", a.Subject)
	if r.recorder != nil {
		r.recorder.AlertReceived(ctx, a)
	}
	r.start(ctx, g, src, a)
}

func (r *Runner) start(ctx context.Context, g *errgroup.Group, src Source, a escalation.Alert) {
	g.Go(func() error {
		r.escalate(ctx, src, a)
		return nil
	})
}

// escalate runs the escalation for one stored alert. A cancelled run leaves
// the alert unprocessed so it is resumed on the next start.
func (r *Runner) escalate(ctx context.Context, src Source, a escalation.Alert) {
	log := r.log.With("alertID", a.ID)
	if ctx.Err() != nil {
		return
	}

	message, err := r.renderer.Render(a)
	if err != nil {
		log.Errorw("Failed to render spoken message, using fallback", "error", err)
		message = fallbackMessage
	}

	outcome, err := r.escalator.Run(ctx, escalation.Request{
		Alert:          a,
		Contacts:       r.cfg.Contacts,
		Message:        message,
		MaxLoops:       r.cfg.MaxLoops,
		ContactTimeout: r.cfg.ContactTimeout,
	})
	if ctx.Err() != nil || (outcome != nil && outcome.Cancelled) {
		log.Warnw("Escalation interrupted, alert stays unprocessed")
		return
	}
	confirmed := outcome != nil && outcome.Confirmed
	switch {
	case err == nil:
	case escalation.IsExhausted(err):
		log.Warnw("Escalation ended unconfirmed", "reason", err)
	default:
		log.Errorw("Escalation failed", "error", err)
	}

	marked, merr := r.store.MarkAlertProcessed(ctx, a.ID, confirmed)
	if merr != nil {
		log.Errorw("Failed to mark alert processed", "error", merr)
		return
	}
	if !marked {
		log.Warnw("Alert was already processed")
	} else {
		if r.recorder != nil {
			r.recorder.AlertProcessed(ctx, a, confirmed)
		}
		if !confirmed && r.notifier != nil {
			if nerr := r.notifier.NotifyUnconfirmed(ctx, a, outcome); nerr != nil {
				log.Errorw("Failed to notify operators", "error", nerr)
			}
		}
	}
	if src != nil {
		r.ack(ctx, src, a)
	}
	log.Infow("Alert processed", "confirmed", confirmed)
}

func (r *Runner) ack(ctx context.Context, src Source, a escalation.Alert) {
	if err := src.Ack(ctx, a); err != nil {
		metrics.AlertSourceErrors.WithLabelValues(src.Name(), "ack").Inc()
		r.log.Errorw("Failed to ack alert", "alertID", a.ID, "source", src.Name(), "error", err)
	}
}
