// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/telekom/voice-escalation/pkg/metrics"
)

const tracerName = "github.com/telekom/voice-escalation/pkg/escalation"

// Config holds the orchestrator defaults. Request fields override them per run.
type Config struct {
	// MaxLoops is how many times the whole chain is walked.
	MaxLoops int
	// ContactTimeout bounds the wait for a single attempt.
	ContactTimeout time.Duration
	// CallDelay is the pause between two contacts of the same loop.
	CallDelay time.Duration
	// LoopBackoff is the pause between two loops.
	LoopBackoff time.Duration
}

// DefaultConfig mirrors the production defaults: three loops, a 30s ring
// timeout plus one minute of slack per contact, 2s between calls and 5s
// between loops.
func DefaultConfig() Config {
	return Config{
		MaxLoops:       3,
		ContactTimeout: 90 * time.Second,
		CallDelay:      2 * time.Second,
		LoopBackoff:    5 * time.Second,
	}
}

// Request describes a single escalation run.
type Request struct {
	Alert    Alert
	Contacts []Contact
	// Message is the text spoken to every contact.
	Message string
	// MaxLoops and ContactTimeout override Config when positive.
	MaxLoops       int
	ContactTimeout time.Duration
}

// Orchestrator sequences call attempts for one alert at a time. A single
// Orchestrator may serve many concurrent Run calls; each run keeps its own
// session state.
type Orchestrator struct {
	dispatcher Dispatcher
	waiter     Waiter
	recorder   EventRecorder
	attempts   AttemptReader
	cfg        Config
	log        *zap.SugaredLogger

	sleep func(ctx context.Context, d time.Duration) error
}

// AttemptReader loads the stored state of an attempt.
type AttemptReader interface {
	GetAttempt(ctx context.Context, id string) (*CallAttempt, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAttemptReader makes the orchestrator re-read every awaited attempt once
// its wait ends, so Outcome.Attempts and the recorder see the final status,
// duration and error instead of the state at dispatch.
func WithAttemptReader(r AttemptReader) Option {
	return func(o *Orchestrator) { o.attempts = r }
}

// NewOrchestrator wires an orchestrator. recorder may be nil.
func NewOrchestrator(dispatcher Dispatcher, waiter Waiter, recorder EventRecorder, cfg Config, log *zap.SugaredLogger, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxLoops <= 0 {
		cfg.MaxLoops = def.MaxLoops
	}
	if cfg.ContactTimeout <= 0 {
		cfg.ContactTimeout = def.ContactTimeout
	}
	if cfg.CallDelay < 0 {
		cfg.CallDelay = 0
	}
	if cfg.LoopBackoff < 0 {
		cfg.LoopBackoff = 0
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	o := &Orchestrator{
		dispatcher: dispatcher,
		waiter:     waiter,
		recorder:   recorder,
		cfg:        cfg,
		log:        log.Named("orchestrator"),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// session is the in-memory state of one run.
type session struct {
	alert   Alert
	loop    int
	index   int
	result  SessionResult
	outcome *Outcome
}

// step is one position of the flattened loop x contact iteration.
type step struct {
	loop    int
	index   int
	contact Contact
}

func plan(chain []Contact, maxLoops int) []step {
	steps := make([]step, 0, len(chain)*maxLoops)
	for loop := 1; loop <= maxLoops; loop++ {
		for i, c := range chain {
			steps = append(steps, step{loop: loop, index: i, contact: c})
		}
	}
	return steps
}

// Run walks the active contact chain up to MaxLoops times, one call at a time,
// and stops at the first confirmation. It returns ErrNoActiveContacts for an
// empty chain, ErrExhausted when nobody confirmed and ctx.Err() when cancelled.
// The Outcome is always non-nil and lists every dispatched attempt in order.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	maxLoops := req.MaxLoops
	if maxLoops <= 0 {
		maxLoops = o.cfg.MaxLoops
	}
	timeout := req.ContactTimeout
	if timeout <= 0 {
		timeout = o.cfg.ContactTimeout
	}
	chain := ActiveChain(req.Contacts)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "escalation.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("alert.id", req.Alert.ID),
		attribute.Int("escalation.chain_length", len(chain)),
		attribute.Int("escalation.max_loops", maxLoops),
	)

	s := &session{
		alert:   req.Alert,
		result:  SessionPending,
		outcome: &Outcome{AlertID: req.Alert.ID, Result: SessionPending, Attempts: []CallAttempt{}},
	}
	log := o.log.With("alertID", req.Alert.ID)
	start := time.Now()
	metrics.EscalationsInFlight.Inc()
	defer metrics.EscalationsInFlight.Dec()

	if len(chain) == 0 {
		log.Warnw("No active contacts in escalation chain")
		o.finish(ctx, s, "no_contacts", start)
		span.SetStatus(codes.Error, ErrNoActiveContacts.Error())
		return s.outcome, ErrNoActiveContacts
	}

	log.Infow("Starting escalation", "contacts", len(chain), "maxLoops", maxLoops, "contactTimeout", timeout)
	o.recorder.EscalationStarted(ctx, req.Alert, len(chain), maxLoops)

	var prev *step
	for _, st := range plan(chain, maxLoops) {
		if err := o.pause(ctx, log, prev, st, maxLoops); err != nil {
			return o.cancelled(ctx, s, start, err)
		}
		prev = &st
		s.loop, s.index = st.loop, st.index
		s.outcome.Loops = st.loop

		resolution, err := o.attempt(ctx, log, s, st, req.Message, timeout)
		if err != nil {
			return o.cancelled(ctx, s, start, err)
		}
		if resolution == ResolutionConfirmed {
			contact := st.contact
			s.result = SessionConfirmed
			s.outcome.Confirmed = true
			s.outcome.ConfirmedBy = &contact
			log.Infow("Escalation confirmed", "contact", contact.Name, "loop", st.loop, "attempt", st.index+1)
			o.finish(ctx, s, "confirmed", start)
			span.SetStatus(codes.Ok, "confirmed")
			return s.outcome, nil
		}
	}

	log.Warnw("Escalation exhausted without confirmation", "loops", maxLoops, "attempts", len(s.outcome.Attempts))
	o.finish(ctx, s, "exhausted", start)
	span.SetStatus(codes.Error, ErrExhausted.Error())
	return s.outcome, fmt.Errorf("%w after %d loops over %d contacts", ErrExhausted, maxLoops, len(chain))
}

// attempt dispatches one call and waits for it. Dispatch and persistence
// failures are recorded and reported as unconfirmed; only cancellation of ctx
// is returned as an error.
func (o *Orchestrator) attempt(ctx context.Context, log *zap.SugaredLogger, s *session, st step, message string, timeout time.Duration) (Resolution, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "escalation.call")
	defer span.End()
	span.SetAttributes(
		attribute.String("contact.id", st.contact.ID),
		attribute.Int("escalation.loop", st.loop),
		attribute.Int("escalation.attempt", st.index+1),
	)
	log = log.With("contact", st.contact.Name, "loop", st.loop, "attempt", st.index+1)

	attempt, err := o.dispatcher.Dispatch(ctx, s.alert, st.contact, st.loop, st.index+1, message)
	if attempt != nil {
		s.outcome.Attempts = append(s.outcome.Attempts, *attempt)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ResolutionTimedOut, ctxErr
		}
		log.Warnw("Call attempt failed, advancing to next contact", "error", err)
		span.RecordError(err)
		if attempt != nil {
			o.recorder.CallFailed(ctx, *attempt, err)
		}
		return ResolutionTerminalUnconfirmed, nil
	}

	resolution, err := o.waiter.Wait(ctx, attempt.ID, timeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ResolutionTimedOut, ctxErr
		}
		log.Warnw("Waiting for call resolution failed, treating as timed out", "attemptID", attempt.ID, "error", err)
		resolution = ResolutionTimedOut
	}
	span.SetAttributes(attribute.String("call.resolution", resolution.String()))

	last := &s.outcome.Attempts[len(s.outcome.Attempts)-1]
	o.refresh(ctx, log, last)
	switch resolution {
	case ResolutionConfirmed:
		last.Confirmed = true
		last.Status = StatusConfirmed
		o.recorder.CallResolved(ctx, *last, resolution)
	case ResolutionTimedOut:
		log.Infow("No resolution within timeout, advancing to next contact", "attemptID", attempt.ID, "timeout", timeout)
		o.recorder.CallFailed(ctx, *last, fmt.Errorf("%w after %s", ErrTimeout, timeout))
	default:
		log.Infow("Call ended without confirmation, advancing to next contact", "attemptID", attempt.ID)
		o.recorder.CallResolved(ctx, *last, resolution)
	}
	return resolution, nil
}

// refresh copies the stored state of a into the outcome. The copy is taken
// when the wait ends; later events for the attempt do not reach the outcome.
func (o *Orchestrator) refresh(ctx context.Context, log *zap.SugaredLogger, a *CallAttempt) {
	if o.attempts == nil {
		return
	}
	cur, err := o.attempts.GetAttempt(ctx, a.ID)
	if err != nil {
		log.Warnw("Failed to reload call attempt, reporting state at dispatch", "attemptID", a.ID, "error", err)
		return
	}
	a.Status = cur.Status
	a.Confirmed = cur.Confirmed
	a.Duration = cur.Duration
	a.ProviderCallID = cur.ProviderCallID
	a.ErrorMessage = cur.ErrorMessage
	a.UpdatedAt = cur.UpdatedAt
}

// pause sleeps before st: the loop backoff when st starts a new loop, the call
// delay otherwise. Nothing happens before the very first step.
func (o *Orchestrator) pause(ctx context.Context, log *zap.SugaredLogger, prev *step, st step, maxLoops int) error {
	if prev == nil {
		return ctx.Err()
	}
	if prev.loop != st.loop {
		log.Infow("No confirmation in loop, starting next loop", "completedLoop", prev.loop, "nextLoop", st.loop, "maxLoops", maxLoops)
		return o.sleep(ctx, o.cfg.LoopBackoff)
	}
	return o.sleep(ctx, o.cfg.CallDelay)
}

func (o *Orchestrator) cancelled(ctx context.Context, s *session, start time.Time, err error) (*Outcome, error) {
	o.log.Warnw("Escalation cancelled", "alertID", s.alert.ID, "loop", s.loop, "error", err)
	s.outcome.Cancelled = true
	o.finish(context.WithoutCancel(ctx), s, "cancelled", start)
	return s.outcome, err
}

func (o *Orchestrator) finish(ctx context.Context, s *session, label string, start time.Time) {
	if s.result == SessionPending {
		s.result = SessionFailed
	}
	s.outcome.Result = s.result
	metrics.EscalationRuns.WithLabelValues(label).Inc()
	metrics.EscalationRunDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	o.recorder.EscalationFinished(ctx, s.alert, s.outcome)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsExhausted reports whether err means nobody confirmed.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrExhausted) || errors.Is(err, ErrNoActiveContacts)
}
