/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/voice-escalation/pkg/escalation"
)

// Manager coordinates audit event creation and distribution. Every sink gets
// its own queue, so Emit never blocks on a sink.
type Manager struct {
	sinks  []*QueuedSink
	logger *zap.Logger
	closed atomic.Bool

	emitted atomic.Int64

	now   func() time.Time
	newID func() string
}

// NewManager wraps each sink in a QueuedSink configured by cfg.
func NewManager(sinks []Sink, cfg QueuedSinkConfig, logger *zap.Logger) *Manager {
	m := &Manager{
		logger: logger.Named("audit-manager"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		m.sinks = append(m.sinks, NewQueuedSink(s, cfg, logger))
		names = append(names, s.Name())
	}
	m.logger.Info("audit manager started",
		zap.Strings("sinks", names),
		zap.Int("queue_size", cfg.QueueSize))
	return m
}

// Emit fills in id, timestamp and severity when unset and hands the event to
// every sink queue.
func (m *Manager) Emit(ctx context.Context, event *Event) {
	if m == nil || m.closed.Load() {
		return
	}
	if event.ID == "" {
		event.ID = m.newID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityForEventType(event.Type)
	}
	m.emitted.Add(1)
	for _, s := range m.sinks {
		if err := s.Write(ctx, event); err != nil {
			m.logger.Debug("audit sink rejected event", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}

// Health returns the health of every sink.
func (m *Manager) Health() []QueuedSinkHealth {
	out := make([]QueuedSinkHealth, 0, len(m.sinks))
	for _, s := range m.sinks {
		out = append(out, s.Health())
	}
	return out
}

// Emitted returns the number of events emitted since start.
func (m *Manager) Emitted() int64 {
	return m.emitted.Load()
}

// Close drains all sink queues and closes the sinks.
func (m *Manager) Close() error {
	if m == nil || m.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func alertRef(a escalation.Alert) AlertRef {
	return AlertRef{ID: a.ID, ExternalID: a.ExternalID, Source: a.Source, Subject: a.Subject}
}

func callRef(a escalation.CallAttempt) *CallRef {
	return &CallRef{
		AttemptID:      a.ID,
		ContactID:      a.ContactID,
		ContactName:    a.ContactName,
		Loop:           a.LoopNumber,
		Attempt:        a.AttemptNumber,
		Status:         string(a.Status),
		ProviderCallID: a.ProviderCallID,
	}
}

// AlertReceived records a newly accepted alert.
func (m *Manager) AlertReceived(ctx context.Context, alert escalation.Alert) {
	m.Emit(ctx, &Event{
		Type:    EventAlertReceived,
		Alert:   alertRef(alert),
		Details: map[string]interface{}{"sender": alert.Sender},
	})
}

// AlertProcessed records that an alert was marked processed.
func (m *Manager) AlertProcessed(ctx context.Context, alert escalation.Alert, confirmed bool) {
	m.Emit(ctx, &Event{
		Type:    EventAlertProcessed,
		Alert:   alertRef(alert),
		Details: map[string]interface{}{"confirmed": confirmed},
	})
}

// EscalationStarted implements escalation.EventRecorder.
func (m *Manager) EscalationStarted(ctx context.Context, alert escalation.Alert, chainLength, maxLoops int) {
	m.Emit(ctx, &Event{
		Type:    EventEscalationStarted,
		Alert:   alertRef(alert),
		Details: map[string]interface{}{"chainLength": chainLength, "maxLoops": maxLoops},
	})
}

// CallFailed implements escalation.EventRecorder. Timeouts are recorded as
// their own event type.
func (m *Manager) CallFailed(ctx context.Context, attempt escalation.CallAttempt, err error) {
	eventType := EventCallFailed
	if errors.Is(err, escalation.ErrTimeout) {
		eventType = EventCallTimedOut
	}
	details := map[string]interface{}{}
	if err != nil {
		details["error"] = err.Error()
	}
	m.Emit(ctx, &Event{
		Type:    eventType,
		Alert:   AlertRef{ID: attempt.AlertID},
		Call:    callRef(attempt),
		Details: details,
	})
}

// CallResolved implements escalation.EventRecorder.
func (m *Manager) CallResolved(ctx context.Context, attempt escalation.CallAttempt, resolution escalation.Resolution) {
	eventType := EventCallUnanswered
	if resolution == escalation.ResolutionConfirmed {
		eventType = EventCallConfirmed
	}
	m.Emit(ctx, &Event{
		Type:    eventType,
		Alert:   AlertRef{ID: attempt.AlertID},
		Call:    callRef(attempt),
		Details: map[string]interface{}{"resolution": resolution.String(), "duration": attempt.Duration},
	})
}

// EscalationFinished implements escalation.EventRecorder.
func (m *Manager) EscalationFinished(ctx context.Context, alert escalation.Alert, outcome *escalation.Outcome) {
	ev := &Event{Alert: alertRef(alert), Details: map[string]interface{}{}}
	switch {
	case outcome == nil || outcome.Cancelled:
		ev.Type = EventEscalationCancelled
	case outcome.Confirmed:
		ev.Type = EventEscalationConfirmed
		if outcome.ConfirmedBy != nil {
			ev.Details["confirmedBy"] = outcome.ConfirmedBy.ID
		}
	case len(outcome.Attempts) == 0:
		ev.Type = EventEscalationNoContacts
	default:
		ev.Type = EventEscalationExhausted
	}
	if outcome != nil {
		ev.Details["attempts"] = len(outcome.Attempts)
		ev.Details["loops"] = outcome.Loops
	}
	m.Emit(ctx, ev)
}

var _ escalation.EventRecorder = (*Manager)(nil)
