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
	"encoding/json"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink is a destination for the escalation trail.
type Sink interface {
	Write(ctx context.Context, event *Event) error
	Close() error
	Name() string
}

// LogSink writes the trail to the service log. Critical events are logged at
// error level and warnings at warn level so exhausted escalations surface in
// log based alerting.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func levelFor(s Severity) zapcore.Level {
	switch s {
	case SeverityCritical:
		return zapcore.ErrorLevel
	case SeverityWarning:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func (s *LogSink) Write(_ context.Context, event *Event) error {
	ce := s.logger.Check(levelFor(event.Severity), string(event.Type))
	if ce == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 12)
	fields = append(fields,
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("severity", string(event.Severity)),
		zap.Time("timestamp", event.Timestamp),
		zap.String("alert_id", event.Alert.ID))
	if event.Alert.Subject != "" {
		fields = append(fields, zap.String("alert_subject", event.Alert.Subject))
	}
	if c := event.Call; c != nil {
		fields = append(fields,
			zap.String("attempt_id", c.AttemptID),
			zap.String("contact_id", c.ContactID),
			zap.Int("loop", c.Loop),
			zap.Int("attempt", c.Attempt),
			zap.String("call_status", c.Status))
	}
	if len(event.Details) > 0 {
		if raw, err := json.Marshal(event.Details); err == nil {
			fields = append(fields, zap.String("details", string(raw)))
		}
	}
	ce.Write(fields...)
	return nil
}

func (s *LogSink) Close() error { return nil }

func (s *LogSink) Name() string { return "log" }
