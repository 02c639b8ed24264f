/*
Copyright 2024.

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
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/telekom/voice-escalation/pkg/kafkaauth"
	"github.com/telekom/voice-escalation/pkg/metrics"
)

// Headers set on every audit message so consumers can route without decoding
// the value.
const (
	HeaderEventType = "event-type"
	HeaderSeverity  = "severity"
	HeaderAlertID   = "alert-id"
	HeaderAttemptID = "attempt-id"
)

// KafkaSinkConfig configures a KafkaSink.
type KafkaSinkConfig struct {
	// Name labels the sink in metrics and logs. Default: "kafka".
	Name    string
	Brokers []string
	Topic   string
	SASL    kafkaauth.Config

	// BatchTimeout is the maximum time to wait before flushing a batch.
	// Default: 1 second
	BatchTimeout time.Duration

	// WriteTimeout is the timeout for writing messages.
	// Default: 10 seconds
	WriteTimeout time.Duration
}

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes the escalation trail to a Kafka topic. Messages are
// keyed by alert id so all events of one alert land in one partition, in
// emission order.
type KafkaSink struct {
	name   string
	writer messageWriter
	logger *zap.Logger

	mu     sync.Mutex
	closed bool

	written   atomic.Int64
	failed    atomic.Int64
	reachable atomic.Bool
}

// NewKafkaSink validates cfg and creates the writer. No connection is made
// until the first event is written.
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka audit sink: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka audit sink: topic is required")
	}
	transport, err := kafkaauth.Transport(cfg.SASL)
	if err != nil {
		return nil, fmt.Errorf("kafka audit sink: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = "kafka"
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Transport:    transport,
	}
	logger.Info("Kafka audit sink created",
		zap.String("name", cfg.Name),
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Bool("sasl_enabled", cfg.SASL.Enabled()))
	return newKafkaSink(cfg.Name, writer, logger), nil
}

func newKafkaSink(name string, writer messageWriter, logger *zap.Logger) *KafkaSink {
	s := &KafkaSink{
		name:   name,
		writer: writer,
		logger: logger.Named("kafka-audit").With(zap.String("sink", name)),
	}
	s.reachable.Store(true)
	metrics.AuditSinkConnected.WithLabelValues(name).Set(1)
	return s
}

// classifyKafkaError maps a write error to a metrics label. Broker error codes
// are read from kafka-go's typed errors; everything else is classified by
// transport behaviour.
func classifyKafkaError(err error) string {
	if err == nil {
		return ""
	}
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil {
				err = e
				break
			}
		}
	}

	var (
		kerr   kafka.Error
		netErr net.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &kerr):
		switch kerr {
		case kafka.SASLAuthenticationFailed, kafka.TopicAuthorizationFailed, kafka.ClusterAuthorizationFailed:
			return "auth"
		case kafka.UnknownTopicOrPartition, kafka.InvalidTopic:
			return "topic"
		case kafka.MessageSizeTooLarge, kafka.InvalidMessage:
			return "rejected"
		}
		return "broker"
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	default:
		return "other"
	}
}

// message renders event as a Kafka message.
func message(event *Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(event.Type)},
		{Key: HeaderSeverity, Value: []byte(event.Severity)},
		{Key: HeaderAlertID, Value: []byte(event.Alert.ID)},
	}
	if event.Call != nil {
		headers = append(headers, kafka.Header{Key: HeaderAttemptID, Value: []byte(event.Call.AttemptID)})
	}
	return kafka.Message{
		Key:     []byte(event.Alert.ID),
		Value:   value,
		Time:    event.Timestamp,
		Headers: headers,
	}, nil
}

// Write publishes one event.
func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		metrics.AuditSinkErrors.WithLabelValues(s.name, "closed").Inc()
		return errors.New("kafka audit sink is closed")
	}

	msg, err := message(event)
	if err != nil {
		metrics.AuditSinkErrors.WithLabelValues(s.name, "serialization").Inc()
		s.failed.Add(1)
		return fmt.Errorf("encoding audit event %s: %w", event.ID, err)
	}

	start := time.Now()
	err = s.writer.WriteMessages(ctx, msg)
	elapsed := time.Since(start)
	metrics.AuditSinkLatency.WithLabelValues(s.name).Observe(elapsed.Seconds())

	if err != nil {
		kind := classifyKafkaError(err)
		metrics.AuditSinkErrors.WithLabelValues(s.name, kind).Inc()
		s.failed.Add(1)
		if s.reachable.Swap(false) {
			metrics.AuditSinkConnected.WithLabelValues(s.name).Set(0)
		}
		fields := []zap.Field{
			zap.Error(err),
			zap.String("error_type", kind),
			zap.Duration("duration", elapsed),
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("alert_id", event.Alert.ID),
		}
		if kind == "network" || kind == "timeout" {
			s.logger.Warn("Kafka unreachable, audit event not published", fields...)
		} else {
			s.logger.Error("Failed to publish audit event", fields...)
		}
		return fmt.Errorf("publishing audit event (%s): %w", kind, err)
	}

	s.written.Add(1)
	if !s.reachable.Swap(true) {
		metrics.AuditSinkConnected.WithLabelValues(s.name).Set(1)
		s.logger.Info("Kafka reachable again", zap.Duration("duration", elapsed))
	}
	return nil
}

// Close flushes and closes the writer. It is safe to call twice.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	metrics.AuditSinkConnected.WithLabelValues(s.name).Set(0)
	s.logger.Info("Closing Kafka audit sink",
		zap.Int64("messages_written", s.written.Load()),
		zap.Int64("messages_failed", s.failed.Load()))
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("closing kafka writer: %w", err)
	}
	return nil
}

func (s *KafkaSink) Name() string { return s.name }

// IsConnected reports whether the last write succeeded.
func (s *KafkaSink) IsConnected() bool { return s.reachable.Load() }

// MessageStats returns the number of published and failed messages.
func (s *KafkaSink) MessageStats() (written, failed int64) {
	return s.written.Load(), s.failed.Load()
}
