// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/telekom/voice-escalation/pkg/escalation"
	"github.com/telekom/voice-escalation/pkg/kafkaauth"
	"github.com/telekom/voice-escalation/pkg/voice"
)

const (
	defaultFetchWindow = time.Second
	defaultMaxBatch    = 50
)

// Payload is the JSON document expected on the alert topic.
type Payload struct {
	// ID is the producer's identifier, used to drop redeliveries.
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// KafkaSourceConfig configures a KafkaSource.
type KafkaSourceConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	SASL    kafkaauth.Config
	// FetchWindow bounds how long one FetchNewAlerts call waits for messages.
	FetchWindow time.Duration
	// MaxBatch caps the number of alerts returned per fetch.
	MaxBatch int
}

// messageReader is the subset of *kafka.Reader used by KafkaSource.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes alerts from a Kafka topic as a consumer group member.
// Offsets are committed on Ack only.
type KafkaSource struct {
	reader      messageReader
	topic       string
	fetchWindow time.Duration
	maxBatch    int
	log         *zap.SugaredLogger

	mu      sync.Mutex
	pending map[string]kafka.Message
}

// NewKafkaSource creates a consumer for cfg.Topic.
func NewKafkaSource(cfg KafkaSourceConfig, log *zap.SugaredLogger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka source: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka source: topic is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka source: group id is required")
	}
	dialer, err := kafkaauth.Dialer(cfg.SASL)
	if err != nil {
		return nil, fmt.Errorf("kafka source: %w", err)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Dialer:      dialer,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
	})
	return newKafkaSource(reader, cfg, log), nil
}

func newKafkaSource(reader messageReader, cfg KafkaSourceConfig, log *zap.SugaredLogger) *KafkaSource {
	if cfg.FetchWindow <= 0 {
		cfg.FetchWindow = defaultFetchWindow
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	return &KafkaSource{
		reader:      reader,
		topic:       cfg.Topic,
		fetchWindow: cfg.FetchWindow,
		maxBatch:    cfg.MaxBatch,
		log:         log.Named("kafka-source").With("topic", cfg.Topic),
		pending:     make(map[string]kafka.Message),
	}
}

func (s *KafkaSource) Name() string { return "kafka" }

// FetchNewAlerts reads up to MaxBatch messages within the fetch window.
// Messages that are not valid alert payloads are committed and skipped.
func (s *KafkaSource) FetchNewAlerts(ctx context.Context) ([]escalation.Alert, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchWindow)
	defer cancel()

	var out []escalation.Alert
	for len(out) < s.maxBatch {
		msg, err := s.reader.FetchMessage(fetchCtx)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if len(out) > 0 {
				s.log.Warnw("Stopping fetch early", "error", err, "fetched", len(out))
				break
			}
			return nil, fmt.Errorf("fetch alert message: %w", err)
		}

		alert, err := decodeAlert(msg)
		if err != nil {
			s.log.Warnw("Skipping malformed alert message",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
			if cerr := s.reader.CommitMessages(ctx, msg); cerr != nil {
				s.log.Errorw("Failed to commit malformed message", "offset", msg.Offset, "error", cerr)
			}
			continue
		}

		s.mu.Lock()
		s.pending[alert.ID] = msg
		s.mu.Unlock()
		out = append(out, alert)
	}
	return out, nil
}

// Ack commits the message the alert was read from. Unknown alerts are ignored.
func (s *KafkaSource) Ack(ctx context.Context, alert escalation.Alert) error {
	s.mu.Lock()
	msg, ok := s.pending[alert.ID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
	}
	s.mu.Lock()
	delete(s.pending, alert.ID)
	s.mu.Unlock()
	return nil
}

// Close stops the consumer.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

func decodeAlert(msg kafka.Message) (escalation.Alert, error) {
	var p Payload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		return escalation.Alert{}, fmt.Errorf("decode payload: %w", err)
	}
	if strings.TrimSpace(p.Subject) == "" && strings.TrimSpace(p.Body) == "" {
		return escalation.Alert{}, errors.New("payload has neither subject nor body")
	}
	externalID := p.ID
	if externalID == "" {
		externalID = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	}
	receivedAt := p.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = msg.Time
	}
	return escalation.Alert{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		Sender:     p.Sender,
		Subject:    voice.CollapseWhitespace(p.Subject),
		Preview:    voice.Preview(p.Body, voice.PreviewLength),
		ReceivedAt: receivedAt.UTC(),
	}, nil
}
