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
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/voice-escalation/pkg/kafkaauth"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestKafkaSinkConfig_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	tests := []struct {
		name    string
		cfg     KafkaSinkConfig
		wantErr string
	}{
		{name: "no brokers", cfg: KafkaSinkConfig{Topic: "audit"}, wantErr: "broker"},
		{name: "no topic", cfg: KafkaSinkConfig{Brokers: []string{"localhost:9092"}}, wantErr: "topic"},
		{
			name:    "bad SASL mechanism",
			cfg:     KafkaSinkConfig{Brokers: []string{"localhost:9092"}, Topic: "audit", SASL: kafkaauth.Config{Mechanism: "GSSAPI"}},
			wantErr: "unsupported SASL mechanism",
		},
		{name: "valid", cfg: KafkaSinkConfig{Brokers: []string{"localhost:9092"}, Topic: "audit"}},
		{
			name: "valid with SASL",
			cfg: KafkaSinkConfig{Name: "secure", Brokers: []string{"a:9092", "b:9092"}, Topic: "audit",
				SASL: kafkaauth.Config{Mechanism: "SCRAM-SHA-512", Username: "u", Password: "p"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewKafkaSink(tt.cfg, logger)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, sink.Name())
			assert.NoError(t, sink.Close())
		})
	}
}

func TestKafkaSink_WriteKeysByAlert(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink("kafka", w, zaptest.NewLogger(t))

	ev := &Event{
		ID:        "ev-1",
		Type:      EventEscalationConfirmed,
		Severity:  SeverityInfo,
		Timestamp: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		Alert:     AlertRef{ID: "alert-7"},
	}
	require.NoError(t, sink.Write(context.Background(), ev))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "alert-7", string(msg.Key))
	assert.Contains(t, msg.Headers, kafka.Header{Key: HeaderEventType, Value: []byte("escalation.confirmed")})
	assert.Contains(t, msg.Headers, kafka.Header{Key: HeaderAlertID, Value: []byte("alert-7")})
	assert.Equal(t, ev.Timestamp, msg.Time)
	for _, h := range msg.Headers {
		assert.NotEqual(t, HeaderAttemptID, h.Key, "escalation events carry no attempt header")
	}

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "ev-1", decoded.ID)

	written, failed := sink.MessageStats()
	assert.Equal(t, int64(1), written)
	assert.Equal(t, int64(0), failed)
}

func TestKafkaSink_CallEventCarriesAttemptHeader(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink("kafka", w, zaptest.NewLogger(t))

	ev := &Event{
		ID:    "ev-2",
		Type:  EventCallFailed,
		Alert: AlertRef{ID: "alert-7"},
		Call:  &CallRef{AttemptID: "attempt-3", ContactID: "oncall-1", Loop: 1, Attempt: 2},
	}
	require.NoError(t, sink.Write(context.Background(), ev))
	require.Len(t, w.messages, 1)
	assert.Contains(t, w.messages[0].Headers, kafka.Header{Key: HeaderAttemptID, Value: []byte("attempt-3")})
}

func TestKafkaSink_WriteFailureMarksDisconnected(t *testing.T) {
	w := &fakeWriter{err: fmt.Errorf("dial: %w", context.DeadlineExceeded)}
	sink := newKafkaSink("kafka", w, zaptest.NewLogger(t))

	err := sink.Write(context.Background(), &Event{ID: "ev-1", Type: EventCallFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(timeout)")
	assert.False(t, sink.IsConnected())

	w.err = nil
	require.NoError(t, sink.Write(context.Background(), &Event{ID: "ev-2", Type: EventCallFailed}))
	assert.True(t, sink.IsConnected())
}

func TestKafkaSink_WriteAfterClose(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink("kafka", w, zaptest.NewLogger(t))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close(), "double close")
	assert.True(t, w.closed)

	assert.Error(t, sink.Write(context.Background(), &Event{ID: "late"}))
}

func TestClassifyKafkaError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.DeadlineExceeded, "timeout"},
		{context.Canceled, "cancelled"},
		{fmt.Errorf("wrapped: %w", context.Canceled), "cancelled"},
		{kafka.SASLAuthenticationFailed, "auth"},
		{fmt.Errorf("write: %w", kafka.TopicAuthorizationFailed), "auth"},
		{kafka.UnknownTopicOrPartition, "topic"},
		{kafka.MessageSizeTooLarge, "rejected"},
		{kafka.NotLeaderForPartition, "broker"},
		{kafka.WriteErrors{nil, kafka.UnknownTopicOrPartition}, "topic"},
		{&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, "network"},
		{errors.New("something else"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyKafkaError(tt.err), "%v", tt.err)
	}
}
