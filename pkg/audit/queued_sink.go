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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/voice-escalation/pkg/metrics"
)

// QueuedSinkConfig configures the queue and circuit in front of one sink.
type QueuedSinkConfig struct {
	QueueSize    int           // default 1000
	WriteTimeout time.Duration // per event, default 5s

	// FailureThreshold consecutive failures open the circuit; events are then
	// dropped for ResetTime. Defaults: 5 and 30s.
	FailureThreshold int
	ResetTime        time.Duration
}

func DefaultQueuedSinkConfig() QueuedSinkConfig {
	return QueuedSinkConfig{
		QueueSize:        1000,
		WriteTimeout:     5 * time.Second,
		FailureThreshold: 5,
		ResetTime:        30 * time.Second,
	}
}

func (c QueuedSinkConfig) withDefaults() QueuedSinkConfig {
	def := DefaultQueuedSinkConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.ResetTime <= 0 {
		c.ResetTime = def.ResetTime
	}
	return c
}

// QueuedSinkHealth is reported per sink by Manager.Health.
type QueuedSinkHealth struct {
	Name             string `json:"name"`
	Healthy          bool   `json:"healthy"`
	QueueLength      int    `json:"queueLength"`
	QueueCapacity    int    `json:"queueCapacity"`
	DroppedEvents    int64  `json:"droppedEvents"`
	ProcessedEvents  int64  `json:"processedEvents"`
	FailedEvents     int64  `json:"failedEvents"`
	ConsecutiveFails int    `json:"consecutiveFails"`
	CircuitOpen      bool   `json:"circuitOpen"`
	LastError        string `json:"lastError,omitempty"`
}

// sinkCircuit stops feeding a sink after repeated failures. Once the cooldown
// has passed the next write is let through and the count starts over.
type sinkCircuit struct {
	threshold int32
	cooldown  time.Duration

	fails    atomic.Int32
	openedAt atomic.Int64 // unix nanos, 0 while closed
}

// admit reports whether an event may be queued at now, and whether this call
// closed the circuit after its cooldown.
func (c *sinkCircuit) admit(now time.Time) (ok, resumed bool) {
	opened := c.openedAt.Load()
	if opened == 0 {
		return true, false
	}
	if now.Sub(time.Unix(0, opened)) < c.cooldown {
		return false, false
	}
	if c.openedAt.CompareAndSwap(opened, 0) {
		c.fails.Store(0)
		return true, true
	}
	return true, false
}

func (c *sinkCircuit) succeeded() { c.fails.Store(0) }

// failed counts a failure and reports whether it opened the circuit.
func (c *sinkCircuit) failed(now time.Time) (int32, bool) {
	n := c.fails.Add(1)
	if n < c.threshold {
		return n, false
	}
	return n, c.openedAt.CompareAndSwap(0, now.UnixNano())
}

func (c *sinkCircuit) isOpen() bool { return c.openedAt.Load() != 0 }

// QueuedSink feeds one Sink from a buffered queue drained by a single worker,
// so a slow sink never holds up an escalation. Delivery order per sink is
// emission order.
type QueuedSink struct {
	sink    Sink
	queue   chan *Event
	timeout time.Duration
	circuit sinkCircuit
	logger  *zap.Logger

	dropped   atomic.Int64
	processed atomic.Int64
	failures  atomic.Int64

	errMu   sync.RWMutex
	lastErr string

	// closeMu keeps Write from sending on a closed queue.
	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}
}

func NewQueuedSink(sink Sink, cfg QueuedSinkConfig, logger *zap.Logger) *QueuedSink {
	cfg = cfg.withDefaults()
	qs := &QueuedSink{
		sink:    sink,
		queue:   make(chan *Event, cfg.QueueSize),
		timeout: cfg.WriteTimeout,
		circuit: sinkCircuit{threshold: int32(cfg.FailureThreshold), cooldown: cfg.ResetTime},
		logger:  logger.Named("queued-sink").With(zap.String("sink", sink.Name())),
		done:    make(chan struct{}),
	}
	go qs.drain()
	return qs
}

// Write queues event without blocking. A full queue or an open circuit drops
// the event; only writes after Close return an error.
func (qs *QueuedSink) Write(_ context.Context, event *Event) error {
	qs.closeMu.RLock()
	defer qs.closeMu.RUnlock()
	if qs.closed {
		return fmt.Errorf("audit sink %s is closed", qs.sink.Name())
	}

	ok, resumed := qs.circuit.admit(time.Now())
	if resumed {
		qs.logger.Info("Cooldown over, writing to audit sink again")
	}
	if !ok {
		qs.drop(event, "circuit_open")
		return nil
	}
	select {
	case qs.queue <- event:
	default:
		qs.drop(event, "queue_full")
	}
	return nil
}

func (qs *QueuedSink) drop(event *Event, reason string) {
	qs.dropped.Add(1)
	metrics.AuditEventsDropped.Inc()
	qs.logger.Debug("Audit event dropped",
		zap.String("reason", reason),
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)))
}

func (qs *QueuedSink) drain() {
	defer close(qs.done)
	for event := range qs.queue {
		qs.deliver(event)
	}
}

func (qs *QueuedSink) deliver(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), qs.timeout)
	defer cancel()

	err := qs.sink.Write(ctx, event)
	if err == nil {
		qs.processed.Add(1)
		qs.circuit.succeeded()
		metrics.AuditEventsWritten.WithLabelValues(qs.sink.Name()).Inc()
		return
	}

	qs.failures.Add(1)
	qs.errMu.Lock()
	qs.lastErr = err.Error()
	qs.errMu.Unlock()

	n, opened := qs.circuit.failed(time.Now())
	qs.logger.Error("Audit event not delivered",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("error", err.Error()),
		zap.Int32("consecutive_fails", n))
	if opened {
		qs.logger.Warn("Audit sink keeps failing, pausing delivery",
			zap.Duration("cooldown", qs.circuit.cooldown))
	}
}

// Health snapshots the queue and circuit. A sink is unhealthy while its
// circuit is open or its queue is at least 80% full.
func (qs *QueuedSink) Health() QueuedSinkHealth {
	qs.errMu.RLock()
	lastErr := qs.lastErr
	qs.errMu.RUnlock()

	length, capacity := len(qs.queue), cap(qs.queue)
	open := qs.circuit.isOpen()
	return QueuedSinkHealth{
		Name:             qs.sink.Name(),
		Healthy:          !open && length*5 < capacity*4,
		QueueLength:      length,
		QueueCapacity:    capacity,
		DroppedEvents:    qs.dropped.Load(),
		ProcessedEvents:  qs.processed.Load(),
		FailedEvents:     qs.failures.Load(),
		ConsecutiveFails: int(qs.circuit.fails.Load()),
		CircuitOpen:      open,
		LastError:        lastErr,
	}
}

// Close delivers what is queued, then closes the wrapped sink. Later calls
// return nil.
func (qs *QueuedSink) Close() error {
	qs.closeMu.Lock()
	if qs.closed {
		qs.closeMu.Unlock()
		return nil
	}
	qs.closed = true
	close(qs.queue)
	qs.closeMu.Unlock()

	<-qs.done
	return qs.sink.Close()
}

func (qs *QueuedSink) Name() string { return qs.sink.Name() }
