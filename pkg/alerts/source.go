// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package alerts

import (
	"context"
	"errors"
	"sync"

	"github.com/telekom/voice-escalation/pkg/escalation"
)

// Source delivers alerts that have not been escalated yet.
type Source interface {
	// Name identifies the source in logs, metrics and the stored alert.
	Name() string
	// FetchNewAlerts returns the alerts that arrived since the last call. It
	// must not block longer than a short fetch window.
	FetchNewAlerts(ctx context.Context) ([]escalation.Alert, error)
	// Ack tells the source the alert was handled and must not be redelivered.
	Ack(ctx context.Context, alert escalation.Alert) error
}

// ErrQueueFull is returned by QueueSource.Submit when the buffer is full.
var ErrQueueFull = errors.New("alert queue is full")

// QueueSourceName is the source name of manually triggered alerts.
const QueueSourceName = "api"

// QueueSource is an in-memory Source fed by Submit.
type QueueSource struct {
	alerts chan escalation.Alert

	mu      sync.Mutex
	waiters []chan struct{}
}

// NewQueueSource creates a queue holding at most size pending alerts.
func NewQueueSource(size int) *QueueSource {
	if size <= 0 {
		size = 100
	}
	return &QueueSource{alerts: make(chan escalation.Alert, size)}
}

func (q *QueueSource) Name() string { return QueueSourceName }

// Submit queues alert without blocking and wakes up anyone waiting on Ready.
func (q *QueueSource) Submit(alert escalation.Alert) error {
	select {
	case q.alerts <- alert:
	default:
		return ErrQueueFull
	}
	q.mu.Lock()
	for _, w := range q.waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	q.mu.Unlock()
	return nil
}

// Ready returns a channel that receives a signal after every Submit.
func (q *QueueSource) Ready() <-chan struct{} {
	ch := make(chan struct{}, 1)
	q.mu.Lock()
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()
	return ch
}

func (q *QueueSource) FetchNewAlerts(_ context.Context) ([]escalation.Alert, error) {
	var out []escalation.Alert
	for {
		select {
		case a := <-q.alerts:
			out = append(out, a)
		default:
			return out, nil
		}
	}
}

// Ack is a no-op; a fetched alert is already gone from the queue.
func (q *QueueSource) Ack(context.Context, escalation.Alert) error { return nil }

// Len returns the number of alerts waiting to be fetched.
func (q *QueueSource) Len() int { return len(q.alerts) }
