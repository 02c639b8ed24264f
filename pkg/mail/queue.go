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

package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/voice-escalation/pkg/metrics"
)

const maxBackoff = 5 * time.Minute

// ErrQueueClosed is returned by Enqueue once Stop was called.
var ErrQueueClosed = errors.New("mail queue is shutting down")

// QueueItem is one mail with its retry bookkeeping.
type QueueItem struct {
	ID        string
	Receivers []string
	Subject   string
	Body      string
	Attempt   int
	CreatedAt time.Time
	NextRetry time.Time
}

// Queue sends mails from a single background worker and retries failed sends
// with exponential backoff.
type Queue struct {
	sender         Sender
	queue          chan *QueueItem
	log            *zap.SugaredLogger
	maxAttempts    int
	initialBackoff time.Duration
	maxQueueSize   int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueue creates a mail queue. maxRetries counts retries after the first
// attempt.
func NewQueue(sender Sender, log *zap.SugaredLogger, maxRetries, initialBackoffMs, maxQueueSize int) *Queue {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if initialBackoffMs <= 0 {
		initialBackoffMs = 1000
	}
	if maxQueueSize <= 0 {
		maxQueueSize = 100
	}
	log = log.Named("mail-queue")
	log.Infow("Initializing mail queue",
		"maxRetries", maxRetries,
		"initialBackoffMs", initialBackoffMs,
		"maxQueueSize", maxQueueSize)

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		sender:         sender,
		queue:          make(chan *QueueItem, maxQueueSize),
		log:            log,
		maxAttempts:    maxRetries + 1,
		initialBackoff: time.Duration(initialBackoffMs) * time.Millisecond,
		maxQueueSize:   maxQueueSize,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start begins the background worker.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
	q.log.Info("Mail queue worker started")
}

// Enqueue adds a mail to the queue without blocking.
func (q *Queue) Enqueue(id string, receivers []string, subject, body string) error {
	host := q.sender.GetHost()
	if len(receivers) == 0 {
		q.log.Errorw("Cannot enqueue email: empty receivers list", "id", id, "subject", subject)
		metrics.MailQueueDropped.WithLabelValues(host).Inc()
		return fmt.Errorf("cannot enqueue email with no receivers")
	}
	if q.ctx.Err() != nil {
		metrics.MailQueueDropped.WithLabelValues(host).Inc()
		return ErrQueueClosed
	}

	now := time.Now()
	item := &QueueItem{ID: id, Receivers: receivers, Subject: subject, Body: body, CreatedAt: now, NextRetry: now}
	select {
	case q.queue <- item:
		metrics.MailQueued.WithLabelValues(host).Inc()
		q.log.Debugw("Email queued for sending", "id", id, "receivers", len(receivers), "subject", subject)
		return nil
	default:
		metrics.MailQueueDropped.WithLabelValues(host).Inc()
		q.log.Errorw("Mail queue is full, dropping message", "id", id, "queueSize", q.maxQueueSize)
		return fmt.Errorf("mail queue is full (capacity: %d)", q.maxQueueSize)
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()

	var pending []*QueueItem
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		q.resetTimer(timer, pending)
		select {
		case <-q.ctx.Done():
			q.drain(pending)
			return
		case item := <-q.queue:
			if !q.send(item) {
				pending = append(pending, item)
			}
		case <-timer.C:
			now := time.Now()
			remaining := pending[:0]
			for _, item := range pending {
				if now.Before(item.NextRetry) || !q.send(item) {
					remaining = append(remaining, item)
				}
			}
			pending = remaining
		}
	}
}

// resetTimer arms timer for the earliest pending retry.
func (q *Queue) resetTimer(timer *time.Timer, pending []*QueueItem) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	next := time.Hour
	for _, item := range pending {
		if d := time.Until(item.NextRetry); d < next {
			next = d
		}
	}
	if next < 0 {
		next = 0
	}
	timer.Reset(next)
}

// send makes one attempt and reports whether the item is finished, either
// delivered or out of attempts.
func (q *Queue) send(item *QueueItem) bool {
	item.Attempt++
	host := q.sender.GetHost()
	err := q.sender.Send(item.Receivers, item.Subject, item.Body)
	if err == nil {
		q.log.Infow("Queued email sent", "id", item.ID, "attempt", item.Attempt, "subject", item.Subject)
		return true
	}
	if item.Attempt >= q.maxAttempts {
		q.log.Errorw("Email send failed after all retries", "id", item.ID, "attempts", item.Attempt, "error", err)
		metrics.MailFailed.WithLabelValues(host).Inc()
		return true
	}
	backoff := q.calculateBackoff(item.Attempt)
	item.NextRetry = time.Now().Add(backoff)
	q.log.Warnw("Email send failed, scheduling retry", "id", item.ID, "attempt", item.Attempt, "error", err, "retryIn", backoff)
	metrics.MailRetryScheduled.WithLabelValues(host).Inc()
	return false
}

// drain sends whatever is still queued once and gives pending retries a final
// attempt.
func (q *Queue) drain(pending []*QueueItem) {
	for {
		select {
		case item := <-q.queue:
			pending = append(pending, item)
			continue
		default:
		}
		break
	}
	q.log.Infow("Processing pending items on shutdown", "count", len(pending))
	for _, item := range pending {
		item.Attempt = max(item.Attempt, q.maxAttempts-1)
		q.send(item)
	}
}

// calculateBackoff doubles the initial backoff per attempt, capped at five minutes.
func (q *Queue) calculateBackoff(attempt int) time.Duration {
	backoff := q.initialBackoff << (attempt - 1)
	if backoff <= 0 || backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

// Stop shuts the queue down and waits for the worker to finish.
func (q *Queue) Stop(ctx context.Context) error {
	q.log.Info("Stopping mail queue")
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.log.Info("Mail queue stopped gracefully")
		return nil
	case <-ctx.Done():
		q.log.Warnw("Mail queue shutdown timeout, some items may not have been processed")
		return ctx.Err()
	}
}

// Length returns the number of mails waiting for their first attempt.
func (q *Queue) Length() int {
	return len(q.queue)
}
