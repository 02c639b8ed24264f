// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/voice-escalation/pkg/metrics"
)

// DefaultPollInterval is how often the waiter re-reads an attempt when no
// notification arrives.
const DefaultPollInterval = 2 * time.Second

// ConfirmationWaiter blocks until an attempt is resolved. Notifications from
// the tracker wake it early; polling covers notifications lost between
// replicas.
type ConfirmationWaiter struct {
	store        CallRecordStore
	notifier     ResolutionNotifier
	pollInterval time.Duration
	log          *zap.SugaredLogger
}

// NewConfirmationWaiter creates a waiter. notifier may be nil.
func NewConfirmationWaiter(store CallRecordStore, notifier ResolutionNotifier, pollInterval time.Duration, log *zap.SugaredLogger) *ConfirmationWaiter {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &ConfirmationWaiter{
		store:        store,
		notifier:     notifier,
		pollInterval: pollInterval,
		log:          log.Named("waiter"),
	}
}

// Wait returns ResolutionConfirmed once the attempt is confirmed,
// ResolutionTerminalUnconfirmed once it reached any other terminal status and
// ResolutionTimedOut when timeout elapses first. Confirmation wins over a
// terminal status observed in the same read. An error is only returned when
// ctx itself is done.
func (w *ConfirmationWaiter) Wait(ctx context.Context, attemptID string, timeout time.Duration) (Resolution, error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Subscribe before the first read so a change between the read and the
	// select is not missed.
	var updates <-chan struct{}
	if w.notifier != nil {
		ch, unsubscribe := w.notifier.Subscribe(attemptID)
		defer unsubscribe()
		updates = ch
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if res, ok := w.check(waitCtx, attemptID); ok {
			w.observe(res, start)
			return res, nil
		}
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return ResolutionTimedOut, err
			}
			// Last look: a confirmation may have landed after the previous read.
			if res, ok := w.check(ctx, attemptID); ok {
				w.observe(res, start)
				return res, nil
			}
			w.log.Infow("Timed out waiting for call resolution", "attemptID", attemptID, "timeout", timeout)
			w.observe(ResolutionTimedOut, start)
			return ResolutionTimedOut, nil
		case <-updates:
		case <-ticker.C:
		}
	}
}

func (w *ConfirmationWaiter) check(ctx context.Context, attemptID string) (Resolution, bool) {
	a, err := w.store.GetAttempt(ctx, attemptID)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warnw("Failed to read call attempt while waiting", "attemptID", attemptID, "error", err)
		}
		return ResolutionTimedOut, false
	}
	switch {
	case a.Confirmed:
		return ResolutionConfirmed, true
	case a.Status.IsTerminal():
		return ResolutionTerminalUnconfirmed, true
	}
	return ResolutionTimedOut, false
}

func (w *ConfirmationWaiter) observe(res Resolution, start time.Time) {
	metrics.CallResolutions.WithLabelValues(res.String()).Inc()
	metrics.CallWaitDuration.WithLabelValues(res.String()).Observe(time.Since(start).Seconds())
}
