// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"

	"go.uber.org/zap"

	"github.com/telekom/voice-escalation/pkg/utils"
)

// CallStatusTracker applies asynchronous provider events to stored attempts.
// It is safe for concurrent use; events for one attempt are serialized by the
// store's compare-and-set.
type CallStatusTracker struct {
	store    CallRecordStore
	notifier ResolutionNotifier
	log      *zap.SugaredLogger
	retry    utils.RetryConfig
}

// NewCallStatusTracker creates a tracker. notifier may be nil, in which case
// waiters only learn about changes by polling.
func NewCallStatusTracker(store CallRecordStore, notifier ResolutionNotifier, log *zap.SugaredLogger) *CallStatusTracker {
	return &CallStatusTracker{
		store:    store,
		notifier: notifier,
		log:      log.Named("tracker"),
		retry:    utils.DefaultRetryConfig(),
	}
}

// OnStatusEvent records a provider status change. duration may be nil when the
// event carries none. Repeated delivery of the same event is a no-op and a
// confirmed attempt keeps its confirmation. It reports whether stored state
// changed; unknown statuses yield ErrWebhookMalformed.
func (t *CallStatusTracker) OnStatusEvent(ctx context.Context, attemptID, providerStatus string, duration *int) (bool, error) {
	status, err := ParseProviderStatus(providerStatus)
	if err != nil {
		return false, err
	}
	cur, changed, err := updateState(ctx, t.store, t.retry, attemptID, func(cur AttemptState) (AttemptState, bool) {
		return applyStatus(cur, status, duration)
	})
	if err != nil {
		return false, err
	}
	if !changed {
		t.log.Debugw("Ignoring status event without effect", "attemptID", attemptID, "status", status,
			"current", cur.Status, "confirmed", cur.Confirmed)
		return false, nil
	}
	t.log.Infow("Call status updated", "attemptID", attemptID, "from", cur.Status, "to", status)
	t.publish(ctx, attemptID)
	return true, nil
}

// OnConfirmationEvent latches the confirmation for an attempt. It reports
// whether the attempt was newly confirmed.
func (t *CallStatusTracker) OnConfirmationEvent(ctx context.Context, attemptID string) (bool, error) {
	cur, changed, err := updateState(ctx, t.store, t.retry, attemptID, applyConfirmation)
	if err != nil {
		return false, err
	}
	if !changed {
		t.log.Debugw("Call already confirmed", "attemptID", attemptID)
		return false, nil
	}
	t.log.Infow("Call confirmed", "attemptID", attemptID, "previousStatus", cur.Status)
	t.publish(ctx, attemptID)
	return true, nil
}

func (t *CallStatusTracker) publish(ctx context.Context, attemptID string) {
	if t.notifier != nil {
		t.notifier.Publish(ctx, attemptID)
	}
}
