// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"time"
)

// CallRequest is what the dispatcher hands to a CallProvider.
type CallRequest struct {
	To                string
	From              string
	InstructionsURL   string
	StatusCallbackURL string
	TimeoutSeconds    int
}

// CallProvider places outbound voice calls. Status is reported later through
// the webhook endpoints, not through the return value.
type CallProvider interface {
	PlaceCall(ctx context.Context, req CallRequest) (providerCallID string, err error)
}

// CallRecordStore persists call attempts.
type CallRecordStore interface {
	CreateAttempt(ctx context.Context, attempt *CallAttempt) error
	GetAttempt(ctx context.Context, id string) (*CallAttempt, error)
	// CompareAndSwapState writes next only if the stored status and confirmed
	// flag still equal expected. It reports whether the swap happened.
	CompareAndSwapState(ctx context.Context, id string, expected, next AttemptState) (bool, error)
	SetProviderCallID(ctx context.Context, id, providerCallID string) error
	SetErrorMessage(ctx context.Context, id, message string) error
}

// ResolutionNotifier fans out "attempt changed" signals from the tracker to
// waiters. Signals carry no state; receivers re-read the store.
type ResolutionNotifier interface {
	Publish(ctx context.Context, attemptID string)
	Subscribe(attemptID string) (<-chan struct{}, func())
}

// Dispatcher places a single call attempt.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert Alert, contact Contact, loop, attempt int, message string) (*CallAttempt, error)
}

// Waiter blocks until an attempt resolves or the timeout elapses.
type Waiter interface {
	Wait(ctx context.Context, attemptID string, timeout time.Duration) (Resolution, error)
}

// EventRecorder receives escalation milestones, e.g. for the audit trail.
type EventRecorder interface {
	EscalationStarted(ctx context.Context, alert Alert, chainLength, maxLoops int)
	CallFailed(ctx context.Context, attempt CallAttempt, err error)
	CallResolved(ctx context.Context, attempt CallAttempt, resolution Resolution)
	EscalationFinished(ctx context.Context, alert Alert, outcome *Outcome)
}

type nopRecorder struct{}

func (nopRecorder) EscalationStarted(context.Context, Alert, int, int)    {}
func (nopRecorder) CallFailed(context.Context, CallAttempt, error)        {}
func (nopRecorder) CallResolved(context.Context, CallAttempt, Resolution) {}
func (nopRecorder) EscalationFinished(context.Context, Alert, *Outcome)   {}
