// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"fmt"
	"strings"
)

// CallStatus is the lifecycle status of a CallAttempt.
type CallStatus string

const (
	StatusInitiated  CallStatus = "initiated"
	StatusQueued     CallStatus = "queued"
	StatusRinging    CallStatus = "ringing"
	StatusInProgress CallStatus = "in-progress"
	StatusCompleted  CallStatus = "completed"
	StatusBusy       CallStatus = "busy"
	StatusNoAnswer   CallStatus = "no-answer"
	StatusFailed     CallStatus = "failed"
	StatusCanceled   CallStatus = "canceled"
	StatusConfirmed  CallStatus = "confirmed"
)

// progress orders the non-terminal statuses. A late, lower ranked event never
// moves an attempt backwards.
var progress = map[CallStatus]int{
	StatusInitiated:  1,
	StatusQueued:     2,
	StatusRinging:    3,
	StatusInProgress: 4,
}

// IsTerminal reports whether no further transition is expected after s.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusCompleted, StatusNoAnswer, StatusBusy, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// ParseProviderStatus maps the provider's status vocabulary onto CallStatus.
// "confirmed" is internal and is rejected here; it is only reachable through a
// confirmation event.
func ParseProviderStatus(raw string) (CallStatus, error) {
	s := CallStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusQueued, StatusInitiated, StatusRinging, StatusInProgress,
		StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed, StatusCanceled:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown call status %q", ErrWebhookMalformed, raw)
}

// applyStatus computes the state after a provider status event. The boolean is
// false when the event does not change anything.
func applyStatus(cur AttemptState, ev CallStatus, duration *int) (AttemptState, bool) {
	next := cur
	if duration != nil && *duration >= 0 {
		next.Duration = *duration
	}
	switch {
	case cur.Confirmed:
		// latched; only the duration may still be filled in
	case cur.Status.IsTerminal():
	case ev.IsTerminal():
		next.Status = ev
	case progress[ev] > progress[cur.Status]:
		next.Status = ev
	}
	return next, next != cur
}

// applyConfirmation latches the confirmed flag.
func applyConfirmation(cur AttemptState) (AttemptState, bool) {
	if cur.Confirmed {
		return cur, false
	}
	next := cur
	next.Confirmed = true
	next.Status = StatusConfirmed
	return next, true
}
