// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"errors"
	"fmt"
)

var (
	// ErrAttemptNotFound is returned by stores for unknown attempt ids.
	ErrAttemptNotFound = errors.New("call attempt not found")
	// ErrStateConflict is returned when a compare-and-set lost against a
	// concurrent writer more often than the retry budget allows.
	ErrStateConflict = errors.New("call attempt state changed concurrently")
	// ErrWebhookMalformed marks provider callbacks that cannot be interpreted.
	ErrWebhookMalformed = errors.New("malformed webhook payload")
	// ErrTimeout marks an attempt that did not resolve within its bound.
	ErrTimeout = errors.New("timed out waiting for call resolution")
	// ErrNoActiveContacts is returned by Run for an empty escalation chain.
	ErrNoActiveContacts = errors.New("no active contacts in escalation chain")
	// ErrExhausted is returned by Run when every loop completed without confirmation.
	ErrExhausted = errors.New("escalation exhausted without confirmation")
)

// DispatchError is returned when the call provider refuses a call request.
// It is not retried for the same contact.
type DispatchError struct {
	AttemptID string
	Phone     string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatching call %s to %s: %v", e.AttemptID, e.Phone, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// PersistenceError is returned when an attempt could not be recorded.
type PersistenceError struct {
	Op        string
	AttemptID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s for call %s: %v", e.Op, e.AttemptID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
