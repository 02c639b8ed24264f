// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"sort"
	"time"
)

// Alert is a single incoming event that needs human acknowledgment.
type Alert struct {
	ID         string    `json:"id" yaml:"id"`
	ExternalID string    `json:"externalID,omitempty" yaml:"externalID,omitempty"`
	Source     string    `json:"source,omitempty" yaml:"source,omitempty"`
	Sender     string    `json:"sender,omitempty" yaml:"sender,omitempty"`
	Subject    string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	Preview    string    `json:"preview,omitempty" yaml:"preview,omitempty"`
	ReceivedAt time.Time `json:"receivedAt" yaml:"receivedAt"`
	Processed  bool      `json:"processed" yaml:"processed"`
	Confirmed  bool      `json:"confirmed" yaml:"confirmed"`
	// ProcessedAt is set together with Processed.
	ProcessedAt *time.Time `json:"processedAt,omitempty" yaml:"processedAt,omitempty"`
}

// Contact is one member of an escalation chain.
type Contact struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Phone  string `json:"phone" yaml:"phone"`
	Order  int    `json:"order" yaml:"order"`
	Active bool   `json:"active" yaml:"active"`
}

// ActiveChain returns the active contacts sorted by ascending escalation order.
// The input slice is not modified.
func ActiveChain(contacts []Contact) []Contact {
	chain := make([]Contact, 0, len(contacts))
	for _, c := range contacts {
		if c.Active {
			chain = append(chain, c)
		}
	}
	sort.SliceStable(chain, func(i, j int) bool { return chain[i].Order < chain[j].Order })
	return chain
}

// CallAttempt is a single call placed to one contact during one loop.
type CallAttempt struct {
	ID             string     `json:"id" yaml:"id"`
	AlertID        string     `json:"alertID" yaml:"alertID"`
	ContactID      string     `json:"contactID" yaml:"contactID"`
	ContactName    string     `json:"contactName" yaml:"contactName"`
	Phone          string     `json:"phone" yaml:"phone"`
	ProviderCallID string     `json:"providerCallID,omitempty" yaml:"providerCallID,omitempty"`
	Status         CallStatus `json:"status" yaml:"status"`
	Confirmed      bool       `json:"confirmed" yaml:"confirmed"`
	LoopNumber     int        `json:"loopNumber" yaml:"loopNumber"`
	AttemptNumber  int        `json:"attemptNumber" yaml:"attemptNumber"`
	// Duration is the call length in seconds as reported by the provider.
	Duration     int       `json:"duration" yaml:"duration"`
	ErrorMessage string    `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	Message      string    `json:"-" yaml:"-"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// State returns the compare-and-set relevant part of the attempt.
func (a CallAttempt) State() AttemptState {
	return AttemptState{Status: a.Status, Confirmed: a.Confirmed, Duration: a.Duration}
}

// AttemptState is the mutable status portion of a CallAttempt. Store writes to
// it are compare-and-set on Status and Confirmed.
type AttemptState struct {
	Status    CallStatus
	Confirmed bool
	Duration  int
}

// Resolution is the result of waiting on a dispatched call.
type Resolution int

const (
	ResolutionTimedOut Resolution = iota
	ResolutionConfirmed
	ResolutionTerminalUnconfirmed
)

func (r Resolution) String() string {
	switch r {
	case ResolutionConfirmed:
		return "confirmed"
	case ResolutionTerminalUnconfirmed:
		return "terminal_unconfirmed"
	default:
		return "timed_out"
	}
}

// SessionResult is the overall state of an escalation session.
type SessionResult string

const (
	SessionPending   SessionResult = "pending"
	SessionConfirmed SessionResult = "confirmed"
	SessionFailed    SessionResult = "failed"
)

// Outcome is returned by Orchestrator.Run.
type Outcome struct {
	AlertID   string        `json:"alertID"`
	Result    SessionResult `json:"result"`
	Confirmed bool          `json:"confirmed"`
	// ConfirmedBy is the contact whose call was confirmed, if any.
	ConfirmedBy *Contact      `json:"confirmedBy,omitempty"`
	Loops       int           `json:"loops"`
	Attempts    []CallAttempt `json:"attempts"`
	// Cancelled is set when the run stopped because its context ended.
	Cancelled bool `json:"cancelled,omitempty"`
}
