// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// === Alert events ===
	EventAlertReceived  EventType = "alert.received"
	EventAlertProcessed EventType = "alert.processed"

	// === Escalation lifecycle events ===
	EventEscalationStarted    EventType = "escalation.started"
	EventEscalationConfirmed  EventType = "escalation.confirmed"
	EventEscalationExhausted  EventType = "escalation.exhausted"
	EventEscalationNoContacts EventType = "escalation.no_contacts"
	EventEscalationCancelled  EventType = "escalation.cancelled"

	// === Call events ===
	EventCallFailed     EventType = "call.failed"
	EventCallTimedOut   EventType = "call.timed_out"
	EventCallConfirmed  EventType = "call.confirmed"
	EventCallUnanswered EventType = "call.unanswered"
)

// Severity indicates how urgently an event needs attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event represents a single audit event
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id"`

	Type     EventType `json:"type"`
	Severity Severity  `json:"severity"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Alert is the alert the event belongs to
	Alert AlertRef `json:"alert"`

	// Call is set for call level events
	Call *CallRef `json:"call,omitempty"`

	// Details contains event-specific information
	Details map[string]interface{} `json:"details,omitempty"`
}

// AlertRef identifies the alert an event belongs to.
type AlertRef struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalID,omitempty"`
	Source     string `json:"source,omitempty"`
	Subject    string `json:"subject,omitempty"`
}

// CallRef identifies a single call attempt.
type CallRef struct {
	AttemptID      string `json:"attemptID"`
	ContactID      string `json:"contactID"`
	ContactName    string `json:"contactName,omitempty"`
	Loop           int    `json:"loop"`
	Attempt        int    `json:"attempt"`
	Status         string `json:"status"`
	ProviderCallID string `json:"providerCallID,omitempty"`
}

// SeverityForEventType returns the default severity for an event type
func SeverityForEventType(eventType EventType) Severity {
	switch eventType {
	// nobody acknowledged the alert
	case EventEscalationExhausted, EventEscalationNoContacts:
		return SeverityCritical
	case EventCallFailed, EventCallTimedOut, EventEscalationCancelled:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
