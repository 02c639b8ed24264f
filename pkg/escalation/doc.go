// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package escalation drives the voice confirmation protocol for a single alert.
//
// An Orchestrator walks the active contact chain in escalation order, asks the
// CallDispatcher to place one call at a time and blocks on the
// ConfirmationWaiter until the awaited call is confirmed, ends without
// confirmation or times out. Provider webhooks reach the CallStatusTracker on a
// separate path; the tracker updates the CallRecordStore with compare-and-set
// writes and notifies waiters. The first confirmation halts the escalation.
package escalation
