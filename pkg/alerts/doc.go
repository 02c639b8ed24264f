// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package alerts feeds alerts into the escalation engine. A Runner polls one
// or more Sources, stores each new alert once, runs the escalation for it and
// marks it processed when the run concludes. Sources are a Kafka topic and an
// in-process queue fed by the HTTP trigger endpoint.
package alerts
