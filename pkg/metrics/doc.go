// Package metrics defines Prometheus metrics for the escalation service,
// covering call dispatch and resolution, escalation runs, provider webhooks,
// alert intake, the outbound provider, mail delivery and audit sinks.
package metrics
