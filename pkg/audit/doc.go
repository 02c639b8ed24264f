// Package audit records the escalation trail (escalations started and finished,
// calls failed and resolved) and forwards the events to configurable sinks
// (log, Kafka) through isolated queues.
package audit
