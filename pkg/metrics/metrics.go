package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Call attempt metrics
	CallsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_calls_dispatched_total",
		Help: "Total number of call attempts dispatched, by dispatch result (queued, rejected, store_error)",
	}, []string{"result"})
	CallResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_call_resolutions_total",
		Help: "Total number of awaited call attempts by resolution",
	}, []string{"resolution"})
	CallWaitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_escalation_call_wait_seconds",
		Help:    "Time spent waiting for a call attempt to resolve",
		Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90, 120, 180},
	}, []string{"resolution"})
	CallStateConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voice_escalation_call_state_conflicts_total",
		Help: "Total number of compare-and-set conflicts while updating call attempt state",
	})

	// Escalation run metrics
	EscalationRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_runs_total",
		Help: "Total number of escalation runs by outcome (confirmed, exhausted, no_contacts, cancelled)",
	}, []string{"outcome"})
	EscalationsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voice_escalation_runs_in_flight",
		Help: "Number of escalation runs currently in progress",
	})
	EscalationRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_escalation_run_duration_seconds",
		Help:    "Wall clock duration of escalation runs",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	}, []string{"outcome"})

	// Webhook metrics
	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_webhook_events_total",
		Help: "Total number of provider webhook requests by kind (status, gather, instructions) and result",
	}, []string{"kind", "result"})

	RequestsRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_requests_rate_limited_total",
		Help: "Total number of HTTP requests rejected by a rate limiter",
	}, []string{"limiter"})

	// Alert intake metrics
	AlertsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_alerts_received_total",
		Help: "Total number of alerts accepted for escalation, by source",
	}, []string{"source"})
	AlertsDuplicate = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_alerts_duplicate_total",
		Help: "Total number of alerts skipped because they were already known",
	}, []string{"source"})
	AlertSourceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_alert_source_errors_total",
		Help: "Total number of errors while fetching or acknowledging alerts",
	}, []string{"source", "op"})

	// Call provider metrics
	ProviderRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_provider_requests_total",
		Help: "Total number of call provider API requests by result (success, rejected, error, circuit_open)",
	}, []string{"provider", "result"})
	ProviderCircuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_escalation_provider_circuit_state",
		Help: "Call provider circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"provider"})

	// Notifier metrics
	NotifierPublishErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_notifier_publish_errors_total",
		Help: "Total number of failed resolution notifications",
	}, []string{"backend"})

	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"host"})
	MailQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_mail_queued_total",
		Help: "Total number of mails accepted by the operator mail queue",
	}, []string{"host"})
	MailQueueDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_mail_queue_dropped_total",
		Help: "Total number of mails dropped because the queue was full or closing",
	}, []string{"host"})
	MailRetryScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_mail_retry_scheduled_total",
		Help: "Total number of mail retries scheduled",
	}, []string{"host"})
	MailFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_mail_failed_total",
		Help: "Total number of mails given up after all retries",
	}, []string{"host"})

	// Audit metrics
	AuditEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voice_escalation_audit_events_dropped_total",
		Help: "Total number of audit events dropped because the queue was full",
	})
	AuditEventsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_audit_events_written_total",
		Help: "Total number of audit events written per sink",
	}, []string{"sink"})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_escalation_audit_sink_errors_total",
		Help: "Total number of audit sink write errors by error type",
	}, []string{"sink", "error_type"})
	AuditSinkLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_escalation_audit_sink_latency_seconds",
		Help:    "Latency of audit sink writes",
		Buckets: prometheus.DefBuckets,
	}, []string{"sink"})
	AuditSinkConnected = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_escalation_audit_sink_connected",
		Help: "Whether the audit sink is currently connected (1) or not (0)",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(CallsDispatched)
	prometheus.MustRegister(CallResolutions)
	prometheus.MustRegister(CallWaitDuration)
	prometheus.MustRegister(CallStateConflicts)
	prometheus.MustRegister(EscalationRuns)
	prometheus.MustRegister(EscalationsInFlight)
	prometheus.MustRegister(EscalationRunDuration)
	prometheus.MustRegister(WebhookEvents)
	prometheus.MustRegister(RequestsRateLimited)
	prometheus.MustRegister(AlertsReceived)
	prometheus.MustRegister(AlertsDuplicate)
	prometheus.MustRegister(AlertSourceErrors)
	prometheus.MustRegister(ProviderRequests)
	prometheus.MustRegister(ProviderCircuitState)
	prometheus.MustRegister(NotifierPublishErrors)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailQueued)
	prometheus.MustRegister(MailQueueDropped)
	prometheus.MustRegister(MailRetryScheduled)
	prometheus.MustRegister(MailFailed)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditEventsWritten)
	prometheus.MustRegister(AuditSinkErrors)
	prometheus.MustRegister(AuditSinkLatency)
	prometheus.MustRegister(AuditSinkConnected)
}

// MetricsHandler returns the handler serving the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
