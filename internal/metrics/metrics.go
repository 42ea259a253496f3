package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Intake
	MailSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_mail_submitted_total",
		Help: "Total number of mail requests accepted and logged",
	}, []string{"kind"})
	MailRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_mail_rejected_total",
		Help: "Total number of mail requests rejected by validation",
	}, []string{"kind", "reason"})
	MailEnqueueFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_mail_enqueue_failed_total",
		Help: "Total number of logs persisted whose dispatch job could not be enqueued",
	}, []string{"kind"})

	// Delivery
	MailAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_delivery_attempts_total",
		Help: "Total number of delivery attempts grouped by outcome",
	}, []string{"kind", "outcome"})
	MailSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_mail_sent_total",
		Help: "Total number of mail logs transitioned to SENT",
	}, []string{"kind"})
	MailFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_mail_failed_total",
		Help: "Total number of mail logs transitioned to FAILED",
	}, []string{"kind"})
	ProviderLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mailer_provider_send_duration_seconds",
		Help:    "Duration of delivery provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	// Queue
	QueueJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_queue_jobs_total",
		Help: "Queue job transitions grouped by backend and action (enqueued, completed, retried, exhausted)",
	}, []string{"backend", "action"})

	// Maintenance
	RetentionDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mailer_retention_deleted_total",
		Help: "Total number of sent mail logs removed by the retention sweeper",
	})
	OrphansRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mailer_orphans_requeued_total",
		Help: "Total number of pending logs without a job that were enqueued again",
	})
)

func init() {
	prometheus.MustRegister(MailSubmitted)
	prometheus.MustRegister(MailRejected)
	prometheus.MustRegister(MailEnqueueFailed)
	prometheus.MustRegister(MailAttempts)
	prometheus.MustRegister(MailSent)
	prometheus.MustRegister(MailFailed)
	prometheus.MustRegister(ProviderLatency)
	prometheus.MustRegister(QueueJobs)
	prometheus.MustRegister(RetentionDeleted)
	prometheus.MustRegister(OrphansRequeued)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
