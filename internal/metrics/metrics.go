package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Ticks               prometheus.Counter
	TickFailures        prometheus.Counter
	MessagesFetched     prometheus.Counter
	EmailsStored        prometheus.Counter
	Duplicates          prometheus.Counter
	Skipped             prometheus.Counter
	Failed              prometheus.Counter
	ClassifierFallbacks prometheus.Counter
	TasksCreated        prometheus.Counter
	ProcessingSuccesses prometheus.Counter
	ProcessingFailures  *prometheus.CounterVec
	TickDuration        prometheus.Histogram
	ScheduledJobs       prometheus.Gauge
}

// NewMetrics creates the pipeline metrics and registers them with reg.
// A nil reg registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_ticks_total",
			Help: "Total number of ingestion ticks",
		}),
		TickFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_tick_failures_total",
			Help: "Total number of ticks aborted by a listing error",
		}),
		MessagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_messages_fetched_total",
			Help: "Total number of messages returned by the mail source",
		}),
		EmailsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_emails_stored_total",
			Help: "Total number of emails persisted",
		}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_duplicates_total",
			Help: "Total number of messages rejected as duplicates",
		}),
		Skipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_skipped_total",
			Help: "Total number of messages skipped",
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_failed_total",
			Help: "Total number of messages that failed to process",
		}),
		ClassifierFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_classifier_fallbacks_total",
			Help: "Total number of classifications that fell back to the sentinel",
		}),
		TasksCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_tasks_created_total",
			Help: "Total number of processing tasks created",
		}),
		ProcessingSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailflow_processing_successes_total",
			Help: "Total number of successful document processing calls",
		}),
		ProcessingFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailflow_processing_failures_total",
			Help: "Total number of failed document processing calls",
		}, []string{"kind"}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailflow_tick_duration_seconds",
			Help:    "Time spent in one ingestion tick",
			Buckets: prometheus.DefBuckets,
		}),
		ScheduledJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailflow_scheduled_jobs",
			Help: "Number of currently scheduled jobs",
		}),
	}
}
