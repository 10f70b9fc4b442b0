// Package metrics exposes Prometheus instrumentation for the coordinator
// jobs and the transactions they submit.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the coordinator's instrument set backed by one registry.
type Metrics struct {
	registry *prometheus.Registry

	JobRuns     *prometheus.CounterVec
	JobFailures *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	BribesIngested prometheus.Counter
	BribesClaimed  prometheus.Counter
	BribesReturned prometheus.Counter

	TxSubmitted *prometheus.CounterVec

	PayoutsRecorded *prometheus.CounterVec
}

// New creates the instrument set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bribes_job_runs_total",
			Help: "Completed scheduler job runs",
		}, []string{"job"}),
		JobFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bribes_job_failures_total",
			Help: "Scheduler job runs that returned an error",
		}, []string{"job"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bribes_job_duration_seconds",
			Help:    "Scheduler job wall time",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"job"}),
		BribesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "bribes_ingested_total",
			Help: "Claimable balances ingested as bribes",
		}),
		BribesClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bribes_claimed_total",
			Help: "Bribes claimed and activated",
		}),
		BribesReturned: factory.NewCounter(prometheus.CounterOpts{
			Name: "bribes_returned_total",
			Help: "Bribes returned to their sponsor",
		}),
		TxSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bribes_transactions_submitted_total",
			Help: "Horizon transaction submissions by kind and outcome",
		}, []string{"kind", "outcome"}),
		PayoutsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bribes_payouts_recorded_total",
			Help: "Payout rows recorded by status",
		}, []string{"status"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
