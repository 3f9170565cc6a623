// Package metrics exposes Prometheus metrics for the letterbox service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job lifecycle
	jobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "letterbox_jobs_submitted_total",
		Help: "Total number of jobs accepted for processing",
	})

	jobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "letterbox_jobs_finished_total",
		Help: "Jobs reaching a terminal state, by state and error kind",
	}, []string{"state", "kind"}) // state=succeeded|failed

	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "letterbox_jobs_in_flight",
		Help: "Jobs currently held by a worker",
	})

	stageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "letterbox_stage_duration_seconds",
		Help:    "Time spent per pipeline stage",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"stage"}) // stage=downloading|processing|finalizing

	// Media
	itemsNormalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "letterbox_items_normalized_total",
		Help: "Media items passed through the normalizer, by kind and outcome",
	}, []string{"kind", "outcome"}) // outcome=untouched|rewritten|inspected|error

	// Retention
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "letterbox_sweep_runs_total",
		Help: "Total number of retention sweeps",
	})
	sweepRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "letterbox_sweep_removed_total",
		Help: "Paths removed by the retention sweeper",
	}, []string{"type"}) // type=file|dir
	sweepBytesFreedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "letterbox_sweep_bytes_freed_total",
		Help: "Bytes reclaimed by the retention sweeper",
	})
	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "letterbox_sweep_errors_total",
		Help: "Per-path failures during retention sweeps",
	})

	notifyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "letterbox_notify_failures_total",
		Help: "Total number of failed completion notifications",
	})
)

func IncJobSubmitted() { jobsSubmittedTotal.Inc() }

func RecordJobFinished(state, kind string) {
	jobsFinishedTotal.WithLabelValues(state, kind).Inc()
}

func IncJobsInFlight() { jobsInFlight.Inc() }
func DecJobsInFlight() { jobsInFlight.Dec() }

func ObserveStage(stage string, d time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func IncItemNormalized(kind, outcome string) {
	itemsNormalizedTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordSweep(files, dirs int, bytesFreed int64, errs int) {
	sweepRunsTotal.Inc()
	sweepRemovedTotal.WithLabelValues("file").Add(float64(files))
	sweepRemovedTotal.WithLabelValues("dir").Add(float64(dirs))
	sweepBytesFreedTotal.Add(float64(bytesFreed))
	sweepErrorsTotal.Add(float64(errs))
}

func IncNotifyFailure() { notifyFailuresTotal.Inc() }
