package guestgc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes queue and cleanup counters. A nil registerer builds
// unregistered collectors, which keeps tests independent of each other.
type Metrics struct {
	TasksSubmitted prometheus.Counter
	TasksCoalesced prometheus.Counter
	QueueLength    prometheus.Gauge
	Actions        *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	Sweeps         *prometheus.CounterVec
	SweepRetries   prometheus.Counter
	SweepDuration  prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TasksSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "guestgc",
			Name:      "tasks_submitted_total",
			Help:      "Cleanup tasks submitted to the debounced queue.",
		}),
		TasksCoalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: "guestgc",
			Name:      "tasks_coalesced_total",
			Help:      "Submissions that replaced an equal pending task.",
		}),
		QueueLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "guestgc",
			Name:      "queue_length",
			Help:      "Tasks waiting in the debounced queue.",
		}),
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guestgc",
			Name:      "cleanup_actions_total",
			Help:      "Per-guest cleanup decisions by action.",
		}, []string{"action"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guestgc",
			Name:      "task_failures_total",
			Help:      "Failed cleanup tasks by failure kind.",
		}, []string{"kind"}),
		Sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guestgc",
			Name:      "sweeps_total",
			Help:      "Periodic sweeps by result.",
		}, []string{"result"}),
		SweepRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "guestgc",
			Name:      "sweep_retries_total",
			Help:      "Schema retries after transient failures.",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "guestgc",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of completed sweeps.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}
