package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcome labels.
const (
	statusOK       = "ok"
	statusError    = "error"
	statusCanceled = "canceled"
	statusFailed   = "failed"
)

// Metrics tracks queue depth and job outcomes.
type Metrics struct {
	QueueDepth  prometheus.Gauge
	JobsTotal   *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
}

// NewMetrics registers the scheduler metrics with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "rolodex",
				Subsystem: "scheduler",
				Name:      "queue_depth",
				Help:      "Number of write requests waiting for the worker",
			},
		),
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rolodex",
				Subsystem: "scheduler",
				Name:      "jobs_total",
				Help:      "Total number of write requests by outcome",
			},
			[]string{"status"},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rolodex",
				Subsystem: "scheduler",
				Name:      "job_duration_seconds",
				Help:      "Duration of write requests in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"name"},
		),
	}
}

func (m *Metrics) depth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) outcome(status string) {
	if m != nil {
		m.JobsTotal.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) observe(name string, seconds float64) {
	if m != nil {
		m.JobDuration.WithLabelValues(name).Observe(seconds)
	}
}
