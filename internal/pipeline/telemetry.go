package pipeline

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.CounterVec
	inFlight prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prfactory",
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Agent pipeline runs by agent and outcome.",
		}, []string{"agent", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "prfactory",
			Subsystem: "agent",
			Name:      "run_duration_seconds",
			Help:      "Wall time of agent pipeline runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		}, []string{"agent"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prfactory",
			Subsystem: "agent",
			Name:      "retries_total",
			Help:      "In-run retry attempts by agent and error type.",
		}, []string{"agent", "error_type"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "prfactory",
			Subsystem: "agent",
			Name:      "runs_in_flight",
			Help:      "Agent runs currently executing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.duration, m.retries, m.inFlight)
	}
	return m
}

func (m *Metrics) retried(agent, errorType string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(agent, errorType).Inc()
}

// Telemetry samples duration and outcome of each run.
type Telemetry struct {
	Metrics *Metrics
}

func (t Telemetry) Invoke(ctx context.Context, actx *AgentContext, next Handler) (*Result, error) {
	m := t.Metrics
	m.inFlight.Inc()
	defer m.inFlight.Dec()

	start := time.Now()
	res, err := next(ctx, actx)
	m.duration.WithLabelValues(actx.AgentName).Observe(time.Since(start).Seconds())
	m.runs.WithLabelValues(actx.AgentName, outcome(res, err)).Inc()
	return res, err
}

func outcome(res *Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.failed() && res.Cancelled:
		return "cancelled"
	case res.failed():
		return "failed"
	case res.Suspended:
		return "suspended"
	default:
		return "completed"
	}
}
