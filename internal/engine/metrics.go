package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/regygeorge/nx-workflow/internal/process"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	instancesStarted   *prometheus.CounterVec
	instancesCompleted *prometheus.CounterVec
	tasksCreated       *prometheus.CounterVec
	tasksCompleted     *prometheus.CounterVec
	dispatches         *prometheus.CounterVec
	errors             *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		instancesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nxflow",
			Name:      "instances_started_total",
			Help:      "Process instances started.",
		}, []string{"process"}),
		instancesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nxflow",
			Name:      "instances_completed_total",
			Help:      "Process instances that reached completion.",
		}, []string{"process"}),
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nxflow",
			Name:      "tasks_created_total",
			Help:      "User tasks opened.",
		}, []string{"process"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nxflow",
			Name:      "tasks_completed_total",
			Help:      "User tasks completed.",
		}, []string{"process"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nxflow",
			Name:      "node_dispatches_total",
			Help:      "Token dispatches by node kind.",
		}, []string{"kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nxflow",
			Name:      "engine_errors_total",
			Help:      "Failed engine calls by error code.",
		}, []string{"code"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nxflow",
			Name:      "advance_duration_seconds",
			Help:      "Duration of one advancement run.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"process"}),
	}
	reg.MustRegister(
		m.instancesStarted,
		m.instancesCompleted,
		m.tasksCreated,
		m.tasksCompleted,
		m.dispatches,
		m.errors,
		m.runDuration,
	)
	return m
}

// record applies the counters of a committed run.
func (m *Metrics) record(processID string, s *runStats) {
	if m == nil {
		return
	}
	for kind, n := range s.dispatched {
		m.dispatches.WithLabelValues(string(kind)).Add(float64(n))
	}
	if s.tasksCreated > 0 {
		m.tasksCreated.WithLabelValues(processID).Add(float64(s.tasksCreated))
	}
	if s.completed {
		m.instancesCompleted.WithLabelValues(processID).Inc()
	}
	m.runDuration.WithLabelValues(processID).Observe(s.elapsed.Seconds())
}

func (m *Metrics) started(processID string) {
	if m == nil {
		return
	}
	m.instancesStarted.WithLabelValues(processID).Inc()
}

func (m *Metrics) taskCompleted(processID string) {
	if m == nil {
		return
	}
	m.tasksCompleted.WithLabelValues(processID).Inc()
}

func (m *Metrics) failed(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "UNKNOWN"
	}
	m.errors.WithLabelValues(code).Inc()
}

// runStats accumulates what one advancement run did. It is applied to Metrics
// only after the surrounding transaction commits.
type runStats struct {
	dispatched   map[process.Kind]int
	tasksCreated int
	completed    bool
	elapsed      time.Duration
}

func newRunStats() *runStats {
	return &runStats{dispatched: make(map[process.Kind]int)}
}
