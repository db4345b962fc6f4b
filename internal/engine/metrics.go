package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/procflow/internal/graph"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	instancesStarted   *prometheus.CounterVec
	instancesCompleted *prometheus.CounterVec
	instancesAborted   *prometheus.CounterVec
	nodeVisits         *prometheus.CounterVec
	eventsDelivered    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		instancesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "procflow",
				Name:      "instances_started_total",
				Help:      "Process instances started.",
			},
			[]string{"process_id"},
		),
		instancesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "procflow",
				Name:      "instances_completed_total",
				Help:      "Process instances that reached their End node.",
			},
			[]string{"process_id"},
		),
		instancesAborted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "procflow",
				Name:      "instances_aborted_total",
				Help:      "Process instances aborted by request or by a handler failure.",
			},
			[]string{"process_id"},
		),
		nodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "procflow",
				Name:      "node_visits_total",
				Help:      "Nodes entered, by node type.",
			},
			[]string{"node_type"},
		),
		eventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "procflow",
				Name:      "events_delivered_total",
				Help:      "Delivered events, by whether any waiting instance matched.",
			},
			[]string{"event_ref", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.instancesStarted,
			m.instancesCompleted,
			m.instancesAborted,
			m.nodeVisits,
			m.eventsDelivered,
		)
	}
	return m
}

func (m *Metrics) started(processID string) {
	if m != nil {
		m.instancesStarted.WithLabelValues(processID).Inc()
	}
}

func (m *Metrics) completed(processID string) {
	if m != nil {
		m.instancesCompleted.WithLabelValues(processID).Inc()
	}
}

func (m *Metrics) aborted(processID string) {
	if m != nil {
		m.instancesAborted.WithLabelValues(processID).Inc()
	}
}

func (m *Metrics) visited(t graph.NodeType) {
	if m != nil {
		m.nodeVisits.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) delivered(eventRef string, matched bool) {
	if m == nil {
		return
	}
	result := "missed"
	if matched {
		result = "matched"
	}
	m.eventsDelivered.WithLabelValues(eventRef, result).Inc()
}
