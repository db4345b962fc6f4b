package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/procflow/internal/store"
)

// auditCollector exports gauges computed from the audit log on every
// scrape.
type auditCollector struct {
	store   *store.Store
	logger  *slog.Logger
	timeout time.Duration

	instances *prometheus.Desc
	waiting   *prometheus.Desc
	up        *prometheus.Desc
}

func newAuditCollector(st *store.Store, logger *slog.Logger) *auditCollector {
	return &auditCollector{
		store:   st,
		logger:  logger,
		timeout: 5 * time.Second,
		instances: prometheus.NewDesc(
			"procflow_audit_instances",
			"Process instances in the audit log by process and status.",
			[]string{"process_id", "status"}, nil,
		),
		waiting: prometheus.NewDesc(
			"procflow_audit_pending_callbacks",
			"Pending callbacks of active instances by process.",
			[]string{"process_id"}, nil,
		),
		up: prometheus.NewDesc(
			"procflow_audit_up",
			"Whether the last audit log read succeeded.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *auditCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.instances
	ch <- c.waiting
	ch <- c.up
}

// Collect implements prometheus.Collector.
func (c *auditCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	counts, waiting, err := c.read(ctx)
	if err != nil {
		c.logger.Warn("audit log read failed", "error", err)
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)

	for key, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.instances, prometheus.GaugeValue, float64(n), key.processID, key.status)
	}
	for processID, n := range waiting {
		ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(n), processID)
	}
}

type statusKey struct {
	processID string
	status    string
}

func (c *auditCollector) read(ctx context.Context) (map[statusKey]int, map[string]int, error) {
	logs, err := c.store.FindProcessInstances(ctx)
	if err != nil {
		return nil, nil, err
	}

	counts := make(map[statusKey]int)
	waiting := make(map[string]int)
	for _, p := range logs {
		counts[statusKey{p.ProcessID, p.Status.String()}]++
		if !p.Active() {
			continue
		}
		pending, err := c.store.FindPendingCallbacksByInstance(ctx, p.ProcessInstanceID)
		if err != nil {
			return nil, nil, err
		}
		waiting[p.ProcessID] += len(pending)
	}
	return counts, waiting, nil
}
