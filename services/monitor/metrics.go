package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the monitor's Prometheus collectors.
type Metrics struct {
	Scans       prometheus.Counter
	ScanErrors  prometheus.Counter
	ActiveLoops prometheus.Gauge
	// Checks is labelled by service, event and result ("true", "false", "error").
	Checks *prometheus.CounterVec
	// Executions is labelled by service, event and result ("success", "error", "skipped").
	Executions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scans: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "linkit_monitor_scans_total",
				Help: "Number of workflow scans",
			},
		),
		ScanErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "linkit_monitor_scan_errors_total",
				Help: "Number of workflow scans that failed to query the store",
			},
		),
		ActiveLoops: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkit_monitor_active_loops",
				Help: "Number of trigger polling loops currently scheduled",
			},
		),
		Checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkit_monitor_checks_total",
				Help: "Number of trigger checks",
			},
			[]string{"service", "event", "result"},
		),
		Executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkit_monitor_executions_total",
				Help: "Number of reaction executions",
			},
			[]string{"service", "event", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Scans, m.ScanErrors, m.ActiveLoops, m.Checks, m.Executions)
	}
	return m
}
