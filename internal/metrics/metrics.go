// Package metrics exports the check verdict in Prometheus text format for the
// node_exporter textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jandubois/omnicube-probe/internal/probe"
)

var labels = []string{"appliance", "mode"}

// Metrics holds the gauges of a single check run.
type Metrics struct {
	registry *prometheus.Registry

	Status          *prometheus.GaugeVec
	FailedHosts     *prometheus.GaugeVec
	RetriedHosts    *prometheus.GaugeVec
	NotStartedHosts *prometheus.GaugeVec
	MatchedHosts    *prometheus.GaugeVec
	Duration        *prometheus.GaugeVec
	LastRun         *prometheus.GaugeVec
}

// New creates the gauges on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Status: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "omnicube_check_status",
			Help: "Check status as plugin exit code (0 ok, 1 warning, 2 critical, 3 unknown)",
		}, labels),
		FailedHosts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "omnicube_backup_failed_hosts",
			Help: "Hosts whose backup failed without a later success",
		}, labels),
		RetriedHosts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "omnicube_backup_retried_hosts",
			Help: "Hosts that needed more than one try for a successful backup",
		}, labels),
		NotStartedHosts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "omnicube_backup_not_started_hosts",
			Help: "Hosts with a backup policy but no backup in the window",
		}, labels),
		MatchedHosts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "omnicube_policy_matched_hosts",
			Help: "Hosts matching the requested backup policy",
		}, labels),
		Duration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "omnicube_check_duration_seconds",
			Help: "Duration of the check run",
		}, labels),
		LastRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "omnicube_check_last_run_timestamp_seconds",
			Help: "Unix time the check finished",
		}, labels),
	}
}

// Observe records result. Count gauges are only set when the result carries
// the matching metric.
func (m *Metrics) Observe(appliance, mode string, result *probe.Result, elapsed time.Duration, finished time.Time) {
	m.Status.WithLabelValues(appliance, mode).Set(float64(result.Status.ExitCode()))
	m.Duration.WithLabelValues(appliance, mode).Set(elapsed.Seconds())
	m.LastRun.WithLabelValues(appliance, mode).Set(float64(finished.Unix()))

	counts := map[string]*prometheus.GaugeVec{
		"failed_hosts":      m.FailedHosts,
		"retried_hosts":     m.RetriedHosts,
		"not_started_hosts": m.NotStartedHosts,
		"matched_hosts":     m.MatchedHosts,
	}
	for key, gauge := range counts {
		if v, ok := number(result.Metrics[key]); ok {
			gauge.WithLabelValues(appliance, mode).Set(v)
		}
	}
}

// WriteTextfile atomically replaces path with the current values.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
