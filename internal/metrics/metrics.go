// Package metrics exposes backup run counters for Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bueste/switchbackup/pkg/models"
)

const namespace = "switchbackup"

// Metrics holds the collectors of one registry
type Metrics struct {
	registry *prometheus.Registry

	harvests        *prometheus.CounterVec
	snapshotsSaved  prometheus.Counter
	snapshotsPruned prometheus.Counter
	harvestDuration prometheus.Histogram
	lastSuccess     *prometheus.GaugeVec
	runs            prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		harvests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "harvests_total",
			Help:      "Device passes by outcome.",
		}, []string{"outcome"}),
		snapshotsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_written_total",
			Help:      "Snapshots written to the backup store.",
		}),
		snapshotsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_pruned_total",
			Help:      "Snapshots removed by retention.",
		}),
		harvestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "harvest_duration_seconds",
			Help:      "Time spent paging through a device configuration.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful pass per device.",
		}, []string{"alias"}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed backup runs.",
		}),
	}

	m.registry.MustRegister(
		m.harvests,
		m.snapshotsSaved,
		m.snapshotsPruned,
		m.harvestDuration,
		m.lastSuccess,
		m.runs,
	)
	return m
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHarvest records how long a successful harvest took
func (m *Metrics) ObserveHarvest(d time.Duration) {
	m.harvestDuration.Observe(d.Seconds())
}

// ObserveDevice records the outcome of one device pass
func (m *Metrics) ObserveDevice(alias string, outcome models.Outcome, pruned int, at time.Time) {
	m.harvests.WithLabelValues(string(outcome)).Inc()
	if outcome == models.OutcomeSaved {
		m.snapshotsSaved.Inc()
	}
	if pruned > 0 {
		m.snapshotsPruned.Add(float64(pruned))
	}
	if !outcome.IsFailure() {
		m.lastSuccess.WithLabelValues(alias).Set(float64(at.Unix()))
	}
}

// ObserveRun counts a finished run
func (m *Metrics) ObserveRun() {
	m.runs.Inc()
}

// WriteTextfile writes the registry in the node_exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
