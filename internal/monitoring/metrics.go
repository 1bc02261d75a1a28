package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	ProvisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_provisions_total",
			Help: "Total number of provisioning attempts by outcome",
		},
		[]string{"outcome"},
	)
	ProvisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenant_provision_duration_seconds",
			Help:    "Duration of tenant provisioning in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	SweepRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repair_sweep_repairs_total",
			Help: "Total number of repairs applied by the sweep, by kind",
		},
		[]string{"kind"},
	)
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "repair_sweep_duration_seconds",
			Help:    "Duration of repair sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	InvariantViolations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "invariant_violations",
			Help: "Violations found by the last invariant check, by kind",
		},
		[]string{"kind"},
	)
)

func InitMetrics() {
	collectors := []prometheus.Collector{
		ProvisionsTotal, ProvisionDuration, SweepRepairsTotal, SweepDuration, InvariantViolations,
	}
	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Msg("Failed to register metric")
		}
	}
}
