package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors holds the Prometheus instruments exported by the daemon.
type Collectors struct {
	ObjectsTotal     *prometheus.CounterVec
	DiversionsTotal  *prometheus.CounterVec
	PipelineFailures *prometheus.CounterVec
	FaultsTotal      *prometheus.CounterVec

	DiversionDelay   prometheus.Histogram
	ProcessingTime   prometheus.Histogram
	ActuationLatency prometheus.Histogram
	StateGauge       *prometheus.GaugeVec

	CPUPercent    prometheus.Gauge
	MemoryPercent prometheus.Gauge
	TemperatureC  prometheus.Gauge
	BinLevelPct   *prometheus.GaugeVec
}

// NewCollectors registers the sorting-line instruments on reg. Registering
// the same instruments twice on one registry panics, so callers own the
// registry lifecycle.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		ObjectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sortline",
			Subsystem: "pipeline",
			Name:      "objects_total",
			Help:      "Objects classified, by category",
		}, []string{"category"}),
		DiversionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sortline",
			Subsystem: "pipeline",
			Name:      "diversions_total",
			Help:      "Diversion attempts by outcome",
		}, []string{"outcome"}),
		PipelineFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sortline",
			Subsystem: "pipeline",
			Name:      "failures_total",
			Help:      "Pipeline stage failures by stage",
		}, []string{"stage"}),
		FaultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sortline",
			Subsystem: "recovery",
			Name:      "faults_total",
			Help:      "Fault recovery outcomes",
		}, []string{"outcome"}),
		DiversionDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sortline",
			Subsystem: "pipeline",
			Name:      "diversion_delay_seconds",
			Help:      "Computed camera-to-diverter travel delays",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		ProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sortline",
			Subsystem: "pipeline",
			Name:      "processing_seconds",
			Help:      "Capture-to-decision time per object",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		ActuationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sortline",
			Subsystem: "pipeline",
			Name:      "actuation_latency_seconds",
			Help:      "Diverter activation round-trip time",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		StateGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sortline",
			Subsystem: "controller",
			Name:      "state",
			Help:      "Controller state flags; the active state is 1",
		}, []string{"state"}),
		CPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sortline",
			Subsystem: "system",
			Name:      "cpu_percent",
			Help:      "Controller host CPU utilization",
		}),
		MemoryPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sortline",
			Subsystem: "system",
			Name:      "memory_percent",
			Help:      "Controller host memory utilization",
		}),
		TemperatureC: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sortline",
			Subsystem: "system",
			Name:      "temperature_celsius",
			Help:      "Controller SoC temperature",
		}),
		BinLevelPct: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sortline",
			Subsystem: "bins",
			Name:      "fill_percent",
			Help:      "Collection bin fill level, by category",
		}, []string{"category"}),
	}
}

// SetState marks one state active and clears the others.
func (c *Collectors) SetState(states []string, active string) {
	for _, state := range states {
		value := 0.0
		if state == active {
			value = 1.0
		}
		c.StateGauge.WithLabelValues(state).Set(value)
	}
}
