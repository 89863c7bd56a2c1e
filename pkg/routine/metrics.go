package routine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the trending pipeline metrics
type Metrics struct {
	UnitsTotal       *prometheus.CounterVec
	RecordsEmitted   prometheus.Counter
	PositionsEmitted prometheus.Counter
	MalformedSamples *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	StreamsLoaded    prometheus.Gauge
}

// NewMetrics creates the pipeline metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UnitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hktrend",
				Subsystem: "routine",
				Name:      "units_total",
				Help:      "Routine units evaluated, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		RecordsEmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hktrend",
				Subsystem: "routine",
				Name:      "records_emitted_total",
				Help:      "Aggregate records handed to the sink",
			},
		),

		PositionsEmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hktrend",
				Subsystem: "routine",
				Name:      "position_samples_emitted_total",
				Help:      "Position ratio samples handed to the sink",
			},
		),

		MalformedSamples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hktrend",
				Subsystem: "routine",
				Name:      "malformed_samples_total",
				Help:      "Matched samples skipped because they could not be read",
			},
			[]string{"kind"},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "hktrend",
				Subsystem: "routine",
				Name:      "run_duration_seconds",
				Help:      "Duration of one day routine including sink hand-off",
				Buckets:   prometheus.DefBuckets,
			},
		),

		StreamsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hktrend",
				Subsystem: "routine",
				Name:      "streams_loaded",
				Help:      "Streams present in the most recently processed day",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.UnitsTotal,
			m.RecordsEmitted,
			m.PositionsEmitted,
			m.MalformedSamples,
			m.RunDuration,
			m.StreamsLoaded,
		)
	}
	return m
}
