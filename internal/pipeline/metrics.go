package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	Documents      *prometheus.CounterVec
	Sections       prometheus.Counter
	ItemsAccepted  prometheus.Counter
	ItemsDropped   prometheus.Counter
	CrossRefMisses prometheus.Counter
	StageDuration  *prometheus.HistogramVec
}

// NewMetrics creates the pipeline collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "order_intake",
				Subsystem: "pipeline",
				Name:      "documents_total",
				Help:      "Documents processed, by terminal status.",
			},
			[]string{"status"},
		),
		Sections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "order_intake",
			Subsystem: "pipeline",
			Name:      "sections_total",
			Help:      "Branch sections produced by the splitter.",
		}),
		ItemsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "order_intake",
			Subsystem: "pipeline",
			Name:      "items_accepted_total",
			Help:      "Line items that passed validation.",
		}),
		ItemsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "order_intake",
			Subsystem: "pipeline",
			Name:      "items_dropped_total",
			Help:      "Line items dropped by validation.",
		}),
		CrossRefMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "order_intake",
			Subsystem: "pipeline",
			Name:      "cross_reference_misses_total",
			Help:      "Accepted line items without an internal code.",
		}),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "order_intake",
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"stage"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Documents, m.Sections, m.ItemsAccepted, m.ItemsDropped, m.CrossRefMisses, m.StageDuration)
	}
	return m
}

func (m *Metrics) observeStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
