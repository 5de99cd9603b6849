package stats

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gatehouse/gatehouse/admission"
)

// Prometheus exposes admission outcomes as counters.
type Prometheus struct {
	decisions *prometheus.CounterVec
}

// NewPrometheus registers the collectors with reg. Pass
// prometheus.DefaultRegisterer in the binary; tests use a fresh
// prometheus.NewRegistry for isolation.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	return &Prometheus{
		decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gatehouse",
				Subsystem: "admission",
				Name:      "decisions_total",
				Help:      "Admission pipeline outcomes by gate and result",
			},
			[]string{"gate", "outcome", "reason"},
		),
	}
}

// Record implements admission.Recorder.
func (p *Prometheus) Record(_ context.Context, ev admission.Event) error {
	gate := ev.Gate
	if gate == "" {
		gate = "pipeline"
	}
	p.decisions.WithLabelValues(gate, string(ev.Outcome), string(ev.Reason)).Inc()
	return nil
}
