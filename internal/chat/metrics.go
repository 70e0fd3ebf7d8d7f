package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pipeline's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	replies    *prometheus.CounterVec
	generation *prometheus.HistogramVec
	rejected   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidchat",
			Subsystem: "chat",
			Name:      "replies_total",
			Help:      "Answered messages and questions by outcome and provider.",
		}, []string{"outcome", "provider"}),
		generation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vidchat",
			Subsystem: "chat",
			Name:      "generation_seconds",
			Help:      "Latency of text-generation calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"provider", "result"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vidchat",
			Subsystem: "chat",
			Name:      "quota_rejections_total",
			Help:      "Requests rejected by the daily quota.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.replies, m.generation, m.rejected)
	}
	return m
}

func (m *Metrics) observeReply(outcome, provider string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(outcome, provider).Inc()
}

func (m *Metrics) observeGeneration(provider string, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.generation.WithLabelValues(provider, result).Observe(d.Seconds())
}

func (m *Metrics) observeRejection() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}
