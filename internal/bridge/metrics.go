package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bridge's Prometheus instruments.
type Metrics struct {
	InboundMessages  *prometheus.CounterVec
	Emissions        *prometheus.CounterVec
	RetriesExhausted prometheus.Counter
	ActiveStreams    prometheus.Gauge
	ResponseTokens   prometheus.Counter
	ResponseSeconds  prometheus.Histogram
}

// NewMetrics registers the bridge instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moltbot",
			Name:      "inbound_messages_total",
			Help:      "Inbound platform messages by outcome.",
		}, []string{"outcome"}),
		Emissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moltbot",
			Name:      "emissions_total",
			Help:      "Stream emissions delivered to the platform.",
		}, []string{"kind"}),
		RetriesExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "moltbot",
			Name:      "retries_exhausted_total",
			Help:      "Operations that failed after all retry attempts.",
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "moltbot",
			Name:      "active_streams",
			Help:      "Streaming responses currently in flight.",
		}),
		ResponseTokens: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "moltbot",
			Name:      "response_tokens_total",
			Help:      "Completion tokens consumed across all responses.",
		}),
		ResponseSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "moltbot",
			Name:      "response_seconds",
			Help:      "Wall time from inbound message to final emission.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
}
