package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiCallsLatencyMs,
		aiQuotaErrors,
	)
}

var (
	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exremover_ai_calls_latency_ms",
			Help:    "Vision/edit provider call latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		},
		[]string{"provider", "op", "success"},
	)

	aiQuotaErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exremover_ai_quota_errors_total",
			Help: "Provider calls refused for billing or quota reasons.",
		},
		[]string{"provider", "op"},
	)
)

func ObserveAICall(provider, op string, latencyMs int64, success bool) {
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(op), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func IncAIQuotaError(provider, op string) {
	aiQuotaErrors.WithLabelValues(norm(provider), norm(op)).Inc()
}
