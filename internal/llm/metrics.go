package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Chat model requests by provider and result.",
		},
		[]string{"provider", "result"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Chat model request latency including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)
)
