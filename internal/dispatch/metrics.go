package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dripsend",
			Name:      "sends_total",
			Help:      "Send attempts by the dispatcher.",
		},
		[]string{"result"},
	)
	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dripsend",
			Name:      "send_duration_seconds",
			Help:      "Duration of gateway send calls.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	acksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dripsend",
			Name:      "acks_total",
			Help:      "Acknowledgments by level and outcome.",
		},
		[]string{"level", "result"},
	)
)
