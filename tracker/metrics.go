package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	settlementsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "x402_settlements_confirmed_total",
		Help: "Payments that reached the confirmed state.",
	})

	settlementsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402_settlements_failed_total",
		Help: "Payments that reached the failed state, by reason.",
	}, []string{"reason"})

	settlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "x402_settlement_duration_seconds",
		Help:    "Time from ledger submission to confirmation.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	pollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "x402_receipt_poll_errors_total",
		Help: "Receipt queries that failed transiently.",
	})

	recordsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "x402_records_in_flight",
		Help: "Tracked records still awaiting a terminal state.",
	})
)
