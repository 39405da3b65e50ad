package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "x402_http_requests_total",
	Help: "Payment-gated requests by outcome.",
}, []string{"outcome"})
