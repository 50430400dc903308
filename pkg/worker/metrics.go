package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes.
const (
	outcomeNetwork     = "network"
	outcomeCache       = "cache"
	outcomeOfflinePage = "offline_page"
	outcomeOffline     = "offline"
	outcomeCaptured    = "captured"
	outcomePassthrough = "passthrough"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_requests_total",
		Help: "Total intercepted requests by strategy and outcome",
	}, []string{"strategy", "outcome"})

	capturedWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_captured_writes_total",
		Help: "Total writes captured to the outbox while offline",
	})

	storesPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_stores_purged_total",
		Help: "Total stores of previous versions dropped at activation",
	})
)
