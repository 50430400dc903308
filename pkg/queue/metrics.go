package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_queue_enqueued_total",
		Help: "Total writes queued while offline by kind",
	}, []string{"kind"})

	completedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_queue_completed_total",
		Help: "Total queued writes removed after a successful replay by kind",
	}, []string{"kind"})

	cancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_queue_cancelled_total",
		Help: "Total queued writes cancelled by the user by kind",
	}, []string{"kind"})

	reclaimedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_queue_reclaimed_total",
		Help: "Total in-flight writes returned to pending after their lease expired by kind",
	}, []string{"kind"})
)
