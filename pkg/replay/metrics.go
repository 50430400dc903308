package replay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Replay results.
const (
	resultSynced  = "synced"
	resultFailed  = "failed"
	resultSkipped = "skipped"
)

var (
	replayTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_replay_total",
		Help: "Total replay attempts by sync tag and result",
	}, []string{"family", "result"})

	replayRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_replay_runs_total",
		Help: "Total replay runs by sync tag",
	}, []string{"family"})

	replayBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offline_replay_backoff_seconds",
		Help:    "Backoff scheduled after failed replays by sync tag",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"family"})
)
