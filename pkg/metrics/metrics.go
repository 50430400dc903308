// Package metrics provides the Prometheus registry used by the offline cache layer.
// All metrics are defined in their respective packages (cache, worker, fetch,
// queue, replay, connectivity) to keep packages independent.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - offline_cache_hits_total{store} (Counter): Cache hits by named store
//   - offline_cache_misses_total{store} (Counter): Cache misses by named store
//   - offline_cache_evictions_total{store} (Counter): Entries removed by the eviction policy
//   - offline_cache_errors_total{operation} (Counter): Swallowed cache operation errors
//
// Router Metrics (pkg/worker):
//   - offline_requests_total{strategy, outcome} (Counter): Handled requests by strategy and outcome
//     (network, cache, offline_page, offline, captured, passthrough)
//   - offline_captured_writes_total (Counter): Writes captured to the outbox while offline
//   - offline_stores_purged_total (Counter): Stores of previous versions dropped at activation
//
// Network Metrics (pkg/fetch):
//   - offline_fetch_duration_seconds (Histogram): Network fetch duration
//   - offline_fetch_errors_total{class} (Counter): Network failures by class (offline, timeout, cancelled, network)
//
// Queue Metrics (pkg/queue):
//   - offline_queue_enqueued_total{kind} (Counter): Writes queued while offline
//   - offline_queue_completed_total{kind} (Counter): Writes removed after a successful replay
//   - offline_queue_cancelled_total{kind} (Counter): Writes cancelled before sync
//   - offline_queue_reclaimed_total{kind} (Counter): In-flight writes returned to pending after their lease
//
// Replay Metrics (pkg/replay):
//   - offline_replay_total{family, result} (Counter): Replay attempts by sync tag and result
//   - offline_replay_runs_total{family} (Counter): Replay runs by sync tag
//   - offline_replay_backoff_seconds{family} (Histogram): Backoff scheduled after a failed replay
//
// Connectivity Metrics (pkg/connectivity):
//   - offline_connectivity_online (Gauge): 1 when the origin is considered reachable
//   - offline_connectivity_transitions_total{to} (Counter): Online/offline transitions
//   - offline_connectivity_probes_total{result} (Counter): Reachability probes by result
//
// Notification Metrics (pkg/notify):
//   - offline_notifications_total{event} (Counter): Push notifications shown, ignored, clicked, opened
//
// Booking API Metrics (internal/bookingapi):
//   - booking_api_http_requests_total{method, route, status} (Counter): Handled requests
//   - booking_api_http_request_duration_seconds{method, route} (Histogram): Request latency
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate per store
//   sum by (store) (rate(offline_cache_hits_total[5m])) /
//   (sum by (store) (rate(offline_cache_hits_total[5m])) + sum by (store) (rate(offline_cache_misses_total[5m])))
//
//   # Requests answered while offline
//   sum(rate(offline_requests_total{outcome!="network"}[5m]))
//
//   # Replay failure ratio
//   rate(offline_replay_total{result="failed"}[15m]) / rate(offline_replay_total[15m])
