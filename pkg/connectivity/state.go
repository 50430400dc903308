// Package connectivity tracks whether the origin is reachable and turns
// the offline to online transition into replay triggers. It implements
// replay.Scheduler: reconnect callbacks fire on every transition back
// online, explicit triggers fire per sync tag.
package connectivity

import (
	"time"
)

// Redis keys for connectivity state storage, relative to the store prefix.
const (
	RedisKeyOnline       = "connectivity:online"
	RedisKeyChangedAt    = "connectivity:changed_at"
	RedisKeyLastObserved = "connectivity:last_observed"
)

// DefaultFailureThreshold is the number of consecutive network failures
// after which the origin is considered unreachable.
const DefaultFailureThreshold = 2

// State is the connectivity state of the origin.
// It may be shared between proxy instances via a StateStore.
type State struct {
	// Online reports whether the origin is considered reachable.
	Online bool `json:"online"`

	// ChangedAt is when Online last flipped.
	ChangedAt time.Time `json:"changed_at"`

	// LastObserved is when the last fetch or probe outcome was recorded.
	LastObserved time.Time `json:"last_observed"`

	// ConsecutiveFailures counts network failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`
}

// IsStale returns true if no outcome was observed within maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastObserved) > maxAge
}

// OfflineFor returns how long the origin has been unreachable, 0 while online.
func (s *State) OfflineFor(now time.Time) time.Duration {
	if s.Online || s.ChangedAt.IsZero() {
		return 0
	}
	d := now.Sub(s.ChangedAt)
	if d < 0 {
		return 0
	}
	return d
}
