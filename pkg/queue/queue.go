package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Endpoint paths of queued writes.
const (
	BookingsPath  = "/api/bookings"
	FavoritesPath = "/api/favorites"
)

// Config holds the queue configuration.
type Config struct {
	// Lease is how long a write may stay in-flight before Ready returns
	// it to pending (e.g. after a crash mid-replay).
	Lease time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		Lease: 2 * time.Minute,
	}
}

// Queue is the per-user offline write queue. Every change goes through
// Storage.Update, so queues in several processes may share a storage.
type Queue struct {
	storage Storage
	config  Config
	logger  zerolog.Logger

	mu     sync.Mutex
	now    func() time.Time
	newKey func() string
}

// New creates a Queue on top of storage.
func New(storage Storage, cfg Config) *Queue {
	if storage == nil {
		panic("queue storage cannot be nil")
	}
	return &Queue{
		storage: storage,
		config:  cfg,
		logger:  log.With().Str("component", "offline-queue").Logger(),
		now:     time.Now,
		newKey:  uuid.NewString,
	}
}

// SetClock replaces the time source (for testing).
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *Queue) clock() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.now()
}

// EnqueueBooking queues a booking creation for req.UserID.
func (q *Queue) EnqueueBooking(ctx context.Context, req BookingRequest) (Write, error) {
	if err := req.Validate(); err != nil {
		return Write{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Write{}, fmt.Errorf("marshal booking: %w", err)
	}
	return q.enqueue(ctx, KindBooking, req.UserID, http.MethodPost, BookingsPath, payload)
}

// EnqueueFavorite queues adding (add=true) or removing a favorite boat.
func (q *Queue) EnqueueFavorite(ctx context.Context, userID, boatID string, add bool) (Write, error) {
	if userID == "" || boatID == "" {
		return Write{}, fmt.Errorf("%w: user_id and boat_id are required", ErrInvalidWrite)
	}

	if !add {
		path := FavoritesPath + "/" + url.PathEscape(boatID) + "?userId=" + url.QueryEscape(userID)
		return q.enqueue(ctx, KindFavorite, userID, http.MethodDelete, path, nil)
	}

	payload, err := json.Marshal(FavoriteRequest{BoatID: boatID, UserID: userID})
	if err != nil {
		return Write{}, fmt.Errorf("marshal favorite: %w", err)
	}
	return q.enqueue(ctx, KindFavorite, userID, http.MethodPost, FavoritesPath, payload)
}

func (q *Queue) enqueue(ctx context.Context, kind Kind, userID, method, path string, payload json.RawMessage) (Write, error) {
	now := q.clock()
	w := Write{
		Kind:           kind,
		UserID:         userID,
		Method:         method,
		Path:           path,
		Payload:        payload,
		IdempotencyKey: q.newKey(),
		Status:         StatusPending,
		CreatedAt:      now,
	}

	err := q.storage.Update(ctx, kind, userID, func(writes []Write) ([]Write, error) {
		w.ID = localID(now, writes)
		return append(writes, w), nil
	})
	if err != nil {
		return Write{}, fmt.Errorf("save queue: %w", err)
	}

	enqueuedTotal.WithLabelValues(string(kind)).Inc()
	q.logger.Info().
		Str("write_id", w.ID).
		Str("user_id", userID).
		Str("kind", string(kind)).
		Str("method", method).
		Str("path", path).
		Msg("Queued offline write")
	return w, nil
}

// localID returns offline_<unix-millis>, suffixed when another write of
// the same user was created in the same millisecond.
func localID(now time.Time, existing []Write) string {
	base := LocalIDPrefix + strconv.FormatInt(now.UnixMilli(), 10)
	taken := make(map[string]struct{}, len(existing))
	for _, w := range existing {
		taken[w.ID] = struct{}{}
	}

	id := base
	for n := 2; ; n++ {
		if _, ok := taken[id]; !ok {
			return id
		}
		id = base + "_" + strconv.Itoa(n)
	}
}

// List returns the user's writes of kind in creation order, including
// cancelled ones that have not been purged yet.
func (q *Queue) List(ctx context.Context, kind Kind, userID string) ([]Write, error) {
	writes, err := q.storage.Load(ctx, kind, userID)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return writes, nil
}

// Bookings returns the user's offline bookings that are still waiting
// for the network, in creation order.
func (q *Queue) Bookings(ctx context.Context, userID string) ([]Write, error) {
	writes, err := q.List(ctx, KindBooking, userID)
	if err != nil {
		return nil, err
	}
	bookings := writes[:0]
	for _, w := range writes {
		if w.Status != StatusCancelled {
			bookings = append(bookings, w)
		}
	}
	return bookings, nil
}

// Get returns one write.
func (q *Queue) Get(ctx context.Context, kind Kind, userID, id string) (Write, error) {
	writes, err := q.List(ctx, kind, userID)
	if err != nil {
		return Write{}, err
	}
	if i := indexOf(writes, id); i >= 0 {
		return writes[i], nil
	}
	return Write{}, ErrNotFound
}

// PendingCount returns the number of writes of the user still waiting
// for the network (pending or in-flight) across all kinds.
func (q *Queue) PendingCount(ctx context.Context, userID string) (int, error) {
	count := 0
	for _, kind := range Kinds {
		writes, err := q.List(ctx, kind, userID)
		if err != nil {
			return 0, err
		}
		for _, w := range writes {
			if w.Status == StatusPending || w.Status == StatusInFlight {
				count++
			}
		}
	}
	return count, nil
}

// HasPending reports whether the user has writes waiting for the network.
func (q *Queue) HasPending(ctx context.Context, userID string) (bool, error) {
	n, err := q.PendingCount(ctx, userID)
	return n > 0, err
}

// Cancel marks a pending write as cancelled. Cancelling an in-flight
// write fails with ErrNotPending; cancelling twice is a no-op.
func (q *Queue) Cancel(ctx context.Context, kind Kind, userID, id string) error {
	cancelled := false
	err := q.update(ctx, kind, userID, id, func(w *Write) error {
		cancelled = false
		switch w.Status {
		case StatusCancelled:
			return nil
		case StatusInFlight:
			return fmt.Errorf("%w: %s is being replayed", ErrNotPending, id)
		}
		w.Status = StatusCancelled
		cancelled = true
		return nil
	})
	if err != nil || !cancelled {
		return err
	}

	cancelledTotal.WithLabelValues(string(kind)).Inc()
	q.logger.Info().Str("write_id", id).Str("user_id", userID).Msg("Cancelled offline write")
	return nil
}

// Claim moves a pending write to in-flight and counts the attempt. A
// write that is not pending cannot be claimed, so a single write is
// never replayed concurrently with itself, even by another process
// sharing the storage.
func (q *Queue) Claim(ctx context.Context, kind Kind, userID, id string) (Write, error) {
	var claimed Write
	now := q.clock()
	err := q.update(ctx, kind, userID, id, func(w *Write) error {
		if w.Status != StatusPending {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, id, w.Status)
		}
		w.Status = StatusInFlight
		w.Attempts++
		w.ClaimedAt = now
		claimed = *w
		return nil
	})
	return claimed, err
}

// Release returns an in-flight write to pending after a failed attempt.
// It is not retried before next.
func (q *Queue) Release(ctx context.Context, kind Kind, userID, id string, next time.Time, cause error) error {
	return q.update(ctx, kind, userID, id, func(w *Write) error {
		if w.Status != StatusInFlight {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, id, w.Status)
		}
		w.Status = StatusPending
		w.NextAttemptAt = next
		w.ClaimedAt = time.Time{}
		if cause != nil {
			w.LastError = cause.Error()
		}
		return nil
	})
}

// Complete removes a write after the origin accepted it.
func (q *Queue) Complete(ctx context.Context, kind Kind, userID, id string) error {
	err := q.storage.Update(ctx, kind, userID, func(writes []Write) ([]Write, error) {
		i := indexOf(writes, id)
		if i < 0 {
			return nil, ErrNotFound
		}
		return append(writes[:i], writes[i+1:]...), nil
	})
	if err != nil {
		return storageError(err)
	}
	completedTotal.WithLabelValues(string(kind)).Inc()
	return nil
}

// Ready returns the writes of kind that may be replayed at now, across
// all users. Cancelled writes are purged and in-flight writes whose
// lease expired are returned to pending first. With force, backoff
// deadlines are ignored.
func (q *Queue) Ready(ctx context.Context, kind Kind, force bool) ([]Write, error) {
	owners, err := q.storage.Owners(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}

	now := q.clock()
	var ready []Write
	for _, userID := range owners {
		writes, err := q.storage.Load(ctx, kind, userID)
		if err != nil {
			return nil, fmt.Errorf("load queue of %s: %w", userID, err)
		}

		if _, _, changed := q.tidy(writes, now); changed {
			var (
				kept      []Write
				reclaimed int
			)
			err := q.storage.Update(ctx, kind, userID, func(current []Write) ([]Write, error) {
				kept, reclaimed, _ = q.tidy(current, now)
				return kept, nil
			})
			if err != nil {
				return nil, fmt.Errorf("save queue of %s: %w", userID, err)
			}
			if reclaimed > 0 {
				reclaimedTotal.WithLabelValues(string(kind)).Add(float64(reclaimed))
				q.logger.Warn().Str("user_id", userID).Int("count", reclaimed).Msg("Reclaimed stale in-flight writes")
			}
			writes = kept
		}

		for _, w := range writes {
			if w.Status == StatusPending && (force || w.Due(now)) {
				ready = append(ready, w)
			}
		}
	}
	return ready, nil
}

// tidy drops cancelled writes and returns in-flight writes whose lease
// expired to pending. It reports the number of reclaimed writes and
// whether anything changed.
func (q *Queue) tidy(writes []Write, now time.Time) ([]Write, int, bool) {
	kept := make([]Write, 0, len(writes))
	reclaimed := 0
	changed := false
	for _, w := range writes {
		switch {
		case w.Status == StatusCancelled:
			changed = true
			continue
		case w.Status == StatusInFlight && q.config.Lease > 0 && now.Sub(w.ClaimedAt) > q.config.Lease:
			w.Status = StatusPending
			w.ClaimedAt = time.Time{}
			reclaimed++
			changed = true
		}
		kept = append(kept, w)
	}
	return kept, reclaimed, changed
}

func (q *Queue) update(ctx context.Context, kind Kind, userID, id string, fn func(*Write) error) error {
	err := q.storage.Update(ctx, kind, userID, func(writes []Write) ([]Write, error) {
		i := indexOf(writes, id)
		if i < 0 {
			return nil, ErrNotFound
		}
		if err := fn(&writes[i]); err != nil {
			return nil, err
		}
		return writes, nil
	})
	return storageError(err)
}

// storageError passes the queue's own errors through and wraps storage
// failures.
func storageError(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotPending) {
		return err
	}
	return fmt.Errorf("save queue: %w", err)
}

func indexOf(writes []Write, id string) int {
	for i, w := range writes {
		if w.ID == id {
			return i
		}
	}
	return -1
}
