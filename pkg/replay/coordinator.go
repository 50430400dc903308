// Package replay re-issues writes made while offline once the network is
// back. Replays are triggered per sync tag (sync-bookings,
// sync-favorites) or for all tags on reconnect, run concurrently with a
// bounded worker count, and carry the write's idempotency key so a replay
// whose response was lost cannot create a duplicate.
package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Sternrassler/costaverde-offline/pkg/cache"
	"github.com/Sternrassler/costaverde-offline/pkg/fetch"
	"github.com/Sternrassler/costaverde-offline/pkg/queue"
	"github.com/Sternrassler/costaverde-offline/pkg/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownTag is returned for a sync tag no family is registered for.
var ErrUnknownTag = errors.New("unknown sync tag")

// LocalIDHeader carries the local id of a replayed queued write.
const LocalIDHeader = "X-Offline-Local-Id"

// CapturedStore is the outbox of writes captured by the request
// interceptor. worker.CacheManager implements it.
type CapturedStore interface {
	CapturedWrites(ctx context.Context) ([]worker.CapturedWrite, error)
	DeleteCapturedWrite(ctx context.Context, key string) error
	Invalidate(ctx context.Context, prefix string) (int, error)
}

// Config holds the coordinator configuration.
type Config struct {
	// Origin is the absolute base URL queued write paths are resolved against
	Origin string

	Families []Family
	Backoff  BackoffConfig

	// MaxConcurrency bounds the replays in flight within one run
	MaxConcurrency int
}

// DefaultConfig returns the default coordinator configuration for origin.
func DefaultConfig(origin string) Config {
	return Config{
		Origin:         origin,
		Families:       DefaultFamilies(),
		Backoff:        DefaultBackoffConfig(),
		MaxConcurrency: 4,
	}
}

// Result summarizes one replay run of a tag.
type Result struct {
	Tag       string
	Attempted int
	Synced    int
	Failed    int
	Skipped   int
}

// SyncStatus is the sync indicator of one user.
type SyncStatus struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`

	// Captured counts outbox writes, which are not attributed to a user
	Captured int  `json:"captured"`
	Syncing  bool `json:"syncing"`
}

type replayOptions struct {
	force bool
}

// ReplayOption configures a replay run.
type ReplayOption func(*replayOptions)

// Force ignores backoff deadlines (the manual retry action).
func Force() ReplayOption {
	return func(o *replayOptions) { o.force = true }
}

type captureBackoff struct {
	attempts int
	next     time.Time
}

// Coordinator replays queued and captured writes.
type Coordinator struct {
	config   Config
	origin   *url.URL
	queue    *queue.Queue
	captured CapturedStore
	fetcher  fetch.Fetcher
	logger   zerolog.Logger

	mu       sync.Mutex
	now      func() time.Time
	rand     func() float64
	online   func() bool
	inflight map[string]struct{}
	backoff  map[string]captureBackoff
	running  map[string]int
}

// NewCoordinator creates a Coordinator. captured may be nil when writes
// are only queued explicitly.
func NewCoordinator(cfg Config, q *queue.Queue, captured CapturedStore, fetcher fetch.Fetcher) (*Coordinator, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute URL (got %q)", cfg.Origin)
	}
	if q == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("max_concurrency must be >= 1 (got %d)", cfg.MaxConcurrency)
	}

	return &Coordinator{
		config:   cfg,
		origin:   origin,
		queue:    q,
		captured: captured,
		fetcher:  fetcher,
		logger:   log.With().Str("component", "replay").Logger(),
		now:      time.Now,
		inflight: make(map[string]struct{}),
		backoff:  make(map[string]captureBackoff),
		running:  make(map[string]int),
	}, nil
}

// SetClock replaces the time source and the jitter source (for testing).
func (c *Coordinator) SetClock(now func() time.Time, rnd func() float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	c.rand = rnd
}

// SetOnline sets the connectivity source reported by Status.
func (c *Coordinator) SetOnline(online func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = online
}

// Register subscribes the coordinator to the triggers of s: every family
// is replayed on reconnect and its own tag replays it explicitly.
func (c *Coordinator) Register(s Scheduler) {
	s.OnReconnect(func(ctx context.Context) {
		if _, err := c.ReplayAll(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Replay after reconnect failed")
		}
	})
	for _, f := range c.config.Families {
		tag := f.Tag
		s.OnExplicitTrigger(tag, func(ctx context.Context) {
			if _, err := c.Replay(ctx, tag); err != nil {
				c.logger.Warn().Err(err).Str("tag", tag).Msg("Triggered replay failed")
			}
		})
	}
}

// Tags returns the registered sync tags.
func (c *Coordinator) Tags() []string {
	tags := make([]string, 0, len(c.config.Families))
	for _, f := range c.config.Families {
		tags = append(tags, f.Tag)
	}
	return tags
}

// ReplayAll replays every family in turn.
func (c *Coordinator) ReplayAll(ctx context.Context, opts ...ReplayOption) ([]Result, error) {
	results := make([]Result, 0, len(c.config.Families))
	var errs []error
	for _, f := range c.config.Families {
		res, err := c.Replay(ctx, f.Tag, opts...)
		if err != nil {
			errs = append(errs, err)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Replay re-issues the due writes of the family of tag: queued writes
// and, when a CapturedStore is set, captured writes matching the family.
// Successful writes are removed; failed ones stay queued with a backoff
// deadline. The returned error only reports failures to read the queue.
func (c *Coordinator) Replay(ctx context.Context, tag string, opts ...ReplayOption) (Result, error) {
	res := Result{Tag: tag}
	fam, ok := c.family(tag)
	if !ok {
		return res, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}

	var o replayOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.setRunning(tag, 1)
	defer c.setRunning(tag, -1)
	replayRunsTotal.WithLabelValues(tag).Inc()

	writes, err := c.queue.Ready(ctx, fam.Kind, o.force)
	if err != nil {
		return res, fmt.Errorf("list queued writes: %w", err)
	}
	captured, err := c.dueCaptured(ctx, fam, o.force)
	if err != nil {
		return res, fmt.Errorf("list captured writes: %w", err)
	}

	var mu sync.Mutex
	record := func(result string) {
		mu.Lock()
		defer mu.Unlock()
		replayTotal.WithLabelValues(tag, result).Inc()
		switch result {
		case resultSynced:
			res.Attempted++
			res.Synced++
		case resultFailed:
			res.Attempted++
			res.Failed++
		default:
			res.Skipped++
		}
	}

	var g errgroup.Group
	g.SetLimit(c.config.MaxConcurrency)
	for _, w := range writes {
		g.Go(func() error {
			record(c.replayQueued(ctx, fam, w))
			return nil
		})
	}
	for _, cw := range captured {
		g.Go(func() error {
			record(c.replayCaptured(ctx, fam, cw))
			return nil
		})
	}
	_ = g.Wait()

	if res.Synced > 0 && c.captured != nil {
		if _, err := c.captured.Invalidate(ctx, fam.PathPrefix); err != nil {
			c.logger.Warn().Err(err).Str("tag", tag).Msg("Failed to invalidate cached reads")
		}
	}

	if res.Attempted > 0 || res.Skipped > 0 {
		c.logger.Info().
			Str("tag", tag).
			Int("attempted", res.Attempted).
			Int("synced", res.Synced).
			Int("failed", res.Failed).
			Int("skipped", res.Skipped).
			Msg("Replay finished")
	}
	return res, nil
}

func (c *Coordinator) replayQueued(ctx context.Context, fam Family, w queue.Write) string {
	claimed, err := c.queue.Claim(ctx, fam.Kind, w.UserID, w.ID)
	if err != nil {
		// Claimed by a concurrent run or cancelled meanwhile
		c.logger.Debug().Err(err).Str("write_id", w.ID).Msg("Skipping queued write")
		return resultSkipped
	}

	logger := c.logger.With().
		Str("tag", fam.Tag).
		Str("write_id", claimed.ID).
		Str("user_id", claimed.UserID).
		Int("attempts", claimed.Attempts).
		Logger()

	req, err := c.queuedRequest(ctx, claimed)
	if err == nil {
		err = c.send(req)
	}
	if err == nil {
		if err := c.queue.Complete(ctx, fam.Kind, claimed.UserID, claimed.ID); err != nil {
			logger.Warn().Err(err).Msg("Replayed write could not be removed from the queue")
		}
		logger.Info().Msg("Queued write synced")
		return resultSynced
	}

	delay := c.delay(fam.Tag, claimed.Attempts, err)
	if rerr := c.queue.Release(ctx, fam.Kind, claimed.UserID, claimed.ID, c.clock().Add(delay), err); rerr != nil {
		logger.Warn().Err(rerr).Msg("Failed to release queued write")
	}
	logger.Warn().Err(err).Dur("backoff", delay).Msg("Queued write replay failed")
	return resultFailed
}

func (c *Coordinator) replayCaptured(ctx context.Context, fam Family, cw worker.CapturedWrite) string {
	if !c.claimCaptured(cw.Key) {
		return resultSkipped
	}
	defer c.releaseCaptured(cw.Key)

	logger := c.logger.With().Str("tag", fam.Tag).Str("key", cw.Key).Logger()

	req, err := cache.EntryToRequest(ctx, cw.Entry)
	if err == nil {
		if cw.IdempotencyKey != "" {
			req.Header.Set(worker.IdempotencyKeyHeader, cw.IdempotencyKey)
		}
		err = c.send(req)
	}
	if err == nil {
		if err := c.captured.DeleteCapturedWrite(ctx, cw.Key); err != nil {
			logger.Warn().Err(err).Msg("Replayed write could not be removed from the outbox")
		}
		c.mu.Lock()
		delete(c.backoff, cw.Key)
		c.mu.Unlock()
		logger.Info().Msg("Captured write synced")
		return resultSynced
	}

	c.mu.Lock()
	state := c.backoff[cw.Key]
	state.attempts++
	c.mu.Unlock()

	delay := c.delay(fam.Tag, state.attempts, err)
	state.next = c.clock().Add(delay)

	c.mu.Lock()
	c.backoff[cw.Key] = state
	c.mu.Unlock()

	logger.Warn().Err(err).Int("attempts", state.attempts).Dur("backoff", delay).Msg("Captured write replay failed")
	return resultFailed
}

// send issues req and drains the response. Any status outside 2xx is an error.
func (c *Coordinator) send(req *http.Request) error {
	resp, err := c.fetcher.Fetch(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Coordinator) queuedRequest(ctx context.Context, w queue.Write) (*http.Request, error) {
	ref, err := url.Parse(w.Path)
	if err != nil {
		return nil, fmt.Errorf("parse write path: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.Method, c.origin.ResolveReference(ref).String(), bytes.NewReader(w.Payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if len(w.Payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(worker.IdempotencyKeyHeader, w.IdempotencyKey)
	req.Header.Set(LocalIDHeader, w.ID)
	return req, nil
}

// delay returns the backoff after a failed attempt. Rejections by the
// origin (4xx other than 408 and 429) will not heal on their own and
// wait the maximum delay.
func (c *Coordinator) delay(tag string, attempts int, cause error) time.Duration {
	var statusErr *StatusError
	if errors.As(cause, &statusErr) && statusErr.Permanent() {
		attempts = maxAttempts
	}

	c.mu.Lock()
	rnd := c.rand
	c.mu.Unlock()

	delay := c.config.Backoff.Delay(attempts, rnd)
	replayBackoffSeconds.WithLabelValues(tag).Observe(delay.Seconds())
	return delay
}

// maxAttempts saturates any sane backoff configuration.
const maxAttempts = 64

func (c *Coordinator) dueCaptured(ctx context.Context, fam Family, force bool) ([]worker.CapturedWrite, error) {
	if c.captured == nil {
		return nil, nil
	}
	all, err := c.captured.CapturedWrites(ctx)
	if err != nil {
		return nil, err
	}

	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()

	var due []worker.CapturedWrite
	for _, cw := range all {
		u, err := url.Parse(cw.Entry.URL)
		if err != nil || !fam.Matches(cw.Entry.Method, u.Path) {
			continue
		}
		if state, ok := c.backoff[cw.Key]; ok && !force && now.Before(state.next) {
			continue
		}
		due = append(due, cw)
	}
	return due, nil
}

func (c *Coordinator) claimCaptured(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return false
	}
	c.inflight[key] = struct{}{}
	return true
}

func (c *Coordinator) releaseCaptured(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, key)
}

// Status reports the sync indicator of userID.
func (c *Coordinator) Status(ctx context.Context, userID string) (SyncStatus, error) {
	pending, err := c.queue.PendingCount(ctx, userID)
	if err != nil {
		return SyncStatus{}, err
	}

	status := SyncStatus{Pending: pending}
	if c.captured != nil {
		writes, err := c.captured.CapturedWrites(ctx)
		if err != nil && !errors.Is(err, worker.ErrNotActive) {
			return SyncStatus{}, err
		}
		status.Captured = len(writes)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.running {
		if n > 0 {
			status.Syncing = true
		}
	}
	status.Online = c.online == nil || c.online()
	return status, nil
}

func (c *Coordinator) family(tag string) (Family, bool) {
	for _, f := range c.config.Families {
		if f.Tag == tag {
			return f, true
		}
	}
	return Family{}, false
}

func (c *Coordinator) setRunning(tag string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running[tag] += delta
}

func (c *Coordinator) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

// StatusError reports a replay answered with a non-2xx status.
type StatusError struct {
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("origin answered %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Permanent reports whether the origin rejected the write itself.
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}
