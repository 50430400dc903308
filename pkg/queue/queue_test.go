package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestQueue(t *testing.T) (*Queue, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: epoch}
	q := New(NewMemoryStorage(), DefaultConfig())
	q.SetClock(clock.Now)
	return q, clock
}

func booking(userID string) BookingRequest {
	return BookingRequest{
		BoatID:    "b1",
		UserID:    userID,
		StartDate: "2024-06-01",
		EndDate:   "2024-06-03",
		Guests:    4,
	}
}

func TestBookingRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*BookingRequest)
		wantErr bool
	}{
		{name: "valid", modify: func(r *BookingRequest) {}},
		{name: "single day", modify: func(r *BookingRequest) { r.EndDate = r.StartDate }},
		{name: "missing boat", modify: func(r *BookingRequest) { r.BoatID = "" }, wantErr: true},
		{name: "missing user", modify: func(r *BookingRequest) { r.UserID = "" }, wantErr: true},
		{name: "bad start", modify: func(r *BookingRequest) { r.StartDate = "01/06/2024" }, wantErr: true},
		{name: "bad end", modify: func(r *BookingRequest) { r.EndDate = "" }, wantErr: true},
		{name: "end before start", modify: func(r *BookingRequest) { r.EndDate = "2024-05-31" }, wantErr: true},
		{name: "negative guests", modify: func(r *BookingRequest) { r.Guests = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := booking("u1")
			tt.modify(&req)
			err := req.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidWrite) {
				t.Errorf("Validate() = %v, want ErrInvalidWrite", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestQueue_EnqueueBooking(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	w, err := q.EnqueueBooking(ctx, booking("u1"))
	if err != nil {
		t.Fatalf("EnqueueBooking failed: %v", err)
	}

	if w.ID != "offline_1716199200000" {
		t.Errorf("ID = %q", w.ID)
	}
	if !IsLocal(w.ID) {
		t.Error("id should be local")
	}
	if w.Status != StatusPending || w.Kind != KindBooking {
		t.Errorf("write = %s %s", w.Kind, w.Status)
	}
	if w.Method != "POST" || w.Path != "/api/bookings" {
		t.Errorf("endpoint = %s %s", w.Method, w.Path)
	}
	if w.IdempotencyKey == "" {
		t.Error("idempotency key is empty")
	}

	var payload BookingRequest
	if err := json.Unmarshal(w.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload != booking("u1") {
		t.Errorf("payload = %+v", payload)
	}

	if _, err := q.EnqueueBooking(ctx, BookingRequest{UserID: "u1"}); !errors.Is(err, ErrInvalidWrite) {
		t.Errorf("invalid booking error = %v", err)
	}
}

func TestQueue_LocalIDsAreUnique(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	// Same millisecond
	first, _ := q.EnqueueBooking(ctx, booking("u1"))
	second, _ := q.EnqueueBooking(ctx, booking("u1"))
	third, _ := q.EnqueueBooking(ctx, booking("u1"))

	if first.ID == second.ID || second.ID == third.ID {
		t.Fatalf("ids collide: %s %s %s", first.ID, second.ID, third.ID)
	}
	if second.ID != first.ID+"_2" || third.ID != first.ID+"_3" {
		t.Errorf("ids = %s %s %s", first.ID, second.ID, third.ID)
	}
	if first.IdempotencyKey == second.IdempotencyKey {
		t.Error("idempotency keys collide")
	}
}

func TestQueue_EnqueueFavorite(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	add, err := q.EnqueueFavorite(ctx, "u1", "b1", true)
	if err != nil {
		t.Fatalf("EnqueueFavorite(add) failed: %v", err)
	}
	if add.Method != "POST" || add.Path != "/api/favorites" {
		t.Errorf("add endpoint = %s %s", add.Method, add.Path)
	}
	if string(add.Payload) != `{"boat_id":"b1","user_id":"u1"}` {
		t.Errorf("add payload = %s", add.Payload)
	}

	remove, err := q.EnqueueFavorite(ctx, "u 1", "b/2", false)
	if err != nil {
		t.Fatalf("EnqueueFavorite(remove) failed: %v", err)
	}
	if remove.Method != "DELETE" || remove.Path != "/api/favorites/b%2F2?userId=u+1" {
		t.Errorf("remove endpoint = %s %s", remove.Method, remove.Path)
	}
	if remove.Payload != nil {
		t.Errorf("remove payload = %s", remove.Payload)
	}

	if _, err := q.EnqueueFavorite(ctx, "", "b1", true); !errors.Is(err, ErrInvalidWrite) {
		t.Errorf("missing user error = %v", err)
	}
}

func TestQueue_Cancel(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	w, _ := q.EnqueueBooking(ctx, booking("u1"))
	if err := q.Cancel(ctx, KindBooking, "u1", w.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	got, _ := q.Get(ctx, KindBooking, "u1", w.ID)
	if got.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", got.Status)
	}

	// Idempotent
	if err := q.Cancel(ctx, KindBooking, "u1", w.ID); err != nil {
		t.Errorf("second Cancel failed: %v", err)
	}

	// Cancelled writes are never claimed and are purged by Ready
	if _, err := q.Claim(ctx, KindBooking, "u1", w.ID); !errors.Is(err, ErrNotPending) {
		t.Errorf("Claim of cancelled = %v, want ErrNotPending", err)
	}
	ready, _ := q.Ready(ctx, KindBooking, false)
	if len(ready) != 0 {
		t.Errorf("Ready returned %d writes", len(ready))
	}
	if writes, _ := q.List(ctx, KindBooking, "u1"); len(writes) != 0 {
		t.Errorf("cancelled write not purged: %+v", writes)
	}

	if err := q.Cancel(ctx, KindBooking, "u1", "offline_1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel of unknown = %v, want ErrNotFound", err)
	}

	inflight, _ := q.EnqueueBooking(ctx, booking("u1"))
	if _, err := q.Claim(ctx, KindBooking, "u1", inflight.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := q.Cancel(ctx, KindBooking, "u1", inflight.ID); !errors.Is(err, ErrNotPending) {
		t.Errorf("Cancel of in-flight = %v, want ErrNotPending", err)
	}
}

func TestQueue_BookingsAndHasPending(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	if has, err := q.HasPending(ctx, "u1"); err != nil || has {
		t.Fatalf("HasPending on empty queue = %v, %v", has, err)
	}

	first, _ := q.EnqueueBooking(ctx, booking("u1"))
	clock.Advance(time.Millisecond)
	second, _ := q.EnqueueBooking(ctx, booking("u1"))
	if _, err := q.EnqueueFavorite(ctx, "u1", "b2", true); err != nil {
		t.Fatalf("EnqueueFavorite failed: %v", err)
	}
	if err := q.Cancel(ctx, KindBooking, "u1", first.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	bookings, err := q.Bookings(ctx, "u1")
	if err != nil {
		t.Fatalf("Bookings failed: %v", err)
	}
	if len(bookings) != 1 || bookings[0].ID != second.ID {
		t.Errorf("Bookings = %+v, want only %s", bookings, second.ID)
	}

	if has, _ := q.HasPending(ctx, "u1"); !has {
		t.Error("HasPending should be true")
	}
	if has, _ := q.HasPending(ctx, "u2"); has {
		t.Error("other users have nothing pending")
	}
}

func TestQueue_ClaimReleaseComplete(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	w, _ := q.EnqueueBooking(ctx, booking("u1"))

	claimed, err := q.Claim(ctx, KindBooking, "u1", w.ID)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed.Status != StatusInFlight || claimed.Attempts != 1 {
		t.Errorf("claimed = %s attempts=%d", claimed.Status, claimed.Attempts)
	}

	// A write is never claimed twice
	if _, err := q.Claim(ctx, KindBooking, "u1", w.ID); !errors.Is(err, ErrNotPending) {
		t.Errorf("second Claim = %v, want ErrNotPending", err)
	}

	next := clock.now.Add(time.Minute)
	if err := q.Release(ctx, KindBooking, "u1", w.ID, next, errors.New("status 503")); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	released, _ := q.Get(ctx, KindBooking, "u1", w.ID)
	if released.Status != StatusPending || !released.NextAttemptAt.Equal(next) || released.LastError != "status 503" {
		t.Errorf("released = %+v", released)
	}

	// Not due before the backoff deadline unless forced
	if ready, _ := q.Ready(ctx, KindBooking, false); len(ready) != 0 {
		t.Errorf("Ready before deadline returned %d writes", len(ready))
	}
	if ready, _ := q.Ready(ctx, KindBooking, true); len(ready) != 1 {
		t.Errorf("forced Ready returned %d writes", len(ready))
	}
	clock.Advance(time.Minute)
	if ready, _ := q.Ready(ctx, KindBooking, false); len(ready) != 1 {
		t.Errorf("Ready after deadline returned %d writes", len(ready))
	}

	if _, err := q.Claim(ctx, KindBooking, "u1", w.ID); err != nil {
		t.Fatalf("re-Claim failed: %v", err)
	}
	if err := q.Complete(ctx, KindBooking, "u1", w.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if _, err := q.Get(ctx, KindBooking, "u1", w.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Complete = %v, want ErrNotFound", err)
	}
	if err := q.Complete(ctx, KindBooking, "u1", w.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Complete = %v, want ErrNotFound", err)
	}
}

func TestQueue_ReadyReclaimsStaleInFlight(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	w, _ := q.EnqueueFavorite(ctx, "u1", "b1", true)
	if _, err := q.Claim(ctx, KindFavorite, "u1", w.ID); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	if ready, _ := q.Ready(ctx, KindFavorite, false); len(ready) != 0 {
		t.Errorf("in-flight write returned as ready")
	}

	clock.Advance(DefaultConfig().Lease + time.Second)
	ready, err := q.Ready(ctx, KindFavorite, false)
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if len(ready) != 1 || ready[0].Status != StatusPending {
		t.Fatalf("ready = %+v, want reclaimed write", ready)
	}
}

func TestQueue_ReadyAcrossUsersAndCounts(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.EnqueueBooking(ctx, booking("u1"))
	q.EnqueueBooking(ctx, booking("u2"))
	fav, _ := q.EnqueueFavorite(ctx, "u1", "b2", true)

	ready, err := q.Ready(ctx, KindBooking, false)
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if len(ready) != 2 || ready[0].UserID != "u1" || ready[1].UserID != "u2" {
		t.Errorf("ready = %+v", ready)
	}

	count, _ := q.PendingCount(ctx, "u1")
	if count != 2 {
		t.Errorf("PendingCount(u1) = %d, want 2", count)
	}

	q.Claim(ctx, KindFavorite, "u1", fav.ID)
	count, _ = q.PendingCount(ctx, "u1")
	if count != 2 {
		t.Errorf("in-flight writes still count as pending, got %d", count)
	}
	q.Complete(ctx, KindFavorite, "u1", fav.ID)
	count, _ = q.PendingCount(ctx, "u1")
	if count != 1 {
		t.Errorf("PendingCount(u1) after sync = %d, want 1", count)
	}
}

func TestStorageKey(t *testing.T) {
	tests := []struct {
		kind     Kind
		userID   string
		expected string
	}{
		{KindBooking, "u1", "offline_bookings_u1"},
		{KindFavorite, "u1", "offline_favorites_u1"},
		{Kind("review"), "u1", "offline_review_u1"},
	}
	for _, tt := range tests {
		if got := StorageKey(tt.kind, tt.userID); got != tt.expected {
			t.Errorf("StorageKey(%s, %s) = %q, want %q", tt.kind, tt.userID, got, tt.expected)
		}
	}
}

func TestIsLocal(t *testing.T) {
	for id, want := range map[string]bool{
		"offline_1716199200000": true,
		"offline_":              false,
		"3f2c":                  false,
		"":                      false,
	} {
		if got := IsLocal(id); got != want {
			t.Errorf("IsLocal(%q) = %v, want %v", id, got, want)
		}
	}
}
