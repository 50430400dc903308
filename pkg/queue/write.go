// Package queue holds writes made while offline until they can be
// replayed against the network.
//
// Every queued write is owned by one user and persisted under a per-user
// key (offline_bookings_<userID>, offline_favorites_<userID>). A write
// carries a local id ("offline_<unix-millis>") that is never treated as a
// server id, and an idempotency key sent with every replay attempt so
// the origin can drop duplicates.
//
// Status flow:
//
//	pending -> in-flight -> removed (synced)
//	                     -> pending (failed, retried after NextAttemptAt)
//	pending -> cancelled -> removed (purged on the next replay run)
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates no write with the given id exists for the user
	ErrNotFound = errors.New("queued write not found")

	// ErrNotPending indicates the write is not in the pending state
	ErrNotPending = errors.New("queued write is not pending")

	// ErrInvalidWrite indicates a write request failed validation
	ErrInvalidWrite = errors.New("invalid write")
)

// LocalIDPrefix marks ids assigned on the device.
const LocalIDPrefix = "offline_"

// Kind is the resource family of a queued write.
type Kind string

const (
	KindBooking  Kind = "booking"
	KindFavorite Kind = "favorite"
)

// Kinds lists all write kinds.
var Kinds = []Kind{KindBooking, KindFavorite}

// StorageKey returns the persistence key of a user's writes of kind.
func StorageKey(kind Kind, userID string) string {
	switch kind {
	case KindBooking:
		return "offline_bookings_" + userID
	case KindFavorite:
		return "offline_favorites_" + userID
	default:
		return fmt.Sprintf("offline_%s_%s", kind, userID)
	}
}

// Status is the lifecycle status of a queued write.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in-flight"
	StatusCancelled Status = "cancelled"
)

// Write is one queued write.
type Write struct {
	// ID is the local identifier (offline_<unix-millis>)
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	UserID string `json:"user_id"`

	// Method and Path address the origin endpoint (path may carry a query)
	Method  string          `json:"method"`
	Path    string          `json:"path"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// IdempotencyKey is sent as the Idempotency-Key header on every attempt
	IdempotencyKey string `json:"idempotency_key"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	// Replay bookkeeping
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	ClaimedAt     time.Time `json:"claimed_at"`
	LastError     string    `json:"last_error,omitempty"`
}

// IsLocal reports whether id was assigned on the device.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix) && len(id) > len(LocalIDPrefix)
}

// Due reports whether a pending write may be attempted at now.
func (w Write) Due(now time.Time) bool {
	return w.Status == StatusPending && !now.Before(w.NextAttemptAt)
}

// BookingRequest is the payload of a booking created offline.
type BookingRequest struct {
	BoatID     string  `json:"boat_id"`
	UserID     string  `json:"user_id"`
	StartDate  string  `json:"start_date"`
	EndDate    string  `json:"end_date"`
	Guests     int     `json:"guests,omitempty"`
	TotalPrice float64 `json:"total_price,omitempty"`
	Notes      string  `json:"notes,omitempty"`
}

// DateLayout is the calendar date format of bookings.
const DateLayout = "2006-01-02"

// Validate checks the booking request.
func (r BookingRequest) Validate() error {
	if r.BoatID == "" {
		return fmt.Errorf("%w: boat_id is required", ErrInvalidWrite)
	}
	if r.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidWrite)
	}
	start, err := time.Parse(DateLayout, r.StartDate)
	if err != nil {
		return fmt.Errorf("%w: start_date: %v", ErrInvalidWrite, err)
	}
	end, err := time.Parse(DateLayout, r.EndDate)
	if err != nil {
		return fmt.Errorf("%w: end_date: %v", ErrInvalidWrite, err)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end_date before start_date", ErrInvalidWrite)
	}
	if r.Guests < 0 {
		return fmt.Errorf("%w: guests must be >= 0", ErrInvalidWrite)
	}
	return nil
}

// FavoriteRequest is the payload of a favorite created offline.
type FavoriteRequest struct {
	BoatID string `json:"boat_id"`
	UserID string `json:"user_id"`
}
