// Package bookingapi is the reference origin the offline layer talks to:
// boats, bookings and favorites over JSON, with Idempotency-Key
// de-duplication on every write so replayed offline writes never create
// duplicates.
package bookingapi

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format of booking dates.
const DateLayout = "2006-01-02"

// BookingStatusPending is the status of a freshly created booking.
const BookingStatusPending = "pending"

var (
	// ErrBoatNotFound is returned when a write references an unknown boat.
	ErrBoatNotFound = errors.New("boat not found")

	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrIdempotencyMismatch is returned when an Idempotency-Key is reused
	// with a different request.
	ErrIdempotencyMismatch = errors.New("idempotency key reused with a different request")
)

// Boat is a rentable boat.
type Boat struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Location    string  `json:"location"`
	Capacity    int     `json:"capacity"`
	PricePerDay float64 `json:"price_per_day"`
}

// Booking is a confirmed reservation request stored by the origin.
type Booking struct {
	ID         string    `json:"id"`
	BoatID     string    `json:"boat_id"`
	UserID     string    `json:"user_id"`
	StartDate  string    `json:"start_date"`
	EndDate    string    `json:"end_date"`
	Guests     int       `json:"guests"`
	TotalPrice float64   `json:"total_price"`
	Notes      string    `json:"notes,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Favorite marks a boat as a favorite of a user.
type Favorite struct {
	UserID    string    `json:"user_id"`
	BoatID    string    `json:"boat_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateBookingRequest is the body of POST /api/bookings.
type CreateBookingRequest struct {
	BoatID     string  `json:"boat_id"`
	UserID     string  `json:"user_id"`
	StartDate  string  `json:"start_date"`
	EndDate    string  `json:"end_date"`
	Guests     int     `json:"guests"`
	TotalPrice float64 `json:"total_price"`
	Notes      string  `json:"notes,omitempty"`
}

// Validate checks required fields and the date range.
func (r CreateBookingRequest) Validate() error {
	if strings.TrimSpace(r.BoatID) == "" {
		return fmt.Errorf("%w: boat_id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	start, err := time.Parse(DateLayout, r.StartDate)
	if err != nil {
		return fmt.Errorf("%w: start_date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	end, err := time.Parse(DateLayout, r.EndDate)
	if err != nil {
		return fmt.Errorf("%w: end_date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end_date must not be before start_date", ErrInvalidRequest)
	}
	if r.Guests < 0 {
		return fmt.Errorf("%w: guests must not be negative", ErrInvalidRequest)
	}
	if r.TotalPrice < 0 {
		return fmt.Errorf("%w: total_price must not be negative", ErrInvalidRequest)
	}
	return nil
}

// Nights returns the number of billable days, at least one.
func (r CreateBookingRequest) Nights() int {
	start, err1 := time.Parse(DateLayout, r.StartDate)
	end, err2 := time.Parse(DateLayout, r.EndDate)
	if err1 != nil || err2 != nil {
		return 1
	}
	n := int(end.Sub(start).Hours() / 24)
	if n < 1 {
		return 1
	}
	return n
}

// FavoriteRequest is the body of POST /api/favorites and the parameters of
// DELETE /api/favorites/{boatId}.
type FavoriteRequest struct {
	BoatID string `json:"boat_id"`
	UserID string `json:"user_id"`
}

// Validate checks both ids are present.
func (r FavoriteRequest) Validate() error {
	if strings.TrimSpace(r.BoatID) == "" {
		return fmt.Errorf("%w: boat_id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	return nil
}

// Idempotency identifies a write for de-duplication. A zero Key disables it.
type Idempotency struct {
	Key         string
	RequestHash string
}

// Response is the stored outcome of a write. Replayed is set when the
// response comes from an earlier request with the same key.
type Response struct {
	StatusCode int
	Body       []byte
	Replayed   bool
}

// DefaultBoats is the fleet both stores are seeded with.
func DefaultBoats() []Boat {
	return []Boat{
		{ID: "b1", Name: "Veleiro Aurora", Location: "Paraty", Capacity: 8, PricePerDay: 850},
		{ID: "b2", Name: "Lancha Maré Alta", Location: "Angra dos Reis", Capacity: 10, PricePerDay: 1200},
	}
}

func bookingPrice(req CreateBookingRequest, boat Boat) float64 {
	if req.TotalPrice > 0 {
		return req.TotalPrice
	}
	return float64(req.Nights()) * boat.PricePerDay
}
