package bookingapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists boats, bookings, favorites and idempotency records.
//
// Write operations are atomic with their idempotency record: a write whose
// key was already recorded returns the stored Response with Replayed set
// and changes nothing. Failed writes are not recorded.
type Store interface {
	ListBoats(ctx context.Context) ([]Boat, error)
	ListBookings(ctx context.Context, userID string) ([]Booking, error)
	ListFavorites(ctx context.Context, userID string) ([]Favorite, error)

	CreateBooking(ctx context.Context, req CreateBookingRequest, idem Idempotency) (Response, error)
	AddFavorite(ctx context.Context, req FavoriteRequest, idem Idempotency) (Response, error)
	RemoveFavorite(ctx context.Context, req FavoriteRequest, idem Idempotency) (Response, error)
}

type idemRecord struct {
	hash string
	resp Response
}

type favoriteKey struct {
	userID string
	boatID string
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	boats     map[string]Boat
	bookings  []Booking
	favorites map[favoriteKey]Favorite
	keys      map[string]idemRecord
}

// NewMemoryStore creates a store seeded with boats.
func NewMemoryStore(boats []Boat) *MemoryStore {
	s := &MemoryStore{
		now:       time.Now,
		boats:     make(map[string]Boat, len(boats)),
		favorites: make(map[favoriteKey]Favorite),
		keys:      make(map[string]idemRecord),
	}
	for _, b := range boats {
		s.boats[b.ID] = b
	}
	return s
}

// SetClock overrides the clock used for created_at timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// BookingCount returns the total number of stored bookings.
func (s *MemoryStore) BookingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bookings)
}

func (s *MemoryStore) ListBoats(_ context.Context) ([]Boat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Boat, 0, len(s.boats))
	for _, b := range s.boats {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListBookings(_ context.Context, userID string) ([]Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Booking{}
	for _, b := range s.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListFavorites(_ context.Context, userID string) ([]Favorite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Favorite{}
	for k, f := range s.favorites {
		if k.userID == userID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BoatID < out[j].BoatID })
	return out, nil
}

func (s *MemoryStore) CreateBooking(_ context.Context, req CreateBookingRequest, idem Idempotency) (Response, error) {
	return s.idempotent(idem, func() (Response, error) {
		boat, ok := s.boats[req.BoatID]
		if !ok {
			return Response{}, ErrBoatNotFound
		}
		booking := Booking{
			ID:         uuid.NewString(),
			BoatID:     req.BoatID,
			UserID:     req.UserID,
			StartDate:  req.StartDate,
			EndDate:    req.EndDate,
			Guests:     req.Guests,
			TotalPrice: bookingPrice(req, boat),
			Notes:      req.Notes,
			Status:     BookingStatusPending,
			CreatedAt:  s.now().UTC(),
		}
		s.bookings = append(s.bookings, booking)
		return jsonResponse(http.StatusCreated, booking)
	})
}

func (s *MemoryStore) AddFavorite(_ context.Context, req FavoriteRequest, idem Idempotency) (Response, error) {
	return s.idempotent(idem, func() (Response, error) {
		if _, ok := s.boats[req.BoatID]; !ok {
			return Response{}, ErrBoatNotFound
		}
		k := favoriteKey{userID: req.UserID, boatID: req.BoatID}
		if fav, ok := s.favorites[k]; ok {
			return jsonResponse(http.StatusOK, fav)
		}
		fav := Favorite{UserID: req.UserID, BoatID: req.BoatID, CreatedAt: s.now().UTC()}
		s.favorites[k] = fav
		return jsonResponse(http.StatusCreated, fav)
	})
}

func (s *MemoryStore) RemoveFavorite(_ context.Context, req FavoriteRequest, idem Idempotency) (Response, error) {
	return s.idempotent(idem, func() (Response, error) {
		delete(s.favorites, favoriteKey{userID: req.UserID, boatID: req.BoatID})
		return Response{StatusCode: http.StatusNoContent}, nil
	})
}

// idempotent runs fn under the store lock unless idem.Key was already
// recorded.
func (s *MemoryStore) idempotent(idem Idempotency, fn func() (Response, error)) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idem.Key != "" {
		if rec, ok := s.keys[idem.Key]; ok {
			if rec.hash != idem.RequestHash {
				return Response{}, ErrIdempotencyMismatch
			}
			resp := rec.resp
			resp.Replayed = true
			return resp, nil
		}
	}

	resp, err := fn()
	if err != nil {
		return Response{}, err
	}
	if idem.Key != "" {
		s.keys[idem.Key] = idemRecord{hash: idem.RequestHash, resp: resp}
	}
	return resp, nil
}

func jsonResponse(status int, v any) (Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Response{}, err
	}
	return Response{StatusCode: status, Body: body}, nil
}
