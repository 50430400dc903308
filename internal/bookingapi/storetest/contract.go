// Package storetest holds the behavioural contract every bookingapi.Store
// implementation must satisfy.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/Sternrassler/costaverde-offline/internal/bookingapi"
)

// CleanupFunc releases resources held by a store under test.
type CleanupFunc = func()

// StoreFactory returns a fresh store seeded with bookingapi.DefaultBoats.
type StoreFactory func(t *testing.T) (bookingapi.Store, CleanupFunc)

// RunStore runs the contract against stores produced by newStore.
func RunStore(t *testing.T, newStore StoreFactory) {
	t.Helper()

	open := func(t *testing.T) bookingapi.Store {
		t.Helper()
		store, cleanup := newStore(t)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		return store
	}

	t.Run("lists seeded boats", func(t *testing.T) {
		store := open(t)
		boats, err := store.ListBoats(context.Background())
		if err != nil {
			t.Fatalf("ListBoats: %v", err)
		}
		if len(boats) != 2 || boats[0].ID != "b1" || boats[1].ID != "b2" {
			t.Fatalf("unexpected boats: %+v", boats)
		}
	})

	t.Run("create booking", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		resp, err := store.CreateBooking(ctx, booking("u1"), bookingapi.Idempotency{})
		if err != nil {
			t.Fatalf("CreateBooking: %v", err)
		}
		if resp.StatusCode != http.StatusCreated || resp.Replayed {
			t.Fatalf("unexpected response: %+v", resp)
		}
		var created bookingapi.Booking
		if err := json.Unmarshal(resp.Body, &created); err != nil {
			t.Fatalf("decode booking: %v", err)
		}
		if created.ID == "" || created.Status != bookingapi.BookingStatusPending {
			t.Errorf("unexpected booking: %+v", created)
		}
		// Two nights at 850.
		if created.TotalPrice != 1700 {
			t.Errorf("TotalPrice = %v, want 1700", created.TotalPrice)
		}

		list, err := store.ListBookings(ctx, "u1")
		if err != nil {
			t.Fatalf("ListBookings: %v", err)
		}
		if len(list) != 1 || list[0].ID != created.ID {
			t.Fatalf("unexpected bookings: %+v", list)
		}
		other, err := store.ListBookings(ctx, "u2")
		if err != nil || len(other) != 0 {
			t.Fatalf("other user bookings = %+v, %v", other, err)
		}
	})

	t.Run("same key replays stored response", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		idem := bookingapi.Idempotency{Key: "key-1", RequestHash: "hash-1"}

		first, err := store.CreateBooking(ctx, booking("u1"), idem)
		if err != nil {
			t.Fatalf("first CreateBooking: %v", err)
		}
		second, err := store.CreateBooking(ctx, booking("u1"), idem)
		if err != nil {
			t.Fatalf("second CreateBooking: %v", err)
		}
		if !second.Replayed {
			t.Error("second response should be a replay")
		}
		if second.StatusCode != first.StatusCode || string(second.Body) != string(first.Body) {
			t.Errorf("replayed response differs: %+v vs %+v", second, first)
		}

		list, _ := store.ListBookings(ctx, "u1")
		if len(list) != 1 {
			t.Fatalf("bookings = %d, want 1", len(list))
		}
	})

	t.Run("same key different request", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		if _, err := store.CreateBooking(ctx, booking("u1"), bookingapi.Idempotency{Key: "k", RequestHash: "a"}); err != nil {
			t.Fatalf("CreateBooking: %v", err)
		}
		_, err := store.CreateBooking(ctx, booking("u1"), bookingapi.Idempotency{Key: "k", RequestHash: "b"})
		if !errors.Is(err, bookingapi.ErrIdempotencyMismatch) {
			t.Fatalf("err = %v, want ErrIdempotencyMismatch", err)
		}
	})

	t.Run("unknown boat is not recorded", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		req := booking("u1")
		req.BoatID = "nope"
		idem := bookingapi.Idempotency{Key: "k-missing", RequestHash: "h"}

		if _, err := store.CreateBooking(ctx, req, idem); !errors.Is(err, bookingapi.ErrBoatNotFound) {
			t.Fatalf("err = %v, want ErrBoatNotFound", err)
		}
		// The key stays free after a failed write.
		resp, err := store.CreateBooking(ctx, booking("u1"), idem)
		if err != nil {
			t.Fatalf("retry with same key: %v", err)
		}
		if resp.Replayed {
			t.Error("failed write must not be replayed")
		}
	})

	t.Run("favorites add and remove", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		fav := bookingapi.FavoriteRequest{BoatID: "b2", UserID: "u1"}

		resp, err := store.AddFavorite(ctx, fav, bookingapi.Idempotency{})
		if err != nil || resp.StatusCode != http.StatusCreated {
			t.Fatalf("AddFavorite = %+v, %v", resp, err)
		}
		resp, err = store.AddFavorite(ctx, fav, bookingapi.Idempotency{})
		if err != nil || resp.StatusCode != http.StatusOK {
			t.Fatalf("second AddFavorite = %+v, %v", resp, err)
		}

		list, err := store.ListFavorites(ctx, "u1")
		if err != nil || len(list) != 1 || list[0].BoatID != "b2" {
			t.Fatalf("ListFavorites = %+v, %v", list, err)
		}

		resp, err = store.RemoveFavorite(ctx, fav, bookingapi.Idempotency{Key: "rm", RequestHash: "h"})
		if err != nil || resp.StatusCode != http.StatusNoContent {
			t.Fatalf("RemoveFavorite = %+v, %v", resp, err)
		}
		resp, err = store.RemoveFavorite(ctx, fav, bookingapi.Idempotency{Key: "rm", RequestHash: "h"})
		if err != nil || !resp.Replayed || resp.StatusCode != http.StatusNoContent {
			t.Fatalf("replayed RemoveFavorite = %+v, %v", resp, err)
		}

		list, _ = store.ListFavorites(ctx, "u1")
		if len(list) != 0 {
			t.Fatalf("favorites after remove = %+v", list)
		}
	})

	t.Run("favorite for unknown boat", func(t *testing.T) {
		store := open(t)
		_, err := store.AddFavorite(context.Background(),
			bookingapi.FavoriteRequest{BoatID: "zz", UserID: "u1"}, bookingapi.Idempotency{})
		if !errors.Is(err, bookingapi.ErrBoatNotFound) {
			t.Fatalf("err = %v, want ErrBoatNotFound", err)
		}
	})
}

func booking(userID string) bookingapi.CreateBookingRequest {
	return bookingapi.CreateBookingRequest{
		BoatID:    "b1",
		UserID:    userID,
		StartDate: "2024-06-01",
		EndDate:   "2024-06-03",
		Guests:    4,
	}
}
