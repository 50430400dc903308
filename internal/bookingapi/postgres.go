package bookingapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schema string

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	now    func() time.Time
	logger zerolog.Logger
}

// OpenPostgresStore connects to dsn and verifies the connection.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return NewPostgresStore(pool), nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		now:    time.Now,
		logger: log.With().Str("component", "bookingapi-postgres").Logger(),
	}
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the schema and seeds boats. It is safe to run repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context, boats []Boat) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	for _, b := range boats {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO boats (id, name, location, capacity, price_per_day)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			b.ID, b.Name, b.Location, b.Capacity, b.PricePerDay)
		if err != nil {
			return fmt.Errorf("seed boat %s: %w", b.ID, err)
		}
	}

	s.logger.Info().Int("boats", len(boats)).Msg("Schema migrated")
	return nil
}

func (s *PostgresStore) ListBoats(ctx context.Context) ([]Boat, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, location, capacity, price_per_day FROM boats ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Boat{}
	for rows.Next() {
		var b Boat
		if err := rows.Scan(&b.ID, &b.Name, &b.Location, &b.Capacity, &b.PricePerDay); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListBookings(ctx context.Context, userID string) ([]Booking, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, boat_id, user_id, start_date, end_date, guests, total_price, notes, status, created_at
		FROM bookings
		WHERE user_id = $1
		ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Booking{}
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.BoatID, &b.UserID, &b.StartDate, &b.EndDate,
			&b.Guests, &b.TotalPrice, &b.Notes, &b.Status, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.CreatedAt = b.CreatedAt.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListFavorites(ctx context.Context, userID string) ([]Favorite, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, boat_id, created_at FROM favorites
		WHERE user_id = $1
		ORDER BY boat_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Favorite{}
	for rows.Next() {
		var f Favorite
		if err := rows.Scan(&f.UserID, &f.BoatID, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.CreatedAt = f.CreatedAt.UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateBooking(ctx context.Context, req CreateBookingRequest, idem Idempotency) (Response, error) {
	return s.idempotent(ctx, idem, func(tx pgx.Tx) (Response, error) {
		boat, err := lookupBoat(ctx, tx, req.BoatID)
		if err != nil {
			return Response{}, err
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
		_, err = tx.Exec(ctx, `
			INSERT INTO bookings (id, boat_id, user_id, start_date, end_date, guests, total_price, notes, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			booking.ID, booking.BoatID, booking.UserID, booking.StartDate, booking.EndDate,
			booking.Guests, booking.TotalPrice, booking.Notes, booking.Status, booking.CreatedAt)
		if err != nil {
			return Response{}, fmt.Errorf("insert booking: %w", err)
		}
		return jsonResponse(http.StatusCreated, booking)
	})
}

func (s *PostgresStore) AddFavorite(ctx context.Context, req FavoriteRequest, idem Idempotency) (Response, error) {
	return s.idempotent(ctx, idem, func(tx pgx.Tx) (Response, error) {
		if _, err := lookupBoat(ctx, tx, req.BoatID); err != nil {
			return Response{}, err
		}

		fav := Favorite{UserID: req.UserID, BoatID: req.BoatID, CreatedAt: s.now().UTC()}
		tag, err := tx.Exec(ctx, `
			INSERT INTO favorites (user_id, boat_id, created_at) VALUES ($1, $2, $3)
			ON CONFLICT (user_id, boat_id) DO NOTHING`,
			fav.UserID, fav.BoatID, fav.CreatedAt)
		if err != nil {
			return Response{}, fmt.Errorf("insert favorite: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return jsonResponse(http.StatusCreated, fav)
		}

		err = tx.QueryRow(ctx, `SELECT created_at FROM favorites WHERE user_id = $1 AND boat_id = $2`,
			fav.UserID, fav.BoatID).Scan(&fav.CreatedAt)
		if err != nil {
			return Response{}, err
		}
		fav.CreatedAt = fav.CreatedAt.UTC()
		return jsonResponse(http.StatusOK, fav)
	})
}

func (s *PostgresStore) RemoveFavorite(ctx context.Context, req FavoriteRequest, idem Idempotency) (Response, error) {
	return s.idempotent(ctx, idem, func(tx pgx.Tx) (Response, error) {
		_, err := tx.Exec(ctx, `DELETE FROM favorites WHERE user_id = $1 AND boat_id = $2`, req.UserID, req.BoatID)
		if err != nil {
			return Response{}, fmt.Errorf("delete favorite: %w", err)
		}
		return Response{StatusCode: http.StatusNoContent}, nil
	})
}

// idempotent runs fn in a transaction together with the idempotency record.
// The placeholder row inserted first serializes concurrent requests with
// the same key: the second insert blocks until the first transaction ends.
func (s *PostgresStore) idempotent(ctx context.Context, idem Idempotency, fn func(tx pgx.Tx) (Response, error)) (Response, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Response{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if idem.Key != "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO idempotency_keys (idempotency_key, request_hash) VALUES ($1, $2)
			ON CONFLICT (idempotency_key) DO NOTHING`,
			idem.Key, idem.RequestHash)
		if err != nil {
			return Response{}, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return s.stored(ctx, tx, idem)
		}
	}

	resp, err := fn(tx)
	if err != nil {
		return Response{}, err
	}

	if idem.Key != "" {
		_, err := tx.Exec(ctx, `
			UPDATE idempotency_keys SET status_code = $2, body = $3
			WHERE idempotency_key = $1`,
			idem.Key, resp.StatusCode, resp.Body)
		if err != nil {
			return Response{}, fmt.Errorf("record idempotency key: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Response{}, fmt.Errorf("commit: %w", err)
	}
	return resp, nil
}

func (s *PostgresStore) stored(ctx context.Context, tx pgx.Tx, idem Idempotency) (Response, error) {
	var (
		hash string
		resp Response
	)
	err := tx.QueryRow(ctx, `
		SELECT request_hash, status_code, body FROM idempotency_keys
		WHERE idempotency_key = $1`, idem.Key).Scan(&hash, &resp.StatusCode, &resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("load idempotency key: %w", err)
	}
	if hash != idem.RequestHash {
		return Response{}, ErrIdempotencyMismatch
	}

	s.logger.Debug().Str("key", idem.Key).Int("status", resp.StatusCode).Msg("Idempotent replay")
	resp.Replayed = true
	return resp, nil
}

func lookupBoat(ctx context.Context, tx pgx.Tx, id string) (Boat, error) {
	var b Boat
	err := tx.QueryRow(ctx, `SELECT id, name, location, capacity, price_per_day FROM boats WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.Location, &b.Capacity, &b.PricePerDay)
	if errors.Is(err, pgx.ErrNoRows) {
		return Boat{}, ErrBoatNotFound
	}
	return b, err
}
