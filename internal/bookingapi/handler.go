package bookingapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// IdempotencyKeyHeader carries the client supplied de-duplication key.
	IdempotencyKeyHeader = "Idempotency-Key"

	// ReplayedHeader is set to "true" on responses served from an earlier
	// request with the same key.
	ReplayedHeader = "Idempotent-Replayed"

	maxBodyBytes = 1 << 20
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_api_http_requests_total",
		Help: "Total HTTP requests handled by the booking API",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "booking_api_http_request_duration_seconds",
		Help:    "Booking API request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route"})
)

// Handler serves the booking API.
type Handler struct {
	store  Store
	logger zerolog.Logger
}

// NewHandler creates a Handler on top of store.
func NewHandler(store Store) *Handler {
	return &Handler{
		store:  store,
		logger: log.With().Str("component", "bookingapi").Logger(),
	}
}

// Routes returns the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/boats", h.ListBoats)
		r.Get("/bookings", h.ListBookings)
		r.Post("/bookings", h.CreateBooking)
		r.Get("/favorites", h.ListFavorites)
		r.Post("/favorites", h.AddFavorite)
		r.Delete("/favorites/{boatId}", h.RemoveFavorite)
	})
	return r
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListBoats handles GET /api/boats.
func (h *Handler) ListBoats(w http.ResponseWriter, r *http.Request) {
	boats, err := h.store.ListBoats(r.Context())
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, boats)
}

// ListBookings handles GET /api/bookings?userId=.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "userId is required")
		return
	}
	bookings, err := h.store.ListBookings(r.Context(), userID)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, bookings)
}

// CreateBooking handles POST /api/bookings.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req CreateBookingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp, err := h.store.CreateBooking(r.Context(), req, idempotencyFor(r, body))
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	h.respondStored(w, r, resp)
}

// ListFavorites handles GET /api/favorites?userId=.
func (h *Handler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "userId is required")
		return
	}
	favorites, err := h.store.ListFavorites(r.Context(), userID)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, favorites)
}

// AddFavorite handles POST /api/favorites.
func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req FavoriteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp, err := h.store.AddFavorite(r.Context(), req, idempotencyFor(r, body))
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	h.respondStored(w, r, resp)
}

// RemoveFavorite handles DELETE /api/favorites/{boatId}?userId=.
func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	req := FavoriteRequest{
		BoatID: chi.URLParam(r, "boatId"),
		UserID: r.URL.Query().Get("userId"),
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp, err := h.store.RemoveFavorite(r.Context(), req, idempotencyFor(r, nil))
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	h.respondStored(w, r, resp)
}

func (h *Handler) respondStored(w http.ResponseWriter, r *http.Request, resp Response) {
	if resp.Replayed {
		w.Header().Set(ReplayedHeader, "true")
		h.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", resp.StatusCode).
			Msg("Replayed idempotent write")
	}
	if len(resp.Body) > 0 {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

func (h *Handler) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrBoatNotFound):
		respondError(w, http.StatusNotFound, "boat not found")
	case errors.Is(err, ErrIdempotencyMismatch):
		respondError(w, http.StatusUnprocessableEntity, "Idempotency-Key reused with a different request")
	case errors.Is(err, ErrInvalidRequest):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Store failure")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	return body, true
}

// idempotencyFor fingerprints the request. Requests without a key are not
// de-duplicated.
func idempotencyFor(r *http.Request, body []byte) Idempotency {
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		return Idempotency{}
	}
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{'\n'})
	h.Write([]byte(r.URL.RequestURI()))
	h.Write([]byte{'\n'})
	h.Write(body)
	return Idempotency{Key: key, RequestHash: hex.EncodeToString(h.Sum(nil))}
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
