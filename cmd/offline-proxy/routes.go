package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sternrassler/costaverde-offline/pkg/connectivity"
	"github.com/Sternrassler/costaverde-offline/pkg/notify"
	"github.com/Sternrassler/costaverde-offline/pkg/queue"
	"github.com/Sternrassler/costaverde-offline/pkg/replay"
)

const (
	maxBodyBytes = 1 << 20

	// tagAll replays every family.
	tagAll = "all"
)

// favoriteChange is the body of a queued favorite write.
type favoriteChange struct {
	BoatID string `json:"boat_id"`
	Remove bool   `json:"remove,omitempty"`
}

// Routes returns the proxy router. Paths it does not own are served by
// the cache manager.
func (a *app) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.accessLog)

	r.Get("/health", a.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/sync/{tag}", a.sync)
	r.Get("/status/{userID}", a.status)

	r.Route("/queue/{userID}", func(r chi.Router) {
		r.Get("/bookings", a.listBookings)
		r.Post("/bookings", a.enqueueBooking)
		r.Delete("/bookings/{id}", a.cancel(queue.KindBooking))
		r.Get("/favorites", a.listFavorites)
		r.Post("/favorites", a.enqueueFavorite)
		r.Delete("/favorites/{id}", a.cancel(queue.KindFavorite))
	})

	r.Post("/push", a.push)
	r.Get("/notifications", a.listNotifications)
	r.Post("/notifications/{id}/click", a.click)

	r.NotFound(a.manager.ServeHTTP)
	r.MethodNotAllowed(a.manager.ServeHTTP)
	return r
}

func (a *app) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request served")
	})
}

func (a *app) health(w http.ResponseWriter, _ *http.Request) {
	state := a.monitor.State()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"cache":      a.manager.State().String(),
		"version":    a.cfg.CacheVersion,
		"online":     state.Online,
		"changed_at": state.ChangedAt,
	})
}

// sync replays one family (or all with the tag "all"). Without force the
// request is delivered as an explicit trigger and honours backoff.
func (a *app) sync(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	var opts []replay.ReplayOption
	if force {
		opts = append(opts, replay.Force())
	}

	// Replays outlive a client that goes away.
	ctx := context.WithoutCancel(r.Context())

	if tag == tagAll {
		results, err := a.coordinator.ReplayAll(ctx, opts...)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, results)
		return
	}

	if !force {
		err := a.monitor.Trigger(ctx, tag)
		if errors.Is(err, connectivity.ErrNoTrigger) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"tag": tag})
		return
	}

	res, err := a.coordinator.Replay(ctx, tag, opts...)
	switch {
	case errors.Is(err, replay.ErrUnknownTag):
		respondError(w, http.StatusNotFound, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respondJSON(w, http.StatusOK, res)
	}
}

func (a *app) status(w http.ResponseWriter, r *http.Request) {
	status, err := a.coordinator.Status(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (a *app) listBookings(w http.ResponseWriter, r *http.Request) {
	writes, err := a.queue.Bookings(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, nonNil(writes))
}

func (a *app) listFavorites(w http.ResponseWriter, r *http.Request) {
	writes, err := a.queue.List(r.Context(), queue.KindFavorite, chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, nonNil(writes))
}

func (a *app) enqueueBooking(w http.ResponseWriter, r *http.Request) {
	var req queue.BookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = chi.URLParam(r, "userID")

	write, err := a.queue.EnqueueBooking(r.Context(), req)
	if err != nil {
		respondEnqueueError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, write)
}

func (a *app) enqueueFavorite(w http.ResponseWriter, r *http.Request) {
	var change favoriteChange
	if !decodeJSON(w, r, &change) {
		return
	}

	write, err := a.queue.EnqueueFavorite(r.Context(), chi.URLParam(r, "userID"), change.BoatID, !change.Remove)
	if err != nil {
		respondEnqueueError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, write)
}

func (a *app) cancel(kind queue.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := a.queue.Cancel(r.Context(), kind, chi.URLParam(r, "userID"), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, queue.ErrNotFound):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, queue.ErrNotPending):
			respondError(w, http.StatusConflict, err.Error())
		case err != nil:
			respondError(w, http.StatusInternalServerError, err.Error())
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func (a *app) push(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read body")
		return
	}

	n, err := a.notifier.Push(r.Context(), data)
	switch {
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error())
	case n.ID == "":
		w.WriteHeader(http.StatusNoContent)
	default:
		respondJSON(w, http.StatusCreated, n)
	}
}

func (a *app) listNotifications(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, a.inbox.List())
}

// click handles a click on a notification. When the click opens the
// notification URL the client is redirected to it.
func (a *app) click(w http.ResponseWriter, r *http.Request) {
	n, err := a.inbox.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	var target string
	opener := notify.WindowOpenerFunc(func(_ context.Context, url string) error {
		target = url
		return nil
	})
	ev := notify.ClickEvent{Action: r.URL.Query().Get("action"), Notification: n}
	if err := notify.NewHandler(a.inbox, opener).Click(r.Context(), ev); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if target == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func respondEnqueueError(w http.ResponseWriter, err error) {
	if errors.Is(err, queue.ErrInvalidWrite) {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func nonNil(writes []queue.Write) []queue.Write {
	if writes == nil {
		return []queue.Write{}
	}
	return writes
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
