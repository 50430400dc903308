// Command booking-api runs the boat-rental origin the offline proxy
// fronts: boats, bookings and favorites with Idempotency-Key handling.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/costaverde-offline/internal/bookingapi"
	"github.com/Sternrassler/costaverde-offline/internal/config"
	"github.com/Sternrassler/costaverde-offline/pkg/logging"
)

func main() {
	cfg, err := config.LoadBookingAPI()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.LogLevel),
		Pretty:  cfg.LogPretty,
		Output:  os.Stderr,
		Service: "booking-api",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Booking API failed")
	}
}

func run(ctx context.Context, cfg config.BookingAPI) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(store),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("storage", cfg.StorageBackend).Msg("Starting booking API")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down booking API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.BookingAPI) (bookingapi.Store, func(), error) {
	if cfg.StorageBackend != config.StoragePostgres {
		return bookingapi.NewMemoryStore(bookingapi.DefaultBoats()), func() {}, nil
	}

	store, err := bookingapi.OpenPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx, bookingapi.DefaultBoats()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Msg("Connected to Postgres")
	return store, store.Close, nil
}

func newRouter(store bookingapi.Store) http.Handler {
	r := bookingapi.NewHandler(store).Routes()
	r.Handle("/metrics", promhttp.Handler())
	return r
}
