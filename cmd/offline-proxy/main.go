// Command offline-proxy fronts the boat-rental origin with the offline
// cache layer: it serves requests through the cache strategies, queues
// writes made while offline and replays them once the origin is back.
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

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/costaverde-offline/internal/config"
	"github.com/Sternrassler/costaverde-offline/pkg/connectivity"
	"github.com/Sternrassler/costaverde-offline/pkg/fetch"
	"github.com/Sternrassler/costaverde-offline/pkg/logging"
)

func main() {
	cfg, err := config.LoadProxy()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.LogLevel),
		Pretty:  cfg.LogPretty,
		Output:  os.Stderr,
		Service: "offline-proxy",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Offline proxy failed")
	}
}

func run(ctx context.Context, cfg config.Proxy) error {
	backends, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	network := fetch.New(fetch.Config{Timeout: cfg.FetchTimeout, UserAgent: cfg.UserAgent})

	app, err := newApp(ctx, cfg, backends, network)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", srv.Addr).
			Str("origin", cfg.OriginURL).
			Str("cache_backend", cfg.CacheBackend).
			Str("cache_version", cfg.CacheVersion).
			Msg("Starting offline proxy")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		app.monitor.Run(gctx, cfg.ProbeInterval, connectivity.HTTPProbe(network, cfg.OriginURL))
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down offline proxy")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
