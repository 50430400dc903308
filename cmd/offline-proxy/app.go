package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/costaverde-offline/internal/config"
	"github.com/Sternrassler/costaverde-offline/pkg/connectivity"
	"github.com/Sternrassler/costaverde-offline/pkg/fetch"
	"github.com/Sternrassler/costaverde-offline/pkg/logging"
	"github.com/Sternrassler/costaverde-offline/pkg/notify"
	"github.com/Sternrassler/costaverde-offline/pkg/queue"
	"github.com/Sternrassler/costaverde-offline/pkg/replay"
	"github.com/Sternrassler/costaverde-offline/pkg/worker"
)

// app wires the cache manager, the offline queue, the replay coordinator,
// the connectivity monitor and the notification inbox of one origin.
type app struct {
	cfg         config.Proxy
	manager     *worker.CacheManager
	queue       *queue.Queue
	coordinator *replay.Coordinator
	monitor     *connectivity.Monitor
	inbox       *notify.Inbox
	notifier    *notify.Handler
	logger      zerolog.Logger
}

// newApp builds the app on top of b, reaching the origin through network.
// A failed install leaves the manager passing requests through; it is
// retried on the next reconnect.
func newApp(ctx context.Context, cfg config.Proxy, b *backends, network fetch.Fetcher) (*app, error) {
	logger := logging.NewLogger("offline-proxy")

	monitor := connectivity.NewMonitor(connectivity.Config{
		FailureThreshold: cfg.FailureThreshold,
		InitialOnline:    true,
		Store:            b.state,
	}, logging.NewLogger("connectivity"))
	if err := monitor.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("Could not restore connectivity state")
	}
	fetcher := monitor.Wrap(network)

	wcfg := worker.DefaultConfig(cfg.OriginURL)
	wcfg.Version = cfg.CacheVersion
	wcfg.PreservedStores = b.preserved
	manager, err := worker.NewCacheManager(wcfg, b.cache, fetcher)
	if err != nil {
		monitor.Close()
		return nil, fmt.Errorf("create cache manager: %w", err)
	}

	q := queue.New(b.queue, queue.DefaultConfig())

	rcfg := replay.DefaultConfig(cfg.OriginURL)
	rcfg.MaxConcurrency = cfg.ReplayConcurrency
	coordinator, err := replay.NewCoordinator(rcfg, q, manager, fetcher)
	if err != nil {
		monitor.Close()
		return nil, fmt.Errorf("create replay coordinator: %w", err)
	}
	coordinator.SetOnline(monitor.Online)

	inbox := notify.NewInbox(cfg.NotificationsLimit)

	a := &app{
		cfg:         cfg,
		manager:     manager,
		queue:       q,
		coordinator: coordinator,
		monitor:     monitor,
		inbox:       inbox,
		notifier:    notify.NewHandler(inbox, nil),
		logger:      logger,
	}

	monitor.OnReconnect(a.retryInstall)
	coordinator.Register(monitor)

	if err := manager.Start(ctx); err != nil {
		logger.Warn().Err(err).Msg("Cache install failed, passing requests through until the origin is reachable")
	}
	return a, nil
}

func (a *app) retryInstall(ctx context.Context) {
	if a.manager.State() != worker.StateNew {
		return
	}
	if err := a.manager.Start(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Cache install retry failed")
		return
	}
	a.logger.Info().Msg("Cache installed after reconnect")
}

// Close stops background replays started by reconnects.
func (a *app) Close() {
	a.monitor.Close()
}
