// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command server wires every core collaborator (Event Bus, Endpoint
// Queue Scheduler, Generation Pipeline, Room Manager, Room Event Sync,
// Observer WebSocket Bridge, HTTP API) into one running process:
// flag-parsed config, logger configured first, collaborators
// constructed bottom-up, an http.Server started with a graceful
// shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jukebox-room/corectl/internal/api"
	"github.com/jukebox-room/corectl/internal/bridge"
	"github.com/jukebox-room/corectl/internal/bus"
	"github.com/jukebox-room/corectl/internal/cleanup"
	"github.com/jukebox-room/corectl/internal/config"
	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/log"
	"github.com/jukebox-room/corectl/internal/modelclient"
	"github.com/jukebox-room/corectl/internal/pipeline"
	"github.com/jukebox-room/corectl/internal/room"
	"github.com/jukebox-room/corectl/internal/roomws"
	"github.com/jukebox-room/corectl/internal/scheduler"
	"github.com/jukebox-room/corectl/internal/store"
	"github.com/jukebox-room/corectl/internal/sync"
	"github.com/jukebox-room/corectl/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a reloadable YAML config overlay")
	statusFile := flag.String("status-file", "", "path to write a periodic worker status snapshot (overrides WORKER_STATUS_FILE)")
	flag.Parse()

	cfg := config.Load(*configPath)
	if *statusFile != "" {
		cfg.StatusFilePath = *statusFile
	}
	holder := config.NewHolder(cfg)

	log.Configure(log.Config{Level: cfg.LogLevel, Service: cfg.LogService})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:  cfg.LogService,
		SamplingRate: 1.0,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("telemetry provider init failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	st := store.NewMemory()

	eventBus := bus.New(bus.Config{
		SlowThreshold: cfg.LogEventHandlerSlowDuration(),
		Trace:         cfg.LogEventBus,
	})
	defer eventBus.Close()

	schedulers := map[jukebox.EndpointType]*scheduler.Scheduler{
		jukebox.EndpointLLM:   scheduler.New(jukebox.EndpointLLM, cfg.SchedulerConcurrencyLLM),
		jukebox.EndpointImage: scheduler.New(jukebox.EndpointImage, cfg.SchedulerConcurrencyImage),
		jukebox.EndpointAudio: scheduler.New(jukebox.EndpointAudio, cfg.SchedulerConcurrencyAudio),
	}
	for _, sched := range schedulers {
		defer sched.Close()
	}

	models := map[jukebox.EndpointType]*modelclient.Client{
		jukebox.EndpointLLM:   modelclient.New(jukebox.EndpointLLM, unconfiguredCaller(jukebox.EndpointLLM), modelclient.Config{}),
		jukebox.EndpointImage: modelclient.New(jukebox.EndpointImage, unconfiguredCaller(jukebox.EndpointImage), modelclient.Config{}),
		jukebox.EndpointAudio: modelclient.New(jukebox.EndpointAudio, unconfiguredCaller(jukebox.EndpointAudio), modelclient.Config{}),
	}

	for endpoint, sched := range schedulers {
		sched.Breaker = models[endpoint].Breaker()
	}

	pl := pipeline.New(st, eventBus, schedulers, models, pipeline.Config{
		PollInterval:    cfg.PollInterval(),
		MaxPollAttempts: cfg.MaxPollAttempts,
	})
	pl.Start(ctx)
	defer pl.Close()

	manager := room.NewManager(st, room.Config{})
	defer manager.Close()

	roomSync := sync.New(eventBus, st, manager)
	defer roomSync.Close()

	observerBridge := bridge.New(eventBus)
	defer observerBridge.Close()

	deviceHandler := roomws.NewHandler(manager)

	cleanupWorker := cleanup.NewWorker(st, eventBus, cfg.TempPlaylistCleanupInterval(), 24*time.Hour)
	go cleanupWorker.Run(ctx)

	go func() {
		if err := holder.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("config watch stopped")
		}
	}()

	srv := api.New(holder, st, manager, observerBridge, schedulers, models)
	srv.Start(ctx)
	defer srv.Close()

	router := api.NewRouter(srv)
	router.Handle("/ws/room", deviceHandler)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: router,
	}

	go func() {
		logger.Info().Int("port", cfg.APIPort).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}
}

// unconfiguredCaller is the Caller wired into every modelclient.Client
// until a real model provider HTTP client is attached by an operator.
// It fails closed rather than silently succeeding, so an un-wired
// endpoint shows up immediately as scheduler job errors instead of
// phantom "ready" songs.
func unconfiguredCaller(endpoint jukebox.EndpointType) modelclient.Caller {
	return func(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
		return modelclient.Response{}, fmt.Errorf("modelclient: no caller configured for endpoint %q", endpoint)
	}
}
