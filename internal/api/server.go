// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api wires the HTTP surface (house commands, session
// listing, now-playing, health, worker status, and the observer
// WebSocket upgrade) over the Room Manager, Event Bus, Scheduler
// set, and store.
package api

import (
	"context"

	"github.com/jukebox-room/corectl/internal/bridge"
	"github.com/jukebox-room/corectl/internal/config"
	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/modelclient"
	"github.com/jukebox-room/corectl/internal/room"
	"github.com/jukebox-room/corectl/internal/scheduler"
	"github.com/jukebox-room/corectl/internal/store"
)

// Server bundles every collaborator the HTTP surface calls into. None
// of these are owned by Server; cmd/server constructs and closes them.
type Server struct {
	holder  *config.Holder
	store   store.Store
	manager *room.Manager
	bridge  *bridge.Bridge

	schedulers map[jukebox.EndpointType]*scheduler.Scheduler
	models     map[jukebox.EndpointType]*modelclient.Client

	summary *requestSummary
	status  *workerStatusWriter
}

// cfg returns the current configuration snapshot, re-read from holder
// on every call so reloadable fields always reflect the latest
// successful hot reload.
func (s *Server) cfg() config.AppConfig {
	return s.holder.Get()
}

// New constructs a Server bound to holder's live configuration. Call
// Start to begin its background flush/snapshot loops and Close to
// stop them.
func New(
	holder *config.Holder,
	st store.Store,
	manager *room.Manager,
	br *bridge.Bridge,
	schedulers map[jukebox.EndpointType]*scheduler.Scheduler,
	models map[jukebox.EndpointType]*modelclient.Client,
) *Server {
	return &Server{
		holder:     holder,
		store:      st,
		manager:    manager,
		bridge:     br,
		schedulers: schedulers,
		models:     models,
		summary:    newRequestSummary(holder),
		status:     newWorkerStatusWriter(holder, schedulers),
	}
}

// Start launches the background loops a Server owns: the noisy-request
// summary flush and the worker-status snapshot writer. Both are
// no-ops if their target path is unset.
func (s *Server) Start(ctx context.Context) {
	go s.summary.run(ctx)
	go s.status.run(ctx)
}

// Close flushes one final summary and worker-status snapshot. The
// background loops themselves stop when the ctx passed to Start is
// cancelled.
func (s *Server) Close() {
	s.summary.flush()
	s.status.snapshot()
}

