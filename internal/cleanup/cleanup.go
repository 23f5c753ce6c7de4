// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cleanup runs the temporary-playlist cleanup loop: a
// ticker-driven background goroutine that asks the store to delete
// expired temporary playlists and announces each deletion on the
// Event Bus, so Room Event Sync clears affected rooms through the
// existing event path.
package cleanup

import (
	"context"
	"time"

	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/log"
	"github.com/jukebox-room/corectl/internal/store"
	"github.com/rs/zerolog"
)

// Bus is the narrow Event Bus capability the Worker needs.
type Bus interface {
	Emit(kind jukebox.EventKind, payload map[string]any)
}

// Worker periodically deletes expired temporary playlists.
type Worker struct {
	Store      store.Store
	Bus        Bus
	Interval   time.Duration
	MaxAge     time.Duration
	nowForTest func() time.Time
}

// NewWorker constructs a Worker. interval is how often the sweep runs;
// maxAge is how old a temporary playlist must be before it is eligible
// for deletion.
func NewWorker(st store.Store, b Bus, interval, maxAge time.Duration) *Worker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Worker{Store: st, Bus: b, Interval: interval, MaxAge: maxAge}
}

// Run blocks, sweeping on every tick, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	logger := log.WithComponent("cleanup")
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", w.Interval).Msg("temp playlist cleanup worker started")
	for {
		select {
		case <-ticker.C:
			w.sweep(ctx, logger)
		case <-ctx.Done():
			logger.Info().Msg("temp playlist cleanup worker stopped")
			return
		}
	}
}

func (w *Worker) sweep(ctx context.Context, logger zerolog.Logger) {
	now := time.Now()
	if w.nowForTest != nil {
		now = w.nowForTest()
	}
	olderThan := now.Add(-w.MaxAge)

	deleted, err := w.Store.DeleteExpiredTemporaryPlaylists(ctx, olderThan)
	if err != nil {
		logger.Warn().Err(err).Msg("temp playlist cleanup sweep failed")
		return
	}
	for _, playlistID := range deleted {
		w.Bus.Emit(jukebox.EventPlaylistDeleted, map[string]any{"playlistId": playlistID})
	}
	if len(deleted) > 0 {
		logger.Info().Int("deleted", len(deleted)).Msg("temp playlist cleanup swept expired playlists")
	}
}
