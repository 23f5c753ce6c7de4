// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jukebox-room/corectl/internal/log"
)

// Holder owns the live AppConfig and hot-reloads the reloadable subset
// of it whenever ConfigReloadPath changes on disk. It holds a single
// atomically-swapped snapshot read by every subsequent request; there
// is no listener fan-out.
type Holder struct {
	current atomic.Pointer[AppConfig]
	path    string
}

// NewHolder wraps an already-loaded AppConfig for hot reloading.
func NewHolder(initial AppConfig) *Holder {
	h := &Holder{path: initial.ConfigReloadPath}
	h.current.Store(&initial)
	return h
}

// Get returns the current configuration snapshot.
func (h *Holder) Get() AppConfig {
	return *h.current.Load()
}

// Reload re-reads the YAML overlay and swaps in the reloadable fields.
// Non-reloadable fields (APIPort, AllowedOrigins, ...) are always
// carried over from the snapshot already in place.
func (h *Holder) Reload() error {
	logger := log.WithComponent("config")
	overlay, err := readOverlay(h.path)
	if err != nil {
		logger.Warn().Str("path", h.path).Err(err).Msg("config reload failed, keeping previous values")
		return err
	}

	next := h.Get()
	next.applyOverlay(overlay)
	h.current.Store(&next)
	logger.Info().Str("path", h.path).Msg("config reloaded")
	return nil
}

// Watch starts an fsnotify watcher on the overlay file's directory and
// reloads on every write/create/rename, debounced by 500ms. It is a
// no-op if no ConfigReloadPath was set. Watch blocks until ctx is
// cancelled.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(h.path)
	file := filepath.Base(h.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger := log.WithComponent("config")
	logger.Info().Str("path", h.path).Msg("watching config overlay for changes")

	var debounce *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDuration, func() {
				_ = h.Reload()
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}
