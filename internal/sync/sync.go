// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sync implements Room Event Sync: it subscribes to the Event
// Bus and keeps every live Room's queue snapshot in step with the
// store whenever a song or playlist event fires, priming idle rooms
// with fresh pending songs when a refresh starts playback from
// nothing.
package sync

import (
	"context"
	"sync"

	"github.com/jukebox-room/corectl/internal/bus"
	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/log"
	"github.com/jukebox-room/corectl/internal/room"
	"github.com/jukebox-room/corectl/internal/store"
)

// idlePrimeCount is the number of pending songs Room Event Sync seeds
// past the current tail when a Room's queue is seeded from idle.
const idlePrimeCount = 5

// refreshKinds is the set of event kinds that trigger a queue refresh
// of every Room bound to the event's playlist.
var refreshKinds = []jukebox.EventKind{
	jukebox.EventSongCreated,
	jukebox.EventSongStatusChanged,
	jukebox.EventSongDeleted,
	jukebox.EventSongMetadataUpdated,
	jukebox.EventSongReordered,
	jukebox.EventPlaylistSteered,
}

// Bus is the narrow Event Bus capability Sync depends on. Satisfied by
// *bus.Bus; handler/unsubscribe types must match exactly since Go
// interface satisfaction requires identical named function types.
type Bus interface {
	Subscribe(kind jukebox.EventKind, name string, handler bus.Handler) bus.UnsubscribeFunc
}

// Manager is the narrow room.Manager capability Sync depends on.
type Manager interface {
	All() []*room.Room
	Remove(playlistKey string)
}

// Sync owns the Event Bus subscriptions that keep Rooms current with
// the store.
type Sync struct {
	st      store.Store
	manager Manager

	mu     sync.Mutex
	unsubs []bus.UnsubscribeFunc
}

// New constructs a Sync bound to st and manager and subscribes it to
// the Event Bus. Call Close to unsubscribe.
func New(b Bus, st store.Store, manager Manager) *Sync {
	s := &Sync{st: st, manager: manager}
	for _, kind := range refreshKinds {
		unsub := b.Subscribe(kind, "room_sync", s.handleRefresh)
		s.unsubs = append(s.unsubs, unsub)
	}
	s.unsubs = append(s.unsubs, b.Subscribe(jukebox.EventPlaylistDeleted, "room_sync", s.handleDeleted))
	return s
}

// Close unsubscribes from the Event Bus.
func (s *Sync) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

// handleRefresh reloads the queue of every Room bound to the event's
// playlist. A room not yet bound to any playlist, or bound to a
// different one, is left untouched.
func (s *Sync) handleRefresh(ctx context.Context, ev jukebox.Event) error {
	playlistID, ok := ev.PlaylistID()
	if !ok {
		return nil
	}
	for _, r := range s.manager.All() {
		if r.PlaylistID() != playlistID {
			continue
		}
		s.refreshRoom(ctx, r, playlistID)
	}
	return nil
}

// handleDeleted clears the queue of every Room bound to the deleted
// playlist. The Room itself is left alive: its device sockets stay
// connected and simply see an empty queue until a new playlist is
// bound.
func (s *Sync) handleDeleted(ctx context.Context, ev jukebox.Event) error {
	playlistID, ok := ev.PlaylistID()
	if !ok {
		return nil
	}
	for _, r := range s.manager.All() {
		if r.PlaylistID() != playlistID {
			continue
		}
		r.UpdateQueue(ctx, nil, 0)
	}
	return nil
}

// refreshRoom reloads songs from the store and updates the Room's
// queue snapshot, then idle-primes the playlist's work queue if the
// refresh seeded playback from an otherwise-idle Room.
func (s *Sync) refreshRoom(ctx context.Context, r *room.Room, playlistID string) {
	logger := log.WithComponent("room_sync")

	playlist, err := s.st.GetPlaylistByID(ctx, playlistID)
	if err != nil {
		logger.Warn().Str(log.FieldPlaylistID, playlistID).Err(err).Msg("load playlist failed")
		return
	}
	songs, err := s.st.ListSongsByPlaylist(ctx, playlistID)
	if err != nil {
		logger.Warn().Str(log.FieldPlaylistID, playlistID).Err(err).Msg("list songs failed")
		return
	}

	seededFromIdle, _ := r.UpdateQueue(ctx, songs, playlist.PromptEpoch)
	if !seededFromIdle {
		return
	}
	s.idlePrime(ctx, playlistID)
}

// idlePrime issues an idempotent heartbeat and seeds idlePrimeCount
// pending songs past the current tail of playlistID. Failures are
// logged but never propagated: a Room refresh must not fail because
// the work queue could not be topped up.
func (s *Sync) idlePrime(ctx context.Context, playlistID string) {
	logger := log.WithComponent("room_sync")

	if err := s.st.HeartbeatPlaylist(ctx, playlistID); err != nil {
		logger.Warn().Str(log.FieldPlaylistID, playlistID).Err(err).Msg("idle-prime heartbeat failed")
	}

	info, err := s.st.GetWorkQueue(ctx, playlistID)
	if err != nil {
		logger.Warn().Str(log.FieldPlaylistID, playlistID).Err(err).Msg("idle-prime work queue lookup failed")
		return
	}

	next := info.MaxOrderIndex + 1
	for i := 0; i < idlePrimeCount; i++ {
		if _, err := s.st.CreatePendingSong(ctx, playlistID, next+float64(i), store.CreatePendingSongParams{}); err != nil {
			logger.Warn().Str(log.FieldPlaylistID, playlistID).Err(err).Msg("idle-prime pending song creation failed")
		}
	}
}
