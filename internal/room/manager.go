// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package room

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jukebox-room/corectl/internal/log"
	"github.com/jukebox-room/corectl/internal/store"
)

// Manager owns every live Room, keyed by playlistKey. It never leaks
// a back-reference into the Rooms it creates: the callbacks it wires
// in are plain closures over its own store handle.
type Manager struct {
	st  store.Store
	cfg Config

	mu    sync.RWMutex
	rooms map[string]*Room // keyed by playlistKey
	byID  map[string]*Room // keyed by room id
}

// NewManager constructs a Manager bound to st. cfg supplies the
// default Room timer configuration for every Room it creates.
func NewManager(st store.Store, cfg Config) *Manager {
	return &Manager{
		st:    st,
		cfg:   cfg,
		rooms: make(map[string]*Room),
		byID:  make(map[string]*Room),
	}
}

// GetOrCreate returns the Room for playlistKey, creating it (and
// resolving playlistKey to a playlistId) on first access. Resolution
// stays lazy and is never persisted: when the key lookup fails the
// Room remains unbound until a caller invokes BindPlaylist;
// UpdateQueue does not bind it.
func (m *Manager) GetOrCreate(ctx context.Context, playlistKey string) (*Room, error) {
	m.mu.RLock()
	if r, ok := m.rooms[playlistKey]; ok {
		m.mu.RUnlock()
		return r, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[playlistKey]; ok {
		return r, nil
	}

	playlistID := ""
	if p, err := m.st.GetPlaylistByKey(ctx, playlistKey); err == nil {
		playlistID = p.ID
	}

	id := uuid.New().String()
	r := New(id, playlistKey, playlistKey, m.cfg, m.callbacksFor())
	if playlistID != "" {
		r.BindPlaylist(playlistID)
	}
	m.rooms[playlistKey] = r
	m.byID[id] = r

	managerLogger := log.WithComponent("room_manager")
	managerLogger.Info().
		Str(log.FieldRoomID, id).
		Str("playlist_key", playlistKey).
		Msg("room created")

	return r, nil
}

// Get returns an already-created Room by room id, or false if none exists.
func (m *Manager) Get(roomID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[roomID]
	return r, ok
}

// GetByPlaylistKey returns an already-created Room by playlist key,
// without creating one (used by HTTP read paths that must not have
// side effects).
func (m *Manager) GetByPlaylistKey(playlistKey string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[playlistKey]
	return r, ok
}

// All returns a snapshot slice of every live Room, for `GET
// /house/sessions` and for broadcast fan-out in Room Event Sync.
func (m *Manager) All() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

// Remove disposes and forgets a Room. Room Event Sync does not call it
// on playlist.deleted; it clears the Room's queue instead.
func (m *Manager) Remove(playlistKey string) {
	m.mu.Lock()
	r, ok := m.rooms[playlistKey]
	if ok {
		delete(m.rooms, playlistKey)
		delete(m.byID, r.ID)
	}
	m.mu.Unlock()
	if ok {
		r.Dispose()
	}
}

// Close disposes every Room the Manager owns.
func (m *Manager) Close() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.rooms = make(map[string]*Room)
	m.byID = make(map[string]*Room)
	m.mu.Unlock()

	for _, r := range rooms {
		r.Dispose()
	}
}

func (m *Manager) callbacksFor() Callbacks {
	return Callbacks{
		MarkPlayed: func(ctx context.Context, songID string) {
			if err := m.st.MarkSongPlayed(ctx, songID); err != nil {
				logger := log.WithComponent("room_manager")
				logger.Warn().
					Str(log.FieldSongID, songID).
					Err(err).
					Msg("mark song played failed")
			}
		},
		ReportPosition: func(ctx context.Context, playlistID string, orderIndex float64) {
			if err := m.st.UpdatePlaylistPosition(ctx, playlistID, orderIndex); err != nil {
				logger := log.WithComponent("room_manager")
				logger.Warn().
					Str(log.FieldPlaylistID, playlistID).
					Err(err).
					Msg("update playlist position failed")
			}
		},
	}
}
