// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jukebox-room/corectl/internal/jukebox"
)

// Memory is an in-process Store double. It is used by tests and by
// cmd/server's standalone demo mode; it is not a production store.
type Memory struct {
	mu sync.RWMutex

	playlists map[string]jukebox.Playlist
	byKey     map[string]string // playlistKey -> playlistID
	songs     map[string]jukebox.Song
	createdAt map[string]time.Time // playlistID -> creation or last heartbeat time, for cleanup
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		playlists: make(map[string]jukebox.Playlist),
		byKey:     make(map[string]string),
		songs:     make(map[string]jukebox.Song),
		createdAt: make(map[string]time.Time),
	}
}

// SeedPlaylist inserts a playlist row directly, for test setup.
func (m *Memory) SeedPlaylist(p jukebox.Playlist) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playlists[p.ID] = p
	m.byKey[p.Key] = p.ID
	if _, ok := m.createdAt[p.ID]; !ok {
		m.createdAt[p.ID] = time.Now()
	}
}

// SeedSong inserts a song row directly, for test setup.
func (m *Memory) SeedSong(s jukebox.Song) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.songs[s.ID] = s
}

func (m *Memory) GetPlaylistByID(_ context.Context, playlistID string) (jukebox.Playlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.playlists[playlistID]
	if !ok {
		return jukebox.Playlist{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) GetPlaylistByKey(_ context.Context, playlistKey string) (jukebox.Playlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[playlistKey]
	if !ok {
		return jukebox.Playlist{}, ErrNotFound
	}
	return m.playlists[id], nil
}

func (m *Memory) ListSongsByPlaylist(_ context.Context, playlistID string) ([]jukebox.Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []jukebox.Song
	for _, s := range m.songs {
		if s.PlaylistID == playlistID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (m *Memory) GetSongByID(_ context.Context, songID string) (jukebox.Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.songs[songID]
	if !ok {
		return jukebox.Song{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetWorkQueue(_ context.Context, playlistID string) (WorkQueueInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var maxIdx float64
	for _, s := range m.songs {
		if s.PlaylistID == playlistID && s.OrderIndex > maxIdx {
			maxIdx = s.OrderIndex
		}
	}
	return WorkQueueInfo{MaxOrderIndex: maxIdx}, nil
}

func (m *Memory) CreatePendingSong(_ context.Context, playlistID string, orderIndex float64, params CreatePendingSongParams) (jukebox.Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := jukebox.Song{
		ID:          uuid.New().String(),
		PlaylistID:  playlistID,
		OrderIndex:  orderIndex,
		Status:      jukebox.SongPending,
		IsInterrupt: params.IsInterrupt,
		PromptEpoch: params.PromptEpoch,
	}
	m.songs[s.ID] = s
	return s, nil
}

func (m *Memory) UpdateSongStatus(_ context.Context, songID string, status jukebox.SongStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[songID]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	m.songs[songID] = s
	return nil
}

func (m *Memory) UpdateSongMetadata(_ context.Context, songID string, title, artist string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[songID]
	if !ok {
		return ErrNotFound
	}
	s.Title = title
	s.Artist = artist
	m.songs[songID] = s
	return nil
}

func (m *Memory) UpdateSongAceTask(_ context.Context, songID string, aceTaskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[songID]
	if !ok {
		return ErrNotFound
	}
	_ = aceTaskID // opaque upstream task id; not modeled as a Song field
	m.songs[songID] = s
	return nil
}

func (m *Memory) UpdateSongCover(_ context.Context, songID string, coverURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[songID]
	if !ok {
		return ErrNotFound
	}
	s.CoverURL = coverURL
	m.songs[songID] = s
	return nil
}

func (m *Memory) MarkSongReady(_ context.Context, songID string, audioURL string, audioDuration float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[songID]
	if !ok {
		return ErrNotFound
	}
	s.Status = jukebox.SongReady
	s.AudioURL = audioURL
	s.AudioDuration = audioDuration
	m.songs[songID] = s
	return nil
}

func (m *Memory) MarkSongError(_ context.Context, songID string, message string, erroredAtStatus jukebox.SongStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[songID]
	if !ok {
		return ErrNotFound
	}
	s.Status = jukebox.SongError
	s.ErrorMessage = message
	s.ErroredAtStatus = erroredAtStatus
	m.songs[songID] = s
	return nil
}

func (m *Memory) MarkSongCancelled(_ context.Context, songID string, cancelledAtStatus jukebox.SongStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[songID]
	if !ok {
		return ErrNotFound
	}
	s.Status = jukebox.SongCancelled
	s.CancelledAtStatus = cancelledAtStatus
	m.songs[songID] = s
	return nil
}

func (m *Memory) MarkSongPlayed(_ context.Context, songID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[songID]
	if !ok {
		return ErrNotFound
	}
	s.Status = jukebox.SongPlayed
	m.songs[songID] = s
	return nil
}

func (m *Memory) UpdatePlaylistPosition(_ context.Context, playlistID string, orderIndex float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.playlists[playlistID]
	if !ok {
		return ErrNotFound
	}
	p.CurrentOrderIndex = orderIndex
	m.playlists[playlistID] = p
	return nil
}

func (m *Memory) HeartbeatPlaylist(_ context.Context, playlistID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.playlists[playlistID]; !ok {
		return ErrNotFound
	}
	m.createdAt[playlistID] = time.Now()
	return nil
}

func (m *Memory) DeleteExpiredTemporaryPlaylists(_ context.Context, olderThan time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted []string
	for id, created := range m.createdAt {
		if created.Before(olderThan) {
			deleted = append(deleted, id)
			delete(m.playlists, id)
			delete(m.createdAt, id)
			for key, pid := range m.byKey {
				if pid == id {
					delete(m.byKey, key)
				}
			}
		}
	}
	return deleted, nil
}

var _ Store = (*Memory)(nil)
