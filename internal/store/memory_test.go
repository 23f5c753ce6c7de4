// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/jukebox-room/corectl/internal/jukebox"
)

func TestMemory_PlaylistLookupByKeyAndID(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.SeedPlaylist(jukebox.Playlist{ID: "pl-1", Key: "shareable-key", Status: jukebox.PlaylistActive})

	byKey, err := m.GetPlaylistByKey(ctx, "shareable-key")
	if err != nil {
		t.Fatalf("GetPlaylistByKey failed: %v", err)
	}
	if byKey.ID != "pl-1" {
		t.Errorf("expected pl-1, got %s", byKey.ID)
	}

	byID, err := m.GetPlaylistByID(ctx, "pl-1")
	if err != nil {
		t.Fatalf("GetPlaylistByID failed: %v", err)
	}
	if byID.Key != "shareable-key" {
		t.Errorf("expected shareable-key, got %s", byID.Key)
	}

	if _, err := m.GetPlaylistByKey(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_CreatePendingSongDefaultsToPendingStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SeedPlaylist(jukebox.Playlist{ID: "pl-1", Key: "k"})

	s, err := m.CreatePendingSong(ctx, "pl-1", 5.0, CreatePendingSongParams{PromptEpoch: 2, IsInterrupt: true})
	if err != nil {
		t.Fatalf("CreatePendingSong failed: %v", err)
	}
	if s.Status != jukebox.SongPending {
		t.Errorf("expected pending status, got %s", s.Status)
	}
	if !s.IsInterrupt || s.PromptEpoch != 2 {
		t.Errorf("params not applied: %+v", s)
	}

	got, err := m.GetSongByID(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSongByID failed: %v", err)
	}
	if got.OrderIndex != 5.0 {
		t.Errorf("expected order index 5.0, got %v", got.OrderIndex)
	}
}

func TestMemory_ListSongsByPlaylistSortedByOrderIndex(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SeedPlaylist(jukebox.Playlist{ID: "pl-1", Key: "k"})
	m.SeedSong(jukebox.Song{ID: "c", PlaylistID: "pl-1", OrderIndex: 3})
	m.SeedSong(jukebox.Song{ID: "a", PlaylistID: "pl-1", OrderIndex: 1})
	m.SeedSong(jukebox.Song{ID: "b", PlaylistID: "pl-1", OrderIndex: 2})
	m.SeedSong(jukebox.Song{ID: "other", PlaylistID: "pl-2", OrderIndex: 0})

	songs, err := m.ListSongsByPlaylist(ctx, "pl-1")
	if err != nil {
		t.Fatalf("ListSongsByPlaylist failed: %v", err)
	}
	if len(songs) != 3 {
		t.Fatalf("expected 3 songs, got %d", len(songs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if songs[i].ID != want {
			t.Errorf("index %d: expected %s, got %s", i, want, songs[i].ID)
		}
	}
}

func TestMemory_MarkSongReadyAndError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SeedSong(jukebox.Song{ID: "s1", Status: jukebox.SongGeneratingAudio})

	if err := m.MarkSongReady(ctx, "s1", "https://audio/s1.mp3", 123.4); err != nil {
		t.Fatalf("MarkSongReady failed: %v", err)
	}
	got, _ := m.GetSongByID(ctx, "s1")
	if got.Status != jukebox.SongReady || got.AudioURL == "" || got.AudioDuration != 123.4 {
		t.Errorf("unexpected song state after MarkSongReady: %+v", got)
	}

	m.SeedSong(jukebox.Song{ID: "s2", Status: jukebox.SongGeneratingAudio})
	if err := m.MarkSongError(ctx, "s2", "boom", jukebox.SongGeneratingAudio); err != nil {
		t.Fatalf("MarkSongError failed: %v", err)
	}
	got2, _ := m.GetSongByID(ctx, "s2")
	if got2.Status != jukebox.SongError || got2.ErrorMessage != "boom" || got2.ErroredAtStatus != jukebox.SongGeneratingAudio {
		t.Errorf("unexpected song state after MarkSongError: %+v", got2)
	}

	if err := m.MarkSongReady(ctx, "missing", "u", 1); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for missing song, got %v", err)
	}
}

func TestMemory_GetWorkQueueReturnsMaxOrderIndex(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SeedSong(jukebox.Song{ID: "a", PlaylistID: "pl-1", OrderIndex: 1})
	m.SeedSong(jukebox.Song{ID: "b", PlaylistID: "pl-1", OrderIndex: 7.5})
	m.SeedSong(jukebox.Song{ID: "c", PlaylistID: "pl-2", OrderIndex: 99})

	info, err := m.GetWorkQueue(ctx, "pl-1")
	if err != nil {
		t.Fatalf("GetWorkQueue failed: %v", err)
	}
	if info.MaxOrderIndex != 7.5 {
		t.Errorf("expected max order index 7.5, got %v", info.MaxOrderIndex)
	}
}

func TestMemory_DeleteExpiredTemporaryPlaylistsRemovesKeyIndex(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	old := jukebox.Playlist{ID: "pl-old", Key: "k-old"}
	m.SeedPlaylist(old)
	m.createdAt["pl-old"] = time.Now().Add(-2 * time.Hour)

	fresh := jukebox.Playlist{ID: "pl-fresh", Key: "k-fresh"}
	m.SeedPlaylist(fresh)

	deleted, err := m.DeleteExpiredTemporaryPlaylists(ctx, time.Now().Add(-1*time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpiredTemporaryPlaylists failed: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "pl-old" {
		t.Errorf("expected only pl-old deleted, got %v", deleted)
	}

	if _, err := m.GetPlaylistByID(ctx, "pl-old"); err != ErrNotFound {
		t.Errorf("expected pl-old removed, got %v", err)
	}
	if _, err := m.GetPlaylistByKey(ctx, "k-old"); err != ErrNotFound {
		t.Errorf("expected key index for pl-old removed, got %v", err)
	}
	if _, err := m.GetPlaylistByID(ctx, "pl-fresh"); err != nil {
		t.Errorf("expected pl-fresh to survive, got %v", err)
	}
}

func TestMemory_HeartbeatPlaylistRequiresExistingRow(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.HeartbeatPlaylist(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	m.SeedPlaylist(jukebox.Playlist{ID: "pl-1", Key: "k"})
	if err := m.HeartbeatPlaylist(ctx, "pl-1"); err != nil {
		t.Errorf("expected heartbeat to succeed, got %v", err)
	}
}
