// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jukebox-room/corectl/internal/jukebox"
)

func TestHandleHouseSessions_OnlyListsCallerOwnedRooms(t *testing.T) {
	s, st, mgr := newTestServer(t)
	ctx := t.Context()

	st.SeedPlaylist(jukebox.Playlist{ID: "pl-1", Key: "key-1", OwnerUserID: "user-a"})
	st.SeedPlaylist(jukebox.Playlist{ID: "pl-2", Key: "key-2", OwnerUserID: "user-b"})
	if _, err := mgr.GetOrCreate(ctx, "key-1"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := mgr.GetOrCreate(ctx, "key-2"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/house/sessions", nil)
	req.Header.Set(callerUserIDHeader, "user-a")
	rec := httptest.NewRecorder()

	s.handleHouseSessions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sessions []sessionView
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].PlaylistID != "pl-1" {
		t.Errorf("expected only pl-1's room listed, got %+v", sessions)
	}
}

func TestHandleNowPlaying_RequiresRoomParam(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/now-playing", nil)
	rec := httptest.NewRecorder()
	s.handleNowPlaying(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing room param, got %d", rec.Code)
	}
}

func TestHandleNowPlaying_UnknownRoomReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/now-playing?room=does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.handleNowPlaying(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown room, got %d", rec.Code)
	}
}

func TestHandleNowPlaying_ResolvesCurrentSongMetadata(t *testing.T) {
	s, st, mgr := newTestServer(t)
	ctx := t.Context()

	st.SeedPlaylist(jukebox.Playlist{ID: "pl-1", Key: "key-1"})
	rm, err := mgr.GetOrCreate(ctx, "key-1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	songs := []jukebox.Song{
		{ID: "s1", PlaylistID: "pl-1", OrderIndex: 1, Status: jukebox.SongReady, AudioURL: "https://a/s1.mp3", Title: "First Song", Artist: "Artist A"},
	}
	rm.UpdateQueue(ctx, songs, 1)

	req := httptest.NewRequest(http.MethodGet, "/now-playing?room="+rm.ID, nil)
	rec := httptest.NewRecorder()
	s.handleNowPlaying(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp nowPlayingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if resp.CurrentSong == nil || resp.CurrentSong.ID != "s1" || resp.CurrentSong.Title != "First Song" {
		t.Errorf("expected resolved current song s1, got %+v", resp.CurrentSong)
	}
	if !resp.IsPlaying {
		t.Errorf("expected auto-started playback from idle queue seeding")
	}
}
