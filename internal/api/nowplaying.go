// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/jukebox-room/corectl/internal/jukebox"
)

type nowPlayingSongView struct {
	ID       string  `json:"id"`
	Title    string  `json:"title,omitempty"`
	Artist   string  `json:"artist,omitempty"`
	CoverURL string  `json:"coverUrl,omitempty"`
	Duration float64 `json:"duration"`
}

type nowPlayingResponse struct {
	RoomID      string              `json:"roomId"`
	IsPlaying   bool                `json:"isPlaying"`
	CurrentTime float64             `json:"currentTime"`
	Volume      float64             `json:"volume"`
	IsMuted     bool                `json:"isMuted"`
	CurrentSong *nowPlayingSongView `json:"currentSong,omitempty"`
}

// handleNowPlaying implements `GET /now-playing?room=<id>`: a
// polling-friendly status view suitable for a status-bar widget.
// Unlike the device WebSocket's `state` message, this includes
// resolved song metadata so a caller needs no second lookup.
func (s *Server) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "room query parameter is required", http.StatusBadRequest)
		return
	}

	rm, ok := s.manager.Get(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	playback, queue := rm.Snapshot()
	resp := nowPlayingResponse{
		RoomID:      roomID,
		IsPlaying:   playback.IsPlaying,
		CurrentTime: playback.CurrentTime,
		Volume:      playback.Volume,
		IsMuted:     playback.IsMuted,
	}
	if playback.CurrentSongID != "" {
		for _, song := range queue {
			if song.ID == playback.CurrentSongID {
				resp.CurrentSong = songView(song, playback.Duration)
				break
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func songView(s jukebox.Song, duration float64) *nowPlayingSongView {
	return &nowPlayingSongView{
		ID:       s.ID,
		Title:    s.Title,
		Artist:   s.Artist,
		CoverURL: s.CoverURL,
		Duration: duration,
	}
}
