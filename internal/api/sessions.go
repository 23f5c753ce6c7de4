// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
)

type sessionView struct {
	RoomID        string `json:"roomId"`
	PlaylistID    string `json:"playlistId,omitempty"`
	PlaylistKey   string `json:"playlistKey"`
	DeviceCount   int    `json:"deviceCount"`
	CurrentSongID string `json:"currentSongId,omitempty"`
	IsPlaying     bool   `json:"isPlaying"`
}

// handleHouseSessions implements `GET /house/sessions`: list rooms
// the caller has access to. Access is the same
// ownership check as `/house/commands`: a playlist-bound room is
// listed only when its playlist's OwnerUserID matches the caller.
// Rooms not bound to a playlist (their key did not resolve) are omitted,
// since there is nothing yet to authorize access against.
func (s *Server) handleHouseSessions(w http.ResponseWriter, r *http.Request) {
	callerID := r.Header.Get(callerUserIDHeader)
	ctx := r.Context()

	sessions := []sessionView{}
	for _, rm := range s.manager.All() {
		playlistID := rm.PlaylistID()
		if playlistID == "" {
			continue
		}
		playlist, err := s.store.GetPlaylistByID(ctx, playlistID)
		if err != nil || playlist.OwnerUserID != callerID {
			continue
		}

		playback, _ := rm.Snapshot()
		sessions = append(sessions, sessionView{
			RoomID:        rm.ID,
			PlaylistID:    playlistID,
			PlaylistKey:   rm.PlaylistKey,
			DeviceCount:   rm.DeviceCount(),
			CurrentSongID: playback.CurrentSongID,
			IsPlaying:     playback.IsPlaying,
		})
	}

	writeJSON(w, http.StatusOK, sessions)
}
