// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/jukebox-room/corectl/internal/log"
)

// callerUserIDHeader names the header the external authentication
// adapter is expected to populate before a request reaches this
// router; the core only consumes its result.
const callerUserIDHeader = "X-User-Id"

type houseCommandsRequest struct {
	PlaylistIDs    []string        `json:"playlistIds"`
	Action         string          `json:"action"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	TargetDeviceID string          `json:"targetDeviceId,omitempty"`
}

type houseCommandsResponse struct {
	AffectedPlaylistIDs []string `json:"affectedPlaylistIds"`
	AffectedRoomIDs     []string `json:"affectedRoomIds"`
	SkippedPlaylistIDs  []string `json:"skippedPlaylistIds"`
}

// handleHouseCommands implements `POST /house/commands`: fan a single
// command out to every room owned by the caller, skipping playlists
// the caller does not own or that cannot be found. A playlist the
// caller owns but that has no live Room is still reported affected;
// only its room is absent from affectedRoomIds.
func (s *Server) handleHouseCommands(w http.ResponseWriter, r *http.Request) {
	var req houseCommandsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Action == "" || len(req.PlaylistIDs) == 0 {
		http.Error(w, "action and playlistIds are required", http.StatusBadRequest)
		return
	}

	callerID := r.Header.Get(callerUserIDHeader)
	ctx := r.Context()

	resp := houseCommandsResponse{
		AffectedPlaylistIDs: []string{},
		AffectedRoomIDs:     []string{},
		SkippedPlaylistIDs:  []string{},
	}

	logger := log.WithComponent("api")
	for _, playlistID := range req.PlaylistIDs {
		playlist, err := s.store.GetPlaylistByID(ctx, playlistID)
		if err != nil || playlist.OwnerUserID != callerID {
			resp.SkippedPlaylistIDs = append(resp.SkippedPlaylistIDs, playlistID)
			continue
		}
		resp.AffectedPlaylistIDs = append(resp.AffectedPlaylistIDs, playlistID)

		rm, ok := s.manager.GetByPlaylistKey(playlist.Key)
		if !ok {
			continue
		}
		if err := rm.HandleCommand(ctx, "house", req.Action, req.Payload, req.TargetDeviceID); err != nil {
			logger.Warn().Str(log.FieldPlaylistID, playlistID).Str(log.FieldRoomID, rm.ID).Err(err).Msg("house command failed")
			continue
		}
		resp.AffectedRoomIDs = append(resp.AffectedRoomIDs, rm.ID)
	}

	writeJSON(w, http.StatusOK, resp)
}
