// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID   = "correlation_id"
	FieldRequestID       = "request_id"
	FieldClientRequestID = "client_request_id"
	FieldJobID           = "job_id"

	// Jukebox domain fields
	FieldRoomID     = "room_id"
	FieldDeviceID   = "device_id"
	FieldSongID     = "song_id"
	FieldPlaylistID = "playlist_id"
	FieldEndpoint   = "endpoint_type"
	FieldPriority   = "priority"
	FieldEpoch      = "prompt_epoch"
	FieldRoutingKey = "routing_key"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath = "path"
)
