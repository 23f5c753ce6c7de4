// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jukebox holds the data model shared by the Event Bus, the
// Endpoint Queue Scheduler, the Generation Pipeline, and the Room.
// None of these types own persistence; the store is an external
// collaborator (see internal/store).
package jukebox

import "time"

// PlaylistStatus is the lifecycle state of a playlist row.
type PlaylistStatus string

const (
	PlaylistActive  PlaylistStatus = "active"
	PlaylistClosing PlaylistStatus = "closing"
	PlaylistClosed  PlaylistStatus = "closed"
)

// Playlist is the external collaborator row the core treats as a
// source of truth for PromptEpoch; the core never writes to it except
// through Store's explicit operations.
type Playlist struct {
	ID                string
	Key               string
	PromptEpoch       int64
	CurrentOrderIndex float64
	Status            PlaylistStatus
	OwnerUserID       string
}

// SongStatus is one state in the per-song generation lifecycle.
type SongStatus string

const (
	SongPending            SongStatus = "pending"
	SongGeneratingMetadata SongStatus = "generating_metadata"
	SongMetadataReady      SongStatus = "metadata_ready"
	SongSubmittingToAce    SongStatus = "submitting_to_ace"
	SongGeneratingAudio    SongStatus = "generating_audio"
	SongSaving             SongStatus = "saving"
	SongReady              SongStatus = "ready"
	SongPlayed             SongStatus = "played"
	SongError              SongStatus = "error"
	SongCancelled          SongStatus = "cancelled"
)

// Song is the unit the Generation Pipeline advances and the Room
// schedules for playback. The core never parses audio; AudioURL is an
// opaque string.
type Song struct {
	ID                string
	PlaylistID        string
	OrderIndex        float64
	Status            SongStatus
	AudioURL          string
	AudioDuration     float64
	IsInterrupt       bool
	PromptEpoch       int64
	Title             string
	Artist            string
	CoverURL          string
	ErrorMessage      string
	ErroredAtStatus   SongStatus
	CancelledAtStatus SongStatus
}

// Playable reports whether s can become the Room's current song.
func (s Song) Playable() bool {
	return s.AudioURL != ""
}

// DeviceRole distinguishes an observing controller from an audio-output player.
type DeviceRole string

const (
	RoleController DeviceRole = "controller"
	RolePlayer     DeviceRole = "player"
)

// DeviceMode tracks whether a device follows room-wide state or has
// been split off by a targeted command.
type DeviceMode string

const (
	ModeDefault    DeviceMode = "default"
	ModeIndividual DeviceMode = "individual"
)

// Socket is the narrow capability the Room needs from a device
// connection. The source distinguishes two WebSocket libraries: the
// core treats both as this one capability and adapts at the boundary
// (see internal/roomws).
type Socket interface {
	Send(payload []byte) error
	Closed() bool
}

// Device is one connected room participant.
type Device struct {
	ID     string
	Name   string
	Role   DeviceRole
	Mode   DeviceMode
	Socket Socket
}

// PlaybackState is the Room's authoritative view of what is playing.
type PlaybackState struct {
	CurrentSongID string // empty means "none"
	IsPlaying     bool
	CurrentTime   float64
	Duration      float64
	Volume        float64
	IsMuted       bool
}

// EndpointType names one of the three external model capabilities.
type EndpointType string

const (
	EndpointLLM   EndpointType = "llm"
	EndpointImage EndpointType = "image"
	EndpointAudio EndpointType = "audio"
)

// EventKind is a member of the closed set of event kinds the Event
// Bus dispatches.
type EventKind string

const (
	EventSongCreated         EventKind = "song.created"
	EventSongStatusChanged   EventKind = "song.status_changed"
	EventSongDeleted         EventKind = "song.deleted"
	EventSongMetadataUpdated EventKind = "song.metadata_updated"
	EventSongReordered       EventKind = "song.reordered"
	EventPlaylistCreated     EventKind = "playlist.created"
	EventPlaylistSteered     EventKind = "playlist.steered"
	EventPlaylistStatus      EventKind = "playlist.status_changed"
	EventPlaylistUpdated     EventKind = "playlist.updated"
	EventPlaylistHeartbeat   EventKind = "playlist.heartbeat"
	EventPlaylistDeleted     EventKind = "playlist.deleted"
	EventSettingsChanged     EventKind = "settings.changed"
)

// Event is the envelope emitted on the bus. Handlers must not mutate Payload.
type Event struct {
	Kind     EventKind
	Sequence uint64
	At       time.Time
	Payload  map[string]any
}

// PlaylistID extracts the conventional "playlistId" field from an
// event payload, used by Room Event Sync to route refreshes.
func (e Event) PlaylistID() (string, bool) {
	v, ok := e.Payload["playlistId"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
