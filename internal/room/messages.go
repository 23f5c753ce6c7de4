// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package room

import (
	"encoding/json"

	"github.com/jukebox-room/corectl/internal/jukebox"
)

// ClientMessage is one JSON message received over the device
// WebSocket. Kind discriminates which of the other fields are
// populated.
type ClientMessage struct {
	Kind string `json:"kind"`

	// join
	RoomID   string `json:"roomId,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`

	// command
	Action         string          `json:"action,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	TargetDeviceID string          `json:"targetDeviceId,omitempty"`

	// sync
	CurrentSongID string  `json:"currentSongId,omitempty"`
	IsPlaying     bool    `json:"isPlaying,omitempty"`
	CurrentTime   float64 `json:"currentTime,omitempty"`
	Duration      float64 `json:"duration,omitempty"`

	// ping
	ClientTime int64 `json:"clientTime,omitempty"`
}

// Client message kinds.
const (
	ClientJoin      = "join"
	ClientCommand   = "command"
	ClientSync      = "sync"
	ClientSongEnded = "songEnded"
	ClientPing      = "ping"
)

// ServerMessage is one JSON message sent over the device WebSocket.
type ServerMessage struct {
	Kind string `json:"kind"`

	// state
	Playback    *jukebox.PlaybackState `json:"playback,omitempty"`
	CurrentSong *jukebox.Song          `json:"currentSong,omitempty"`
	Devices     []DeviceView           `json:"devices,omitempty"`

	// queue
	Songs []jukebox.Song `json:"songs,omitempty"`

	// execute
	Action  string          `json:"action,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Scope   string          `json:"scope,omitempty"`

	// nextSong / preload
	SongID   string `json:"songId,omitempty"`
	AudioURL string `json:"audioUrl,omitempty"`
	StartAt  int64  `json:"startAt,omitempty"`

	// pong
	ClientTime int64 `json:"clientTime,omitempty"`
	ServerTime int64 `json:"serverTime,omitempty"`
}

// Server message kinds.
const (
	ServerState    = "state"
	ServerQueue    = "queue"
	ServerExecute  = "execute"
	ServerNextSong = "nextSong"
	ServerPreload  = "preload"
	ServerPong     = "pong"
)

// Execute broadcast scopes.
const (
	ScopeRoom   = "room"
	ScopeDevice = "device"
)

// DeviceView is the device-list projection sent in a state broadcast;
// it never includes the socket handle.
type DeviceView struct {
	ID   string            `json:"id"`
	Name string            `json:"name"`
	Role jukebox.DeviceRole `json:"role"`
	Mode jukebox.DeviceMode `json:"mode"`
}
