// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store defines the relational-store collaborator interface
// the core depends on. The core never implements persistence itself;
// production wiring points a Store at the actual database, while
// tests and cmd/server's in-process demo mode use the in-memory
// double in this package.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jukebox-room/corectl/internal/jukebox"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// WorkQueueInfo is the result of a work-queue probe used to assign new
// pending songs past the current tail of a playlist.
type WorkQueueInfo struct {
	MaxOrderIndex float64
}

// CreatePendingSongParams is the optional metadata attached to a new
// pending song.
type CreatePendingSongParams struct {
	PromptEpoch     int64
	IsInterrupt     bool
	InterruptPrompt string
}

// Store is the required set of operations the core calls on the
// relational store of playlists/songs/settings. All operations are
// assumed idempotent on retry except CreatePendingSong, which the
// Generation Pipeline guards with its in-flight set.
type Store interface {
	GetPlaylistByID(ctx context.Context, playlistID string) (jukebox.Playlist, error)
	GetPlaylistByKey(ctx context.Context, playlistKey string) (jukebox.Playlist, error)
	ListSongsByPlaylist(ctx context.Context, playlistID string) ([]jukebox.Song, error)
	// GetSongByID serves the Generation Pipeline's Resume(songID)
	// operation, which has no playlist context to scope a list lookup.
	GetSongByID(ctx context.Context, songID string) (jukebox.Song, error)
	GetWorkQueue(ctx context.Context, playlistID string) (WorkQueueInfo, error)
	CreatePendingSong(ctx context.Context, playlistID string, orderIndex float64, params CreatePendingSongParams) (jukebox.Song, error)
	UpdateSongStatus(ctx context.Context, songID string, status jukebox.SongStatus) error
	// UpdateSongMetadata persists the structured output of the metadata
	// generation step (title/artist).
	UpdateSongMetadata(ctx context.Context, songID string, title, artist string) error
	UpdateSongAceTask(ctx context.Context, songID string, aceTaskID string) error
	UpdateSongCover(ctx context.Context, songID string, coverURL string) error
	MarkSongReady(ctx context.Context, songID string, audioURL string, audioDuration float64) error
	MarkSongError(ctx context.Context, songID string, message string, erroredAtStatus jukebox.SongStatus) error
	// MarkSongCancelled records a cooperative cancellation together with
	// the step it interrupted, so a later Resume can re-enter there.
	MarkSongCancelled(ctx context.Context, songID string, cancelledAtStatus jukebox.SongStatus) error
	MarkSongPlayed(ctx context.Context, songID string) error
	UpdatePlaylistPosition(ctx context.Context, playlistID string, orderIndex float64) error
	HeartbeatPlaylist(ctx context.Context, playlistID string) error
	DeleteExpiredTemporaryPlaylists(ctx context.Context, olderThan time.Time) ([]string, error)
}
