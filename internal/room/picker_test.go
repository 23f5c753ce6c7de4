// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package room

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/stretchr/testify/require"
)

func song(id string, orderIndex float64, epoch int64, audioURL string) jukebox.Song {
	return jukebox.Song{ID: id, OrderIndex: orderIndex, PromptEpoch: epoch, AudioURL: audioURL}
}

func TestPickNextSongPrefersInterrupt(t *testing.T) {
	queue := []jukebox.Song{
		song("a", 1, 1, "a.mp3"),
		{ID: "interrupt", OrderIndex: 1.5, PromptEpoch: 1, AudioURL: "i.mp3", IsInterrupt: true},
		song("b", 2, 1, "b.mp3"),
	}
	got, ok := pickNextSong(queue, "a", 1, 1)
	require.True(t, ok)
	require.Equal(t, "interrupt", got.ID)
}

func TestPickNextSongSkipsUnplayableInterrupt(t *testing.T) {
	queue := []jukebox.Song{
		{ID: "interrupt", OrderIndex: 1.5, PromptEpoch: 1, IsInterrupt: true}, // no AudioURL
		song("b", 2, 1, "b.mp3"),
	}
	got, ok := pickNextSong(queue, "a", 1, 1)
	require.True(t, ok)
	require.Equal(t, "b", got.ID)
}

func TestPickNextSongPrefersCurrentEpochOverFiller(t *testing.T) {
	queue := []jukebox.Song{
		song("filler", 2, 0, "f.mp3"),
		song("current-epoch", 3, 2, "c.mp3"),
	}
	got, ok := pickNextSong(queue, "", 2, 1)
	require.True(t, ok)
	require.Equal(t, "current-epoch", got.ID)
}

func TestPickNextSongFallsBackToFiller(t *testing.T) {
	queue := []jukebox.Song{
		song("filler-1", 2, 0, "f1.mp3"),
		song("filler-2", 3, 0, "f2.mp3"),
	}
	got, ok := pickNextSong(queue, "", 5, 1)
	require.True(t, ok)
	require.Equal(t, "filler-1", got.ID)
}

func TestPickNextSongNoneWhenQueueExhausted(t *testing.T) {
	queue := []jukebox.Song{song("a", 1, 1, "a.mp3")}
	_, ok := pickNextSong(queue, "a", 1, 1)
	require.False(t, ok)
}

func TestPickNextSongIgnoresUnplayableFiller(t *testing.T) {
	queue := []jukebox.Song{
		{ID: "pending", OrderIndex: 2, PromptEpoch: 1}, // no AudioURL yet
		song("ready", 3, 1, "r.mp3"),
	}
	got, ok := pickNextSong(queue, "", 1, 1)
	require.True(t, ok)
	require.Equal(t, "ready", got.ID)
}

func TestPickIdleStartShortQueueStartsAtTop(t *testing.T) {
	queue := []jukebox.Song{
		song("first", 1, 1, "1.mp3"),
		song("second", 2, 1, "2.mp3"),
	}
	got, ok := pickIdleStart(queue, 1)
	require.True(t, ok)
	require.Equal(t, "first", got.ID)
}

func TestPickIdleStartLongQueueStartsNearTail(t *testing.T) {
	queue := make([]jukebox.Song, 120)
	for i := range queue {
		queue[i] = song(string(rune('a'+i%26))+"-song", float64(i), 1, "x.mp3")
	}
	got, ok := pickIdleStart(queue, 1)
	require.True(t, ok)
	require.GreaterOrEqual(t, got.OrderIndex, float64(len(queue)-idleStartTailOffset-1))
}

func TestPickIdleStartEmptyQueue(t *testing.T) {
	_, ok := pickIdleStart(nil, 1)
	require.False(t, ok)
}

// TestPickNextSongReturnsWholeSongUnmodified guards against a picker
// that rebuilds a trimmed copy of the winning entry instead of
// returning the queue's own record verbatim; a field-by-field diff
// catches a dropped AudioDuration/Title/etc that require.Equal(t,
// got.ID, ...) above would miss.
func TestPickNextSongReturnsWholeSongUnmodified(t *testing.T) {
	want := jukebox.Song{
		ID:            "b",
		OrderIndex:    2,
		PromptEpoch:   1,
		AudioURL:      "b.mp3",
		AudioDuration: 181.5,
		Title:         "Song B",
		Artist:        "Artist B",
	}
	queue := []jukebox.Song{song("a", 1, 1, "a.mp3"), want}

	got, ok := pickNextSong(queue, "a", 1, 1)
	require.True(t, ok)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("pickNextSong returned a modified song (-want +got):\n%s", diff)
	}
}
