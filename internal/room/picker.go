// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package room

import (
	"math"

	"github.com/jukebox-room/corectl/internal/jukebox"
)

// pickNextSong is the deterministic next-song picker. It is a pure
// function of (queue, currentSongID, playlistEpoch, currentOrderIndex)
// so it can be property-tested in isolation from the Room's
// socket/timer plumbing.
//
//  1. An interrupt with a non-empty AudioURL and the smallest OrderIndex
//     greater than currentOrderIndex wins outright, regardless of epoch.
//  2. Otherwise the next playable song at the current epoch wins.
//  3. Otherwise the next playable song at any epoch ("filler") wins.
//  4. Otherwise there is no next song.
func pickNextSong(queue []jukebox.Song, currentSongID string, playlistEpoch int64, currentOrderIndex float64) (jukebox.Song, bool) {
	var bestInterrupt jukebox.Song
	haveInterrupt := false

	var bestCurrentEpoch jukebox.Song
	haveCurrentEpoch := false

	var bestFiller jukebox.Song
	haveFiller := false

	for _, s := range queue {
		if s.OrderIndex <= currentOrderIndex || !s.Playable() {
			continue
		}

		if s.IsInterrupt {
			if !haveInterrupt || s.OrderIndex < bestInterrupt.OrderIndex {
				bestInterrupt, haveInterrupt = s, true
			}
		}

		if s.PromptEpoch == playlistEpoch {
			if !haveCurrentEpoch || s.OrderIndex < bestCurrentEpoch.OrderIndex {
				bestCurrentEpoch, haveCurrentEpoch = s, true
			}
		}

		if !haveFiller || s.OrderIndex < bestFiller.OrderIndex {
			bestFiller, haveFiller = s, true
		}
	}

	switch {
	case haveInterrupt:
		return bestInterrupt, true
	case haveCurrentEpoch:
		return bestCurrentEpoch, true
	case haveFiller:
		return bestFiller, true
	default:
		return jukebox.Song{}, false
	}
}

// idleStartLongQueueThreshold and idleStartTailOffset implement the
// idle-start policy: a long existing queue resumes near its tail
// rather than replaying history from the top.
const (
	idleStartLongQueueThreshold = 100
	idleStartTailOffset         = 10
)

// pickIdleStart chooses the song a newly-active Room should begin
// playing when its queue goes from empty to populated. It returns the
// picked song (if any) and whether the idle-start tail rule applied.
func pickIdleStart(queue []jukebox.Song, playlistEpoch int64) (jukebox.Song, bool) {
	if len(queue) > idleStartLongQueueThreshold {
		idx := len(queue) - idleStartTailOffset
		if idx < 0 {
			idx = 0
		}
		tailOrderIndex := queue[idx].OrderIndex
		// Start at the first playable song at or after the tail offset.
		if s, ok := pickNextSong(queue, "", playlistEpoch, tailOrderIndex-1); ok {
			return s, true
		}
	}
	s, ok := pickNextSong(queue, "", playlistEpoch, -math.MaxFloat64)
	return s, ok
}
