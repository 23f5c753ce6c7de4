// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"

	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/pipeline/fsm"
)

// event names the edges of the per-song state machine.
type event string

const (
	evBegin         event = "begin"
	evMetadataReady event = "metadata_ready"
	evSubmit        event = "submit"
	evAudioStarted  event = "audio_started"
	evSave          event = "save"
	evReady         event = "ready"
	evError         event = "error"
	evCancel        event = "cancel"
)

// forwardStates is the non-terminal happy path in order.
var forwardStates = []jukebox.SongStatus{
	jukebox.SongPending,
	jukebox.SongGeneratingMetadata,
	jukebox.SongMetadataReady,
	jukebox.SongSubmittingToAce,
	jukebox.SongGeneratingAudio,
	jukebox.SongSaving,
	jukebox.SongReady,
}

// run holds the per-execution mutable bookkeeping that transition
// actions close over: the step a failure or cancellation occurred at.
type run struct {
	erroredAtStatus   jukebox.SongStatus
	cancelledAtStatus jukebox.SongStatus
}

// buildMachine constructs the FSM instance for one pipeline run.
// Forward edges walk "pending -> ... -> ready"; the catch-all
// error/cancel edges record the step they fired from via the Action
// closure so callers can report erroredAtStatus/cancelledAtStatus.
func buildMachine(r *run) (*fsm.Machine[jukebox.SongStatus, event], error) {
	var transitions []fsm.Transition[jukebox.SongStatus, event]

	add := func(from jukebox.SongStatus, ev event, to jukebox.SongStatus) {
		transitions = append(transitions, fsm.Transition[jukebox.SongStatus, event]{
			From:  from,
			Event: ev,
			To:    to,
		})
	}

	add(jukebox.SongPending, evBegin, jukebox.SongGeneratingMetadata)
	add(jukebox.SongGeneratingMetadata, evMetadataReady, jukebox.SongMetadataReady)
	add(jukebox.SongMetadataReady, evSubmit, jukebox.SongSubmittingToAce)
	add(jukebox.SongSubmittingToAce, evAudioStarted, jukebox.SongGeneratingAudio)
	add(jukebox.SongGeneratingAudio, evSave, jukebox.SongSaving)
	add(jukebox.SongSaving, evReady, jukebox.SongReady)

	// Any non-terminal state may fail or be cancelled; the Action
	// closure records which step it happened at.
	for _, s := range forwardStates {
		if s == jukebox.SongReady {
			continue
		}
		from := s
		transitions = append(transitions, fsm.Transition[jukebox.SongStatus, event]{
			From:  from,
			Event: evError,
			To:    jukebox.SongError,
			Action: func(ctx context.Context, from, to jukebox.SongStatus, ev event) error {
				r.erroredAtStatus = from
				return nil
			},
		})
		transitions = append(transitions, fsm.Transition[jukebox.SongStatus, event]{
			From:  from,
			Event: evCancel,
			To:    jukebox.SongCancelled,
			Action: func(ctx context.Context, from, to jukebox.SongStatus, ev event) error {
				r.cancelledAtStatus = from
				return nil
			},
		})
	}

	return fsm.New(jukebox.SongPending, transitions)
}
