// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pipeline implements the Generation Pipeline: a per-song
// state machine driven by song.created or an explicit Resume call,
// sequencing text -> (image || audio-submit) -> audio-poll -> finalize
// across the Endpoint Queue Scheduler. Each run re-reads the song row
// and enters at the step implied by its persisted status, so a failed
// or interrupted song can be resumed without repeating finished work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jukebox-room/corectl/internal/bus"
	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/log"
	"github.com/jukebox-room/corectl/internal/modelclient"
	"github.com/jukebox-room/corectl/internal/pipeline/fsm"
	"github.com/jukebox-room/corectl/internal/scheduler"
	"github.com/jukebox-room/corectl/internal/store"
	"golang.org/x/sync/singleflight"
)

// ErrAlreadyInFlight is returned by Resume when the song already has a
// pipeline run in progress; the caller's duplicate call is a no-op.
var ErrAlreadyInFlight = errors.New("pipeline: song already in flight")

// Bus is the narrow subset of the Event Bus the pipeline depends on,
// kept as an interface so tests can substitute a recording stub
// without constructing a full bus.Bus.
type Bus interface {
	Subscribe(kind jukebox.EventKind, name string, handler bus.Handler) bus.UnsubscribeFunc
	Emit(kind jukebox.EventKind, payload map[string]any)
}

// Config tunes the audio-poll loop and interrupt prioritization.
type Config struct {
	// PollInterval is the delay between audio-status poll attempts.
	PollInterval time.Duration
	// MaxPollAttempts bounds the poll loop; exhausting it converts to a
	// generating_audio timeout error. Default ~120 attempts at 5s ≈ 10m.
	MaxPollAttempts int
	// InterruptPriorityBias is subtracted from an interrupt song's
	// priority so it always sorts before any non-interrupt job at the
	// same endpoint (lower priority number runs sooner).
	InterruptPriorityBias int
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = 120
	}
	if c.InterruptPriorityBias == 0 {
		c.InterruptPriorityBias = 1_000_000
	}
}

type inflightEntry struct {
	cancel context.CancelFunc
	epoch  int64
}

// Pipeline is the process-local Generation Pipeline driver. One
// Pipeline instance serves every playlist; there is no per-playlist
// state beyond what is threaded through each run via Song/Playlist
// rows read from Store.
type Pipeline struct {
	store       store.Store
	bus         Bus
	schedulers  map[jukebox.EndpointType]*scheduler.Scheduler
	models      map[jukebox.EndpointType]*modelclient.Client
	cfg         Config
	sf          singleflight.Group
	unsubscribe func()

	mu       sync.Mutex
	inFlight map[string]*inflightEntry
}

// New constructs a Pipeline. schedulers and models must both be keyed
// by jukebox.EndpointLLM/EndpointImage/EndpointAudio.
func New(st store.Store, bus Bus, schedulers map[jukebox.EndpointType]*scheduler.Scheduler, models map[jukebox.EndpointType]*modelclient.Client, cfg Config) *Pipeline {
	cfg.setDefaults()
	return &Pipeline{
		store:      st,
		bus:        bus,
		schedulers: schedulers,
		models:     models,
		cfg:        cfg,
		inFlight:   make(map[string]*inflightEntry),
	}
}

// Start subscribes the pipeline to song.created and playlist.steered.
// Call once during process wiring.
func (p *Pipeline) Start(ctx context.Context) {
	unsubCreated := p.bus.Subscribe(jukebox.EventSongCreated, "pipeline.song_created", func(ctx context.Context, ev jukebox.Event) error {
		songID, _ := ev.Payload["songId"].(string)
		if songID == "" {
			return nil
		}
		go func() {
			if err := p.Resume(context.Background(), songID); err != nil && !errors.Is(err, ErrAlreadyInFlight) {
				logger := log.WithComponent("pipeline")
				logger.Error().Str("song_id", songID).Err(err).Msg("pipeline run failed")
			}
		}()
		return nil
	})
	unsubSteered := p.bus.Subscribe(jukebox.EventPlaylistSteered, "pipeline.playlist_steered", func(ctx context.Context, ev jukebox.Event) error {
		playlistID, _ := ev.Payload["playlistId"].(string)
		if playlistID == "" {
			return nil
		}
		p.cancelStale(playlistID, epochFromPayload(ev.Payload))
		return nil
	})
	p.unsubscribe = func() {
		unsubCreated()
		unsubSteered()
	}
}

// Close unsubscribes from the bus. In-flight runs are left to finish
// or be cancelled individually.
func (p *Pipeline) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

// Resume drives songID through the pipeline, entering at the step
// implied by its current Status. A duplicate call while the song is
// already in flight is a no-op, enforced both by an explicit in-flight
// set and by a singleflight.Group keyed by songID.
func (p *Pipeline) Resume(ctx context.Context, songID string) error {
	p.mu.Lock()
	_, inFlight := p.inFlight[songID]
	p.mu.Unlock()
	if inFlight {
		return ErrAlreadyInFlight
	}

	// Two Resume calls racing past the check above collapse into one
	// execution here; the loser shares the winner's result.
	_, err, _ := p.sf.Do(songID, func() (any, error) {
		runCtx, ok := p.tryMarkInFlight(ctx, songID)
		if !ok {
			return nil, ErrAlreadyInFlight
		}
		defer p.clearInFlight(songID)
		return nil, p.runSong(runCtx, songID)
	})
	return err
}

func (p *Pipeline) tryMarkInFlight(ctx context.Context, songID string) (context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlight[songID]; ok {
		return nil, false
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.inFlight[songID] = &inflightEntry{cancel: cancel}
	return runCtx, true
}

func (p *Pipeline) clearInFlight(songID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, songID)
}

// cancelStale cancels in-flight runs for playlistID whose tracked
// epoch is older than newEpoch. Future jobs for that song (a fresh
// Resume after cancellation) use the new epoch because they re-read
// the Song row from Store.
func (p *Pipeline) cancelStale(playlistID string, newEpoch int64) {
	songs, err := p.store.ListSongsByPlaylist(context.Background(), playlistID)
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range songs {
		entry, ok := p.inFlight[s.ID]
		if !ok {
			continue
		}
		if entry.epoch < newEpoch {
			entry.cancel()
			for _, sch := range p.schedulers {
				sch.Cancel(s.ID)
			}
		}
	}
}

func (p *Pipeline) priorityFor(s jukebox.Song) int {
	priority := int(s.OrderIndex * 1000)
	if s.IsInterrupt {
		priority -= p.cfg.InterruptPriorityBias
	}
	return priority
}

// runSong executes the state machine for one song, entering at the
// step implied by its current persisted status.
func (p *Pipeline) runSong(ctx context.Context, songID string) error {
	logger := log.WithComponent("pipeline").With().Str("song_id", songID).Logger()

	song, err := p.store.GetSongByID(ctx, songID)
	if err != nil {
		return fmt.Errorf("pipeline: load song %s: %w", songID, err)
	}

	p.mu.Lock()
	if entry, ok := p.inFlight[songID]; ok {
		entry.epoch = song.PromptEpoch
	}
	p.mu.Unlock()

	r := &run{}
	machine, err := buildMachine(r)
	if err != nil {
		return fmt.Errorf("pipeline: build machine: %w", err)
	}
	// Fast-forward the machine to the song's current persisted state so
	// Resume re-enters at or before the step a prior failure or
	// cancellation interrupted.
	entryStatus := song.Status
	switch song.Status {
	case jukebox.SongError:
		entryStatus = song.ErroredAtStatus
	case jukebox.SongCancelled:
		entryStatus = song.CancelledAtStatus
	case jukebox.SongPlayed:
		// Terminal; nothing to resume.
		return nil
	}
	if err := fastForwardToStatus(machine, entryStatus); err != nil {
		return fmt.Errorf("pipeline: cannot resume song %s from status %q: %w", songID, song.Status, err)
	}

	if machine.State() == jukebox.SongPending {
		if _, err := machine.Fire(ctx, evBegin); err != nil {
			return fmt.Errorf("pipeline: begin song %s: %w", songID, err)
		}
	}

	priority := p.priorityFor(song)

	fail := func(atStep jukebox.SongStatus, cause error) error {
		_, _ = machine.Fire(ctx, evError)
		msg := cause.Error()
		if len(msg) > 500 {
			msg = msg[:500]
		}
		if err := p.store.MarkSongError(ctx, songID, msg, atStep); err != nil {
			logger.Warn().Err(err).Msg("failed to persist song error state")
		}
		logger.Warn().Str("step", string(atStep)).Err(cause).Msg("pipeline step failed")
		return cause
	}

	cancelled := func(atStep jukebox.SongStatus) error {
		// The run's ctx is already cancelled here; the store write must
		// still go through.
		writeCtx := context.WithoutCancel(ctx)
		_, _ = machine.Fire(writeCtx, evCancel)
		if err := p.store.MarkSongCancelled(writeCtx, songID, atStep); err != nil {
			logger.Warn().Err(err).Msg("failed to persist cancellation")
		}
		logger.Info().Str("step", string(atStep)).Msg("pipeline run cancelled")
		return nil
	}

	// Step 1: metadata generation (LLM endpoint).
	if machine.State() == jukebox.SongGeneratingMetadata {
		if err := p.store.UpdateSongStatus(ctx, songID, jukebox.SongGeneratingMetadata); err != nil {
			return fail(jukebox.SongGeneratingMetadata, err)
		}
		resp, err := p.runStep(ctx, jukebox.EndpointLLM, song.ID, priority, modelclient.Request{
			SongID:  song.ID,
			Payload: map[string]any{"kind": "metadata", "promptEpoch": song.PromptEpoch},
		})
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(jukebox.SongGeneratingMetadata)
			}
			return fail(jukebox.SongGeneratingMetadata, err)
		}
		if err := p.store.UpdateSongMetadata(ctx, songID, resp.Title, resp.Artist); err != nil {
			logger.Warn().Err(err).Msg("failed to persist metadata")
		}
		p.bus.Emit(jukebox.EventSongMetadataUpdated, map[string]any{"songId": songID, "playlistId": song.PlaylistID})
		if err := p.store.UpdateSongStatus(ctx, songID, jukebox.SongMetadataReady); err != nil {
			return fail(jukebox.SongMetadataReady, err)
		}
		if _, err := machine.Fire(ctx, evMetadataReady); err != nil {
			return fail(jukebox.SongMetadataReady, err)
		}
	}

	// Step 2: audio submit (fan-out A) and cover image (fan-out B, best-effort).
	if machine.State() == jukebox.SongMetadataReady {
		if err := p.store.UpdateSongStatus(ctx, songID, jukebox.SongSubmittingToAce); err != nil {
			return fail(jukebox.SongSubmittingToAce, err)
		}
		if _, err := machine.Fire(ctx, evSubmit); err != nil {
			return fail(jukebox.SongSubmittingToAce, err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		var submitResp modelclient.Response
		var submitErr error

		go func() {
			defer wg.Done()
			submitResp, submitErr = p.runStep(ctx, jukebox.EndpointAudio, song.ID, priority, modelclient.Request{
				SongID:  song.ID,
				Payload: map[string]any{"kind": "audio_submit"},
			})
		}()
		go func() {
			defer wg.Done()
			resp, err := p.runStep(ctx, jukebox.EndpointImage, song.ID, priority, modelclient.Request{
				SongID:  song.ID,
				Payload: map[string]any{"kind": "cover_image"},
			})
			if err != nil {
				logger.Info().Err(err).Msg("cover image step failed (best-effort)")
				return
			}
			if err := p.store.UpdateSongCover(ctx, songID, resp.CoverURL); err != nil {
				logger.Info().Err(err).Msg("failed to persist cover image (best-effort)")
			}
		}()
		wg.Wait()

		if submitErr != nil {
			if ctx.Err() != nil {
				return cancelled(jukebox.SongSubmittingToAce)
			}
			return fail(jukebox.SongSubmittingToAce, submitErr)
		}
		if err := p.store.UpdateSongAceTask(ctx, songID, submitResp.TaskID); err != nil {
			logger.Warn().Err(err).Msg("failed to persist ace task id")
		}
		if err := p.store.UpdateSongStatus(ctx, songID, jukebox.SongGeneratingAudio); err != nil {
			return fail(jukebox.SongGeneratingAudio, err)
		}
		if _, err := machine.Fire(ctx, evAudioStarted); err != nil {
			return fail(jukebox.SongGeneratingAudio, err)
		}
	}

	var finalResp modelclient.Response

	// Step 3: audio poll loop, bounded by MaxPollAttempts/PollInterval.
	if machine.State() == jukebox.SongGeneratingAudio {
		resp, err := p.pollAudio(ctx, song, priority)
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(jukebox.SongGeneratingAudio)
			}
			return fail(jukebox.SongGeneratingAudio, err)
		}
		finalResp = resp
		if err := p.store.UpdateSongStatus(ctx, songID, jukebox.SongSaving); err != nil {
			return fail(jukebox.SongSaving, err)
		}
		if _, err := machine.Fire(ctx, evSave); err != nil {
			return fail(jukebox.SongSaving, err)
		}
	}

	// Step 4: save (best-effort; failure does not abort).
	if machine.State() == jukebox.SongSaving {
		if err := p.saveArtifact(ctx, song, finalResp); err != nil {
			logger.Info().Err(err).Msg("save step failed; falling back to endpoint url (best-effort)")
		}

		// Step 5: finalize.
		if err := p.store.MarkSongReady(ctx, songID, finalResp.AudioURL, finalResp.AudioDuration); err != nil {
			return fail(jukebox.SongSaving, err)
		}
		if _, err := machine.Fire(ctx, evReady); err != nil {
			return fail(jukebox.SongSaving, err)
		}
		p.bus.Emit(jukebox.EventSongStatusChanged, map[string]any{"songId": songID, "playlistId": song.PlaylistID, "status": string(jukebox.SongReady)})
	}

	return nil
}

// saveArtifact is a placeholder boundary for handing the completed
// artifact to durable storage; production wiring replaces this with an
// actual upload/copy. Failure is isolated: the original endpoint URL
// remains usable as a fallback and the song still becomes ready.
func (p *Pipeline) saveArtifact(ctx context.Context, song jukebox.Song, resp modelclient.Response) error {
	if resp.AudioURL == "" {
		return errors.New("pipeline: no audio url to save")
	}
	return nil
}

// pollAudio repeatedly submits short-lived poll work items to the
// audio scheduler rather than holding one long-running job, so poll
// pressure stays bounded by the scheduler's configured concurrency and
// cancellation remains immediate.
func (p *Pipeline) pollAudio(ctx context.Context, song jukebox.Song, priority int) (modelclient.Response, error) {
	for attempt := 0; attempt < p.cfg.MaxPollAttempts; attempt++ {
		resp, err := p.runStep(ctx, jukebox.EndpointAudio, song.ID, priority, modelclient.Request{
			SongID:  song.ID,
			Payload: map[string]any{"kind": "audio_poll", "attempt": attempt},
		})
		if err != nil {
			return modelclient.Response{}, err
		}
		switch resp.Status {
		case "succeeded":
			return resp, nil
		case "failed":
			return modelclient.Response{}, fmt.Errorf("pipeline: audio generation failed: %s", resp.ErrorMessage)
		}

		select {
		case <-ctx.Done():
			return modelclient.Response{}, ctx.Err()
		case <-time.After(p.cfg.PollInterval):
		}
	}
	return modelclient.Response{}, errors.New("pipeline: audio poll timed out")
}

// runStep submits one unit of endpoint work through the Scheduler and
// blocks for its result, translating scheduler cancellation into the
// caller's ctx.Err() so callers can distinguish cancellation from
// upstream failure.
func (p *Pipeline) runStep(ctx context.Context, endpoint jukebox.EndpointType, songID string, priority int, req modelclient.Request) (modelclient.Response, error) {
	sch, ok := p.schedulers[endpoint]
	if !ok {
		return modelclient.Response{}, fmt.Errorf("pipeline: no scheduler configured for endpoint %q", endpoint)
	}
	model, ok := p.models[endpoint]
	if !ok {
		return modelclient.Response{}, fmt.Errorf("pipeline: no model client configured for endpoint %q", endpoint)
	}

	handle, err := sch.Submit(songID, priority, func(jobCtx context.Context) (any, error) {
		return model.Run(jobCtx, req)
	})
	if err != nil {
		return modelclient.Response{}, err
	}

	result, err := handle.Await(ctx)
	if err != nil {
		return modelclient.Response{}, err
	}
	resp, _ := result.(modelclient.Response)
	return resp, nil
}

// epochFromPayload reads promptEpoch from an event payload, tolerating
// the integer widths emitters actually use.
func epochFromPayload(payload map[string]any) int64 {
	switch v := payload["promptEpoch"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// fastForwardToStatus silently replays the no-op forward edges of the
// FSM up to (not including) status, so a fresh Machine instance
// reflects a song that is resuming mid-pipeline rather than starting
// at pending. Forward edges carry no Guard/Action, so replaying them
// has no side effect beyond moving the in-memory state pointer.
func fastForwardToStatus(machine *fsm.Machine[jukebox.SongStatus, event], status jukebox.SongStatus) error {
	forwardEvents := []event{evBegin, evMetadataReady, evSubmit, evAudioStarted, evSave, evReady}

	targetIdx := -1
	for i, s := range forwardStates {
		if s == status {
			targetIdx = i
			break
		}
	}
	if targetIdx <= 0 {
		return nil
	}
	ctx := context.Background()
	for i := 0; i < targetIdx; i++ {
		if _, err := machine.Fire(ctx, forwardEvents[i]); err != nil {
			return err
		}
	}
	return nil
}
