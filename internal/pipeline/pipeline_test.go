// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jukebox-room/corectl/internal/bus"
	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/modelclient"
	"github.com/jukebox-room/corectl/internal/scheduler"
	"github.com/jukebox-room/corectl/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, callers map[jukebox.EndpointType]modelclient.Caller) (*Pipeline, *store.Memory, *bus.Bus) {
	t.Helper()
	st := store.NewMemory()
	b := bus.New(bus.Config{})
	t.Cleanup(b.Close)

	schedulers := map[jukebox.EndpointType]*scheduler.Scheduler{
		jukebox.EndpointLLM:   scheduler.New(jukebox.EndpointLLM, 2),
		jukebox.EndpointImage: scheduler.New(jukebox.EndpointImage, 2),
		jukebox.EndpointAudio: scheduler.New(jukebox.EndpointAudio, 2),
	}
	t.Cleanup(func() {
		for _, sch := range schedulers {
			sch.Close()
		}
	})
	models := make(map[jukebox.EndpointType]*modelclient.Client)
	for endpoint, caller := range callers {
		models[endpoint] = modelclient.New(endpoint, caller, modelclient.Config{RatePerSecond: 1000, Burst: 1000})
	}

	p := New(st, b, schedulers, models, Config{PollInterval: 10 * time.Millisecond, MaxPollAttempts: 5})
	return p, st, b
}

func succeedingCallers() map[jukebox.EndpointType]modelclient.Caller {
	return map[jukebox.EndpointType]modelclient.Caller{
		jukebox.EndpointLLM: func(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
			return modelclient.Response{Title: "Generated Title", Artist: "Generated Artist"}, nil
		},
		jukebox.EndpointImage: func(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
			return modelclient.Response{CoverURL: "https://covers/s1.png"}, nil
		},
		jukebox.EndpointAudio: func(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
			if req.Payload["kind"] == "audio_submit" {
				return modelclient.Response{TaskID: "task-1"}, nil
			}
			return modelclient.Response{Status: "succeeded", AudioURL: "https://audio/s1.mp3", AudioDuration: 180}, nil
		},
	}
}

func TestPipeline_Resume_HappyPathReachesReady(t *testing.T) {
	p, st, _ := newTestPipeline(t, succeedingCallers())
	ctx := context.Background()

	st.SeedPlaylist(jukebox.Playlist{ID: "pl-1", Key: "k"})
	song, err := st.CreatePendingSong(ctx, "pl-1", 1, store.CreatePendingSongParams{})
	require.NoError(t, err)

	require.NoError(t, p.Resume(ctx, song.ID))

	got, err := st.GetSongByID(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, jukebox.SongReady, got.Status)
	assert.Equal(t, "https://audio/s1.mp3", got.AudioURL)
	assert.Equal(t, "Generated Title", got.Title)
	assert.Equal(t, "https://covers/s1.png", got.CoverURL)
}

func TestPipeline_Resume_DuplicateCallIsNoOp(t *testing.T) {
	blockLLM := make(chan struct{})
	callers := succeedingCallers()
	callers[jukebox.EndpointLLM] = func(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
		<-blockLLM
		return modelclient.Response{Title: "t", Artist: "a"}, nil
	}
	p, st, _ := newTestPipeline(t, callers)
	ctx := context.Background()

	st.SeedPlaylist(jukebox.Playlist{ID: "pl-1", Key: "k"})
	song, err := st.CreatePendingSong(ctx, "pl-1", 1, store.CreatePendingSongParams{})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- p.Resume(ctx, song.ID) }()

	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		_, inFlight := p.inFlight[song.ID]
		return inFlight
	}, time.Second, 5*time.Millisecond, "song should be marked in-flight")

	err = p.Resume(ctx, song.ID)
	assert.ErrorIs(t, err, ErrAlreadyInFlight)

	close(blockLLM)
	require.NoError(t, <-errCh)
}

func TestPipeline_MetadataFailure_MarksSongError(t *testing.T) {
	callers := succeedingCallers()
	wantErr := errors.New("llm upstream exploded")
	callers[jukebox.EndpointLLM] = func(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
		return modelclient.Response{}, wantErr
	}
	p, st, _ := newTestPipeline(t, callers)
	ctx := context.Background()

	st.SeedPlaylist(jukebox.Playlist{ID: "pl-1", Key: "k"})
	song, err := st.CreatePendingSong(ctx, "pl-1", 1, store.CreatePendingSongParams{})
	require.NoError(t, err)

	err = p.Resume(ctx, song.ID)
	assert.Error(t, err)

	got, gerr := st.GetSongByID(ctx, song.ID)
	require.NoError(t, gerr)
	assert.Equal(t, jukebox.SongError, got.Status)
	assert.Equal(t, jukebox.SongGeneratingMetadata, got.ErroredAtStatus)
}

func TestPipeline_CancelStale_CancelsInFlightRunAtOldEpoch(t *testing.T) {
	blockLLM := make(chan struct{})
	callers := succeedingCallers()
	callers[jukebox.EndpointLLM] = func(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
		select {
		case <-blockLLM:
			return modelclient.Response{Title: "t", Artist: "a"}, nil
		case <-ctx.Done():
			return modelclient.Response{}, ctx.Err()
		}
	}
	p, st, _ := newTestPipeline(t, callers)
	ctx := context.Background()

	st.SeedPlaylist(jukebox.Playlist{ID: "pl-1", Key: "k", PromptEpoch: 0})
	song, err := st.CreatePendingSong(ctx, "pl-1", 1, store.CreatePendingSongParams{PromptEpoch: 0})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- p.Resume(ctx, song.ID) }()

	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		entry, ok := p.inFlight[song.ID]
		return ok && entry.epoch == 0
	}, time.Second, 5*time.Millisecond, "run should record epoch 0 while in flight")

	p.cancelStale("pl-1", 1)

	err = <-errCh
	assert.NoError(t, err, "a cooperative cancellation is absorbed, not surfaced as an error")

	got, gerr := st.GetSongByID(ctx, song.ID)
	require.NoError(t, gerr)
	assert.Equal(t, jukebox.SongCancelled, got.Status)

	close(blockLLM)
}
