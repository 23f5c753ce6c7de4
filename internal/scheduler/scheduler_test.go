// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestConcurrencyNeverExceedsC(t *testing.T) {
	s := New(jukebox.EndpointAudio, 2)
	defer s.Close()

	var mu sync.Mutex
	active, maxActive := 0, 0
	release := make(chan struct{})

	work := func(ctx context.Context) (any, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		return nil, nil
	}

	handles := make([]*Handle, 0, 5)
	for i := 0; i < 5; i++ {
		h, err := s.Submit("song", 0, work)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	got := maxActive
	mu.Unlock()
	require.LessOrEqual(t, got, 2, "active jobs must never exceed configured concurrency")

	close(release)
	for _, h := range handles {
		_, _ = h.Await(context.Background())
	}
}

func TestCancelledPendingJobNeverStarts(t *testing.T) {
	s := New(jukebox.EndpointLLM, 1)
	defer s.Close()

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	blocker, err := s.Submit("blocker", 0, func(ctx context.Context) (any, error) {
		started <- struct{}{}
		<-block
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	ran := false
	h, err := s.Submit("song-2", 0, func(ctx context.Context) (any, error) {
		ran = true
		return nil, nil
	})
	require.NoError(t, err)
	h.Cancel()

	result, err := h.Await(context.Background())
	require.ErrorIs(t, err, ErrCancelled)
	require.Nil(t, result)

	close(block)
	_, _ = blocker.Await(context.Background())
	time.Sleep(50 * time.Millisecond)
	require.False(t, ran, "a cancelled pending job must never be invoked")
}

func TestActiveJobObservesCancellationAtSuspensionPoint(t *testing.T) {
	s := New(jukebox.EndpointImage, 1)
	defer s.Close()

	observed := make(chan struct{}, 1)
	h, err := s.Submit("song", 0, func(ctx context.Context) (any, error) {
		select {
		case <-ctx.Done():
			observed <- struct{}{}
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return "too slow", nil
		}
	})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	h.Cancel()

	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("active job did not observe cancellation at its suspension point")
	}

	_, err = h.Await(context.Background())
	require.Error(t, err)
}

func TestPriorityOrdersInterruptsBeforeNonInterrupts(t *testing.T) {
	s := New(jukebox.EndpointAudio, 1)
	defer s.Close()

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	blocker, _ := s.Submit("blocker", 10, func(ctx context.Context) (any, error) {
		started <- struct{}{}
		<-block
		return nil, nil
	})
	<-started

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 2)

	recordingWork := func(name string) WorkFunc {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			done <- struct{}{}
			return nil, nil
		}
	}

	// Non-interrupt submitted first at a higher priority number (worse) than the interrupt.
	_, err := s.Submit("normal", 10, recordingWork("normal"))
	require.NoError(t, err)
	_, err = s.Submit("interrupt", 0, recordingWork("interrupt"))
	require.NoError(t, err)

	close(block)
	_, _ = blocker.Await(context.Background())

	for i := 0; i < 2; i++ {
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"interrupt", "normal"}, order)
}

func TestStatusReflectsErrorsAndRecentCompletions(t *testing.T) {
	s := New(jukebox.EndpointLLM, 1)
	defer s.Close()

	h, err := s.Submit("song", 0, func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream exploded")
	})
	require.NoError(t, err)
	_, _ = h.Await(context.Background())

	time.Sleep(50 * time.Millisecond)
	st := s.Status()
	require.Equal(t, uint64(1), st.Errors)
	require.Contains(t, st.LastErrorMessage, "upstream exploded")
	require.Len(t, st.Recent, 1)
}
