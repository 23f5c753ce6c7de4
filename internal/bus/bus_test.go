// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
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

func TestEmitDeliversAtLeastOnceToAllHandlers(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	var mu sync.Mutex
	got := map[string]int{}
	done := make(chan struct{}, 2)

	b.Subscribe(jukebox.EventSongCreated, "a", func(ctx context.Context, ev jukebox.Event) error {
		mu.Lock()
		got["a"]++
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	b.Subscribe(jukebox.EventSongCreated, "b", func(ctx context.Context, ev jukebox.Event) error {
		mu.Lock()
		got["b"]++
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	b.Emit(jukebox.EventSongCreated, map[string]any{"songId": "s1"})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for handler delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, got["a"])
	require.Equal(t, 1, got["b"])
}

func TestSameKindHandlerObservesEmissionOrder(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	var mu sync.Mutex
	var order []uint64
	done := make(chan struct{})

	b.Subscribe(jukebox.EventSongStatusChanged, "recorder", func(ctx context.Context, ev jukebox.Event) error {
		mu.Lock()
		order = append(order, ev.Sequence)
		n := len(order)
		mu.Unlock()
		if n == 50 {
			close(done)
		}
		return nil
	})

	for i := 0; i < 50; i++ {
		b.Emit(jukebox.EventSongStatusChanged, map[string]any{"i": i})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all emits to be observed")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(order); i++ {
		require.Less(t, order[i-1], order[i], "handler must observe emits in emission order")
	}
}

func TestUnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	var calls int
	var mu sync.Mutex
	unsub := b.Subscribe(jukebox.EventSettingsChanged, "x", func(ctx context.Context, ev jukebox.Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	unsub()
	unsub() // idempotent: must not panic

	b.Emit(jukebox.EventSettingsChanged, nil)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, calls, "unsubscribed handler must never be invoked")
}

func TestHandlerErrorDoesNotBlockOtherHandlers(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	done := make(chan struct{}, 1)
	b.Subscribe(jukebox.EventSongDeleted, "failing", func(ctx context.Context, ev jukebox.Event) error {
		panic("boom")
	})
	b.Subscribe(jukebox.EventSongDeleted, "healthy", func(ctx context.Context, ev jukebox.Event) error {
		done <- struct{}{}
		return nil
	})

	b.Emit(jukebox.EventSongDeleted, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a panicking handler must not prevent other handlers from running")
	}
}

func TestSubscribeReplacesPriorHandlerForSameNameAndKind(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	var mu sync.Mutex
	var calledOld, calledNew bool

	b.Subscribe(jukebox.EventPlaylistUpdated, "h", func(ctx context.Context, ev jukebox.Event) error {
		mu.Lock()
		calledOld = true
		mu.Unlock()
		return nil
	})
	done := make(chan struct{})
	b.Subscribe(jukebox.EventPlaylistUpdated, "h", func(ctx context.Context, ev jukebox.Event) error {
		mu.Lock()
		calledNew = true
		mu.Unlock()
		close(done)
		return nil
	})

	b.Emit(jukebox.EventPlaylistUpdated, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	require.False(t, calledOld, "replaced handler must not be invoked")
	require.True(t, calledNew)
}

func TestRemoveAllStopsAllDelivery(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	var calls int
	var mu sync.Mutex
	b.Subscribe(jukebox.EventSongReordered, "h", func(ctx context.Context, ev jukebox.Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	b.RemoveAll()
	b.Emit(jukebox.EventSongReordered, nil)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, calls)
}
