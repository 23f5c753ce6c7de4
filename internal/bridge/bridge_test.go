// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bridge

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jukebox-room/corectl/internal/bus"
	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/stretchr/testify/require"
)

const (
	defaultWait = time.Second
	defaultTick = 5 * time.Millisecond
)

type fakeObserverSocket struct {
	mu     sync.Mutex
	closed bool
	msgs   []Envelope
}

func (f *fakeObserverSocket) Send(payload []byte) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeObserverSocket) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeObserverSocket) last() (Envelope, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return Envelope{}, false
	}
	return f.msgs[len(f.msgs)-1], true
}

func (f *fakeObserverSocket) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestBridgeRoutesSongEventByPlaylist(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Close()
	br := New(b)
	defer br.Close()

	sock := &fakeObserverSocket{}
	br.Add("obs-1", sock)

	b.Emit(jukebox.EventSongStatusChanged, map[string]any{"playlistId": "pl-X"})
	require.Eventually(t, func() bool { return sock.count() == 1 }, defaultWait, defaultTick)

	env, ok := sock.last()
	require.True(t, ok)
	require.Equal(t, "songs.pl-X", env.RoutingKey)
}

func TestBridgeNeverForwardsHeartbeat(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Close()
	br := New(b)
	defer br.Close()

	sock := &fakeObserverSocket{}
	br.Add("obs-1", sock)

	b.Emit(jukebox.EventPlaylistHeartbeat, map[string]any{"playlistId": "pl-X"})
	b.Emit(jukebox.EventSettingsChanged, map[string]any{})
	require.Eventually(t, func() bool { return sock.count() == 1 }, defaultWait, defaultTick)

	env, _ := sock.last()
	require.Equal(t, "settings", env.RoutingKey)
}

func TestBridgeDropsClosedObserver(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Close()
	br := New(b)
	defer br.Close()

	sock := &fakeObserverSocket{closed: true}
	br.Add("obs-1", sock)

	b.Emit(jukebox.EventPlaylistCreated, map[string]any{})
	require.Eventually(t, func() bool {
		br.mu.RLock()
		_, ok := br.observers["obs-1"]
		br.mu.RUnlock()
		return !ok
	}, defaultWait, defaultTick)
}
