// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bridge implements the Observer WebSocket Bridge: it
// subscribes to the Event Bus and fans out a coarse-grained
// `{routingKey, data}` envelope to every connected browser observer.
// A send failure removes the offending observer from the set; nothing
// else in the process notices.
package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jukebox-room/corectl/internal/bus"
	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/log"
	"github.com/jukebox-room/corectl/internal/metrics"
)

// Envelope is the only message shape ever sent to an observer socket.
type Envelope struct {
	RoutingKey string `json:"routingKey"`
	Data       any    `json:"data"`
}

// Bus is the narrow Event Bus capability the Bridge depends on.
// Satisfied by *bus.Bus; the handler/unsubscribe types must match
// exactly, since Go interface satisfaction requires identical named
// function types, not merely structurally compatible ones.
type Bus interface {
	Subscribe(kind jukebox.EventKind, name string, handler bus.Handler) bus.UnsubscribeFunc
}

// Socket is the narrow capability the Bridge needs from an observer
// connection: a single best-effort outbound write.
type Socket interface {
	Send(payload []byte) error
	Closed() bool
}

// subscribedKinds is the closed set of event kinds the Bridge forwards.
// playlist.heartbeat is excluded: it is high-frequency and internal-only.
var subscribedKinds = []jukebox.EventKind{
	jukebox.EventSongCreated,
	jukebox.EventSongStatusChanged,
	jukebox.EventSongDeleted,
	jukebox.EventSongMetadataUpdated,
	jukebox.EventSongReordered,
	jukebox.EventPlaylistCreated,
	jukebox.EventPlaylistSteered,
	jukebox.EventPlaylistStatus,
	jukebox.EventPlaylistUpdated,
	jukebox.EventPlaylistDeleted,
	jukebox.EventSettingsChanged,
}

// Bridge owns the set of connected observer sockets and the Event Bus
// subscriptions that feed them.
type Bridge struct {
	mu        sync.RWMutex
	observers map[string]Socket

	unsubs []bus.UnsubscribeFunc
}

// New constructs a Bridge and subscribes it to every forwarded event
// kind on bus. Call Close to unsubscribe.
func New(bus Bus) *Bridge {
	b := &Bridge{observers: make(map[string]Socket)}
	for _, kind := range subscribedKinds {
		unsub := bus.Subscribe(kind, "bridge", b.handle)
		b.unsubs = append(b.unsubs, unsub)
	}
	return b
}

// Close unsubscribes from the Event Bus. Connected observers are left
// alone; callers close each connection themselves.
func (b *Bridge) Close() {
	for _, unsub := range b.unsubs {
		unsub()
	}
}

// Add registers an observer socket under id. Typically id is a
// connection-scoped UUID assigned by the HTTP upgrade handler.
func (b *Bridge) Add(id string, s Socket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[id] = s
}

// Remove forgets an observer socket, e.g. once its connection closes.
func (b *Bridge) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, id)
}

// routingKey derives the coarse routing key for ev.
func routingKey(ev jukebox.Event) (string, bool) {
	switch ev.Kind {
	case jukebox.EventSongCreated, jukebox.EventSongStatusChanged, jukebox.EventSongDeleted,
		jukebox.EventSongMetadataUpdated, jukebox.EventSongReordered:
		if playlistID, ok := ev.PlaylistID(); ok {
			return "songs." + playlistID, true
		}
		return "songs", true
	case jukebox.EventPlaylistCreated, jukebox.EventPlaylistSteered, jukebox.EventPlaylistStatus,
		jukebox.EventPlaylistUpdated, jukebox.EventPlaylistDeleted:
		return "playlists", true
	case jukebox.EventSettingsChanged:
		return "settings", true
	default:
		return "", false
	}
}

func (b *Bridge) handle(ctx context.Context, ev jukebox.Event) error {
	key, ok := routingKey(ev)
	if !ok {
		return nil
	}

	env := Envelope{RoutingKey: key, Data: ev.Payload}
	payload, err := json.Marshal(env)
	if err != nil {
		logger := log.WithComponent("bridge")
		logger.Warn().Err(err).Msg("marshal observer envelope failed")
		return err
	}

	b.mu.RLock()
	targets := make(map[string]Socket, len(b.observers))
	for id, s := range b.observers {
		targets[id] = s
	}
	b.mu.RUnlock()

	var stale []string
	for id, s := range targets {
		if s.Closed() {
			stale = append(stale, id)
			continue
		}
		if err := s.Send(payload); err != nil {
			metrics.IncBusDropReason(key, "send_failed")
			stale = append(stale, id)
			continue
		}
	}

	if len(stale) > 0 {
		b.mu.Lock()
		for _, id := range stale {
			delete(b.observers, id)
		}
		b.mu.Unlock()
	}
	return nil
}
