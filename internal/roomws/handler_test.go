// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package roomws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/room"
	"github.com/jukebox-room/corectl/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *room.Manager) {
	t.Helper()
	st := store.NewMemory()
	st.SeedPlaylist(jukebox.Playlist{ID: "pl-1", Key: "room-key"})
	mgr := room.NewManager(st, room.Config{})
	h := NewHandler(mgr)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Cleanup(mgr.Close)
	return srv, mgr
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readServerMessage(t *testing.T, conn *websocket.Conn) room.ServerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message failed: %v", err)
	}
	var msg room.ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal server message failed: %v", err)
	}
	return msg
}

func TestHandler_JoinSendsInitialState(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	join := room.ClientMessage{Kind: room.ClientJoin, RoomID: "room-key", DeviceID: "dev-1", Name: "controller-1", Role: "controller"}
	payload, _ := json.Marshal(join)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write join failed: %v", err)
	}

	msg := readServerMessage(t, conn)
	if msg.Kind != room.ServerState {
		t.Fatalf("expected initial state message, got kind %q", msg.Kind)
	}
	if msg.Playback == nil {
		t.Fatalf("expected playback state in initial message")
	}
}

func TestHandler_UnknownFirstFrameClosesConnection(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	bad := room.ClientMessage{Kind: room.ClientSync}
	payload, _ := json.Marshal(bad)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to close after a non-join first frame")
	}
}

func TestHandler_PingReceivesPong(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	join := room.ClientMessage{Kind: room.ClientJoin, RoomID: "room-key", DeviceID: "dev-1", Role: "controller"}
	joinPayload, _ := json.Marshal(join)
	_ = conn.WriteMessage(websocket.TextMessage, joinPayload)
	_ = readServerMessage(t, conn) // initial state broadcast

	ping := room.ClientMessage{Kind: room.ClientPing, ClientTime: 42}
	pingPayload, _ := json.Marshal(ping)
	if err := conn.WriteMessage(websocket.TextMessage, pingPayload); err != nil {
		t.Fatalf("write ping failed: %v", err)
	}

	// The join handshake also produced queue and state broadcasts; drain
	// until the pong arrives.
	var msg room.ServerMessage
	for i := 0; i < 10; i++ {
		msg = readServerMessage(t, conn)
		if msg.Kind == room.ServerPong {
			break
		}
	}
	if msg.Kind != room.ServerPong {
		t.Fatalf("expected pong, got kind %q", msg.Kind)
	}
	if msg.ClientTime != 42 {
		t.Errorf("expected echoed client time 42, got %d", msg.ClientTime)
	}
}

func TestHandler_RejectsNonUpgradeRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Errorf("expected upgrade failure status, got 200")
	}
}
