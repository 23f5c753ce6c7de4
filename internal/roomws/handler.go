// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package roomws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/log"
	"github.com/jukebox-room/corectl/internal/room"
)

// Handler upgrades incoming HTTP requests to the device WebSocket and
// drives each connection's Room membership for its lifetime.
type Handler struct {
	manager  *room.Manager
	upgrader websocket.Upgrader
}

// NewHandler constructs a device-socket Handler bound to manager.
// CheckOrigin is left permissive; callers that need origin
// enforcement should wrap the returned handler with their own check.
func NewHandler(manager *room.Manager) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler. It upgrades the connection,
// blocks on the initial `join` message, attaches the device to the
// resolved Room, and runs until the socket closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger := log.WithComponent("roomws")
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	dc := newDeviceConn(conn)
	go dc.writePump()

	ctx := r.Context()
	rm, device, ok := h.awaitJoin(ctx, dc)
	if !ok {
		dc.close()
		_ = conn.Close()
		return
	}

	device.Socket = dc
	rm.AddDevice(ctx, device)
	defer rm.RemoveDevice(ctx, device.ID)

	dc.readPump(func(data []byte) { h.dispatch(ctx, rm, device.ID, data) })
	dc.close()
	_ = conn.Close()
}

// awaitJoin blocks for exactly one frame, the join handshake, before
// the Room is resolved. Any other first message, or a lookup failure,
// is treated as a protocol violation and closes the connection.
func (h *Handler) awaitJoin(ctx context.Context, dc *deviceConn) (*room.Room, jukebox.Device, bool) {
	_, data, err := dc.conn.ReadMessage()
	if err != nil {
		return nil, jukebox.Device{}, false
	}
	var msg room.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Kind != room.ClientJoin {
		return nil, jukebox.Device{}, false
	}

	rm, err := h.manager.GetOrCreate(ctx, msg.RoomID)
	if err != nil {
		return nil, jukebox.Device{}, false
	}

	deviceID := msg.DeviceID
	if deviceID == "" {
		deviceID = uuid.New().String()
	}
	role := jukebox.RoleController
	if msg.Role == string(jukebox.RolePlayer) {
		role = jukebox.RolePlayer
	}

	return rm, jukebox.Device{ID: deviceID, Name: msg.Name, Role: role}, true
}

// dispatch decodes one client frame and routes it to the matching
// Room operation.
func (h *Handler) dispatch(ctx context.Context, rm *room.Room, deviceID string, data []byte) {
	var msg room.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	switch msg.Kind {
	case room.ClientCommand:
		_ = rm.HandleCommand(ctx, deviceID, msg.Action, msg.Payload, msg.TargetDeviceID)
	case room.ClientSync:
		rm.HandleSync(ctx, deviceID, msg.CurrentSongID, msg.IsPlaying, msg.CurrentTime, msg.Duration)
	case room.ClientSongEnded:
		rm.HandleSongEnded(ctx)
	case room.ClientPing:
		rm.HandlePing(ctx, deviceID, msg.ClientTime)
	}
}
