// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jukebox-room/corectl/internal/log"
)

// observerConn adapts one *websocket.Conn to bridge.Socket. The
// observer socket is server-to-client only; frames are still read so
// pong control messages are processed and connection teardown is
// detected, following the same read/write pump split as
// internal/roomws.deviceConn.
type observerConn struct {
	conn   *websocket.Conn
	sendCh chan []byte
	closed chan struct{}
}

const (
	observerWriteWait  = 10 * time.Second
	observerPongWait   = 60 * time.Second
	observerPingPeriod = (observerPongWait * 9) / 10
	observerSendBuffer = 64
)

var errObserverSendBufferFull = errors.New("api: observer send buffer full")

func newObserverConn(conn *websocket.Conn) *observerConn {
	return &observerConn{
		conn:   conn,
		sendCh: make(chan []byte, observerSendBuffer),
		closed: make(chan struct{}),
	}
}

// Send implements bridge.Socket.
func (o *observerConn) Send(payload []byte) error {
	select {
	case <-o.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case o.sendCh <- payload:
		return nil
	default:
		return errObserverSendBufferFull
	}
}

// Closed implements bridge.Socket.
func (o *observerConn) Closed() bool {
	select {
	case <-o.closed:
		return true
	default:
		return false
	}
}

func (o *observerConn) close() {
	select {
	case <-o.closed:
	default:
		close(o.closed)
	}
}

func (o *observerConn) readPump() {
	o.conn.SetReadLimit(4096)
	_ = o.conn.SetReadDeadline(time.Now().Add(observerPongWait))
	o.conn.SetPongHandler(func(string) error {
		_ = o.conn.SetReadDeadline(time.Now().Add(observerPongWait))
		return nil
	})
	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (o *observerConn) writePump() {
	ticker := time.NewTicker(observerPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-o.sendCh:
			_ = o.conn.SetWriteDeadline(time.Now().Add(observerWriteWait))
			if !ok {
				_ = o.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := o.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				o.close()
				return
			}
		case <-ticker.C:
			_ = o.conn.SetWriteDeadline(time.Now().Add(observerWriteWait))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				o.close()
				return
			}
		case <-o.closed:
			return
		}
	}
}

var observerUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleObserverSocket upgrades a connection to the Observer WebSocket
// and registers it with the Bridge for the lifetime of the connection.
func (s *Server) handleObserverSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := observerUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("api").Warn().Err(err).Msg("observer websocket upgrade failed")
		return
	}

	oc := newObserverConn(conn)
	id := uuid.New().String()
	s.bridge.Add(id, oc)
	defer s.bridge.Remove(id)

	go oc.writePump()
	oc.readPump()
	oc.close()
	_ = conn.Close()
}
