// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package roomws adapts the Room's narrow jukebox.Socket capability to
// gorilla/websocket connections and runs the device WebSocket's
// accept loop. Each connection gets a read/write pump pair: a
// buffered send channel drained by a single writer goroutine, a ping
// ticker, and read/write deadlines, so Room broadcasts never race on
// the underlying connection.
package roomws

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// errSendBufferFull is returned by Send when a device's outbound
// buffer is saturated; the Room logs and counts this as a dropped send.
var errSendBufferFull = errors.New("roomws: send buffer full")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 32
)

// deviceConn adapts one *websocket.Conn to jukebox.Socket. Writes are
// funneled through a single goroutine (writePump) so concurrent
// Room.send calls never race on the underlying connection.
type deviceConn struct {
	conn   *websocket.Conn
	sendCh chan []byte
	closed chan struct{}
}

func newDeviceConn(conn *websocket.Conn) *deviceConn {
	return &deviceConn{
		conn:   conn,
		sendCh: make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// Send implements jukebox.Socket. It never blocks on the network: if
// the send buffer is full the connection is considered unhealthy and
// the message is dropped (the writePump will eventually notice I/O
// errors and close the socket).
func (d *deviceConn) Send(payload []byte) error {
	select {
	case <-d.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case d.sendCh <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

// Closed implements jukebox.Socket.
func (d *deviceConn) Closed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

func (d *deviceConn) close() {
	select {
	case <-d.closed:
	default:
		close(d.closed)
	}
}

// readPump blocks reading frames until the connection errors or
// closes, handing each raw frame to onMessage for decoding. It returns
// when the connection is done; ServeHTTP calls it on the handler
// goroutine and tears the device down once it returns.
func (d *deviceConn) readPump(onMessage func(data []byte)) {
	d.conn.SetReadLimit(maxMessageSize)
	_ = d.conn.SetReadDeadline(time.Now().Add(pongWait))
	d.conn.SetPongHandler(func(string) error {
		_ = d.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			return
		}
		onMessage(data)
	}
}

// writePump drains sendCh to the connection and keeps it alive with
// periodic pings, until the connection errors or is explicitly closed.
func (d *deviceConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-d.sendCh:
			_ = d.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = d.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := d.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				d.close()
				return
			}
		case <-ticker.C:
			_ = d.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := d.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				d.close()
				return
			}
		case <-d.closed:
			return
		}
	}
}
