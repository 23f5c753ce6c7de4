// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoomBroadcastTotal counts Room fan-out sends by server message kind.
	RoomBroadcastTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_room_broadcast_total",
		Help: "Total number of Room device-socket sends by message kind",
	}, []string{"kind"})

	// RoomSendDroppedTotal counts device-socket sends that failed or
	// were skipped because the socket was already closed.
	RoomSendDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_room_send_dropped_total",
		Help: "Total number of Room device-socket sends dropped",
	}, []string{"reason"})
)

// RecordRoomBroadcast increments the broadcast counter for kind.
func RecordRoomBroadcast(kind string) {
	RoomBroadcastTotal.WithLabelValues(kind).Inc()
}

// RecordRoomSendDropped increments the dropped-send counter for reason.
func RecordRoomSendDropped(reason string) {
	RoomSendDroppedTotal.WithLabelValues(reason).Inc()
}
