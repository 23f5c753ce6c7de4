// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BusDropsTotal counts observer-socket sends that failed. Observers
	// whose socket is already closed are removed without being counted.
	BusDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_bridge_drop_total",
		Help: "Total number of observer broadcast drops",
	}, []string{"routing_key"})

	// BusDroppedTotal breaks the same drops down by reason.
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_bridge_dropped_total",
		Help: "Total number of observer broadcast drops by routing key and reason",
	}, []string{"routing_key", "reason"})

	// BusHandlerSlowTotal counts Event Bus handler invocations that
	// exceeded LOG_EVENT_HANDLER_SLOW_MS.
	BusHandlerSlowTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_bus_handler_slow_total",
		Help: "Total number of Event Bus handler invocations slower than the configured threshold",
	}, []string{"kind"})

	// BusHandlerErrorTotal counts handler panics/errors recovered by the bus.
	BusHandlerErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_bus_handler_error_total",
		Help: "Total number of Event Bus handler invocations that panicked or returned an error",
	}, []string{"kind"})
)

// IncBusDrop records a dropped observer broadcast for the given routing key.
func IncBusDrop(routingKey string) {
	IncBusDropReason(routingKey, "send_failed")
}

// IncBusDropReason records a dropped observer broadcast with a concrete reason.
func IncBusDropReason(routingKey, reason string) {
	if routingKey == "" {
		routingKey = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDropsTotal.WithLabelValues(routingKey).Inc()
	BusDroppedTotal.WithLabelValues(routingKey, reason).Inc()
}
