// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SchedulerPendingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jukebox_scheduler_pending",
		Help: "Number of jobs waiting in an endpoint scheduler's pending queue",
	}, []string{"endpoint"})

	SchedulerActiveGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jukebox_scheduler_active",
		Help: "Number of jobs currently executing in an endpoint scheduler",
	}, []string{"endpoint"})

	SchedulerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_scheduler_errors_total",
		Help: "Total number of non-cancellation job errors per endpoint",
	}, []string{"endpoint"})
)
