// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// writeMetric pulls the raw dto.Metric out of a single-labelset
// collector so assertions can read gauge/counter values directly,
// the same low-level path prometheus/client_golang's own testutil
// package uses under the hood.
func writeMetric(t *testing.T, c interface{ Write(*dto.Metric) error }) *dto.Metric {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m
}

func TestSchedulerGaugesExposeRawValues(t *testing.T) {
	SchedulerPendingGauge.WithLabelValues("llm").Set(3)
	SchedulerActiveGauge.WithLabelValues("llm").Set(1)

	pending := writeMetric(t, SchedulerPendingGauge.WithLabelValues("llm"))
	active := writeMetric(t, SchedulerActiveGauge.WithLabelValues("llm"))

	require.Equal(t, 3.0, pending.GetGauge().GetValue())
	require.Equal(t, 1.0, active.GetGauge().GetValue())
}

func TestSchedulerErrorsCounterAccumulates(t *testing.T) {
	before := writeMetric(t, SchedulerErrorsTotal.WithLabelValues("audio")).GetCounter().GetValue()

	SchedulerErrorsTotal.WithLabelValues("audio").Inc()
	SchedulerErrorsTotal.WithLabelValues("audio").Inc()

	after := writeMetric(t, SchedulerErrorsTotal.WithLabelValues("audio")).GetCounter().GetValue()
	require.Equal(t, before+2, after)
}
