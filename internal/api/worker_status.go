// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jukebox-room/corectl/internal/config"
	"github.com/jukebox-room/corectl/internal/jukebox"
	"github.com/jukebox-room/corectl/internal/log"
	"github.com/jukebox-room/corectl/internal/scheduler"
)

// workerStatusWriter periodically snapshots every Scheduler's Status
// into the `GET /api/worker/status` response shape and, if
// configured, atomically writes it to disk so an external supervisor
// can read worker health without hitting the HTTP surface.
type workerStatusWriter struct {
	holder     *config.Holder
	schedulers map[jukebox.EndpointType]*scheduler.Scheduler
}

func newWorkerStatusWriter(holder *config.Holder, schedulers map[jukebox.EndpointType]*scheduler.Scheduler) *workerStatusWriter {
	return &workerStatusWriter{holder: holder, schedulers: schedulers}
}

// endpointStatus mirrors scheduler.Status in a JSON-stable shape.
type endpointStatus struct {
	EndpointType     jukebox.EndpointType `json:"endpointType"`
	PendingCount     int                  `json:"pendingCount"`
	ActiveCount      int                  `json:"activeCount"`
	Errors           uint64               `json:"errors"`
	LastErrorMessage string               `json:"lastErrorMessage,omitempty"`
}

type workerStatusSnapshot struct {
	At        time.Time        `json:"at"`
	Endpoints []endpointStatus `json:"endpoints"`
}

func (w *workerStatusWriter) collect() workerStatusSnapshot {
	snap := workerStatusSnapshot{At: time.Now()}
	for endpoint, sched := range w.schedulers {
		st := sched.Status()
		snap.Endpoints = append(snap.Endpoints, endpointStatus{
			EndpointType:     endpoint,
			PendingCount:     len(st.Pending),
			ActiveCount:      len(st.Active),
			Errors:           st.Errors,
			LastErrorMessage: st.LastErrorMessage,
		})
	}
	return snap
}

// run snapshots every 5 seconds until ctx is cancelled.
func (w *workerStatusWriter) run(ctx context.Context) {
	if w.holder.Get().StatusFilePath == "" {
		return
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.snapshot()
		}
	}
}

func (w *workerStatusWriter) snapshot() {
	path := w.holder.Get().StatusFilePath
	if path == "" {
		return
	}
	if err := writeJSONAtomic(path, w.collect()); err != nil {
		log.WithComponent("worker_status").Warn().Err(err).Msg("worker status file write failed")
	}
}

// handleWorkerStatus implements `GET /api/worker/status`.
func (s *Server) handleWorkerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.collect())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
