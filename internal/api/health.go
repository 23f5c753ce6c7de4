// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/jukebox-room/corectl/internal/jukebox"
)

// checkStatus is the coarse health of one checked subsystem.
type checkStatus string

const (
	statusOK       checkStatus = "ok"
	statusDegraded checkStatus = "degraded"
)

type checkResult struct {
	Name    string      `json:"name"`
	Status  checkStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

type healthResponse struct {
	Status checkStatus   `json:"status"`
	Rooms  int           `json:"rooms"`
	Checks []checkResult `json:"checks"`
}

// handleHealth implements `GET /health`: aggregate telemetry from the
// Endpoint Queue Schedulers and the model clients' circuit breakers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: statusOK, Rooms: len(s.manager.All())}

	for _, endpoint := range []jukebox.EndpointType{jukebox.EndpointLLM, jukebox.EndpointImage, jukebox.EndpointAudio} {
		model, ok := s.models[endpoint]
		if !ok {
			continue
		}
		state := model.State()
		check := checkResult{Name: "model." + string(endpoint), Status: statusOK}
		if state == "open" {
			check.Status = statusDegraded
			check.Message = "circuit breaker open"
			resp.Status = statusDegraded
		}
		resp.Checks = append(resp.Checks, check)
	}

	for endpoint, sched := range s.schedulers {
		st := sched.Status()
		check := checkResult{Name: "scheduler." + string(endpoint), Status: statusOK}
		if st.Errors > 0 && st.LastErrorMessage != "" {
			check.Message = st.LastErrorMessage
		}
		resp.Checks = append(resp.Checks, check)
	}

	status := http.StatusOK
	if resp.Status == statusDegraded {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
