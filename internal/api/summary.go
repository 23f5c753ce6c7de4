// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/jukebox-room/corectl/internal/config"
	"github.com/jukebox-room/corectl/internal/log"
)

// requestSummary accumulates per-path request counts and slow-request
// counts between flushes, and periodically logs and (if configured)
// atomically writes the accumulated counters to disk.
type requestSummary struct {
	holder *config.Holder

	mu          sync.Mutex
	counts      map[string]int
	slow        map[string]int
	windowStart time.Time
}

type pathSummary struct {
	Count int `json:"count"`
	Slow  int `json:"slow"`
}

type summarySnapshot struct {
	WindowStart time.Time              `json:"windowStart"`
	FlushedAt   time.Time              `json:"flushedAt"`
	Paths       map[string]pathSummary `json:"paths"`
}

func newRequestSummary(holder *config.Holder) *requestSummary {
	return &requestSummary{
		holder:      holder,
		counts:      make(map[string]int),
		slow:        make(map[string]int),
		windowStart: time.Now(),
	}
}

// middleware records every request's path and duration, bucketing
// requests slower than cfg.RequestLogSlowMS separately.
func (rs *requestSummary) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		elapsed := time.Since(start)

		rs.mu.Lock()
		rs.counts[r.URL.Path]++
		if elapsed >= rs.holder.Get().RequestLogSlowDuration() {
			rs.slow[r.URL.Path]++
		}
		rs.mu.Unlock()
	})
}

// run flushes the accumulated summary every
// cfg.RequestLogSummaryInterval until ctx is cancelled.
func (rs *requestSummary) run(ctx context.Context) {
	interval := rs.holder.Get().RequestLogSummaryInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if next := rs.holder.Get().RequestLogSummaryInterval(); next != interval && next > 0 {
				interval = next
				ticker.Reset(interval)
			}
			rs.flush()
		}
	}
}

// flush logs the window's accumulated counters and, if
// RequestLogSummaryPath is set, atomically writes them to disk.
func (rs *requestSummary) flush() {
	rs.mu.Lock()
	snap := summarySnapshot{
		WindowStart: rs.windowStart,
		FlushedAt:   time.Now(),
		Paths:       make(map[string]pathSummary, len(rs.counts)),
	}
	for path, n := range rs.counts {
		snap.Paths[path] = pathSummary{Count: n, Slow: rs.slow[path]}
	}
	rs.counts = make(map[string]int)
	rs.slow = make(map[string]int)
	rs.windowStart = snap.FlushedAt
	rs.mu.Unlock()

	logger := log.WithComponent("request_summary")
	logger.Info().Int("paths", len(snap.Paths)).Msg("request summary flushed")

	path := rs.holder.Get().RequestLogSummaryPath
	if path == "" {
		return
	}
	if err := writeJSONAtomic(path, snap); err != nil {
		logger.Warn().Err(err).Msg("request summary file write failed")
	}
}

// writeJSONAtomic marshals v and atomically replaces path's contents
// so a reader never observes a partial file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return err
	}
	defer func() { _ = pendingFile.Cleanup() }()

	if _, err := pendingFile.Write(data); err != nil {
		return err
	}
	return pendingFile.CloseAtomicallyReplace()
}
