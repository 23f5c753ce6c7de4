// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strings"
	"time"

	"github.com/jukebox-room/corectl/internal/log"
	"gopkg.in/yaml.v3"
)

// AppConfig holds every recognized configuration option. Every field
// has a documented default; see Load.
type AppConfig struct {
	// APIPort is the HTTP listen port (default 5175).
	APIPort int
	// AllowedOrigins is the CSV of origins allowed by the HTTP CORS
	// middleware. The device and observer WebSocket upgrades do not
	// check it; they accept any origin.
	AllowedOrigins []string

	// RequestLogSlowMS flags HTTP requests slower than this as "slow"
	// in the noisy-request summary.
	RequestLogSlowMS int
	// RequestLogSummaryIntervalMS is how often the accumulated summary
	// is flushed to disk and logged.
	RequestLogSummaryIntervalMS int
	// RequestLogSummaryPath, if set, receives an atomically-written
	// JSON summary every RequestLogSummaryIntervalMS. Empty disables
	// the on-disk summary.
	RequestLogSummaryPath string

	// TempPlaylistCleanupIntervalMS drives the temporary-playlist
	// cleanup loop.
	TempPlaylistCleanupIntervalMS int

	// LogEventBus enables Event Bus emit tracing.
	LogEventBus bool
	// LogEventHandlerSlowMS is the Event Bus handler slow-invocation
	// threshold.
	LogEventHandlerSlowMS int

	// LogLevel and LogService configure internal/log.Configure.
	LogLevel   string
	LogService string

	// SchedulerConcurrency* is the per-endpoint-type concurrency bound.
	SchedulerConcurrencyLLM   int
	SchedulerConcurrencyImage int
	SchedulerConcurrencyAudio int

	// PollIntervalSeconds and MaxPollAttempts tune the Generation
	// Pipeline's audio-poll loop (default 5s/120, about ten minutes).
	PollIntervalSeconds int
	MaxPollAttempts     int

	// StatusFilePath, if set, receives an atomically-written worker
	// telemetry snapshot every 5s.
	StatusFilePath string

	// ConfigReloadPath, if set, is watched for changes via fsnotify.
	// A reload takes effect only where a reader calls Holder.Get each
	// time (the request-summary slow threshold, interval and path, and
	// the worker status file path); scheduler concurrency, poll tuning,
	// Event Bus settings and the cleanup interval keep their startup
	// values.
	ConfigReloadPath string

	// HouseCommandsRateLimitRPS bounds POST /house/commands per caller IP.
	HouseCommandsRateLimitRPS int
	// RateLimitWhitelist exempts these IPs from the house-commands limiter.
	RateLimitWhitelist []string
}

// reloadableOverlay is the subset of AppConfig that may be changed by
// a hot YAML reload. Socket/listener-affecting fields (APIPort,
// AllowedOrigins) are deliberately absent.
type reloadableOverlay struct {
	RequestLogSlowMS              *int  `yaml:"requestLogSlowMs,omitempty"`
	RequestLogSummaryIntervalMS   *int  `yaml:"requestLogSummaryIntervalMs,omitempty"`
	TempPlaylistCleanupIntervalMS *int  `yaml:"tempPlaylistCleanupIntervalMs,omitempty"`
	LogEventBus                   *bool `yaml:"logEventBus,omitempty"`
	LogEventHandlerSlowMS         *int  `yaml:"logEventHandlerSlowMs,omitempty"`
	SchedulerConcurrencyLLM       *int  `yaml:"schedulerConcurrencyLlm,omitempty"`
	SchedulerConcurrencyImage     *int  `yaml:"schedulerConcurrencyImage,omitempty"`
	SchedulerConcurrencyAudio     *int  `yaml:"schedulerConcurrencyAudio,omitempty"`
	PollIntervalSeconds           *int  `yaml:"pollIntervalSeconds,omitempty"`
	MaxPollAttempts               *int  `yaml:"maxPollAttempts,omitempty"`
}

// Load builds an AppConfig from environment variables using the
// ParseString/ParseInt/ParseBool helpers, then applies an optional
// YAML overlay at yamlPath if it exists.
func Load(yamlPath string) AppConfig {
	cfg := AppConfig{
		APIPort:                       ParseInt("API_PORT", 5175),
		AllowedOrigins:                splitCSV(ParseString("ALLOWED_ORIGINS", "")),
		RequestLogSlowMS:              ParseInt("REQUEST_LOG_SLOW_MS", 1500),
		RequestLogSummaryIntervalMS:   ParseInt("REQUEST_LOG_SUMMARY_INTERVAL_MS", 30000),
		RequestLogSummaryPath:         ParseString("REQUEST_LOG_SUMMARY_PATH", ""),
		TempPlaylistCleanupIntervalMS: ParseInt("TEMP_PLAYLIST_CLEANUP_INTERVAL_MS", 900000),
		LogEventBus:                   ParseBool("LOG_EVENT_BUS", false),
		LogEventHandlerSlowMS:         ParseInt("LOG_EVENT_HANDLER_SLOW_MS", 200),
		LogLevel:                      ParseString("LOG_LEVEL", "info"),
		LogService:                    ParseString("LOG_SERVICE", "jukebox-corectl"),
		SchedulerConcurrencyLLM:       ParseInt("SCHEDULER_CONCURRENCY_LLM", 4),
		SchedulerConcurrencyImage:     ParseInt("SCHEDULER_CONCURRENCY_IMAGE", 2),
		SchedulerConcurrencyAudio:     ParseInt("SCHEDULER_CONCURRENCY_AUDIO", 3),
		PollIntervalSeconds:           ParseInt("AUDIO_POLL_INTERVAL_SECONDS", 5),
		MaxPollAttempts:               ParseInt("AUDIO_POLL_MAX_ATTEMPTS", 120),
		StatusFilePath:                ParseString("WORKER_STATUS_FILE", ""),
		ConfigReloadPath:              yamlPath,
		HouseCommandsRateLimitRPS:     ParseInt("HOUSE_COMMANDS_RATE_LIMIT_RPS", 20),
		RateLimitWhitelist:            splitCSV(ParseString("RATE_LIMIT_WHITELIST", "")),
	}

	if yamlPath != "" {
		if overlay, err := readOverlay(yamlPath); err != nil {
			logger := log.WithComponent("config")
			logger.Warn().Str("path", yamlPath).Err(err).Msg("config overlay read failed, using env/defaults")
		} else {
			cfg.applyOverlay(overlay)
		}
	}
	return cfg
}

func readOverlay(path string) (reloadableOverlay, error) {
	var overlay reloadableOverlay
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return overlay, nil
		}
		return overlay, err
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return overlay, err
	}
	return overlay, nil
}

func (c *AppConfig) applyOverlay(o reloadableOverlay) {
	if o.RequestLogSlowMS != nil {
		c.RequestLogSlowMS = *o.RequestLogSlowMS
	}
	if o.RequestLogSummaryIntervalMS != nil {
		c.RequestLogSummaryIntervalMS = *o.RequestLogSummaryIntervalMS
	}
	if o.TempPlaylistCleanupIntervalMS != nil {
		c.TempPlaylistCleanupIntervalMS = *o.TempPlaylistCleanupIntervalMS
	}
	if o.LogEventBus != nil {
		c.LogEventBus = *o.LogEventBus
	}
	if o.LogEventHandlerSlowMS != nil {
		c.LogEventHandlerSlowMS = *o.LogEventHandlerSlowMS
	}
	if o.SchedulerConcurrencyLLM != nil {
		c.SchedulerConcurrencyLLM = *o.SchedulerConcurrencyLLM
	}
	if o.SchedulerConcurrencyImage != nil {
		c.SchedulerConcurrencyImage = *o.SchedulerConcurrencyImage
	}
	if o.SchedulerConcurrencyAudio != nil {
		c.SchedulerConcurrencyAudio = *o.SchedulerConcurrencyAudio
	}
	if o.PollIntervalSeconds != nil {
		c.PollIntervalSeconds = *o.PollIntervalSeconds
	}
	if o.MaxPollAttempts != nil {
		c.MaxPollAttempts = *o.MaxPollAttempts
	}
}

func (c AppConfig) RequestLogSlowDuration() time.Duration {
	return time.Duration(c.RequestLogSlowMS) * time.Millisecond
}

func (c AppConfig) RequestLogSummaryInterval() time.Duration {
	return time.Duration(c.RequestLogSummaryIntervalMS) * time.Millisecond
}

func (c AppConfig) TempPlaylistCleanupInterval() time.Duration {
	return time.Duration(c.TempPlaylistCleanupIntervalMS) * time.Millisecond
}

func (c AppConfig) LogEventHandlerSlowDuration() time.Duration {
	return time.Duration(c.LogEventHandlerSlowMS) * time.Millisecond
}

func (c AppConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
