// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestConfigure_WritesJSONWithServiceFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "jukebox", Version: "test-1"})

	L().Info().Str("event", "unit_test").Msg("hello")

	var raw map[string]any
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("expected valid JSON line, got error: %v (line=%q)", err, buf.String())
	}
	if raw["service"] != "jukebox" {
		t.Errorf("expected service=jukebox, got %v", raw["service"])
	}
	if raw["version"] != "test-1" {
		t.Errorf("expected version=test-1, got %v", raw["version"])
	}
	if raw["event"] != "unit_test" {
		t.Errorf("expected event=unit_test, got %v", raw["event"])
	}
}

func TestSetLevel_UpdatesGlobalLevelAndAudits(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "info", Output: &buf, Service: "jukebox"})

	if err := SetLevel(context.Background(), "operator", []string{"admin"}, "not-a-level"); err == nil {
		t.Fatal("expected error for invalid level")
	}

	buf.Reset()
	if err := SetLevel(context.Background(), "operator", []string{"admin"}, "debug"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"event":"log.level_changed"`) {
		t.Errorf("expected audit trail entry for level change, got %q", buf.String())
	}
	L().Debug().Msg("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("expected debug level to be active after SetLevel")
	}
}

func TestAuditInfo_BypassesLevelGate(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "error", Output: &buf, Service: "jukebox"})

	AuditInfo(context.Background(), "room.device_joined", "device joined room", map[string]any{"room_id": "r1"})

	var raw map[string]any
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("expected audit entry even at error level, got error: %v", err)
	}
	if raw["audit_severity"] != "info" {
		t.Errorf("expected audit_severity=info, got %v", raw["audit_severity"])
	}
	if raw["room_id"] != "r1" {
		t.Errorf("expected room_id field to be attached, got %v", raw["room_id"])
	}
}

func TestWithComponent_AnnotatesLogger(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "info", Output: &buf, Service: "jukebox"})

	WithComponent("scheduler").Info().Msg("queued")

	if !strings.Contains(buf.String(), `"component":"scheduler"`) {
		t.Errorf("expected component field, got %q", buf.String())
	}
}
