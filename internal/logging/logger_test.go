// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"DISABLED", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: true, Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("component", "test").Msg("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "hello" {
		t.Errorf("message = %v, want hello", entry["message"])
	}
	if entry["component"] != "test" {
		t.Errorf("component = %v, want test", entry["component"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("timestamp field missing")
	}
}

func TestCtxCarriesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	ctx := ContextWithCorrelationID(context.Background(), "abc12345")
	Ctx(ctx).Info().Msg("scoped")

	if !strings.Contains(buf.String(), `"correlation_id":"abc12345"`) {
		t.Errorf("correlation_id not propagated: %q", buf.String())
	}
}

func TestCtxWithoutIDs(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Ctx(context.Background()).Info().Msg("plain")

	if strings.Contains(buf.String(), "correlation_id") {
		t.Errorf("unexpected correlation_id in output: %q", buf.String())
	}
}

func TestLevelWrappersWriteThrough(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "trace", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Trace().Msg("trace line")
	Debug().Msg("debug line")
	Info().Msg("info line")
	Warn().Msg("warn line")
	Error().Msg("error line")

	out := buf.String()
	for _, want := range []string{
		`"level":"trace"`,
		`"level":"debug"`,
		`"level":"info"`,
		`"level":"warn"`,
		`"level":"error"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %q", want, out)
		}
	}
}

func TestContextWithNewCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	ctx := ContextWithNewCorrelationID(context.Background())
	id := CorrelationIDFromContext(ctx)
	if len(id) != 8 {
		t.Fatalf("correlation ID length = %d, want 8", len(id))
	}

	other := ContextWithNewCorrelationID(context.Background())
	if CorrelationIDFromContext(other) == id {
		t.Error("each context should get its own correlation ID")
	}

	Ctx(ctx).Info().Msg("scoped")
	if !strings.Contains(buf.String(), `"correlation_id":"`+id+`"`) {
		t.Errorf("correlation_id not propagated: %q", buf.String())
	}
}

func TestGenerateCorrelationID(t *testing.T) {
	id := GenerateCorrelationID()
	if len(id) != 8 {
		t.Errorf("correlation ID length = %d, want 8", len(id))
	}
	if id == GenerateCorrelationID() {
		t.Error("correlation IDs should be unique")
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	slogger := NewSlogLogger()
	slogger.Info("supervisor event", "service", "hot-post-refresher", "restarts", 2)

	out := buf.String()
	if !strings.Contains(out, "supervisor event") {
		t.Errorf("message missing from output: %q", out)
	}
	if !strings.Contains(out, `"service":"hot-post-refresher"`) {
		t.Errorf("string attr missing from output: %q", out)
	}
	if !strings.Contains(out, `"restarts":2`) {
		t.Errorf("int attr missing from output: %q", out)
	}
}
