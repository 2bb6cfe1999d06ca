package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.WithComponent("tailer").Info().Str("path", "/var/log/access.log").Msg("Tailing")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", buf.String(), err)
	}

	if entry["component"] != "tailer" {
		t.Errorf("component = %v, want tailer", entry["component"])
	}
	if entry["path"] != "/var/log/access.log" {
		t.Errorf("path = %v, want /var/log/access.log", entry["path"])
	}
	if entry["message"] != "Tailing" {
		t.Errorf("message = %v, want Tailing", entry["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "json", Output: &buf})

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn message missing: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithSource(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Format: "json", Output: &buf}).
		WithComponent("tailer").
		WithSource("/var/log/nginx/access.log")

	logger.Debug().Msg("Rotation detected")

	out := buf.String()
	if !strings.Contains(out, `"source":"/var/log/nginx/access.log"`) {
		t.Errorf("expected source field in %s", out)
	}
	if !strings.Contains(out, `"component":"tailer"`) {
		t.Errorf("expected component field in %s", out)
	}
}

func TestNop(t *testing.T) {
	// Must not panic or write anywhere
	Nop().WithSource("a.log").Error().Msg("dropped")
}
