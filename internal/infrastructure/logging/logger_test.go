package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/hearthlight/hearth-core/internal/infrastructure/config"
)

// ─── Helpers ───

// bufferLogger builds a Logger that writes into buf so tests can assert
// on the emitted records.
func bufferLogger(buf *bytes.Buffer, cfg config.LoggingConfig, version string) *Logger {
	return &Logger{Logger: slog.New(newHandler(cfg, version, buf))}
}

func decodeRecord(t *testing.T, line []byte) map[string]any {
	t.Helper()

	var record map[string]any
	if err := json.Unmarshal(line, &record); err != nil {
		t.Fatalf("parsing log record %q: %v", line, err)
	}
	return record
}

// ─── Tests ───

func TestNewHandler_StampsServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	log := bufferLogger(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "1.2.3")

	log.Info("engine started", "rules", 4)

	record := decodeRecord(t, buf.Bytes())
	if record["service"] != "hearth" {
		t.Errorf("service = %v, want hearth", record["service"])
	}
	if record["version"] != "1.2.3" {
		t.Errorf("version = %v, want 1.2.3", record["version"])
	}
	if record["msg"] != "engine started" {
		t.Errorf("msg = %v, want %q", record["msg"], "engine started")
	}
	if record["rules"] != float64(4) {
		t.Errorf("rules = %v, want 4", record["rules"])
	}
}

func TestNewHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := bufferLogger(&buf, config.LoggingConfig{Level: "warn", Format: "json"}, "dev")

	log.Debug("dropped")
	log.Info("dropped too")
	log.Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("emitted %d records, want 1: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "kept") {
		t.Errorf("surviving record = %q, want the warn record", lines[0])
	}
}

func TestNewHandler_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := bufferLogger(&buf, config.LoggingConfig{Level: "info", Format: "text"}, "dev")

	log.Info("hello")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") {
		t.Errorf("text output = %q, want key=value formatting", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("text output looks like JSON: %q", out)
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	log := bufferLogger(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "dev")

	log.Component("schedule").Info("rule scheduled", "rule_id", "r1")

	record := decodeRecord(t, buf.Bytes())
	if record["component"] != "schedule" {
		t.Errorf("component = %v, want schedule", record["component"])
	}
	if record["rule_id"] != "r1" {
		t.Errorf("rule_id = %v, want r1", record["rule_id"])
	}
}

func TestWith_ChildCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := bufferLogger(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "dev")

	child := log.With("device_id", "light-01")
	if child == log {
		t.Fatal("With() returned the parent logger")
	}
	child.Info("command sent")

	record := decodeRecord(t, buf.Bytes())
	if record["device_id"] != "light-01" {
		t.Errorf("device_id = %v, want light-01", record["device_id"])
	}
}

func TestWriterFor(t *testing.T) {
	if writerFor("stderr") != os.Stderr {
		t.Error(`writerFor("stderr") is not os.Stderr`)
	}
	if writerFor("stdout") != os.Stdout {
		t.Error(`writerFor("stdout") is not os.Stdout`)
	}
	if writerFor("") != os.Stdout {
		t.Error(`writerFor("") should default to os.Stdout`)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}
