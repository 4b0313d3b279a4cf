package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogLevelFiltering(t *testing.T) {
	originalLogger := Logger
	t.Cleanup(func() {
		Logger = originalLogger
		SetLogLevel(INFO)
	})

	var buf bytes.Buffer
	Logger = slog.New(slog.NewTextHandler(&buf, nil))

	SetLogLevel(INFO)
	Debug("debug message should be filtered")
	Info("info message should appear")

	output := buf.String()
	if strings.Contains(output, "debug message should be filtered") {
		t.Fatalf("debug message was logged at INFO level:\n%s", output)
	}
	if !strings.Contains(output, "info message should appear") {
		t.Fatalf("info message was not logged:\n%s", output)
	}

	buf.Reset()
	SetLogLevel(ERROR)
	Warn("warn message should be filtered")
	Error("error message should appear")
	output = buf.String()
	if strings.Contains(output, "warn message should be filtered") {
		t.Fatalf("warn message was logged at ERROR level:\n%s", output)
	}
	if !strings.Contains(output, "error message should appear") {
		t.Fatalf("error message was not logged:\n%s", output)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{" INFO ", INFO, false},
		{"warning", WARN, false},
		{"error", ERROR, false},
		{"loud", INFO, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestConfigureJSONToFile(t *testing.T) {
	originalLogger := Logger
	t.Cleanup(func() {
		Logger = originalLogger
		SetLogLevel(INFO)
	})

	path := filepath.Join(t.TempDir(), "logs", "flashdeck.log")
	if err := Configure(Options{Level: "debug", File: path, Format: "json"}); err != nil {
		t.Fatalf("Configure returned error: %v", err)
	}
	Debug("json line", "deck_id", 7)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("expected a JSON record, got %q: %v", data, err)
	}
	if record["msg"] != "json line" {
		t.Fatalf("unexpected msg: %+v", record)
	}
	if record["deck_id"] != float64(7) {
		t.Fatalf("unexpected deck_id: %+v", record)
	}
}

func TestConfigureInvalidOptionsKeepsLogger(t *testing.T) {
	originalLogger := Logger
	t.Cleanup(func() {
		Logger = originalLogger
		SetLogLevel(INFO)
	})

	err := Configure(Options{Level: "nope", Format: "xml"})
	if err == nil {
		t.Fatal("expected an error for invalid level and format")
	}
	if Logger == nil {
		t.Fatal("expected a usable logger after invalid options")
	}
	if !Enabled(INFO) || Enabled(DEBUG) {
		t.Fatalf("expected INFO fallback level")
	}
}
