package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestConfigure_JSONWithLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "warn", Format: "json"}, &buf)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Info().Msg("hidden")
	log.Warn().Str("jobId", "a.wav").Msg("shown")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected exactly one log line, got %d: %s", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["message"] != "shown" || entry["jobId"] != "a.wav" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestConfigure_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "loud"}, &buf)

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("expected info level, got %s", zerolog.GlobalLevel())
	}
}

func TestWithJob_AddsContext(t *testing.T) {
	var buf bytes.Buffer
	Configure(DefaultConfig(), &buf)

	l := WithJob("ingest", "a.wav", "20240101/recordings/a.wav")
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["component"] != "ingest" || entry["key"] != "20240101/recordings/a.wav" {
		t.Errorf("unexpected entry: %v", entry)
	}
}
