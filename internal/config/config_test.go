package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"CONFIG_FILE", "SERVICE_PRINCIPAL", "ENV", "HTTP_PORT", "GRPC_PORT", "METRICS_ADDR", "PUBLIC_BASE_URL",
		"STORAGE_DRIVER", "S3_BUCKET", "AWS_REGION", "S3_ENDPOINT", "AWS_ACCESS_KEY_ID",
		"AWS_SECRET_ACCESS_KEY", "AWS_SESSION_TOKEN", "S3_USE_PATH_STYLE", "PRESIGN_TTL",
		"STT_PROVIDER", "STT_URL", "IBM_WATSON_USERNAME", "IBM_WATSON_PASSWORD", "STT_MODEL",
		"STT_LANGUAGE_CODE", "STT_SAMPLE_RATE_HZ", "STT_AUDIO_ENCODING", "STT_TRANSCODE", "FFMPEG_PATH",
		"MAX_AUDIO_BYTES", "SUBMIT_TIMEOUT",
		"HTTP_USER", "HTTP_PASS", "SECRET_KEY", "SESSION_TTL", "EVENTS_TOKEN",
		"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC_JOBS", "KAFKA_TOPIC_TRANSCRIPTS",
		"KAFKA_STORAGE_TOPIC", "KAFKA_GROUP_ID", "KAFKA_PRINCIPAL",
		"LEDGER_DRIVER", "LEDGER_DSN", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(v, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Service defaults
	if cfg.Service.Principal != "svc-transcript-pipeline" {
		t.Errorf("expected default principal 'svc-transcript-pipeline', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected default http port '8080', got %s", cfg.Service.HTTPPort)
	}
	if cfg.Service.GRPCPort != "50051" {
		t.Errorf("expected default grpc port '50051', got %s", cfg.Service.GRPCPort)
	}

	// STT defaults
	if cfg.STT.Provider != "mock" {
		t.Errorf("expected default STT provider 'mock', got %s", cfg.STT.Provider)
	}
	if cfg.STT.Model != "en-US_NarrowbandModel" {
		t.Errorf("expected default model 'en-US_NarrowbandModel', got %s", cfg.STT.Model)
	}
	if !cfg.STT.Transcode {
		t.Error("expected transcoding on by default")
	}

	// Limits defaults
	if cfg.Limits.MaxAudioBytes != 100*1024*1024 {
		t.Errorf("expected default max audio bytes 100MB, got %d", cfg.Limits.MaxAudioBytes)
	}
	if cfg.Limits.SubmitTimeout != 300*time.Second {
		t.Errorf("expected default submit timeout 300s, got %v", cfg.Limits.SubmitTimeout)
	}

	if cfg.Storage.Driver != "memory" {
		t.Errorf("expected default storage driver 'memory', got %s", cfg.Storage.Driver)
	}
	if cfg.Storage.PresignTTL != time.Hour {
		t.Errorf("expected default presign TTL 1h, got %v", cfg.Storage.PresignTTL)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	t.Setenv("PUBLIC_BASE_URL", "https://transcripts.example.com/")
	t.Setenv("STT_PROVIDER", "watson")
	t.Setenv("IBM_WATSON_USERNAME", "apikey")
	t.Setenv("STT_SAMPLE_RATE_HZ", "16000")
	t.Setenv("STT_TRANSCODE", "false")
	t.Setenv("MAX_AUDIO_BYTES", "10485760")
	t.Setenv("SUBMIT_TIMEOUT", "10m")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.PublicBaseURL != "https://transcripts.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Service.PublicBaseURL)
	}
	if cfg.STT.Provider != "watson" {
		t.Errorf("expected STT provider 'watson', got %s", cfg.STT.Provider)
	}
	if cfg.STT.Username != "apikey" {
		t.Errorf("expected username 'apikey', got %s", cfg.STT.Username)
	}
	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected sample rate 16000, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.Transcode {
		t.Error("expected transcoding off")
	}
	if cfg.Limits.MaxAudioBytes != 10485760 {
		t.Errorf("expected max audio bytes 10485760, got %d", cfg.Limits.MaxAudioBytes)
	}
	if cfg.Limits.SubmitTimeout != 10*time.Minute {
		t.Errorf("expected submit timeout 10m, got %v", cfg.Limits.SubmitTimeout)
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected Kafka enabled")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "k1:9092" || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	t.Setenv("STT_TRANSCODE", "invalid")
	t.Setenv("MAX_AUDIO_BYTES", "invalid")
	t.Setenv("SUBMIT_TIMEOUT", "invalid")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Should fall back to defaults on parse errors
	if cfg.STT.SampleRateHz != 8000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.STT.SampleRateHz)
	}
	if !cfg.STT.Transcode {
		t.Errorf("expected default transcode on invalid input, got %v", cfg.STT.Transcode)
	}
	if cfg.Limits.MaxAudioBytes != 100*1024*1024 {
		t.Errorf("expected default max audio bytes on invalid input, got %d", cfg.Limits.MaxAudioBytes)
	}
	if cfg.Limits.SubmitTimeout != 300*time.Second {
		t.Errorf("expected default submit timeout on invalid input, got %v", cfg.Limits.SubmitTimeout)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_PRINCIPAL", "my-service")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	yml := `
storage:
  driver: s3
  bucket: from-file
  presignTTL: 15m
stt:
  provider: google
kafka:
  brokers: [a:9092, b:9092]
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("S3_BUCKET", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Driver != "s3" {
		t.Errorf("expected driver from file, got %s", cfg.Storage.Driver)
	}
	if cfg.Storage.Bucket != "from-env" {
		t.Errorf("expected environment to override file, got %s", cfg.Storage.Bucket)
	}
	if cfg.Storage.PresignTTL != 15*time.Minute {
		t.Errorf("expected presign TTL 15m from file, got %v", cfg.Storage.PresignTTL)
	}
	if cfg.STT.Provider != "google" {
		t.Errorf("expected provider from file, got %s", cfg.STT.Provider)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("expected brokers from file, got %v", cfg.Kafka.Brokers)
	}
	// Untouched sections keep their defaults.
	if cfg.Limits.SubmitTimeout != 300*time.Second {
		t.Errorf("expected default submit timeout, got %v", cfg.Limits.SubmitTimeout)
	}
}

func TestLoad_MissingFileIsReported(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
	if cfg == nil || cfg.Service.HTTPPort != "8080" {
		t.Error("expected defaults alongside the error")
	}
}

func TestLoadEnvFiles_DoesNotOverride(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "pipeline.env")
	if err := os.WriteFile(path, []byte("HTTP_USER=fromfile\nHTTP_PASS=secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRANSCRIPT_ENV_FILE", path)
	t.Setenv("HTTP_USER", "preset")
	// godotenv treats an empty but present variable as set.
	os.Unsetenv("HTTP_PASS")

	loaded := LoadEnvFiles()

	found := false
	for _, f := range loaded {
		if f == path {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s among loaded files %v", path, loaded)
	}
	if got := os.Getenv("HTTP_USER"); got != "preset" {
		t.Errorf("expected preset HTTP_USER to win, got %s", got)
	}
	if got := os.Getenv("HTTP_PASS"); got != "secret" {
		t.Errorf("expected HTTP_PASS from file, got %s", got)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			t.Setenv(key, tt.envValue)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

func TestEnvOrDefaultList(t *testing.T) {
	def := []string{"d"}
	tests := []struct {
		name     string
		envValue string
		expected []string
	}{
		{"empty", "", def},
		{"single", "a", []string{"a"}},
		{"trimmed", " a , b ", []string{"a", "b"}},
		{"only separators", ", ,", def},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_LIST_VAR", tt.envValue)

			got := envOrDefaultList("TEST_LIST_VAR", def)
			if len(got) != len(tt.expected) {
				t.Fatalf("got %v, want %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("got %v, want %v", got, tt.expected)
				}
			}
		})
	}
}
