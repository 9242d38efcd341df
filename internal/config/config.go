// Package config loads service configuration from the environment, optional
// .env files and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	Storage       StorageConfig       `yaml:"storage"`
	STT           STTConfig           `yaml:"stt"`
	Limits        LimitsConfig        `yaml:"limits"`
	Auth          AuthConfig          `yaml:"auth"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Principal   string `yaml:"principal"`
	Environment string `yaml:"environment"`
	HTTPPort    string `yaml:"httpPort"`
	GRPCPort    string `yaml:"grpcPort"`
	MetricsAddr string `yaml:"metricsAddr"`
	// PublicBaseURL is the externally reachable origin providers call back to.
	PublicBaseURL string `yaml:"publicBaseURL"`
}

type StorageConfig struct {
	Driver          string        `yaml:"driver"` // memory, s3
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"accessKeyId"`
	SecretAccessKey string        `yaml:"secretAccessKey"`
	SessionToken    string        `yaml:"sessionToken"`
	UsePathStyle    bool          `yaml:"usePathStyle"`
	PresignTTL      time.Duration `yaml:"presignTTL"`
}

type STTConfig struct {
	Provider      string `yaml:"provider"` // watson, google, mock
	URL           string `yaml:"url"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Model         string `yaml:"model"`
	LanguageCode  string `yaml:"languageCode"`
	SampleRateHz  int    `yaml:"sampleRateHz"`
	AudioEncoding string `yaml:"audioEncoding"`
	Transcode     bool   `yaml:"transcode"`
	FFmpegPath    string `yaml:"ffmpegPath"`
}

// LimitsConfig bounds a single ingestion.
type LimitsConfig struct {
	MaxAudioBytes int64         `yaml:"maxAudioBytes"`
	SubmitTimeout time.Duration `yaml:"submitTimeout"`
}

type AuthConfig struct {
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	SessionSecret string        `yaml:"sessionSecret"`
	SessionTTL    time.Duration `yaml:"sessionTTL"`
	// EventsToken, when set, is required as a bearer token on storage notifications.
	EventsToken string `yaml:"eventsToken"`
}

type KafkaConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Brokers          []string `yaml:"brokers"`
	TopicJobs        string   `yaml:"topicJobs"`
	TopicTranscripts string   `yaml:"topicTranscripts"`
	StorageTopic     string   `yaml:"storageTopic"`
	GroupID          string   `yaml:"groupId"`
	Principal        string   `yaml:"principal"`
}

type LedgerConfig struct {
	Driver string `yaml:"driver"` // none, memory, sqlite
	DSN    string `yaml:"dsn"`
}

type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal:     "svc-transcript-pipeline",
			Environment:   "prod",
			HTTPPort:      "8080",
			GRPCPort:      "50051",
			MetricsAddr:   ":9090",
			PublicBaseURL: "http://localhost:8080",
		},
		Storage: StorageConfig{
			Driver:     "memory",
			Bucket:     "transcripts",
			Region:     "us-east-1",
			PresignTTL: time.Hour,
		},
		STT: STTConfig{
			Provider:     "mock",
			URL:          "https://stream.watsonplatform.net/speech-to-text/api/v1/",
			Model:        "en-US_NarrowbandModel",
			LanguageCode: "en-US",
			SampleRateHz: 8000,
			Transcode:    true,
			FFmpegPath:   "ffmpeg",
		},
		Limits: LimitsConfig{
			MaxAudioBytes: 100 * 1024 * 1024,
			SubmitTimeout: 300 * time.Second,
		},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Brokers:          []string{"localhost:9092"},
			TopicJobs:        "transcript.jobs",
			TopicTranscripts: "transcript.transcripts",
			StorageTopic:     "storage.notifications",
			GroupID:          "transcript-pipeline",
		},
		Ledger: LedgerConfig{
			Driver: "memory",
			DSN:    "file:jobs.db",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// LoadEnvFiles loads KEY=value files into the environment without overriding
// variables that are already set. Missing files are skipped.
func LoadEnvFiles() []string {
	files := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil {
		files = append(files, filepath.Join(home, ".transcript-pipeline.env"))
	}
	if f := os.Getenv("TRANSCRIPT_ENV_FILE"); f != "" {
		files = append(files, f)
	}

	var loaded []string
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	return loaded
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the file
// keep their current values.
func LoadFile(cfg *Configuration, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration: defaults, then CONFIG_FILE when set, then
// environment variables. An unreadable CONFIG_FILE is returned as an error
// alongside the configuration built without it.
func Load() (*Configuration, error) {
	cfg := Defaults()

	var fileErr error
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileErr = LoadFile(cfg, path)
	}

	applyEnv(cfg)
	return cfg, fileErr
}

func applyEnv(c *Configuration) {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.Environment = envOrDefault("ENV", c.Service.Environment)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)
	c.Service.MetricsAddr = envOrDefault("METRICS_ADDR", c.Service.MetricsAddr)
	c.Service.PublicBaseURL = strings.TrimSuffix(envOrDefault("PUBLIC_BASE_URL", c.Service.PublicBaseURL), "/")

	c.Storage.Driver = envOrDefault("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Bucket = envOrDefault("S3_BUCKET", c.Storage.Bucket)
	c.Storage.Region = envOrDefault("AWS_REGION", c.Storage.Region)
	c.Storage.Endpoint = envOrDefault("S3_ENDPOINT", c.Storage.Endpoint)
	c.Storage.AccessKeyID = envOrDefault("AWS_ACCESS_KEY_ID", c.Storage.AccessKeyID)
	c.Storage.SecretAccessKey = envOrDefault("AWS_SECRET_ACCESS_KEY", c.Storage.SecretAccessKey)
	c.Storage.SessionToken = envOrDefault("AWS_SESSION_TOKEN", c.Storage.SessionToken)
	c.Storage.UsePathStyle = envOrDefaultBool("S3_USE_PATH_STYLE", c.Storage.UsePathStyle)
	c.Storage.PresignTTL = envOrDefaultDuration("PRESIGN_TTL", c.Storage.PresignTTL)

	c.STT.Provider = envOrDefault("STT_PROVIDER", c.STT.Provider)
	c.STT.URL = envOrDefault("STT_URL", c.STT.URL)
	c.STT.Username = envOrDefault("IBM_WATSON_USERNAME", c.STT.Username)
	c.STT.Password = envOrDefault("IBM_WATSON_PASSWORD", c.STT.Password)
	c.STT.Model = envOrDefault("STT_MODEL", c.STT.Model)
	c.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", c.STT.LanguageCode)
	c.STT.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", c.STT.SampleRateHz)
	c.STT.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", c.STT.AudioEncoding)
	c.STT.Transcode = envOrDefaultBool("STT_TRANSCODE", c.STT.Transcode)
	c.STT.FFmpegPath = envOrDefault("FFMPEG_PATH", c.STT.FFmpegPath)

	c.Limits.MaxAudioBytes = envOrDefaultInt64("MAX_AUDIO_BYTES", c.Limits.MaxAudioBytes)
	c.Limits.SubmitTimeout = envOrDefaultDuration("SUBMIT_TIMEOUT", c.Limits.SubmitTimeout)

	c.Auth.Username = envOrDefault("HTTP_USER", c.Auth.Username)
	c.Auth.Password = envOrDefault("HTTP_PASS", c.Auth.Password)
	c.Auth.SessionSecret = envOrDefault("SECRET_KEY", c.Auth.SessionSecret)
	c.Auth.SessionTTL = envOrDefaultDuration("SESSION_TTL", c.Auth.SessionTTL)
	c.Auth.EventsToken = envOrDefault("EVENTS_TOKEN", c.Auth.EventsToken)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.TopicJobs = envOrDefault("KAFKA_TOPIC_JOBS", c.Kafka.TopicJobs)
	c.Kafka.TopicTranscripts = envOrDefault("KAFKA_TOPIC_TRANSCRIPTS", c.Kafka.TopicTranscripts)
	c.Kafka.StorageTopic = envOrDefault("KAFKA_STORAGE_TOPIC", c.Kafka.StorageTopic)
	c.Kafka.GroupID = envOrDefault("KAFKA_GROUP_ID", c.Kafka.GroupID)
	// Kafka principal falls back to the service principal.
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Ledger.Driver = envOrDefault("LEDGER_DRIVER", c.Ledger.Driver)
	c.Ledger.DSN = envOrDefault("LEDGER_DSN", c.Ledger.DSN)

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
