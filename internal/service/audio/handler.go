// Package audio submits uploaded recordings for recognition.
package audio

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"transcript-pipeline-service/internal/events"
	"transcript-pipeline-service/internal/models"
	"transcript-pipeline-service/internal/observability/logging"
	"transcript-pipeline-service/internal/observability/metrics"
	"transcript-pipeline-service/internal/service/job"
	"transcript-pipeline-service/internal/service/stt"
	"transcript-pipeline-service/internal/storage"
	"transcript-pipeline-service/internal/transcode"
)

// ErrAudioTooLarge is returned when a recording exceeds MaxAudioBytes.
var ErrAudioTooLarge = errors.New("audio exceeds size limit")

// contentTypes maps supported extensions to their raw upload MIME type.
var contentTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mp3",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
}

// IsAudioKey reports whether key has a supported audio extension.
func IsAudioKey(key string) bool {
	_, ok := contentTypes[strings.ToLower(path.Ext(key))]
	return ok
}

// ContentTypeFor returns the MIME type raw audio under key is submitted with.
func ContentTypeFor(key string) string {
	return contentTypes[strings.ToLower(path.Ext(key))]
}

// Limits bounds the work done for one recording.
type Limits struct {
	MaxAudioBytes int64         // Max recording size fetched from storage
	SubmitTimeout time.Duration // Max time for the submission call
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 100 * 1024 * 1024, // provider request size cap
		SubmitTimeout: 300 * time.Second,
	}
}

// Publisher publishes job lifecycle events.
type Publisher interface {
	PublishJob(ctx context.Context, jobID, eventType string, event any) error
}

// Handler turns a stored recording into a submitted recognition job.
type Handler struct {
	store         storage.Store
	provider      stt.Provider
	publisher     Publisher
	transcoder    transcode.Transcoder
	ledger        job.Ledger
	publicBaseURL string
	limits        Limits
	metrics       *metrics.Metrics
}

// NewHandler creates a new ingestion handler. Results are delivered to
// callback URLs below publicBaseURL.
func NewHandler(store storage.Store, provider stt.Provider, publisher Publisher, publicBaseURL string) *Handler {
	return NewHandlerWithLimits(store, provider, publisher, publicBaseURL, DefaultLimits())
}

// NewHandlerWithLimits creates a new ingestion handler with custom limits.
func NewHandlerWithLimits(store storage.Store, provider stt.Provider, publisher Publisher, publicBaseURL string, limits Limits) *Handler {
	return &Handler{
		store:         store,
		provider:      provider,
		publisher:     publisher,
		ledger:        job.NopLedger{},
		publicBaseURL: publicBaseURL,
		limits:        limits,
		metrics:       metrics.DefaultMetrics,
	}
}

// SetTranscoder converts audio before submission. Nil submits raw bytes.
func (h *Handler) SetTranscoder(t transcode.Transcoder) {
	h.transcoder = t
}

// SetLedger records job state transitions.
func (h *Handler) SetLedger(l job.Ledger) {
	h.ledger = l
}

// Handle registers the callback for key's job and submits the recording.
// Keys without a supported audio extension are ignored and return a nil job.
// No retries are made: a failed submission is logged and returned.
func (h *Handler) Handle(ctx context.Context, key string) (*stt.Job, error) {
	if !IsAudioKey(key) {
		h.metrics.RecordIngestion("ignored")
		logger := logging.WithComponent("audio")
		logger.Debug().Str("key", key).Msg("Ignoring non-audio key")
		return nil, nil
	}

	jobID := job.ID(key)
	callbackURL := job.CallbackURL(h.publicBaseURL, jobID)
	logger := logging.WithJob("audio", jobID, key)

	if err := h.provider.RegisterCallback(ctx, callbackURL); err != nil {
		logger.Warn().
			Err(err).
			Str("callbackUrl", callbackURL).
			Msg("Failure registering callback, submitting anyway")
	}

	audio, err := h.store.Get(ctx, key)
	if err != nil {
		return nil, h.fail(ctx, jobID, key, "fetch_failed", fmt.Errorf("fetch %s: %w", key, err))
	}
	if h.limits.MaxAudioBytes > 0 && int64(len(audio)) > h.limits.MaxAudioBytes {
		err := fmt.Errorf("%w: %d > %d bytes", ErrAudioTooLarge, len(audio), h.limits.MaxAudioBytes)
		return nil, h.fail(ctx, jobID, key, "too_large", err)
	}

	sum := blake3.Sum256(audio)
	audioHash := hex.EncodeToString(sum[:])

	contentType := ContentTypeFor(key)
	if h.transcoder != nil {
		if audio, err = h.transcoder.Transcode(ctx, audio); err != nil {
			return nil, h.fail(ctx, jobID, key, "transcode_failed", fmt.Errorf("transcode %s: %w", key, err))
		}
		contentType = h.transcoder.ContentType()
	}

	submitCtx := ctx
	if h.limits.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, h.limits.SubmitTimeout)
		defer cancel()
	}

	j, err := h.provider.Submit(submitCtx, stt.SubmitRequest{
		JobID:       jobID,
		CallbackURL: callbackURL,
		ContentType: contentType,
		Audio:       audio,
	})
	if err != nil {
		return nil, h.fail(ctx, jobID, key, "submit_failed", err)
	}

	h.metrics.RecordIngestion("submitted")
	h.metrics.RecordAudioSubmitted(len(audio))
	logger.Info().
		Str("provider", h.provider.Name()).
		Str("providerJobId", j.ID).
		Str("status", j.Status).
		Str("contentType", contentType).
		Int("audioBytes", len(audio)).
		Msg("Job created")

	job.Track(ctx, h.ledger, job.Update{
		JobID:         jobID,
		Status:        job.StateSubmitted,
		AudioKey:      key,
		ProviderJobID: j.ID,
		AudioHash:     audioHash,
	})

	ev := models.JobSubmitted{
		EventID:       events.NewEventID(),
		EventType:     models.EventJobSubmitted,
		JobID:         jobID,
		AudioKey:      key,
		AudioHash:     audioHash,
		AudioBytes:    len(audio),
		ContentType:   contentType,
		Provider:      h.provider.Name(),
		ProviderJobID: j.ID,
		CallbackURL:   callbackURL,
		Timestamp:     time.Now().UnixMilli(),
	}
	if err := h.publisher.PublishJob(ctx, jobID, ev.EventType, ev); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish job submitted event")
	}

	return j, nil
}

func (h *Handler) fail(ctx context.Context, jobID, key, outcome string, err error) error {
	h.metrics.RecordIngestion(outcome)
	logger := logging.WithJob("audio", jobID, key)
	logger.Error().Err(err).Str("outcome", outcome).Msg("Job creation failed")
	job.Track(ctx, h.ledger, job.Update{
		JobID:    jobID,
		Status:   job.StateFailed,
		AudioKey: key,
		Error:    err.Error(),
	})
	return err
}
