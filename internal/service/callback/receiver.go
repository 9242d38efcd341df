// Package callback stores recognition results delivered by the provider's
// webhook.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"transcript-pipeline-service/internal/events"
	"transcript-pipeline-service/internal/models"
	"transcript-pipeline-service/internal/observability/logging"
	"transcript-pipeline-service/internal/observability/metrics"
	"transcript-pipeline-service/internal/service/job"
	"transcript-pipeline-service/internal/storage"
)

// ErrInvalidPayload is returned for delivery bodies that are not valid JSON.
var ErrInvalidPayload = errors.New("callback payload is not valid JSON")

// Publisher publishes job lifecycle events.
type Publisher interface {
	PublishJob(ctx context.Context, jobID, eventType string, event any) error
}

// Receiver handles provider callbacks. A job is awaiting until its result
// has been stored; later deliveries overwrite the same dated key.
type Receiver struct {
	store     storage.Store
	publisher Publisher
	ledger    job.Ledger
	now       func() time.Time
	metrics   *metrics.Metrics
}

// NewReceiver creates a callback receiver.
func NewReceiver(store storage.Store, publisher Publisher) *Receiver {
	return NewReceiverWithClock(store, publisher, time.Now)
}

// NewReceiverWithClock creates a callback receiver whose result date prefix
// is taken from now.
func NewReceiverWithClock(store storage.Store, publisher Publisher, now func() time.Time) *Receiver {
	return &Receiver{
		store:     store,
		publisher: publisher,
		ledger:    job.NopLedger{},
		now:       now,
		metrics:   metrics.DefaultMetrics,
	}
}

// SetLedger records job state transitions.
func (r *Receiver) SetLedger(l job.Ledger) {
	r.ledger = l
}

// Verify answers the provider's callback verification. The challenge is
// echoed verbatim; no challenge yields an empty body.
func (r *Receiver) Verify(challenge string) string {
	r.metrics.RecordCallback("verify")
	return challenge
}

// Receive stores body verbatim as the raw result of jobID and returns its
// key. Only JSON syntax is checked; shape problems surface at normalization.
func (r *Receiver) Receive(ctx context.Context, jobID string, body []byte) (string, error) {
	if !json.Valid(body) {
		r.metrics.RecordCallback("invalid")
		return "", ErrInvalidPayload
	}

	key := storage.ResultKey(storage.DateStamp(r.now()), jobID)
	logger := logging.WithJob("callback", jobID, key)

	if err := r.store.Put(ctx, key, body, "application/json"); err != nil {
		r.metrics.RecordCallback("store_failed")
		logger.Error().Err(err).Msg("Failed to store recognition result")
		return "", fmt.Errorf("store result %s: %w", key, err)
	}

	r.metrics.RecordCallback("stored")
	logger.Info().Int("bytes", len(body)).Msg("Recognition result stored")

	job.Track(ctx, r.ledger, job.Update{
		JobID:     jobID,
		Status:    job.StateReceived,
		ResultKey: key,
	})

	ev := models.ResultReceived{
		EventID:   events.NewEventID(),
		EventType: models.EventResultReceived,
		JobID:     jobID,
		ResultKey: key,
		Bytes:     len(body),
		Timestamp: r.now().UnixMilli(),
	}
	if err := r.publisher.PublishJob(ctx, jobID, ev.EventType, ev); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish result received event")
	}

	return key, nil
}
