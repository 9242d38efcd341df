// Package trigger routes storage change notifications to the pipeline stage
// responsible for the changed key.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"transcript-pipeline-service/internal/models"
	"transcript-pipeline-service/internal/observability/logging"
	"transcript-pipeline-service/internal/observability/metrics"
	"transcript-pipeline-service/internal/service/audio"
	"transcript-pipeline-service/internal/service/stt"
	"transcript-pipeline-service/internal/storage"
)

// ErrInvalidNotification is returned for bodies that are not bucket
// notifications.
var ErrInvalidNotification = errors.New("invalid storage notification")

// Action is what the pipeline does with a changed key.
type Action int

const (
	ActionIgnore Action = iota
	ActionIngest
	ActionNormalize
)

func (a Action) String() string {
	switch a {
	case ActionIngest:
		return "ingest"
	case ActionNormalize:
		return "normalize"
	default:
		return "ignore"
	}
}

// Classify maps a key to its action. Audio is submitted for recognition, raw
// results are normalized, and everything else (clean tables included) is
// ignored.
func Classify(key string) Action {
	switch {
	case audio.IsAudioKey(key):
		return ActionIngest
	case storage.IsResultKey(key):
		return ActionNormalize
	default:
		return ActionIgnore
	}
}

// Ingester submits a stored recording for recognition.
type Ingester interface {
	Handle(ctx context.Context, key string) (*stt.Job, error)
}

// Normalizer writes the clean table of a stored raw result.
type Normalizer interface {
	Normalize(ctx context.Context, resultKey string) (string, error)
}

// Router dispatches changed keys.
type Router struct {
	ingester   Ingester
	normalizer Normalizer
	metrics    *metrics.Metrics
}

// NewRouter creates a router.
func NewRouter(ingester Ingester, normalizer Normalizer) *Router {
	return &Router{ingester: ingester, normalizer: normalizer, metrics: metrics.DefaultMetrics}
}

// Route runs the stage responsible for key and reports which one it was.
func (r *Router) Route(ctx context.Context, key string) (Action, error) {
	action := Classify(key)
	r.metrics.RecordStorageEvent(action.String())
	logger := logging.WithComponent("trigger")
	logger.Debug().Str("key", key).Str("action", action.String()).Msg("Routing storage event")

	var err error
	switch action {
	case ActionIngest:
		_, err = r.ingester.Handle(ctx, key)
	case ActionNormalize:
		_, err = r.normalizer.Normalize(ctx, key)
	}
	return action, err
}

// ParseNotification extracts the object keys of a bucket notification.
// Keys arrive URL-encoded and are returned decoded.
func ParseNotification(body []byte) ([]string, error) {
	var n models.StorageNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNotification, err)
	}

	keys := make([]string, 0, len(n.Records))
	for i, rec := range n.Records {
		raw := rec.S3.Object.Key
		if raw == "" {
			return nil, fmt.Errorf("%w: record %d has no object key", ErrInvalidNotification, i)
		}
		key, err := url.QueryUnescape(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d key %q: %w", ErrInvalidNotification, i, raw, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// HandleNotification routes every record of a bucket notification. A failing
// record does not stop the others; all failures are returned joined.
func (r *Router) HandleNotification(ctx context.Context, body []byte) error {
	keys, err := ParseNotification(body)
	if err != nil {
		return err
	}

	var errs []error
	for _, key := range keys {
		if _, err := r.Route(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
