// Package transcript derives clean transcript tables from raw recognition
// results and applies operator edits to those results.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"transcript-pipeline-service/internal/events"
	"transcript-pipeline-service/internal/models"
	"transcript-pipeline-service/internal/observability/logging"
	"transcript-pipeline-service/internal/observability/metrics"
	"transcript-pipeline-service/internal/schema"
	"transcript-pipeline-service/internal/service/job"
	"transcript-pipeline-service/internal/storage"
)

// Header is the first line of every clean transcript table.
const Header = "speaker,transcript,start_time,end_time"

const hesitation = "%HESITATION"

var (
	// ErrMalformedResult is returned when a raw result lacks a required field.
	ErrMalformedResult = schema.ErrMalformedResult
	// ErrEditCountMismatch is returned when an edit does not supply exactly
	// one replacement per utterance.
	ErrEditCountMismatch = errors.New("edit count does not match utterance count")
)

// Publisher publishes transcript events.
type Publisher interface {
	PublishTranscript(ctx context.Context, jobID, eventType string, event any) error
}

// Row is one utterance of a clean transcript.
type Row struct {
	Speaker    models.SpeakerID
	Transcript string
	Start      models.Seconds
	End        models.Seconds
}

// StripHesitation removes every hesitation marker. Surrounding whitespace
// is left as is.
func StripHesitation(s string) string {
	return strings.ReplaceAll(s, hesitation, "")
}

// Align attributes each utterance of doc to a speaker. The speaker of an
// utterance is the label at the rightmost insertion point of its start time
// among the speaker segment starts, taken in document order.
func Align(doc *models.RecognitionDocument) ([]Row, error) {
	v := schema.New()
	if err := v.Validate(doc); err != nil {
		return nil, err
	}
	if !v.SpeakersOrdered(doc) {
		logger := logging.WithComponent("transcript")
		logger.Warn().Msg("Speaker segment starts are not ordered")
	}

	group := doc.Results[0]
	labels := group.SpeakerLabels
	rows := make([]Row, 0, len(group.Results))
	for i, u := range group.Results {
		alt := u.Alternatives[0]
		start := alt.Timestamps[0].Start
		end := alt.Timestamps[len(alt.Timestamps)-1].End

		idx := sort.Search(len(labels), func(j int) bool {
			return labels[j].From.GreaterThan(start.Decimal)
		})
		if idx >= len(labels) {
			return nil, fmt.Errorf("%w: no speaker segment follows utterance %d at %s", ErrMalformedResult, i, start.Text())
		}

		rows = append(rows, Row{
			Speaker:    labels[idx].Speaker,
			Transcript: StripHesitation(alt.Transcript),
			Start:      start,
			End:        end,
		})
	}
	return rows, nil
}

// EncodeCSV renders rows under Header. Lines are joined by "\n" with no
// trailing newline, and fields are written without quoting.
func EncodeCSV(rows []Row) string {
	var b strings.Builder
	b.WriteString(Header)
	for _, r := range rows {
		b.WriteByte('\n')
		b.WriteString(string(r.Speaker))
		b.WriteByte(',')
		b.WriteString(r.Transcript)
		b.WriteByte(',')
		b.WriteString(r.Start.Text())
		b.WriteByte(',')
		b.WriteString(r.End.Text())
	}
	return b.String()
}

// Decode parses a stored raw result.
func Decode(body []byte) (*models.RecognitionDocument, error) {
	var doc models.RecognitionDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResult, err)
	}
	return &doc, nil
}

// Normalizer writes the clean transcript table of a stored raw result.
type Normalizer struct {
	store     storage.Store
	publisher Publisher
	ledger    job.Ledger
	now       func() time.Time
	metrics   *metrics.Metrics
}

// NewNormalizer creates a normalizer.
func NewNormalizer(store storage.Store, publisher Publisher) *Normalizer {
	return NewNormalizerWithClock(store, publisher, time.Now)
}

// NewNormalizerWithClock creates a normalizer whose output date prefix is
// taken from now.
func NewNormalizerWithClock(store storage.Store, publisher Publisher, now func() time.Time) *Normalizer {
	return &Normalizer{
		store:     store,
		publisher: publisher,
		ledger:    job.NopLedger{},
		now:       now,
		metrics:   metrics.DefaultMetrics,
	}
}

// SetLedger records job state transitions.
func (n *Normalizer) SetLedger(l job.Ledger) {
	n.ledger = l
}

// Normalize reads the raw result at resultKey and writes its clean table
// under today's date, returning the table's key. Nothing is written unless
// every utterance could be converted.
func (n *Normalizer) Normalize(ctx context.Context, resultKey string) (string, error) {
	jobID := job.IDFromResultKey(resultKey)
	logger := logging.WithJob("transcript", jobID, resultKey)

	body, err := n.store.Get(ctx, resultKey)
	if err != nil {
		return "", n.fail(ctx, jobID, resultKey, fmt.Errorf("load %s: %w", resultKey, err))
	}

	doc, err := Decode(body)
	if err != nil {
		return "", n.fail(ctx, jobID, resultKey, err)
	}
	rows, err := Align(doc)
	if err != nil {
		return "", n.fail(ctx, jobID, resultKey, err)
	}

	cleanKey := storage.CleanKey(storage.DateStamp(n.now()), resultKey)
	if err := n.store.Put(ctx, cleanKey, []byte(EncodeCSV(rows)), "text/csv"); err != nil {
		return "", n.fail(ctx, jobID, resultKey, fmt.Errorf("store %s: %w", cleanKey, err))
	}

	n.metrics.RecordNormalization(nil, len(rows))
	logger.Info().Str("cleanKey", cleanKey).Int("rows", len(rows)).Msg("Clean transcript created")

	job.Track(ctx, n.ledger, job.Update{
		JobID:     jobID,
		Status:    job.StateNormalized,
		ResultKey: resultKey,
		CleanKey:  cleanKey,
	})

	ev := models.TranscriptCreated{
		EventID:   events.NewEventID(),
		EventType: models.EventTranscriptCreated,
		JobID:     jobID,
		ResultKey: resultKey,
		CleanKey:  cleanKey,
		Rows:      len(rows),
		Timestamp: n.now().UnixMilli(),
	}
	if err := n.publisher.PublishTranscript(ctx, jobID, ev.EventType, ev); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish transcript created event")
	}

	return cleanKey, nil
}

func (n *Normalizer) fail(ctx context.Context, jobID, resultKey string, err error) error {
	n.metrics.RecordNormalization(err, 0)
	logger := logging.WithJob("transcript", jobID, resultKey)
	logger.Error().Err(err).Msg("Normalization failed")
	job.Track(ctx, n.ledger, job.Update{
		JobID:     jobID,
		Status:    job.StateFailed,
		ResultKey: resultKey,
		Error:     err.Error(),
	})
	return err
}
