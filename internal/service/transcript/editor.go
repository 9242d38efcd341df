package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"transcript-pipeline-service/internal/events"
	"transcript-pipeline-service/internal/models"
	"transcript-pipeline-service/internal/observability/logging"
	"transcript-pipeline-service/internal/observability/metrics"
	"transcript-pipeline-service/internal/schema"
	"transcript-pipeline-service/internal/service/job"
	"transcript-pipeline-service/internal/storage"
)

// ViewRow is one utterance as presented for editing.
type ViewRow struct {
	Transcript string         `json:"transcript"`
	Start      models.Seconds `json:"start"`
	End        models.Seconds `json:"end"`
}

// Editor reads raw results for editing and writes operator corrections back.
// The clean table is not regenerated after an edit.
type Editor struct {
	store     storage.Store
	publisher Publisher
	metrics   *metrics.Metrics
}

// NewEditor creates an editor.
func NewEditor(store storage.Store, publisher Publisher) *Editor {
	return &Editor{store: store, publisher: publisher, metrics: metrics.DefaultMetrics}
}

// Load projects the utterances of the raw result at resultKey.
func (e *Editor) Load(ctx context.Context, resultKey string) ([]ViewRow, error) {
	body, err := e.store.Get(ctx, resultKey)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", resultKey, err)
	}
	doc, err := Decode(body)
	if err != nil {
		return nil, err
	}
	if err := schema.New().ValidateUtterances(doc); err != nil {
		return nil, err
	}

	utterances := doc.Results[0].Results
	rows := make([]ViewRow, 0, len(utterances))
	for _, u := range utterances {
		alt := u.Alternatives[0]
		rows = append(rows, ViewRow{
			Transcript: StripHesitation(alt.Transcript),
			Start:      alt.Timestamps[0].Start,
			End:        alt.Timestamps[len(alt.Timestamps)-1].End,
		})
	}
	return rows, nil
}

// Apply replaces the first-alternative transcript of every utterance, in
// order, and rewrites the document at resultKey. Every other field of the
// document is kept. Empty or mismatched edits leave the stored document
// untouched and return ErrEditCountMismatch.
func (e *Editor) Apply(ctx context.Context, resultKey string, texts []string) error {
	jobID := job.IDFromResultKey(resultKey)
	logger := logging.WithJob("editor", jobID, resultKey)

	if len(texts) == 0 {
		e.metrics.RecordEdit("mismatch")
		return fmt.Errorf("%w: no replacements", ErrEditCountMismatch)
	}

	body, err := e.store.Get(ctx, resultKey)
	if err != nil {
		e.metrics.RecordEdit("load_failed")
		return fmt.Errorf("load %s: %w", resultKey, err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		e.metrics.RecordEdit("malformed")
		return fmt.Errorf("%w: %w", ErrMalformedResult, err)
	}

	alts, err := firstAlternatives(doc)
	if err != nil {
		e.metrics.RecordEdit("malformed")
		return err
	}
	if len(alts) != len(texts) {
		e.metrics.RecordEdit("mismatch")
		logger.Warn().Int("utterances", len(alts)).Int("replacements", len(texts)).Msg("Edit rejected")
		return fmt.Errorf("%w: %d replacements for %d utterances", ErrEditCountMismatch, len(texts), len(alts))
	}
	for i, alt := range alts {
		alt["transcript"] = texts[i]
	}

	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		e.metrics.RecordEdit("encode_failed")
		return fmt.Errorf("encode %s: %w", resultKey, err)
	}
	if err := e.store.Put(ctx, resultKey, bytes.TrimRight(out.Bytes(), "\n"), "application/json"); err != nil {
		e.metrics.RecordEdit("store_failed")
		return fmt.Errorf("store %s: %w", resultKey, err)
	}

	e.metrics.RecordEdit("applied")
	logger.Info().Int("utterances", len(alts)).Msg("Recognition result edited")

	ev := models.ResultEdited{
		EventID:    events.NewEventID(),
		EventType:  models.EventResultEdited,
		JobID:      jobID,
		ResultKey:  resultKey,
		Utterances: len(alts),
		Timestamp:  time.Now().UnixMilli(),
	}
	if err := e.publisher.PublishTranscript(ctx, jobID, ev.EventType, ev); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish result edited event")
	}
	return nil
}

// firstAlternatives returns the first alternative object of every utterance
// in results[0].results.
func firstAlternatives(doc map[string]any) ([]map[string]any, error) {
	groups, ok := doc["results"].([]any)
	if !ok || len(groups) == 0 {
		return nil, fmt.Errorf("%w: results is empty", ErrMalformedResult)
	}
	group, ok := groups[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: results[0] is not an object", ErrMalformedResult)
	}
	utterances, ok := group["results"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: results[0].results missing", ErrMalformedResult)
	}

	alts := make([]map[string]any, 0, len(utterances))
	for i, u := range utterances {
		um, ok := u.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: utterance %d is not an object", ErrMalformedResult, i)
		}
		list, ok := um["alternatives"].([]any)
		if !ok || len(list) == 0 {
			return nil, fmt.Errorf("%w: utterance %d has no alternatives", ErrMalformedResult, i)
		}
		alt, ok := list[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: utterance %d alternative is not an object", ErrMalformedResult, i)
		}
		alts = append(alts, alt)
	}
	return alts, nil
}
