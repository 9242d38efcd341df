package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"transcript-pipeline-service/internal/observability/metrics"
)

// ErrNotFound is returned when the ledger has no record of a job.
var ErrNotFound = errors.New("job not found")

// Record is the ledger entry of one job. It is observational: the pipeline
// never reads it to decide what to do.
type Record struct {
	JobID         string    `json:"jobId"`
	Status        State     `json:"-"`
	StatusText    string    `json:"status"`
	AudioKey      string    `json:"audioKey,omitempty"`
	ResultKey     string    `json:"resultKey,omitempty"`
	CleanKey      string    `json:"cleanKey,omitempty"`
	ProviderJobID string    `json:"providerJobId,omitempty"`
	AudioHash     string    `json:"audioHash,omitempty"`
	Error         string    `json:"error,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Update moves a job to Status. Empty fields leave the stored values intact.
type Update struct {
	JobID         string
	Status        State
	AudioKey      string
	ResultKey     string
	CleanKey      string
	ProviderJobID string
	AudioHash     string
	Error         string
}

// Ledger records job state transitions.
type Ledger interface {
	Record(ctx context.Context, u Update) error
	Get(ctx context.Context, jobID string) (*Record, error)
}

// Track records u, logging failures instead of returning them.
func Track(ctx context.Context, l Ledger, u Update) {
	if l == nil {
		return
	}
	if err := l.Record(ctx, u); err != nil {
		metrics.DefaultMetrics.RecordLedgerError(u.Status.String())
		log.Warn().
			Err(err).
			Str("jobId", u.JobID).
			Str("status", u.Status.String()).
			Msg("Job ledger update failed")
	}
}

// NopLedger records nothing.
type NopLedger struct{}

func (NopLedger) Record(ctx context.Context, u Update) error { return nil }

func (NopLedger) Get(ctx context.Context, jobID string) (*Record, error) {
	return nil, fmt.Errorf("get %s: %w", jobID, ErrNotFound)
}

// MemoryLedger keeps records in process memory.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]Record), now: time.Now}
}

func (l *MemoryLedger) Record(ctx context.Context, u Update) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.records[u.JobID]
	if err := rec.Status.Transition(u.Status); err != nil {
		return err
	}
	rec.JobID = u.JobID
	apply(&rec, u, l.now())
	l.records[u.JobID] = rec
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, jobID string) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[jobID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", jobID, ErrNotFound)
	}
	return &rec, nil
}

func apply(rec *Record, u Update, now time.Time) {
	rec.Status = u.Status
	rec.StatusText = u.Status.String()
	setIfNotEmpty(&rec.AudioKey, u.AudioKey)
	setIfNotEmpty(&rec.ResultKey, u.ResultKey)
	setIfNotEmpty(&rec.CleanKey, u.CleanKey)
	setIfNotEmpty(&rec.ProviderJobID, u.ProviderJobID)
	setIfNotEmpty(&rec.AudioHash, u.AudioHash)
	rec.Error = u.Error
	rec.UpdatedAt = now.UTC()
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
