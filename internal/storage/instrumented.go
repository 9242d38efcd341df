package storage

import (
	"context"
	"time"

	"transcript-pipeline-service/internal/observability/metrics"
)

// Instrumented wraps a Store and records latency and errors per operation.
type Instrumented struct {
	Store
	metrics *metrics.Metrics
}

// Instrument wraps s with the default metrics.
func Instrument(s Store) *Instrumented {
	return &Instrumented{Store: s, metrics: metrics.DefaultMetrics}
}

func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	body, err := i.Store.Get(ctx, key)
	i.metrics.RecordStorageOp("get", err, time.Since(start).Seconds())
	return body, err
}

func (i *Instrumented) Put(ctx context.Context, key string, body []byte, contentType string) error {
	start := time.Now()
	err := i.Store.Put(ctx, key, body, contentType)
	i.metrics.RecordStorageOp("put", err, time.Since(start).Seconds())
	return err
}

func (i *Instrumented) List(ctx context.Context, prefix, delimiter string) (*Listing, error) {
	start := time.Now()
	out, err := i.Store.List(ctx, prefix, delimiter)
	i.metrics.RecordStorageOp("list", err, time.Since(start).Seconds())
	return out, err
}
