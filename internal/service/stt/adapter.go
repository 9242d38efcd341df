// Package stt defines the interface for batch speech-to-text providers.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrRegistrationFailed is returned when the provider rejected a callback URL.
	ErrRegistrationFailed = errors.New("callback registration failed")
	// ErrSubmissionFailed is returned when the provider did not accept a job.
	ErrSubmissionFailed = errors.New("recognition submission failed")
)

// StatusError carries the upstream status of a rejected provider call.
// It unwraps to Kind.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	Kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %v: status %d: %s", e.Op, e.Kind, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}

// SubmitRequest is one audio artifact submitted for recognition.
type SubmitRequest struct {
	JobID       string
	CallbackURL string
	ContentType string
	Audio       []byte
}

// Job is the provider's acknowledgement of a submission.
type Job struct {
	ID      string    `json:"id"`
	Status  string    `json:"status"`
	Created time.Time `json:"created"`
}

// Provider submits audio for asynchronous recognition. Results are delivered
// later as a raw result document POSTed to the submission's callback URL.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// RegisterCallback allowlists callbackURL with the provider.
	RegisterCallback(ctx context.Context, callbackURL string) error

	// Submit starts a recognition job. Exactly one attempt is made.
	Submit(ctx context.Context, req SubmitRequest) (*Job, error)
}

// Deliver POSTs a result document to callbackURL, the way a provider
// webhook would.
func Deliver(ctx context.Context, client *http.Client, callbackURL string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("deliver result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("deliver result: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("deliver result: callback returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
