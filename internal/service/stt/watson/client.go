// Package watson submits recognition jobs to the IBM Watson Speech to Text
// asynchronous HTTP interface.
package watson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"transcript-pipeline-service/internal/observability/metrics"
	"transcript-pipeline-service/internal/service/stt"
)

const providerName = "watson"

// Config holds Watson connection and recognition settings.
type Config struct {
	URL           string
	Username      string
	Password      string
	Model         string
	SubmitTimeout time.Duration
}

// DefaultConfig returns the settings recognition jobs have always used.
func DefaultConfig() Config {
	return Config{
		URL:           "https://stream.watsonplatform.net/speech-to-text/api/v1/",
		Model:         "en-US_NarrowbandModel",
		SubmitTimeout: 300 * time.Second,
	}
}

// RecognitionParams are the query parameters of every submission. Without
// the completed_with_results event the callback carries no transcript.
func RecognitionParams(model, callbackURL string) url.Values {
	v := url.Values{}
	v.Set("callback_url", callbackURL)
	v.Set("model", model)
	v.Set("timestamps", "true")
	v.Set("speaker_labels", "true")
	v.Set("smart_formatting", "true")
	v.Set("events", "recognitions.completed_with_results")
	return v
}

// Client implements stt.Provider against Watson.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Watson client.
func New(cfg Config) *Client {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultConfig().SubmitTimeout
	}
	if !strings.HasSuffix(cfg.URL, "/") {
		cfg.URL += "/"
	}
	return &Client{cfg: cfg, http: &http.Client{}}
}

func (c *Client) Name() string {
	return providerName
}

// RegisterCallback allowlists callbackURL. Watson answers 200 for an already
// registered URL and 201 for a new one.
func (c *Client) RegisterCallback(ctx context.Context, callbackURL string) error {
	start := time.Now()
	v := url.Values{}
	v.Set("callback_url", callbackURL)

	status, body, err := c.post(ctx, "register_callback?"+v.Encode(), "", nil)
	if err == nil && status != http.StatusOK && status != http.StatusCreated {
		err = &stt.StatusError{Op: "register callback", StatusCode: status, Body: body, Kind: stt.ErrRegistrationFailed}
	} else if err != nil {
		err = fmt.Errorf("register callback: %w: %w", stt.ErrRegistrationFailed, err)
	}
	metrics.DefaultMetrics.RecordProviderCall(providerName, "register", err, time.Since(start).Seconds())
	return err
}

// Submit creates an asynchronous recognition job. Only 201 counts as accepted.
func (c *Client) Submit(ctx context.Context, req stt.SubmitRequest) (*stt.Job, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	params := RecognitionParams(c.cfg.Model, req.CallbackURL)
	status, body, err := c.post(ctx, "recognitions?"+params.Encode(), req.ContentType, req.Audio)
	if err != nil {
		err = fmt.Errorf("submit %s: %w: %w", req.JobID, stt.ErrSubmissionFailed, err)
		metrics.DefaultMetrics.RecordProviderCall(providerName, "submit", err, time.Since(start).Seconds())
		return nil, err
	}
	if status != http.StatusCreated {
		err = &stt.StatusError{Op: "submit " + req.JobID, StatusCode: status, Body: body, Kind: stt.ErrSubmissionFailed}
		metrics.DefaultMetrics.RecordProviderCall(providerName, "submit", err, time.Since(start).Seconds())
		return nil, err
	}
	metrics.DefaultMetrics.RecordProviderCall(providerName, "submit", nil, time.Since(start).Seconds())

	var job stt.Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		// Accepted anyway; the acknowledgement body is informational.
		log.Warn().Err(err).Str("jobId", req.JobID).Msg("Unreadable Watson job acknowledgement")
	}
	return &job, nil
}

func (c *Client) post(ctx context.Context, path, contentType string, payload []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}
