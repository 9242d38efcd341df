// Package mock provides a transcription provider for running the pipeline
// without cloud credentials. Submissions are acknowledged immediately and a
// synthetic result document is delivered to the callback URL shortly after.
package mock

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"transcript-pipeline-service/internal/models"
	"transcript-pipeline-service/internal/service/stt"
)

// SimulatedUtterance is one utterance of the synthetic result.
type SimulatedUtterance struct {
	Speaker    int
	Transcript string
	Confidence float64
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{Speaker: 0, Transcript: "I want to cancel my subscription", Confidence: 0.94},
	{Speaker: 1, Transcript: "Yes please go ahead", Confidence: 0.97},
	{Speaker: 0, Transcript: "Can you %HESITATION help me with my account", Confidence: 0.91},
	{Speaker: 1, Transcript: "I've been waiting for over an hour", Confidence: 0.89},
	{Speaker: 0, Transcript: "Thank you very much", Confidence: 0.98},
}

const (
	wordMs = 400
	gapMs  = 100
	turnMs = 500
)

// Document builds a result document for the given utterances. Every word
// lasts 400ms and carries its own speaker label.
func Document(utterances []SimulatedUtterance) models.RecognitionDocument {
	group := models.RecognitionGroup{
		SpeakerLabels: []models.SpeakerLabel{},
		Results:       make([]models.Utterance, 0, len(utterances)),
	}

	var t int64
	for _, u := range utterances {
		confidence := u.Confidence
		alt := models.Alternative{Transcript: u.Transcript, Confidence: &confidence}
		for _, w := range strings.Fields(u.Transcript) {
			start, end := models.NewSeconds(t), models.NewSeconds(t+wordMs)
			alt.Timestamps = append(alt.Timestamps, models.Timestamp{Token: w, Start: start, End: end})
			group.SpeakerLabels = append(group.SpeakerLabels, models.SpeakerLabel{
				From:    start,
				To:      end,
				Speaker: models.SpeakerID(strconv.Itoa(u.Speaker)),
				Final:   true,
			})
			t += wordMs + gapMs
		}
		t += turnMs
		group.Results = append(group.Results, models.Utterance{Alternatives: []models.Alternative{alt}, Final: true})
	}

	return models.RecognitionDocument{Results: []models.RecognitionGroup{group}}
}

// Provider implements stt.Provider with synthetic results.
type Provider struct {
	Delay      time.Duration
	Utterances []SimulatedUtterance

	http *http.Client

	mu         sync.Mutex
	registered []string
	submitted  []stt.SubmitRequest
	counter    int
	wg         sync.WaitGroup
}

// New creates a new mock provider.
func New() *Provider {
	return &Provider{
		Delay:      100 * time.Millisecond,
		Utterances: DefaultUtterances,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *Provider) Name() string {
	return "mock"
}

func (p *Provider) RegisterCallback(ctx context.Context, callbackURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, callbackURL)
	return nil
}

// Submit acknowledges the job and schedules delivery of the synthetic result.
func (p *Provider) Submit(ctx context.Context, req stt.SubmitRequest) (*stt.Job, error) {
	p.mu.Lock()
	p.counter++
	id := fmt.Sprintf("mock-%d", p.counter)
	p.submitted = append(p.submitted, req)
	p.mu.Unlock()

	doc := Document(p.Utterances)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		time.Sleep(p.Delay)
		if err := stt.Deliver(context.Background(), p.http, req.CallbackURL, doc); err != nil {
			log.Error().Err(err).Str("jobId", req.JobID).Msg("Mock result delivery failed")
		}
	}()

	return &stt.Job{ID: id, Status: "waiting", Created: time.Now().UTC()}, nil
}

// Registered returns the callback URLs registered so far.
func (p *Provider) Registered() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.registered...)
}

// Submitted returns the submissions received so far.
func (p *Provider) Submitted() []stt.SubmitRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]stt.SubmitRequest(nil), p.submitted...)
}

// Wait blocks until every scheduled delivery has finished.
func (p *Provider) Wait() {
	p.wg.Wait()
}
