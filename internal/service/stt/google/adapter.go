// Package google provides a Google Cloud Speech-to-Text provider. Google has
// no webhooks, so the provider waits on the long-running operation itself
// and delivers the converted result document to the job's callback URL.
package google

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/durationpb"

	"transcript-pipeline-service/internal/models"
	"transcript-pipeline-service/internal/observability/metrics"
	"transcript-pipeline-service/internal/service/stt"
)

const providerName = "google"

// Config holds Google recognition settings.
type Config struct {
	LanguageCode string
	SampleRateHz int32
	// AudioEncoding overrides the encoding derived from the content type.
	AudioEncoding string
	Model         string
	MinSpeakers   int32
	MaxSpeakers   int32
	// WaitTimeout bounds how long a submitted operation is awaited.
	WaitTimeout time.Duration
}

// DefaultConfig returns default Google recognition settings.
func DefaultConfig() Config {
	return Config{
		LanguageCode: "en-US",
		SampleRateHz: 8000,
		Model:        "phone_call",
		MinSpeakers:  2,
		MaxSpeakers:  6,
		WaitTimeout:  time.Hour,
	}
}

// operation is the part of a long-running recognition the provider needs.
type operation interface {
	Name() string
	Wait(ctx context.Context) (*speechpb.LongRunningRecognizeResponse, error)
}

type gcpOperation struct {
	op *speech.LongRunningRecognizeOperation
}

func (o gcpOperation) Name() string { return o.op.Name() }

func (o gcpOperation) Wait(ctx context.Context) (*speechpb.LongRunningRecognizeResponse, error) {
	return o.op.Wait(ctx)
}

// Provider implements stt.Provider using Google Cloud Speech-to-Text.
type Provider struct {
	cfg    Config
	client *speech.Client
	start  func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (operation, error)
	http   *http.Client

	// base outlives submitting requests; cancel stops pending waits.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Google STT provider.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	p := newProvider(cfg, func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (operation, error) {
		op, err := c.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return gcpOperation{op: op}, nil
	})
	p.client = c
	return p, nil
}

func newProvider(cfg Config, start func(context.Context, *speechpb.LongRunningRecognizeRequest) (operation, error)) *Provider {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultConfig().WaitTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &Provider{
		cfg:    cfg,
		start:  start,
		http:   &http.Client{Timeout: 30 * time.Second},
		base:   base,
		cancel: cancel,
	}
}

func (p *Provider) Name() string {
	return providerName
}

// RegisterCallback is a no-op: results are delivered by the provider itself.
func (p *Provider) RegisterCallback(ctx context.Context, callbackURL string) error {
	return nil
}

// Submit starts a long-running recognition with inline audio content.
func (p *Provider) Submit(ctx context.Context, req stt.SubmitRequest) (*stt.Job, error) {
	start := time.Now()

	op, err := p.start(ctx, p.request(req))
	metrics.DefaultMetrics.RecordProviderCall(providerName, "submit", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w: %w", req.JobID, stt.ErrSubmissionFailed, err)
	}

	job := &stt.Job{ID: op.Name(), Status: "processing", Created: time.Now().UTC()}

	p.wg.Add(1)
	go p.await(op, req)

	return job, nil
}

func (p *Provider) request(req stt.SubmitRequest) *speechpb.LongRunningRecognizeRequest {
	return &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encodingFor(p.cfg.AudioEncoding, req.ContentType),
			SampleRateHertz:            p.sampleRate(req.ContentType),
			LanguageCode:               p.cfg.LanguageCode,
			Model:                      p.cfg.Model,
			EnableWordTimeOffsets:      true,
			EnableAutomaticPunctuation: true,
			DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
				EnableSpeakerDiarization: true,
				MinSpeakerCount:          p.cfg.MinSpeakers,
				MaxSpeakerCount:          p.cfg.MaxSpeakers,
			},
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: req.Audio},
		},
	}
}

// sampleRate is omitted for self-describing containers.
func (p *Provider) sampleRate(contentType string) int32 {
	switch contentType {
	case "audio/wav", "audio/flac":
		return 0
	}
	return p.cfg.SampleRateHz
}

// await waits for the operation and delivers the converted document.
func (p *Provider) await(op operation, req stt.SubmitRequest) {
	defer p.wg.Done()
	logger := log.With().
		Str("provider", providerName).
		Str("jobId", req.JobID).
		Str("operation", op.Name()).
		Logger()

	ctx, cancel := context.WithTimeout(p.base, p.cfg.WaitTimeout)
	defer cancel()

	start := time.Now()
	resp, err := op.Wait(ctx)
	metrics.DefaultMetrics.RecordProviderCall(providerName, "wait", err, time.Since(start).Seconds())
	if err != nil {
		logger.Error().Err(err).Msg("Recognition operation failed")
		return
	}

	doc := ToDocument(resp)
	if err := stt.Deliver(ctx, p.http, req.CallbackURL, doc); err != nil {
		logger.Error().Err(err).Str("callbackUrl", req.CallbackURL).Msg("Result delivery failed")
		return
	}
	logger.Info().Int("utterances", len(doc.Results[0].Results)).Msg("Result delivered")
}

// Close cancels pending operations and releases the client.
func (p *Provider) Close() error {
	p.cancel()
	p.wg.Wait()
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// ToDocument converts a recognition response into a raw result document.
// With diarization enabled the last result repeats every word with its
// speaker tag; it becomes the speaker labels and is not an utterance.
func ToDocument(resp *speechpb.LongRunningRecognizeResponse) models.RecognitionDocument {
	results := resp.GetResults()
	utterances := results
	var tagged *speechpb.SpeechRecognitionResult
	if n := len(results); n > 0 && hasSpeakerTags(results[n-1]) {
		tagged = results[n-1]
		if n > 1 {
			utterances = results[:n-1]
		}
	}

	group := models.RecognitionGroup{
		SpeakerLabels: []models.SpeakerLabel{},
		Results:       make([]models.Utterance, 0, len(utterances)),
	}
	for _, r := range utterances {
		u := models.Utterance{Final: true}
		for _, alt := range r.GetAlternatives() {
			u.Alternatives = append(u.Alternatives, convertAlternative(alt))
		}
		group.Results = append(group.Results, u)
	}

	if tagged != nil && len(tagged.GetAlternatives()) > 0 {
		for _, w := range tagged.GetAlternatives()[0].GetWords() {
			if w.GetSpeakerTag() == 0 {
				continue
			}
			group.SpeakerLabels = append(group.SpeakerLabels, models.SpeakerLabel{
				From:    offset(w.GetStartTime()),
				To:      offset(w.GetEndTime()),
				Speaker: models.SpeakerID(strconv.Itoa(int(w.GetSpeakerTag()))),
				Final:   true,
			})
		}
	}

	return models.RecognitionDocument{Results: []models.RecognitionGroup{group}}
}

func convertAlternative(alt *speechpb.SpeechRecognitionAlternative) models.Alternative {
	confidence := float64(alt.GetConfidence())
	a := models.Alternative{
		Transcript: strings.TrimSpace(alt.GetTranscript()),
		Confidence: &confidence,
		Timestamps: make([]models.Timestamp, 0, len(alt.GetWords())),
	}
	for _, w := range alt.GetWords() {
		a.Timestamps = append(a.Timestamps, models.Timestamp{
			Token: w.GetWord(),
			Start: offset(w.GetStartTime()),
			End:   offset(w.GetEndTime()),
		})
	}
	return a
}

func hasSpeakerTags(r *speechpb.SpeechRecognitionResult) bool {
	alts := r.GetAlternatives()
	if len(alts) == 0 {
		return false
	}
	for _, w := range alts[0].GetWords() {
		if w.GetSpeakerTag() != 0 {
			return true
		}
	}
	return false
}

func offset(d *durationpb.Duration) models.Seconds {
	return models.NewSeconds(d.AsDuration().Milliseconds())
}

// encodingFor picks the configured encoding or derives one from the
// content type. WAV and FLAC headers describe themselves.
func encodingFor(configured, contentType string) speechpb.RecognitionConfig_AudioEncoding {
	if configured != "" {
		return parseAudioEncoding(configured)
	}
	switch contentType {
	case "audio/ogg":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "audio/flac":
		return speechpb.RecognitionConfig_FLAC
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

// parseAudioEncoding converts a string encoding name to the protobuf enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
