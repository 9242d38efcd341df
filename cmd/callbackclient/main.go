// Command callbackclient plays the provider side of the webhook: it answers
// the callback verification and delivers a synthetic result document.
package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"transcript-pipeline-service/internal/service/job"
	"transcript-pipeline-service/internal/service/stt"
	"transcript-pipeline-service/internal/service/stt/mock"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Pipeline base URL")
	jobID := flag.String("job", "sample.wav", "Job ID (the recording's basename)")
	challenge := flag.String("challenge", "challenge-"+time.Now().Format("150405"), "Challenge string to verify")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client := &http.Client{Timeout: 10 * time.Second}
	callbackURL := job.CallbackURL(*server, *jobID)

	// Verification handshake
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, callbackURL+"?challenge_string="+url.QueryEscape(*challenge), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build verification request")
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatal().Err(err).Msg("Verification request failed")
	}
	echoed, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(echoed) != *challenge {
		log.Fatal().Str("sent", *challenge).Str("received", string(echoed)).Msg("Challenge not echoed")
	}
	log.Info().Str("callbackUrl", callbackURL).Msg("Callback verified")

	doc := mock.Document(mock.DefaultUtterances)
	if err := stt.Deliver(ctx, client, callbackURL, doc); err != nil {
		log.Fatal().Err(err).Msg("Delivery failed")
	}
	log.Info().
		Str("jobId", *jobID).
		Int("utterances", len(mock.DefaultUtterances)).
		Msg("Result delivered")
}
