// Package transcode converts uploaded audio into the format submitted for
// recognition.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"transcript-pipeline-service/internal/observability/metrics"
)

// Transcoder converts audio bytes into another container format.
type Transcoder interface {
	Transcode(ctx context.Context, audio []byte) ([]byte, error)
	// ContentType is the MIME type of the transcoded output.
	ContentType() string
}

// FFmpeg pipes audio through an ffmpeg subprocess. The process is bound to
// the caller's context and has no timeout of its own.
type FFmpeg struct {
	Binary string
	Format string
}

// NewOgg returns a transcoder producing Ogg output.
func NewOgg() *FFmpeg {
	return &FFmpeg{Binary: "ffmpeg", Format: "ogg"}
}

func (f *FFmpeg) ContentType() string {
	return "audio/" + f.Format
}

func (f *FFmpeg) Transcode(ctx context.Context, audio []byte) ([]byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, f.Binary,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", f.Format,
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(audio)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w out: %s", err, strings.TrimSpace(stderr.String()))
	}

	metrics.DefaultMetrics.RecordTranscode(time.Since(start).Seconds())
	return stdout.Bytes(), nil
}
