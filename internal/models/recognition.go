// Package models defines the documents and events exchanged by the pipeline.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RecognitionDocument is the raw recognition result delivered by the provider
// callback and stored under <date>/results/<job>.json.
type RecognitionDocument struct {
	Results []RecognitionGroup `json:"results"`
}

// RecognitionGroup holds the diarization output and the recognized utterances
// of one recognition pass. Only the first group of a document is used.
type RecognitionGroup struct {
	SpeakerLabels []SpeakerLabel `json:"speaker_labels"`
	Results       []Utterance    `json:"results"`
}

// SpeakerLabel attributes the span starting at From to one speaker.
type SpeakerLabel struct {
	From       Seconds   `json:"from"`
	To         Seconds   `json:"to"`
	Speaker    SpeakerID `json:"speaker"`
	Confidence *float64  `json:"confidence,omitempty"`
	Final      bool      `json:"final"`
}

// Utterance is one recognized stretch of speech.
type Utterance struct {
	Alternatives []Alternative `json:"alternatives"`
	Final        bool          `json:"final"`
}

// Alternative is one candidate transcription of an utterance.
type Alternative struct {
	Transcript string      `json:"transcript"`
	Confidence *float64    `json:"confidence,omitempty"`
	Timestamps []Timestamp `json:"timestamps"`
}

// Timestamp is a single recognized token with its start and end offsets.
// On the wire it is a heterogeneous array: ["token", start, end].
type Timestamp struct {
	Token string
	Start Seconds
	End   Seconds
}

// UnmarshalJSON decodes the ["token", start, end] tuple.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("timestamp: expected 3 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &t.Token); err != nil {
		return fmt.Errorf("timestamp token: %w", err)
	}
	if err := t.Start.UnmarshalJSON(raw[1]); err != nil {
		return fmt.Errorf("timestamp start: %w", err)
	}
	if err := t.End.UnmarshalJSON(raw[2]); err != nil {
		return fmt.Errorf("timestamp end: %w", err)
	}
	return nil
}

// MarshalJSON encodes the timestamp back into its tuple form.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	token, err := json.Marshal(t.Token)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteByte('[')
	b.Write(token)
	b.WriteByte(',')
	b.WriteString(t.Start.Text())
	b.WriteByte(',')
	b.WriteString(t.End.Text())
	b.WriteByte(']')
	return b.Bytes(), nil
}

// Seconds is an exact decimal offset into the audio, in seconds. Integral
// records whether the wire value was a JSON integer literal.
type Seconds struct {
	decimal.Decimal
	Integral bool
}

// NewSeconds returns the offset for the given number of milliseconds.
func NewSeconds(ms int64) Seconds {
	return Seconds{Decimal: decimal.New(ms, -3)}
}

// UnmarshalJSON reads a bare JSON number and remembers its literal kind.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if err := s.Decimal.UnmarshalJSON(data); err != nil {
		return err
	}
	s.Integral = !bytes.ContainsAny(data, ".eE\"")
	return nil
}

// MarshalJSON writes the offset as a bare JSON number of the same literal kind
// it was read as.
func (s Seconds) MarshalJSON() ([]byte, error) {
	return []byte(s.Text()), nil
}

// Text renders the offset the way the clean transcript table expects it.
// Integer literals stay as they were; anything else keeps a fractional part,
// so 5.0 stays "5.0".
func (s Seconds) Text() string {
	str := s.String()
	if s.Integral {
		return str
	}
	if !strings.ContainsAny(str, ".eE") {
		str += ".0"
	}
	return str
}

// SpeakerID is a diarization speaker label. Providers emit either integers or
// strings; the original token is kept so it can be written back unchanged.
type SpeakerID string

// UnmarshalJSON accepts both numeric and string labels.
func (s *SpeakerID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("speaker: empty label")
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("speaker: %w", err)
		}
		*s = SpeakerID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("speaker: %w", err)
	}
	*s = SpeakerID(n.String())
	return nil
}

// MarshalJSON writes numeric labels as numbers and everything else as strings.
func (s SpeakerID) MarshalJSON() ([]byte, error) {
	if _, err := decimal.NewFromString(string(s)); err == nil && string(s) != "" {
		return []byte(s), nil
	}
	return json.Marshal(string(s))
}
