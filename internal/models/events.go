package models

// Pipeline event types.
const (
	EventJobSubmitted      = "transcript.job.submitted"
	EventResultReceived    = "transcript.result.received"
	EventTranscriptCreated = "transcript.clean.created"
	EventResultEdited      = "transcript.result.edited"
)

// JobSubmitted is emitted after the provider accepted a recognition job.
type JobSubmitted struct {
	EventID       string `json:"eventId"`
	EventType     string `json:"eventType"`
	JobID         string `json:"jobId"`
	AudioKey      string `json:"audioKey"`
	AudioHash     string `json:"audioHash"`
	AudioBytes    int    `json:"audioBytes"`
	ContentType   string `json:"contentType"`
	Provider      string `json:"provider"`
	ProviderJobID string `json:"providerJobId,omitempty"`
	CallbackURL   string `json:"callbackUrl"`
	Timestamp     int64  `json:"timestamp"`
}

// ResultReceived is emitted when a callback payload has been stored.
type ResultReceived struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	JobID     string `json:"jobId"`
	ResultKey string `json:"resultKey"`
	Bytes     int    `json:"bytes"`
	Timestamp int64  `json:"timestamp"`
}

// TranscriptCreated is emitted when a clean transcript table was written.
type TranscriptCreated struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	JobID     string `json:"jobId"`
	ResultKey string `json:"resultKey"`
	CleanKey  string `json:"cleanKey"`
	Rows      int    `json:"rows"`
	Timestamp int64  `json:"timestamp"`
}

// ResultEdited is emitted when an operator rewrote utterance texts.
type ResultEdited struct {
	EventID    string `json:"eventId"`
	EventType  string `json:"eventType"`
	JobID      string `json:"jobId"`
	ResultKey  string `json:"resultKey"`
	Utterances int    `json:"utterances"`
	Timestamp  int64  `json:"timestamp"`
}
