package storage

import (
	"path"
	"strings"
	"time"
)

// Key layout segments. These are shared with downstream consumers and must not
// change.
const (
	RecordingsSegment = "/recordings/"
	ResultsSegment    = "/results/"
	CleanSegment      = "/clean/"

	dateLayout = "20060102"
)

// DateStamp formats t as the date prefix used for results and clean tables.
func DateStamp(t time.Time) string {
	return t.Format(dateLayout)
}

// Basename returns the final path segment of a key.
func Basename(key string) string {
	return path.Base(key)
}

// ResultKey is where the raw recognition result of a job is stored.
func ResultKey(date, jobID string) string {
	return date + "/results/" + jobID + ".json"
}

// CleanKey is where the clean table derived from resultKey is stored.
func CleanKey(date, resultKey string) string {
	return date + "/clean/" + strings.ReplaceAll(Basename(resultKey), ".json", "") + ".csv"
}

// IsResultKey reports whether key holds a raw recognition result.
func IsResultKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".json") && strings.Contains(key, ResultsSegment)
}

// IsRecordingKey reports whether key lives under a recordings directory.
func IsRecordingKey(key string) bool {
	return strings.Contains(key, RecordingsSegment)
}

// RecordingCleanKey maps a recording key to the clean table the browsing view
// looks for next to it.
func RecordingCleanKey(recordingKey string) string {
	return strings.ReplaceAll(recordingKey, RecordingsSegment, CleanSegment) + ".csv"
}

// EditResultKey is the raw result a recording is edited through.
func EditResultKey(prefix, recording string) string {
	return prefix + "/results/" + recording + ".json"
}

// EditRecordingKey is the recording played back next to the editor.
func EditRecordingKey(prefix, recording string) string {
	return prefix + "/recordings/" + recording
}
