// Package job identifies recognition jobs and tracks their lifecycle.
package job

import (
	"path"
	"strings"
)

// ID derives the job identifier from an audio key: its final path segment.
// Uploads under different prefixes that share a basename map to the same job.
func ID(key string) string {
	return path.Base(key)
}

// IDFromResultKey recovers the job identifier from a raw result key.
func IDFromResultKey(key string) string {
	return strings.TrimSuffix(path.Base(key), ".json")
}

// CallbackURL is where the provider delivers results for jobID.
func CallbackURL(publicBaseURL, jobID string) string {
	return strings.TrimRight(publicBaseURL, "/") + "/callback/" + jobID + "/results"
}
