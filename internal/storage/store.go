// Package storage provides the blob store used for recordings, raw
// recognition results and clean transcript tables.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// Listing is the result of a prefix listing. With a delimiter, keys below the
// next delimiter are grouped into CommonPrefixes.
type Listing struct {
	Keys           []string
	CommonPrefixes []string
}

// PresignedPost describes a browser-direct upload: a form POST to URL
// carrying Fields followed by the file.
type PresignedPost struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

// Store is a key/value blob store with a hierarchical key namespace.
// Each Get and Put is assumed atomic per key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte, contentType string) error
	List(ctx context.Context, prefix, delimiter string) (*Listing, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignPost(ctx context.Context, key, contentType string, ttl time.Duration) (*PresignedPost, error)
}
