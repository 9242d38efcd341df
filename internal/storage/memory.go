package storage

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for local development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memoryObject
	now     func() time.Time
}

type memoryObject struct {
	body        []byte
	contentType string
}

// NewMemoryStore creates an empty store named after bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), obj.body...), nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{body: append([]byte(nil), body...), contentType: contentType}
	return nil
}

// ContentType returns the content type an object was stored with.
func (m *MemoryStore) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key].contentType
}

func (m *MemoryStore) List(ctx context.Context, prefix, delimiter string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := &Listing{}
	seen := make(map[string]bool)
	for key := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if delimiter != "" {
			rest := key[len(prefix):]
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, cp)
				}
				continue
			}
		}
		out.Keys = append(out.Keys, key)
	}
	sort.Strings(out.Keys)
	sort.Strings(out.CommonPrefixes)
	return out, nil
}

func (m *MemoryStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("memory://%s/%s?expires=%d", m.bucket, url.PathEscape(key), m.now().Add(ttl).Unix()), nil
}

func (m *MemoryStore) PresignPost(ctx context.Context, key, contentType string, ttl time.Duration) (*PresignedPost, error) {
	return &PresignedPost{
		URL: fmt.Sprintf("memory://%s", m.bucket),
		Fields: map[string]string{
			"key":          key,
			"Content-Type": contentType,
			"expires":      fmt.Sprintf("%d", m.now().Add(ttl).Unix()),
		},
	}, nil
}
