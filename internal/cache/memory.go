package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
)

// Memory is an in-memory W-TinyLFU backend backed by otter.
// It stores serialized blobs; TTL and version policy live in PolicyCache.
type Memory struct {
	cache *otter.Cache[string, []byte]
}

// NewMemory creates an in-memory backend holding at most maxSize blobs.
// A positive retention caps how long any blob is kept regardless of policy,
// so stale entries that are never read again do not linger forever.
func NewMemory(maxSize int, retention time.Duration) (*Memory, error) {
	opts := &otter.Options[string, []byte]{
		MaximumSize: maxSize,
	}
	if retention > 0 {
		opts.ExpiryCalculator = otter.ExpiryWriting[string, []byte](retention)
	}
	c, err := otter.New(opts)
	if err != nil {
		return nil, fmt.Errorf("create memory backend: %w", err)
	}
	return &Memory{cache: c}, nil
}

// Get returns the blob stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.cache.GetIfPresent(key)
	return v, ok, nil
}

// Set stores a private copy of val.
func (m *Memory) Set(_ context.Context, key string, val []byte) error {
	m.cache.Set(key, append([]byte(nil), val...))
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

// Keys returns the sorted keys starting with prefix.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for k := range m.cache.All() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the approximate number of stored blobs.
func (m *Memory) Len() int {
	return m.cache.EstimatedSize()
}
