package testutil

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrInjected is returned by FakeBackend when a failure is injected.
var ErrInjected = errors.New("injected backend failure")

// FakeBackend is an in-memory implementation of warden.Backend for testing.
type FakeBackend struct {
	mu        sync.RWMutex
	data      map[string][]byte
	failSet   bool
	failGet   bool
	setCalls  int
	deletions int
}

// NewFakeBackend returns an empty FakeBackend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{data: make(map[string][]byte)}
}

// FailSets makes every subsequent Set return ErrInjected.
func (b *FakeBackend) FailSets(fail bool) {
	b.mu.Lock()
	b.failSet = fail
	b.mu.Unlock()
}

// FailGets makes every subsequent Get return ErrInjected.
func (b *FakeBackend) FailGets(fail bool) {
	b.mu.Lock()
	b.failGet = fail
	b.mu.Unlock()
}

// Put writes raw bytes, bypassing any cache envelope.
func (b *FakeBackend) Put(key string, val []byte) {
	b.mu.Lock()
	b.data[key] = append([]byte(nil), val...)
	b.mu.Unlock()
}

// Raw returns the stored bytes for key.
func (b *FakeBackend) Raw(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok
}

// Len returns the number of stored keys.
func (b *FakeBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Deletions returns how many Delete calls removed an existing key.
func (b *FakeBackend) Deletions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.deletions
}

// SetCalls returns how many Set calls reached the backend.
func (b *FakeBackend) SetCalls() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.setCalls
}

// --- warden.Backend ---

// Get returns the stored value.
func (b *FakeBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.failGet {
		return nil, false, ErrInjected
	}
	v, ok := b.data[key]
	return v, ok, nil
}

// Set stores a copy of val.
func (b *FakeBackend) Set(ctx context.Context, key string, val []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setCalls++
	if b.failSet {
		return ErrInjected
	}
	b.data[key] = append([]byte(nil), val...)
	return nil
}

// Delete removes key.
func (b *FakeBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[key]; ok {
		b.deletions++
		delete(b.data, key)
	}
	return nil
}

// Keys returns sorted keys with the given prefix.
func (b *FakeBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
