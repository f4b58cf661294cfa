// Package warden defines domain types and interfaces for the Warden cache layer.
// This package has no project imports -- it is the dependency root.
package warden

import (
	"context"
	"time"
)

// --- Storage ---

// Backend is the raw key/value store a PolicyCache is built on.
// Values are opaque serialized blobs; a Set replaces the whole blob atomically.
type Backend interface {
	// Get returns the blob stored under key. A missing key is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores val under key, replacing any previous value.
	Set(ctx context.Context, key string, val []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns every stored key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// --- Clock ---

// Clock supplies the current time. Injected so TTL logic is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// --- Metrics ---

// QuerySample is a single timed query observation.
type QuerySample struct {
	Key       string        `json:"key"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
	Failed    bool          `json:"failed"`
}

// KeyStats is the aggregate view of every event recorded for one key.
// TotalQueries is always Hits + Misses. AverageDuration is the running mean
// of all durations reported for the key, including ones no longer held in
// the sample window.
type KeyStats struct {
	Hits            uint64        `json:"hits"`
	Misses          uint64        `json:"misses"`
	TotalQueries    uint64        `json:"total_queries"`
	TimedQueries    uint64        `json:"timed_queries"`
	AverageDuration time.Duration `json:"average_duration_ns"`
	WindowStartedAt time.Time     `json:"window_started_at"`
}

// HitRate returns Hits / TotalQueries, or 0 when nothing was recorded.
func (s KeyStats) HitRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.TotalQueries)
}

// Sink receives metric events for an external telemetry pipeline.
// Implementations must not block; callers never wait on them.
type Sink interface {
	ObserveQuery(s QuerySample)
	ObserveOutcome(key string, hit bool)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) ObserveQuery(QuerySample)    {}
func (NopSink) ObserveOutcome(string, bool) {}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = iota

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}
