// Package app composes the policy cache and the metrics collector into the
// read-through path used by request handlers.
package app

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	warden "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/cache"
	"github.com/eugener/warden/internal/metrics"
	"github.com/eugener/warden/internal/telemetry"
)

// Loader orchestrates a read-through cache: a hit is reported to the
// collector and returned; a miss runs the fetch, reports its duration, and
// writes the result back. Concurrent misses on the same key share one fetch.
type Loader struct {
	cache   *cache.PolicyCache
	metrics *metrics.Collector
	clock   warden.Clock
	group   singleflight.Group
	tracer  trace.Tracer
}

// NewLoader returns a Loader over c and m. A nil clock uses the wall clock.
func NewLoader(c *cache.PolicyCache, m *metrics.Collector, clock warden.Clock) *Loader {
	if clock == nil {
		clock = warden.SystemClock{}
	}
	return &Loader{
		cache:   c,
		metrics: m,
		clock:   clock,
		tracer:  telemetry.Tracer("github.com/eugener/warden/internal/app"),
	}
}

// Fetcher produces the value for a key on cache miss.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Load returns the cached value for key or fetches, records, and caches it.
// Only fetch errors are returned; cache faults degrade to a fetch. A caller
// whose ctx ends stops waiting and gets ctx.Err(); the shared fetch carries
// on for any other caller waiting on key.
func Load[T any](ctx context.Context, l *Loader, key string, fetch Fetcher[T]) (T, error) {
	ctx, span := l.tracer.Start(ctx, "cache.load",
		trace.WithAttributes(attribute.String("cache.key", key)),
	)
	defer span.End()

	if v, ok := cache.Get[T](ctx, l.cache, key); ok {
		l.metrics.RecordHit(key)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return v, nil
	}
	l.metrics.RecordMiss(key)
	span.SetAttributes(attribute.Bool("cache.hit", false))

	// The shared fetch runs detached from any one caller so that a caller
	// giving up does not fail the others waiting on the same key. Each
	// caller still stops waiting when its own ctx is done.
	detached := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (any, error) {
		return l.fetch(detached, key, func(ctx context.Context) (any, error) { return fetch(ctx) })
	})

	var zero T
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		err := ctx.Err()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		return zero, res.Err
	}
	span.SetAttributes(attribute.Bool("cache.shared", res.Shared))

	if v, ok := res.Val.(T); ok {
		return v, nil
	}
	// A concurrent caller loaded the same key as a different type.
	// Fetch our own copy rather than share theirs.
	own, err := l.fetch(ctx, key, func(ctx context.Context) (any, error) { return fetch(ctx) })
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	v, _ := own.(T)
	return v, nil
}

func (l *Loader) fetch(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	start := l.clock.Now()
	v, err := fn(ctx)
	l.metrics.RecordQuery(key, start, err != nil)
	if err != nil {
		return nil, err
	}
	l.cache.Set(ctx, key, v)
	return v, nil
}

// Invalidate removes key so the next Load fetches it again.
func (l *Loader) Invalidate(ctx context.Context, key string) {
	l.cache.Remove(ctx, key)
}
