// Package metrics records per-key cache hit rates and query latency in
// bounded memory.
//
// Two independent views are kept over the same event stream: a global ring
// of the most recent samples for live debugging, and unbounded per-key
// counters with a running mean that are the source of truth for statistics.
package metrics

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	warden "github.com/eugener/warden/internal"
)

// DefaultMaxSamples is the sample window size when Options.MaxSamples is zero.
const DefaultMaxSamples = 1000

// Options configures a Collector.
type Options struct {
	MaxSamples int          // sample window capacity, default DefaultMaxSamples
	Clock      warden.Clock // nil = warden.SystemClock
	Sink       warden.Sink  // nil = warden.NopSink
}

// keyStats holds the counters for one key. All fields change together
// under mu so readers never see a half-applied event.
type keyStats struct {
	mu        sync.Mutex
	hits      uint64
	misses    uint64
	timed     uint64
	avg       float64 // running mean in nanoseconds
	startedAt time.Time
}

func (k *keyStats) snapshot() warden.KeyStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return warden.KeyStats{
		Hits:            k.hits,
		Misses:          k.misses,
		TotalQueries:    k.hits + k.misses,
		TimedQueries:    k.timed,
		AverageDuration: time.Duration(math.Round(k.avg)),
		WindowStartedAt: k.startedAt,
	}
}

// Collector tracks cache outcomes and query durations per key.
// It is safe for concurrent use and never panics on odd input.
type Collector struct {
	clock warden.Clock
	sink  warden.Sink

	// gate is read-locked by every operation and write-locked only by Reset,
	// so no reader can observe a partially cleared collector.
	gate sync.RWMutex

	mu   sync.RWMutex // guards keys
	keys map[string]*keyStats

	window *window
}

// New creates a Collector.
func New(opts Options) *Collector {
	size := opts.MaxSamples
	if size <= 0 {
		size = DefaultMaxSamples
	}
	clock := opts.Clock
	if clock == nil {
		clock = warden.SystemClock{}
	}
	sink := opts.Sink
	if sink == nil {
		sink = warden.NopSink{}
	}
	return &Collector{
		clock:  clock,
		sink:   sink,
		keys:   make(map[string]*keyStats),
		window: newWindow(size),
	}
}

// MaxSamples returns the sample window capacity.
func (c *Collector) MaxSamples() int { return len(c.window.buf) }

// RecordQuery records a query for key that started at startedAt and ends now.
// A negative duration (clock skew) is clamped to zero and logged. failed is
// kept on the sample only; it does not count as a hit or a miss.
func (c *Collector) RecordQuery(key string, startedAt time.Time, failed bool) {
	now := c.clock.Now()
	d := now.Sub(startedAt)
	if d < 0 {
		slog.LogAttrs(context.Background(), slog.LevelWarn, "negative query duration clamped",
			slog.String("key", key),
			slog.Duration("duration", d),
		)
		d = 0
	}
	sample := warden.QuerySample{Key: key, Duration: d, Timestamp: now, Failed: failed}

	c.gate.RLock()
	c.window.push(sample)
	ks := c.statsFor(key, now)
	ks.mu.Lock()
	ks.timed++
	ks.avg += (float64(d) - ks.avg) / float64(ks.timed)
	ks.mu.Unlock()
	c.gate.RUnlock()

	c.sink.ObserveQuery(sample)
}

// RecordHit counts a cache hit for key.
func (c *Collector) RecordHit(key string) {
	c.gate.RLock()
	ks := c.statsFor(key, c.clock.Now())
	ks.mu.Lock()
	ks.hits++
	ks.mu.Unlock()
	c.gate.RUnlock()

	c.sink.ObserveOutcome(key, true)
}

// RecordMiss counts a cache miss for key.
func (c *Collector) RecordMiss(key string) {
	c.gate.RLock()
	ks := c.statsFor(key, c.clock.Now())
	ks.mu.Lock()
	ks.misses++
	ks.mu.Unlock()
	c.gate.RUnlock()

	c.sink.ObserveOutcome(key, false)
}

// HitRate returns hits / (hits + misses) for key, or 0 if nothing was recorded.
func (c *Collector) HitRate(key string) float64 {
	s, _ := c.Stats(key)
	return s.HitRate()
}

// OverallHitRate returns the sum of hits over the sum of totals across all keys.
func (c *Collector) OverallHitRate() float64 {
	c.gate.RLock()
	defer c.gate.RUnlock()
	return c.summaryLocked().HitRate
}

// AverageDuration returns the running mean query duration for key.
func (c *Collector) AverageDuration(key string) time.Duration {
	s, _ := c.Stats(key)
	return s.AverageDuration
}

// OverallAverageDuration returns the unweighted mean of the per-key averages
// over every tracked key. Keys with many queries weigh the same as keys with
// few.
func (c *Collector) OverallAverageDuration() time.Duration {
	c.gate.RLock()
	defer c.gate.RUnlock()
	return c.summaryLocked().AverageDuration
}

// Stats returns the counters for key and whether the key is tracked.
func (c *Collector) Stats(key string) (warden.KeyStats, bool) {
	c.gate.RLock()
	defer c.gate.RUnlock()
	c.mu.RLock()
	ks, ok := c.keys[key]
	c.mu.RUnlock()
	if !ok {
		return warden.KeyStats{}, false
	}
	return ks.snapshot(), true
}

// AllStats returns the counters for every tracked key.
func (c *Collector) AllStats() map[string]warden.KeyStats {
	c.gate.RLock()
	defer c.gate.RUnlock()
	return c.allStatsLocked()
}

// RecentSamples returns up to limit samples across all keys, newest first.
// limit <= 0 returns no samples.
func (c *Collector) RecentSamples(limit int) []warden.QuerySample {
	c.gate.RLock()
	defer c.gate.RUnlock()
	return c.window.recent(limit)
}

// AllSamples returns every sample still in the window, newest first.
func (c *Collector) AllSamples() []warden.QuerySample {
	c.gate.RLock()
	defer c.gate.RUnlock()
	return c.window.all()
}

// Reset clears every sample and every key's counters.
func (c *Collector) Reset() {
	c.gate.Lock()
	c.mu.Lock()
	c.keys = make(map[string]*keyStats)
	c.mu.Unlock()
	c.window.reset()
	c.gate.Unlock()
	slog.Info("metrics reset")
}

// Summary aggregates all tracked keys.
type Summary struct {
	TrackedKeys     int           `json:"tracked_keys"`
	SampleCount     int           `json:"sample_count"`
	Hits            uint64        `json:"hits"`
	Misses          uint64        `json:"misses"`
	TotalQueries    uint64        `json:"total_queries"`
	HitRate         float64       `json:"hit_rate"`
	AverageDuration time.Duration `json:"average_duration_ns"`
}

// Summary returns aggregate statistics across all keys.
func (c *Collector) Summary() Summary {
	c.gate.RLock()
	defer c.gate.RUnlock()
	return c.summaryLocked()
}

// statsFor returns the stats for key, creating them on first use.
// Uses double-check locking to keep the write lock off the hot path.
// Callers must hold gate.
func (c *Collector) statsFor(key string, now time.Time) *keyStats {
	c.mu.RLock()
	ks, ok := c.keys[key]
	c.mu.RUnlock()
	if ok {
		return ks
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ks, ok := c.keys[key]; ok {
		return ks
	}
	ks = &keyStats{startedAt: now}
	c.keys[key] = ks
	return ks
}

func (c *Collector) allStatsLocked() map[string]warden.KeyStats {
	c.mu.RLock()
	refs := make(map[string]*keyStats, len(c.keys))
	for k, ks := range c.keys {
		refs[k] = ks
	}
	c.mu.RUnlock()

	out := make(map[string]warden.KeyStats, len(refs))
	for k, ks := range refs {
		out[k] = ks.snapshot()
	}
	return out
}

func (c *Collector) summaryLocked() Summary {
	all := c.allStatsLocked()
	s := Summary{
		TrackedKeys: len(all),
		SampleCount: c.window.len(),
	}
	if len(all) == 0 {
		return s
	}

	// Sum in key order so float accumulation is deterministic.
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var avgSum float64
	for _, k := range keys {
		ks := all[k]
		s.Hits += ks.Hits
		s.Misses += ks.Misses
		avgSum += float64(ks.AverageDuration)
	}
	s.TotalQueries = s.Hits + s.Misses
	if s.TotalQueries > 0 {
		s.HitRate = float64(s.Hits) / float64(s.TotalQueries)
	}
	s.AverageDuration = time.Duration(math.Round(avgSum / float64(len(all))))
	return s
}
