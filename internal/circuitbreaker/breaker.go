// Package circuitbreaker guards a cache backend with a sliding-window error
// rate breaker. While the breaker is open, backend calls fail immediately
// with ErrOpen instead of waiting out the per-call timeout, so a dead store
// costs a cache miss rather than seconds of latency.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	warden "github.com/eugener/warden/internal"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all calls through.
	StateClosed State = iota
	// StateOpen rejects all calls.
	StateOpen
	// StateHalfOpen allows a single probe call.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// maxWindow is the widest supported error window, one bucket per second.
const maxWindow = 60

// Config holds breaker parameters.
type Config struct {
	ErrorThreshold float64       `yaml:"error_threshold"` // weighted error rate to trip, e.g. 0.5
	MinSamples     int           `yaml:"min_samples"`     // calls in window before the breaker may open
	Window         time.Duration `yaml:"window"`          // error window, whole seconds up to 60s
	OpenTimeout    time.Duration `yaml:"open_timeout"`    // time in OPEN before a probe is allowed
}

// DefaultConfig returns the breaker settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 0.5,
		MinSamples:     20,
		Window:         30 * time.Second,
		OpenTimeout:    10 * time.Second,
	}
}

// bucket counts calls that completed within one second.
type bucket struct {
	errors float64 // weighted
	total  int
}

// window is a ring of one-second buckets.
type window struct {
	buckets [maxWindow]bucket
	size    int
	head    int
	headSec int64
}

func newWindow(d time.Duration) window {
	size := int(d / time.Second)
	if size <= 0 || size > maxWindow {
		size = maxWindow
	}
	return window{size: size}
}

// advance rotates the ring to sec, zeroing every bucket it passes.
func (w *window) advance(sec int64) {
	if w.headSec == 0 {
		w.headSec = sec
		return
	}
	gap := sec - w.headSec
	if gap <= 0 {
		return
	}
	for i := range min(int(gap), w.size) {
		w.buckets[(w.head+1+i)%w.size] = bucket{}
	}
	w.head = (w.head + int(gap)) % w.size
	w.headSec = sec
}

func (w *window) record(weight float64, now time.Time) {
	w.advance(now.Unix())
	w.buckets[w.head].total++
	w.buckets[w.head].errors += weight
}

func (w *window) rate(now time.Time) (float64, int) {
	w.advance(now.Unix())
	var errs float64
	var total int
	for i := range w.size {
		errs += w.buckets[i].errors
		total += w.buckets[i].total
	}
	if total == 0 {
		return 0, 0
	}
	return errs / float64(total), total
}

func (w *window) reset() {
	*w = window{size: w.size}
}

// Breaker is a closed/open/half-open state machine over a sliding window.
// It is safe for concurrent use.
type Breaker struct {
	clock       warden.Clock
	threshold   float64
	minSamples  int
	openTimeout time.Duration

	mu       sync.Mutex
	state    State
	window   window
	openedAt time.Time
	probing  bool // a half-open probe is in flight
}

// NewBreaker creates a closed breaker. A nil clock uses the wall clock.
func NewBreaker(cfg Config, clock warden.Clock) *Breaker {
	if clock == nil {
		clock = warden.SystemClock{}
	}
	return &Breaker{
		clock:       clock,
		threshold:   cfg.ErrorThreshold,
		minSamples:  cfg.MinSamples,
		openTimeout: cfg.OpenTimeout,
		window:      newWindow(cfg.Window),
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by exactly one Done.
func (b *Breaker) Allow() bool {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) < b.openTimeout {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Done records the outcome of an allowed call. A cancelled call says
// nothing about backend health and is not counted.
func (b *Breaker) Done(err error) {
	switch {
	case err == nil:
		b.success()
	case errors.Is(err, context.Canceled):
		b.mu.Lock()
		b.probing = false
		b.mu.Unlock()
	default:
		b.failure(ErrorWeight(err))
	}
}

// Ready returns ErrOpen while the breaker rejects calls.
func (b *Breaker) Ready(context.Context) error {
	if b.State() == StateOpen {
		return ErrOpen
	}
	return nil
}

func (b *Breaker) success() {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window.record(0, now)
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.probing = false
		b.window.reset()
		slog.Info("backend circuit closed")
	}
}

func (b *Breaker) failure(weight float64) {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window.record(weight, now)

	switch b.state {
	case StateClosed:
		rate, n := b.window.rate(now)
		if n >= b.minSamples && rate >= b.threshold {
			b.trip(now, rate, n)
		}
	case StateHalfOpen:
		b.trip(now, 1, 1)
	}
}

// trip opens the breaker. Callers must hold mu.
func (b *Breaker) trip(now time.Time, rate float64, samples int) {
	b.state = StateOpen
	b.openedAt = now
	b.probing = false
	slog.LogAttrs(context.Background(), slog.LevelWarn, "backend circuit opened",
		slog.Float64("error_rate", rate),
		slog.Int("samples", samples),
		slog.Duration("retry_after", b.openTimeout),
	)
}

// ErrorWeight returns how much a failed call counts toward tripping.
// Timeouts weigh more than other failures: a store that hangs costs every
// caller the full per-call timeout.
func ErrorWeight(err error) float64 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.DeadlineExceeded):
		return 1.5
	default:
		return 1
	}
}
