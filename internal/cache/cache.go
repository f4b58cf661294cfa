// Package cache provides a policy-driven key/value cache over a pluggable backend.
//
// Entries carry the time they were written and the schema version that wrote
// them. Both are checked lazily on read: an entry older than the TTL resolved
// for its key, written under another schema version, or not decodable is
// treated as absent and removed. Cache faults never reach the caller; the
// cache degrades to "no cache".
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	warden "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/policy"
)

const (
	// DefaultNamespace prefixes every physical key when Options.Namespace is empty.
	DefaultNamespace = "warden"
	// DefaultTimeout bounds each backend call when Options.Timeout is zero.
	DefaultTimeout = 2 * time.Second

	lockStripes = 256
)

// Invalidation reasons reported in logs and Info.
const (
	reasonCorrupt         = "corrupt"
	reasonExpired         = "expired"
	reasonVersionMismatch = "version_mismatch"
)

// Options configures a PolicyCache.
type Options struct {
	Namespace string        // physical key prefix, default DefaultNamespace
	Version   string        // schema version stamped on every write
	Clock     warden.Clock  // nil = warden.SystemClock
	Timeout   time.Duration // per backend call; negative disables the bound
}

// PolicyCache stores opaque values with per-key TTL policy and schema
// version invalidation. It is safe for concurrent use.
type PolicyCache struct {
	backend warden.Backend
	policy  *policy.Table
	clock   warden.Clock
	prefix  string
	version string
	timeout time.Duration

	// locks serialize writes and invalidating deletes per key stripe so an
	// eviction never removes a value written after it was judged invalid.
	locks [lockStripes]sync.Mutex
}

// New creates a PolicyCache over backend using table to resolve TTLs.
func New(backend warden.Backend, table *policy.Table, opts Options) (*PolicyCache, error) {
	if backend == nil {
		return nil, fmt.Errorf("cache backend is nil: %w", warden.ErrInvalidConfig)
	}
	if table == nil {
		return nil, fmt.Errorf("cache policy is nil: %w", warden.ErrInvalidConfig)
	}
	ns := opts.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	if strings.Contains(ns, ":") {
		return nil, fmt.Errorf("namespace %q must not contain ':': %w", ns, warden.ErrInvalidConfig)
	}
	clock := opts.Clock
	if clock == nil {
		clock = warden.SystemClock{}
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &PolicyCache{
		backend: backend,
		policy:  table,
		clock:   clock,
		prefix:  ns + ":",
		version: opts.Version,
		timeout: timeout,
	}, nil
}

// Version returns the schema version this cache accepts and writes.
func (c *PolicyCache) Version() string { return c.version }

// TTL returns the effective TTL for key.
func (c *PolicyCache) TTL(key string) time.Duration { return c.policy.TTL(key) }

// Get returns the payload stored under key decoded as T. Missing, expired,
// version-mismatched, and undecodable entries all report false; the last
// three are removed from the backend.
func Get[T any](ctx context.Context, c *PolicyCache, key string) (T, bool) {
	var zero T
	ctx, cancel := c.bound(ctx)
	defer cancel()

	e, blob, ok := c.lookup(ctx, key)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		c.evict(ctx, key, blob, reasonCorrupt)
		return zero, false
	}
	return v, true
}

// Has reports whether a valid entry exists for key. It applies the same
// validation as Get, including removal of invalid entries.
func (c *PolicyCache) Has(ctx context.Context, key string) bool {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	_, _, ok := c.lookup(ctx, key)
	return ok
}

// SetOption customizes a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttlHint time.Duration
}

// WithTTLHint documents the freshness the caller expects for this write.
// It does not change what is stored: the effective TTL is always resolved
// from the policy table at read time. A hint that disagrees with the policy
// is logged at debug level.
func WithTTLHint(d time.Duration) SetOption {
	return func(o *setOptions) { o.ttlHint = d }
}

// Set stores payload under key, replacing any previous entry. Failures are
// logged and swallowed.
func (c *PolicyCache) Set(ctx context.Context, key string, payload any, opts ...SetOption) {
	var so setOptions
	for _, o := range opts {
		o(&so)
	}
	if so.ttlHint != 0 {
		if ttl := c.policy.TTL(key); ttl != so.ttlHint {
			slog.LogAttrs(ctx, slog.LevelDebug, "cache ttl hint differs from policy",
				slog.String("key", key),
				slog.Duration("hint", so.ttlHint),
				slog.Duration("policy", ttl),
			)
		}
	}

	blob, err := encodeEntry(payload, c.clock.Now(), c.version)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache encode failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()

	pk := c.physical(key)
	mu := c.lockFor(pk)
	mu.Lock()
	err = c.backend.Set(ctx, pk, blob)
	mu.Unlock()
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache write failed",
			slog.String("key", key),
			slog.Int("bytes", len(blob)),
			slog.String("error", err.Error()),
		)
	}
}

// Remove deletes key. Removing a missing key is a no-op.
func (c *PolicyCache) Remove(ctx context.Context, key string) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	pk := c.physical(key)
	mu := c.lockFor(pk)
	mu.Lock()
	err := c.backend.Delete(ctx, pk)
	mu.Unlock()
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache remove failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Clear removes every entry in this cache's namespace and returns how many
// keys it deleted. Keys outside the namespace are left untouched.
func (c *PolicyCache) Clear(ctx context.Context) int {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	keys, err := c.backend.Keys(ctx, c.prefix)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache clear failed",
			slog.String("namespace", c.prefix),
			slog.String("error", err.Error()),
		)
		return 0
	}
	n := 0
	for _, pk := range keys {
		mu := c.lockFor(pk)
		mu.Lock()
		err := c.backend.Delete(ctx, pk)
		mu.Unlock()
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "cache clear failed",
				slog.String("key", pk),
				slog.String("error", err.Error()),
			)
			continue
		}
		n++
	}
	slog.LogAttrs(ctx, slog.LevelInfo, "cache cleared",
		slog.String("namespace", c.prefix),
		slog.Int("removed", n),
	)
	return n
}

// Keys returns the sorted logical keys stored in this namespace, valid or not.
func (c *PolicyCache) Keys(ctx context.Context) []string {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	physical, err := c.backend.Keys(ctx, c.prefix)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache list keys failed",
			slog.String("error", err.Error()),
		)
		return nil
	}
	out := make([]string, 0, len(physical))
	for _, pk := range physical {
		out = append(out, strings.TrimPrefix(pk, c.prefix))
	}
	sort.Strings(out)
	return out
}

// SizeBytes returns the total serialized size of all entries in this namespace.
func (c *PolicyCache) SizeBytes(ctx context.Context) uint64 {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	physical, err := c.backend.Keys(ctx, c.prefix)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache size failed",
			slog.String("error", err.Error()),
		)
		return 0
	}
	var total uint64
	for _, pk := range physical {
		blob, ok, err := c.backend.Get(ctx, pk)
		if err != nil || !ok {
			continue
		}
		total += uint64(len(blob))
	}
	return total
}

// Info describes a stored entry for debugging.
type Info struct {
	Key          string        `json:"key"`
	Age          time.Duration `json:"age_ns"`
	SizeBytes    uint64        `json:"size_bytes"`
	TTL          time.Duration `json:"ttl_ns"`
	Version      string        `json:"version"`
	Expired      bool          `json:"expired"`
	VersionMatch bool          `json:"version_match"`
	Corrupt      bool          `json:"corrupt"`
}

// Info reports age and size of the entry stored under key without
// validating or removing it. It returns false only when nothing is stored.
func (c *PolicyCache) Info(ctx context.Context, key string) (Info, bool) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	blob, ok, err := c.backend.Get(ctx, c.physical(key))
	if err != nil || !ok {
		return Info{}, false
	}
	info := Info{
		Key:       key,
		SizeBytes: uint64(len(blob)),
		TTL:       c.policy.TTL(key),
	}
	storedAt, version, valid := peekEntry(blob)
	if !valid {
		info.Corrupt = true
		return info, true
	}
	info.Age = c.clock.Now().Sub(storedAt)
	info.Version = version
	info.VersionMatch = version == c.version
	info.Expired = info.Age > info.TTL
	return info, true
}

// lookup fetches and validates the envelope for key. Invalid entries are
// evicted. Backend errors are logged and reported as a miss.
func (c *PolicyCache) lookup(ctx context.Context, key string) (entry, []byte, bool) {
	blob, ok, err := c.backend.Get(ctx, c.physical(key))
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return entry{}, nil, false
	}
	if !ok {
		return entry{}, nil, false
	}
	e, err := decodeEntry(blob)
	if err != nil {
		c.evict(ctx, key, blob, reasonCorrupt)
		return entry{}, nil, false
	}
	if reason := c.check(key, e); reason != "" {
		c.evict(ctx, key, blob, reason)
		return entry{}, nil, false
	}
	return e, blob, true
}

// check returns the reason e is invalid for key, or "" if it is valid.
func (c *PolicyCache) check(key string, e entry) string {
	if e.Version != c.version {
		return reasonVersionMismatch
	}
	if c.clock.Now().Sub(e.storedAt()) > c.policy.TTL(key) {
		return reasonExpired
	}
	return ""
}

// evict deletes key if it still holds observed. A concurrent Set that
// replaced the blob wins.
func (c *PolicyCache) evict(ctx context.Context, key string, observed []byte, reason string) {
	pk := c.physical(key)
	mu := c.lockFor(pk)
	mu.Lock()
	defer mu.Unlock()

	cur, ok, err := c.backend.Get(ctx, pk)
	if err != nil || !ok || !bytes.Equal(cur, observed) {
		return
	}
	if err := c.backend.Delete(ctx, pk); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache evict failed",
			slog.String("key", key),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	level := slog.LevelDebug
	if reason == reasonCorrupt {
		level = slog.LevelWarn
	}
	slog.LogAttrs(ctx, level, "cache entry evicted",
		slog.String("key", key),
		slog.String("reason", reason),
	)
}

func (c *PolicyCache) physical(key string) string { return c.prefix + key }

func (c *PolicyCache) lockFor(pk string) *sync.Mutex {
	return &c.locks[xxhash.Sum64String(pk)%lockStripes]
}

// bound applies the per-call backend timeout.
func (c *PolicyCache) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout < 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
