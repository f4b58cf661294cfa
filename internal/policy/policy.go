// Package policy resolves per-key cache TTLs from an ordered prefix table.
package policy

import (
	"fmt"
	"strings"
	"time"

	warden "github.com/eugener/warden/internal"
)

// Rule maps a key prefix to a TTL.
type Rule struct {
	Prefix string        `yaml:"prefix" json:"prefix"`
	TTL    time.Duration `yaml:"ttl"    json:"ttl"`
}

// Table is an immutable, ordered list of rules with a mandatory default.
// Lookup walks the rules in order and the first matching prefix wins.
type Table struct {
	rules      []Rule
	defaultTTL time.Duration
}

// New validates rules and returns a Table. Invalid policies are configuration
// errors and are meant to stop startup.
func New(defaultTTL time.Duration, rules ...Rule) (*Table, error) {
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("default ttl %s: %w", defaultTTL, warden.ErrInvalidPolicy)
	}
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		if r.Prefix == "" {
			return nil, fmt.Errorf("rule %d: empty prefix: %w", i, warden.ErrInvalidPolicy)
		}
		if r.TTL <= 0 {
			return nil, fmt.Errorf("rule %q: ttl %s: %w", r.Prefix, r.TTL, warden.ErrInvalidPolicy)
		}
		if _, dup := seen[r.Prefix]; dup {
			return nil, fmt.Errorf("rule %q: duplicate prefix: %w", r.Prefix, warden.ErrInvalidPolicy)
		}
		seen[r.Prefix] = struct{}{}
	}
	return &Table{
		rules:      append([]Rule(nil), rules...),
		defaultTTL: defaultTTL,
	}, nil
}

// Must is like New but panics on error.
func Must(defaultTTL time.Duration, rules ...Rule) *Table {
	t, err := New(defaultTTL, rules...)
	if err != nil {
		panic(err)
	}
	return t
}

// TTL returns the TTL for key. It always resolves.
func (t *Table) TTL(key string) time.Duration {
	for _, r := range t.rules {
		if strings.HasPrefix(key, r.Prefix) {
			return r.TTL
		}
	}
	return t.defaultTTL
}

// Default returns the fallback TTL.
func (t *Table) Default() time.Duration { return t.defaultTTL }

// Rules returns a copy of the configured rules in evaluation order.
func (t *Table) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}
