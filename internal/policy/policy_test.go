package policy

import (
	"errors"
	"testing"
	"time"

	warden "github.com/eugener/warden/internal"
)

func TestTableTTL(t *testing.T) {
	t.Parallel()

	tbl, err := New(time.Minute,
		Rule{Prefix: "session:", TTL: 30 * time.Minute},
		Rule{Prefix: "list-view:", TTL: 5 * time.Minute},
		Rule{Prefix: "list-view:tenant1:", TTL: time.Hour}, // shadowed by the rule above
		Rule{Prefix: "detail-view:", TTL: 10 * time.Minute},
	)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key  string
		want time.Duration
	}{
		{"session:abc", 30 * time.Minute},
		{"list-view:tenant1", 5 * time.Minute},
		{"list-view:tenant1:clients", 5 * time.Minute},
		{"detail-view:42", 10 * time.Minute},
		{"unknown", time.Minute},
		{"", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()
			if got := tbl.TTL(tt.key); got != tt.want {
				t.Errorf("TTL(%q) = %s, want %s", tt.key, got, tt.want)
			}
		})
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		defaultTTL time.Duration
		rules      []Rule
	}{
		{"zero default", 0, nil},
		{"negative default", -time.Second, nil},
		{"negative rule", time.Minute, []Rule{{Prefix: "a:", TTL: -time.Second}}},
		{"empty prefix", time.Minute, []Rule{{Prefix: "", TTL: time.Second}}},
		{"duplicate prefix", time.Minute, []Rule{{Prefix: "a:", TTL: time.Second}, {Prefix: "a:", TTL: time.Minute}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.defaultTTL, tt.rules...)
			if !errors.Is(err, warden.ErrInvalidPolicy) {
				t.Errorf("err = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestRulesIsCopy(t *testing.T) {
	t.Parallel()
	tbl := Must(time.Minute, Rule{Prefix: "a:", TTL: time.Second})
	rules := tbl.Rules()
	rules[0].TTL = time.Hour
	if got := tbl.TTL("a:1"); got != time.Second {
		t.Errorf("table mutated through Rules(): TTL = %s", got)
	}
}
