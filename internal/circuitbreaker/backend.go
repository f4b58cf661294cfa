package circuitbreaker

import (
	"context"
	"fmt"

	warden "github.com/eugener/warden/internal"
)

// ErrOpen is returned by a guarded backend while its breaker is open.
var ErrOpen = fmt.Errorf("%w: circuit open", warden.ErrBackendUnavailable)

// Backend is a warden.Backend whose calls pass through a Breaker.
type Backend struct {
	next    warden.Backend
	breaker *Breaker
}

// Guard wraps next so its calls are short-circuited while b is open.
func Guard(next warden.Backend, b *Breaker) *Backend {
	return &Backend{next: next, breaker: b}
}

// Breaker returns the breaker guarding this backend.
func (g *Backend) Breaker() *Breaker { return g.breaker }

func (g *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !g.breaker.Allow() {
		return nil, false, ErrOpen
	}
	val, ok, err := g.next.Get(ctx, key)
	g.breaker.Done(err)
	return val, ok, err
}

func (g *Backend) Set(ctx context.Context, key string, val []byte) error {
	if !g.breaker.Allow() {
		return ErrOpen
	}
	err := g.next.Set(ctx, key, val)
	g.breaker.Done(err)
	return err
}

func (g *Backend) Delete(ctx context.Context, key string) error {
	if !g.breaker.Allow() {
		return ErrOpen
	}
	err := g.next.Delete(ctx, key)
	g.breaker.Done(err)
	return err
}

func (g *Backend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if !g.breaker.Allow() {
		return nil, ErrOpen
	}
	keys, err := g.next.Keys(ctx, prefix)
	g.breaker.Done(err)
	return keys, err
}
