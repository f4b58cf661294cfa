package metrics

import (
	"sync"

	warden "github.com/eugener/warden/internal"
)

// window is a fixed-capacity ring of the most recent samples across all keys.
// Once full, each push overwrites the oldest sample.
type window struct {
	mu   sync.Mutex
	buf  []warden.QuerySample
	next int
	full bool
}

func newWindow(size int) *window {
	return &window{buf: make([]warden.QuerySample, size)}
}

func (w *window) push(s warden.QuerySample) {
	w.mu.Lock()
	w.buf[w.next] = s
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
	w.mu.Unlock()
}

func (w *window) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lenLocked()
}

func (w *window) lenLocked() int {
	if w.full {
		return len(w.buf)
	}
	return w.next
}

// recent returns up to limit samples, newest first.
func (w *window) recent(limit int) []warden.QuerySample {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := min(max(limit, 0), w.lenLocked())
	out := make([]warden.QuerySample, n)
	idx := w.next
	for i := range n {
		idx--
		if idx < 0 {
			idx = len(w.buf) - 1
		}
		out[i] = w.buf[idx]
	}
	return out
}

// all returns every retained sample, newest first.
func (w *window) all() []warden.QuerySample {
	return w.recent(len(w.buf))
}

func (w *window) reset() {
	w.mu.Lock()
	clear(w.buf)
	w.next = 0
	w.full = false
	w.mu.Unlock()
}
