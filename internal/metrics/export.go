package metrics

import (
	"encoding/json"
	"time"

	warden "github.com/eugener/warden/internal"
)

// Snapshot is a point-in-time copy of the collector's state.
type Snapshot struct {
	ExportedAt time.Time                  `json:"exported_at"`
	Summary    Summary                    `json:"summary"`
	Stats      map[string]warden.KeyStats `json:"stats"`
	Samples    []warden.QuerySample       `json:"samples"`
}

// Snapshot copies the current state. Samples are newest first.
func (c *Collector) Snapshot() Snapshot {
	c.gate.RLock()
	defer c.gate.RUnlock()
	return Snapshot{
		ExportedAt: c.clock.Now().UTC(),
		Summary:    c.summaryLocked(),
		Stats:      c.allStatsLocked(),
		Samples:    c.window.all(),
	}
}

// Export serializes a Snapshot as JSON. It does not modify the collector.
func (c *Collector) Export() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}
