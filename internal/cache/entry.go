package cache

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// entry is the serialized envelope written to the backend. The payload is
// kept as raw JSON so validity can be checked before the payload is decoded
// into the caller's type.
type entry struct {
	Payload  json.RawMessage `json:"payload"`
	StoredAt int64           `json:"stored_at"` // UnixNano
	Version  string          `json:"version"`
}

func (e entry) storedAt() time.Time { return time.Unix(0, e.StoredAt) }

func encodeEntry(payload any, now time.Time, version string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entry{Payload: data, StoredAt: now.UnixNano(), Version: version})
}

func decodeEntry(blob []byte) (entry, error) {
	var e entry
	err := json.Unmarshal(blob, &e)
	return e, err
}

// peekEntry reads the envelope metadata without decoding the payload.
// ok is false when the blob is not a well-formed envelope.
func peekEntry(blob []byte) (storedAt time.Time, version string, ok bool) {
	if !gjson.ValidBytes(blob) {
		return time.Time{}, "", false
	}
	res := gjson.GetManyBytes(blob, "stored_at", "version")
	if res[0].Type != gjson.Number || !res[1].Exists() {
		return time.Time{}, "", false
	}
	return time.Unix(0, res[0].Int()), res[1].String(), true
}
