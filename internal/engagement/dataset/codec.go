package dataset

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// snapshot is the cached form of one extracted dataset. Derived enrichment
// fields are not serialized and are recomputed after decode.
type snapshot[T any] struct {
	Dataset     string    `json:"dataset"`
	Fingerprint string    `json:"fingerprint"`
	ExtractedAt time.Time `json:"extracted_at"`
	Rows        []T       `json:"rows"`
}

func encodeSnapshot[T any](snap snapshot[T]) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode %s snapshot: %w", snap.Dataset, err)
	}
	return raw, nil
}

func decodeSnapshot[T any](raw []byte, dataset, fingerprint string) (snapshot[T], error) {
	var snap snapshot[T]
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("decode %s snapshot: %w", dataset, err)
	}
	if snap.Dataset != dataset || snap.Fingerprint != fingerprint {
		return snap, fmt.Errorf("snapshot identity mismatch: got %s/%s", snap.Dataset, snap.Fingerprint)
	}
	if snap.Rows == nil {
		snap.Rows = []T{}
	}
	return snap, nil
}
