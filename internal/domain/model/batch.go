package model

import (
	"fmt"
	"sort"
	"time"
)

// Batch is one export archive (a directory or a zip file).
type Batch struct {
	ID         string
	Path       string
	ExportedAt time.Time
}

// BatchOrder ranks batches by recency. A higher rank wins merge ties.
type BatchOrder struct {
	rank map[string]int
	ids  []string
}

// NewBatchOrder orders batches by ExportedAt ascending. Two batches with the
// same export time would make recency ambiguous and are rejected.
func NewBatchOrder(batches []Batch) (BatchOrder, error) {
	sorted := make([]Batch, len(batches))
	copy(sorted, batches)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ExportedAt.Before(sorted[j].ExportedAt) })

	o := BatchOrder{rank: make(map[string]int, len(sorted)), ids: make([]string, 0, len(sorted))}
	for i, b := range sorted {
		if b.ID == "" {
			return BatchOrder{}, fmt.Errorf("%w: empty batch id", ErrUnknownBatch)
		}
		if _, dup := o.rank[b.ID]; dup {
			return BatchOrder{}, fmt.Errorf("duplicate batch id %q", b.ID)
		}
		if i > 0 && sorted[i-1].ExportedAt.Equal(b.ExportedAt) {
			return BatchOrder{}, fmt.Errorf("%w: %q and %q", ErrDuplicateRecency, sorted[i-1].ID, b.ID)
		}
		o.rank[b.ID] = i
		o.ids = append(o.ids, b.ID)
	}
	return o, nil
}

// OrderOf builds an order directly from ids listed oldest first.
func OrderOf(ids ...string) BatchOrder {
	o := BatchOrder{rank: make(map[string]int, len(ids)), ids: append([]string(nil), ids...)}
	for i, id := range ids {
		o.rank[id] = i
	}
	return o
}

// Rank returns the recency rank of id; ok is false for unknown batches.
func (o BatchOrder) Rank(id string) (int, bool) {
	r, ok := o.rank[id]
	return r, ok
}

// Newer reports whether batch a outranks batch b. Unknown batches rank
// below all known ones and are ordered among themselves by id.
func (o BatchOrder) Newer(a, b string) bool {
	ra, oka := o.rank[a]
	rb, okb := o.rank[b]
	switch {
	case oka && okb:
		return ra > rb
	case oka != okb:
		return oka
	default:
		return a > b
	}
}

// IDs returns batch ids oldest first.
func (o BatchOrder) IDs() []string { return append([]string(nil), o.ids...) }

// Len returns the number of known batches.
func (o BatchOrder) Len() int { return len(o.ids) }
