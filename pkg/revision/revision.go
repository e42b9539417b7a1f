// Package revision defines the immutable snapshot of indexing
// configuration a write is committed against.
package revision

import (
	"fmt"

	"otree/pkg/common"
	"otree/pkg/transform"
	"otree/pkg/weight"
)

// Revision is immutable once committed; any transformer-widening operation
// produces a new Revision with a higher Id. Files are tagged with the
// Revision that produced them; reads filter by Revision before applying
// index predicates.
type Revision struct {
	Id                   uint64
	Timestamp            int64
	IndexedColumns       []string
	Transformers         []*transform.Transformer
	DesiredCubeCapacity  uint64
	Seed                 weight.Seed
}

func New(id uint64, ts int64, cols []string, transformers []*transform.Transformer, capacity uint64, seed weight.Seed) *Revision {
	return &Revision{
		Id:                  id,
		Timestamp:           ts,
		IndexedColumns:      append([]string(nil), cols...),
		Transformers:        append([]*transform.Transformer(nil), transformers...),
		DesiredCubeCapacity: capacity,
		Seed:                seed,
	}
}

// Dims is d, the number of indexed columns, i.e. the OTree's fan-out
// exponent.
func (r *Revision) Dims() int { return len(r.IndexedColumns) }

// Point transforms a row's raw indexed values (in IndexedColumns order)
// into the normalized [0,1]^d point the cube geometry operates on.
func (r *Revision) Point(raw []interface{}) ([]float64, error) {
	if len(raw) != len(r.Transformers) {
		return nil, fmt.Errorf("revision: expected %d indexed values, got %d", len(r.Transformers), len(raw))
	}
	p := make([]float64, len(raw))
	for i, v := range raw {
		t := r.Transformers[i]
		val, err := t.Transform(v)
		if err != nil {
			return nil, err
		}
		p[i] = val
	}
	return p, nil
}

// NeedsWidening reports whether any transformer observed a value outside
// its fitted domain since the Revision was built, meaning the next commit
// should install a widened successor Revision.
func (r *Revision) NeedsWidening() bool {
	for _, t := range r.Transformers {
		if t.NeedsWidening() {
			return true
		}
	}
	return false
}

// Widen produces a new, higher-id Revision whose transformers each
// supersede the corresponding transformer here, merged against the
// observed out-of-range statistics in stats (same order as
// IndexedColumns).
func (r *Revision) Widen(newID uint64, ts int64, stats []*transform.Transformer) (*Revision, error) {
	widened := make([]*transform.Transformer, len(r.Transformers))
	for i, t := range r.Transformers {
		merged, err := t.Merge(stats[i])
		if err != nil {
			return nil, fmt.Errorf("revision: widening column %q: %w", r.IndexedColumns[i], err)
		}
		widened[i] = merged
	}
	return New(newID, ts, r.IndexedColumns, widened, r.DesiredCubeCapacity, r.Seed), nil
}

func (r *Revision) String() string {
	return fmt.Sprintf("Revision[id=%d, cols=%v, capacity=%d]", r.Id, r.IndexedColumns, r.DesiredCubeCapacity)
}

// Compare orders Revisions by Id, newest last, satisfying
// common.NodePayload so a table's Revision lineage can be kept in a
// common.Link the same way the catalog keeps a table's version chain.
func (r *Revision) Compare(o common.NodePayload) int {
	other := o.(*Revision)
	switch {
	case r.Id < other.Id:
		return -1
	case r.Id > other.Id:
		return 1
	default:
		return 0
	}
}
