// Package indexer implements the Indexer: the pure, per-partition core
// algorithm that walks the OTree from the root, places each row in the
// shallowest cube with room for it, and floods cubes that exceed their
// Revision's desired capacity.
package indexer

import (
	"sort"

	"otree/pkg/cube"
	"otree/pkg/index"
	"otree/pkg/revision"
	"otree/pkg/storage"
	"otree/pkg/weight"
)

// Placement is one row's outcome: the cube it was finally routed to and
// the weight that routing decision was made on.
type Placement struct {
	Row    storage.Row
	Weight int32
	Cube   cube.Id
}

// Result is a complete indexing pass over one partition: every row's
// final placement, and the Index State delta it implies (ready to merge
// with sibling partitions' Results before commit).
type Result struct {
	Placements []Placement
	Proposal   *index.Proposal
}

// row carries a pending placement's working state: its transformed point,
// computed weight, and original batch position (used to restore batch
// order once placement is done; at the capacity boundary, rows whose
// weight ties the cutoff all spill, whatever their position).
type row struct {
	source storage.Row
	point  cube.Point
	weight int32
	pos    int
}

// Index runs the core algorithm for one partition of rows against a
// Revision and a base Index State snapshot. It never mutates base: all
// work happens on a private Overlay, and the caller merges the returned
// Result's Proposal across partitions before applying it (the design,
// design notes §9: "Do not share mutable Index State across workers").
func Index(rev *revision.Revision, base *index.State, rows []storage.Row) (*Result, error) {
	overlay := index.NewOverlay(base)

	pending := make([]row, 0, len(rows))
	for i, r := range rows {
		pt, err := rev.Point(r.Indexed)
		if err != nil {
			return nil, err
		}
		w := weight.Of(asWeightColumns(r.Keys), rev.Seed)
		pending = append(pending, row{source: r, point: cube.Point(pt), weight: w, pos: i})
	}

	a := &assigner{overlay: overlay, capacity: rev.DesiredCubeCapacity}
	a.assign(pending, cube.Root(rev.Dims()))

	sort.SliceStable(a.out, func(i, j int) bool { return a.out[i].pos < a.out[j].pos })

	placements := make([]Placement, len(a.out))
	for i, o := range a.out {
		placements[i] = o.Placement
	}
	return &Result{Placements: placements, Proposal: overlay.Diff()}, nil
}

func asWeightColumns(keys [][]byte) []weight.Column {
	cols := make([]weight.Column, len(keys))
	for i, k := range keys {
		cols[i] = weight.Column(k)
	}
	return cols
}

// assigner carries the mutable state threaded through one partition's
// recursive descent: the Overlay being built up and the capacity every
// cube is checked against.
type assigner struct {
	overlay  *index.Overlay
	capacity uint64
	out      []placed
}

// placed pairs a finalized Placement with its original batch position, so
// the recursive descent (which visits cubes, not rows, in order) can
// restore batch order before returning to the caller.
type placed struct {
	Placement
	pos int
}

// group batches the rows routed to the same child cube so each child is
// visited at most once per parent call.
type group struct {
	id   cube.Id
	rows []row
}

// assign places rowsAtCube into c, recursing into children for rows that
// overflow an already-flooded c, or that spill because c now exceeds its
// desired capacity.
func (a *assigner) assign(rowsAtCube []row, c cube.Id) {
	if len(rowsAtCube) == 0 {
		return
	}

	stay := rowsAtCube
	if n, ok := a.overlay.Get(c); ok && n.HasMaxWeight {
		stay = nil
		overflow := make(map[string]*group)
		for _, r := range rowsAtCube {
			if r.weight < n.MaxWeight {
				stay = append(stay, r)
				continue
			}
			child := c.ChildContaining(r.point)
			g := overflow[child.Key()]
			if g == nil {
				g = &group{id: child}
				overflow[child.Key()] = g
			}
			g.rows = append(g.rows, r)
		}
		for _, g := range overflow {
			a.assign(g.rows, g.id)
		}
	}

	if len(stay) == 0 {
		return
	}

	baseCount := uint64(0)
	if n, ok := a.overlay.Get(c); ok {
		baseCount = n.TotalElements
	}
	room := int64(a.capacity) - int64(baseCount)
	if room < 0 {
		room = 0
	}

	if int64(len(stay)) <= room {
		a.finalize(stay, c)
		return
	}

	sort.SliceStable(stay, func(i, j int) bool { return stay[i].weight < stay[j].weight })
	keep := int(room)
	if keep > len(stay) {
		keep = len(stay)
	}
	for keep > 0 && keep < len(stay) && stay[keep-1].weight == stay[keep].weight {
		keep--
	}

	kept := stay[:keep]
	spill := stay[keep:]
	if len(spill) > 0 {
		a.overlay.SetMaxWeight(c, spill[0].weight)
	}
	a.finalize(kept, c)

	overflow := make(map[string]*group)
	for _, r := range spill {
		child := c.ChildContaining(r.point)
		g := overflow[child.Key()]
		if g == nil {
			g = &group{id: child}
			overflow[child.Key()] = g
		}
		g.rows = append(g.rows, r)
	}
	for _, g := range overflow {
		a.assign(g.rows, g.id)
	}
}

func (a *assigner) finalize(rows []row, c cube.Id) {
	if len(rows) == 0 {
		return
	}
	a.overlay.AddElements(c, uint64(len(rows)))
	for _, r := range rows {
		a.out = append(a.out, placed{
			Placement: Placement{Row: r.source, Weight: r.weight, Cube: c},
			pos:       r.pos,
		})
	}
}
