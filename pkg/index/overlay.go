package index

import (
	"otree/pkg/cube"
	"otree/pkg/storage"
)

// Overlay is a worker-local, mutable view of a State: a clone the Indexer
// descends and updates while placing one partition's rows, never touching
// the shared immutable State other workers are reading (the design, design
// notes §9). Its Diff is the "update proposal" the designstep (plus
// Committer step 2) asks the Indexer to produce.
type Overlay struct {
	base    *State
	local   *State
	touched map[string]cube.Id
}

// NewOverlay clones base so this worker can mutate freely.
func NewOverlay(base *State) *Overlay {
	return &Overlay{
		base:    base,
		local:   base.Clone(),
		touched: make(map[string]cube.Id),
	}
}

// Get returns the cube's current node as seen by this overlay (reflecting
// any mutations already applied within this worker's pass).
func (o *Overlay) Get(c cube.Id) (*Node, bool) {
	return o.local.Get(c)
}

// Exists reports whether c (or a synthesized open ancestor of some other
// touched cube) already has an entry.
func (o *Overlay) Exists(c cube.Id) bool {
	return o.local.Exists(c)
}

// touch marks c as having been created or modified by this worker, and
// returns its node, creating one (and its ancestors) if necessary.
func (o *Overlay) touch(c cube.Id) *Node {
	n := o.local.ensureNode(c)
	o.local.ensureAncestors(c)
	o.touched[c.Key()] = c
	cur := c
	for !cur.IsRoot() {
		parent := cur.Parent()
		o.touched[parent.Key()] = parent
		cur = parent
	}
	return n
}

// AddElements records count additional rows routed into c this pass.
func (o *Overlay) AddElements(c cube.Id, count uint64) {
	n := o.touch(c)
	n.TotalElements += count
}

// SetMaxWeight marks c FLOODED with the given cutoff (the designstep 4:
// "set its tentative maxWeight to the desiredCapacity-th smallest weight
// among its assigned rows").
func (o *Overlay) SetMaxWeight(c cube.Id, w int32) {
	n := o.touch(c)
	n.MaxWeight = w
	n.HasMaxWeight = true
	n.State = storage.StateFlooded
}

// Diff returns the cubes this overlay created or modified, as a Proposal
// ready to merge with other workers' proposals before commit. Element
// counts are stored as deltas against the base snapshot (not absolute
// totals) so that merging proposals from several partitions, each cloned
// from the same base, never double-counts rows the base already had.
func (o *Overlay) Diff() *Proposal {
	p := &Proposal{RevisionID: o.local.RevisionID, Dims: o.local.Dims, Nodes: make(map[string]*Node, len(o.touched))}
	for key, id := range o.touched {
		n, _ := o.local.Get(id)
		delta := n.clone()
		if baseNode, ok := o.base.Get(id); ok {
			delta.TotalElements = n.TotalElements - baseNode.TotalElements
		}
		p.Nodes[key] = delta
		p.ids = append(p.ids, id)
	}
	return p
}
