package index

import "otree/pkg/cube"

// Proposal is the set of cubes one worker's Overlay created or changed
// while indexing a partition (the design: "an update proposal for Index
// State (new cubes, new maxWeights, new states)"). Several proposals (one
// per parallel partition) can be combined with Merge and folded onto a
// State with Apply; the Committer (pkg/commit) calls neither, and the
// Block tags it commits come from the Block Writer.
type Proposal struct {
	RevisionID uint64
	Dims       int
	Nodes      map[string]*Node
	ids        []cube.Id
}

// Merge combines several partitions' proposals for the same Revision into
// one, summing element counts and taking the max over MaxWeight /
// OR-ing presence bits for cubes more than one worker touched.
func Merge(proposals []*Proposal) *Proposal {
	if len(proposals) == 0 {
		return nil
	}
	out := &Proposal{
		RevisionID: proposals[0].RevisionID,
		Dims:       proposals[0].Dims,
		Nodes:      make(map[string]*Node),
	}
	seen := make(map[string]cube.Id)
	for _, p := range proposals {
		if p == nil {
			continue
		}
		for _, id := range p.ids {
			key := id.Key()
			n := p.Nodes[key]
			existing, ok := out.Nodes[key]
			if !ok {
				out.Nodes[key] = n.clone()
				seen[key] = id
				continue
			}
			existing.TotalElements += n.TotalElements
			if n.HasMaxWeight && (!existing.HasMaxWeight || n.MaxWeight > existing.MaxWeight) {
				existing.MaxWeight = n.MaxWeight
				existing.HasMaxWeight = true
			}
			if n.State > existing.State {
				existing.State = n.State
			}
			for k := 0; k < (1 << uint(out.Dims)); k++ {
				if n.Children.IsSet(k) {
					existing.Children.Set(k)
				}
			}
		}
	}
	for key, id := range seen {
		out.ids = append(out.ids, id)
		_ = key
	}
	return out
}

// Apply folds a Proposal onto base, returning the next State. base is left
// untouched (it remains a valid snapshot for any reader still holding it).
func Apply(base *State, p *Proposal) *State {
	next := base.Clone()
	if p == nil {
		return next
	}
	for _, id := range p.ids {
		n := p.Nodes[id.Key()]
		existing := next.ensureNode(id)
		existing.TotalElements += n.TotalElements
		existing.HasMaxWeight = n.HasMaxWeight
		existing.MaxWeight = n.MaxWeight
		if n.State > existing.State {
			existing.State = n.State
		}
		for k := 0; k < (1 << uint(next.Dims)); k++ {
			if n.Children.IsSet(k) {
				existing.Children.Set(k)
			}
		}
		next.ensureAncestors(id)
	}
	return next
}
