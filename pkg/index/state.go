package index

import (
	"fmt"
	"strings"

	"github.com/google/btree"

	"otree/pkg/common"
	"otree/pkg/cube"
	"otree/pkg/storage"
)

// btreeItem adapts a cube.Id + Node pair to google/btree's Item, ordered by
// cube.Id.Compare.
type btreeItem struct {
	id   cube.Id
	node *Node
}

func (i *btreeItem) Less(than btree.Item) bool {
	return i.id.Compare(than.(*btreeItem).id) < 0
}

// State is the immutable, per-Revision reduction of every non-obsolete
// Block's tags. Readers take a State snapshot at
// query start and never see it mutate; writers derive the next State by
// applying a Proposal (see proposal.go), never by mutating this one.
type State struct {
	RevisionID uint64
	Dims       int
	tree       *btree.BTree
}

// Empty is the Index State before any Block has ever been committed for a
// Revision: only the (implicit) root cube exists, with no entries.
func Empty(revisionID uint64, dims int) *State {
	return &State{RevisionID: revisionID, Dims: dims, tree: btree.New(32)}
}

// Get returns the reduced Node for c, or (nil, false) if c has no
// committed entry.
func (s *State) Get(c cube.Id) (*Node, bool) {
	item := s.tree.Get(&btreeItem{id: c})
	if item == nil {
		return nil, false
	}
	return item.(*btreeItem).node, true
}

// Exists reports whether c has a committed entry (the design tree
// connectedness: "a cube exists only if its parent exists").
func (s *State) Exists(c cube.Id) bool {
	_, ok := s.Get(c)
	return ok
}

// ForEachAscending walks cubes in (depth, bits) order, i.e. every ancestor
// before any of its descendants.
func (s *State) ForEachAscending(fn func(c cube.Id, n *Node) bool) {
	s.tree.Ascend(func(item btree.Item) bool {
		bi := item.(*btreeItem)
		return fn(bi.id, bi.node)
	})
}

// Len is the number of cubes with a committed entry.
func (s *State) Len() int { return s.tree.Len() }

// Build reduces a flat list of live Block tags into a State, synthesizing
// "open" ancestor nodes for any cube whose parent chain isn't otherwise
// referenced, so the tree-connectedness invariant always holds on the
// returned State.
func Build(revisionID uint64, dims int, tags []storage.BlockTag) *State {
	s := Empty(revisionID, dims)
	for _, t := range tags {
		s.foldTag(t)
	}
	return s
}

func (s *State) foldTag(t storage.BlockTag) {
	s.ensureNode(t.CubeID)
	item := s.tree.Get(&btreeItem{id: t.CubeID}).(*btreeItem)
	n := item.node
	n.TotalElements += t.ElementCount
	if t.State == storage.StateFlooded {
		if !n.HasMaxWeight || t.MaxWeight > n.MaxWeight {
			n.MaxWeight = t.MaxWeight
			n.HasMaxWeight = true
		}
		n.State = storage.StateFlooded
	} else if t.State == storage.StateReplicated {
		n.State = storage.StateReplicated
	} else if !n.HasMaxWeight && n.State != storage.StateReplicated {
		// A new node's zero State reads as FLOODED; only a folded FLOODED
		// tag (which always sets HasMaxWeight) outranks a later ANNOUNCED.
		n.State = t.State
	}
	s.ensureAncestors(t.CubeID)
}

// ensureNode makes sure c has an entry, creating an empty/open one if
// necessary.
func (s *State) ensureNode(c cube.Id) *Node {
	key := &btreeItem{id: c}
	if existing := s.tree.Get(key); existing != nil {
		return existing.(*btreeItem).node
	}
	n := newNode(s.Dims)
	s.tree.ReplaceOrInsert(&btreeItem{id: c, node: n})
	return n
}

// ensureAncestors walks up from c to the root, creating any missing
// ancestor as an open cube with no rows of its own, and records c as one
// of its parent's present children.
func (s *State) ensureAncestors(c cube.Id) {
	cur := c
	for !cur.IsRoot() {
		parent := cur.Parent()
		parentNode := s.ensureNode(parent)
		parentNode.Children.Set(cur.ChildIndex())
		cur = parent
	}
}

// Clone makes a deep, independently mutable copy, used to give each
// parallel worker its own Index State snapshot to build an Overlay from
// (design notes §9: "Do not share mutable Index State across workers").
func (s *State) Clone() *State {
	out := Empty(s.RevisionID, s.Dims)
	s.ForEachAscending(func(c cube.Id, n *Node) bool {
		out.tree.ReplaceOrInsert(&btreeItem{id: c, node: n.clone()})
		return true
	})
	return out
}

// WithoutSubtree returns a copy of s with c and every descendant of c
// removed. The Analyzer/Optimizer uses this before re-running the
// Indexer over a subtree being compacted: the superseded
// cubes' FLOODED cutoffs must not constrain where the re-indexed rows
// land, since those Blocks are about to be replaced.
func (s *State) WithoutSubtree(c cube.Id) *State {
	out := Empty(s.RevisionID, s.Dims)
	s.ForEachAscending(func(id cube.Id, n *Node) bool {
		if c.Equal(id) || c.IsAncestorOf(id) {
			return true
		}
		out.tree.ReplaceOrInsert(&btreeItem{id: id, node: n.clone()})
		return true
	})
	return out
}

// NodeSummary is the comparable slice of Node the round-trip and rebase
// tests diff with google/go-cmp: MaxWeight/TotalElements/State, not the
// ChildSet bitmap, whose two backing implementations (bitset vs roaring)
// aren't themselves comparable with cmp.
type NodeSummary struct {
	MaxWeight     int32
	HasMaxWeight  bool
	TotalElements uint64
	State         storage.CubeState
}

// Snapshot flattens every cube into a plain map cmp.Diff can compare
// structurally, used to assert a checkpoint round-trip or a merged
// rebase reproduces the same State as a reference build.
func (s *State) Snapshot() map[string]NodeSummary {
	out := make(map[string]NodeSummary, s.Len())
	s.ForEachAscending(func(c cube.Id, n *Node) bool {
		out[c.Key()] = NodeSummary{
			MaxWeight:     n.MaxWeight,
			HasMaxWeight:  n.HasMaxWeight,
			TotalElements: n.TotalElements,
			State:         n.State,
		}
		return true
	})
	return out
}

// PPString pretty-prints the State's cubes in ascending order, one per
// line indented by depth, for debug logging. level controls verbosity:
// PPL0 prints only cube keys, PPL1 and above add each cube's state and
// element count.
func (s *State) PPString(level common.PPLevel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State[revision=%d dims=%d cubes=%d]\n", s.RevisionID, s.Dims, s.Len())
	s.ForEachAscending(func(c cube.Id, n *Node) bool {
		b.WriteString(common.RepeatStr("  ", c.Depth()))
		if level == common.PPL0 {
			fmt.Fprintf(&b, "%s\n", c.Key())
			return true
		}
		fmt.Fprintf(&b, "%s state=%s elements=%d\n", c.Key(), n.State, n.TotalElements)
		return true
	})
	return b.String()
}
