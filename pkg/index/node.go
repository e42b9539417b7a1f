package index

import (
	"otree/pkg/cube"
	"otree/pkg/storage"
)

// Node is the reduced, read-only state of one cube, per the design:
// CubeId -> (maxWeightSeen, totalElements, state, hasChildren[2^d]).
type Node struct {
	MaxWeight     int32
	HasMaxWeight  bool // false means "open": no upper cutoff recorded yet
	TotalElements uint64
	State         storage.CubeState
	Children      ChildSet
}

func newNode(dims int) *Node {
	return &Node{Children: NewChildSet(dims)}
}

func (n *Node) clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Children = n.Children.Clone()
	return &c
}

// IsFlooded reports whether the cube has reached capacity and therefore
// has a finite MaxWeight.
func (n *Node) IsFlooded() bool {
	return n != nil && n.HasMaxWeight
}

// entry pairs a cube with its reduced node, used for ordered traversal.
type entry struct {
	id   cube.Id
	node *Node
}
