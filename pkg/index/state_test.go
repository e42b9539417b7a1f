package index

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otree/pkg/common"
	"otree/pkg/cube"
	"otree/pkg/storage"
)

func TestEmptyHasOnlyImplicitRoot(t *testing.T) {
	s := Empty(1, 2)
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Exists(cube.Root(2)))
}

func TestBuildFoldsTagIntoNode(t *testing.T) {
	root := cube.Root(2)
	child := root.Child(1)
	tags := []storage.BlockTag{
		{CubeID: child, MaxWeight: 100, State: storage.StateFlooded, ElementCount: 10},
	}
	s := Build(7, 2, tags)
	n, ok := s.Get(child)
	require.True(t, ok)
	assert.Equal(t, uint64(10), n.TotalElements)
	assert.True(t, n.HasMaxWeight)
	assert.Equal(t, int32(100), n.MaxWeight)
}

func TestBuildSynthesizesMissingAncestors(t *testing.T) {
	root := cube.Root(2)
	grandchild := root.Child(0).Child(3)
	tags := []storage.BlockTag{
		{CubeID: grandchild, State: storage.StateAnnounced, ElementCount: 1},
	}
	s := Build(1, 2, tags)
	assert.True(t, s.Exists(root.Child(0)), "parent of a tagged cube must exist")
	parent, ok := s.Get(root.Child(0))
	require.True(t, ok)
	assert.True(t, parent.Children.IsSet(grandchild.ChildIndex()))
}

func TestBuildSumsMultipleTagsForSameCube(t *testing.T) {
	root := cube.Root(1)
	c := root.Child(0)
	tags := []storage.BlockTag{
		{CubeID: c, State: storage.StateAnnounced, ElementCount: 3},
		{CubeID: c, State: storage.StateAnnounced, ElementCount: 4},
	}
	s := Build(1, 1, tags)
	n, ok := s.Get(c)
	require.True(t, ok)
	assert.Equal(t, uint64(7), n.TotalElements)
}

func TestFoldFloodedDominatesAnnounced(t *testing.T) {
	root := cube.Root(1)
	c := root.Child(0)
	tags := []storage.BlockTag{
		{CubeID: c, State: storage.StateFlooded, MaxWeight: 50, ElementCount: 1},
		{CubeID: c, State: storage.StateAnnounced, ElementCount: 1},
	}
	s := Build(1, 1, tags)
	n, _ := s.Get(c)
	assert.Equal(t, storage.StateFlooded, n.State)
}

func TestForEachAscendingOrdersAncestorBeforeDescendant(t *testing.T) {
	root := cube.Root(2)
	deep := root.Child(0).Child(1).Child(2)
	s := Build(1, 2, []storage.BlockTag{{CubeID: deep, ElementCount: 1}})

	var seen []cube.Id
	s.ForEachAscending(func(c cube.Id, n *Node) bool {
		seen = append(seen, c)
		return true
	})
	// root, two synthesized ancestors, and deep itself
	require.Len(t, seen, 4)
	for i := 1; i < len(seen); i++ {
		assert.True(t, seen[i-1].Compare(seen[i]) < 0)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	root := cube.Root(1)
	c := root.Child(0)
	base := Build(1, 1, []storage.BlockTag{{CubeID: c, ElementCount: 5}})
	clone := base.Clone()

	n, _ := clone.Get(c)
	n.TotalElements = 999

	original, _ := base.Get(c)
	assert.Equal(t, uint64(5), original.TotalElements)
}

func TestOverlayAddElementsIsolatedFromBase(t *testing.T) {
	root := cube.Root(1)
	c := root.Child(0)
	base := Build(1, 1, []storage.BlockTag{{CubeID: c, ElementCount: 5}})

	o := NewOverlay(base)
	o.AddElements(c, 3)

	n, _ := o.Get(c)
	assert.Equal(t, uint64(8), n.TotalElements)

	baseNode, _ := base.Get(c)
	assert.Equal(t, uint64(5), baseNode.TotalElements, "base must not be mutated by an overlay")
}

func TestOverlayTouchCreatesAncestorChain(t *testing.T) {
	root := cube.Root(2)
	deep := root.Child(2).Child(1)
	base := Empty(1, 2)

	o := NewOverlay(base)
	o.AddElements(deep, 1)

	assert.True(t, o.Exists(deep.Parent()))
	assert.True(t, o.Exists(root))
}

func TestDiffProducesPerCubeDelta(t *testing.T) {
	root := cube.Root(1)
	c := root.Child(0)
	base := Build(1, 1, []storage.BlockTag{{CubeID: c, ElementCount: 5}})

	o := NewOverlay(base)
	o.AddElements(c, 3)
	p := o.Diff()

	n, ok := p.Nodes[c.Key()]
	require.True(t, ok)
	assert.Equal(t, uint64(3), n.TotalElements, "diff must carry the delta, not the absolute total")
}

func TestMergeOfTwoPartitionsDoesNotDoubleCountBaseTotal(t *testing.T) {
	root := cube.Root(1)
	c := root.Child(0)
	base := Build(1, 1, []storage.BlockTag{{CubeID: c, ElementCount: 5}})

	o1 := NewOverlay(base)
	o1.AddElements(c, 2)
	o2 := NewOverlay(base)
	o2.AddElements(c, 3)

	merged := Merge([]*Proposal{o1.Diff(), o2.Diff()})
	next := Apply(base, merged)

	n, ok := next.Get(c)
	require.True(t, ok)
	assert.Equal(t, uint64(10), n.TotalElements, "base(5) + worker1(2) + worker2(3), each counted once")
}

func TestApplyPreservesUntouchedCubes(t *testing.T) {
	root := cube.Root(1)
	a := root.Child(0)
	b := root.Child(1)
	base := Build(1, 1, []storage.BlockTag{
		{CubeID: a, ElementCount: 1},
		{CubeID: b, ElementCount: 2},
	})

	o := NewOverlay(base)
	o.AddElements(a, 10)
	next := Apply(base, o.Diff())

	nb, ok := next.Get(b)
	require.True(t, ok)
	assert.Equal(t, uint64(2), nb.TotalElements, "cube b was never touched by this worker")
}

func TestApplyLeavesBaseSnapshotUntouched(t *testing.T) {
	root := cube.Root(1)
	c := root.Child(0)
	base := Build(1, 1, []storage.BlockTag{{CubeID: c, ElementCount: 5}})

	o := NewOverlay(base)
	o.AddElements(c, 3)
	_ = Apply(base, o.Diff())

	n, _ := base.Get(c)
	assert.Equal(t, uint64(5), n.TotalElements, "Apply must not mutate the base it was given")
}

func TestMergeTakesMaxWeightAcrossWorkers(t *testing.T) {
	root := cube.Root(1)
	c := root.Child(0)
	base := Empty(1, 1)

	o1 := NewOverlay(base)
	o1.SetMaxWeight(c, 10)
	o2 := NewOverlay(base)
	o2.SetMaxWeight(c, 20)

	merged := Merge([]*Proposal{o1.Diff(), o2.Diff()})
	next := Apply(base, merged)

	n, ok := next.Get(c)
	require.True(t, ok)
	assert.Equal(t, int32(20), n.MaxWeight)
	assert.True(t, n.HasMaxWeight)
}

func TestCheckpointRoundTrip(t *testing.T) {
	root := cube.Root(2)
	deep := root.Child(1).Child(2)
	s := Build(9, 2, []storage.BlockTag{
		{CubeID: deep, State: storage.StateFlooded, MaxWeight: 42, ElementCount: 7},
	})

	path := t.TempDir() + "/checkpoint.lz4"
	require.NoError(t, s.WriteCheckpoint(path))

	loaded, err := LoadCheckpoint(path, 9, 2)
	require.NoError(t, err)
	assert.Equal(t, s.Len(), loaded.Len())

	n, ok := loaded.Get(deep)
	require.True(t, ok)
	assert.Equal(t, int32(42), n.MaxWeight)
	assert.Equal(t, uint64(7), n.TotalElements)

	if diff := cmp.Diff(s.Snapshot(), loaded.Snapshot()); diff != "" {
		t.Errorf("checkpoint round-trip changed State (-original +loaded):\n%s", diff)
	}
}

func TestMergeReproducesSequentialBuildSnapshot(t *testing.T) {
	root := cube.Root(1)
	a := root.Child(0)
	b := root.Child(1)
	base := Empty(1, 1)

	o1 := NewOverlay(base)
	o1.AddElements(a, 4)
	o1.SetMaxWeight(a, 10)
	o2 := NewOverlay(base)
	o2.AddElements(b, 6)
	o2.SetMaxWeight(b, 20)

	merged := Merge([]*Proposal{o1.Diff(), o2.Diff()})
	rebased := Apply(base, merged)

	sequential := Build(1, 1, []storage.BlockTag{
		{CubeID: a, State: storage.StateFlooded, MaxWeight: 10, ElementCount: 4},
		{CubeID: b, State: storage.StateFlooded, MaxWeight: 20, ElementCount: 6},
	})

	if diff := cmp.Diff(sequential.Snapshot(), rebased.Snapshot()); diff != "" {
		t.Errorf("parallel merge diverged from sequential build (-sequential +rebased):\n%s", diff)
	}
}

func TestPPStringIncludesEveryCube(t *testing.T) {
	root := cube.Root(1)
	child := root.Child(0)
	s := Build(1, 1, []storage.BlockTag{
		{CubeID: child, State: storage.StateFlooded, MaxWeight: 5, ElementCount: 3},
	})

	out := s.PPString(common.PPL1)
	assert.Contains(t, out, root.Key())
	assert.Contains(t, out, child.Key())
	assert.Contains(t, out, "FLOODED")
}
