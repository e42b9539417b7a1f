package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otree/pkg/cube"
	"otree/pkg/index"
	"otree/pkg/revision"
	"otree/pkg/storage"
	"otree/pkg/transform"
)

func newRevision(capacity uint64) *revision.Revision {
	t := transform.NewLinear(0, 1000, transform.TypeFloat64)
	return revision.New(1, 0, []string{"v"}, []*transform.Transformer{t}, capacity, 42)
}

func rowAt(v float64, payload string) storage.Row {
	return storage.Row{
		Keys:    [][]byte{[]byte(payload)},
		Indexed: []interface{}{v},
		Payload: payload,
	}
}

func TestIndexSmallBatchStaysAtRoot(t *testing.T) {
	rev := newRevision(100)
	base := index.Empty(rev.Id, rev.Dims())
	rows := []storage.Row{rowAt(1, "a"), rowAt(500, "b"), rowAt(999, "c")}

	res, err := Index(rev, base, rows)
	require.NoError(t, err)
	require.Len(t, res.Placements, 3)
	for _, p := range res.Placements {
		assert.True(t, p.Cube.IsRoot())
	}
}

func TestIndexPreservesBatchOrder(t *testing.T) {
	rev := newRevision(100)
	base := index.Empty(rev.Id, rev.Dims())
	rows := []storage.Row{rowAt(900, "a"), rowAt(1, "b"), rowAt(500, "c")}

	res, err := Index(rev, base, rows)
	require.NoError(t, err)
	require.Len(t, res.Placements, 3)
	assert.Equal(t, "a", res.Placements[0].Row.Payload)
	assert.Equal(t, "b", res.Placements[1].Row.Payload)
	assert.Equal(t, "c", res.Placements[2].Row.Payload)
}

func TestIndexFloodsOverCapacityCube(t *testing.T) {
	rev := newRevision(2)
	base := index.Empty(rev.Id, rev.Dims())
	rows := []storage.Row{
		rowAt(10, "a"),
		rowAt(20, "b"),
		rowAt(30, "c"),
		rowAt(40, "d"),
	}

	res, err := Index(rev, base, rows)
	require.NoError(t, err)
	require.Len(t, res.Placements, 4)

	next := index.Apply(base, res.Proposal)
	root, ok := next.Get(cube.Root(rev.Dims()))
	require.True(t, ok)
	assert.True(t, root.HasMaxWeight, "root must be flooded once it exceeds desiredCapacity")
	assert.LessOrEqual(t, root.TotalElements, uint64(2))

	for _, p := range res.Placements {
		if p.Cube.IsRoot() {
			assert.Less(t, p.Weight, root.MaxWeight, "every row kept at a flooded cube must have weight < maxWeight")
		}
	}
}

func TestIndexSpilledRowsLandInChild(t *testing.T) {
	rev := newRevision(1)
	base := index.Empty(rev.Id, rev.Dims())
	rows := []storage.Row{rowAt(100, "a"), rowAt(900, "b")}

	res, err := Index(rev, base, rows)
	require.NoError(t, err)
	require.Len(t, res.Placements, 2)

	depths := map[int]int{}
	for _, p := range res.Placements {
		depths[p.Cube.Depth()]++
	}
	assert.Equal(t, 1, depths[0], "exactly one row stays at the root")
	assert.Equal(t, 1, depths[1], "exactly one row spills to a child")
}

func TestIndexRespectsAlreadyFloodedBaseCube(t *testing.T) {
	rev := newRevision(10)
	root := cube.Root(rev.Dims())
	base := index.Build(rev.Id, rev.Dims(), []storage.BlockTag{
		{CubeID: root, MaxWeight: 500, State: storage.StateFlooded, ElementCount: 5},
	})

	rows := []storage.Row{rowAt(999, "overflow")}
	res, err := Index(rev, base, rows)
	require.NoError(t, err)
	require.Len(t, res.Placements, 1)
	assert.False(t, res.Placements[0].Cube.IsRoot(), "a row above the committed cutoff must spill even though the root has room")
}

func TestAncestorMaxWeightNeverExceedsDescendant(t *testing.T) {
	rev := newRevision(1)
	base := index.Empty(rev.Id, rev.Dims())
	rows := []storage.Row{rowAt(100, "a"), rowAt(500, "b"), rowAt(900, "c"), rowAt(950, "d")}

	res, err := Index(rev, base, rows)
	require.NoError(t, err)
	next := index.Apply(base, res.Proposal)

	root := cube.Root(rev.Dims())
	rootNode, ok := next.Get(root)
	require.True(t, ok)
	require.True(t, rootNode.HasMaxWeight)

	next.ForEachAscending(func(c cube.Id, n *index.Node) bool {
		if c.IsRoot() || !n.HasMaxWeight {
			return true
		}
		assert.GreaterOrEqual(t, n.MaxWeight, rootNode.MaxWeight)
		return true
	})
}
