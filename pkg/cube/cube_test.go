package cube

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootHasZeroDepth(t *testing.T) {
	r := Root(2)
	assert.True(t, r.IsRoot())
	assert.Equal(t, 0, r.Depth())
}

func TestChildIncreasesDepth(t *testing.T) {
	r := Root(2)
	c := r.Child(3)
	assert.Equal(t, 1, c.Depth())
	assert.False(t, c.IsRoot())
}

func TestParentOfChildIsOriginal(t *testing.T) {
	r := Root(2)
	c := r.Child(2)
	p := c.Parent()
	assert.True(t, p.Equal(r))
}

func TestParentOfRootIsRoot(t *testing.T) {
	r := Root(2)
	assert.True(t, r.Parent().Equal(r))
}

func TestChildrenCountIs2PowD(t *testing.T) {
	for d := 1; d <= 4; d++ {
		r := Root(d)
		assert.Len(t, r.Children(), 1<<uint(d))
	}
}

func TestChildIndexRoundTrips(t *testing.T) {
	r := Root(3)
	for k := 0; k < 8; k++ {
		c := r.Child(k)
		assert.Equal(t, k, c.ChildIndex())
	}
}

func TestDeepDescentRoundTrip(t *testing.T) {
	d := 2
	c := Root(d)
	path := []int{3, 0, 2, 1, 3}
	for _, k := range path {
		c = c.Child(k)
	}
	assert.Equal(t, len(path), c.Depth())
	for i := len(path) - 1; i >= 0; i-- {
		assert.Equal(t, path[i], c.ChildIndex())
		c = c.Parent()
	}
	assert.True(t, c.IsRoot())
}

func TestCompareOrdersAncestorBeforeDescendant(t *testing.T) {
	r := Root(2)
	child := r.Child(1)
	grandchild := child.Child(2)
	assert.Negative(t, r.Compare(child))
	assert.Negative(t, child.Compare(grandchild))
	assert.Positive(t, grandchild.Compare(r))
}

func TestIsAncestorOf(t *testing.T) {
	r := Root(2)
	child := r.Child(1)
	grandchild := child.Child(0)
	assert.True(t, r.IsAncestorOf(grandchild))
	assert.True(t, child.IsAncestorOf(grandchild))
	assert.False(t, grandchild.IsAncestorOf(child))
}

func TestMarshalRoundTrip(t *testing.T) {
	d := 3
	r := Root(d)
	c := r.Child(5).Child(2).Child(7)
	buf := c.Marshal()
	back, err := Unmarshal(buf, d)
	require.NoError(t, err)
	assert.True(t, c.Equal(back))
	assert.Equal(t, c.Depth(), back.Depth())
}

func TestMarshalRootRoundTrip(t *testing.T) {
	d := 2
	r := Root(d)
	buf := r.Marshal()
	back, err := Unmarshal(buf, d)
	require.NoError(t, err)
	assert.True(t, r.Equal(back))
}

func TestForFindsContainingCube(t *testing.T) {
	d := 2
	p := Point{0.9, 0.1}
	c := For(p, 3, d)
	assert.True(t, c.ContainsPoint(p))
	assert.Equal(t, 3, c.Depth())
}

func TestChildContainingMatchesFor(t *testing.T) {
	d := 2
	p := Point{0.6, 0.2}
	r := Root(d)
	depth3 := For(p, 3, d)

	cur := r
	for i := 0; i < 3; i++ {
		cur = cur.ChildContaining(p)
	}
	assert.True(t, cur.Equal(depth3))
}

func TestBoundsShrinkWithDepth(t *testing.T) {
	d := 1
	r := Root(d)
	c := r.Child(1)
	b0 := r.Bounds()
	b1 := c.Bounds()
	assert.Equal(t, 0.0, b0.Lo[0])
	assert.Equal(t, 1.0, b0.Hi[0])
	assert.Equal(t, 0.5, b1.Lo[0])
	assert.Equal(t, 1.0, b1.Hi[0])
}

func TestContainsPointTopEdgeInclusive(t *testing.T) {
	r := Root(1)
	assert.True(t, r.ContainsPoint(Point{1.0}))
	assert.True(t, r.ContainsPoint(Point{0.0}))
}

func TestEveryPointBelongsToExactlyOneChild(t *testing.T) {
	d := 2
	r := Root(d)
	children := r.Children()
	pts := []Point{{0, 0}, {0.1, 0.9}, {0.99, 0.99}, {0.5, 0.5}, {0.49, 0.51}}
	for _, p := range pts {
		hits := 0
		for _, c := range children {
			if c.ContainsPoint(p) {
				hits++
			}
		}
		assert.Equal(t, 1, hits, "point %v matched %d children", p, hits)
	}
}
