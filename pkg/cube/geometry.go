package cube

// Point is a row's indexed columns normalized into [0,1]^d, in column
// order, as produced by pkg/transform.
type Point []float64

// Bounds is the hyper-rectangle ∏[a_i,b_i) a cube covers.
type Bounds struct {
	Lo, Hi []float64
}

// Bounds computes the rectangle c covers by replaying its bit-string:
// at level l, dimension i, a 0 bit keeps the lower half of the current
// range for dimension i and a 1 bit keeps the upper half.
func (c Id) Bounds() Bounds {
	lo := make([]float64, c.dims)
	hi := make([]float64, c.dims)
	for i := range hi {
		hi[i] = 1.0
	}
	depth := c.Depth()
	for level := 0; level < depth; level++ {
		for i := 0; i < c.dims; i++ {
			bitIdx := level*c.dims + i
			mid := (lo[i] + hi[i]) / 2
			if c.bitAt(bitIdx) == 0 {
				hi[i] = mid
			} else {
				lo[i] = mid
			}
		}
	}
	return Bounds{Lo: lo, Hi: hi}
}

// ContainsPoint reports whether p falls in c's hyper-rectangle. Each
// dimension is half-open [a_i,b_i), except that an upper edge lying on the
// unit cube's boundary (b_i = 1.0, at any depth) is inclusive, so a
// coordinate of exactly 1.0 belongs to the upper-most cube at every level.
func (c Id) ContainsPoint(p Point) bool {
	b := c.Bounds()
	for i := 0; i < c.dims; i++ {
		if p[i] < b.Lo[i] {
			return false
		}
		inOpenRange := p[i] < b.Hi[i]
		atTopEdge := p[i] == 1.0 && b.Hi[i] == 1.0
		if !inOpenRange && !atTopEdge {
			return false
		}
	}
	return true
}

// For computes the cube at the given depth containing p, descending
// bit-by-bit from the root.
func For(p Point, depth int, dims int) Id {
	c := Root(dims)
	lo := make([]float64, dims)
	hi := make([]float64, dims)
	for i := range hi {
		hi[i] = 1.0
	}
	for level := 0; level < depth; level++ {
		k := 0
		for i := 0; i < dims; i++ {
			mid := (lo[i] + hi[i]) / 2
			bit := 0
			if p[i] >= mid {
				bit = 1
				lo[i] = mid
			} else {
				hi[i] = mid
			}
			k = (k << 1) | bit
		}
		c = c.Child(k)
	}
	return c
}

// ChildContaining returns which of c's children contains p, computed
// directly from c's own bounds (used by the Indexer's descent, which
// already knows the current cube and only needs the next step).
func (c Id) ChildContaining(p Point) Id {
	b := c.Bounds()
	k := 0
	for i := 0; i < c.dims; i++ {
		mid := (b.Lo[i] + b.Hi[i]) / 2
		bit := 0
		if p[i] >= mid {
			bit = 1
		}
		k = (k << 1) | bit
	}
	return c.Child(k)
}
