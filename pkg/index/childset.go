package index

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/bits-and-blooms/bitset"
)

// ChildSet tracks which of a cube's 2^d children have at least one
// committed entry in the Index State. Small d (the common case, d <= 6
// meaning <= 64 children) uses a fixed bitset; larger d falls back to a
// roaring bitmap so a cube with hundreds of indexed columns doesn't pay
// for a dense array it mostly won't use.
type ChildSet interface {
	Set(k int)
	IsSet(k int) bool
	Any() bool
	Clone() ChildSet
}

const smallDimThreshold = 6 // 2^6 = 64 children

// NewChildSet picks the representation appropriate for dims indexed
// columns (2^dims children).
func NewChildSet(dims int) ChildSet {
	if dims <= smallDimThreshold {
		return &bitsetChildren{bs: bitset.New(uint(1) << uint(dims))}
	}
	return &roaringChildren{bm: roaring.New()}
}

type bitsetChildren struct {
	bs *bitset.BitSet
}

func (c *bitsetChildren) Set(k int)      { c.bs.Set(uint(k)) }
func (c *bitsetChildren) IsSet(k int) bool { return c.bs.Test(uint(k)) }
func (c *bitsetChildren) Any() bool      { return c.bs.Any() }
func (c *bitsetChildren) Clone() ChildSet {
	return &bitsetChildren{bs: c.bs.Clone()}
}

type roaringChildren struct {
	bm *roaring.Bitmap
}

func (c *roaringChildren) Set(k int)        { c.bm.Add(uint32(k)) }
func (c *roaringChildren) IsSet(k int) bool { return c.bm.Contains(uint32(k)) }
func (c *roaringChildren) Any() bool        { return !c.bm.IsEmpty() }
func (c *roaringChildren) Clone() ChildSet {
	return &roaringChildren{bm: c.bm.Clone()}
}
