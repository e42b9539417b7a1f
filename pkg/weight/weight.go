// Package weight computes the deterministic per-row weight that both the
// write-side Indexer and the read-side sample filter agree on. Both sides
// call Of (or its scalar-expression twin IndexHash) with the same
// seed, so a retained file is guaranteed to hold only rows whose weights
// fall in its tag interval.
package weight

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Max and Min are the bounds of the weight cycle, matching a signed 32-bit
// integer's range.
const (
	Max int32 = math.MaxInt32
	Min int32 = math.MinInt32
)

// Seed is fixed per deployment (never per table) so writer decisions and
// filter predicates never disagree about where a row lands.
type Seed uint64

// Column is the stable byte representation of one indexed column's raw
// value, in column order, as produced by the caller (the columnar file
// format is external; this package only asks for a byte string per type).
type Column []byte

// Of computes the 32-bit weight for a row given the stable byte
// representation of its indexed columns, in column order. Identical keys
// produce identical weights; for a uniformly distributed key the output is
// uniform over int32.
func Of(cols []Column, seed Seed) int32 {
	h := xxhash.New()
	var seedBuf [8]byte
	binary.LittleEndian.PutUint64(seedBuf[:], uint64(seed))
	_, _ = h.Write(seedBuf[:])
	for _, c := range cols {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(c)))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write(c)
	}
	sum := h.Sum64()
	// Fold the 64-bit hash down to 32 bits rather than truncating, so both
	// halves of the hash contribute to the low bits.
	folded := uint32(sum) ^ uint32(sum>>32)
	return int32(folded)
}

// IndexHash is the scalar expression `indexHash(cols, seed)` the Sample
// Rewriter injects into scans. It is, bit for bit, the same function as Of
// so read-side filters and write-side placement can never disagree.
func IndexHash(cols []Column, seed Seed) int32 {
	return Of(cols, seed)
}

// Cutoff maps a uniform sample fraction f in [0,1] to the weight threshold
// such that retaining rows with weight < Cutoff(f) keeps a fraction f of
// the data.
func Cutoff(f float64) int32 {
	if f <= 0 {
		return Min
	}
	if f >= 1 {
		return Max
	}
	span := float64(Max) - float64(Min)
	c := float64(Min) + f*span
	if c > float64(Max) {
		return Max
	}
	return int32(c)
}

// Fraction is the inverse of Cutoff: the fraction of the weight cycle
// below a given threshold.
func Fraction(cutoff int32) float64 {
	span := float64(Max) - float64(Min)
	return (float64(cutoff) - float64(Min)) / span
}
