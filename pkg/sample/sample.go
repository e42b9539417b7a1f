// Package sample implements the Sample Rewriter: turning a logical
// "uniform sample, fraction f" scan operator into a predicate over the
// weight-hash column plus a file-skipping test against Block tags
//.
package sample

import (
	"otree/pkg/storage"
	"otree/pkg/weight"
)

// Predicate is the rewritten form of a sample operator: a half-open
// weight interval [Lo, Hi) every retained row's indexHash must fall in.
// Attached both as a residual row filter and as a file-skipping test.
type Predicate struct {
	Seed   weight.Seed
	Lo, Hi int32
}

// Rewrite replaces "uniform sample fraction f" with the equivalent
// weight-hash predicate: indexHash(indexedCols, seed) in [MIN, MIN+f*2^32).
func Rewrite(f float64, seed weight.Seed) Predicate {
	return Predicate{Seed: seed, Lo: weight.Min, Hi: weight.Cutoff(f)}
}

// Fraction returns the sample fraction this predicate represents.
func (p Predicate) Fraction() float64 {
	return weight.Fraction(p.Hi)
}

// Matches is the residual row filter: whether row's indexed columns, fed
// through the same weight function writers use, fall inside the
// predicate's interval. Probability of a uniformly-random row matching
// is exactly the requested fraction.
func (p Predicate) Matches(cols []weight.Column) bool {
	h := weight.IndexHash(cols, p.Seed)
	return h >= p.Lo && h < p.Hi
}

// KeepsFile is the file-skipping predicate the scan layer applies before
// opening a file: a tag's observed [MinWeight, MaxWeight] range must
// overlap [Lo, Hi) for the file to possibly contain a matching row.
// Because indexHash is the same function the writer used to place rows,
// a file whose tag is disjoint from the interval provably contains none.
func (p Predicate) KeepsFile(tag storage.BlockTag) bool {
	return tag.MaxWeight >= p.Lo && tag.MinWeight < p.Hi
}

// SkipFiles filters files down to those KeepsFile retains, i.e. applies
// the file-skipping predicate over a whole snapshot.
func (p Predicate) SkipFiles(files []storage.AddFile) []storage.AddFile {
	kept := make([]storage.AddFile, 0, len(files))
	for _, f := range files {
		if p.KeepsFile(f.Tags) {
			kept = append(kept, f)
		}
	}
	return kept
}
