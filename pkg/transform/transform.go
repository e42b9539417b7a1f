// Package transform implements the per-indexed-column normalization
// functions: raw value -> [0,1]. Transformers are tagged variants (an
// explicit Kind discriminator) rather than an interface hierarchy, per the
// design notes: supersedes and merge are pure functions over the variant,
// not virtual dispatch.
package transform

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

type Kind uint8

const (
	KindEmpty Kind = iota
	KindLinear
	KindHash
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "Empty"
	case KindLinear:
		return "Linear"
	case KindHash:
		return "Hash"
	default:
		return "Unknown"
	}
}

// NumericType distinguishes the numeric/temporal domains Linear can fit,
// purely to decide comparability and string formatting; it carries no
// behavior of its own.
type NumericType uint8

const (
	TypeFloat64 NumericType = iota
	TypeInt64
	TypeTimestamp
)

// Transformer is the tagged union of the three normalization variants
// described in the design: Linear(min,max,type), Hash(seed), Empty (identity
// zero, used before any data has been observed).
type Transformer struct {
	Kind Kind

	// Linear fields.
	Min, Max float64
	NumType  NumericType

	// Hash fields.
	HashSeed uint64

	// clampedOutOfRange tracks whether a value outside [Min,Max] was ever clamped,
	// which flags that a wider transformer (and so a Revision upgrade) is
	// desirable on the next commit. atomic.Bool because concurrent
	// partitions (pkg/commit's ants pool) call Transform on the same
	// Revision's transformers at once.
	clampedOutOfRange atomic.Bool
}

func NewEmpty() *Transformer {
	return &Transformer{Kind: KindEmpty}
}

func NewLinear(min, max float64, t NumericType) *Transformer {
	return &Transformer{Kind: KindLinear, Min: min, Max: max, NumType: t}
}

func NewHash(seed uint64) *Transformer {
	return &Transformer{Kind: KindHash, HashSeed: seed}
}

// Transform maps a raw value into [0,1]. Linear clamps out-of-range values
// rather than failing: the caller observes no error, only a
// later flag via NeedsWidening.
func (t *Transformer) Transform(raw interface{}) (float64, error) {
	switch t.Kind {
	case KindEmpty:
		return 0, nil
	case KindLinear:
		v, err := toFloat64(raw)
		if err != nil {
			return 0, err
		}
		if t.Max <= t.Min {
			return 0, nil
		}
		if v < t.Min {
			t.clampedOutOfRange.Store(true)
			v = t.Min
		}
		if v > t.Max {
			t.clampedOutOfRange.Store(true)
			v = t.Max
		}
		return (v - t.Min) / (t.Max - t.Min), nil
	case KindHash:
		h := xxhash.New()
		var seedBuf [8]byte
		binary.LittleEndian.PutUint64(seedBuf[:], t.HashSeed)
		_, _ = h.Write(seedBuf[:])
		fmt.Fprintf(h, "%v", raw)
		sum := h.Sum64()
		// modulo 2^53 keeps the quotient exactly representable as a
		// float64, per the design.
		const mod = uint64(1) << 53
		return float64(sum%mod) / float64(mod), nil
	default:
		return 0, errors.Errorf("transform: unknown kind %v", t.Kind)
	}
}

// NeedsWidening reports whether Transform has ever had to clamp a value,
// i.e. whether a Linear transformer's domain is now known to be too
// narrow.
func (t *Transformer) NeedsWidening() bool {
	return t.Kind == KindLinear && t.clampedOutOfRange.Load()
}

// Supersedes reports whether other's domain is strictly contained in t's,
// i.e. t can replace other without losing information.
func (t *Transformer) Supersedes(other *Transformer) bool {
	if other == nil || other.Kind == KindEmpty {
		return t.Kind != KindEmpty
	}
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case KindLinear:
		return t.Min <= other.Min && t.Max >= other.Max && (t.Min < other.Min || t.Max > other.Max)
	case KindHash:
		// Hash transformers of the same seed never strictly contain one
		// another; a different seed is an incompatible domain, not a
		// superset.
		return false
	default:
		return false
	}
}

// Merge widens bounds (Linear) or unions the domain, returning a
// transformer that supersedes both inputs. Merging two Hash transformers
// requires they share a seed.
func (t *Transformer) Merge(other *Transformer) (*Transformer, error) {
	if other == nil || other.Kind == KindEmpty {
		return t, nil
	}
	if t.Kind == KindEmpty {
		return other, nil
	}
	if t.Kind != other.Kind {
		return nil, errors.Errorf("transform: cannot merge %v with %v", t.Kind, other.Kind)
	}
	switch t.Kind {
	case KindLinear:
		merged := NewLinear(math.Min(t.Min, other.Min), math.Max(t.Max, other.Max), t.NumType)
		return merged, nil
	case KindHash:
		if t.HashSeed != other.HashSeed {
			return nil, errors.New("transform: cannot merge hash transformers with different seeds")
		}
		return NewHash(t.HashSeed), nil
	default:
		return nil, errors.Errorf("transform: unknown kind %v", t.Kind)
	}
}

func toFloat64(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, errors.Errorf("transform: %T is not numeric", raw)
	}
}

