package profile

import (
	"errors"
	"slices"
)

// KiB and MiB are byte-size units for ladder entries.
const (
	KiB uint64 = 1 << 10
	MiB uint64 = 1 << 20
)

// DefaultChunk is the preferred chunk size of a provider with no history.
const DefaultChunk = 1 * MiB

// Ladder is the ascending set of chunk sizes the controller may choose from.
type Ladder []uint64

// DefaultLadder spans 256 KiB to 4 MiB in powers of two.
func DefaultLadder() Ladder {
	return Ladder{256 * KiB, 512 * KiB, 1 * MiB, 2 * MiB, 4 * MiB}
}

// NewLadder sorts and de-duplicates sizes. Zero sizes are rejected.
func NewLadder(sizes ...uint64) (Ladder, error) {
	if len(sizes) == 0 {
		return nil, errors.New("chunk ladder must not be empty")
	}

	l := slices.Clone(sizes)
	slices.Sort(l)
	l = slices.Compact(l)
	if l[0] == 0 {
		return nil, errors.New("chunk ladder entries must be positive")
	}
	return Ladder(l), nil
}

// Clamp returns the largest entry not exceeding bytes, or the smallest entry
// when none fit.
func (l Ladder) Clamp(bytes float64) uint64 {
	return l[l.index(bytes)]
}

// index is the position of the largest entry not exceeding bytes, or 0.
func (l Ladder) index(bytes float64) int {
	idx := 0
	for i, size := range l {
		if float64(size) <= bytes {
			idx = i
		}
	}
	return idx
}

// Index returns the ladder position of size. Sizes that are not ladder
// entries snap to the largest entry below them.
func (l Ladder) Index(size uint64) int {
	return l.index(float64(size))
}

// StepDown returns the entry one step below size, or the smallest entry.
func (l Ladder) StepDown(size uint64) uint64 {
	return l[max(l.Index(size)-1, 0)]
}

// Default is the cold-start size: DefaultChunk when it is an entry, otherwise
// the closest entry below it.
func (l Ladder) Default() uint64 {
	return l.Clamp(float64(DefaultChunk))
}

// Min and Max are the ladder bounds.
func (l Ladder) Min() uint64 { return l[0] }
func (l Ladder) Max() uint64 { return l[len(l)-1] }
