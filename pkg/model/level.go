// Package model defines the core data structures used throughout the framework.
package model

import (
	"fmt"
	"strings"
)

// LevelVector describes the refinement level of a grid per dimension.
type LevelVector []int

// NewLevelVector creates a LevelVector of the given dimension with all
// components set to value.
func NewLevelVector(dim, value int) LevelVector {
	l := make(LevelVector, dim)
	for i := range l {
		l[i] = value
	}
	return l
}

// Dim returns the number of dimensions.
func (l LevelVector) Dim() int {
	return len(l)
}

// Sum returns the L1 norm of the level vector.
func (l LevelVector) Sum() int {
	s := 0
	for _, v := range l {
		s += v
	}
	return s
}

// Clone returns an independent copy.
func (l LevelVector) Clone() LevelVector {
	c := make(LevelVector, len(l))
	copy(c, l)
	return c
}

// Equals reports whether both vectors have identical components.
func (l LevelVector) Equals(other LevelVector) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		if l[i] != other[i] {
			return false
		}
	}
	return true
}

// LessEqual reports componentwise l <= other.
func (l LevelVector) LessEqual(other LevelVector) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		if l[i] > other[i] {
			return false
		}
	}
	return true
}

// Compare orders level vectors lexicographically. It returns -1, 0 or 1.
func (l LevelVector) Compare(other LevelVector) int {
	for i := range l {
		if l[i] < other[i] {
			return -1
		}
		if l[i] > other[i] {
			return 1
		}
	}
	return 0
}

// Key returns a stable string key usable as a map index.
func (l LevelVector) Key() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ",")
}

// String returns the human readable representation, e.g. "(2,4)".
func (l LevelVector) String() string {
	return "(" + l.Key() + ")"
}

// Sub returns the componentwise difference l - other.
func (l LevelVector) Sub(other LevelVector) LevelVector {
	d := make(LevelVector, len(l))
	for i := range l {
		d[i] = l[i] - other[i]
	}
	return d
}

// BoundaryFlag selects the boundary treatment of one dimension.
type BoundaryFlag int

const (
	// BoundaryNone omits boundary points: 2^l - 1 points.
	BoundaryNone BoundaryFlag = 0
	// BoundaryOneSided includes the left boundary point: 2^l points.
	BoundaryOneSided BoundaryFlag = 1
	// BoundaryTwoSided includes both boundary points: 2^l + 1 points.
	BoundaryTwoSided BoundaryFlag = 2
)

// String returns the string representation of BoundaryFlag.
func (b BoundaryFlag) String() string {
	switch b {
	case BoundaryNone:
		return "none"
	case BoundaryOneSided:
		return "one-sided"
	case BoundaryTwoSided:
		return "two-sided"
	default:
		return "unknown"
	}
}

// Offset returns the point-count offset relative to 2^l for this flag.
func (b BoundaryFlag) Offset() int {
	switch b {
	case BoundaryNone:
		return -1
	case BoundaryOneSided:
		return 0
	case BoundaryTwoSided:
		return 1
	default:
		return 0
	}
}

// PointsPerDim returns the number of grid points along a dimension with
// level l and the given boundary flag.
func PointsPerDim(l int, b BoundaryFlag) int {
	return (1 << uint(l)) + b.Offset()
}

// UniformBoundary creates a boundary vector with the same flag in every
// dimension.
func UniformBoundary(dim int, b BoundaryFlag) []BoundaryFlag {
	flags := make([]BoundaryFlag, dim)
	for i := range flags {
		flags[i] = b
	}
	return flags
}
