package fullgrid

import (
	"github.com/combigrid/pkg/model"
)

// The 1-D hierarchization basis change runs per dimension sequentially over
// all poles of the grid. Positions are measured in units of the finest mesh
// width 2^-l; whether a position is backed by a stored node depends on the
// boundary flag. Missing boundary nodes contribute zero, which branches the
// transform on the per-axis flag.

// positionToIndex maps a position j (in units of 2^-l) to the stored index,
// or -1 when the position has no node under the boundary flag.
func positionToIndex(j, l int, b model.BoundaryFlag) int {
	n := 1 << uint(l)
	switch b {
	case model.BoundaryTwoSided:
		if j < 0 || j > n {
			return -1
		}
		return j
	case model.BoundaryOneSided:
		if j < 0 || j >= n {
			return -1
		}
		return j
	default: // BoundaryNone
		if j < 1 || j > n-1 {
			return -1
		}
		return j - 1
	}
}

// hierarchizePole converts one pole from nodal to hierarchical values.
// u indexes the full array: u(i) = full[base+i*stride].
func hierarchizePole(full []float64, base, stride, l int, b model.BoundaryFlag) {
	val := func(j int) float64 {
		i := positionToIndex(j, l, b)
		if i < 0 {
			return 0
		}
		return full[base+i*stride]
	}

	n := 1 << uint(l)
	for lev := l; lev >= 1; lev-- {
		step := 1 << uint(l-lev)
		for j := step; j <= n-step; j += 2 * step {
			i := positionToIndex(j, l, b)
			full[base+i*stride] -= 0.5 * (val(j-step) + val(j+step))
		}
	}
}

// dehierarchizePole converts one pole from hierarchical back to nodal
// values. It inverts hierarchizePole exactly.
func dehierarchizePole(full []float64, base, stride, l int, b model.BoundaryFlag) {
	val := func(j int) float64 {
		i := positionToIndex(j, l, b)
		if i < 0 {
			return 0
		}
		return full[base+i*stride]
	}

	n := 1 << uint(l)
	for lev := 1; lev <= l; lev++ {
		step := 1 << uint(l-lev)
		for j := step; j <= n-step; j += 2 * step {
			i := positionToIndex(j, l, b)
			full[base+i*stride] += 0.5 * (val(j-step) + val(j+step))
		}
	}
}

// forEachPole visits the base index of every pole along dimension k.
func forEachPole(npoints, strides []int, k int, visit func(base int)) {
	total := 1
	for i, np := range npoints {
		if i != k {
			total *= np
		}
	}

	idx := make([]int, len(npoints))
	for p := 0; p < total; p++ {
		base := 0
		for i := range npoints {
			base += idx[i] * strides[i]
		}
		visit(base)

		// Advance the mixed-radix counter over all dimensions but k.
		for i := len(npoints) - 1; i >= 0; i-- {
			if i == k {
				continue
			}
			idx[i]++
			if idx[i] < npoints[i] {
				break
			}
			idx[i] = 0
		}
	}
}

// Hierarchize transforms an assembled nodal grid into hierarchical
// coefficients, dimension by dimension, in place.
func Hierarchize(full []float64, level model.LevelVector, boundary []model.BoundaryFlag, npoints, strides []int) {
	for k := 0; k < len(level); k++ {
		forEachPole(npoints, strides, k, func(base int) {
			hierarchizePole(full, base, strides[k], level[k], boundary[k])
		})
	}
}

// Dehierarchize transforms hierarchical coefficients back into nodal
// values, inverting Hierarchize exactly (round-trip identity).
func Dehierarchize(full []float64, level model.LevelVector, boundary []model.BoundaryFlag, npoints, strides []int) {
	for k := len(level) - 1; k >= 0; k-- {
		forEachPole(npoints, strides, k, func(base int) {
			dehierarchizePole(full, base, strides[k], level[k], boundary[k])
		})
	}
}

// HierarchizedContribution zero-extends the local brick and hierarchizes
// it. By linearity of the basis change, the sum of these contributions over
// the group equals the hierarchization of the assembled grid; the sum is
// formed by the sparse grid reduction.
func (g *DistributedFullGrid) HierarchizedContribution() []float64 {
	full := g.ZeroExtended()
	Hierarchize(full, g.level, g.boundary, g.npoints, g.strides)
	return full
}

// DehierarchizeInto dehierarchizes a full-size hierarchical array and
// copies this rank's brick into the local buffer.
func (g *DistributedFullGrid) DehierarchizeInto(full []float64) {
	Dehierarchize(full, g.level, g.boundary, g.npoints, g.strides)
	g.SetFromFull(full)
}

// PositionOfIndex returns the per-dimension positions (in units of the
// finest mesh width) of a global index vector.
func (g *DistributedFullGrid) PositionOfIndex(idx []int) []int {
	pos := make([]int, g.dim)
	for k := 0; k < g.dim; k++ {
		pos[k] = idx[k]
		if g.boundary[k] == model.BoundaryNone {
			pos[k]++
		}
	}
	return pos
}
