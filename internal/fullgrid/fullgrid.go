// Package fullgrid implements the distributed anisotropic full grid: one
// component grid of the combination scheme, decomposed in Cartesian bricks
// over the ranks of a process group.
package fullgrid

import (
	apperrors "github.com/combigrid/pkg/errors"
	"github.com/combigrid/internal/mpi"
	"github.com/combigrid/pkg/model"
)

// DistributedFullGrid holds the local brick of one component grid. Bricks
// are contiguous index ranges per dimension; the decomposition is a
// deterministic function of (level, boundary, group shape), so grids with
// identical parameters on identical groups align exactly.
type DistributedFullGrid struct {
	dim      int
	level    model.LevelVector
	boundary []model.BoundaryFlag
	comm     *mpi.Comm

	procs   []int // Cartesian decomposition, prod = comm.Size()
	npoints []int // global points per dimension
	strides []int // row-major strides of the global grid
	lower   []int // inclusive lower brick bound per dimension
	upper   []int // exclusive upper brick bound per dimension

	data []float64 // local brick values, row-major
}

// DecomposeHeuristic computes the default Cartesian decomposition: starting
// from all ones, repeatedly double the axis with the largest ratio
// 2^l_k / p_k until the product reaches nprocs. nprocs must be a power of
// two.
func DecomposeHeuristic(level model.LevelVector, nprocs int) ([]int, error) {
	if nprocs < 1 || nprocs&(nprocs-1) != 0 {
		return nil, apperrors.Newf(apperrors.CodeDecomposition,
			"group size %d is not a power of two", nprocs)
	}

	procs := make([]int, len(level))
	for i := range procs {
		procs[i] = 1
	}

	for prod := 1; prod < nprocs; prod *= 2 {
		best := 0
		bestRatio := 0.0
		for k := range procs {
			ratio := float64(int64(1)<<uint(level[k])) / float64(procs[k])
			if ratio > bestRatio {
				bestRatio = ratio
				best = k
			}
		}
		procs[best] *= 2
	}

	return procs, nil
}

// New creates the distributed full grid on the given group communicator
// with the default decomposition.
func New(level model.LevelVector, boundary []model.BoundaryFlag, comm *mpi.Comm) (*DistributedFullGrid, error) {
	procs, err := DecomposeHeuristic(level, comm.Size())
	if err != nil {
		return nil, err
	}
	return NewWithDecomposition(level, boundary, comm, procs)
}

// NewWithDecomposition creates the distributed full grid with a caller
// supplied decomposition, which must multiply to the group size.
func NewWithDecomposition(level model.LevelVector, boundary []model.BoundaryFlag, comm *mpi.Comm, procs []int) (*DistributedFullGrid, error) {
	dim := len(level)
	if len(boundary) != dim || len(procs) != dim {
		return nil, apperrors.New(apperrors.CodeDecomposition,
			"level, boundary and decomposition must agree in dimension")
	}

	prod := 1
	for _, p := range procs {
		prod *= p
	}
	if prod != comm.Size() {
		return nil, apperrors.Newf(apperrors.CodeDecomposition,
			"decomposition product %d does not match group size %d", prod, comm.Size())
	}

	npoints := make([]int, dim)
	for k := 0; k < dim; k++ {
		npoints[k] = model.PointsPerDim(level[k], boundary[k])
		if npoints[k] < procs[k] {
			return nil, apperrors.Newf(apperrors.CodeDecomposition,
				"dimension %d has %d points for %d processes", k, npoints[k], procs[k])
		}
	}

	strides := make([]int, dim)
	strides[dim-1] = 1
	for k := dim - 2; k >= 0; k-- {
		strides[k] = strides[k+1] * npoints[k+1]
	}

	coords := rankToCoords(comm.Rank(), procs)
	lower := make([]int, dim)
	upper := make([]int, dim)
	size := 1
	for k := 0; k < dim; k++ {
		lower[k], upper[k] = brickBounds(npoints[k], procs[k], coords[k])
		size *= upper[k] - lower[k]
	}

	g := &DistributedFullGrid{
		dim:      dim,
		level:    level.Clone(),
		boundary: append([]model.BoundaryFlag(nil), boundary...),
		comm:     comm,
		procs:    procs,
		npoints:  npoints,
		strides:  strides,
		lower:    lower,
		upper:    upper,
		data:     make([]float64, size),
	}
	return g, nil
}

// brickBounds splits n points into p contiguous chunks; the first n%p
// chunks are one point larger. The split depends only on (n, p, coord).
func brickBounds(n, p, coord int) (int, int) {
	base := n / p
	rem := n % p
	lower := coord*base + min(coord, rem)
	size := base
	if coord < rem {
		size++
	}
	return lower, lower + size
}

func rankToCoords(rank int, procs []int) []int {
	coords := make([]int, len(procs))
	for k := len(procs) - 1; k >= 0; k-- {
		coords[k] = rank % procs[k]
		rank /= procs[k]
	}
	return coords
}

// Dim returns the dimensionality.
func (g *DistributedFullGrid) Dim() int {
	return g.dim
}

// Level returns the level vector.
func (g *DistributedFullGrid) Level() model.LevelVector {
	return g.level
}

// Boundary returns the per-dimension boundary flags.
func (g *DistributedFullGrid) Boundary() []model.BoundaryFlag {
	return g.boundary
}

// Comm returns the group communicator the grid lives on.
func (g *DistributedFullGrid) Comm() *mpi.Comm {
	return g.comm
}

// Decomposition returns the Cartesian process counts per dimension.
func (g *DistributedFullGrid) Decomposition() []int {
	return g.procs
}

// GlobalPoints returns the global point count per dimension.
func (g *DistributedFullGrid) GlobalPoints() []int {
	return g.npoints
}

// NumLocalElements returns the size of the local brick.
func (g *DistributedFullGrid) NumLocalElements() int {
	return len(g.data)
}

// NumGlobalElements returns the total number of grid points.
func (g *DistributedFullGrid) NumGlobalElements() int {
	n := 1
	for _, np := range g.npoints {
		n *= np
	}
	return n
}

// Data returns the local element buffer. Callers may mutate values in
// place; this is how tasks write their solution.
func (g *DistributedFullGrid) Data() []float64 {
	return g.data
}

// Fill sets every local element to the given value.
func (g *DistributedFullGrid) Fill(v float64) {
	for i := range g.data {
		g.data[i] = v
	}
}

// LocalToGlobalIndex maps a local flat index to the global flat index.
func (g *DistributedFullGrid) LocalToGlobalIndex(li int) int {
	gi := 0
	for k := g.dim - 1; k >= 0; k-- {
		width := g.upper[k] - g.lower[k]
		gi += (g.lower[k] + li%width) * g.strides[k]
		li /= width
	}
	return gi
}

// GlobalIndexVector decomposes a global flat index into per-dimension
// indices.
func (g *DistributedFullGrid) GlobalIndexVector(gi int) []int {
	idx := make([]int, g.dim)
	for k := g.dim - 1; k >= 0; k-- {
		idx[k] = gi % g.npoints[k]
		gi /= g.npoints[k]
	}
	return idx
}

// Coordinates returns the unit-cube coordinates of a global index vector.
func (g *DistributedFullGrid) Coordinates(idx []int) []float64 {
	x := make([]float64, g.dim)
	for k := 0; k < g.dim; k++ {
		h := 1.0 / float64(int64(1)<<uint(g.level[k]))
		pos := idx[k]
		if g.boundary[k] == model.BoundaryNone {
			pos++ // index 0 is the first interior point
		}
		x[k] = float64(pos) * h
	}
	return x
}

// ZeroExtended places the local brick into a freshly allocated full-size
// array; all points outside the brick stay zero. Summing the zero-extended
// bricks of all group members reconstructs the global grid.
func (g *DistributedFullGrid) ZeroExtended() []float64 {
	full := make([]float64, g.NumGlobalElements())
	for li := range g.data {
		full[g.LocalToGlobalIndex(li)] = g.data[li]
	}
	return full
}

// SetFromFull copies this rank's brick out of a full-size array.
func (g *DistributedFullGrid) SetFromFull(full []float64) {
	for li := range g.data {
		g.data[li] = full[g.LocalToGlobalIndex(li)]
	}
}

// AssembleFull reconstructs the global nodal grid on every group member by
// summing the zero-extended bricks.
func (g *DistributedFullGrid) AssembleFull() []float64 {
	return g.comm.AllreduceSum(g.ZeroExtended())
}

// GatherFullGrid collects the global nodal grid at the communicator root.
// Non-root members return nil.
func (g *DistributedFullGrid) GatherFullGrid() []float64 {
	type brick struct {
		lower []int
		upper []int
		data  []float64
	}
	local := make([]float64, len(g.data))
	copy(local, g.data)
	gathered := g.comm.Gather(brick{lower: g.lower, upper: g.upper, data: local})
	if gathered == nil {
		return nil
	}

	full := make([]float64, g.NumGlobalElements())
	for _, payload := range gathered {
		b := payload.(brick)
		widths := make([]int, g.dim)
		size := 1
		for k := 0; k < g.dim; k++ {
			widths[k] = b.upper[k] - b.lower[k]
			size *= widths[k]
		}
		for li := 0; li < size; li++ {
			gi := 0
			rest := li
			for k := g.dim - 1; k >= 0; k-- {
				gi += (b.lower[k] + rest%widths[k]) * g.strides[k]
				rest /= widths[k]
			}
			full[gi] = b.data[li]
		}
	}
	return full
}

// Evaluate interpolates the grid multilinearly at a unit-cube point. The
// result is identical on every group member.
func (g *DistributedFullGrid) Evaluate(point []float64) float64 {
	full := g.AssembleFull()
	return evaluateFull(full, g.level, g.boundary, g.npoints, g.strides, point)
}

// evaluateFull performs d-linear interpolation on an assembled grid.
// Points outside the supported range of a boundaryless dimension pick up
// zero contributions from the missing boundary nodes.
func evaluateFull(full []float64, level model.LevelVector, boundary []model.BoundaryFlag, npoints, strides []int, point []float64) float64 {
	dim := len(level)

	// Per dimension: the two neighbor indices (-1 marks a missing node)
	// and the interpolation weight of the right neighbor.
	left := make([]int, dim)
	right := make([]int, dim)
	frac := make([]float64, dim)

	for k := 0; k < dim; k++ {
		n := int64(1) << uint(level[k])
		pos := point[k] * float64(n)
		cell := int(pos)
		if cell >= int(n) {
			cell = int(n) - 1
		}
		if cell < 0 {
			cell = 0
		}
		frac[k] = pos - float64(cell)

		li, ri := cell, cell+1
		if boundary[k] == model.BoundaryNone {
			li--
			ri--
			if li < 0 {
				li = -1
			}
			if ri >= npoints[k] {
				ri = -1
			}
		} else if boundary[k] == model.BoundaryOneSided {
			if ri >= npoints[k] {
				ri = -1
			}
		}
		left[k] = li
		right[k] = ri
	}

	// Sum over the 2^dim cell corners.
	result := 0.0
	for corner := 0; corner < (1 << uint(dim)); corner++ {
		weight := 1.0
		gi := 0
		missing := false
		for k := 0; k < dim; k++ {
			if (corner>>uint(k))&1 == 1 {
				weight *= frac[k]
				if right[k] < 0 {
					missing = true
					break
				}
				gi += right[k] * strides[k]
			} else {
				weight *= 1 - frac[k]
				if left[k] < 0 {
					missing = true
					break
				}
				gi += left[k] * strides[k]
			}
		}
		if !missing && weight != 0 {
			result += weight * full[gi]
		}
	}
	return result
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
