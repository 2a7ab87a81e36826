// Package sparsegrid implements the distributed hierarchical sparse grid
// that serves as the reduction target of the combination step.
package sparsegrid

import (
	"encoding/binary"
	"math"
	"math/bits"
	"sort"

	apperrors "github.com/combigrid/pkg/errors"
	"github.com/combigrid/internal/mpi"
	"github.com/combigrid/pkg/model"
)

// Subspace is one hierarchical subspace of the sparse grid.
type Subspace struct {
	Level   model.LevelVector
	Sizes   []int // points per dimension
	Strides []int
	Offset  int // offset into the coefficient array
	Size    int
}

// DistributedSparseGridUniform stores the hierarchical coefficients of all
// subspaces with levels from 0 (1 in dimensions without boundary points) up
// to lmax componentwise whose levels, each raised to at least lmin, sum to
// at most lmin.Sum() plus the largest component of lmax - lmin. This covers
// every subspace of every component grid of the scheme. The subspace layout is a
// deterministic function of (lmin, lmax, boundary), so two grids created
// with identical parameters have byte-compatible buffers.
//
// Every group member holds the full coefficient array; a member's
// contribution covers only the points hierarchized from its own brick, and
// the within-group allreduce assembles the complete field on all members.
type DistributedSparseGridUniform struct {
	dim      int
	lmin     model.LevelVector
	lmax     model.LevelVector
	boundary []model.BoundaryFlag

	subspaces []Subspace
	index     map[string]int
	data      []float64
}

// New creates the sparse grid for the given combination parameters.
func New(lmin, lmax model.LevelVector, boundary []model.BoundaryFlag) (*DistributedSparseGridUniform, error) {
	dim := len(lmin)
	if len(lmax) != dim || len(boundary) != dim {
		return nil, apperrors.New(apperrors.CodeInvalidBounds,
			"lmin, lmax and boundary must agree in dimension")
	}
	for k := 0; k < dim; k++ {
		if lmin[k] < 1 || lmax[k] < lmin[k] {
			return nil, apperrors.Newf(apperrors.CodeInvalidBounds,
				"invalid bounds in dimension %d: lmin=%d lmax=%d", k, lmin[k], lmax[k])
		}
	}

	g := &DistributedSparseGridUniform{
		dim:      dim,
		lmin:     lmin.Clone(),
		lmax:     lmax.Clone(),
		boundary: append([]model.BoundaryFlag(nil), boundary...),
		index:    make(map[string]int),
	}
	g.createSubspaces()
	return g, nil
}

// createSubspaces enumerates the subspace levels lexicographically and lays
// out the coefficient array. The diagonal cut keeps exactly the subspaces
// reachable from some component grid of the scheme over (lmin, lmax).
func (g *DistributedSparseGridUniform) createSubspaces() {
	cut := 0
	for k := 0; k < g.dim; k++ {
		if d := g.lmax[k] - g.lmin[k]; d > cut {
			cut = d
		}
	}
	n := cut + g.lmin.Sum()

	lo := make(model.LevelVector, g.dim)
	for k := 0; k < g.dim; k++ {
		if g.boundary[k] == model.BoundaryNone {
			lo[k] = 1
		}
	}

	var levels []model.LevelVector
	cur := make(model.LevelVector, g.dim)
	var rec func(k int)
	rec = func(k int) {
		if k == g.dim {
			sum := 0
			for i := 0; i < g.dim; i++ {
				if cur[i] > g.lmin[i] {
					sum += cur[i]
				} else {
					sum += g.lmin[i]
				}
			}
			if sum <= n {
				levels = append(levels, cur.Clone())
			}
			return
		}
		for v := lo[k]; v <= g.lmax[k]; v++ {
			cur[k] = v
			rec(k + 1)
		}
	}
	rec(0)

	sort.Slice(levels, func(i, j int) bool { return levels[i].Compare(levels[j]) < 0 })

	offset := 0
	g.subspaces = make([]Subspace, 0, len(levels))
	for _, lv := range levels {
		sizes := make([]int, g.dim)
		size := 1
		for k := 0; k < g.dim; k++ {
			sizes[k] = subspacePointsPerDim(lv[k], g.boundary[k])
			size *= sizes[k]
		}
		if size == 0 {
			continue
		}
		strides := make([]int, g.dim)
		strides[g.dim-1] = 1
		for k := g.dim - 2; k >= 0; k-- {
			strides[k] = strides[k+1] * sizes[k+1]
		}
		g.index[lv.Key()] = len(g.subspaces)
		g.subspaces = append(g.subspaces, Subspace{
			Level:   lv,
			Sizes:   sizes,
			Strides: strides,
			Offset:  offset,
			Size:    size,
		})
		offset += size
	}
	g.data = make([]float64, offset)
}

// subspacePointsPerDim returns the number of hierarchical functions of one
// dimension at the given level.
func subspacePointsPerDim(lv int, b model.BoundaryFlag) int {
	if lv == 0 {
		switch b {
		case model.BoundaryTwoSided:
			return 2
		case model.BoundaryOneSided:
			return 1
		default:
			return 0
		}
	}
	return 1 << uint(lv-1)
}

// Dim returns the dimensionality.
func (g *DistributedSparseGridUniform) Dim() int {
	return g.dim
}

// LevelMin returns lmin.
func (g *DistributedSparseGridUniform) LevelMin() model.LevelVector {
	return g.lmin
}

// LevelMax returns lmax.
func (g *DistributedSparseGridUniform) LevelMax() model.LevelVector {
	return g.lmax
}

// Boundary returns the boundary flags.
func (g *DistributedSparseGridUniform) Boundary() []model.BoundaryFlag {
	return g.boundary
}

// NumSubspaces returns the number of hierarchical subspaces.
func (g *DistributedSparseGridUniform) NumSubspaces() int {
	return len(g.subspaces)
}

// Subspaces returns the subspace descriptors in layout order.
func (g *DistributedSparseGridUniform) Subspaces() []Subspace {
	return g.subspaces
}

// Data returns the coefficient array.
func (g *DistributedSparseGridUniform) Data() []float64 {
	return g.data
}

// Zero resets all coefficients.
func (g *DistributedSparseGridUniform) Zero() {
	for i := range g.data {
		g.data[i] = 0
	}
}

// hierCoordinate locates the subspace level and intra-subspace index of a
// position j (units of 2^-l) on a pole of level l.
func hierCoordinate(j, l int, b model.BoundaryFlag) (lv, idx int) {
	n := 1 << uint(l)
	if j == 0 {
		return 0, 0
	}
	if j == n {
		return 0, 1
	}
	tz := bits.TrailingZeros(uint(j))
	lv = l - tz
	idx = ((j >> uint(tz)) - 1) / 2
	return lv, idx
}

// subspaceAt returns the subspace for a level vector, or nil.
func (g *DistributedSparseGridUniform) subspaceAt(lv model.LevelVector) *Subspace {
	i, ok := g.index[lv.Key()]
	if !ok {
		return nil
	}
	return &g.subspaces[i]
}

// forEachGridPoint iterates all points of a component grid described by
// (level, boundary-compatible point counts) and reports each point's
// subspace and intra-subspace flat index together with the grid's flat
// index.
func (g *DistributedSparseGridUniform) forEachGridPoint(level model.LevelVector, npoints []int, visit func(gridIndex, dataIndex int)) {
	dim := g.dim
	idx := make([]int, dim)
	lv := make(model.LevelVector, dim)
	sub := make([]int, dim)

	total := 1
	for _, np := range npoints {
		total *= np
	}

	for gi := 0; gi < total; gi++ {
		rest := gi
		for k := dim - 1; k >= 0; k-- {
			idx[k] = rest % npoints[k]
			rest /= npoints[k]
		}

		for k := 0; k < dim; k++ {
			j := idx[k]
			if g.boundary[k] == model.BoundaryNone {
				j++
			}
			lv[k], sub[k] = hierCoordinate(j, level[k], g.boundary[k])
		}

		s := g.subspaceAt(lv)
		if s == nil {
			continue
		}
		flat := s.Offset
		for k := 0; k < dim; k++ {
			flat += sub[k] * s.Strides[k]
		}
		visit(gi, flat)
	}
}

// AddFullGridContribution accumulates a hierarchized component grid array
// scaled by the combination coefficient into the matching subspaces.
func (g *DistributedSparseGridUniform) AddFullGridContribution(hier []float64, level model.LevelVector, npoints []int, coeff float64) {
	g.forEachGridPoint(level, npoints, func(gridIndex, dataIndex int) {
		g.data[dataIndex] += coeff * hier[gridIndex]
	})
}

// ExtractFullGrid writes the coefficients of all subspaces dominated by the
// component grid level into a freshly allocated full-size hierarchical
// array, ready for dehierarchization.
func (g *DistributedSparseGridUniform) ExtractFullGrid(level model.LevelVector, npoints []int) []float64 {
	total := 1
	for _, np := range npoints {
		total *= np
	}
	hier := make([]float64, total)
	g.forEachGridPoint(level, npoints, func(gridIndex, dataIndex int) {
		hier[gridIndex] = g.data[dataIndex]
	})
	return hier
}

// AllreduceWithinGroup sums the coefficient arrays elementwise across the
// communicator; afterwards every member holds identical contents.
func (g *DistributedSparseGridUniform) AllreduceWithinGroup(comm *mpi.Comm) {
	g.data = comm.AllreduceSum(g.data)
}

// Serialize returns the deterministic wire image: the coefficient array in
// subspace layout order, 8 bytes per value, little endian.
func (g *DistributedSparseGridUniform) Serialize() []byte {
	buf := make([]byte, 8*len(g.data))
	for i, v := range g.data {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

// Deserialize replaces the coefficients with the given wire image.
func (g *DistributedSparseGridUniform) Deserialize(buf []byte) error {
	if len(buf) != 8*len(g.data) {
		return apperrors.Newf(apperrors.CodeSizeMismatch,
			"wire image has %d bytes, grid needs %d", len(buf), 8*len(g.data))
	}
	for i := range g.data {
		g.data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return nil
}

// AddSerialized adds a peer's wire image elementwise.
func (g *DistributedSparseGridUniform) AddSerialized(buf []byte) error {
	if len(buf) != 8*len(g.data) {
		return apperrors.Newf(apperrors.CodeSizeMismatch,
			"wire image has %d bytes, grid needs %d", len(buf), 8*len(g.data))
	}
	for i := range g.data {
		g.data[i] += math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return nil
}

// SendTo ships the wire image to another world rank.
func (g *DistributedSparseGridUniform) SendTo(ctx *mpi.Context, dst int) {
	ctx.Send(dst, mpi.TagData, g.Serialize())
}

// Recv replaces the coefficients with an image received from src.
func (g *DistributedSparseGridUniform) Recv(ctx *mpi.Context, src int) error {
	buf := ctx.Recv(src, mpi.TagData).([]byte)
	return g.Deserialize(buf)
}

// RecvAndAdd receives a wire image from src and adds it elementwise.
func (g *DistributedSparseGridUniform) RecvAndAdd(ctx *mpi.Context, src int) error {
	buf := ctx.Recv(src, mpi.TagData).([]byte)
	return g.AddSerialized(buf)
}
