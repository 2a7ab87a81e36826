package sparsegrid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combigrid/internal/fullgrid"
	"github.com/combigrid/internal/mpi"
	"github.com/combigrid/pkg/model"
)

func newTestDSG(t *testing.T) *DistributedSparseGridUniform {
	t.Helper()
	g, err := New(model.LevelVector{2, 2}, model.LevelVector{4, 4},
		model.UniformBoundary(2, model.BoundaryTwoSided))
	require.NoError(t, err)
	return g
}

func TestSubspaceLayoutDeterministic(t *testing.T) {
	a := newTestDSG(t)
	b := newTestDSG(t)

	require.Equal(t, a.NumSubspaces(), b.NumSubspaces())
	assert.Equal(t, a.Subspaces(), b.Subspaces())
	assert.Equal(t, len(a.Data()), len(b.Data()))
}

// TestBitwiseCompatibility: identical parameters and identical contents
// produce identical serialized byte sequences.
func TestBitwiseCompatibility(t *testing.T) {
	a := newTestDSG(t)
	b := newTestDSG(t)

	for i := range a.Data() {
		a.Data()[i] = float64(i) * 0.25
		b.Data()[i] = float64(i) * 0.25
	}

	assert.Equal(t, a.Serialize(), b.Serialize())
}

func TestSerializeRoundTrip(t *testing.T) {
	a := newTestDSG(t)
	for i := range a.Data() {
		a.Data()[i] = float64(i) - 7.5
	}

	b := newTestDSG(t)
	require.NoError(t, b.Deserialize(a.Serialize()))
	assert.Equal(t, a.Data(), b.Data())
}

func TestDeserializeSizeMismatch(t *testing.T) {
	g := newTestDSG(t)
	err := g.Deserialize([]byte{1, 2, 3})
	require.Error(t, err)

	err = g.AddSerialized([]byte{1, 2, 3})
	require.Error(t, err)
}

// TestAddSerializedZero: adding a zero-state peer leaves the state
// unchanged.
func TestAddSerializedZero(t *testing.T) {
	g := newTestDSG(t)
	for i := range g.Data() {
		g.Data()[i] = float64(i) * 1.5
	}
	before := append([]float64(nil), g.Data()...)

	zero := newTestDSG(t)
	require.NoError(t, g.AddSerialized(zero.Serialize()))

	for i := range before {
		assert.InDelta(t, before[i], g.Data()[i], 1e-15)
	}
}

// TestFullGridContributionRoundTrip: hierarchize a component grid into the
// sparse grid and extract it back unchanged.
func TestFullGridContributionRoundTrip(t *testing.T) {
	world := mpi.NewWorld(1, 1)
	comm := world.Context(0).LocalComm()

	dsg := newTestDSG(t)

	level := model.LevelVector{3, 2}
	g, err := fullgrid.New(level, model.UniformBoundary(2, model.BoundaryTwoSided), comm)
	require.NoError(t, err)

	data := g.Data()
	for li := range data {
		x := g.Coordinates(g.GlobalIndexVector(g.LocalToGlobalIndex(li)))
		data[li] = 1 + x[0]*x[0] + 0.5*x[1]
	}
	original := append([]float64(nil), data...)

	hier := g.HierarchizedContribution()
	dsg.AddFullGridContribution(hier, level, g.GlobalPoints(), 1.0)

	back := dsg.ExtractFullGrid(level, g.GlobalPoints())
	g.DehierarchizeInto(back)

	for li := range data {
		assert.InDelta(t, original[li], data[li], 1e-12)
	}
}

// TestPingPong: rank 1 sends its grid to rank 0, which receives and adds;
// the result equals twice the original elementwise.
func TestPingPong(t *testing.T) {
	world := mpi.NewWorld(1, 2)

	build := func() *DistributedSparseGridUniform {
		g, err := New(model.LevelVector{2, 2}, model.LevelVector{4, 4},
			model.UniformBoundary(2, model.BoundaryTwoSided))
		require.NoError(t, err)
		for i := range g.Data() {
			g.Data()[i] = float64(i) + 1
		}
		return g
	}

	var result *DistributedSparseGridUniform
	var wg sync.WaitGroup
	wg.Add(2)

	go func() { // rank 0
		defer wg.Done()
		ctx := world.Context(0)
		g := build()
		if err := g.RecvAndAdd(ctx, 1); err != nil {
			t.Error(err)
			return
		}
		result = g
	}()

	go func() { // rank 1
		defer wg.Done()
		ctx := world.Context(1)
		g := build()
		g.SendTo(ctx, 0)
	}()

	wg.Wait()

	require.NotNil(t, result)
	expected := build()
	for i := range result.Data() {
		assert.InDelta(t, 2*expected.Data()[i], result.Data()[i], 1e-15)
	}
}

// TestAllreduceWithinGroup sums contributions of two ranks elementwise.
func TestAllreduceWithinGroup(t *testing.T) {
	world := mpi.NewWorld(1, 2)

	results := make([][]float64, 2)
	var wg sync.WaitGroup
	for rank := 0; rank < 2; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			ctx := world.Context(rank)
			g, err := New(model.LevelVector{2, 2}, model.LevelVector{3, 3},
				model.UniformBoundary(2, model.BoundaryTwoSided))
			if err != nil {
				t.Error(err)
				return
			}
			for i := range g.Data() {
				g.Data()[i] = float64(rank + 1)
			}
			g.AllreduceWithinGroup(ctx.LocalComm())
			results[rank] = g.Data()
		}(rank)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	assert.Equal(t, results[0], results[1])
	for _, v := range results[0] {
		assert.Equal(t, 3.0, v)
	}
}

func TestSubspaceSizes(t *testing.T) {
	g, err := New(model.LevelVector{1, 1}, model.LevelVector{2, 2},
		model.UniformBoundary(2, model.BoundaryNone))
	require.NoError(t, err)

	// Without boundary there are no level-0 subspaces.
	for _, s := range g.Subspaces() {
		for k, lv := range s.Level {
			require.GreaterOrEqual(t, lv, 1)
			assert.Equal(t, 1<<uint(lv-1), s.Sizes[k])
		}
	}
}
