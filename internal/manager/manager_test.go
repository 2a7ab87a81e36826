package manager_test

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combigrid/internal/combischeme"
	"github.com/combigrid/internal/loadmodel"
	"github.com/combigrid/internal/manager"
	"github.com/combigrid/internal/mpi"
	"github.com/combigrid/internal/rescheduler"
	"github.com/combigrid/internal/task"
	"github.com/combigrid/internal/testutil"
	"github.com/combigrid/pkg/model"
)

// buildRatioTasks creates one RatioTask per scheme entry.
func buildRatioTasks(t *testing.T, s *combischeme.Scheme, boundary []model.BoundaryFlag) []task.Task {
	t.Helper()
	var tasks []task.Task
	for i, e := range s.Entries() {
		tasks = append(tasks, testutil.NewRatioTask(model.TaskID(i+1), e.Level, boundary, e.Coefficient))
	}
	return tasks
}

// buildCountingTasks creates one CountingTask per scheme entry.
func buildCountingTasks(t *testing.T, s *combischeme.Scheme, boundary []model.BoundaryFlag) []task.Task {
	t.Helper()
	var tasks []task.Task
	for i, e := range s.Entries() {
		tasks = append(tasks, testutil.NewCountingTask(model.TaskID(i+1), e.Level, boundary, e.Coefficient))
	}
	return tasks
}

// checkCombine runs the reduce scenario: adaptive scheme on (2,2)..(4,4),
// tasks writing l0/l1, two combines, then the midpoint of the combined
// solution must interpolate to 4/3.
func checkCombine(t *testing.T, ngroup, nprocs int) {
	t.Helper()

	dim := 2
	lmin := model.NewLevelVector(dim, 2)
	lmax := model.NewLevelVector(dim, 4)
	boundary := model.UniformBoundary(dim, model.BoundaryTwoSided)

	scheme, err := combischeme.NewAdaptive(dim, lmin, lmax)
	require.NoError(t, err)

	testutil.RunWorld(t, ngroup, nprocs, func(mctx *mpi.Context) {
		ctx := context.Background()

		pm, err := manager.NewProcessManager(mctx,
			manager.ParamsFromScheme(scheme, boundary, 2),
			buildRatioTasks(t, scheme, boundary),
			loadmodel.NewLinear(), nil)
		require.NoError(t, err)

		require.NoError(t, pm.UpdateParams(ctx))
		require.NoError(t, pm.RunFirst(ctx))

		for it := 0; it < 2; it++ {
			require.NoError(t, pm.Combine(ctx))
		}

		values, err := pm.InterpolateValues(ctx, [][]float64{{0.5, 0.5}})
		require.NoError(t, err)
		assert.InDelta(t, 1.333333333, values[0], 1e-6)

		pm.Exit()
	})
}

func TestCombine_1x1(t *testing.T) { checkCombine(t, 1, 1) }
func TestCombine_1x2(t *testing.T) { checkCombine(t, 1, 2) }
func TestCombine_2x2(t *testing.T) { checkCombine(t, 2, 2) }
func TestCombine_2x4(t *testing.T) { checkCombine(t, 2, 4) }

// movingRescheduler mirrors the testing policy of the rescheduling
// scenario: from every group with at least two tasks, move one task to the
// next group.
type movingRescheduler struct{}

func (movingRescheduler) Eval(in rescheduler.Input, _ loadmodel.LoadModel) []rescheduler.Move {
	byGroup := make(map[int][]model.TaskID)
	for id, g := range in.TaskGroup {
		byGroup[g] = append(byGroup[g], id)
	}

	var moves []rescheduler.Move
	for g := 0; g < in.NumGroups; g++ {
		ids := byGroup[g]
		if len(ids) < 2 {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		moves = append(moves, rescheduler.Move{
			TaskID: ids[0],
			Group:  (g + 1) % in.NumGroups,
		})
	}
	return moves
}

// greedyRescheduler tries to drain every group into group 0; the executor
// must refuse the draining moves.
type greedyRescheduler struct{}

func (greedyRescheduler) Eval(in rescheduler.Input, _ loadmodel.LoadModel) []rescheduler.Move {
	var moves []rescheduler.Move
	for id, g := range in.TaskGroup {
		if g != 0 {
			moves = append(moves, rescheduler.Move{TaskID: id, Group: 0})
		}
	}
	return moves
}

// assertOwnershipUnique checks that every task id appears in exactly one
// group's task list and that no group is empty.
func assertOwnershipUnique(t *testing.T, pm *manager.ProcessManager, total int) {
	t.Helper()

	seen := make(map[model.TaskID]int)
	for _, g := range pm.Groups() {
		require.GreaterOrEqual(t, g.NumTasks(), 1, "group %d has no tasks", g.Group())
		for _, id := range g.TaskIDs() {
			seen[id]++
		}
	}
	require.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "task %d owned by %d groups", id, n)
	}
}

// TestRescheduling runs the rescheduling scenario: counting tasks, one
// rescheduling step between two combines. Afterwards every grid holds 10
// uniformly, proving moved tasks were rebuilt and re-run on their new
// groups.
func TestRescheduling(t *testing.T) {
	ngroup, nprocs := 3, 1
	dim := 2
	lmin := model.NewLevelVector(dim, 2)
	lmax := model.NewLevelVector(dim, 4)
	boundary := model.UniformBoundary(dim, model.BoundaryTwoSided)

	scheme, err := combischeme.NewAdaptive(dim, lmin, lmax)
	require.NoError(t, err)
	total := len(scheme.Entries())

	testutil.RunWorld(t, ngroup, nprocs, func(mctx *mpi.Context) {
		ctx := context.Background()

		pm, err := manager.NewProcessManager(mctx,
			manager.ParamsFromScheme(scheme, boundary, 2),
			buildCountingTasks(t, scheme, boundary),
			loadmodel.NewLinear(), nil,
			manager.WithRescheduler(movingRescheduler{}))
		require.NoError(t, err)

		require.NoError(t, pm.UpdateParams(ctx))
		require.NoError(t, pm.RunFirst(ctx))
		assertOwnershipUnique(t, pm, total)

		require.NoError(t, pm.Combine(ctx))

		before := pm.TaskGroup()
		require.NoError(t, pm.Reschedule(ctx))
		after := pm.TaskGroup()
		assert.NotEqual(t, before, after, "the policy should have moved tasks")
		assertOwnershipUnique(t, pm, total)

		require.NoError(t, pm.RunNext(ctx))
		require.NoError(t, pm.Combine(ctx))

		// Every grid must hold the post-run value everywhere, including
		// the grids rebuilt on their new groups. The combined solution of
		// a partition-of-unity scheme over constant grids is the constant.
		for id := range pm.TaskGroup() {
			full, err := pm.GatherFullGrid(ctx, id)
			require.NoError(t, err)
			for i, v := range full {
				require.InDelta(t, 10.0, v, 1e-9, "task %d index %d", id, i)
			}
		}

		pm.Exit()
	})
}

// TestReschedulingNeverEmptiesGroups drives a policy that tries to drain
// all groups; the safety constraint must keep at least one task per group
// and no task may be duplicated.
func TestReschedulingNeverEmptiesGroups(t *testing.T) {
	ngroup, nprocs := 3, 1
	dim := 2
	lmin := model.NewLevelVector(dim, 2)
	lmax := model.NewLevelVector(dim, 4)
	boundary := model.UniformBoundary(dim, model.BoundaryTwoSided)

	scheme, err := combischeme.NewAdaptive(dim, lmin, lmax)
	require.NoError(t, err)
	total := len(scheme.Entries())

	testutil.RunWorld(t, ngroup, nprocs, func(mctx *mpi.Context) {
		ctx := context.Background()

		pm, err := manager.NewProcessManager(mctx,
			manager.ParamsFromScheme(scheme, boundary, 1),
			buildCountingTasks(t, scheme, boundary),
			loadmodel.NewLinear(), nil,
			manager.WithRescheduler(greedyRescheduler{}))
		require.NoError(t, err)

		require.NoError(t, pm.UpdateParams(ctx))
		require.NoError(t, pm.RunFirst(ctx))
		require.NoError(t, pm.Combine(ctx))
		require.NoError(t, pm.Reschedule(ctx))

		assertOwnershipUnique(t, pm, total)

		pm.Exit()
	})
}

// TestAssignmentBalanced: the LPT heuristic spreads tasks over all groups.
func TestAssignmentBalanced(t *testing.T) {
	ngroup, nprocs := 3, 1
	dim := 2
	lmin := model.NewLevelVector(dim, 2)
	lmax := model.NewLevelVector(dim, 4)
	boundary := model.UniformBoundary(dim, model.BoundaryTwoSided)

	scheme, err := combischeme.NewAdaptive(dim, lmin, lmax)
	require.NoError(t, err)

	testutil.RunWorld(t, ngroup, nprocs, func(mctx *mpi.Context) {
		ctx := context.Background()

		pm, err := manager.NewProcessManager(mctx,
			manager.ParamsFromScheme(scheme, boundary, 1),
			buildRatioTasks(t, scheme, boundary),
			loadmodel.NewLinear(), nil)
		require.NoError(t, err)

		require.NoError(t, pm.UpdateParams(ctx))
		require.NoError(t, pm.RunFirst(ctx))

		// Five grids over three groups: no group may be idle.
		for _, g := range pm.Groups() {
			assert.GreaterOrEqual(t, g.NumTasks(), 1)
			assert.LessOrEqual(t, g.NumTasks(), 2)
		}

		pm.Exit()
	})
}

// TestDurationsReported: run durations arrive at the manager for the
// rescheduling policy.
func TestDurationsReported(t *testing.T) {
	dim := 2
	lmin := model.NewLevelVector(dim, 2)
	lmax := model.NewLevelVector(dim, 3)
	boundary := model.UniformBoundary(dim, model.BoundaryTwoSided)

	scheme, err := combischeme.NewAdaptive(dim, lmin, lmax)
	require.NoError(t, err)

	testutil.RunWorld(t, 1, 1, func(mctx *mpi.Context) {
		ctx := context.Background()

		pm, err := manager.NewProcessManager(mctx,
			manager.ParamsFromScheme(scheme, boundary, 1),
			buildRatioTasks(t, scheme, boundary),
			loadmodel.NewLinear(), nil)
		require.NoError(t, err)

		require.NoError(t, pm.UpdateParams(ctx))
		require.NoError(t, pm.RunFirst(ctx))

		durations := pm.Durations()
		assert.Len(t, durations, len(scheme.Entries()))

		pm.Exit()
	})
}
