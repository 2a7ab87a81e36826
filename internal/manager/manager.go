package manager

import (
	"context"
	"encoding/json"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/combigrid/pkg/errors"
	"github.com/combigrid/internal/loadmodel"
	"github.com/combigrid/internal/mpi"
	"github.com/combigrid/internal/rescheduler"
	"github.com/combigrid/internal/sparsegrid"
	"github.com/combigrid/internal/task"
	"github.com/combigrid/internal/worker"
	"github.com/combigrid/pkg/model"
	"github.com/combigrid/pkg/utils"
)

const tracerName = "combigrid/manager"

// ThirdLevelExchanger swaps the serialized sparse grid with the peer
// instance. Implemented by the third-level bridge client.
type ThirdLevelExchanger interface {
	// Exchange ships the wire image and returns the peer's image.
	Exchange(image []byte) ([]byte, error)
}

// ProcessManager drives the global iteration loop: assigns tasks to
// groups, advances iterations, orchestrates combination and rescheduling
// and bridges to the third level.
type ProcessManager struct {
	ctx    *mpi.Context
	groups []*ProcessGroupManager
	params CombiParameters
	logger utils.Logger

	tasks     map[model.TaskID]task.Task
	taskGroup map[model.TaskID]int
	taskOrder []model.TaskID

	loadModel   loadmodel.LoadModel
	rescheduler rescheduler.TaskRescheduler

	// durations accumulates the latest measured run duration per task.
	durations map[model.TaskID]int64

	// dsg is the manager-side sparse grid used to apply the third-level
	// reduction; it mirrors the workers' layout.
	dsg           *sparsegrid.DistributedSparseGridUniform
	exchanger     ThirdLevelExchanger
	reduceReplace bool
}

// Option configures a ProcessManager.
type Option func(*ProcessManager)

// WithRescheduler installs a rescheduling policy.
func WithRescheduler(r rescheduler.TaskRescheduler) Option {
	return func(m *ProcessManager) { m.rescheduler = r }
}

// WithThirdLevel installs the bridge used by CombineThirdLevel. When
// replace is true the peer image replaces the local one instead of being
// summed.
func WithThirdLevel(e ThirdLevelExchanger, replace bool) Option {
	return func(m *ProcessManager) {
		m.exchanger = e
		m.reduceReplace = replace
	}
}

// NewProcessManager creates the manager over all groups of the world.
// tasks are the scheme's component grid computations, constructed by the
// caller.
func NewProcessManager(ctx *mpi.Context, params CombiParameters, tasks []task.Task, lm loadmodel.LoadModel, logger utils.Logger, opts ...Option) (*ProcessManager, error) {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	if lm == nil {
		lm = loadmodel.NewLinear()
	}

	dsg, err := sparsegrid.New(params.LMin, params.LMax, params.Boundary)
	if err != nil {
		return nil, err
	}

	m := &ProcessManager{
		ctx:         ctx,
		params:      params,
		logger:      logger,
		tasks:       make(map[model.TaskID]task.Task, len(tasks)),
		taskGroup:   make(map[model.TaskID]int, len(tasks)),
		loadModel:   lm,
		rescheduler: rescheduler.NoRescheduler{},
		durations:   make(map[model.TaskID]int64),
		dsg:         dsg,
	}

	for g := 0; g < ctx.World().NGroup(); g++ {
		m.groups = append(m.groups, NewProcessGroupManager(ctx, g, logger))
	}

	for _, t := range tasks {
		if _, dup := m.tasks[t.ID()]; dup {
			return nil, apperrors.Newf(apperrors.CodeConfigError, "duplicate task id %d", t.ID())
		}
		m.tasks[t.ID()] = t
		m.taskOrder = append(m.taskOrder, t.ID())
	}
	sort.Slice(m.taskOrder, func(i, j int) bool { return m.taskOrder[i] < m.taskOrder[j] })

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Groups returns the group handles.
func (m *ProcessManager) Groups() []*ProcessGroupManager {
	return m.groups
}

// TaskGroup returns the current task-to-group assignment.
func (m *ProcessManager) TaskGroup() map[model.TaskID]int {
	out := make(map[model.TaskID]int, len(m.taskGroup))
	for id, g := range m.taskGroup {
		out[id] = g
	}
	return out
}

// Durations returns the latest measured run duration per task.
func (m *ProcessManager) Durations() map[model.TaskID]int64 {
	out := make(map[model.TaskID]int64, len(m.durations))
	for id, d := range m.durations {
		out[id] = d
	}
	return out
}

// UpdateParams distributes the combination parameters to all groups. It
// must run before RunFirst.
func (m *ProcessManager) UpdateParams(ctx context.Context) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "update-params")
	defer span.End()

	blob, err := m.params.Marshal()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSerialization, "combination parameters", err)
	}
	for _, g := range m.groups {
		if err := g.UpdateParams(blob); err != nil {
			return err
		}
	}
	return nil
}

// RunFirst assigns the tasks to groups with a longest-processing-time
// heuristic over the load model estimates and runs the first iteration of
// every task. Ties in projected group cost go to the lower group index.
func (m *ProcessManager) RunFirst(ctx context.Context) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "runfirst")
	defer span.End()

	// Sort by descending cost; equal cost is ordered by task id to keep
	// the assignment reproducible.
	order := append([]model.TaskID(nil), m.taskOrder...)
	sort.Slice(order, func(i, j int) bool {
		ci := m.loadModel.Eval(m.tasks[order[i]].Level())
		cj := m.loadModel.Eval(m.tasks[order[j]].Level())
		if ci != cj {
			return ci > cj
		}
		return order[i] < order[j]
	})

	load := make([]float64, len(m.groups))
	for _, id := range order {
		best := 0
		for g := 1; g < len(load); g++ {
			if load[g] < load[best] {
				best = g
			}
		}

		t := m.tasks[id]
		if err := m.groups[best].RunFirst(t); err != nil {
			return err
		}
		m.taskGroup[id] = best
		load[best] += m.loadModel.Eval(t.Level())
		m.collectDurations()
	}

	span.SetAttributes(attribute.Int("tasks", len(order)))
	return nil
}

// RunNext advances every task by one iteration.
func (m *ProcessManager) RunNext(ctx context.Context) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "runnext")
	defer span.End()

	for _, g := range m.groups {
		g.SendSignal(worker.Request{Signal: worker.SignalRunNext})
	}
	return m.waitAll()
}

// Combine runs one combination cycle across all groups.
func (m *ProcessManager) Combine(ctx context.Context) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "combine")
	defer span.End()

	for _, g := range m.groups {
		g.SendSignal(worker.Request{Signal: worker.SignalCombine})
	}
	return m.waitAll()
}

// CombineThirdLevel combines and exchanges the reduced sparse grid with
// the peer instance through the bridge. When the exchange fails the run
// continues with the intra-instance result.
func (m *ProcessManager) CombineThirdLevel(ctx context.Context) error {
	if m.exchanger == nil {
		return m.Combine(ctx)
	}

	_, span := otel.Tracer(tracerName).Start(ctx, "combine-third-level")
	defer span.End()

	for _, g := range m.groups {
		g.CombineThirdLevel()
	}

	// Group 0's root ships the reduced grid; all groups then wait for the
	// image to install.
	image := m.ctx.Recv(m.groups[0].RootRank(), mpi.TagData).([]byte)
	combined := m.exchangeWithPeer(image)

	for _, g := range m.groups {
		m.ctx.Send(g.RootRank(), mpi.TagData, combined)
	}
	return m.waitAll()
}

// exchangeWithPeer applies the configured third-level reduction. Protocol
// errors abort this exchange only.
func (m *ProcessManager) exchangeWithPeer(image []byte) []byte {
	peer, err := m.exchanger.Exchange(image)
	if err != nil {
		m.logger.Warn("third-level exchange failed, continuing without peer data: %v", err)
		return image
	}

	if m.reduceReplace {
		if len(peer) != len(image) {
			m.logger.Warn("third-level peer image size mismatch, continuing without peer data")
			return image
		}
		return peer
	}

	if err := m.dsg.Deserialize(image); err != nil {
		m.logger.Warn("third-level reduce failed: %v", err)
		return image
	}
	if err := m.dsg.AddSerialized(peer); err != nil {
		m.logger.Warn("third-level reduce failed: %v", err)
		return image
	}
	return m.dsg.Serialize()
}

// Reschedule asks the policy for migrations and applies the safe subset:
// moves are executed in task id order, moves that would empty a group are
// silently dropped, and a failed state serialization aborts only that
// move.
func (m *ProcessManager) Reschedule(ctx context.Context) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "reschedule")
	defer span.End()

	levels := make(map[model.TaskID]model.LevelVector, len(m.tasks))
	for id, t := range m.tasks {
		levels[id] = t.Level()
	}

	moves := m.rescheduler.Eval(rescheduler.Input{
		TaskGroup: m.TaskGroup(),
		Durations: m.Durations(),
		Levels:    levels,
		NumGroups: len(m.groups),
	}, m.loadModel)

	sort.Slice(moves, func(i, j int) bool { return moves[i].TaskID < moves[j].TaskID })

	applied := 0
	for _, mv := range moves {
		src, ok := m.taskGroup[mv.TaskID]
		if !ok || mv.Group < 0 || mv.Group >= len(m.groups) || mv.Group == src {
			continue
		}
		// Never leave a group without tasks.
		if m.groups[src].NumTasks() <= 1 {
			continue
		}

		blob, err := m.groups[src].RemoveTask(mv.TaskID)
		if err != nil {
			m.logger.Warn("rescheduling move of task %d aborted: %v", mv.TaskID, err)
			m.groups[src].MarkAvailable()
			continue
		}
		if err := m.groups[mv.Group].AddTask(mv.TaskID, blob); err != nil {
			return err
		}
		m.taskGroup[mv.TaskID] = mv.Group
		applied++
	}

	span.SetAttributes(attribute.Int("moves", applied))
	m.logger.Info("rescheduling applied %d of %d proposed moves", applied, len(moves))
	return nil
}

// InterpolateValues evaluates the combined solution at the given unit-cube
// points: the sum over all component grids of coefficient times the
// d-linear interpolant.
func (m *ProcessManager) InterpolateValues(ctx context.Context, points [][]float64) ([]float64, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "interpolate")
	defer span.End()

	blob, err := json.Marshal(worker.EvalRequest{Points: points})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSerialization, "eval points", err)
	}

	values := make([]float64, len(points))
	for _, g := range m.groups {
		partial, err := g.Eval(blob)
		if err != nil {
			return nil, err
		}
		for i := range values {
			values[i] += partial[i]
		}
	}
	m.collectDurations()
	return values, nil
}

// GatherFullGrid collects one task's full nodal grid from its owner group.
func (m *ProcessManager) GatherFullGrid(ctx context.Context, id model.TaskID) ([]float64, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "gather-full-grid")
	defer span.End()

	g, ok := m.taskGroup[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "task %d is not assigned", id)
	}
	full, err := m.groups[g].GetFullGrid(id)
	if err != nil {
		return nil, err
	}
	m.collectDurations()
	return full, nil
}

// SparseGridImage fetches the reduced sparse grid wire image from the
// first group, e.g. for checkpointing. Valid after a combine.
func (m *ProcessManager) SparseGridImage(ctx context.Context) ([]byte, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "get-dsg")
	defer span.End()
	return m.groups[0].GetDSG()
}

// Exit terminates all worker loops.
func (m *ProcessManager) Exit() {
	for _, g := range m.groups {
		g.Exit()
	}
}

// waitAll collects the status replies of all groups in a fixed order and
// folds the reported durations into the duration map.
func (m *ProcessManager) waitAll() error {
	var firstErr error
	for _, g := range m.groups {
		if err := g.WaitStatus(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.collectDurations()
	return firstErr
}

// collectDurations merges the groups' last reported durations.
func (m *ProcessManager) collectDurations() {
	for _, g := range m.groups {
		for id, d := range g.LastDurations() {
			m.durations[id] = d
		}
	}
}
