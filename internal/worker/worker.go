package worker

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/combigrid/internal/mpi"
	"github.com/combigrid/internal/sparsegrid"
	"github.com/combigrid/internal/task"
	"github.com/combigrid/pkg/model"
	"github.com/combigrid/pkg/utils"
)

// ProcessGroupWorker owns the tasks and the sparse grid of one worker rank.
// It loops on Wait until the manager broadcasts EXIT. All task level I/O
// uses the group communicator only.
type ProcessGroupWorker struct {
	ctx    *mpi.Context
	comm   *mpi.Comm
	logger utils.Logger

	state  model.WorkerState
	params *Params
	dsg    *sparsegrid.DistributedSparseGridUniform

	tasks     map[model.TaskID]task.Task
	taskOrder []model.TaskID
	durations map[model.TaskID]int64
}

// New creates a worker on the given rank context.
func New(ctx *mpi.Context, logger utils.Logger) *ProcessGroupWorker {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &ProcessGroupWorker{
		ctx:       ctx,
		comm:      ctx.LocalComm(),
		logger:    logger.WithField("rank", ctx.Rank()),
		state:     model.WorkerIdle,
		tasks:     make(map[model.TaskID]task.Task),
		durations: make(map[model.TaskID]int64),
	}
}

// State returns the current worker state.
func (w *ProcessGroupWorker) State() model.WorkerState {
	return w.state
}

// TaskIDs returns the ids of the owned tasks in execution order.
func (w *ProcessGroupWorker) TaskIDs() []model.TaskID {
	return append([]model.TaskID(nil), w.taskOrder...)
}

// SparseGrid returns the local sparse grid, nil before the first combine.
func (w *ProcessGroupWorker) SparseGrid() *sparsegrid.DistributedSparseGridUniform {
	return w.dsg
}

// Run loops on Wait until EXIT. A failed signal is reported to the
// manager through the status reply and does not break the loop; the
// manager decides whether to abort the run.
func (w *ProcessGroupWorker) Run() error {
	var firstErr error
	for {
		sig, err := w.Wait()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if sig == SignalExit {
			return firstErr
		}
	}
}

// Wait blocks on the next signal broadcast from the group root (which
// receives it point-to-point from the manager), executes it and returns
// the signal.
func (w *ProcessGroupWorker) Wait() (Signal, error) {
	var req Request
	if w.ctx.IsGroupRoot() {
		req = w.ctx.Recv(w.ctx.World().ManagerRank(), mpi.TagSignal).(Request)
		w.comm.Bcast(req)
	} else {
		req = w.comm.Bcast(nil).(Request)
	}

	w.logger.Debug("signal %s", req.Signal)

	err := w.dispatch(req)
	w.replyStatus(req.Signal, err)
	if err != nil {
		w.logger.Error("signal %s failed: %v", req.Signal, err)
	}
	return req.Signal, err
}

// replyStatus sends the root's status reply for signals the manager waits
// on. Exit produces no reply.
func (w *ProcessGroupWorker) replyStatus(sig Signal, err error) {
	if !w.ctx.IsGroupRoot() || sig == SignalExit {
		return
	}
	st := Status{OK: err == nil, Durations: w.durationSnapshot()}
	if err != nil {
		st.Error = err.Error()
	}
	w.ctx.Send(w.ctx.World().ManagerRank(), mpi.TagStatus, st)
}

func (w *ProcessGroupWorker) durationSnapshot() map[model.TaskID]int64 {
	snap := make(map[model.TaskID]int64, len(w.durations))
	for id, d := range w.durations {
		snap[id] = d
	}
	return snap
}

func (w *ProcessGroupWorker) dispatch(req Request) error {
	switch req.Signal {
	case SignalUpdateParams:
		return w.updateParams(req.Blob)
	case SignalRunFirst:
		return w.runFirst(req.Blob)
	case SignalRunNext:
		return w.runNext()
	case SignalCombine:
		return w.combine(false)
	case SignalCombineThirdLevel:
		return w.combine(true)
	case SignalRescheduleRemove:
		return w.rescheduleRemove(req.TaskID)
	case SignalRescheduleAdd:
		return w.rescheduleAdd(req.Blob)
	case SignalEval:
		return w.eval(req.Blob)
	case SignalGetFullGrid:
		return w.getFullGrid(req.TaskID)
	case SignalGetDSG:
		return w.getDSG()
	case SignalExit:
		return nil
	default:
		return fmt.Errorf("unknown signal %d", req.Signal)
	}
}

func (w *ProcessGroupWorker) updateParams(blob []byte) error {
	var p Params
	if err := json.Unmarshal(blob, &p); err != nil {
		return err
	}
	w.params = &p

	dsg, err := sparsegrid.New(p.LMin, p.LMax, p.Boundary)
	if err != nil {
		return err
	}
	w.dsg = dsg
	return nil
}

// runFirst receives a task blob, constructs the task, initializes its grid
// and advances it one iteration.
func (w *ProcessGroupWorker) runFirst(blob []byte) error {
	t, err := task.Unmarshal(blob)
	if err != nil {
		return err
	}
	if err := t.Init(w.comm); err != nil {
		return err
	}

	w.addTask(t)
	w.state = model.WorkerRunning
	defer func() { w.state = model.WorkerIdle }()

	return w.runTask(t)
}

// runNext advances each owned task by one iteration, in task id order so
// every group member executes the same collective sequence.
func (w *ProcessGroupWorker) runNext() error {
	w.state = model.WorkerRunning
	defer func() { w.state = model.WorkerIdle }()

	for _, id := range w.taskOrder {
		if err := w.runTask(w.tasks[id]); err != nil {
			return err
		}
	}
	return nil
}

func (w *ProcessGroupWorker) runTask(t task.Task) error {
	start := time.Now()
	if err := t.Run(w.comm); err != nil {
		return err
	}
	w.durations[t.ID()] = time.Since(start).Microseconds()
	w.comm.Barrier()
	return nil
}

// combine hierarchizes every owned grid into the sparse grid weighted by
// its coefficient, reduces within the group and across groups, optionally
// takes part in the third-level exchange, and dehierarchizes back.
func (w *ProcessGroupWorker) combine(thirdLevel bool) error {
	if w.dsg == nil {
		return fmt.Errorf("combination parameters not distributed")
	}

	w.state = model.WorkerCombineReady
	w.dsg.Zero()

	for _, id := range w.taskOrder {
		t := w.tasks[id]
		g := t.Grid()
		hier := g.HierarchizedContribution()
		w.dsg.AddFullGridContribution(hier, g.Level(), g.GlobalPoints(), t.Coefficient())
	}

	w.dsg.AllreduceWithinGroup(w.comm)
	w.dsg.AllreduceWithinGroup(w.ctx.GlobalReduceComm())

	if thirdLevel {
		if err := w.thirdLevelExchange(); err != nil {
			return err
		}
	}

	for _, id := range w.taskOrder {
		t := w.tasks[id]
		g := t.Grid()
		hier := w.dsg.ExtractFullGrid(g.Level(), g.GlobalPoints())
		g.DehierarchizeInto(hier)
	}

	w.state = model.WorkerCombined
	w.comm.Barrier()
	w.state = model.WorkerIdle
	return nil
}

// thirdLevelExchange sends the reduced sparse grid to the manager through
// the root of group 0 and installs the image the manager hands back. The
// manager applies the peer reduction; on a failed exchange it returns the
// unchanged image and the run continues with the intra-instance result.
func (w *ProcessGroupWorker) thirdLevelExchange() error {
	manager := w.ctx.World().ManagerRank()

	if w.ctx.GroupIndex() == 0 && w.ctx.IsGroupRoot() {
		w.dsg.SendTo(w.ctx, manager)
	}

	var combined []byte
	if w.ctx.IsGroupRoot() {
		combined = w.ctx.Recv(manager, mpi.TagData).([]byte)
		w.comm.Bcast(combined)
	} else {
		combined = w.comm.Bcast(nil).([]byte)
	}
	return w.dsg.Deserialize(combined)
}

// rescheduleRemove serializes the task's persistent state to the manager
// and destroys the local grid. On serialization failure the task stays.
func (w *ProcessGroupWorker) rescheduleRemove(id model.TaskID) error {
	t, ok := w.tasks[id]
	if !ok {
		return fmt.Errorf("task %d not owned by this group", id)
	}

	// The root serializes first and broadcasts whether it succeeded, so the
	// whole group either drops the task or keeps it.
	var blob []byte
	var serr error
	if w.ctx.IsGroupRoot() {
		blob, serr = task.Marshal(t)
		w.comm.Bcast(serr == nil)
	} else if !w.comm.Bcast(nil).(bool) {
		serr = fmt.Errorf("task %d serialization failed on root", id)
	}
	if serr != nil {
		return serr
	}

	if w.ctx.IsGroupRoot() {
		w.ctx.Send(w.ctx.World().ManagerRank(), mpi.TagTaskBlob, blob)
	}

	w.removeTask(id)
	return nil
}

// rescheduleAdd receives a task blob, reconstructs the task with its
// persistent state and rebuilds the grid on this group.
func (w *ProcessGroupWorker) rescheduleAdd(blob []byte) error {
	t, err := task.Unmarshal(blob)
	if err != nil {
		return err
	}
	if err := t.Init(w.comm); err != nil {
		return err
	}
	w.addTask(t)
	return nil
}

// eval computes the group's share of the combined interpolation: the sum
// over owned tasks of coefficient times the grid value at each point. The
// root replies with the partial sums.
func (w *ProcessGroupWorker) eval(blob []byte) error {
	var req EvalRequest
	if err := json.Unmarshal(blob, &req); err != nil {
		return err
	}

	partial := make([]float64, len(req.Points))
	for _, id := range w.taskOrder {
		t := w.tasks[id]
		for i, p := range req.Points {
			partial[i] += t.Coefficient() * t.Grid().Evaluate(p)
		}
	}

	if w.ctx.IsGroupRoot() {
		w.ctx.Send(w.ctx.World().ManagerRank(), mpi.TagEval, partial)
	}
	return nil
}

// getFullGrid gathers one task's full nodal grid to the group root and
// forwards it to the manager.
func (w *ProcessGroupWorker) getFullGrid(id model.TaskID) error {
	t, ok := w.tasks[id]
	if !ok {
		return fmt.Errorf("task %d not owned by this group", id)
	}

	full := t.Grid().GatherFullGrid()
	if w.ctx.IsGroupRoot() {
		w.ctx.Send(w.ctx.World().ManagerRank(), mpi.TagData, full)
	}
	return nil
}

// getDSG ships the reduced sparse grid wire image to the manager.
func (w *ProcessGroupWorker) getDSG() error {
	if w.dsg == nil {
		return fmt.Errorf("combination parameters not distributed")
	}
	if w.ctx.IsGroupRoot() {
		w.ctx.Send(w.ctx.World().ManagerRank(), mpi.TagData, w.dsg.Serialize())
	}
	return nil
}

func (w *ProcessGroupWorker) addTask(t task.Task) {
	w.tasks[t.ID()] = t
	w.taskOrder = append(w.taskOrder, t.ID())
	sort.Slice(w.taskOrder, func(i, j int) bool { return w.taskOrder[i] < w.taskOrder[j] })
}

func (w *ProcessGroupWorker) removeTask(id model.TaskID) {
	delete(w.tasks, id)
	delete(w.durations, id)
	for i, tid := range w.taskOrder {
		if tid == id {
			w.taskOrder = append(w.taskOrder[:i], w.taskOrder[i+1:]...)
			break
		}
	}
}
