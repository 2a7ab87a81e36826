// Package manager implements the manager process: the per-group proxies,
// the combination parameters and the global scheduler driving the
// iteration loop.
package manager

import (
	apperrors "github.com/combigrid/pkg/errors"
	"github.com/combigrid/internal/mpi"
	"github.com/combigrid/internal/task"
	"github.com/combigrid/internal/worker"
	"github.com/combigrid/pkg/model"
	"github.com/combigrid/pkg/utils"
)

// ProcessGroupManager is the manager-side handle for one worker group. It
// tracks the group status and the assigned task ids; every call translates
// to a signal sent to the group root.
type ProcessGroupManager struct {
	ctx      *mpi.Context
	group    int
	rootRank int
	status   model.GroupStatus
	taskIDs  []model.TaskID
	logger   utils.Logger

	// lastDurations holds the run durations reported with the most recent
	// status reply.
	lastDurations map[model.TaskID]int64
}

// NewProcessGroupManager creates the handle for one group.
func NewProcessGroupManager(ctx *mpi.Context, group int, logger utils.Logger) *ProcessGroupManager {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &ProcessGroupManager{
		ctx:           ctx,
		group:         group,
		rootRank:      ctx.World().GroupRootRank(group),
		status:        model.GroupAvailable,
		logger:        logger.WithField("group", group),
		lastDurations: make(map[model.TaskID]int64),
	}
}

// Group returns the group index.
func (g *ProcessGroupManager) Group() int {
	return g.group
}

// RootRank returns the world rank of the group root.
func (g *ProcessGroupManager) RootRank() int {
	return g.rootRank
}

// Status returns the current group status.
func (g *ProcessGroupManager) Status() model.GroupStatus {
	return g.status
}

// TaskIDs returns the ids of the tasks assigned to this group.
func (g *ProcessGroupManager) TaskIDs() []model.TaskID {
	return append([]model.TaskID(nil), g.taskIDs...)
}

// NumTasks returns the number of assigned tasks.
func (g *ProcessGroupManager) NumTasks() int {
	return len(g.taskIDs)
}

// LastDurations returns the run durations from the latest status reply.
func (g *ProcessGroupManager) LastDurations() map[model.TaskID]int64 {
	return g.lastDurations
}

// MarkAvailable resets the status, used when a failed operation is
// recoverable (an aborted rescheduling move rather than a dead group).
func (g *ProcessGroupManager) MarkAvailable() {
	g.status = model.GroupAvailable
}

// SendSignal ships a request to the group root and marks the group busy.
func (g *ProcessGroupManager) SendSignal(req worker.Request) {
	g.status = model.GroupBusy
	g.ctx.Send(g.rootRank, mpi.TagSignal, req)
}

// WaitStatus blocks for the root's status reply. A failure report moves
// the group to FAIL and surfaces as a GroupFailure error.
func (g *ProcessGroupManager) WaitStatus() error {
	st := g.ctx.Recv(g.rootRank, mpi.TagStatus).(worker.Status)
	if st.Durations != nil {
		g.lastDurations = st.Durations
	}
	if !st.OK {
		g.status = model.GroupFail
		return apperrors.Newf(apperrors.CodeGroupFailure, "group %d: %s", g.group, st.Error)
	}
	g.status = model.GroupAvailable
	return nil
}

// signalAndWait is the common send-then-wait pattern.
func (g *ProcessGroupManager) signalAndWait(req worker.Request) error {
	g.SendSignal(req)
	return g.WaitStatus()
}

// UpdateParams distributes the combination parameter blob.
func (g *ProcessGroupManager) UpdateParams(blob []byte) error {
	return g.signalAndWait(worker.Request{Signal: worker.SignalUpdateParams, Blob: blob})
}

// RunFirst ships a task to the group and advances it one iteration.
func (g *ProcessGroupManager) RunFirst(t task.Task) error {
	blob, err := task.Marshal(t)
	if err != nil {
		return err
	}
	if err := g.signalAndWait(worker.Request{Signal: worker.SignalRunFirst, Blob: blob}); err != nil {
		return err
	}
	g.taskIDs = append(g.taskIDs, t.ID())
	return nil
}

// RunNext advances all tasks of the group by one iteration.
func (g *ProcessGroupManager) RunNext() error {
	return g.signalAndWait(worker.Request{Signal: worker.SignalRunNext})
}

// Combine runs one combination cycle on the group.
func (g *ProcessGroupManager) Combine() error {
	return g.signalAndWait(worker.Request{Signal: worker.SignalCombine})
}

// CombineThirdLevel starts a combination cycle that ends in the
// manager-mediated peer exchange. The caller relays the serialized grids
// and must collect the status reply afterwards.
func (g *ProcessGroupManager) CombineThirdLevel() {
	g.SendSignal(worker.Request{Signal: worker.SignalCombineThirdLevel})
}

// RemoveTask serializes the task's state off the group and returns the
// blob. On failure the task stays on the group.
func (g *ProcessGroupManager) RemoveTask(id model.TaskID) ([]byte, error) {
	g.SendSignal(worker.Request{Signal: worker.SignalRescheduleRemove, TaskID: id})
	if err := g.WaitStatus(); err != nil {
		return nil, err
	}
	blob := g.ctx.Recv(g.rootRank, mpi.TagTaskBlob).([]byte)

	for i, tid := range g.taskIDs {
		if tid == id {
			g.taskIDs = append(g.taskIDs[:i], g.taskIDs[i+1:]...)
			break
		}
	}
	return blob, nil
}

// AddTask ships a serialized task to the group, which rebuilds its grid.
func (g *ProcessGroupManager) AddTask(id model.TaskID, blob []byte) error {
	if err := g.signalAndWait(worker.Request{Signal: worker.SignalRescheduleAdd, Blob: blob}); err != nil {
		return err
	}
	g.taskIDs = append(g.taskIDs, id)
	return nil
}

// Eval requests the group's partial interpolation sums for the points.
func (g *ProcessGroupManager) Eval(blob []byte) ([]float64, error) {
	g.SendSignal(worker.Request{Signal: worker.SignalEval, Blob: blob})
	if err := g.WaitStatus(); err != nil {
		return nil, err
	}
	partial := g.ctx.Recv(g.rootRank, mpi.TagEval).([]float64)
	return partial, nil
}

// GetFullGrid gathers one task's full nodal grid from the group.
func (g *ProcessGroupManager) GetFullGrid(id model.TaskID) ([]float64, error) {
	g.SendSignal(worker.Request{Signal: worker.SignalGetFullGrid, TaskID: id})
	if err := g.WaitStatus(); err != nil {
		return nil, err
	}
	full := g.ctx.Recv(g.rootRank, mpi.TagData).([]float64)
	return full, nil
}

// GetDSG ships the group's reduced sparse grid wire image.
func (g *ProcessGroupManager) GetDSG() ([]byte, error) {
	g.SendSignal(worker.Request{Signal: worker.SignalGetDSG})
	if err := g.WaitStatus(); err != nil {
		return nil, err
	}
	image := g.ctx.Recv(g.rootRank, mpi.TagData).([]byte)
	return image, nil
}

// Exit terminates the group's worker loop. There is no status reply.
func (g *ProcessGroupManager) Exit() {
	g.SendSignal(worker.Request{Signal: worker.SignalExit})
	g.status = model.GroupAvailable
}
