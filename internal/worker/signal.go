// Package worker implements the process group worker: the event loop that
// owns the local tasks and the local sparse grid and reacts to manager
// signals.
package worker

import "github.com/combigrid/pkg/model"

// Signal is an instruction from the manager to a worker group. The group
// root receives it point-to-point and broadcasts it to the group; every
// member sees every signal in receive order.
type Signal int

const (
	// SignalUpdateParams distributes the combination parameters.
	SignalUpdateParams Signal = iota + 1
	// SignalRunFirst ships a task blob, constructs the task and advances it
	// one iteration.
	SignalRunFirst
	// SignalRunNext advances each owned task by one iteration.
	SignalRunNext
	// SignalCombine runs the hierarchize / reduce / dehierarchize cycle.
	SignalCombine
	// SignalCombineThirdLevel combines and then takes part in the
	// manager-mediated peer exchange.
	SignalCombineThirdLevel
	// SignalRescheduleRemove serializes a task's persistent state back to
	// the manager and destroys the local grid.
	SignalRescheduleRemove
	// SignalRescheduleAdd receives a task blob and rebuilds its grid here.
	SignalRescheduleAdd
	// SignalEval evaluates the combined solution at given points.
	SignalEval
	// SignalGetFullGrid gathers one task's full grid to the manager.
	SignalGetFullGrid
	// SignalGetDSG ships the reduced sparse grid image to the manager,
	// e.g. for checkpointing.
	SignalGetDSG
	// SignalExit terminates the worker loop.
	SignalExit
)

// String returns the signal name.
func (s Signal) String() string {
	switch s {
	case SignalUpdateParams:
		return "UPDATE_PARAMS"
	case SignalRunFirst:
		return "RUN_FIRST"
	case SignalRunNext:
		return "RUN_NEXT"
	case SignalCombine:
		return "COMBINE"
	case SignalCombineThirdLevel:
		return "COMBINE_THIRD_LEVEL"
	case SignalRescheduleRemove:
		return "RESCHEDULE_REMOVE"
	case SignalRescheduleAdd:
		return "RESCHEDULE_ADD"
	case SignalEval:
		return "EVAL"
	case SignalGetFullGrid:
		return "GET_FULL_GRID"
	case SignalGetDSG:
		return "GET_DSG"
	case SignalExit:
		return "EXIT"
	default:
		return "unknown"
	}
}

// Request is the wire form of one signal including its payload.
type Request struct {
	Signal Signal
	Blob   []byte       // task blob, parameter blob or eval points
	TaskID model.TaskID // target task for remove / full grid requests
}

// Status is the group root's reply to the manager after a signal.
type Status struct {
	OK        bool
	Error     string
	Durations map[model.TaskID]int64 // last run duration per task, microseconds
}

// Params is the combination parameter blob distributed before the first
// run.
type Params struct {
	LMin     model.LevelVector    `json:"lmin"`
	LMax     model.LevelVector    `json:"lmax"`
	Boundary []model.BoundaryFlag `json:"boundary"`
	NCombi   int                  `json:"ncombi"`
}

// EvalRequest carries interpolation points for SignalEval.
type EvalRequest struct {
	Points [][]float64 `json:"points"`
}
