package testutil

import (
	"encoding/json"

	"github.com/combigrid/internal/mpi"
	"github.com/combigrid/internal/task"
	"github.com/combigrid/pkg/model"
)

// Registry tags of the reference tasks.
const (
	RatioTaskTag    = "test-ratio"
	CountingTaskTag = "test-counting"
)

func init() {
	task.Register(RatioTaskTag, func() task.Task { return &RatioTask{} })
	task.Register(CountingTaskTag, func() task.Task { return &CountingTask{} })
}

// RatioTask sets every nodal value to level[0] / level[1] on each run.
// Interpolating the combined solution then has a closed-form expectation.
type RatioTask struct {
	task.Base
}

// NewRatioTask creates a RatioTask.
func NewRatioTask(id model.TaskID, level model.LevelVector, boundary []model.BoundaryFlag, coeff float64) *RatioTask {
	return &RatioTask{Base: task.NewBase(id, level, boundary, coeff)}
}

// TypeTag identifies the type in the registry.
func (t *RatioTask) TypeTag() string {
	return RatioTaskTag
}

// Init builds the grid with a constant initial state.
func (t *RatioTask) Init(comm *mpi.Comm) error {
	if err := t.InitGrid(comm); err != nil {
		return err
	}
	t.Grid().Fill(10)
	return nil
}

// Run writes the level ratio into every nodal value.
func (t *RatioTask) Run(comm *mpi.Comm) error {
	l := t.Level()
	t.Grid().Fill(float64(l[0]) / float64(l[1]))
	return nil
}

// MarshalState has no persistent state.
func (t *RatioTask) MarshalState() ([]byte, error) {
	return nil, nil
}

// UnmarshalState has no persistent state.
func (t *RatioTask) UnmarshalState(data []byte) error {
	return nil
}

// CountingTask writes 10 into every nodal value on each run and counts its
// runs in persistent state, which must survive rescheduling moves.
type CountingTask struct {
	task.Base

	// Persisted survives serialization across groups.
	Persisted int `json:"persisted"`
}

// NewCountingTask creates a CountingTask.
func NewCountingTask(id model.TaskID, level model.LevelVector, boundary []model.BoundaryFlag, coeff float64) *CountingTask {
	return &CountingTask{Base: task.NewBase(id, level, boundary, coeff)}
}

// TypeTag identifies the type in the registry.
func (t *CountingTask) TypeTag() string {
	return CountingTaskTag
}

// Init builds the grid with a zero initial state.
func (t *CountingTask) Init(comm *mpi.Comm) error {
	return t.InitGrid(comm)
}

// Run increments the persistent counter and writes 10 everywhere.
func (t *CountingTask) Run(comm *mpi.Comm) error {
	t.Persisted++
	t.Grid().Fill(10)
	return nil
}

// MarshalState serializes the run counter.
func (t *CountingTask) MarshalState() ([]byte, error) {
	return json.Marshal(struct {
		Persisted int `json:"persisted"`
	}{Persisted: t.Persisted})
}

// UnmarshalState restores the run counter.
func (t *CountingTask) UnmarshalState(data []byte) error {
	var state struct {
		Persisted int `json:"persisted"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	t.Persisted = state.Persisted
	return nil
}
