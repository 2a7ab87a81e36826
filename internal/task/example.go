package task

import (
	"encoding/json"
	"math"

	"github.com/combigrid/internal/mpi"
	"github.com/combigrid/pkg/model"
)

// ExampleTaskTag is the registry tag of ExampleTask.
const ExampleTaskTag = "example"

func init() {
	Register(ExampleTaskTag, func() Task { return &ExampleTask{Decay: 0.9} })
}

// ExampleTask is the built-in reference computation: a Gaussian bump that
// decays by a constant factor per iteration. The step counter is the
// persistent state, so a rescheduled task resumes at the right amplitude
// on its new group.
type ExampleTask struct {
	Base

	// Decay is the per-iteration amplitude factor.
	Decay float64 `json:"decay"`
	// Steps counts the completed iterations.
	Steps int `json:"steps"`
}

// NewExampleTask creates an ExampleTask for one component grid.
func NewExampleTask(id model.TaskID, level model.LevelVector, boundary []model.BoundaryFlag, coeff float64) *ExampleTask {
	return &ExampleTask{
		Base:  NewBase(id, level, boundary, coeff),
		Decay: 0.9,
	}
}

// TypeTag identifies the type in the registry.
func (t *ExampleTask) TypeTag() string {
	return ExampleTaskTag
}

// Init builds the grid and writes the current solution, honoring steps
// already taken before a rescheduling move.
func (t *ExampleTask) Init(comm *mpi.Comm) error {
	if err := t.InitGrid(comm); err != nil {
		return err
	}
	t.writeSolution()
	return nil
}

// Run advances one iteration.
func (t *ExampleTask) Run(comm *mpi.Comm) error {
	t.Steps++
	t.writeSolution()
	return nil
}

// writeSolution fills the local brick with the decayed Gaussian.
func (t *ExampleTask) writeSolution() {
	g := t.Grid()
	data := g.Data()
	amplitude := math.Pow(t.Decay, float64(t.Steps))

	for li := range data {
		x := g.Coordinates(g.GlobalIndexVector(g.LocalToGlobalIndex(li)))
		exponent := 0.0
		for _, xi := range x {
			d := xi - 0.5
			exponent += d * d
		}
		data[li] = amplitude * math.Exp(-100*exponent)
	}
}

// MarshalState serializes the persistent state.
func (t *ExampleTask) MarshalState() ([]byte, error) {
	return json.Marshal(struct {
		Decay float64 `json:"decay"`
		Steps int     `json:"steps"`
	}{Decay: t.Decay, Steps: t.Steps})
}

// UnmarshalState restores the persistent state.
func (t *ExampleTask) UnmarshalState(data []byte) error {
	var state struct {
		Decay float64 `json:"decay"`
		Steps int     `json:"steps"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	t.Decay = state.Decay
	t.Steps = state.Steps
	return nil
}
