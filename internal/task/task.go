// Package task defines the user computation bound to a component grid and
// the tagged-variant registry that moves tasks between processes.
package task

import (
	"encoding/json"

	apperrors "github.com/combigrid/pkg/errors"
	"github.com/combigrid/internal/fullgrid"
	"github.com/combigrid/internal/mpi"
	"github.com/combigrid/pkg/model"
)

// Task is an opaque user computation on one component grid. Tasks are
// constructed on the manager, shipped to a worker group as a blob, and may
// move between groups during rescheduling. Only the persistent state
// travels; the distributed full grid is rebuilt on arrival.
type Task interface {
	// TypeTag identifies the concrete type in the registry.
	TypeTag() string

	// ID returns the globally unique, stable task id.
	ID() model.TaskID
	// Level returns the component grid level vector.
	Level() model.LevelVector
	// Boundary returns the per-dimension boundary flags.
	Boundary() []model.BoundaryFlag
	// Coefficient returns the combination coefficient.
	Coefficient() float64

	// Init constructs the distributed full grid on the group communicator.
	Init(comm *mpi.Comm) error
	// Run advances the computation by one iteration.
	Run(comm *mpi.Comm) error
	// Grid returns the task's distributed full grid, nil before Init.
	Grid() *fullgrid.DistributedFullGrid

	// MarshalState serializes the persistent state that must survive a
	// rescheduling move.
	MarshalState() ([]byte, error)
	// UnmarshalState restores previously serialized persistent state.
	UnmarshalState(data []byte) error
}

// Base carries the component grid identity shared by all task types.
// Concrete tasks embed it and add their own behavior and state.
type Base struct {
	TaskID        model.TaskID         `json:"id"`
	LevelVec      model.LevelVector    `json:"level"`
	BoundaryFlags []model.BoundaryFlag `json:"boundary"`
	Coeff         float64              `json:"coefficient"`

	dfg *fullgrid.DistributedFullGrid
}

// NewBase creates the shared task identity.
func NewBase(id model.TaskID, level model.LevelVector, boundary []model.BoundaryFlag, coeff float64) Base {
	return Base{
		TaskID:        id,
		LevelVec:      level,
		BoundaryFlags: boundary,
		Coeff:         coeff,
	}
}

// ID returns the task id.
func (b *Base) ID() model.TaskID {
	return b.TaskID
}

// Level returns the level vector.
func (b *Base) Level() model.LevelVector {
	return b.LevelVec
}

// Boundary returns the boundary flags.
func (b *Base) Boundary() []model.BoundaryFlag {
	return b.BoundaryFlags
}

// Coefficient returns the combination coefficient.
func (b *Base) Coefficient() float64 {
	return b.Coeff
}

// Grid returns the distributed full grid.
func (b *Base) Grid() *fullgrid.DistributedFullGrid {
	return b.dfg
}

// InitGrid builds the distributed full grid with the default decomposition.
func (b *Base) InitGrid(comm *mpi.Comm) error {
	g, err := fullgrid.New(b.LevelVec, b.BoundaryFlags, comm)
	if err != nil {
		return err
	}
	b.dfg = g
	return nil
}

// DropGrid releases the distributed full grid, e.g. when the task leaves
// this group.
func (b *Base) DropGrid() {
	b.dfg = nil
}

// envelope is the wire format of a task blob.
type envelope struct {
	Type        string               `json:"type"`
	ID          model.TaskID         `json:"id"`
	Level       model.LevelVector    `json:"level"`
	Boundary    []model.BoundaryFlag `json:"boundary"`
	Coefficient float64              `json:"coefficient"`
	State       json.RawMessage      `json:"state,omitempty"`
}

// registry maps type tags to factories producing zero-value tasks.
var registry = make(map[string]func() Task)

// Register makes a concrete task type known to the deserializer. Each type
// is registered once, typically from an init function.
func Register(tag string, factory func() Task) {
	registry[tag] = factory
}

// Marshal serializes a task into a blob: type tag, grid identity and the
// task's persistent state.
func Marshal(t Task) ([]byte, error) {
	state, err := t.MarshalState()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSerialization, "task state", err)
	}
	env := envelope{
		Type:        t.TypeTag(),
		ID:          t.ID(),
		Level:       t.Level(),
		Boundary:    t.Boundary(),
		Coefficient: t.Coefficient(),
		State:       state,
	}
	blob, err := json.Marshal(env)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSerialization, "task envelope", err)
	}
	return blob, nil
}

// Unmarshal reconstructs a task from a blob. The grid is not built; the
// receiver calls Init on the destination group.
func Unmarshal(blob []byte) (Task, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSerialization, "task envelope", err)
	}

	factory, ok := registry[env.Type]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeSerialization, "unknown task type: %s", env.Type)
	}

	t := factory()
	setter, ok := t.(interface{ setBase(Base) })
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeSerialization,
			"task type %s does not embed task.Base", env.Type)
	}
	setter.setBase(NewBase(env.ID, env.Level, env.Boundary, env.Coefficient))

	if len(env.State) > 0 {
		if err := t.UnmarshalState(env.State); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeSerialization, "task state", err)
		}
	}
	return t, nil
}

// setBase implements the private setter used by Unmarshal.
func (b *Base) setBase(base Base) {
	*b = base
}
