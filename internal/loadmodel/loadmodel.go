// Package loadmodel estimates the relative cost of component grids for the
// initial task assignment and rescheduling decisions.
package loadmodel

import (
	"github.com/combigrid/pkg/model"
)

// LoadModel estimates the expected cost of computing on a component grid.
// Estimates only need to be comparable to each other, not absolute.
type LoadModel interface {
	// Eval returns the expected cost of the grid with the given level vector.
	Eval(l model.LevelVector) float64
}

// LinearLoadModel estimates cost proportional to the number of grid points,
// i.e. the product of 2^l_k over all dimensions.
type LinearLoadModel struct{}

// NewLinear creates a LinearLoadModel.
func NewLinear() *LinearLoadModel {
	return &LinearLoadModel{}
}

// Eval returns the point-count cost estimate.
func (m *LinearLoadModel) Eval(l model.LevelVector) float64 {
	cost := 1.0
	for _, lk := range l {
		cost *= float64(int64(1) << uint(lk))
	}
	return cost
}

// DurationHistory provides recorded run durations for level vectors.
// Implemented by the repository layer.
type DurationHistory interface {
	// AverageDuration returns the mean recorded duration in microseconds for
	// the level vector, and whether any record exists.
	AverageDuration(l model.LevelVector) (float64, bool)
}

// LearningLoadModel consults recorded run durations and falls back to a
// linear estimate for level vectors without history.
type LearningLoadModel struct {
	history  DurationHistory
	fallback LoadModel
}

// NewLearning creates a LearningLoadModel backed by the given history.
func NewLearning(history DurationHistory) *LearningLoadModel {
	return &LearningLoadModel{
		history:  history,
		fallback: NewLinear(),
	}
}

// Eval returns the recorded mean duration when available, the linear
// estimate otherwise.
func (m *LearningLoadModel) Eval(l model.LevelVector) float64 {
	if m.history != nil {
		if d, ok := m.history.AverageDuration(l); ok {
			return d
		}
	}
	return m.fallback.Eval(l)
}
