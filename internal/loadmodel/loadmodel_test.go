package loadmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/combigrid/pkg/model"
)

func TestLinearLoadModel(t *testing.T) {
	m := NewLinear()

	assert.Equal(t, 4.0, m.Eval(model.LevelVector{2}))
	assert.Equal(t, 32.0, m.Eval(model.LevelVector{2, 3}))

	// Finer grids cost more.
	assert.Greater(t,
		m.Eval(model.LevelVector{4, 4}),
		m.Eval(model.LevelVector{3, 4}))
}

type fakeHistory struct {
	durations map[string]float64
}

func (h *fakeHistory) AverageDuration(l model.LevelVector) (float64, bool) {
	d, ok := h.durations[l.Key()]
	return d, ok
}

func TestLearningLoadModel(t *testing.T) {
	history := &fakeHistory{durations: map[string]float64{
		"2,2": 1500,
	}}
	m := NewLearning(history)

	// Recorded level vectors use the history.
	assert.Equal(t, 1500.0, m.Eval(model.LevelVector{2, 2}))

	// Unknown level vectors fall back to the linear estimate.
	assert.Equal(t, 32.0, m.Eval(model.LevelVector{2, 3}))
}

func TestLearningLoadModelNilHistory(t *testing.T) {
	m := NewLearning(nil)
	assert.Equal(t, 16.0, m.Eval(model.LevelVector{2, 2}))
}
