package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerPhases(t *testing.T) {
	clock := NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	timer := NewTimerWithClock("iteration_0001", clock)

	pt := timer.Start("run")
	clock.Advance(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, pt.Stop())

	// Stopping again keeps the first measurement.
	clock.Advance(time.Second)
	assert.Equal(t, 250*time.Millisecond, pt.Stop())
	assert.Equal(t, 250*time.Millisecond, timer.GetDuration("run"))
}

func TestTimerToMap(t *testing.T) {
	clock := NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	timer := NewTimerWithClock("iteration_0002", clock)

	timer.Start("run")
	clock.Advance(100 * time.Millisecond)
	timer.StopPhase("run")

	timer.Start("combine")
	clock.Advance(50 * time.Millisecond)
	timer.StopPhase("combine")

	m := timer.ToMap()
	assert.Equal(t, "iteration_0002", m["name"])

	phases, ok := m["phases"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, phases, 2)

	// Insertion order is preserved.
	assert.Equal(t, "run", phases[0]["name"])
	assert.Equal(t, int64(100), phases[0]["ms"])
	assert.Equal(t, "combine", phases[1]["name"])
	assert.Equal(t, int64(50), phases[1]["ms"])
}

func TestTimerTimeFunc(t *testing.T) {
	timer := NewTimer("t")

	called := false
	timer.TimeFunc("work", func() { called = true })
	assert.True(t, called)

	_, err := timer.TimeFuncWithError("failing", func() error {
		return assert.AnError
	})
	assert.Error(t, err)
}

func TestTimerReset(t *testing.T) {
	timer := NewTimer("t")
	timer.Start("phase")
	timer.StopPhase("phase")
	timer.Reset()

	m := timer.ToMap()
	phases := m["phases"].([]map[string]interface{})
	assert.Empty(t, phases)
}

func TestStopUnknownPhase(t *testing.T) {
	timer := NewTimer("t")
	assert.Equal(t, time.Duration(0), timer.StopPhase("nope"))
}
