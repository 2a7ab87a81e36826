// Package rescheduler defines the pluggable policy proposing task
// migrations between worker groups. Policies are pure: they look at the
// current assignment, the measured durations and the load model and return
// a migration list. The executor enforces the safety constraints (a group
// never ends up empty) regardless of what a policy proposes.
package rescheduler

import (
	"sort"

	"github.com/combigrid/internal/loadmodel"
	"github.com/combigrid/pkg/model"
)

// Move proposes transferring one task to a new group.
type Move struct {
	TaskID model.TaskID
	Group  int
}

// Input bundles the state a policy decides on.
type Input struct {
	// TaskGroup maps every task to its current group.
	TaskGroup map[model.TaskID]int
	// Durations holds the last measured run duration per task in
	// microseconds. Tasks without a measurement are missing.
	Durations map[model.TaskID]int64
	// Levels maps tasks to their component grid levels, for load model
	// queries and tie-breaking.
	Levels map[model.TaskID]model.LevelVector
	// NumGroups is the number of worker groups.
	NumGroups int
}

// TaskRescheduler proposes task migrations between groups. Output is
// advisory; the executor applies it deterministically and drops unsafe
// moves.
type TaskRescheduler interface {
	Eval(in Input, lm loadmodel.LoadModel) []Move
}

// NoRescheduler never proposes a migration.
type NoRescheduler struct{}

// Eval returns an empty migration list.
func (NoRescheduler) Eval(Input, loadmodel.LoadModel) []Move {
	return nil
}

// DurationBalancer moves one task per call from the most loaded group to
// the least loaded group when that narrows the gap. Load is the sum of
// measured durations, falling back to the load model for unmeasured tasks.
type DurationBalancer struct{}

// NewDurationBalancer creates a DurationBalancer.
func NewDurationBalancer() *DurationBalancer {
	return &DurationBalancer{}
}

// Eval proposes at most one migration.
func (r *DurationBalancer) Eval(in Input, lm loadmodel.LoadModel) []Move {
	if in.NumGroups < 2 {
		return nil
	}

	cost := func(id model.TaskID) float64 {
		if d, ok := in.Durations[id]; ok {
			return float64(d)
		}
		return lm.Eval(in.Levels[id])
	}

	load := make([]float64, in.NumGroups)
	count := make([]int, in.NumGroups)
	for id, g := range in.TaskGroup {
		load[g] += cost(id)
		count[g]++
	}

	heaviest, lightest := 0, 0
	for g := 1; g < in.NumGroups; g++ {
		if load[g] > load[heaviest] {
			heaviest = g
		}
		if load[g] < load[lightest] {
			lightest = g
		}
	}
	if heaviest == lightest || count[heaviest] < 2 {
		return nil
	}

	// Candidate tasks of the heaviest group, cheapest first; equal cost is
	// broken towards the lexicographically smaller level vector.
	var candidates []model.TaskID
	for id, g := range in.TaskGroup {
		if g == heaviest {
			candidates = append(candidates, id)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := cost(candidates[i]), cost(candidates[j])
		if ci != cj {
			return ci < cj
		}
		return in.Levels[candidates[i]].Compare(in.Levels[candidates[j]]) < 0
	})

	gap := load[heaviest] - load[lightest]
	for _, id := range candidates {
		c := cost(id)
		// Moving the task must narrow the gap, otherwise the assignment
		// oscillates between calls.
		if c < gap {
			return []Move{{TaskID: id, Group: lightest}}
		}
	}
	return nil
}
