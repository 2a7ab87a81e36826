// Package repository persists measured task run durations. The history
// feeds the learning load model, so assignments improve across runs.
package repository

import (
	"context"

	"github.com/combigrid/pkg/model"
)

// DurationRepository stores and aggregates per-task run durations keyed by
// the component grid level vector.
type DurationRepository interface {
	// Record appends one measured duration for a level vector.
	Record(ctx context.Context, level model.LevelVector, taskID model.TaskID, iteration int, micros int64) error

	// AverageDuration returns the mean recorded duration in microseconds
	// for the level vector, and whether any record exists. It implements
	// loadmodel.DurationHistory.
	AverageDuration(level model.LevelVector) (float64, bool)
}
