// Package stats records per-iteration timing statistics and optional
// sparse grid checkpoints through the artifact store. I/O failures are
// logged and never abort the run.
package stats

import (
	"bytes"
	"context"
	"fmt"

	"github.com/combigrid/internal/storage"
	"github.com/combigrid/pkg/utils"
	"github.com/combigrid/pkg/writer"
)

// Recorder writes one stats artifact per iteration: the timer's phase
// names mapped to durations, as JSON.
type Recorder struct {
	store   storage.Storage
	dir     string
	enabled bool
	logger  utils.Logger
	json    *writer.JSONWriter[map[string]interface{}]
}

// NewRecorder creates a Recorder writing under dir in the given store.
func NewRecorder(store storage.Storage, dir string, enabled bool, logger utils.Logger) *Recorder {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Recorder{
		store:   store,
		dir:     dir,
		enabled: enabled,
		logger:  logger,
		json:    writer.NewPrettyJSONWriter[map[string]interface{}](),
	}
}

// WriteIteration persists the timer snapshot for one iteration.
func (r *Recorder) WriteIteration(ctx context.Context, iteration int, timer *utils.Timer) {
	if !r.enabled || r.store == nil {
		return
	}

	var buf bytes.Buffer
	if err := r.json.Write(timer.ToMap(), &buf); err != nil {
		r.logger.Warn("failed to encode iteration stats: %v", err)
		return
	}

	key := fmt.Sprintf("%s/iteration_%04d.json", r.dir, iteration)
	if err := r.store.Upload(ctx, key, &buf); err != nil {
		r.logger.Warn("failed to write iteration stats: %v", err)
	}
}

// WriteCheckpoint persists the sparse grid wire image for one iteration.
// The artifact uses the same byte layout as the third-level exchange.
func (r *Recorder) WriteCheckpoint(ctx context.Context, iteration int, image []byte) {
	if r.store == nil {
		return
	}

	key := fmt.Sprintf("%s/checkpoint_%04d.dsg", r.dir, iteration)
	if err := r.store.Upload(ctx, key, bytes.NewReader(image)); err != nil {
		r.logger.Warn("failed to write checkpoint: %v", err)
	}
}
