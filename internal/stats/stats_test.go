package stats

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combigrid/internal/storage"
	"github.com/combigrid/pkg/utils"
)

func newRecorder(t *testing.T) (*Recorder, storage.Storage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewRecorder(store, "stats", true, &utils.NullLogger{}), store
}

func TestWriteIteration(t *testing.T) {
	rec, store := newRecorder(t)

	timer := utils.NewTimer("iteration_0000")
	timer.Start("combine")
	timer.StopPhase("combine")

	ctx := context.Background()
	rec.WriteIteration(ctx, 0, timer)

	rc, err := store.Download(ctx, "stats/iteration_0000.json")
	require.NoError(t, err)
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "iteration_0000", doc["name"])
}

func TestWriteIterationDisabled(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	rec := NewRecorder(store, "stats", false, &utils.NullLogger{})

	ctx := context.Background()
	rec.WriteIteration(ctx, 0, utils.NewTimer("t"))

	exists, err := store.Exists(ctx, "stats/iteration_0000.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWriteCheckpoint(t *testing.T) {
	rec, store := newRecorder(t)

	ctx := context.Background()
	image := []byte{1, 2, 3, 4}
	rec.WriteCheckpoint(ctx, 3, image)

	rc, err := store.Download(ctx, "stats/checkpoint_0003.dsg")
	require.NoError(t, err)
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, image, raw)
}
