package worker_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combigrid/internal/mpi"
	"github.com/combigrid/internal/worker"
	"github.com/combigrid/pkg/model"
	"github.com/combigrid/pkg/utils"
)

// driveWorker runs a 1x1 world: the returned send function ships a request
// to the worker root and waits for the status reply.
func driveWorker(t *testing.T) (send func(worker.Request) worker.Status, shutdown func()) {
	t.Helper()

	world := mpi.NewWorld(1, 1)
	mctx := world.Context(world.ManagerRank())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w := worker.New(world.Context(0), &utils.NullLogger{})
		_ = w.Run()
	}()

	send = func(req worker.Request) worker.Status {
		mctx.Send(0, mpi.TagSignal, req)
		return mctx.Recv(0, mpi.TagStatus).(worker.Status)
	}
	shutdown = func() {
		mctx.Send(0, mpi.TagSignal, worker.Request{Signal: worker.SignalExit})
		wg.Wait()
	}
	return send, shutdown
}

func validParams(t *testing.T) []byte {
	t.Helper()
	blob, err := json.Marshal(worker.Params{
		LMin:     model.LevelVector{2, 2},
		LMax:     model.LevelVector{3, 3},
		Boundary: model.UniformBoundary(2, model.BoundaryTwoSided),
		NCombi:   1,
	})
	require.NoError(t, err)
	return blob
}

func TestWorkerUpdateParams(t *testing.T) {
	send, shutdown := driveWorker(t)
	defer shutdown()

	st := send(worker.Request{Signal: worker.SignalUpdateParams, Blob: validParams(t)})
	assert.True(t, st.OK)
}

func TestWorkerRejectsGarbageParams(t *testing.T) {
	send, shutdown := driveWorker(t)
	defer shutdown()

	st := send(worker.Request{Signal: worker.SignalUpdateParams, Blob: []byte("{{{")})
	assert.False(t, st.OK)
	assert.NotEmpty(t, st.Error)
}

func TestWorkerCombineWithoutParams(t *testing.T) {
	send, shutdown := driveWorker(t)
	defer shutdown()

	st := send(worker.Request{Signal: worker.SignalCombine})
	assert.False(t, st.OK)
}

func TestWorkerRemoveUnknownTask(t *testing.T) {
	send, shutdown := driveWorker(t)
	defer shutdown()

	st := send(worker.Request{Signal: worker.SignalRescheduleRemove, TaskID: 42})
	assert.False(t, st.OK)
}

func TestWorkerUnknownSignal(t *testing.T) {
	send, shutdown := driveWorker(t)
	defer shutdown()

	st := send(worker.Request{Signal: worker.Signal(99)})
	assert.False(t, st.OK)
}

func TestSignalNames(t *testing.T) {
	assert.Equal(t, "RUN_FIRST", worker.SignalRunFirst.String())
	assert.Equal(t, "COMBINE_THIRD_LEVEL", worker.SignalCombineThirdLevel.String())
	assert.Equal(t, "EXIT", worker.SignalExit.String())
	assert.Equal(t, "unknown", worker.Signal(99).String())
}
