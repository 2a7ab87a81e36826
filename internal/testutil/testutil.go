// Package testutil provides helpers for tests that need a running world:
// worker loops on every worker rank and a manager callback, plus small
// reference task types.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/combigrid/internal/mpi"
	"github.com/combigrid/internal/worker"
	"github.com/combigrid/pkg/utils"
)

// RunWorld spins up worker loops on all worker ranks of a fresh world and
// executes managerFn on the manager rank. The manager function must end
// the run by broadcasting EXIT (manager.Exit), otherwise the workers never
// terminate and the test fails by timeout.
func RunWorld(t *testing.T, ngroup, nprocs int, managerFn func(ctx *mpi.Context)) {
	t.Helper()

	world := mpi.NewWorld(ngroup, nprocs)

	var wg sync.WaitGroup
	for r := 0; r < world.Size()-1; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			w := worker.New(world.Context(rank), &utils.NullLogger{})
			if err := w.Run(); err != nil {
				t.Errorf("worker rank %d: %v", rank, err)
			}
		}(r)
	}

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		managerFn(world.Context(world.ManagerRank()))
	}()

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	timeout := time.After(60 * time.Second)
	for _, ch := range []<-chan struct{}{managerDone, workersDone} {
		select {
		case <-ch:
		case <-timeout:
			t.Fatal("world did not terminate, a rank is deadlocked")
		}
	}
}
