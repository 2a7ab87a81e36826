package thirdlevel_test

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combigrid/internal/combischeme"
	"github.com/combigrid/internal/loadmodel"
	"github.com/combigrid/internal/manager"
	"github.com/combigrid/internal/mpi"
	"github.com/combigrid/internal/task"
	"github.com/combigrid/internal/testutil"
	"github.com/combigrid/internal/thirdlevel"
	"github.com/combigrid/pkg/model"
	"github.com/combigrid/pkg/utils"
)

// startMediator binds a mediator on ephemeral ports and serves in the
// background.
func startMediator(t *testing.T) (*thirdlevel.Mediator, int, int) {
	t.Helper()

	m := thirdlevel.NewMediator(30*time.Second, &utils.NullLogger{})
	require.NoError(t, m.Listen(0, 0))
	t.Cleanup(m.Close)

	go func() {
		if err := m.Serve(); err != nil {
			t.Logf("mediator: %v", err)
		}
	}()

	return m, port(t, m.BrokerAddr()), port(t, m.DataAddr())
}

func port(t *testing.T, addr net.Addr) int {
	t.Helper()
	tcp, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	return tcp.Port
}

// TestClientExchange runs the raw handshake: each side ships a payload and
// receives the peer's.
func TestClientExchange(t *testing.T) {
	_, brokerPort, dataPort := startMediator(t)

	payloads := [2][]byte{
		[]byte("first system image"),
		[]byte("second system image, longer"),
	}

	var received [2][]byte
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			name := "system1"
			if i == 1 {
				name = "system2"
			}
			c := thirdlevel.NewClient("localhost", dataPort, brokerPort, name,
				10*time.Second, &utils.NullLogger{})
			if err := c.Connect(); err != nil {
				t.Error(err)
				return
			}
			defer c.Close()

			peer, err := c.Exchange(payloads[i])
			if err != nil {
				t.Error(err)
				return
			}
			received[i] = peer

			if i == 0 {
				_ = c.SignalFinished()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, payloads[1], received[0])
	assert.Equal(t, payloads[0], received[1])
}

func buildTasks(scheme *combischeme.Scheme, boundary []model.BoundaryFlag) []task.Task {
	var tasks []task.Task
	for i, e := range scheme.Entries() {
		tasks = append(tasks, testutil.NewRatioTask(model.TaskID(i+1), e.Level, boundary, e.Coefficient))
	}
	return tasks
}

// runSystem runs one instance against the bridge and returns the sparse
// grid image after the third-level combine.
func runSystem(t *testing.T, name string, brokerPort, dataPort int, scheme *combischeme.Scheme, boundary []model.BoundaryFlag, finished bool) (after []byte) {
	t.Helper()

	bridge := thirdlevel.NewClient("localhost", dataPort, brokerPort, name,
		30*time.Second, &utils.NullLogger{})
	require.NoError(t, bridge.Connect())
	defer bridge.Close()

	testutil.RunWorld(t, 1, 1, func(mctx *mpi.Context) {
		ctx := context.Background()

		pm, err := manager.NewProcessManager(mctx,
			manager.ParamsFromScheme(scheme, boundary, 1),
			buildTasks(scheme, boundary), loadmodel.NewLinear(), nil,
			manager.WithThirdLevel(bridge, false))
		require.NoError(t, err)

		require.NoError(t, pm.UpdateParams(ctx))
		require.NoError(t, pm.RunFirst(ctx))
		require.NoError(t, pm.CombineThirdLevel(ctx))

		after, err = pm.SparseGridImage(ctx)
		require.NoError(t, err)

		pm.Exit()
	})

	if finished {
		require.NoError(t, bridge.SignalFinished())
	}
	return after
}

// runReference runs the identical instance without a bridge and returns
// the intra-instance combined image. The worker-side float path matches
// the bridged run exactly up to the exchange point, so the image is the
// bitwise pre-exchange state.
func runReference(t *testing.T, scheme *combischeme.Scheme, boundary []model.BoundaryFlag) (image []byte) {
	t.Helper()

	testutil.RunWorld(t, 1, 1, func(mctx *mpi.Context) {
		ctx := context.Background()

		pm, err := manager.NewProcessManager(mctx,
			manager.ParamsFromScheme(scheme, boundary, 1),
			buildTasks(scheme, boundary), loadmodel.NewLinear(), nil)
		require.NoError(t, err)

		require.NoError(t, pm.UpdateParams(ctx))
		require.NoError(t, pm.RunFirst(ctx))
		require.NoError(t, pm.Combine(ctx))

		image, err = pm.SparseGridImage(ctx)
		require.NoError(t, err)

		pm.Exit()
	})
	return image
}

// TestThirdLevelCombine runs two instances against the mediator. After the
// exchange each side's sparse grid equals the elementwise sum of the two
// pre-exchange grids.
func TestThirdLevelCombine(t *testing.T) {
	_, brokerPort, dataPort := startMediator(t)

	dim := 2
	lmin := model.NewLevelVector(dim, 4)
	lmax := model.NewLevelVector(dim, 6)
	boundary := model.UniformBoundary(dim, model.BoundaryNone)

	scheme, err := combischeme.NewAdaptive(dim, lmin, lmax)
	require.NoError(t, err)

	before := runReference(t, scheme, boundary)
	require.NotEmpty(t, before)

	var results [2][]byte
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "system1"
			if i == 1 {
				name = "system2"
			}
			results[i] = runSystem(t, name, brokerPort, dataPort, scheme, boundary, i == 0)
		}(i)
	}
	wg.Wait()

	// Both systems are deterministic and identical, so each pre-exchange
	// image equals the reference; the exchanged state must be the
	// elementwise sum of the two.
	expected := sumImages(t, before, before)
	assert.Equal(t, expected, results[0])
	assert.Equal(t, expected, results[1])
}

// sumImages adds two wire images elementwise via a scratch sparse grid.
func sumImages(t *testing.T, a, b []byte) []byte {
	t.Helper()
	require.Equal(t, len(a), len(b))

	out := make([]byte, len(a))
	copy(out, a)

	// The wire image is little-endian float64s in layout order.
	for i := 0; i+8 <= len(out); i += 8 {
		va := math.Float64frombits(binary.LittleEndian.Uint64(a[i : i+8]))
		vb := math.Float64frombits(binary.LittleEndian.Uint64(b[i : i+8]))
		binary.LittleEndian.PutUint64(out[i:i+8], math.Float64bits(va+vb))
	}
	return out
}
