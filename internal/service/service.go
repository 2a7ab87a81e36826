// Package service wires one framework instance together: configuration,
// world layout, scheme and task construction, the manager loop, statistics
// and the optional third-level bridge.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/combigrid/internal/combischeme"
	"github.com/combigrid/internal/loadmodel"
	"github.com/combigrid/internal/manager"
	"github.com/combigrid/internal/mpi"
	"github.com/combigrid/internal/repository"
	"github.com/combigrid/internal/rescheduler"
	"github.com/combigrid/internal/stats"
	"github.com/combigrid/internal/storage"
	"github.com/combigrid/internal/task"
	"github.com/combigrid/internal/thirdlevel"
	"github.com/combigrid/internal/worker"
	"github.com/combigrid/pkg/config"
	"github.com/combigrid/pkg/model"
	"github.com/combigrid/pkg/parallel"
	"github.com/combigrid/pkg/utils"
)

// TaskFactory builds the user computation for one component grid.
type TaskFactory func(id model.TaskID, level model.LevelVector, boundary []model.BoundaryFlag, coeff float64) task.Task

// Service is one framework instance.
type Service struct {
	cfg    *config.Config
	logger utils.Logger

	store    storage.Storage
	recorder *stats.Recorder
	repo     repository.DurationRepository

	loadModel   loadmodel.LoadModel
	taskFactory TaskFactory
	policy      rescheduler.TaskRescheduler
}

// Option configures a Service.
type Option func(*Service)

// WithTaskFactory overrides the built-in example task.
func WithTaskFactory(f TaskFactory) Option {
	return func(s *Service) { s.taskFactory = f }
}

// WithRescheduler installs a rescheduling policy.
func WithRescheduler(r rescheduler.TaskRescheduler) Option {
	return func(s *Service) { s.policy = r }
}

// New creates a Service instance.
func New(cfg *config.Config, logger utils.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}

	s := &Service{
		cfg:    cfg,
		logger: logger,
		taskFactory: func(id model.TaskID, level model.LevelVector, boundary []model.BoundaryFlag, coeff float64) task.Task {
			return task.NewExampleTask(id, level, boundary, coeff)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Initialize sets up storage, the duration history and the load model.
func (s *Service) Initialize(ctx context.Context) error {
	store, err := storage.New(&s.cfg.Storage)
	if err != nil {
		return err
	}
	s.store = store
	s.recorder = stats.NewRecorder(store, s.cfg.Stats.Dir, s.cfg.Stats.Enabled, s.logger)

	if s.cfg.Database.Type != "" {
		db, err := repository.NewGormDB(&s.cfg.Database)
		if err != nil {
			return err
		}
		s.repo = repository.NewGormDurationRepository(db)
		s.loadModel = loadmodel.NewLearning(s.repo)
		s.logger.Info("duration history enabled (%s)", s.cfg.Database.Type)
	} else {
		s.loadModel = loadmodel.NewLinear()
	}

	return nil
}

// Run executes the full combination run: builds the scheme and tasks,
// spins up the world and drives ncombi combination steps.
func (s *Service) Run(ctx context.Context) error {
	scheme, err := s.buildScheme()
	if err != nil {
		return err
	}

	boundary, err := s.cfg.BoundaryFlags()
	if err != nil {
		return err
	}

	params := manager.ParamsFromScheme(scheme, boundary, s.cfg.CT.NCombi)

	var tasks []task.Task
	for i, e := range scheme.Entries() {
		tasks = append(tasks, s.taskFactory(model.TaskID(i+1), e.Level, boundary, e.Coefficient))
	}
	s.logger.Info("scheme has %d component grids", len(tasks))

	world := mpi.NewWorld(s.cfg.Manager.NGroup, s.cfg.Manager.NProcs)

	ranks := make([]int, world.Size())
	for r := range ranks {
		ranks[r] = r
	}

	// Every rank runs concurrently; the pool must hold them all because
	// the ranks block on each other's messages.
	var managerErr error
	_, err = parallel.ForEach(ctx, ranks, parallel.DefaultPoolConfig().WithWorkers(world.Size()),
		func(ctx context.Context, rank int) error {
			rctx := world.Context(rank)
			if rctx.IsManager() {
				managerErr = s.runManager(ctx, rctx, params, tasks)
				return managerErr
			}
			return worker.New(rctx, s.logger).Run()
		})
	if managerErr != nil {
		return managerErr
	}
	return err
}

func (s *Service) buildScheme() (*combischeme.Scheme, error) {
	lmin, err := s.cfg.LevelMin()
	if err != nil {
		return nil, err
	}
	lmax, err := s.cfg.LevelMax()
	if err != nil {
		return nil, err
	}

	if s.cfg.CT.Scheme == "classical" {
		return combischeme.NewClassical(s.cfg.CT.Dim, lmin, lmax)
	}
	return combischeme.NewAdaptive(s.cfg.CT.Dim, lmin, lmax)
}

// runManager drives the iteration loop on the manager rank.
func (s *Service) runManager(ctx context.Context, mctx *mpi.Context, params manager.CombiParameters, tasks []task.Task) error {
	opts := []manager.Option{}
	if s.policy != nil {
		opts = append(opts, manager.WithRescheduler(s.policy))
	}

	var bridge *thirdlevel.Client
	if s.cfg.ThirdLevelEnabled() {
		bridge = thirdlevel.NewClient(
			s.cfg.ThirdLevel.Host,
			s.cfg.ThirdLevel.DataPort,
			s.cfg.ThirdLevel.BrokerPort,
			s.cfg.ThirdLevel.SystemName,
			time.Duration(s.cfg.ThirdLevel.TimeoutSec)*time.Second,
			s.logger,
		)
		if err := bridge.Connect(); err != nil {
			s.logger.Warn("third-level bridge unavailable, running standalone: %v", err)
			bridge = nil
		} else {
			defer bridge.Close()
			opts = append(opts, manager.WithThirdLevel(bridge, s.cfg.ThirdLevel.Reduce == "replace"))
		}
	}

	pm, err := manager.NewProcessManager(mctx, params, tasks, s.loadModel, s.logger, opts...)
	if err != nil {
		return err
	}

	// The workers only leave their loops on EXIT; broadcast it on every
	// return path so an aborted run cannot strand them.
	exited := false
	exit := func() {
		if !exited {
			pm.Exit()
			exited = true
		}
	}
	defer exit()

	if err := pm.UpdateParams(ctx); err != nil {
		return err
	}

	timer := utils.NewTimer("runfirst")
	if _, err := timer.TimeFuncWithError("run", func() error { return pm.RunFirst(ctx) }); err != nil {
		return err
	}
	s.recordDurations(ctx, pm, tasks, 0)

	for it := 0; it < s.cfg.CT.NCombi; it++ {
		timer := utils.NewTimer(fmt.Sprintf("iteration_%04d", it))

		if it > 0 {
			if _, err := timer.TimeFuncWithError("run", func() error { return pm.RunNext(ctx) }); err != nil {
				return err
			}
		}

		combine := pm.Combine
		if bridge != nil {
			combine = pm.CombineThirdLevel
		}
		if _, err := timer.TimeFuncWithError("combine", func() error { return combine(ctx) }); err != nil {
			return err
		}

		if s.cfg.Stats.Checkpoint {
			image, err := pm.SparseGridImage(ctx)
			if err != nil {
				return err
			}
			s.recorder.WriteCheckpoint(ctx, it, image)
		}

		s.recordDurations(ctx, pm, tasks, it)

		if s.policy != nil && it < s.cfg.CT.NCombi-1 {
			if _, err := timer.TimeFuncWithError("reschedule", func() error { return pm.Reschedule(ctx) }); err != nil {
				return err
			}
		}

		s.recorder.WriteIteration(ctx, it, timer)
	}

	exit()
	if bridge != nil {
		if err := bridge.SignalFinished(); err != nil {
			s.logger.Warn("failed to signal completion to mediator: %v", err)
		}
	}
	return nil
}

// recordDurations folds the measured durations into the history store.
func (s *Service) recordDurations(ctx context.Context, pm *manager.ProcessManager, tasks []task.Task, iteration int) {
	if s.repo == nil {
		return
	}

	levels := make(map[model.TaskID]model.LevelVector, len(tasks))
	for _, t := range tasks {
		levels[t.ID()] = t.Level()
	}

	for id, micros := range pm.Durations() {
		if err := s.repo.Record(ctx, levels[id], id, iteration, micros); err != nil {
			s.logger.Warn("failed to record duration for task %d: %v", id, err)
		}
	}
}
