// Package orchestrator manages the collect-then-train lifecycle. It is
// injected with fully configured components via interfaces, making it
// decoupled and testable.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/tracepilot/api/schemas"
	"github.com/xkilldash9x/tracepilot/internal/config"
)

// EpisodeCollector runs one browser episode and returns the graded rollout.
type EpisodeCollector interface {
	Collect(ctx context.Context, url, task string) (schemas.Rollout, error)
}

// GroupTrainer applies one group-relative update over a batch of rollouts.
type GroupTrainer interface {
	TrainStep(rollouts []schemas.Rollout, task string) schemas.GroupReport
}

// TrajectoryTrainer applies one update from a single recorded trajectory.
type TrajectoryTrainer interface {
	TrainOnTrajectory(trajectory schemas.Trajectory, task string) schemas.TrajectoryReport
}

// RolloutStore persists rollouts and the reports training produces. Persistence
// is best effort; a storage failure never blocks the update itself.
type RolloutStore interface {
	SaveRollout(ctx context.Context, rollout schemas.Rollout) error
	SaveTrajectoryReport(ctx context.Context, task string, report schemas.TrajectoryReport) error
	SaveGroupReport(ctx context.Context, task string, report schemas.GroupReport) error
}

// Orchestrator drives episode collection and hands the results to the
// trainers. Collection fans out, but every training call holds trainMu: the
// policy and optimizer are shared mutable state and updates must never
// interleave.
type Orchestrator struct {
	cfg       *config.Config
	logger    *zap.Logger
	collector EpisodeCollector
	group     GroupTrainer
	single    TrajectoryTrainer
	store     RolloutStore

	trainMu sync.Mutex
}

// New creates an Orchestrator with its dependencies provided as interfaces.
// The store may be nil when running without persistence.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	collector EpisodeCollector,
	group GroupTrainer,
	single TrajectoryTrainer,
	store RolloutStore,
) (*Orchestrator, error) {
	if cfg == nil || logger == nil || collector == nil || group == nil || single == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
		collector: collector,
		group:     group,
		single:    single,
		store:     store,
	}, nil
}

// CollectGroup runs GroupSize episodes concurrently and returns the rollouts
// in their original slot order. One failed episode fails the whole group; a
// partial group would silently skew the reward baseline.
func (o *Orchestrator) CollectGroup(ctx context.Context, url, task string) ([]schemas.Rollout, error) {
	size := o.cfg.Collection.GroupSize
	if size <= 0 {
		return nil, fmt.Errorf("group size must be positive, got %d", size)
	}
	o.logger.Info("collecting rollout group",
		zap.String("task", task), zap.Int("group_size", size))

	rollouts := make([]schemas.Rollout, size)
	g, gctx := errgroup.WithContext(ctx)
	if o.cfg.Collection.MaxConcurrent > 0 {
		g.SetLimit(o.cfg.Collection.MaxConcurrent)
	}
	for i := 0; i < size; i++ {
		g.Go(func() error {
			rollout, err := o.collector.Collect(gctx, url, task)
			if err != nil {
				return fmt.Errorf("episode %d failed: %w", i, err)
			}
			rollouts[i] = rollout
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range rollouts {
		o.persistRollout(ctx, r)
	}
	return rollouts, nil
}

// RunGroup collects a fresh group of episodes and applies one group-relative
// update from them.
func (o *Orchestrator) RunGroup(ctx context.Context, url, task string) (schemas.GroupReport, error) {
	rollouts, err := o.CollectGroup(ctx, url, task)
	if err != nil {
		return schemas.GroupReport{}, err
	}
	return o.TrainGroup(ctx, rollouts, task), nil
}

// TrainGroup applies one group-relative update over already collected
// rollouts. Safe for concurrent callers; updates are serialized.
func (o *Orchestrator) TrainGroup(ctx context.Context, rollouts []schemas.Rollout, task string) schemas.GroupReport {
	o.trainMu.Lock()
	report := o.group.TrainStep(rollouts, task)
	o.trainMu.Unlock()

	if o.store != nil {
		if err := o.store.SaveGroupReport(ctx, task, report); err != nil {
			o.logger.Warn("failed to persist group report", zap.Error(err))
		}
	}
	return report
}

// TrainTrajectory applies one single-trajectory update. Safe for concurrent
// callers; updates are serialized with group updates too.
func (o *Orchestrator) TrainTrajectory(ctx context.Context, trajectory schemas.Trajectory, task string) schemas.TrajectoryReport {
	o.trainMu.Lock()
	report := o.single.TrainOnTrajectory(trajectory, task)
	o.trainMu.Unlock()

	if o.store != nil {
		if err := o.store.SaveTrajectoryReport(ctx, task, report); err != nil {
			o.logger.Warn("failed to persist trajectory report", zap.Error(err))
		}
	}
	return report
}

func (o *Orchestrator) persistRollout(ctx context.Context, rollout schemas.Rollout) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveRollout(ctx, rollout); err != nil {
		o.logger.Warn("failed to persist rollout",
			zap.String("rollout_id", rollout.ID), zap.Error(err))
	}
}
