package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracepilot/internal/environment"
	"github.com/xkilldash9x/tracepilot/internal/grading"
	"github.com/xkilldash9x/tracepilot/internal/observability"
	"github.com/xkilldash9x/tracepilot/internal/orchestrator"
	"github.com/xkilldash9x/tracepilot/internal/trainer"
)

// newRunCmd creates and configures the `run` command. It drives the full
// online loop: collect a group of browser episodes, apply one group-relative
// update, and repeat.
func newRunCmd() *cobra.Command {
	var (
		url        string
		task       string
		predicate  string
		iterations int
		checkpoint string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs collect-then-train iterations against a live page",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if iterations < 1 {
				return fmt.Errorf("iterations must be >= 1, got %d", iterations)
			}

			ck, err := loadCheckpoint(checkpoint)
			if err != nil {
				return err
			}
			pol, err := buildPolicy(cfg.Model, ck)
			if err != nil {
				return fmt.Errorf("failed to build policy: %w", err)
			}
			if ck != nil {
				logger.Info("Resumed from checkpoint", zap.String("path", checkpoint))
			}

			gt := trainer.NewGroupTrainer(pol, cfg.Trainer, logger)
			if ck != nil {
				if err := gt.RestoreState(ck.Trainer); err != nil {
					return fmt.Errorf("failed to restore trainer state: %w", err)
				}
			}
			tt := trainer.NewTrajectoryTrainer(pol, cfg.Trainer, logger)

			grader := grading.PredicateGrader{Predicates: map[string]string{task: predicate}}
			collector := environment.NewCollector(cfg.Collection, cfg.Browser, pol, grader, logger)

			store, closeStore, err := openStore(cmd, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			var rs orchestrator.RolloutStore
			if store != nil {
				rs = store
			}
			orch, err := orchestrator.New(cfg, logger, collector, gt, tt, rs)
			if err != nil {
				return err
			}

			for i := 0; i < iterations; i++ {
				report, err := orch.RunGroup(ctx, url, task)
				if err != nil {
					return fmt.Errorf("iteration %d failed: %w", i, err)
				}
				logger.Info("Iteration complete",
					zap.Int("iteration", i),
					zap.Bool("trained", report.Trained),
					zap.Float64("reward_mean", report.RewardMean),
					zap.Float64("loss", report.Loss))

				if err := saveCheckpoint(checkpoint, checkpointFile{Policy: pol.Export(), Trainer: gt.ExportState()}); err != nil {
					return err
				}
			}
			return nil
		},
	}

	runCmd.Flags().StringVarP(&url, "url", "u", "", "page each episode starts on")
	runCmd.Flags().StringVarP(&task, "task", "t", "", "task identifier to train on")
	runCmd.Flags().StringVarP(&predicate, "predicate", "p", "", "JS expression graded in the final page state")
	runCmd.Flags().IntVarP(&iterations, "iterations", "n", 1, "number of collect-then-train iterations")
	runCmd.Flags().StringVar(&checkpoint, "checkpoint", "checkpoint.json", "checkpoint file to resume from and save to")
	_ = runCmd.MarkFlagRequired("url")
	_ = runCmd.MarkFlagRequired("task")
	_ = runCmd.MarkFlagRequired("predicate")
	return runCmd
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}
