package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracepilot/internal/environment"
	"github.com/xkilldash9x/tracepilot/internal/grading"
	"github.com/xkilldash9x/tracepilot/internal/observability"
)

// newCollectCmd creates and configures the `collect` command. It runs live
// browser episodes with the current policy and records the rollouts.
func newCollectCmd() *cobra.Command {
	var (
		url        string
		task       string
		predicate  string
		episodes   int
		output     string
		checkpoint string
	)

	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "Collects graded browser episodes with the current policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if episodes < 1 {
				return fmt.Errorf("episodes must be >= 1, got %d", episodes)
			}

			ck, err := loadCheckpoint(checkpoint)
			if err != nil {
				return err
			}
			pol, err := buildPolicy(cfg.Model, ck)
			if err != nil {
				return fmt.Errorf("failed to build policy: %w", err)
			}

			grader := grading.PredicateGrader{Predicates: map[string]string{task: predicate}}
			collector := environment.NewCollector(cfg.Collection, cfg.Browser, pol, grader, logger)

			store, closeStore, err := openStore(cmd, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			out, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open output file: %w", err)
			}
			defer out.Close()
			enc := json.NewEncoder(out)

			for i := 0; i < episodes; i++ {
				rollout, err := collector.Collect(ctx, url, task)
				if err != nil {
					return fmt.Errorf("episode %d failed: %w", i, err)
				}
				if err := enc.Encode(rollout); err != nil {
					return fmt.Errorf("failed to record rollout: %w", err)
				}
				if store != nil {
					if err := store.SaveRollout(ctx, rollout); err != nil {
						logger.Warn("Failed to persist rollout", zap.Error(err))
					}
				}
				logger.Info("Episode complete",
					zap.Int("episode", i),
					zap.Float64("reward", rollout.Reward),
					zap.Int("entries", len(rollout.Trajectory.Entries)))
			}
			return nil
		},
	}

	collectCmd.Flags().StringVarP(&url, "url", "u", "", "page the episode starts on")
	collectCmd.Flags().StringVarP(&task, "task", "t", "", "task identifier to collect for")
	collectCmd.Flags().StringVarP(&predicate, "predicate", "p", "", "JS expression graded in the final page state")
	collectCmd.Flags().IntVarP(&episodes, "episodes", "n", 1, "number of episodes to run")
	collectCmd.Flags().StringVarP(&output, "output", "o", "rollouts.jsonl", "JSONL file rollouts are appended to")
	collectCmd.Flags().StringVar(&checkpoint, "checkpoint", "checkpoint.json", "checkpoint file holding the policy weights")
	_ = collectCmd.MarkFlagRequired("url")
	_ = collectCmd.MarkFlagRequired("task")
	_ = collectCmd.MarkFlagRequired("predicate")
	return collectCmd
}

func init() {
	rootCmd.AddCommand(newCollectCmd())
}
