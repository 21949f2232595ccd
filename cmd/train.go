package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tracepilot/api/schemas"
	"github.com/xkilldash9x/tracepilot/internal/observability"
	"github.com/xkilldash9x/tracepilot/internal/tracestore"
	"github.com/xkilldash9x/tracepilot/internal/trainer"
)

// newTrainCmd creates and configures the `train` command. It trains offline
// from recorded rollouts, either a JSONL file or the configured database.
func newTrainCmd() *cobra.Command {
	var (
		task       string
		input      string
		mode       string
		checkpoint string
	)

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Runs one training update over recorded rollouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if mode != "group" && mode != "trajectory" {
				return fmt.Errorf("mode must be group or trajectory, got %q", mode)
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

			store, closeStore, err := openStore(cmd, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			var rollouts []schemas.Rollout
			switch {
			case input != "":
				rollouts, err = readRolloutsJSONL(input)
			case store != nil:
				rollouts, err = store.ListRollouts(ctx, task)
			default:
				return fmt.Errorf("no rollout source: pass --input or configure database.url")
			}
			if err != nil {
				return err
			}
			logger.Info("Loaded rollouts", zap.Int("count", len(rollouts)), zap.String("task", task))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			switch mode {
			case "group":
				gt := trainer.NewGroupTrainer(pol, cfg.Trainer, logger)
				if ck != nil {
					if err := gt.RestoreState(ck.Trainer); err != nil {
						return fmt.Errorf("failed to restore trainer state: %w", err)
					}
				}
				report := gt.TrainStep(rollouts, task)
				if store != nil {
					if err := store.SaveGroupReport(ctx, task, report); err != nil {
						logger.Warn("Failed to persist group report", zap.Error(err))
					}
				}
				if err := enc.Encode(report); err != nil {
					return err
				}
				return saveCheckpoint(checkpoint, checkpointFile{Policy: pol.Export(), Trainer: gt.ExportState()})

			default:
				tt := trainer.NewTrajectoryTrainer(pol, cfg.Trainer, logger)
				if ck != nil {
					if err := tt.RestoreState(ck.Trainer); err != nil {
						return fmt.Errorf("failed to restore trainer state: %w", err)
					}
				}
				for _, rollout := range rollouts {
					report := tt.TrainOnTrajectory(rollout.Trajectory, task)
					if store != nil {
						if err := store.SaveTrajectoryReport(ctx, task, report); err != nil {
							logger.Warn("Failed to persist trajectory report", zap.Error(err))
						}
					}
					if err := enc.Encode(report); err != nil {
						return err
					}
				}
				return saveCheckpoint(checkpoint, checkpointFile{Policy: pol.Export(), Trainer: tt.ExportState()})
			}
		},
	}

	trainCmd.Flags().StringVarP(&task, "task", "t", "", "task identifier the rollouts belong to")
	trainCmd.Flags().StringVarP(&input, "input", "i", "", "JSONL file of recorded rollouts (overrides the database)")
	trainCmd.Flags().StringVarP(&mode, "mode", "m", "group", "training mode: group or trajectory")
	trainCmd.Flags().StringVar(&checkpoint, "checkpoint", "checkpoint.json", "checkpoint file to resume from and save to")
	_ = trainCmd.MarkFlagRequired("task")
	return trainCmd
}

// readRolloutsJSONL decodes one rollout per line.
func readRolloutsJSONL(path string) ([]schemas.Rollout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rollout file: %w", err)
	}
	defer f.Close()

	var rollouts []schemas.Rollout
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var r schemas.Rollout
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("bad rollout on line %d of %s: %w", line, path, err)
		}
		rollouts = append(rollouts, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading %s: %w", path, err)
	}
	return rollouts, nil
}

// openStore connects the trace store when a database URL is configured. The
// returned cleanup is always safe to call.
func openStore(cmd *cobra.Command, logger *zap.Logger) (*tracestore.Store, func(), error) {
	if cfg.Database.URL == "" {
		return nil, func() {}, nil
	}
	ctx := cmd.Context()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to connect to database: %w", err)
	}
	store, err := tracestore.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, func() {}, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, func() {}, err
	}
	return store, pool.Close, nil
}

func init() {
	rootCmd.AddCommand(newTrainCmd())
}
