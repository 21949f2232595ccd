package environment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/tracepilot/api/schemas"
	"github.com/xkilldash9x/tracepilot/internal/config"
	"github.com/xkilldash9x/tracepilot/internal/dialogue"
	"github.com/xkilldash9x/tracepilot/internal/grading"
	"github.com/xkilldash9x/tracepilot/internal/policy"
)

// Collector runs the observe-infer-act loop against a live page and records
// the resulting trajectory. Each Collect call opens its own browser session,
// so collectors can run episodes concurrently; only training needs to be
// serialized, not collection.
type Collector struct {
	cfg        config.CollectionConfig
	browserCfg config.BrowserConfig
	policy     *policy.Policy
	grader     grading.Grader
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewCollector builds a collector sampling actions from the given policy.
func NewCollector(cfg config.CollectionConfig, browserCfg config.BrowserConfig, p *policy.Policy, grader grading.Grader, logger *zap.Logger) *Collector {
	interval := cfg.FrameInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Collector{
		cfg:        cfg,
		browserCfg: browserCfg,
		policy:     p,
		grader:     grader,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		logger:     logger.Named("collector"),
	}
}

// Collect runs one episode: navigate, then alternate frame capture and
// policy-sampled actions until the policy says DONE or the step budget runs
// out, then grade the final page state. The decision text recorded in the
// trajectory is exactly the sampled text, which is what makes the recorded
// episode trainable later.
func (c *Collector) Collect(ctx context.Context, url, task string) (schemas.Rollout, error) {
	if c.cfg.EpisodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.EpisodeTimeout)
		defer cancel()
	}

	session, err := NewSession(ctx, c.browserCfg, c.logger)
	if err != nil {
		return schemas.Rollout{}, err
	}
	defer session.Close()

	if err := session.Navigate(ctx, url); err != nil {
		return schemas.Rollout{}, err
	}

	tok := c.policy.Tokenizer()
	var entries []schemas.Entry

	for step := 0; step < c.cfg.MaxSteps; step++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return schemas.Rollout{}, fmt.Errorf("episode cut short: %w", err)
		}

		frame, err := session.CaptureFrame(ctx)
		if err != nil {
			return schemas.Rollout{}, err
		}
		entries = append(entries, schemas.Observation(time.Now(), frame))

		turns := dialogue.Assemble(entries, task)
		seq := dialogue.Encode(turns, tok)
		prompt := append(seq.Tokens, policy.TokDecisionStart)

		sampled, err := c.policy.Sample(prompt, c.cfg.MaxNewTokens, c.cfg.Temperature)
		if err != nil {
			return schemas.Rollout{}, fmt.Errorf("action sampling failed: %w", err)
		}
		text := tok.Decode(sampled)
		entries = append(entries, schemas.Decision(time.Now(), text))

		action := ExtractAction(text)
		c.logger.Debug("performing action",
			zap.Int("step", step), zap.String("action", action.String()))
		if err := session.Perform(ctx, action); err != nil {
			return schemas.Rollout{}, fmt.Errorf("action dispatch failed: %w", err)
		}
		if action.Kind == ActionDone {
			break
		}
	}

	reward, err := c.grader.Grade(ctx, session, task)
	if err != nil {
		return schemas.Rollout{}, fmt.Errorf("grading failed: %w", err)
	}

	rollout := schemas.Rollout{
		ID:          uuid.NewString(),
		Task:        task,
		Trajectory:  schemas.Trajectory{ID: uuid.NewString(), Entries: entries},
		Reward:      reward,
		CollectedAt: time.Now(),
	}
	c.logger.Info("episode collected",
		zap.String("rollout_id", rollout.ID),
		zap.Int("entries", len(entries)),
		zap.Float64("reward", reward))
	return rollout, nil
}
