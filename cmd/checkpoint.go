package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xkilldash9x/tracepilot/internal/config"
	"github.com/xkilldash9x/tracepilot/internal/policy"
	"github.com/xkilldash9x/tracepilot/internal/trainer"
)

// checkpointFile bundles the policy weights with the trainer bookkeeping so a
// run can resume exactly where it stopped.
type checkpointFile struct {
	Policy  policy.Snapshot `json:"policy"`
	Trainer trainer.State   `json:"trainer"`
}

// loadCheckpoint reads a checkpoint from disk. A missing file is not an
// error; it just means training starts fresh.
func loadCheckpoint(path string) (*checkpointFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}
	var ck checkpointFile
	if err := json.Unmarshal(data, &ck); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	return &ck, nil
}

// saveCheckpoint writes the checkpoint atomically via a temp file rename so a
// crash mid-write never leaves a truncated checkpoint behind.
func saveCheckpoint(path string, ck checkpointFile) error {
	data, err := json.Marshal(ck)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move checkpoint into place: %w", err)
	}
	return nil
}

// buildPolicy creates the policy from a checkpoint when one exists, otherwise
// initializes fresh weights from the configured shape and seed.
func buildPolicy(modelCfg config.ModelConfig, ck *checkpointFile) (*policy.Policy, error) {
	if ck != nil {
		return policy.FromSnapshot(ck.Policy, modelCfg.Seed)
	}
	return policy.New(policy.Config{
		NLayer:    modelCfg.NLayer,
		NEmbd:     modelCfg.NEmbd,
		NHead:     modelCfg.NHead,
		BlockSize: modelCfg.BlockSize,
	}, modelCfg.Seed)
}
