// Package dialogue serializes a trajectory into the structured turn sequence
// the policy is trained and sampled on: one system turn carrying the task
// framing, then alternating observation and decision turns. Assembly is
// deterministic and stateless; identical trajectories always produce
// identical turn sequences.
package dialogue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/xkilldash9x/tracepilot/api/schemas"
)

// Role tags who authored a turn.
type Role string

const (
	RoleSystem      Role = "system"
	RoleObservation Role = "observation"
	RoleDecision    Role = "decision"
)

// Turn is one element of the assembled dialogue.
type Turn struct {
	Role Role
	Text string
}

// systemTemplate frames the task and the action grammar the policy must emit.
const systemTemplate = `You control a browser. Each turn you see a screenshot.

First describe what you see, then choose an action.

Output format (exactly two lines):
SEE: <brief description of visible elements, their labels, positions, and any changes from last frame>
ACTION: <one action>

Actions (normalized 0-1000 coordinates):
- CLICK x y - Click at coordinates
- TYPE text - Type text into focused input
- KEY keyname - Press key (enter, tab, escape, etc)
- SCROLL dy - Scroll (positive=down, negative=up)
- WAIT - Wait and observe (nothing to do yet)
- DONE - Task complete

Task: %s`

// Assemble builds the turn sequence for entries under the given task.
// Observation turns carry a compact frame digest and the timestamp relative
// to the first entry; decision turns carry the decision text verbatim, which
// the final-occurrence masker depends on.
func Assemble(entries []schemas.Entry, task string) []Turn {
	turns := []Turn{{Role: RoleSystem, Text: fmt.Sprintf(systemTemplate, task)}}
	if len(entries) == 0 {
		return turns
	}
	t0 := entries[0].Timestamp
	for _, e := range entries {
		switch e.Kind {
		case schemas.EntryObservation:
			turns = append(turns, Turn{Role: RoleObservation, Text: observationText(e, t0)})
		case schemas.EntryDecision:
			turns = append(turns, Turn{Role: RoleDecision, Text: e.Text})
		}
	}
	return turns
}

func observationText(e schemas.Entry, t0 time.Time) string {
	rel := e.Timestamp.Sub(t0).Seconds()
	if e.Frame == nil {
		return fmt.Sprintf("[no frame t=%.2fs]", rel)
	}
	sum := sha256.Sum256(e.Frame.Data)
	return fmt.Sprintf("[frame %s %dx%d t=%.2fs]",
		hex.EncodeToString(sum[:6]), e.Frame.Width, e.Frame.Height, rel)
}
