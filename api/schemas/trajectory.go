package schemas

import (
	"time"
)

// EntryKind discriminates the two kinds of trajectory entries.
type EntryKind string

const (
	// EntryObservation is a visual frame captured from the environment.
	EntryObservation EntryKind = "OBSERVATION"
	// EntryDecision is a free-text action emitted by the policy.
	EntryDecision EntryKind = "DECISION"
)

// Frame is an opaque visual capture. The training engine never decodes the
// pixel data; it only carries the frame through to the dialogue assembly.
type Frame struct {
	Data   []byte `json:"data"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Entry is one element of a trajectory: either an observation or a decision.
// Exactly one of Frame/Text is meaningful depending on Kind.
type Entry struct {
	Kind      EntryKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Frame     *Frame    `json:"frame,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// Trajectory is the ordered observation/decision history of one episode.
// Entries are expected to alternate observation, decision, observation, ...;
// a trailing observation with no following decision is valid.
type Trajectory struct {
	ID      string  `json:"id"`
	Entries []Entry `json:"entries"`
}

// Empty reports whether the trajectory carries no entries at all.
func (t Trajectory) Empty() bool { return len(t.Entries) == 0 }

// Decisions returns the decision entries in order.
func (t Trajectory) Decisions() []Entry {
	var out []Entry
	for _, e := range t.Entries {
		if e.Kind == EntryDecision {
			out = append(out, e)
		}
	}
	return out
}

// Observation builds an observation entry.
func Observation(ts time.Time, frame *Frame) Entry {
	return Entry{Kind: EntryObservation, Timestamp: ts, Frame: frame}
}

// Decision builds a decision entry.
func Decision(ts time.Time, text string) Entry {
	return Entry{Kind: EntryDecision, Timestamp: ts, Text: text}
}

// Rollout is a trajectory plus the scalar reward its episode earned. All
// rollouts passed to one group training call share a task and are comparable.
type Rollout struct {
	ID          string     `json:"id"`
	Task        string     `json:"task"`
	Trajectory  Trajectory `json:"trajectory"`
	Reward      float64    `json:"reward"`
	CollectedAt time.Time  `json:"collected_at"`
}
