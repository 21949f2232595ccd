// Package environment is the driver that turns policy output into browser
// input and browser state into trajectory observations. It is deliberately a
// thin, swappable adapter around chromedp; the training engine never touches
// it directly.
package environment

import (
	"fmt"
	"strconv"
	"strings"
)

// ActionKind enumerates the action grammar the policy emits.
type ActionKind string

const (
	ActionClick  ActionKind = "CLICK"
	ActionType   ActionKind = "TYPE"
	ActionKey    ActionKind = "KEY"
	ActionScroll ActionKind = "SCROLL"
	ActionWait   ActionKind = "WAIT"
	ActionDone   ActionKind = "DONE"
)

// Action is one parsed policy action. Click coordinates are normalized to
// 0-1000 and scaled to the viewport at dispatch time.
type Action struct {
	Kind   ActionKind
	X, Y   int
	Text   string
	Key    string
	DeltaY int
}

// ExtractAction pulls the "ACTION: ..." line out of a full policy response
// (which usually leads with a SEE: description) and parses it. A response
// with no ACTION line is treated as WAIT: the policy said something, but not
// an action the grammar recognizes.
func ExtractAction(response string) Action {
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "ACTION:"); ok {
			action, err := ParseAction(strings.TrimSpace(rest))
			if err != nil {
				return Action{Kind: ActionWait}
			}
			return action
		}
	}
	return Action{Kind: ActionWait}
}

// ParseAction parses a single action statement.
func ParseAction(s string) (Action, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Action{}, fmt.Errorf("empty action")
	}
	switch ActionKind(strings.ToUpper(fields[0])) {
	case ActionClick:
		if len(fields) != 3 {
			return Action{}, fmt.Errorf("CLICK wants x y, got %q", s)
		}
		x, errX := strconv.Atoi(fields[1])
		y, errY := strconv.Atoi(fields[2])
		if errX != nil || errY != nil {
			return Action{}, fmt.Errorf("CLICK coordinates not numeric: %q", s)
		}
		if x < 0 || x > 1000 || y < 0 || y > 1000 {
			return Action{}, fmt.Errorf("CLICK coordinates out of 0-1000 range: %q", s)
		}
		return Action{Kind: ActionClick, X: x, Y: y}, nil
	case ActionType:
		if len(fields) < 2 {
			return Action{}, fmt.Errorf("TYPE wants text, got %q", s)
		}
		return Action{Kind: ActionType, Text: strings.TrimSpace(strings.TrimPrefix(s, fields[0]))}, nil
	case ActionKey:
		if len(fields) != 2 {
			return Action{}, fmt.Errorf("KEY wants one key name, got %q", s)
		}
		return Action{Kind: ActionKey, Key: strings.ToLower(fields[1])}, nil
	case ActionScroll:
		if len(fields) != 2 {
			return Action{}, fmt.Errorf("SCROLL wants dy, got %q", s)
		}
		dy, err := strconv.Atoi(fields[1])
		if err != nil {
			return Action{}, fmt.Errorf("SCROLL delta not numeric: %q", s)
		}
		return Action{Kind: ActionScroll, DeltaY: dy}, nil
	case ActionWait:
		return Action{Kind: ActionWait}, nil
	case ActionDone:
		return Action{Kind: ActionDone}, nil
	default:
		return Action{}, fmt.Errorf("unknown action verb %q", fields[0])
	}
}

// String renders the action back in grammar form.
func (a Action) String() string {
	switch a.Kind {
	case ActionClick:
		return fmt.Sprintf("CLICK %d %d", a.X, a.Y)
	case ActionType:
		return fmt.Sprintf("TYPE %s", a.Text)
	case ActionKey:
		return fmt.Sprintf("KEY %s", a.Key)
	case ActionScroll:
		return fmt.Sprintf("SCROLL %d", a.DeltaY)
	default:
		return string(a.Kind)
	}
}
