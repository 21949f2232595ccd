// Package grading assigns the scalar reward a finished episode earned. The
// training engine only ever sees the resulting number; how success is judged
// lives entirely here.
package grading

import (
	"context"
	"fmt"
)

// Evaluator is the slice of a browser session a grader needs: the ability to
// run a JS expression in the live page.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, out interface{}) error
}

// Grader scores one finished episode while its session is still open.
type Grader interface {
	Grade(ctx context.Context, ev Evaluator, task string) (float64, error)
}

// GraderFunc adapts a function to the Grader interface.
type GraderFunc func(ctx context.Context, ev Evaluator, task string) (float64, error)

// Grade implements Grader.
func (f GraderFunc) Grade(ctx context.Context, ev Evaluator, task string) (float64, error) {
	return f(ctx, ev, task)
}

// PredicateGrader maps each task to a boolean JS expression evaluated in the
// page after the episode: true is reward 1, false is reward 0.
type PredicateGrader struct {
	Predicates map[string]string
}

// Grade evaluates the task's predicate. An unknown task is a configuration
// error, not a zero reward; silently scoring it would poison the group's
// statistics.
func (g PredicateGrader) Grade(ctx context.Context, ev Evaluator, task string) (float64, error) {
	expr, ok := g.Predicates[task]
	if !ok {
		return 0, fmt.Errorf("no grading predicate configured for task %q", task)
	}
	var success bool
	if err := ev.Evaluate(ctx, expr, &success); err != nil {
		return 0, fmt.Errorf("grading predicate failed: %w", err)
	}
	if success {
		return 1, nil
	}
	return 0, nil
}
