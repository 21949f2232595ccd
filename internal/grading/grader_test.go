package grading

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvaluator struct {
	result bool
	err    error
	expr   string
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, expr string, out interface{}) error {
	f.expr = expr
	if f.err != nil {
		return f.err
	}
	if b, ok := out.(*bool); ok {
		*b = f.result
	}
	return nil
}

func TestPredicateGrader(t *testing.T) {
	ctx := context.Background()
	grader := PredicateGrader{Predicates: map[string]string{
		"login": `document.querySelector('#welcome') !== null`,
	}}

	t.Run("true predicate scores one", func(t *testing.T) {
		ev := &fakeEvaluator{result: true}
		reward, err := grader.Grade(ctx, ev, "login")
		require.NoError(t, err)
		assert.Equal(t, 1.0, reward)
		assert.Equal(t, grader.Predicates["login"], ev.expr)
	})

	t.Run("false predicate scores zero", func(t *testing.T) {
		reward, err := grader.Grade(ctx, &fakeEvaluator{result: false}, "login")
		require.NoError(t, err)
		assert.Equal(t, 0.0, reward)
	})

	t.Run("unknown task is an error, not a zero", func(t *testing.T) {
		_, err := grader.Grade(ctx, &fakeEvaluator{result: true}, "checkout")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "checkout")
	})

	t.Run("evaluation failure propagates", func(t *testing.T) {
		evalErr := errors.New("page gone")
		_, err := grader.Grade(ctx, &fakeEvaluator{err: evalErr}, "login")
		require.Error(t, err)
		assert.ErrorIs(t, err, evalErr)
	})
}

func TestGraderFunc(t *testing.T) {
	called := false
	g := GraderFunc(func(ctx context.Context, ev Evaluator, task string) (float64, error) {
		called = true
		return 0.5, nil
	})
	reward, err := g.Grade(context.Background(), &fakeEvaluator{}, "any")
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 0.5, reward)
}
