package grading

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCoach struct {
	compareErr  error
	simplified  string
	simplifyErr error
	prompt      string
	compared    bool
}

func (f *fakeCoach) Compare(ctx context.Context, correctAnswer, studentAnswer string) (Result, error) {
	f.compared = true
	if f.compareErr != nil {
		return Result{}, f.compareErr
	}
	return Result{Score: 40, Feedback: "Missing the units."}, nil
}

func (f *fakeCoach) Simplify(ctx context.Context, text string) (string, error) {
	f.prompt = text
	return f.simplified, f.simplifyErr
}

func TestExplain(t *testing.T) {
	ctx := context.Background()

	t.Run("simplified hint", func(t *testing.T) {
		coach := &fakeCoach{simplified: "Remember to say the units!"}
		got, err := Explain(ctx, coach, "How long is the pencil?", "10 cm", "ten")
		require.NoError(t, err)
		require.Equal(t, "Remember to say the units!", got)
		require.Contains(t, coach.prompt, "Teacher feedback: Missing the units.")
		require.Contains(t, coach.prompt, "Student's answer: ten")
	})

	t.Run("empty simplification", func(t *testing.T) {
		got, err := Explain(ctx, &fakeCoach{simplified: "   "}, "q", "a", "b")
		require.NoError(t, err)
		require.Equal(t, "I think you tried very well! Let's make your answer even better next time!", got)
	})

	t.Run("not answered", func(t *testing.T) {
		coach := &fakeCoach{}
		got, err := Explain(ctx, coach, "q", "a", "  ")
		require.NoError(t, err)
		require.Equal(t, "You have not answered yet.", got)
		require.False(t, coach.compared)
	})

	t.Run("compare fails", func(t *testing.T) {
		got, err := Explain(ctx, &fakeCoach{compareErr: errors.New("down")}, "q", "a", "b")
		require.Error(t, err)
		require.Equal(t, "Oops! Something went wrong.", got)
	})

	t.Run("simplify fails", func(t *testing.T) {
		got, err := Explain(ctx, &fakeCoach{simplifyErr: errors.New("down")}, "q", "a", "b")
		require.Error(t, err)
		require.Equal(t, "Oops! Something went wrong.", got)
	})
}
