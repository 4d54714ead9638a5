package grading

import (
	"context"
	"strings"

	"github.com/learnlive/learnlive/internal/grading/prompts"
	"github.com/learnlive/learnlive/internal/i18n"
)

// Coach can compare answers and rephrase text for students. Both Client and
// RemoteClient are coaches.
type Coach interface {
	Compare(ctx context.Context, correctAnswer, studentAnswer string) (Result, error)
	Simplify(ctx context.Context, text string) (string, error)
}

// Explain produces a short, encouraging hint for a student's answer without
// revealing the score or the correct answer. The returned string is always
// displayable, even when err is not nil.
func Explain(ctx context.Context, coach Coach, question, correctAnswer, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return i18n.T(ctx, "ExplainNotAnswered"), nil
	}

	graded, err := coach.Compare(ctx, correctAnswer, transcript)
	if err != nil {
		return i18n.T(ctx, "ExplainFailed"), err
	}

	prompt, err := prompts.Build(prompts.Friendly, prompts.FriendlyData{
		Question:      question,
		CorrectAnswer: correctAnswer,
		StudentAnswer: transcript,
		Feedback:      graded.Feedback,
	})
	if err != nil {
		return i18n.T(ctx, "ExplainFailed"), err
	}

	simplified, err := coach.Simplify(ctx, prompt)
	if err != nil {
		return i18n.T(ctx, "ExplainFailed"), err
	}
	if simplified = strings.TrimSpace(simplified); simplified == "" {
		return i18n.T(ctx, "ExplainFallback"), nil
	}
	return simplified, nil
}
