package classroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/learnlive/learnlive/internal/model"
	"github.com/learnlive/learnlive/internal/store"
)

// AIGradeResult reports the outcome of RequestAIGrade.
type AIGradeResult struct {
	OK         bool               `json:"ok"`
	Skipped    bool               `json:"skipped,omitempty"`
	Suggestion *model.AISuggested `json:"suggestion,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// RequestAIGrade asks the grader for a suggestion and records it on the
// submission. The submission moves to ai_pending before the call and ends in
// ai_suggested or ai_error. Submissions that already have an official grade
// are left alone. It never returns an error; failures are reported in the
// result and, where the submission exists, persisted as ai_error.
//
// Two concurrent requests for one submission both pass through ai_pending
// and the later response wins.
func (c *Classroom) RequestAIGrade(ctx context.Context, submissionID string) AIGradeResult {
	var sub model.Submission
	if err := c.getDoc(ctx, model.CollectionSubmissions, submissionID, &sub); err != nil {
		slog.Warn("ai grade: submission unavailable", "submission", submissionID, "error", err)
		return AIGradeResult{Error: fmt.Sprintf("submission %s: %v", submissionID, err)}
	}
	if model.IsTerminal(sub.Grade) {
		return AIGradeResult{Skipped: true}
	}

	if err := c.setGrade(ctx, submissionID, model.AIPending{}); err != nil {
		return AIGradeResult{Error: err.Error()}
	}

	suggestion, err := c.suggest(ctx, sub)

	// The outcome is recorded even when the caller gave up waiting.
	wctx := context.WithoutCancel(ctx)
	if err != nil {
		return c.fail(wctx, submissionID, err.Error())
	}

	score := suggestion.SuggestedScore
	err = c.store.Update(wctx, model.CollectionSubmissions, submissionID, store.Fields{
		"grade": model.EncodeGrade(suggestion),
		"aiSuggested": store.Fields{
			"score":     score,
			"rationale": suggestion.SuggestedFeedback,
			"model":     suggestion.SuggestedModel,
			"at":        store.ServerTimestamp,
		},
	})
	if err != nil {
		return c.fail(wctx, submissionID, fmt.Sprintf("record suggestion: %v", err))
	}
	return AIGradeResult{OK: true, Suggestion: &suggestion}
}

// fail moves the submission to ai_error with msg.
func (c *Classroom) fail(ctx context.Context, submissionID, msg string) AIGradeResult {
	slog.Warn("ai grade failed", "submission", submissionID, "error", msg)
	if err := c.setGrade(ctx, submissionID, model.AIError{Message: msg}); err != nil {
		slog.Error("failed to record ai error", "submission", submissionID, "error", err)
	}
	return AIGradeResult{Error: msg}
}

func (c *Classroom) suggest(ctx context.Context, sub model.Submission) (model.AISuggested, error) {
	if c.grader == nil {
		return model.AISuggested{}, errors.New("AI grading is not configured")
	}
	var q model.Question
	if err := c.getDoc(ctx, model.CollectionQuestions, sub.QuestionID, &q); err != nil {
		return model.AISuggested{}, fmt.Errorf("question %s: %w", sub.QuestionID, err)
	}

	r, err := c.grader.Grade(ctx, q.Text, q.Answer, sub.Transcript)
	if err != nil {
		return model.AISuggested{}, err
	}
	if r.Fallback {
		return model.AISuggested{}, errors.New("AI response could not be parsed")
	}
	return model.AISuggested{
		SuggestedScore:    r.Score,
		SuggestedFeedback: r.Feedback,
		SuggestedModel:    r.Model,
	}, nil
}

func (c *Classroom) setGrade(ctx context.Context, submissionID string, g model.Grade) error {
	err := c.store.Update(ctx, model.CollectionSubmissions, submissionID, store.Fields{"grade": model.EncodeGrade(g)})
	if err != nil {
		return fmt.Errorf("set grade %s: %w", g.Status(), err)
	}
	return nil
}
