package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// GradeStatus is the discrete evaluation state of a submission.
type GradeStatus string

const (
	GradePending     GradeStatus = "pending"
	GradeAIPending   GradeStatus = "ai_pending"
	GradeAISuggested GradeStatus = "ai_suggested"
	GradeAIError     GradeStatus = "ai_error"
	GradeGraded      GradeStatus = "graded"
)

// Grade is one of Pending, AIPending, AISuggested, AIError or Graded.
type Grade interface {
	Status() GradeStatus
}

// Pending means nobody has evaluated the submission yet.
type Pending struct{}

// AIPending means an AI suggestion has been requested and is in flight.
type AIPending struct{}

// AISuggested holds a suggestion a teacher may accept or override.
type AISuggested struct {
	SuggestedScore    int    `json:"suggestedScore"`
	SuggestedFeedback string `json:"suggestedFeedback"`
	SuggestedModel    string `json:"suggestedModel"`
}

// AIError records why the last AI request failed.
type AIError struct {
	Message string `json:"error"`
}

// Graded is the official, terminal grade.
type Graded struct {
	Score    float64   `json:"score"`
	Feedback string    `json:"feedback"`
	GradedBy string    `json:"gradedBy"`
	GradedAt time.Time `json:"gradedAt"`
}

func (Pending) Status() GradeStatus     { return GradePending }
func (AIPending) Status() GradeStatus   { return GradeAIPending }
func (AISuggested) Status() GradeStatus { return GradeAISuggested }
func (AIError) Status() GradeStatus     { return GradeAIError }
func (Graded) Status() GradeStatus      { return GradeGraded }

// IsTerminal reports whether no further AI grading should happen.
func IsTerminal(g Grade) bool {
	return g != nil && g.Status() == GradeGraded
}

// EncodeGrade flattens a grade into the stored object shape: the variant's
// fields plus "status".
func EncodeGrade(g Grade) map[string]any {
	if g == nil {
		g = Pending{}
	}
	m := map[string]any{"status": string(g.Status())}
	switch v := g.(type) {
	case AISuggested:
		m["suggestedScore"] = v.SuggestedScore
		m["suggestedFeedback"] = v.SuggestedFeedback
		m["suggestedModel"] = v.SuggestedModel
	case AIError:
		m["error"] = v.Message
	case Graded:
		m["score"] = v.Score
		m["feedback"] = v.Feedback
		m["gradedBy"] = v.GradedBy
		m["gradedAt"] = v.GradedAt
	}
	return m
}

// DecodeGrade reads a stored grade object. A missing object or status decodes as Pending.
func DecodeGrade(raw json.RawMessage) (Grade, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Pending{}, nil
	}
	var head struct {
		Status GradeStatus `json:"status"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode grade: %w", err)
	}
	switch head.Status {
	case "", GradePending:
		return Pending{}, nil
	case GradeAIPending:
		return AIPending{}, nil
	case GradeAISuggested:
		var g AISuggested
		err := json.Unmarshal(raw, &g)
		return g, err
	case GradeAIError:
		var g AIError
		err := json.Unmarshal(raw, &g)
		return g, err
	case GradeGraded:
		var g Graded
		err := json.Unmarshal(raw, &g)
		return g, err
	default:
		return nil, fmt.Errorf("unknown grade status %q", head.Status)
	}
}

type submissionAlias Submission

// MarshalJSON writes the grade in its stored shape.
func (s Submission) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		submissionAlias
		Grade map[string]any `json:"grade"`
	}{submissionAlias(s), EncodeGrade(s.Grade)})
}

// UnmarshalJSON decodes the grade object into its variant.
func (s *Submission) UnmarshalJSON(data []byte) error {
	var aux struct {
		submissionAlias
		Grade json.RawMessage `json:"grade"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	g, err := DecodeGrade(aux.Grade)
	if err != nil {
		return err
	}
	*s = Submission(aux.submissionAlias)
	s.Grade = g
	return nil
}
