package classroom

import (
	"fmt"

	"github.com/learnlive/learnlive/internal/model"
)

// Export builds a grading report for an assignment from the mirror.
func (c *Classroom) Export(assignmentID string) (*model.AssignmentExport, error) {
	snap := c.Snapshot()
	a, ok := snap.Assignment(assignmentID)
	if !ok {
		return nil, fmt.Errorf("assignment %s: %w", assignmentID, ErrNotFound)
	}
	course, ok := snap.Course(a.CourseID)
	if !ok {
		return nil, fmt.Errorf("course %s: %w", a.CourseID, ErrNotFound)
	}

	export := &model.AssignmentExport{
		Course:     course,
		Assignment: a,
		ExportedAt: c.now().UTC(),
		Questions:  []model.QuestionResult{},
	}
	students := make(map[string]bool)
	for _, q := range snap.QuestionsByAssignment[assignmentID] {
		qr := model.QuestionResult{Question: q, Submissions: []model.SubmissionRow{}}
		for _, sub := range snap.SubmissionsByQuestion[q.ID] {
			students[sub.StudentID] = true
			qr.Submissions = append(qr.Submissions, submissionRow(sub))
		}
		export.Questions = append(export.Questions, qr)
	}
	export.NumStudents = len(students)
	return export, nil
}

func submissionRow(sub model.Submission) model.SubmissionRow {
	row := model.SubmissionRow{
		SubmissionID: sub.ID,
		StudentID:    sub.StudentID,
		StudentEmail: sub.StudentEmail,
		Transcript:   sub.Transcript,
		AudioURL:     sub.AudioURL,
		SubmittedAt:  sub.TSISO,
		Status:       model.GradePending,
	}
	if sub.Grade != nil {
		row.Status = sub.Grade.Status()
	}
	switch g := sub.Grade.(type) {
	case model.Graded:
		score := g.Score
		row.Score = &score
		row.Feedback = g.Feedback
	case model.AISuggested:
		score := g.SuggestedScore
		row.SuggestedScore = &score
		row.Feedback = g.SuggestedFeedback
	case model.AIError:
		row.Feedback = g.Message
	}
	return row
}
