package classroom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/learnlive/learnlive/internal/model"
	"github.com/learnlive/learnlive/internal/store"
)

const codeAttempts = 8

var codeRe = regexp.MustCompile(`^[0-9]{6}$`)

// CourseRef identifies a newly created course.
type CourseRef struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// QuestionPatch lists the question fields to change. Nil fields are left alone.
type QuestionPatch struct {
	Text   *string
	Answer *string
}

// JoinResult reports the outcome of JoinCourseByCode.
type JoinResult struct {
	OK      bool          `json:"ok"`
	Already bool          `json:"already,omitempty"`
	Course  *model.Course `json:"course,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// AddCourse creates a course owned by the current identity with a fresh
// six-digit join code.
func (c *Classroom) AddCourse(ctx context.Context, title string) (CourseRef, error) {
	title = strings.TrimSpace(title)
	if err := c.validate.Var(title, "required"); err != nil {
		return CourseRef{}, fmt.Errorf("course title: %w", err)
	}

	code, err := c.uniqueCode(ctx)
	if err != nil {
		return CourseRef{}, err
	}
	id, err := c.store.Create(ctx, model.CollectionCourses, store.Fields{
		"title":     title,
		"code":      code,
		"ownerId":   c.actorID(),
		"createdAt": store.ServerTimestamp,
	})
	if err != nil {
		return CourseRef{}, fmt.Errorf("create course: %w", err)
	}
	slog.Info("created course", "id", id, "code", code)
	return CourseRef{ID: id, Code: code}, nil
}

func (c *Classroom) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := fmt.Sprintf("%06d", c.intN(1000000))
		docs, err := c.store.Query(ctx, store.Query{
			Collection: model.CollectionCourses,
			Where:      []store.Filter{{Field: "code", Value: code}},
			Limit:      1,
		})
		if err != nil {
			return "", fmt.Errorf("check course code: %w", err)
		}
		if len(docs) == 0 {
			return code, nil
		}
		slog.Debug("course code collision", "code", code, "attempt", i+1)
	}
	return "", ErrCodeGenerationExhausted
}

// AddAssignment creates an assignment in a course.
func (c *Classroom) AddAssignment(ctx context.Context, courseID, title, dueISO string) (string, error) {
	if err := c.validate.Var(courseID, "required"); err != nil {
		return "", fmt.Errorf("course id: %w", err)
	}
	title = strings.TrimSpace(title)
	if err := c.validate.Var(title, "required"); err != nil {
		return "", fmt.Errorf("assignment title: %w", err)
	}
	id, err := c.store.Create(ctx, model.CollectionAssignments, store.Fields{
		"courseId":  courseID,
		"title":     title,
		"dueISO":    dueISO,
		"createdAt": store.ServerTimestamp,
	})
	if err != nil {
		return "", fmt.Errorf("create assignment: %w", err)
	}
	return id, nil
}

// AddQuestion creates a question in an assignment. answer may be empty.
func (c *Classroom) AddQuestion(ctx context.Context, assignmentID, text, answer string) (string, error) {
	if err := c.validate.Var(assignmentID, "required"); err != nil {
		return "", fmt.Errorf("assignment id: %w", err)
	}
	if err := c.validate.Var(strings.TrimSpace(text), "required"); err != nil {
		return "", fmt.Errorf("question text: %w", err)
	}
	id, err := c.store.Create(ctx, model.CollectionQuestions, store.Fields{
		"assignmentId": assignmentID,
		"text":         text,
		"answer":       answer,
		"createdAt":    store.ServerTimestamp,
	})
	if err != nil {
		return "", fmt.Errorf("create question: %w", err)
	}
	return id, nil
}

// UpdateQuestion changes the fields set in patch and stamps updatedAt. An
// empty patch writes nothing.
func (c *Classroom) UpdateQuestion(ctx context.Context, assignmentID, questionID string, patch QuestionPatch) error {
	fields := store.Fields{}
	if patch.Text != nil {
		fields["text"] = *patch.Text
	}
	if patch.Answer != nil {
		fields["answer"] = *patch.Answer
	}
	if len(fields) == 0 {
		return nil
	}
	fields["updatedAt"] = store.ServerTimestamp

	err := c.store.Update(ctx, model.CollectionQuestions, questionID, fields)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("question %s: %w", questionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	slog.Debug("updated question", "assignment", assignmentID, "question", questionID)
	return nil
}

// JoinCourseByCode enrolls studentID in the course with code. It never
// returns an error; failures are reported in the result.
func (c *Classroom) JoinCourseByCode(ctx context.Context, studentID, code string) JoinResult {
	code = strings.TrimSpace(code)
	if !codeRe.MatchString(code) {
		return JoinResult{Error: "Course code must be 6 digits"}
	}

	docs, err := c.store.Query(ctx, store.Query{
		Collection: model.CollectionCourses,
		Where:      []store.Filter{{Field: "code", Value: code}},
		Limit:      1,
	})
	if err != nil {
		slog.Error("failed to look up course code", "error", err)
		return JoinResult{Error: err.Error()}
	}
	if len(docs) == 0 {
		return JoinResult{Error: "No course found for that code"}
	}
	var course model.Course
	if err := docs[0].Decode(&course); err != nil {
		return JoinResult{Error: err.Error()}
	}

	existing, err := c.store.Query(ctx, store.Query{
		Collection: model.CollectionEnrollments,
		Where: []store.Filter{
			{Field: "studentId", Value: studentID},
			{Field: "courseId", Value: course.ID},
		},
		Limit: 1,
	})
	if err != nil {
		slog.Error("failed to look up enrollment", "error", err)
		return JoinResult{Error: err.Error()}
	}
	if len(existing) > 0 {
		return JoinResult{Already: true, Course: &course}
	}

	if _, err := c.store.Create(ctx, model.CollectionEnrollments, store.Fields{
		"studentId": studentID,
		"courseId":  course.ID,
		"createdAt": store.ServerTimestamp,
	}); err != nil {
		slog.Error("failed to create enrollment", "error", err)
		return JoinResult{Error: err.Error()}
	}
	slog.Info("student joined course", "student", studentID, "course", course.ID)
	return JoinResult{OK: true, Course: &course}
}

// SubmitAnswer records a student's answer with a pending grade and returns
// its id. The question and its assignment must exist.
func (c *Classroom) SubmitAnswer(ctx context.Context, questionID, studentID string, payload model.SubmitPayload) (string, error) {
	var q model.Question
	if err := c.getDoc(ctx, model.CollectionQuestions, questionID, &q); err != nil {
		return "", fmt.Errorf("question %s: %w", questionID, err)
	}
	var a model.Assignment
	if err := c.getDoc(ctx, model.CollectionAssignments, q.AssignmentID, &a); err != nil {
		return "", fmt.Errorf("assignment %s: %w", q.AssignmentID, err)
	}

	ts := payload.TSISO
	if ts == "" {
		ts = c.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	id, err := c.store.Create(ctx, model.CollectionSubmissions, store.Fields{
		"questionId":   q.ID,
		"assignmentId": a.ID,
		"courseId":     a.CourseID,
		"studentId":    studentID,
		"studentEmail": payload.StudentEmail,
		"transcript":   payload.Transcript,
		"audioUrl":     payload.AudioURL,
		"tsISO":        ts,
		"grade":        model.EncodeGrade(model.Pending{}),
		"createdAt":    store.ServerTimestamp,
	})
	if err != nil {
		return "", fmt.Errorf("create submission: %w", err)
	}
	return id, nil
}

// GetSubmissionsForAssignment returns the mirrored submissions of an
// assignment in tsISO order. It does not query the store. The result is a
// copy the caller may modify.
func (c *Classroom) GetSubmissionsForAssignment(assignmentID string) []model.Submission {
	subs := c.Snapshot().SubmissionsByAssignment[assignmentID]
	if subs == nil {
		return []model.Submission{}
	}
	return slices.Clone(subs)
}

// GradeSubmission replaces the submission's grade with an official one by the
// current identity. score is coerced to a number; anything non-finite is 0.
func (c *Classroom) GradeSubmission(ctx context.Context, submissionID string, score any, feedback string) error {
	n, ok := model.CoerceNumber(score)
	if !ok {
		n = 0
	}
	grade := model.EncodeGrade(model.Graded{Score: n, Feedback: feedback, GradedBy: c.actorID()})
	grade["gradedAt"] = store.ServerTimestamp

	err := c.store.Update(ctx, model.CollectionSubmissions, submissionID, store.Fields{"grade": grade})
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("submission %s: %w", submissionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("grade submission: %w", err)
	}
	slog.Info("graded submission", "submission", submissionID, "score", n)
	return nil
}

func (c *Classroom) getDoc(ctx context.Context, collection, id string, v any) error {
	if id == "" {
		return ErrNotFound
	}
	doc, err := c.store.Get(ctx, collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return doc.Decode(v)
}
