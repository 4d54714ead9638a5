package classroom

import (
	"log/slog"

	"github.com/learnlive/learnlive/internal/model"
	"github.com/learnlive/learnlive/internal/store"
)

// Snapshot is an immutable view of the mirrored collections and their indices.
type Snapshot struct {
	Courses     []model.Course
	Assignments []model.Assignment
	Questions   []model.Question
	Enrollments []model.Enrollment
	Submissions []model.Submission

	AssignmentsByCourse     map[string][]model.Assignment
	QuestionsByAssignment   map[string][]model.Question
	EnrolledCourseIDs       map[string][]string
	SubmissionsByAssignment map[string][]model.Submission
	SubmissionsByQuestion   map[string][]model.Submission
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		AssignmentsByCourse:     map[string][]model.Assignment{},
		QuestionsByAssignment:   map[string][]model.Question{},
		EnrolledCourseIDs:       map[string][]string{},
		SubmissionsByAssignment: map[string][]model.Submission{},
		SubmissionsByQuestion:   map[string][]model.Submission{},
	}
}

// with returns a copy of s with collection replaced by docs and its indices rebuilt.
func (s *Snapshot) with(collection string, docs []store.Document) *Snapshot {
	next := *s
	switch collection {
	case model.CollectionCourses:
		next.Courses = decodeAll[model.Course](collection, docs)
	case model.CollectionAssignments:
		next.Assignments = decodeAll[model.Assignment](collection, docs)
		next.AssignmentsByCourse = groupBy(next.Assignments, func(a model.Assignment) string { return a.CourseID })
	case model.CollectionQuestions:
		next.Questions = decodeAll[model.Question](collection, docs)
		next.QuestionsByAssignment = groupBy(next.Questions, func(q model.Question) string { return q.AssignmentID })
	case model.CollectionEnrollments:
		next.Enrollments = decodeAll[model.Enrollment](collection, docs)
		next.EnrolledCourseIDs = make(map[string][]string)
		for _, e := range next.Enrollments {
			next.EnrolledCourseIDs[e.StudentID] = append(next.EnrolledCourseIDs[e.StudentID], e.CourseID)
		}
	case model.CollectionSubmissions:
		next.Submissions = decodeAll[model.Submission](collection, docs)
		next.SubmissionsByAssignment = groupBy(next.Submissions, func(s model.Submission) string { return s.AssignmentID })
		next.SubmissionsByQuestion = groupBy(next.Submissions, func(s model.Submission) string { return s.QuestionID })
	}
	return &next
}

// Course returns the mirrored course with id.
func (s *Snapshot) Course(id string) (model.Course, bool) {
	for _, c := range s.Courses {
		if c.ID == id {
			return c, true
		}
	}
	return model.Course{}, false
}

// Assignment returns the mirrored assignment with id.
func (s *Snapshot) Assignment(id string) (model.Assignment, bool) {
	for _, a := range s.Assignments {
		if a.ID == id {
			return a, true
		}
	}
	return model.Assignment{}, false
}

// Submission returns the mirrored submission with id.
func (s *Snapshot) Submission(id string) (model.Submission, bool) {
	for _, sub := range s.Submissions {
		if sub.ID == id {
			return sub, true
		}
	}
	return model.Submission{}, false
}

// groupBy maps each key to the items having it, in source order.
func groupBy[T any, K comparable](items []T, key func(T) K) map[K][]T {
	out := make(map[K][]T)
	for _, item := range items {
		k := key(item)
		out[k] = append(out[k], item)
	}
	return out
}

func decodeAll[T any](collection string, docs []store.Document) []T {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := d.Decode(&v); err != nil {
			slog.Warn("skipping undecodable document", "collection", collection, "id", d.ID, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out
}
