package model

import (
	"context"
	"time"
)

// AnonymousID is the placeholder identity used while nobody is signed in.
const AnonymousID = "anon"

// Identity is the principal making requests.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Anonymous returns the placeholder identity.
func Anonymous() Identity {
	return Identity{ID: AnonymousID}
}

// IsAnonymous reports whether the identity is the unauthenticated placeholder.
func (i Identity) IsAnonymous() bool {
	return i.ID == "" || i.ID == AnonymousID
}

type identityCtxKey struct{}

// ContextWithIdentity stores an identity in the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the identity from context, or the anonymous placeholder.
func IdentityFromContext(ctx context.Context) Identity {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	if !ok {
		return Anonymous()
	}
	return id
}

// User is an account known to the identity provider.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Collection names in the document store.
const (
	CollectionCourses     = "courses"
	CollectionAssignments = "assignments"
	CollectionQuestions   = "questions"
	CollectionEnrollments = "enrollments"
	CollectionSubmissions = "submissions"
)

// Course is a class owned by the teacher who created it.
type Course struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Code      string    `json:"code"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Assignment groups questions inside a course.
type Assignment struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"courseId"`
	Title     string    `json:"title"`
	DueISO    string    `json:"dueISO"`
	CreatedAt time.Time `json:"createdAt"`
}

// Question is a prompt students answer by voice. Answer is the teacher's reference answer.
type Question struct {
	ID           string     `json:"id"`
	AssignmentID string     `json:"assignmentId"`
	Text         string     `json:"text"`
	Answer       string     `json:"answer"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

// Enrollment links a student to a course.
type Enrollment struct {
	ID        string    `json:"id"`
	StudentID string    `json:"studentId"`
	CourseID  string    `json:"courseId"`
	CreatedAt time.Time `json:"createdAt"`
}

// AISuggestion is the last AI suggestion recorded next to the grade.
type AISuggestion struct {
	Score     *int      `json:"score"`
	Rationale string    `json:"rationale"`
	Model     string    `json:"model"`
	At        time.Time `json:"at"`
}

// Submission is one answer attempt. Submissions are never deleted or overwritten;
// only Grade (and AISuggested) change after creation.
type Submission struct {
	ID           string        `json:"id"`
	QuestionID   string        `json:"questionId"`
	AssignmentID string        `json:"assignmentId"`
	CourseID     string        `json:"courseId"`
	StudentID    string        `json:"studentId"`
	StudentEmail string        `json:"studentEmail"`
	Transcript   string        `json:"transcript"`
	AudioURL     string        `json:"audioUrl"`
	TSISO        string        `json:"tsISO"`
	Grade        Grade         `json:"-"`
	AISuggested  *AISuggestion `json:"aiSuggested,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// SubmitPayload carries the student-provided parts of a submission.
type SubmitPayload struct {
	StudentEmail string `json:"studentEmail,omitempty"`
	Transcript   string `json:"transcript,omitempty"`
	AudioURL     string `json:"audioUrl,omitempty"`
	TSISO        string `json:"tsISO,omitempty"`
}
