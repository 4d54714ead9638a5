package model

import "time"

// AssignmentExport is the top-level JSON structure for exporting an assignment's submissions.
type AssignmentExport struct {
	Course      Course           `json:"course"`
	Assignment  Assignment       `json:"assignment"`
	ExportedAt  time.Time        `json:"exported_at"`
	Questions   []QuestionResult `json:"questions"`
	NumStudents int              `json:"num_students"`
}

// QuestionResult holds a question and every submission made for it.
type QuestionResult struct {
	Question    Question        `json:"question"`
	Submissions []SubmissionRow `json:"submissions"`
}

// SubmissionRow is one submission in an export, with the grade flattened.
type SubmissionRow struct {
	SubmissionID   string      `json:"submission_id"`
	StudentID      string      `json:"student_id"`
	StudentEmail   string      `json:"student_email"`
	Transcript     string      `json:"transcript"`
	AudioURL       string      `json:"audio_url,omitempty"`
	SubmittedAt    string      `json:"submitted_at"`
	Status         GradeStatus `json:"status"`
	Score          *float64    `json:"score,omitempty"`
	Feedback       string      `json:"feedback,omitempty"`
	SuggestedScore *int        `json:"suggested_score,omitempty"`
}
