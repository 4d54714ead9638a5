package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/learnlive/learnlive/internal/model"
)

type cli struct {
	t   *testing.T
	db  string
	dir string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("LEARNLIVE_AI_KEY", "")
	dir := t.TempDir()
	return &cli{t: t, db: filepath.Join(dir, "learnlive.db"), dir: dir}
}

// as runs a command signed in with the session file of user.
func (c *cli) as(user string, args ...string) (string, error) {
	c.t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args,
		"--db", c.db,
		"--session", filepath.Join(c.dir, user+".session"),
		"--log-level", "error",
	))
	err := cmd.Execute()
	return out.String(), err
}

func (c *cli) must(user string, args ...string) string {
	c.t.Helper()
	out, err := c.as(user, args...)
	require.NoError(c.t, err, out)
	return strings.TrimSpace(out)
}

func TestClassroomFlow(t *testing.T) {
	c := newCLI(t)

	require.Contains(t, c.must("teacher", "signup", "teacher@example.com", "secret1"), "signed in as teacher@example.com")
	created := c.must("teacher", "course", "create", "Algebra I")
	m := regexp.MustCompile(`^course (\S+) created, join code (\d{6})$`).FindStringSubmatch(created)
	require.Len(t, m, 3, created)
	courseID, code := m[1], m[2]

	assignmentID := c.must("teacher", "assignment", "create", courseID, "HW1", "--due", "2025-01-10")
	questionID := c.must("teacher", "question", "add", assignmentID, "What is 2+2?", "--answer", "4")

	c.must("student", "signup", "student@example.com", "secret2")
	require.Equal(t, "Joined Algebra I.", c.must("student", "course", "join", code))
	require.Equal(t, "You are already enrolled in Algebra I.", c.must("student", "course", "join", code))
	submissionID := c.must("student", "submit", questionID, "--transcript", "four")

	listing := c.must("teacher", "submissions", assignmentID)
	require.Contains(t, listing, "1 submission")
	require.Contains(t, listing, "Pending")

	out, err := c.as("teacher", "ai-grade", submissionID)
	require.Error(t, err)
	require.Contains(t, out, "AI grading is not configured")

	c.must("teacher", "grade", submissionID, "90", "--feedback", "Good, but show units.")

	path := filepath.Join(c.dir, "export.json")
	c.must("teacher", "export", assignmentID, "-o", path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var export model.AssignmentExport
	require.NoError(t, json.Unmarshal(data, &export))
	require.Equal(t, "Algebra I", export.Course.Title)
	require.Equal(t, 1, export.NumStudents)
	require.Len(t, export.Questions, 1)
	require.Len(t, export.Questions[0].Submissions, 1)
	row := export.Questions[0].Submissions[0]
	require.Equal(t, model.GradeGraded, row.Status)
	require.NotNil(t, row.Score)
	require.Equal(t, 90.0, *row.Score)
	require.Equal(t, "student@example.com", row.StudentEmail)
}

func TestSignInErrorsAreReadable(t *testing.T) {
	c := newCLI(t)
	c.must("teacher", "signup", "teacher@example.com", "secret1")

	_, err := c.as("other", "signin", "teacher@example.com", "wrong-password")
	require.EqualError(t, err, "Incorrect email or password.")

	_, err = c.as("other", "signup", "not-an-email", "secret1")
	require.EqualError(t, err, "Invalid email address.")

	_, err = c.as("other", "course", "join", "123456")
	require.ErrorContains(t, err, "not signed in")
}

func TestSignOutForgetsSession(t *testing.T) {
	c := newCLI(t)
	c.must("teacher", "signup", "teacher@example.com", "secret1")
	require.FileExists(t, filepath.Join(c.dir, "teacher.session"))

	require.Equal(t, "signed out", c.must("teacher", "signout"))
	require.NoFileExists(t, filepath.Join(c.dir, "teacher.session"))

	_, err := c.as("teacher", "submit", "missing")
	require.ErrorContains(t, err, "not signed in")
}
