package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/learnlive/learnlive/internal/audio"
	"github.com/learnlive/learnlive/internal/classroom"
	"github.com/learnlive/learnlive/internal/grading"
	appI18n "github.com/learnlive/learnlive/internal/i18n"
	"github.com/learnlive/learnlive/internal/model"
)

// clientCmd builds a command that runs against a synced classroom session.
func clientCmd(use, short string, args cobra.PositionalArgs, run func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			return run(cmd.Context(), s, cmd, args)
		},
	}
	addClientFlags(cmd.Flags())
	return cmd
}

func courseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "course", Short: "Create, join and list courses"}
	cmd.AddCommand(
		clientCmd("create TITLE", "Create a course and print its join code", cobra.ExactArgs(1), runCourseCreate),
		clientCmd("join CODE", "Join a course by its six-digit code", cobra.ExactArgs(1), runCourseJoin),
		clientCmd("list", "List courses you own or attend", cobra.NoArgs, runCourseList),
	)
	return cmd
}

func runCourseCreate(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
	ref, err := s.room.AddCourse(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "course %s created, join code %s\n", ref.ID, ref.Code)
	return nil
}

func runCourseJoin(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
	studentID, err := s.requireIdentity()
	if err != nil {
		return err
	}
	res := s.room.JoinCourseByCode(ctx, studentID, args[0])
	switch {
	case res.OK:
		fmt.Fprintln(cmd.OutOrStdout(), appI18n.Td(ctx, "JoinOK", map[string]any{"Title": res.Course.Title}))
	case res.Already:
		fmt.Fprintln(cmd.OutOrStdout(), appI18n.Td(ctx, "JoinAlready", map[string]any{"Title": res.Course.Title}))
	case res.Error == "No course found for that code":
		return errors.New(appI18n.T(ctx, "JoinNoCourse"))
	default:
		return errors.New(res.Error)
	}
	return nil
}

func runCourseList(_ context.Context, s *session, cmd *cobra.Command, _ []string) error {
	me := s.room.Identity().ID
	snap := s.room.Snapshot()
	enrolled := snap.EnrolledCourseIDs[me]
	out := cmd.OutOrStdout()
	for _, c := range snap.Courses {
		var role string
		switch {
		case c.OwnerID == me:
			role = "teacher"
		case slices.Contains(enrolled, c.ID):
			role = "student"
		default:
			continue
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", c.ID, c.Code, role, c.Title)
		for _, a := range snap.AssignmentsByCourse[c.ID] {
			fmt.Fprintf(out, "  %s\t%s\t%d questions\n", a.ID, a.Title, len(snap.QuestionsByAssignment[a.ID]))
		}
	}
	return nil
}

func assignmentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "assignment", Short: "Manage assignments"}
	create := clientCmd("create COURSE_ID TITLE", "Add an assignment to a course", cobra.ExactArgs(2), runAssignmentCreate)
	create.Flags().String("due", "", "Due date in ISO 8601 format")
	cmd.AddCommand(create)
	return cmd
}

func runAssignmentCreate(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
	due, _ := cmd.Flags().GetString("due")
	id, err := s.room.AddAssignment(ctx, args[0], args[1], due)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func questionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "question", Short: "Manage questions"}
	add := clientCmd("add ASSIGNMENT_ID TEXT", "Add a question to an assignment", cobra.ExactArgs(2), runQuestionAdd)
	add.Flags().String("answer", "", "Reference answer used for grading")
	update := clientCmd("update ASSIGNMENT_ID QUESTION_ID", "Change a question's text or answer", cobra.ExactArgs(2), runQuestionUpdate)
	update.Flags().String("text", "", "New question text")
	update.Flags().String("answer", "", "New reference answer")
	cmd.AddCommand(add, update)
	return cmd
}

func runQuestionAdd(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
	answer, _ := cmd.Flags().GetString("answer")
	id, err := s.room.AddQuestion(ctx, args[0], args[1], answer)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runQuestionUpdate(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
	var patch classroom.QuestionPatch
	if cmd.Flags().Changed("text") {
		text, _ := cmd.Flags().GetString("text")
		patch.Text = &text
	}
	if cmd.Flags().Changed("answer") {
		answer, _ := cmd.Flags().GetString("answer")
		patch.Answer = &answer
	}
	return s.room.UpdateQuestion(ctx, args[0], args[1], patch)
}

func submitCmd() *cobra.Command {
	cmd := clientCmd("submit QUESTION_ID", "Submit an answer to a question", cobra.ExactArgs(1), runSubmit)
	f := cmd.Flags()
	f.String("transcript", "", "Text of the spoken answer")
	f.String("audio", "", "Recording to upload with the answer")
	f.String("audio-type", "audio/webm", "Content type of the recording")
	addAudioFlags(f)
	return cmd
}

func runSubmit(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
	studentID, err := s.requireIdentity()
	if err != nil {
		return err
	}
	transcript, _ := cmd.Flags().GetString("transcript")
	payload := model.SubmitPayload{
		StudentEmail: s.provider.Current().Email,
		Transcript:   transcript,
	}

	if path, _ := cmd.Flags().GetString("audio"); path != "" {
		contentType, _ := cmd.Flags().GetString("audio-type")
		url, err := uploadRecording(ctx, s, studentID, path, contentType)
		if err != nil {
			return err
		}
		payload.AudioURL = url
	}

	id, err := s.room.SubmitAnswer(ctx, args[0], studentID, payload)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func uploadRecording(ctx context.Context, s *session, studentID, path, contentType string) (string, error) {
	if s.v.GetString("audio-endpoint") == "" {
		return "", errors.New("--audio needs --audio-endpoint")
	}
	store, err := newAudioStore(ctx, s.v)
	if err != nil {
		return "", err
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat recording: %w", err)
	}
	return store.Upload(ctx, audio.ObjectName(studentID, contentType), f, info.Size(), contentType)
}

func gradeCmd() *cobra.Command {
	cmd := clientCmd("grade SUBMISSION_ID SCORE", "Record the official grade of a submission", cobra.ExactArgs(2), runGrade)
	cmd.Flags().String("feedback", "", "Feedback for the student")
	return cmd
}

func runGrade(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
	feedback, _ := cmd.Flags().GetString("feedback")
	var score any = args[1]
	if n, err := strconv.ParseFloat(args[1], 64); err == nil {
		score = n
	}
	return s.room.GradeSubmission(ctx, args[0], score, feedback)
}

func aiGradeCmd() *cobra.Command {
	return clientCmd("ai-grade SUBMISSION_ID", "Ask the model for a suggested grade", cobra.ExactArgs(1), runAIGrade)
}

func runAIGrade(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
	res := s.room.RequestAIGrade(ctx, args[0])
	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.OK && !res.Skipped {
		return errors.New(res.Error)
	}
	return nil
}

func explainCmd() *cobra.Command {
	return clientCmd("explain SUBMISSION_ID", "Give the student a friendly hint about their answer", cobra.ExactArgs(1), runExplain)
}

func runExplain(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
	if s.coach == nil {
		return errors.New("AI grading is not configured")
	}
	snap := s.room.Snapshot()
	sub, ok := snap.Submission(args[0])
	if !ok {
		return fmt.Errorf("submission %s: %w", args[0], classroom.ErrNotFound)
	}
	i := slices.IndexFunc(snap.Questions, func(q model.Question) bool { return q.ID == sub.QuestionID })
	if i < 0 {
		return fmt.Errorf("question %s: %w", sub.QuestionID, classroom.ErrNotFound)
	}
	q := snap.Questions[i]

	hint, err := grading.Explain(ctx, s.coach, q.Text, q.Answer, sub.Transcript)
	if err != nil {
		slog.Warn("explain failed", "submission", sub.ID, "error", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), hint)
	return nil
}

var statusMessages = map[model.GradeStatus]string{
	model.GradePending:     "StatusPending",
	model.GradeAIPending:   "StatusAIPending",
	model.GradeAISuggested: "StatusAISuggested",
	model.GradeAIError:     "StatusAIError",
	model.GradeGraded:      "StatusGraded",
}

func submissionsCmd() *cobra.Command {
	return clientCmd("submissions ASSIGNMENT_ID", "List the submissions of an assignment", cobra.ExactArgs(1), runSubmissions)
}

func runSubmissions(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
	subs := s.room.GetSubmissionsForAssignment(args[0])
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, appI18n.Tp(ctx, "SubmissionsCount", len(subs)))
	for _, sub := range subs {
		status := model.GradePending
		if sub.Grade != nil {
			status = sub.Grade.Status()
		}
		label := appI18n.T(ctx, statusMessages[status])
		if g, ok := sub.Grade.(model.Graded); ok {
			label += " " + strconv.FormatFloat(g.Score, 'f', -1, 64)
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n", sub.ID, sub.TSISO, sub.StudentEmail, label, sub.Transcript)
	}
	return nil
}

func watchCmd() *cobra.Command {
	return clientCmd("watch", "Print changes to your classroom as they happen", cobra.NoArgs, runWatch)
}

func runWatch(ctx context.Context, s *session, cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	unwatch := s.room.Watch(func(collection string) {
		snap := s.room.Snapshot()
		fmt.Fprintf(out, "%s changed: %d courses, %d assignments, %d questions, %d submissions\n",
			collection, len(snap.Courses), len(snap.Assignments), len(snap.Questions), len(snap.Submissions))
	})
	defer unwatch()

	<-ctx.Done()
	return nil
}

func exportCmd() *cobra.Command {
	cmd := clientCmd("export ASSIGNMENT_ID", "Export an assignment's submissions as JSON", cobra.ExactArgs(1), runExport)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func runExport(_ context.Context, s *session, cmd *cobra.Command, args []string) error {
	export, err := s.room.Export(args[0])
	if err != nil {
		return err
	}

	outPath, _ := cmd.Flags().GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return writeJSON(w, export)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
