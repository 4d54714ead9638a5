package grading

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strings"

	"github.com/learnlive/learnlive/internal/model"
)

// MaxFeedbackLen bounds the feedback kept from a model response, in characters.
const MaxFeedbackLen = 1000

// HeuristicFeedback is the feedback attached to heuristic fallback scores.
const HeuristicFeedback = "Fallback heuristic score."

// ErrUnparsable is returned when a model response has no usable JSON grade.
var ErrUnparsable = errors.New("unparsable model response")

var (
	fenceRe  = regexp.MustCompile("(?i)```(?:json)?")
	objectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// Parse extracts score and feedback from free-form model output. The score is
// clamped to [0,100] and rounded; feedback comes from "feedback", else
// "rationale", and is truncated to MaxFeedbackLen characters.
func Parse(text string) (int, string, error) {
	text = fenceRe.ReplaceAllString(text, "")
	block := objectRe.FindString(text)
	if block == "" {
		return 0, "", ErrUnparsable
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(block), &obj); err != nil {
		return 0, "", ErrUnparsable
	}

	raw, ok := obj["score"]
	if !ok {
		return 0, "", ErrUnparsable
	}
	score, ok := model.CoerceNumber(raw)
	if !ok {
		return 0, "", ErrUnparsable
	}
	score = math.Round(math.Max(0, math.Min(100, score)))

	feedback := stringField(obj, "feedback")
	if feedback == "" {
		feedback = stringField(obj, "rationale")
	}
	return int(score), truncate(feedback, MaxFeedbackLen), nil
}

// Heuristic scores an answer by case-insensitive containment: 95 when either
// the student or the expected answer contains the other, 10 otherwise. An
// empty answer on either side never matches.
func Heuristic(studentAnswer, expectedAnswer string) int {
	s := strings.ToLower(strings.TrimSpace(studentAnswer))
	e := strings.ToLower(strings.TrimSpace(expectedAnswer))
	if s == "" || e == "" {
		return 10
	}
	if strings.Contains(s, e) || strings.Contains(e, s) {
		return 95
	}
	return 10
}

// Interpret turns model output into a Result, falling back to the heuristic
// when the output cannot be parsed.
func Interpret(text, studentAnswer, expectedAnswer, modelName string) Result {
	score, feedback, err := Parse(text)
	if err != nil {
		return Result{
			Score:    Heuristic(studentAnswer, expectedAnswer),
			Feedback: HeuristicFeedback,
			Model:    modelName,
			Raw:      text,
			Fallback: true,
		}
	}
	return Result{Score: score, Feedback: feedback, Model: modelName, Raw: text}
}

func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
