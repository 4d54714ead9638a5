// Package prompts renders the grading prompt templates.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

//go:embed templates/*.txt
var templateFS embed.FS

// Template names.
const (
	Grade    = "grade"
	Compare  = "compare"
	Friendly = "friendly"
)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[string]*template.Template
)

// GradeData holds template data for the question/expected/student prompt.
type GradeData struct {
	Question       string
	ExpectedAnswer string
	StudentAnswer  string
}

// CompareData holds template data for the correct/student comparison prompt.
type CompareData struct {
	CorrectAnswer string
	StudentAnswer string
}

// FriendlyData holds template data for the coaching prompt shown to students.
type FriendlyData struct {
	Question      string
	CorrectAnswer string
	StudentAnswer string
	Feedback      string
}

// Load parses the embedded templates. It is safe to call more than once.
func Load() error {
	loadOnce.Do(func() {
		templates = make(map[string]*template.Template)
		for _, name := range []string{Grade, Compare, Friendly} {
			file := "templates/" + name + ".txt"
			content, err := templateFS.ReadFile(file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New(name).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			templates[name] = tmpl
		}
	})
	return loadErr
}

// Build renders the named template with data.
func Build(name string, data any) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}
	tmpl, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// Source returns the raw text of the named template, for cache keys.
func Source(name string) string {
	content, _ := templateFS.ReadFile("templates/" + name + ".txt")
	return string(content)
}
