// Package grading asks a generative model to score short answers and parses
// its untrusted output into a bounded score and feedback.
package grading

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/learnlive/learnlive/internal/grading/prompts"
)

// Defaults for the model client.
const (
	DefaultBaseURL      = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel        = "gemini-2.5-flash"
	DefaultCompareModel = "gemini-1.5-flash"
)

// ErrMissingCredentials is returned when no API key is configured.
var ErrMissingCredentials = errors.New("missing GOOGLE_API_KEY")

var (
	modelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "learnlive",
		Subsystem: "grading",
		Name:      "model_call_duration_seconds",
		Help:      "Duration of generative model calls",
	}, []string{"model", "prompt"})

	modelFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnlive",
		Subsystem: "grading",
		Name:      "model_call_failures_total",
		Help:      "Number of failed generative model calls",
	}, []string{"model", "prompt"})

	fallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "learnlive",
		Subsystem: "grading",
		Name:      "heuristic_fallbacks_total",
		Help:      "Number of model responses that could not be parsed",
	}, []string{"model"})
)

// Result is a parsed grade.
type Result struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
	Model    string `json:"model"`
	Raw      string `json:"raw"`
	Fallback bool   `json:"fallback"`
}

// Config configures a Client.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	CompareModel string
	Temperature  float32
	Cache        Cache
	CacheTTL     time.Duration
}

// Client talks to an OpenAI-compatible chat completion API.
type Client struct {
	api    *openai.Client
	cfg    Config
	tracer trace.Tracer
}

// New creates a model client. It fails with ErrMissingCredentials when
// cfg.APIKey is empty.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.CompareModel == "" {
		cfg.CompareModel = DefaultCompareModel
	}
	if err := prompts.Load(); err != nil {
		return nil, err
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL
	return &Client{
		api:    openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/learnlive/learnlive/internal/grading"),
	}, nil
}

// Grade scores studentAnswer against the question and its expected answer.
// Unparsable model output yields a heuristic Result with Fallback set.
func (c *Client) Grade(ctx context.Context, question, expectedAnswer, studentAnswer string) (Result, error) {
	prompt, err := prompts.Build(prompts.Grade, prompts.GradeData{
		Question:       question,
		ExpectedAnswer: expectedAnswer,
		StudentAnswer:  studentAnswer,
	})
	if err != nil {
		return Result{}, err
	}
	return c.score(ctx, prompts.Grade, c.cfg.Model, prompt, studentAnswer, expectedAnswer)
}

// Compare scores studentAnswer against correctAnswer alone.
func (c *Client) Compare(ctx context.Context, correctAnswer, studentAnswer string) (Result, error) {
	prompt, err := prompts.Build(prompts.Compare, prompts.CompareData{
		CorrectAnswer: correctAnswer,
		StudentAnswer: studentAnswer,
	})
	if err != nil {
		return Result{}, err
	}
	return c.score(ctx, prompts.Compare, c.cfg.CompareModel, prompt, studentAnswer, correctAnswer)
}

// Simplify returns the model's trimmed completion of text.
func (c *Client) Simplify(ctx context.Context, text string) (string, error) {
	out, err := c.complete(ctx, "friendly", c.cfg.Model, text, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) score(ctx context.Context, name, modelName, prompt, studentAnswer, expectedAnswer string) (Result, error) {
	key := cacheKey(prompts.Source(name), modelName, prompt)
	if c.cfg.Cache != nil {
		if r, ok, err := c.cfg.Cache.Get(ctx, key); err != nil {
			slog.Warn("failed to read grade cache", "error", err)
		} else if ok {
			slog.Debug("grade cache hit", "prompt", name)
			return r, nil
		}
	}

	text, err := c.complete(ctx, name, modelName, prompt, true)
	if err != nil {
		return Result{}, err
	}
	r := Interpret(text, studentAnswer, expectedAnswer, modelName)
	if r.Fallback {
		fallbacks.WithLabelValues(modelName).Inc()
		slog.Warn("model response not parseable, using heuristic", "model", modelName, "raw", text)
		return r, nil
	}

	if c.cfg.Cache != nil {
		if err := c.cfg.Cache.Set(ctx, key, r, c.cfg.CacheTTL); err != nil {
			slog.Warn("failed to store grade cache", "error", err)
		}
	}
	return r, nil
}

func (c *Client) complete(parent context.Context, name, modelName, prompt string, jsonReply bool) (string, error) {
	ctx, span := c.tracer.Start(parent, "grading."+name, trace.WithAttributes(
		attribute.String("model", modelName),
	))
	defer span.End()

	req := openai.ChatCompletionRequest{
		Model:       modelName,
		Temperature: c.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if jsonReply {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	modelDuration.WithLabelValues(modelName, name).Observe(time.Since(start).Seconds())
	if err == nil && len(resp.Choices) == 0 {
		err = errors.New("model returned no choices")
	}
	if err != nil {
		modelFailures.WithLabelValues(modelName, name).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("model call: %w", err)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("model response", "prompt", name, "raw", raw)
	return raw, nil
}

func cacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return "grade:" + hex.EncodeToString(h.Sum(nil))
}
