package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/learnlive/learnlive/internal/grading"
	"github.com/learnlive/learnlive/internal/ratelimit"
)

// Grader is the model client behind the grading endpoints.
type Grader interface {
	Grade(ctx context.Context, question, expectedAnswer, studentAnswer string) (grading.Result, error)
	Compare(ctx context.Context, correctAnswer, studentAnswer string) (grading.Result, error)
	Simplify(ctx context.Context, text string) (string, error)
}

// Config holds HTTP surface settings.
type Config struct {
	// RateLimit is the number of API requests allowed per client per minute. Zero disables limiting.
	RateLimit int
	// MaxAudioBytes bounds uploaded recordings.
	MaxAudioBytes int64
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	grader   Grader
	audio    AudioStore
	sessions Sessions
	cfg      Config
	limiter  *ratelimit.Limiter
}

// New creates a Handler. grader, audio and sessions may be nil; the
// endpoints that need them then report a configuration error.
func New(grader Grader, audio AudioStore, sessions Sessions, cfg Config) *Handler {
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = 20 << 20
	}
	h := &Handler{grader: grader, audio: audio, sessions: sessions, cfg: cfg}
	if cfg.RateLimit > 0 {
		h.limiter = ratelimit.New(cfg.RateLimit, time.Minute)
	}
	return h
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.rateLimit)
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		})
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "Not found")
		})
		r.Post("/grade", h.handleGrade)
		r.Post("/gradeWithGemini", h.handleCompare)
		r.Post("/friendlyFeedback", h.handleFriendly)
		r.With(h.identify).Post("/audio", h.handleAudio)
	})
}

func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	if !h.requireGrader(w) {
		return
	}
	var req grading.GradeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.grader.Grade(r.Context(), req.Question, req.ExpectedAnswer, req.StudentAnswer)
	if err != nil {
		slog.Error("grade call failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Model call failed")
		return
	}
	writeJSON(w, http.StatusOK, grading.GradeResponse{
		Score:     res.Score,
		Rationale: res.Feedback,
		Model:     res.Model,
		Raw:       res.Raw,
		Fallback:  res.Fallback,
	})
}

func (h *Handler) handleCompare(w http.ResponseWriter, r *http.Request) {
	if !h.requireGrader(w) {
		return
	}
	var req grading.CompareRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.grader.Compare(r.Context(), req.CorrectAnswer, req.StudentAnswer)
	if err != nil {
		slog.Error("compare call failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Model request failed")
		return
	}
	writeJSON(w, http.StatusOK, grading.CompareResponse{
		Score:    res.Score,
		Feedback: res.Feedback,
		Model:    res.Model,
		Raw:      res.Raw,
		Fallback: res.Fallback,
	})
}

func (h *Handler) handleFriendly(w http.ResponseWriter, r *http.Request) {
	if !h.requireGrader(w) {
		return
	}
	var req grading.SimplifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := h.grader.Simplify(r.Context(), req.Text)
	if err != nil {
		slog.Error("friendly feedback call failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, grading.SimplifyResponse{Simplified: out})
}

func (h *Handler) requireGrader(w http.ResponseWriter) bool {
	if h.grader == nil {
		writeError(w, http.StatusInternalServerError, "Missing GOOGLE_API_KEY")
		return false
	}
	return true
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeBody reads an optional JSON body into v. An empty body leaves v zero.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "Invalid JSON body")
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, grading.ErrorResponse{Error: msg})
}
