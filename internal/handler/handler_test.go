package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/learnlive/learnlive/internal/grading"
	"github.com/learnlive/learnlive/internal/model"
)

type fakeGrader struct {
	result     grading.Result
	err        error
	simplified string
	gotArgs    []string
}

func (f *fakeGrader) Grade(ctx context.Context, question, expectedAnswer, studentAnswer string) (grading.Result, error) {
	f.gotArgs = []string{question, expectedAnswer, studentAnswer}
	return f.result, f.err
}

func (f *fakeGrader) Compare(ctx context.Context, correctAnswer, studentAnswer string) (grading.Result, error) {
	f.gotArgs = []string{correctAnswer, studentAnswer}
	return f.result, f.err
}

func (f *fakeGrader) Simplify(ctx context.Context, text string) (string, error) {
	f.gotArgs = []string{text}
	return f.simplified, f.err
}

func newTestServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestGradeEndpoint(t *testing.T) {
	g := &fakeGrader{result: grading.Result{Score: 100, Feedback: "Correct.", Model: "m", Raw: `{"score":100}`}}
	srv := newTestServer(t, New(g, nil, nil, Config{}))

	resp, out := postJSON(t, srv.URL+"/api/grade", `{"question":"What is 2+2?","expectedAnswer":"4","studentAnswer":"four"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.EqualValues(t, 100, out["score"])
	require.Equal(t, "Correct.", out["rationale"])
	require.Equal(t, "m", out["model"])
	require.NotContains(t, out, "fallback")
	require.Equal(t, []string{"What is 2+2?", "4", "four"}, g.gotArgs)
}

func TestGradeEndpointReportsFallback(t *testing.T) {
	g := &fakeGrader{result: grading.Result{Score: 10, Feedback: grading.HeuristicFeedback, Fallback: true}}
	srv := newTestServer(t, New(g, nil, nil, Config{}))

	_, out := postJSON(t, srv.URL+"/api/grade", `{}`)
	require.Equal(t, true, out["fallback"])
	require.Equal(t, []string{"", "", ""}, g.gotArgs)
}

func TestCompareEndpoint(t *testing.T) {
	g := &fakeGrader{result: grading.Result{Score: 88, Feedback: "Close.", Model: "gemini-1.5-flash", Raw: "raw"}}
	srv := newTestServer(t, New(g, nil, nil, Config{}))

	resp, out := postJSON(t, srv.URL+"/api/gradeWithGemini", `{"studentAnswer":"paris","correctAnswer":"Paris"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 88, out["score"])
	require.Equal(t, "Close.", out["feedback"])
	require.Equal(t, "raw", out["raw"])
	require.Equal(t, []string{"Paris", "paris"}, g.gotArgs)
}

func TestFriendlyEndpoint(t *testing.T) {
	g := &fakeGrader{simplified: "Great try!"}
	srv := newTestServer(t, New(g, nil, nil, Config{}))

	_, out := postJSON(t, srv.URL+"/api/friendlyFeedback", `{"text":"explain"}`)
	require.Equal(t, map[string]any{"simplified": "Great try!"}, out)

	// An empty body is treated as an empty request.
	resp, err := http.Post(srv.URL+"/api/friendlyFeedback", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{""}, g.gotArgs)
}

func TestEndpointErrors(t *testing.T) {
	failing := New(&fakeGrader{err: errors.New("upstream down")}, nil, nil, Config{})
	unconfigured := New(nil, nil, nil, Config{})

	tests := []struct {
		name    string
		h       *Handler
		method  string
		path    string
		body    string
		status  int
		message string
	}{
		{"get grade", unconfigured, http.MethodGet, "/api/grade", "", http.StatusMethodNotAllowed, "Method not allowed"},
		{"put compare", failing, http.MethodPut, "/api/gradeWithGemini", "{}", http.StatusMethodNotAllowed, "Method not allowed"},
		{"get friendly", failing, http.MethodGet, "/api/friendlyFeedback", "", http.StatusMethodNotAllowed, "Method not allowed"},
		{"missing key grade", unconfigured, http.MethodPost, "/api/grade", "{}", http.StatusInternalServerError, "Missing GOOGLE_API_KEY"},
		{"missing key compare", unconfigured, http.MethodPost, "/api/gradeWithGemini", "{}", http.StatusInternalServerError, "Missing GOOGLE_API_KEY"},
		{"missing key friendly", unconfigured, http.MethodPost, "/api/friendlyFeedback", "{}", http.StatusInternalServerError, "Missing GOOGLE_API_KEY"},
		{"upstream failure", failing, http.MethodPost, "/api/grade", "{}", http.StatusInternalServerError, "Model call failed"},
		{"friendly failure", failing, http.MethodPost, "/api/friendlyFeedback", "{}", http.StatusInternalServerError, "upstream down"},
		{"bad json", failing, http.MethodPost, "/api/grade", "{nope", http.StatusBadRequest, "Invalid JSON body"},
		{"unknown route", failing, http.MethodPost, "/api/nope", "{}", http.StatusNotFound, "Not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			tt.h.Routes(r)
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			var out grading.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
			require.Equal(t, tt.message, out.Error)
		})
	}
}

func TestRateLimit(t *testing.T) {
	h := New(&fakeGrader{}, nil, nil, Config{RateLimit: 2})
	r := chi.NewRouter()
	h.Routes(r)

	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/grade", strings.NewReader("{}"))
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodPost, "/api/grade", strings.NewReader("{}"))
	req.RemoteAddr = "10.0.0.2:5000"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

type fakeSessions struct{}

func (fakeSessions) GetAuthSession(token string) (*model.AuthSession, error) {
	if token != "good" {
		return nil, nil
	}
	return &model.AuthSession{ID: token, UserID: "u1"}, nil
}

func (fakeSessions) GetUserByID(id string) (*model.User, error) {
	return &model.User{ID: id, Email: "student@example.com"}, nil
}

type fakeAudio struct {
	name        string
	contentType string
	data        []byte
}

func (f *fakeAudio) Upload(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error) {
	f.name, f.contentType = name, contentType
	f.data, _ = io.ReadAll(r)
	return "https://files.example.com/" + name, nil
}

func audioRequest(t *testing.T, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "answer.webm")
	require.NoError(t, err)
	_, _ = part.Write([]byte("OggS-data"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAudioUpload(t *testing.T) {
	store := &fakeAudio{}
	r := chi.NewRouter()
	New(nil, store, fakeSessions{}, Config{}).Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, audioRequest(t, "good"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out AudioResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, strings.HasPrefix(store.name, "answers/u1/"), store.name)
	require.Equal(t, "https://files.example.com/"+store.name, out.URL)
	require.Equal(t, []byte("OggS-data"), store.data)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, audioRequest(t, "bad"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, audioRequest(t, ""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAudioUploadUnconfigured(t *testing.T) {
	r := chi.NewRouter()
	New(nil, nil, fakeSessions{}, Config{}).Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, audioRequest(t, "good"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
