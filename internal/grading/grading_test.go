package grading

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	calls   atomic.Int32
	reply   string
	status  int
	prompts chan string
}

func (f *fakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
		return
	}
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if f.prompts != nil && len(req.Messages) > 0 {
		f.prompts <- req.Model + "|" + req.Messages[0].Content
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": f.reply},
			"finish_reason": "stop",
		}},
	})
}

func newTestClient(t *testing.T, fake *fakeModel, cache Cache) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		BaseURL:  srv.URL + "/v1",
		APIKey:   "test-key",
		Cache:    cache,
		CacheTTL: time.Minute,
	})
	require.NoError(t, err)
	return c
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestClientGrade(t *testing.T) {
	fake := &fakeModel{
		reply:   "```json\n{\"score\": 100, \"rationale\": \"Correct.\"}\n```",
		prompts: make(chan string, 1),
	}
	c := newTestClient(t, fake, nil)

	r, err := c.Grade(context.Background(), "What is 2+2?", "4", "four")
	require.NoError(t, err)
	require.Equal(t, 100, r.Score)
	require.Equal(t, "Correct.", r.Feedback)
	require.Equal(t, DefaultModel, r.Model)
	require.False(t, r.Fallback)

	sent := <-fake.prompts
	require.True(t, strings.HasPrefix(sent, DefaultModel+"|"))
	require.Contains(t, sent, "Question: What is 2+2?")
	require.Contains(t, sent, "Student answer: four")
}

func TestClientCompareUsesCompareModel(t *testing.T) {
	fake := &fakeModel{reply: `{"score": 150, "feedback": "Great."}`, prompts: make(chan string, 1)}
	c := newTestClient(t, fake, nil)

	r, err := c.Compare(context.Background(), "Paris", "paris")
	require.NoError(t, err)
	require.Equal(t, 100, r.Score)
	require.Equal(t, DefaultCompareModel, r.Model)
	require.True(t, strings.HasPrefix(<-fake.prompts, DefaultCompareModel+"|"))
}

func TestClientGradeFallback(t *testing.T) {
	fake := &fakeModel{reply: "I would give this about ninety."}
	c := newTestClient(t, fake, nil)

	r, err := c.Grade(context.Background(), "Capital of France?", "Paris", "It is paris")
	require.NoError(t, err)
	require.True(t, r.Fallback)
	require.Equal(t, 95, r.Score)
	require.Equal(t, HeuristicFeedback, r.Feedback)
}

func TestClientUpstreamError(t *testing.T) {
	fake := &fakeModel{status: http.StatusInternalServerError}
	c := newTestClient(t, fake, nil)

	_, err := c.Grade(context.Background(), "q", "a", "b")
	require.Error(t, err)
}

func TestClientSimplifyTrims(t *testing.T) {
	fake := &fakeModel{reply: "  Try adding units next time!\n"}
	c := newTestClient(t, fake, nil)

	out, err := c.Simplify(context.Background(), "some prompt")
	require.NoError(t, err)
	require.Equal(t, "Try adding units next time!", out)
}

func TestClientCachesParsedGrades(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	fake := &fakeModel{reply: `{"score": 80, "feedback": "Good."}`}
	c := newTestClient(t, fake, NewRedisCache(client))
	ctx := context.Background()

	first, err := c.Grade(ctx, "q", "a", "b")
	require.NoError(t, err)
	second, err := c.Grade(ctx, "q", "a", "b")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, fake.calls.Load())

	_, err = c.Grade(ctx, "q", "a", "different")
	require.NoError(t, err)
	require.EqualValues(t, 2, fake.calls.Load())
}

func TestClientDoesNotCacheFallbacks(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	fake := &fakeModel{reply: "no json"}
	c := newTestClient(t, fake, NewRedisCache(client))

	for i := 0; i < 2; i++ {
		_, err := c.Grade(context.Background(), "q", "a", "b")
		require.NoError(t, err)
	}
	require.EqualValues(t, 2, fake.calls.Load())
	require.Empty(t, server.Keys())
}

func TestRemoteClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/grade", func(w http.ResponseWriter, r *http.Request) {
		var req GradeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "four", req.StudentAnswer)
		_ = json.NewEncoder(w).Encode(GradeResponse{Score: 100, Rationale: "Correct.", Model: "m"})
	})
	mux.HandleFunc("/api/friendlyFeedback", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "Missing GOOGLE_API_KEY"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewRemote(srv.URL+"/", nil)
	r, err := c.Grade(context.Background(), "What is 2+2?", "4", "four")
	require.NoError(t, err)
	require.Equal(t, Result{Score: 100, Feedback: "Correct.", Model: "m"}, r)

	_, err = c.Simplify(context.Background(), "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Missing GOOGLE_API_KEY")
}
