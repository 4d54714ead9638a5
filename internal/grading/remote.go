package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteClient calls the grading endpoints of a learnlive server, keeping the
// model credentials on that server.
type RemoteClient struct {
	baseURL string
	http    *http.Client
}

// NewRemote returns a client for the server at baseURL.
func NewRemote(baseURL string, httpClient *http.Client) *RemoteClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &RemoteClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// GradeRequest is the body of POST /api/grade.
type GradeRequest struct {
	Question       string `json:"question"`
	ExpectedAnswer string `json:"expectedAnswer"`
	StudentAnswer  string `json:"studentAnswer"`
}

// GradeResponse is the body returned by POST /api/grade.
type GradeResponse struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
	Model     string `json:"model"`
	Raw       string `json:"raw"`
	Fallback  bool   `json:"fallback,omitempty"`
}

// CompareRequest is the body of POST /api/gradeWithGemini.
type CompareRequest struct {
	StudentAnswer string `json:"studentAnswer"`
	CorrectAnswer string `json:"correctAnswer"`
}

// CompareResponse is the body returned by POST /api/gradeWithGemini.
type CompareResponse struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
	Model    string `json:"model"`
	Raw      string `json:"raw"`
	Fallback bool   `json:"fallback,omitempty"`
}

// SimplifyRequest is the body of POST /api/friendlyFeedback.
type SimplifyRequest struct {
	Text string `json:"text"`
}

// SimplifyResponse is the body returned by POST /api/friendlyFeedback.
type SimplifyResponse struct {
	Simplified string `json:"simplified"`
}

// ErrorResponse is the body of every non-2xx endpoint response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (c *RemoteClient) Grade(ctx context.Context, question, expectedAnswer, studentAnswer string) (Result, error) {
	var resp GradeResponse
	err := c.post(ctx, "/api/grade", GradeRequest{
		Question:       question,
		ExpectedAnswer: expectedAnswer,
		StudentAnswer:  studentAnswer,
	}, &resp)
	if err != nil {
		return Result{}, err
	}
	return Result{Score: resp.Score, Feedback: resp.Rationale, Model: resp.Model, Raw: resp.Raw, Fallback: resp.Fallback}, nil
}

func (c *RemoteClient) Compare(ctx context.Context, correctAnswer, studentAnswer string) (Result, error) {
	var resp CompareResponse
	err := c.post(ctx, "/api/gradeWithGemini", CompareRequest{
		StudentAnswer: studentAnswer,
		CorrectAnswer: correctAnswer,
	}, &resp)
	if err != nil {
		return Result{}, err
	}
	return Result{Score: resp.Score, Feedback: resp.Feedback, Model: resp.Model, Raw: resp.Raw, Fallback: resp.Fallback}, nil
}

func (c *RemoteClient) Simplify(ctx context.Context, text string) (string, error) {
	var resp SimplifyResponse
	if err := c.post(ctx, "/api/friendlyFeedback", SimplifyRequest{Text: text}, &resp); err != nil {
		return "", err
	}
	return resp.Simplified, nil
}

func (c *RemoteClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %d %s", path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%s: %s", path, resp.Status)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}
