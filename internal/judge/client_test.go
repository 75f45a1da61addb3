package judge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClaudeJudgeSendsImagesAndParsesVerdict(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" {
			t.Errorf("expected api key header, got %q", r.Header.Get("x-api-key"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"ok\":false,\"comment\":\"нет стрелки\"}"}]}`))
	}))
	defer srv.Close()

	c := NewClaudeJudge("k", "claude-test")
	c.endpoint = srv.URL
	ref := PNG([]byte("ref"))
	v, err := c.Judge(context.Background(), Request{Rule: "1.1.7", Prompt: "p", Candidate: PNG([]byte("cand")), Reference: &ref})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Pass || v.Comment != "нет стрелки" {
		t.Errorf("unexpected verdict %+v", v)
	}
	blocks := got.Messages[0].Content
	if len(blocks) != 3 || blocks[1].Type != "image" || blocks[2].Type != "image" {
		t.Fatalf("expected text + 2 images, got %+v", blocks)
	}
	if got.System != SystemPrompt {
		t.Error("expected system prompt to be sent")
	}
}

func TestClaudeJudgeRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	c := NewClaudeJudge("k", "m")
	c.endpoint = srv.URL
	_, err := c.Compare(context.Background(), PNG(nil), PNG(nil))
	var re *RetryableError
	if !errors.As(err, &re) || re.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected retryable 429, got %v", err)
	}
}

func TestOpenAIJudgeCompare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "compare-model") || !strings.Contains(string(body), "data:image/png;base64,") {
			t.Errorf("unexpected request body %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"similar\":false,\"confidence\":0.8}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	j := NewOpenAIJudge("k", srv.URL+"/v1", "judge-model", "compare-model", nil)
	c, err := j.Compare(context.Background(), PNG([]byte("a")), PNG([]byte("b")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Similar || c.Confidence != 0.8 {
		t.Errorf("unexpected comparison %+v", c)
	}
}

func TestOpenAIJudgeServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	j := NewOpenAIJudge("k", srv.URL+"/v1", "judge-model", "", nil)
	_, err := j.Judge(context.Background(), Request{Rule: "1.1.9", Prompt: "p", Candidate: PNG([]byte("x"))})
	var re *RetryableError
	if !errors.As(err, &re) || re.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected retryable 503, got %v", err)
	}
}
