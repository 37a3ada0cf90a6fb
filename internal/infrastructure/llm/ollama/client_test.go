package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/evident/internal/core/domain"
	"github.com/kirillkom/evident/internal/infrastructure/resilience"
)

func testChunks() []domain.RetrievedChunk {
	return []domain.RetrievedChunk{{
		Chunk:      domain.Chunk{ID: "c-1", DocumentID: "doc-1", DocumentTitle: "Pump manual", Text: "chunk text"},
		Similarity: 0.91,
	}}
}

func TestGeneratorBuildsContextPrompt(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"  The pump runs at 3600 rpm.  "}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "gen", "embed", DefaultOptions()))
	out, err := gen.GenerateAnswer(context.Background(), "question?", domain.RetrievalResult{Chunks: testChunks()})
	if err != nil {
		t.Fatalf("GenerateAnswer() error = %v", err)
	}
	if out.CannotAnswer || out.Text != "The pump runs at 3600 rpm." {
		t.Fatalf("unexpected generation %+v", out)
	}

	prompt, _ := payload["prompt"].(string)
	if !strings.Contains(prompt, "question?") || !strings.Contains(prompt, "chunk text") || !strings.Contains(prompt, "Pump manual") {
		t.Fatalf("unexpected prompt: %s", prompt)
	}
	options, _ := payload["options"].(map[string]any)
	if options["temperature"] != 0.1 || options["num_predict"] != float64(500) {
		t.Fatalf("unexpected generation options %v", options)
	}
}

func TestGeneratorReportsCannotAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"NOT_FOUND."}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "gen", "embed", DefaultOptions()))
	out, err := gen.GenerateAnswer(context.Background(), "q", domain.RetrievalResult{Chunks: testChunks()})
	if err != nil {
		t.Fatalf("GenerateAnswer() error = %v", err)
	}
	if !out.CannotAnswer || out.Text != "" {
		t.Fatalf("expected cannot-answer signal, got %+v", out)
	}
}

func TestEmbedderUsesAsymmetricPrefixes(t *testing.T) {
	var inputs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		inputs = append(inputs, payload.Input...)
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", DefaultOptions()))
	vec, err := embedder.EmbedQuery(context.Background(), "pump speed")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3 dimensions, got %d", len(vec))
	}
	if _, err := embedder.EmbedPassage(context.Background(), "the pump runs"); err != nil {
		t.Fatalf("EmbedPassage() error = %v", err)
	}
	if len(inputs) != 2 || inputs[0] != "query: pump speed" || inputs[1] != "passage: the pump runs" {
		t.Fatalf("unexpected embed inputs %v", inputs)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", DefaultOptions()))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected 502 to be marked temporary, got %v", err)
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected HTTPStatusError, got %T", err)
	}
}

func TestEmbedRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[1,0]]}`))
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.Executor = resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
	})
	embedder := NewEmbedder(New(server.URL, "gen", "embed", opts))

	if _, err := embedder.EmbedQuery(context.Background(), "q"); err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
}

func TestEmbedDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.Executor = resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 3, RetryInitialBackoff: time.Millisecond})
	embedder := NewEmbedder(New(server.URL, "gen", "embed", opts))

	_, err := embedder.EmbedQuery(context.Background(), "q")
	if err == nil {
		t.Fatalf("expected error")
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("404 must not be temporary")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retry, got %d calls", calls.Load())
	}
}

func TestBuildAnswerPromptRespectsContextLimit(t *testing.T) {
	chunks := []domain.RetrievedChunk{
		{Chunk: domain.Chunk{DocumentID: "a", Text: strings.Repeat("x", 80)}, Similarity: 0.9},
		{Chunk: domain.Chunk{DocumentID: "b", Text: strings.Repeat("y", 80)}, Similarity: 0.8},
	}
	prompt := buildAnswerPrompt("q", chunks, 100)
	if !strings.Contains(prompt, "document=a") || strings.Contains(prompt, "document=b") {
		t.Fatalf("expected only the first chunk within the limit: %s", prompt)
	}
}
