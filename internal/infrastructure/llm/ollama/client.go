package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/evident/internal/core/domain"
	"github.com/kirillkom/evident/internal/core/ports"
	"github.com/kirillkom/evident/internal/infrastructure/resilience"
)

const (
	DefaultQueryPrefix   = "query: "
	DefaultPassagePrefix = "passage: "
)

type Options struct {
	QueryPrefix     string
	PassagePrefix   string
	Temperature     float64
	MaxTokens       int
	MaxContextChars int
	HTTPTimeout     time.Duration
	Executor        *resilience.Executor
}

func DefaultOptions() Options {
	return Options{
		QueryPrefix:     DefaultQueryPrefix,
		PassagePrefix:   DefaultPassagePrefix,
		Temperature:     0.1,
		MaxTokens:       500,
		MaxContextChars: 12000,
		HTTPTimeout:     120 * time.Second,
	}
}

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
	opts       Options
}

func New(baseURL, genModel, embedModel string, opts Options) *Client {
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
		opts:       opts,
	}
}

// Embedder implements asymmetric embedding: queries and passages get
// different instruction prefixes before reaching the model.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.call(ctx, "embed", func(callCtx context.Context) error {
		return e.client.postJSON(callCtx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed returned %d vectors for %d inputs", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embedOne(ctx, e.client.opts.QueryPrefix+text)
}

func (e *Embedder) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	return e.embedOne(ctx, e.client.opts.PassagePrefix+text)
}

func (e *Embedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

// GenerateAnswer asks the model for an answer restricted to evidence. A reply
// of cannotAnswerMarker is reported as CannotAnswer rather than as text.
func (g *Generator) GenerateAnswer(ctx context.Context, question string, evidence domain.RetrievalResult) (ports.Generation, error) {
	prompt := buildAnswerPrompt(question, evidence.Chunks, g.client.opts.MaxContextChars)
	text, err := g.client.generateText(ctx, prompt)
	if err != nil {
		return ports.Generation{}, err
	}
	if isCannotAnswer(text) {
		return ports.Generation{CannotAnswer: true}, nil
	}
	return ports.Generation{Text: text}, nil
}

func (c *Client) generateText(ctx context.Context, prompt string) (string, error) {
	options := map[string]any{
		"temperature": c.opts.Temperature,
	}
	if c.opts.MaxTokens > 0 {
		options["num_predict"] = c.opts.MaxTokens
	}
	reqBody := map[string]any{
		"model":   c.genModel,
		"prompt":  prompt,
		"stream":  false,
		"options": options,
	}

	var response struct {
		Response string `json:"response"`
	}
	err := c.call(ctx, "generate", func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/api/generate", reqBody, &response, "generate")
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return wrapTemporaryIfNeeded("ollama."+operation, fn(ctx))
	}
	err := c.executor.Execute(ctx, "ollama."+operation, fn, classifyOllamaError)
	return wrapTemporaryIfNeeded("ollama."+operation, err)
}
