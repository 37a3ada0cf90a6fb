package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/evident/internal/config"
	"github.com/kirillkom/evident/internal/core/domain"
	"github.com/kirillkom/evident/internal/core/ports"
	"github.com/kirillkom/evident/internal/core/usecase"
	"github.com/kirillkom/evident/internal/infrastructure/access"
	"github.com/kirillkom/evident/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/evident/internal/infrastructure/queue/nats"
	"github.com/kirillkom/evident/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/evident/internal/infrastructure/resilience"
	"github.com/kirillkom/evident/internal/infrastructure/vector/pgvector"
	"github.com/kirillkom/evident/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/evident/internal/observability/metrics"
)

const dimensionProbeText = "dimension probe"

// App is the API process: the answer pipeline plus the audit read model.
type App struct {
	Config config.Config

	QueryUC     *usecase.QueryUseCase
	AuditReader ports.AuditReader
	Metrics     *metrics.HTTPServerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	httpMetrics := metrics.NewHTTPServerMetrics("evident-api")
	executor := resilience.NewExecutor(cfg.Resilience).WithObserver(httpMetrics)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	auditRepo := postgres.NewAuditRepository(db)
	if err := auditRepo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}

	recorder, closeRecorder, err := newAuditRecorder(cfg, auditRepo, executor)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	ollamaOpts := ollama.DefaultOptions()
	ollamaOpts.QueryPrefix = cfg.EmbedQueryPrefix
	ollamaOpts.PassagePrefix = cfg.EmbedPassagePrefix
	ollamaOpts.Temperature = cfg.LLMTemperature
	ollamaOpts.MaxTokens = cfg.LLMMaxTokens
	ollamaOpts.MaxContextChars = cfg.Pipeline.MaxContextChars
	ollamaOpts.Executor = executor
	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollamaOpts)
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)

	index, err := newVectorIndex(cfg, db, executor)
	if err != nil {
		closeRecorder()
		_ = db.Close()
		return nil, err
	}

	if err := ValidateDimensions(ctx, embedder, index, cfg.Pipeline.EmbeddingDimension); err != nil {
		closeRecorder()
		_ = db.Close()
		return nil, err
	}

	retriever := usecase.NewRetriever(embedder, index, access.NewMissionFilter(cfg.SharedMissions))
	scorer := usecase.NewConfidenceScorer(embedder)
	engine := usecase.NewRefusalEngine()
	queryUC := usecase.NewQueryUseCase(retriever, scorer, engine, generator, recorder, cfg.Pipeline, usecase.QueryOptions{
		AuditRequired: cfg.AuditRequired,
		Observer:      httpMetrics,
	})

	slog.Info("pipeline_ready",
		"vector_backend", cfg.VectorBackend,
		"audit_sink", cfg.AuditSink,
		"embedding_dimension", cfg.Pipeline.EmbeddingDimension,
		"top_k", cfg.Pipeline.TopK,
		"similarity_threshold", cfg.Pipeline.SimilarityThreshold,
		"confidence_threshold", cfg.Pipeline.ConfidenceThreshold,
	)

	return &App{
		Config:      cfg,
		QueryUC:     queryUC,
		AuditReader: auditRepo,
		Metrics:     httpMetrics,
		closeFn: func() {
			closeRecorder()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func newAuditRecorder(cfg config.Config, repo *postgres.AuditRepository, executor *resilience.Executor) (ports.AuditRecorder, func(), error) {
	switch cfg.AuditSink {
	case config.AuditSinkNATS:
		queue, err := nats.New(cfg.NATSURL, cfg.NATSAuditSubject, nats.Options{ResilienceExecutor: executor})
		if err != nil {
			return nil, nil, fmt.Errorf("init audit queue: %w", err)
		}
		return queue, queue.Close, nil
	default:
		return repo, func() {}, nil
	}
}

func newVectorIndex(cfg config.Config, db *sql.DB, executor *resilience.Executor) (ports.VectorIndex, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendPGVector:
		return pgvector.NewIndex(db), nil
	case config.VectorBackendQdrant:
		return qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, cfg.QdrantAPIKey, executor), nil
	default:
		return nil, domain.WrapError(domain.ErrInvalidConfig, "select vector backend", fmt.Errorf("unknown backend %q", cfg.VectorBackend))
	}
}

// ValidateDimensions compares the embedder output size and the index vector
// size against the configured dimension. A mismatch is fatal. An unreachable
// embedder or index is logged and left to the per-query check.
func ValidateDimensions(ctx context.Context, embedder ports.Embedder, index ports.VectorIndex, want int) error {
	probe, err := embedder.EmbedQuery(ctx, dimensionProbeText)
	switch {
	case err != nil:
		slog.Warn("embedding_dimension_probe_failed", "error", err)
	case len(probe) != want:
		return domain.WrapError(domain.ErrDimensionMismatch, "validate embedder",
			fmt.Errorf("embedder returned %d dimensions, configured %d", len(probe), want))
	}

	reporter, ok := index.(ports.DimensionReporter)
	if !ok {
		return nil
	}
	got, err := reporter.VectorDimension(ctx)
	switch {
	case err != nil:
		slog.Warn("index_dimension_probe_failed", "error", err)
	case got != want:
		return domain.WrapError(domain.ErrDimensionMismatch, "validate index",
			fmt.Errorf("index stores %d dimensions, configured %d", got, want))
	}
	return nil
}

// Worker is the audit sink process: it drains the NATS audit subject into Postgres.
type Worker struct {
	Config config.Config

	Queue     *nats.AuditQueue
	Persister *usecase.AuditPersister
	Metrics   *metrics.WorkerMetrics

	closeFn func()
}

func NewWorker(ctx context.Context, cfg config.Config) (*Worker, error) {
	workerMetrics := metrics.NewWorkerMetrics("evident-worker")

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	auditRepo := postgres.NewAuditRepository(db)
	if err := auditRepo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSAuditSubject, nats.Options{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init audit queue: %w", err)
	}

	return &Worker{
		Config:    cfg,
		Queue:     queue,
		Persister: usecase.NewAuditPersister(auditRepo, workerMetrics),
		Metrics:   workerMetrics,
		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (w *Worker) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}
