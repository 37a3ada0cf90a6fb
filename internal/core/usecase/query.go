package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/evident/internal/core/domain"
	"github.com/kirillkom/evident/internal/core/ports"
)

const auditWriteTimeout = 5 * time.Second

type QueryOptions struct {
	// AuditRequired turns a failed audit write for a decided query into
	// ErrPipelineUnavailable instead of a logged warning.
	AuditRequired bool
	Observer      ports.StageObserver
}

// QueryUseCase runs retrieve → generate → score → decide for one query and
// hands the decision trace to the audit recorder.
type QueryUseCase struct {
	retriever *Retriever
	scorer    *ConfidenceScorer
	engine    *RefusalEngine
	generator ports.AnswerGenerator
	audit     ports.AuditRecorder
	settings  domain.PipelineSettings
	options   QueryOptions
	now       func() time.Time
}

func NewQueryUseCase(
	retriever *Retriever,
	scorer *ConfidenceScorer,
	engine *RefusalEngine,
	generator ports.AnswerGenerator,
	audit ports.AuditRecorder,
	settings domain.PipelineSettings,
	options QueryOptions,
) *QueryUseCase {
	return &QueryUseCase{
		retriever: retriever,
		scorer:    scorer,
		engine:    engine,
		generator: generator,
		audit:     audit,
		settings:  settings,
		options:   options,
		now:       time.Now,
	}
}

func (uc *QueryUseCase) Settings() domain.PipelineSettings {
	return uc.settings
}

func (uc *QueryUseCase) Query(ctx context.Context, req ports.QueryRequest) (*domain.QueryResult, error) {
	start := uc.now()
	settings := uc.settings

	k := req.TopK
	if k <= 0 {
		k = settings.TopK
	}
	if k > settings.MaxTopK {
		k = settings.MaxTopK
	}

	trace := domain.AuditRecord{
		ID:          uuid.NewString(),
		PrincipalID: req.Principal.ID,
		Role:        req.Principal.Role,
		QueryText:   NormalizeQuery(req.Query),
		Retrieved:   []domain.AuditRetrieval{},
		Breakdown:   domain.ZeroBreakdown(settings.Weights),
		Sources:     []domain.Source{},
		CreatedAt:   start.UTC(),
	}

	stageStart := uc.now()
	evidence, err := uc.retriever.Retrieve(ctx, RetrievalRequest{
		Query:               req.Query,
		Principal:           req.Principal,
		K:                   k,
		SimilarityThreshold: settings.SimilarityThreshold,
	}, settings)
	uc.observe("retrieve", stageStart)
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) {
			return nil, err
		}
		return nil, uc.fail(ctx, trace, start, err)
	}
	trace.Retrieved = domain.AuditRetrievals(evidence)

	input := DecisionInput{
		Evidence: evidence,
		Score:    domain.ZeroBreakdown(settings.Weights),
		Settings: settings,
	}

	// Generation only ever sees ranked, access-filtered evidence.
	if !evidence.Empty() {
		stageStart = uc.now()
		genCtx, cancel := withStageTimeout(ctx, settings.GenerateTimeout)
		generation, err := uc.generator.GenerateAnswer(genCtx, evidence.Query, evidence)
		cancel()
		uc.observe("generate", stageStart)
		if err != nil {
			return nil, uc.fail(ctx, trace, start, collaboratorFailure("generate answer", err))
		}
		input.Answer = generation.Text
		input.CannotAnswer = generation.CannotAnswer

		if !generation.CannotAnswer {
			stageStart = uc.now()
			breakdown, err := uc.scorer.Score(ctx, generation.Text, evidence, settings)
			uc.observe("score", stageStart)
			if err != nil {
				return nil, uc.fail(ctx, trace, start, err)
			}
			input.Score = breakdown
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, uc.fail(ctx, trace, start, err)
	}

	stageStart = uc.now()
	result := uc.engine.Decide(input)
	uc.observe("decide", stageStart)

	trace.Breakdown = input.Score
	if result.Refused() {
		trace.Outcome = domain.AuditRefused
		trace.RefusalReason = result.Refusal.Reason
		trace.Message = result.Refusal.Message
	} else {
		answer := result.Answer
		confidence := result.Confidence
		trace.Outcome = domain.AuditAccepted
		trace.Answer = &answer
		trace.Confidence = &confidence
		trace.Sources = result.Sources
	}
	trace.ResponseTimeMS = uc.now().Sub(start).Milliseconds()

	if err := uc.record(ctx, trace); err != nil && uc.options.AuditRequired {
		return nil, domain.WrapError(domain.ErrPipelineUnavailable, "record audit", err)
	}

	slog.Info("evidence_query_decided",
		"audit_id", trace.ID,
		"principal_id", trace.PrincipalID,
		"outcome", string(trace.Outcome),
		"refusal_reason", string(trace.RefusalReason),
		"confidence", result.Confidence,
		"evidence", len(evidence.Chunks),
		"latency_ms", trace.ResponseTimeMS,
	)
	return &result, nil
}

// fail audits an aborted invocation. A cancelled caller is tagged cancelled so
// no record ever claims success for it.
func (uc *QueryUseCase) fail(ctx context.Context, trace domain.AuditRecord, start time.Time, err error) error {
	trace.Outcome = domain.AuditFailed
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		trace.Outcome = domain.AuditCancelled
	}
	trace.Error = err.Error()
	trace.ResponseTimeMS = uc.now().Sub(start).Milliseconds()
	_ = uc.record(ctx, trace)

	slog.Warn("evidence_query_aborted",
		"audit_id", trace.ID,
		"principal_id", trace.PrincipalID,
		"outcome", string(trace.Outcome),
		"error", err,
	)
	if trace.Outcome == domain.AuditCancelled && ctx.Err() != nil {
		return fmt.Errorf("evidence query: %w", ctx.Err())
	}
	return err
}

func (uc *QueryUseCase) record(ctx context.Context, trace domain.AuditRecord) error {
	if uc.audit == nil {
		return nil
	}
	stageStart := uc.now()
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	err := uc.audit.Record(auditCtx, trace)
	uc.observe("audit", stageStart)
	if err != nil {
		slog.Error("audit_record_failed", "audit_id", trace.ID, "outcome", string(trace.Outcome), "error", err)
	}
	return err
}

func (uc *QueryUseCase) observe(stage string, start time.Time) {
	if uc.options.Observer == nil {
		return
	}
	uc.options.Observer.ObserveStage(stage, uc.now().Sub(start))
}
