package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/evident/internal/core/domain"
	"github.com/kirillkom/evident/internal/core/ports"
)

// PersistObserver receives worker-side persistence timings.
type PersistObserver interface {
	StartPersist()
	FinishPersist(duration time.Duration, err error)
	ObserveQueueLag(lag time.Duration)
}

// AuditPersister moves audit records published by the API into durable storage.
type AuditPersister struct {
	store    ports.AuditRecorder
	observer PersistObserver
	now      func() time.Time
}

func NewAuditPersister(store ports.AuditRecorder, observer PersistObserver) *AuditPersister {
	return &AuditPersister{store: store, observer: observer, now: time.Now}
}

func (p *AuditPersister) Persist(ctx context.Context, record domain.AuditRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "persist audit", errors.New("audit record without id"))
	}

	start := p.now()
	if p.observer != nil {
		p.observer.StartPersist()
		if !record.CreatedAt.IsZero() {
			p.observer.ObserveQueueLag(start.Sub(record.CreatedAt))
		}
	}

	err := p.store.Record(ctx, record)
	duration := p.now().Sub(start)
	if p.observer != nil {
		p.observer.FinishPersist(duration, err)
	}
	if err != nil {
		return err
	}

	slog.Info("audit_persisted",
		"audit_id", record.ID,
		"outcome", string(record.Outcome),
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}
