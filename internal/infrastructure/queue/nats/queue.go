package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/evident/internal/core/domain"
	"github.com/kirillkom/evident/internal/infrastructure/resilience"
)

const (
	headerAuditID      = "Evident-Audit-Id"
	headerAuditOutcome = "Evident-Audit-Outcome"
	workerQueueGroup   = "audit-writers"

	drainTimeout      = 30 * time.Second
	drainPollInterval = 50 * time.Millisecond
)

// AuditQueue carries decision traces from the API to the audit worker. The
// API side uses it as an AuditRecorder, the worker side subscribes.
type AuditQueue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string, options Options) (*AuditQueue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("evident"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &AuditQueue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *AuditQueue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Record publishes the trace. It satisfies ports.AuditRecorder.
func (q *AuditQueue) Record(ctx context.Context, record domain.AuditRecord) error {
	msg, err := encodeAuditMessage(q.subject, record)
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(err)
}

// SubscribeAudit blocks until ctx is done, handing each decoded record to
// handler. Undecodable messages are logged and dropped.
func (q *AuditQueue) SubscribeAudit(ctx context.Context, handler func(context.Context, domain.AuditRecord) error) error {
	// Messages delivered while draining still get persisted.
	handlerCtx := context.WithoutCancel(ctx)
	sub, err := q.conn.QueueSubscribe(q.subject, workerQueueGroup, func(msg *nats.Msg) {
		record, err := decodeAuditMessage(msg)
		if err != nil {
			slog.Error("audit_message_invalid", "subject", msg.Subject, "error", err)
			return
		}

		if err := handler(handlerCtx, record); err != nil {
			slog.Error("audit_handler_failed", "audit_id", record.ID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	return drainSubscription(sub, drainTimeout, drainPollInterval)
}

type drainable interface {
	Drain() error
	IsValid() bool
}

// drainSubscription stops delivery and waits until every pending message has
// been handled. Drain itself returns before the handlers finish.
func drainSubscription(sub drainable, timeout, poll time.Duration) error {
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for sub.IsValid() {
		select {
		case <-deadline.C:
			return fmt.Errorf("nats drain subscription: not finished after %s", timeout)
		case <-ticker.C:
		}
	}
	return nil
}

func encodeAuditMessage(subject string, record domain.AuditRecord) (*nats.Msg, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal audit record: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(headerAuditID, record.ID)
	msg.Header.Set(headerAuditOutcome, string(record.Outcome))
	return msg, nil
}

func decodeAuditMessage(msg *nats.Msg) (domain.AuditRecord, error) {
	var record domain.AuditRecord
	if err := json.Unmarshal(msg.Data, &record); err != nil {
		return domain.AuditRecord{}, fmt.Errorf("decode audit record: %w", err)
	}
	if record.ID == "" {
		record.ID = msg.Header.Get(headerAuditID)
	}
	if record.ID == "" {
		return domain.AuditRecord{}, fmt.Errorf("audit record without id")
	}
	return record, nil
}
