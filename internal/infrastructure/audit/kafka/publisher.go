// Package kafka publishes audit events for every mutating operation to a
// Kafka topic.  Publishing is best-effort: a failed publish is logged and
// counted, never surfaced to the API caller.
package kafka

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/clinforge/cohortd/internal/config"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/pkg/errors"
)

var ErrPublisherClosed = errors.New(errors.ErrCodeAuditError, "audit publisher closed")

// Event is one audit record.  Key fields identify who did what to which
// entity in which tenant.
type Event struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Actor      string    `json:"actor"`
	Action     Action    `json:"action"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent stamps an audit event with an ID and timestamp.
func NewEvent(tenantID, actor string, action Action, entityKind, entityID, detail string) Event {
	return Event{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Actor:      actor,
		Action:     action,
		EntityKind: entityKind,
		EntityID:   entityID,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher is the audit sink surface used by the application layer.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// writerInterface abstracts kafka.Writer for testing.
type writerInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	writer writerInterface
	logger logging.Logger
	closed atomic.Bool
	failed atomic.Int64
}

// NewPublisher builds a Kafka-backed audit publisher.
func NewPublisher(cfg config.KafkaConfig, log logging.Logger) Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.ProducerRetries,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &kafkaPublisher{
		writer: writer,
		logger: log,
	}
}

// Publish writes one event.  Messages are keyed by tenant so each tenant's
// audit trail stays ordered within a partition.
func (p *kafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode audit event")
	}
	msg := kafka.Message{
		Key:   []byte(ev.TenantID),
		Value: payload,
		Time:  ev.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.failed.Add(1)
		p.logger.Warn("Failed to publish audit event",
			logging.String("action", string(ev.Action)),
			logging.String("entity_id", ev.EntityID),
			logging.Err(err),
		)
		return errors.Wrap(err, errors.ErrCodeAuditError, "failed to publish audit event")
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}

// NopPublisher discards all events; used when audit publishing is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
