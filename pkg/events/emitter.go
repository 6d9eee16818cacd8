// Package events handles event emission for ingest lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter publishes ingest lifecycle events. A nil Emitter is safe to call:
// event emission is disabled when Kafka is not configured.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitEntryCompleted emits an event after an entry is built and persisted
func (e *Emitter) EmitEntryCompleted(ctx context.Context, entry *models.Entry, runID string) error {
	if e == nil {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEntryCompleted")
	defer span.End()

	entityID := ""
	if entry.EntityID != nil {
		entityID = *entry.EntityID
	}

	event := &kafka.EntryEvent{
		EventType:  "entry.completed",
		TenantID:   entry.TenantID,
		EntryID:    entry.ID,
		RunID:      runID,
		Identifier: entry.Identifier,
		EntityID:   entityID,
		Class:      entry.TargetClass,
	}

	if err := e.producer.PublishEntryEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entry.completed event")
		return err
	}

	return nil
}

// EmitEntryFailed emits an event after an entry build attempt fails
func (e *Emitter) EmitEntryFailed(ctx context.Context, entry *models.Entry, runID string, cause error) error {
	if e == nil {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEntryFailed")
	defer span.End()

	detail, _ := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"error":          cause.Error(),
		"attempts":       entry.ImportAttempts,
	})

	event := &kafka.EntryEvent{
		EventType:  "entry.failed",
		TenantID:   entry.TenantID,
		EntryID:    entry.ID,
		RunID:      runID,
		Identifier: entry.Identifier,
		Detail:     detail,
	}

	if err := e.producer.PublishEntryEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entry.failed event")
		return err
	}

	return nil
}

// EmitEntryDeleted emits an event after an entry's entity is removed
func (e *Emitter) EmitEntryDeleted(ctx context.Context, entry *models.Entry, runID string) error {
	if e == nil {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEntryDeleted")
	defer span.End()

	event := &kafka.EntryEvent{
		EventType:  "entry.deleted",
		TenantID:   entry.TenantID,
		EntryID:    entry.ID,
		RunID:      runID,
		Identifier: entry.Identifier,
	}

	if err := e.producer.PublishEntryEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entry.deleted event")
		return err
	}

	return nil
}

// EmitRunStarted emits an event when an importer or exporter run begins
func (e *Emitter) EmitRunStarted(ctx context.Context, tenantID, runID, ownerType, ownerID string) error {
	if e == nil {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitRunStarted")
	defer span.End()

	event := &kafka.RunEvent{
		EventType: "run.started",
		TenantID:  tenantID,
		RunID:     runID,
		OwnerType: ownerType,
		OwnerID:   ownerID,
	}

	if err := e.producer.PublishRunEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit run.started event")
		return err
	}

	return nil
}

// EmitRunCompleted emits an event with the run's derived status once its
// enqueued work has drained
func (e *Emitter) EmitRunCompleted(ctx context.Context, tenantID, runID, ownerType, ownerID, status string) error {
	if e == nil {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitRunCompleted")
	defer span.End()

	event := &kafka.RunEvent{
		EventType: "run.completed",
		TenantID:  tenantID,
		RunID:     runID,
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Status:    status,
	}

	if err := e.producer.PublishRunEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit run.completed event")
		return err
	}

	return nil
}

// EmitRelationshipCreated emits an event after an edge is written to the graph
func (e *Emitter) EmitRelationshipCreated(ctx context.Context, rel *models.PendingRelationship) error {
	if e == nil {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitRelationshipCreated")
	defer span.End()

	event := &kafka.RelationshipEvent{
		EventType:        "relationship.created",
		TenantID:         rel.TenantID,
		RelationshipID:   rel.ID,
		RunID:            rel.ImporterRunID,
		ParentIdentifier: rel.ParentIdentifier,
		ChildIdentifier:  rel.ChildIdentifier,
	}

	if err := e.producer.PublishRelationshipEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit relationship.created event")
		return err
	}

	return nil
}

// EmitRelationshipFailed emits an event after an edge fails terminally
func (e *Emitter) EmitRelationshipFailed(ctx context.Context, rel *models.PendingRelationship, detail string) error {
	if e == nil {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitRelationshipFailed")
	defer span.End()

	event := &kafka.RelationshipEvent{
		EventType:        "relationship.failed",
		TenantID:         rel.TenantID,
		RelationshipID:   rel.ID,
		RunID:            rel.ImporterRunID,
		ParentIdentifier: rel.ParentIdentifier,
		ChildIdentifier:  rel.ChildIdentifier,
		Detail:           detail,
	}

	if err := e.producer.PublishRelationshipEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit relationship.failed event")
		return err
	}

	return nil
}
