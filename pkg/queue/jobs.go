package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/redis"
)

// Job types.
const (
	JobTypeEntryBuild            = "entry.build"
	JobTypeEntryDelete           = "entry.delete"
	JobTypeScheduleRelationships = "relationships.schedule"
	JobTypeCreateRelationship    = "relationship.create"
	JobTypeImporterRun           = "importer.run"
	JobTypeExporterRun           = "exporter.run"
)

// EntryBuildJob normalizes and persists one entry.
type EntryBuildJob struct {
	EntryID string `json:"entry_id"`
	RunID   string `json:"run_id"`
}

// EntryDeleteJob removes the target entity for one entry.
type EntryDeleteJob struct {
	EntryID string `json:"entry_id"`
	RunID   string `json:"run_id"`
}

// ScheduleRelationshipsJob defers edge creation until a run's entries settle.
// EdgesEnqueued flips once the per-edge jobs are out; later polls only wait
// for them to drain before finalizing the run.
type ScheduleRelationshipsJob struct {
	ImporterID    string `json:"importer_id"`
	RunID         string `json:"run_id"`
	EdgesEnqueued bool   `json:"edges_enqueued,omitempty"`
}

// CreateRelationshipJob resolves and creates one pending edge.
type CreateRelationshipJob struct {
	PendingRelationshipID string `json:"pending_relationship_id"`
	RunID                 string `json:"run_id"`
}

// ImporterRunJob triggers one full run of an importer.
type ImporterRunJob struct {
	ImporterID  string `json:"importer_id"`
	OnlyUpdates bool   `json:"only_updates,omitempty"`
}

// ExporterRunJob triggers one full run of an exporter.
type ExporterRunJob struct {
	ExporterID string `json:"exporter_id"`
}

// Enqueuer publishes jobs, immediately or after a fixed delay
type Enqueuer struct {
	streams *redis.Streams
	delayed *redis.Delayed
	stream  string
}

// NewEnqueuer creates an enqueuer for the given work stream
func NewEnqueuer(streams *redis.Streams, delayed *redis.Delayed, stream string) *Enqueuer {
	return &Enqueuer{
		streams: streams,
		delayed: delayed,
		stream:  stream,
	}
}

// Enqueue publishes a job for immediate delivery.
func (e *Enqueuer) Enqueue(ctx context.Context, tenantID string, jobType string, payload any) error {
	job, err := newJob(tenantID, jobType, payload, 0)
	if err != nil {
		return err
	}
	_, err = e.streams.Publish(ctx, e.stream, job)
	return err
}

// EnqueueIn schedules a job for delivery after a fixed delay. attempts rides
// in the job so bounded-retry callers can count reschedules.
func (e *Enqueuer) EnqueueIn(ctx context.Context, delay time.Duration, tenantID string, jobType string, payload any, attempts int) error {
	job, err := newJob(tenantID, jobType, payload, attempts)
	if err != nil {
		return err
	}
	return e.delayed.Add(ctx, job, time.Now().Add(delay))
}

func newJob(tenantID string, jobType string, payload any, attempts int) (*redis.JobMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", jobType, err)
	}
	return &redis.JobMessage{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Type:      jobType,
		Payload:   raw,
		CreatedAt: time.Now(),
		Attempts:  attempts,
	}, nil
}
