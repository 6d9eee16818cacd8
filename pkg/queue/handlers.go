package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Ramsey-B/fern/pkg/redis"
)

// BuildService handles entry build and delete jobs.
type BuildService interface {
	Build(ctx context.Context, tenantID, entryID, runID string) error
	Delete(ctx context.Context, tenantID, entryID, runID string) error
}

// ResolverService handles relationship jobs.
type ResolverService interface {
	CreateRelationship(ctx context.Context, tenantID, relationshipID string) error
	ScheduleRelationships(ctx context.Context, tenantID string, job ScheduleRelationshipsJob) error
}

// RunnerService handles importer and exporter run jobs.
type RunnerService interface {
	RunImporter(ctx context.Context, tenantID, importerID string, onlyUpdates bool) error
	RunExporter(ctx context.Context, tenantID, exporterID string) error
}

// RegisterHandlers binds every job type to its service method. Payloads that
// fail to decode are returned as errors; after the queue retries drain they
// land in the dead stream.
func RegisterHandlers(p *Processor, builds BuildService, resolver ResolverService, runner RunnerService) error {
	register := map[string]Handler{
		JobTypeEntryBuild: func(ctx context.Context, job *redis.JobMessage) error {
			var payload EntryBuildJob
			if err := decodePayload(job, &payload); err != nil {
				return err
			}
			return builds.Build(ctx, job.TenantID, payload.EntryID, payload.RunID)
		},
		JobTypeEntryDelete: func(ctx context.Context, job *redis.JobMessage) error {
			var payload EntryDeleteJob
			if err := decodePayload(job, &payload); err != nil {
				return err
			}
			return builds.Delete(ctx, job.TenantID, payload.EntryID, payload.RunID)
		},
		JobTypeCreateRelationship: func(ctx context.Context, job *redis.JobMessage) error {
			var payload CreateRelationshipJob
			if err := decodePayload(job, &payload); err != nil {
				return err
			}
			return resolver.CreateRelationship(ctx, job.TenantID, payload.PendingRelationshipID)
		},
		JobTypeScheduleRelationships: func(ctx context.Context, job *redis.JobMessage) error {
			var payload ScheduleRelationshipsJob
			if err := decodePayload(job, &payload); err != nil {
				return err
			}
			return resolver.ScheduleRelationships(ctx, job.TenantID, payload)
		},
		JobTypeImporterRun: func(ctx context.Context, job *redis.JobMessage) error {
			var payload ImporterRunJob
			if err := decodePayload(job, &payload); err != nil {
				return err
			}
			return runner.RunImporter(ctx, job.TenantID, payload.ImporterID, payload.OnlyUpdates)
		},
		JobTypeExporterRun: func(ctx context.Context, job *redis.JobMessage) error {
			var payload ExporterRunJob
			if err := decodePayload(job, &payload); err != nil {
				return err
			}
			return runner.RunExporter(ctx, job.TenantID, payload.ExporterID)
		},
	}

	for jobType, handler := range register {
		if err := p.RegisterHandler(jobType, handler); err != nil {
			return err
		}
	}
	return nil
}

func decodePayload(job *redis.JobMessage, out any) error {
	if err := json.Unmarshal(job.Payload, out); err != nil {
		return fmt.Errorf("invalid %s payload: %w", job.Type, err)
	}
	return nil
}
