// Package runner orchestrates importer and exporter runs: walk the source,
// stage entries, enqueue build work, and hand the run off to relationship
// scheduling.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"

	"github.com/Ramsey-B/fern/internal/repositories/entry"
	"github.com/Ramsey-B/fern/internal/repositories/exporter"
	"github.com/Ramsey-B/fern/internal/repositories/importer"
	"github.com/Ramsey-B/fern/internal/repositories/run"
	"github.com/Ramsey-B/fern/internal/repositories/status"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/readers"
)

// Config holds runner behavior
type Config struct {
	// IncrementalEnabled lets importer.run jobs skip entries whose raw
	// metadata is unchanged since the previous run.
	IncrementalEnabled bool
}

// Service runs importers and exporters
type Service struct {
	importers   *importer.Repository
	exporters   *exporter.Repository
	runs        *run.Repository
	entries     *entry.Repository
	statuses    *status.Repository
	registry    *readers.Registry
	resources   *graph.ResourceService
	memberships *graph.MembershipService
	enqueuer    *queue.Enqueuer
	emitter     *events.Emitter
	config      Config
	logger      ectologger.Logger
}

// NewService creates a new runner service
func NewService(
	importers *importer.Repository,
	exporters *exporter.Repository,
	runs *run.Repository,
	entries *entry.Repository,
	statuses *status.Repository,
	registry *readers.Registry,
	resources *graph.ResourceService,
	memberships *graph.MembershipService,
	enqueuer *queue.Enqueuer,
	emitter *events.Emitter,
	config Config,
	logger ectologger.Logger,
) *Service {
	return &Service{
		importers:   importers,
		exporters:   exporters,
		runs:        runs,
		entries:     entries,
		statuses:    statuses,
		registry:    registry,
		resources:   resources,
		memberships: memberships,
		enqueuer:    enqueuer,
		emitter:     emitter,
		config:      config,
		logger:      logger,
	}
}

// RunImporter executes one importer run: upsert an entry per source record,
// enqueue its build, then schedule relationship resolution. Failures before
// the walk starts are returned for retry; failures mid-walk are recorded on
// the run and swallowed so a retry cannot double-enqueue the whole source.
func (s *Service) RunImporter(ctx context.Context, tenantID, importerID string, onlyUpdates bool) error {
	ctx, span := tracing.StartSpan(ctx, "runner.Service.RunImporter")
	defer span.End()

	imp, err := s.importers.Get(ctx, tenantID, importerID)
	if err != nil {
		return err
	}

	reader, err := s.registry.New(imp.ReaderFormat, imp.ReaderConfig)
	if err != nil {
		return err
	}

	runRow, err := s.runs.CreateImporterRun(ctx, tenantID, imp.ID)
	if err != nil {
		return err
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"importer_id": imp.ID,
		"run_id":      runRow.ID,
	})

	if err := s.emitter.EmitRunStarted(ctx, tenantID, runRow.ID, models.OwnerTypeImporter, imp.ID); err != nil {
		log.WithError(err).Warn("Run started but event emission failed")
	}

	incremental := onlyUpdates && s.config.IncrementalEnabled
	runStart := time.Now().UTC()

	if err := s.walkSource(ctx, tenantID, imp, runRow.ID, reader, incremental, log); err != nil {
		s.failRun(ctx, tenantID, runRow.ID, imp.ID, err, log)
		return nil
	}

	if !incremental {
		if err := s.enqueueStaleDeletes(ctx, tenantID, imp.ID, runRow.ID, runStart); err != nil {
			s.failRun(ctx, tenantID, runRow.ID, imp.ID, err, log)
			return nil
		}
	}

	err = s.enqueuer.Enqueue(ctx, tenantID, queue.JobTypeScheduleRelationships, queue.ScheduleRelationshipsJob{
		ImporterID: imp.ID,
		RunID:      runRow.ID,
	})
	if err != nil {
		s.failRun(ctx, tenantID, runRow.ID, imp.ID, err, log)
		return nil
	}

	log.Info("Importer run enqueued")
	return nil
}

func (s *Service) walkSource(ctx context.Context, tenantID string, imp *models.Importer, runID string, reader readers.Reader, incremental bool, log ectologger.Logger) error {
	it, err := reader.Records(ctx)
	if err != nil {
		return err
	}
	defer it.Close()

	index := 0
	for {
		if imp.Limit > 0 && index >= imp.Limit {
			break
		}

		rec, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if rec.Identifier == "" {
			log.Warn("Skipping record without a source identifier")
			adjErr := s.runs.Adjust(ctx, tenantID, run.KindImporter, runID, []models.CounterDelta{
				{Column: run.ColInvalidRecs, Delta: 1},
			})
			if adjErr != nil {
				return adjErr
			}
			continue
		}

		raw, err := json.Marshal(rec.Fields)
		if err != nil {
			return err
		}

		res, err := s.entries.Upsert(ctx, tenantID, models.CreateEntryRequest{
			OwnerType:   models.OwnerTypeImporter,
			OwnerID:     imp.ID,
			Identifier:  rec.Identifier,
			RawMetadata: raw,
		})
		if err != nil {
			return err
		}

		if incremental && !res.IsChanged {
			continue
		}

		err = s.runs.IncrementCounters(ctx, tenantID, run.KindImporter, runID, index, reader.Total(), imp.Limit)
		if err != nil {
			return err
		}

		err = s.enqueuer.Enqueue(ctx, tenantID, queue.JobTypeEntryBuild, queue.EntryBuildJob{
			EntryID: res.Entry.ID,
			RunID:   runID,
		})
		if err != nil {
			return err
		}

		index++
	}

	log.WithFields(map[string]any{"enqueued": index}).Info("Walked import source")
	return nil
}

// enqueueStaleDeletes removes records that disappeared from the source: any
// live entry the walk did not touch gets a delete job. Deletes count into
// total and enqueued so the run drains correctly.
func (s *Service) enqueueStaleDeletes(ctx context.Context, tenantID, importerID, runID string, runStart time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "runner.Service.enqueueStaleDeletes")
	defer span.End()

	stale, err := s.entries.ListStale(ctx, tenantID, models.OwnerTypeImporter, importerID, runStart)
	if err != nil {
		return err
	}

	for _, e := range stale {
		err = s.runs.Adjust(ctx, tenantID, run.KindImporter, runID, []models.CounterDelta{
			{Column: run.ColTotal, Delta: 1},
			{Column: run.ColEnqueued, Delta: 1},
		})
		if err != nil {
			return err
		}
		err = s.enqueuer.Enqueue(ctx, tenantID, queue.JobTypeEntryDelete, queue.EntryDeleteJob{
			EntryID: e.ID,
			RunID:   runID,
		})
		if err != nil {
			return err
		}
	}

	if len(stale) > 0 {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"run_id": runID,
			"count":  len(stale),
		}).Info("Enqueued stale entry deletes")
	}
	return nil
}

// failRun records a run that could not complete its walk
func (s *Service) failRun(ctx context.Context, tenantID, runID, ownerID string, cause error, log ectologger.Logger) {
	log.WithError(cause).Error("Run failed")

	errClass := fmt.Sprintf("%T", cause)
	errMsg := cause.Error()
	_, err := s.statuses.Append(ctx, tenantID, models.CreateStatusRequest{
		OwnerType:    models.StatusOwnerImporterRun,
		OwnerID:      runID,
		RunID:        &runID,
		Message:      models.StatusFailed,
		ErrorClass:   &errClass,
		ErrorMessage: &errMsg,
	})
	if err != nil {
		log.WithError(err).Error("Failed to append run failure status")
	}

	err = s.emitter.EmitRunCompleted(ctx, tenantID, runID, models.OwnerTypeImporter, ownerID, models.RunStatusFailed)
	if err != nil {
		log.WithError(err).Warn("Run failure recorded but event emission failed")
	}
}

// RunExporter executes one exporter run synchronously: walk the selected
// entities and stage an export entry per resource.
func (s *Service) RunExporter(ctx context.Context, tenantID, exporterID string) error {
	ctx, span := tracing.StartSpan(ctx, "runner.Service.RunExporter")
	defer span.End()

	exp, err := s.exporters.Get(ctx, tenantID, exporterID)
	if err != nil {
		return err
	}

	runRow, err := s.runs.CreateExporterRun(ctx, tenantID, exp.ID)
	if err != nil {
		return err
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"exporter_id": exp.ID,
		"run_id":      runRow.ID,
	})

	if err := s.emitter.EmitRunStarted(ctx, tenantID, runRow.ID, models.OwnerTypeExporter, exp.ID); err != nil {
		log.WithError(err).Warn("Run started but event emission failed")
	}

	if err := s.exporters.MarkRan(ctx, tenantID, exp.ID, time.Now().UTC()); err != nil {
		return err
	}

	resources, err := s.selectResources(ctx, tenantID, exp)
	if err != nil {
		s.failExportRun(ctx, tenantID, runRow.ID, exp.ID, err, log)
		return nil
	}

	processed := 0
	failed := 0
	for index, resource := range resources {
		if exp.Limit > 0 && index >= exp.Limit {
			break
		}

		err = s.runs.IncrementCounters(ctx, tenantID, run.KindExporter, runRow.ID, index, len(resources), exp.Limit)
		if err != nil {
			return err
		}

		if err := s.stageExportEntry(ctx, tenantID, exp.ID, runRow.ID, resource); err != nil {
			log.WithError(err).WithFields(map[string]any{"resource_id": resource.ID}).Error("Failed to stage export entry")
			failed++
			continue
		}
		processed++
	}

	r, err := s.runs.GetExporterRun(ctx, tenantID, runRow.ID)
	if err != nil {
		return err
	}
	derived := r.RunCounters.Status()

	_, err = s.statuses.Append(ctx, tenantID, models.CreateStatusRequest{
		OwnerType: models.StatusOwnerExporterRun,
		OwnerID:   runRow.ID,
		RunID:     &runRow.ID,
		Message:   derived,
	})
	if err != nil {
		return err
	}

	err = s.emitter.EmitRunCompleted(ctx, tenantID, runRow.ID, models.OwnerTypeExporter, exp.ID, derived)
	if err != nil {
		log.WithError(err).Warn("Run finalized but event emission failed")
	}

	log.WithFields(map[string]any{"processed": processed, "failed": failed, "status": derived}).Info("Exporter run completed")
	return nil
}

// selectResources picks the entities one export run walks
func (s *Service) selectResources(ctx context.Context, tenantID string, exp *models.Exporter) ([]*graph.Resource, error) {
	switch exp.ExportKind {
	case models.ExportKindCollection:
		if exp.ExportSource == nil || *exp.ExportSource == "" {
			return nil, errors.New("collection export requires a source collection id")
		}
		memberIDs, err := s.memberships.Members(ctx, tenantID, *exp.ExportSource)
		if err != nil {
			return nil, err
		}
		return s.findAll(ctx, tenantID, memberIDs)
	case models.ExportKindWorksByID:
		if exp.ExportSource == nil || *exp.ExportSource == "" {
			return nil, errors.New("works export requires source work ids")
		}
		return s.findAll(ctx, tenantID, strings.Split(*exp.ExportSource, ","))
	case models.ExportKindAll:
		var all []*graph.Resource
		for _, class := range graph.Classes {
			resources, err := s.resources.ListByClass(ctx, tenantID, class, exp.Limit)
			if err != nil {
				return nil, err
			}
			all = append(all, resources...)
		}
		return all, nil
	default:
		return nil, fmt.Errorf("unknown export kind %q", exp.ExportKind)
	}
}

func (s *Service) findAll(ctx context.Context, tenantID string, ids []string) ([]*graph.Resource, error) {
	resources := make([]*graph.Resource, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		resource, err := s.resources.Find(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		if resource != nil {
			resources = append(resources, resource)
		}
	}
	return resources, nil
}

// stageExportEntry upserts the export entry for one resource and counts it
func (s *Service) stageExportEntry(ctx context.Context, tenantID, exporterID, runID string, resource *graph.Resource) error {
	record := make(map[string]any, len(resource.Properties)+3)
	for k, v := range resource.Properties {
		record[k] = v
	}
	record["id"] = resource.ID
	record["model"] = resource.Class
	record["source_identifier"] = firstOr(resource.AlternateIDs, resource.ID)

	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}

	res, err := s.entries.Upsert(ctx, tenantID, models.CreateEntryRequest{
		OwnerType:   models.OwnerTypeExporter,
		OwnerID:     exporterID,
		Identifier:  firstOr(resource.AlternateIDs, resource.ID),
		TargetClass: resource.Class,
		RawMetadata: raw,
	})
	if err != nil {
		adjErr := s.runs.Adjust(ctx, tenantID, run.KindExporter, runID, []models.CounterDelta{
			{Column: run.ColFailedRecs, Delta: 1},
		})
		if adjErr != nil {
			return adjErr
		}
		return err
	}

	_, err = s.statuses.Append(ctx, tenantID, models.CreateStatusRequest{
		OwnerType: models.StatusOwnerEntry,
		OwnerID:   res.Entry.ID,
		RunID:     &runID,
		Message:   models.StatusComplete,
	})
	if err != nil {
		return err
	}

	deltas := []models.CounterDelta{{Column: run.ColProcessedRecs, Delta: 1}}
	switch resource.Class {
	case graph.ClassWork:
		deltas = append(deltas, models.CounterDelta{Column: run.ColProcessedWorks, Delta: 1})
	case graph.ClassCollection:
		deltas = append(deltas, models.CounterDelta{Column: run.ColProcessedColls, Delta: 1})
	case graph.ClassFileSet:
		deltas = append(deltas, models.CounterDelta{Column: run.ColProcessedFiles, Delta: 1})
	}
	return s.runs.Adjust(ctx, tenantID, run.KindExporter, runID, deltas)
}

// failExportRun records an exporter run that could not walk its entities
func (s *Service) failExportRun(ctx context.Context, tenantID, runID, ownerID string, cause error, log ectologger.Logger) {
	log.WithError(cause).Error("Exporter run failed")

	errClass := fmt.Sprintf("%T", cause)
	errMsg := cause.Error()
	_, err := s.statuses.Append(ctx, tenantID, models.CreateStatusRequest{
		OwnerType:    models.StatusOwnerExporterRun,
		OwnerID:      runID,
		RunID:        &runID,
		Message:      models.StatusFailed,
		ErrorClass:   &errClass,
		ErrorMessage: &errMsg,
	})
	if err != nil {
		log.WithError(err).Error("Failed to append run failure status")
	}

	err = s.emitter.EmitRunCompleted(ctx, tenantID, runID, models.OwnerTypeExporter, ownerID, models.RunStatusFailed)
	if err != nil {
		log.WithError(err).Warn("Run failure recorded but event emission failed")
	}
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 && values[0] != "" {
		return values[0]
	}
	return fallback
}
