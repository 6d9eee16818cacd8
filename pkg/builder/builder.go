// Package builder turns raw entry metadata into persisted repository
// entities: normalize with the importer's mapping table, run the persistence
// factory, and record exactly one status row per attempt.
package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"

	"github.com/Ramsey-B/fern/internal/repositories/entry"
	"github.com/Ramsey-B/fern/internal/repositories/importer"
	"github.com/Ramsey-B/fern/internal/repositories/pendingrelationship"
	"github.com/Ramsey-B/fern/internal/repositories/run"
	"github.com/Ramsey-B/fern/internal/repositories/status"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/factory"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Service builds and deletes entries
type Service struct {
	entries   *entry.Repository
	importers *importer.Repository
	runs      *run.Repository
	statuses  *status.Repository
	rels      *pendingrelationship.Repository
	factory   *factory.Factory
	resources *graph.ResourceService
	emitter   *events.Emitter
	defaults  mapping.Defaults
	logger    ectologger.Logger
}

// NewService creates a new builder service
func NewService(
	entries *entry.Repository,
	importers *importer.Repository,
	runs *run.Repository,
	statuses *status.Repository,
	rels *pendingrelationship.Repository,
	f *factory.Factory,
	resources *graph.ResourceService,
	emitter *events.Emitter,
	defaults mapping.Defaults,
	logger ectologger.Logger,
) *Service {
	return &Service{
		entries:   entries,
		importers: importers,
		runs:      runs,
		statuses:  statuses,
		rels:      rels,
		factory:   f,
		resources: resources,
		emitter:   emitter,
		defaults:  defaults,
		logger:    logger,
	}
}

// Build normalizes and persists one entry. Terminal failures (invalid
// metadata, rejected saves) are recorded and swallowed so the job is not
// retried; transient failures are recorded and returned so the queue retries.
func (s *Service) Build(ctx context.Context, tenantID, entryID, runID string) error {
	ctx, span := tracing.StartSpan(ctx, "builder.Service.Build")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"entry_id": entryID,
		"run_id":   runID,
	})

	e, err := s.entries.Get(ctx, tenantID, entryID)
	if err != nil {
		return err
	}

	if _, err := s.entries.IncrementAttempts(ctx, tenantID, e.ID); err != nil {
		return err
	}

	imp, err := s.importers.Get(ctx, tenantID, e.OwnerID)
	if err != nil {
		return err
	}

	table, err := mapping.ParseTable(imp.ReaderFormat, "import", imp.FieldMappings)
	if err != nil {
		// Broken mapping config fails every entry of the run the same way.
		s.recordFailure(ctx, e, runID, err, true)
		return nil
	}

	raw, err := decodeRaw(e.RawMetadata)
	if err != nil {
		s.recordFailure(ctx, e, runID, err, true)
		return nil
	}

	md, err := mapping.Normalize(raw, table, s.defaultsFor(imp))
	if err != nil {
		if mapping.IsValidationError(err) {
			s.recordFailure(ctx, e, runID, err, true)
			return nil
		}
		s.recordFailure(ctx, e, runID, err, false)
		return err
	}

	parsed, err := json.Marshal(md)
	if err != nil {
		s.recordFailure(ctx, e, runID, err, true)
		return nil
	}
	err = s.entries.SetParsed(ctx, tenantID, e.ID, parsed,
		models.StringList(md[mapping.KeyCollections]),
		models.StringList(md[mapping.KeyParents]),
		models.StringList(md[mapping.KeyChildren]),
	)
	if err != nil {
		s.recordFailure(ctx, e, runID, err, false)
		return err
	}

	if err := s.recordEdges(ctx, tenantID, e.Identifier, runID, md); err != nil {
		s.recordFailure(ctx, e, runID, err, false)
		return err
	}

	resource, _, err := s.factory.Run(ctx, tenantID, e.Identifier, md, e.TargetClass)
	if err != nil {
		if errors.Is(err, factory.ErrSaveRejected) {
			s.recordFailure(ctx, e, runID, err, true)
			return nil
		}
		s.recordFailure(ctx, e, runID, err, false)
		return err
	}

	if err := s.entries.SetEntityID(ctx, tenantID, e.ID, resource.ID); err != nil {
		s.recordFailure(ctx, e, runID, err, false)
		return err
	}
	e.EntityID = &resource.ID
	e.TargetClass = resource.Class

	_, err = s.statuses.Append(ctx, tenantID, models.CreateStatusRequest{
		OwnerType: models.StatusOwnerEntry,
		OwnerID:   e.ID,
		RunID:     &runID,
		Message:   models.StatusComplete,
	})
	if err != nil {
		return err
	}

	deltas := []models.CounterDelta{{Column: run.ColProcessedRecs, Delta: 1}}
	if col := processedColumn(resource.Class); col != "" {
		deltas = append(deltas, models.CounterDelta{Column: col, Delta: 1})
	}
	if err := s.runs.Adjust(ctx, tenantID, kindFor(e.OwnerType), runID, deltas); err != nil {
		return err
	}

	if err := s.emitter.EmitEntryCompleted(ctx, e, runID); err != nil {
		log.WithError(err).Warn("Entry built but event emission failed")
	}

	log.WithFields(map[string]any{"entity_id": resource.ID, "class": resource.Class}).Info("Built entry")
	return nil
}

// Delete removes the target entity for an entry whose source record is gone
func (s *Service) Delete(ctx context.Context, tenantID, entryID, runID string) error {
	ctx, span := tracing.StartSpan(ctx, "builder.Service.Delete")
	defer span.End()

	e, err := s.entries.Get(ctx, tenantID, entryID)
	if err != nil {
		return err
	}

	if e.EntityID != nil {
		if err := s.resources.Delete(ctx, tenantID, *e.EntityID); err != nil {
			return err
		}
	}

	if err := s.entries.SoftDelete(ctx, tenantID, e.ID); err != nil {
		return err
	}

	_, err = s.statuses.Append(ctx, tenantID, models.CreateStatusRequest{
		OwnerType: models.StatusOwnerEntry,
		OwnerID:   e.ID,
		RunID:     &runID,
		Message:   "Deleted",
	})
	if err != nil {
		return err
	}

	err = s.runs.Adjust(ctx, tenantID, kindFor(e.OwnerType), runID, []models.CounterDelta{
		{Column: run.ColDeletedRecs, Delta: 1},
	})
	if err != nil {
		return err
	}

	if err := s.emitter.EmitEntryDeleted(ctx, e, runID); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Entry deleted but event emission failed")
	}

	return nil
}

// recordEdges records the pending relationships declared by this record:
// parents and collections point at it, children hang off it in declared
// order. The resolver realizes them once the run's entries settle.
func (s *Service) recordEdges(ctx context.Context, tenantID, identifier, runID string, md mapping.Metadata) error {
	for _, parent := range md[mapping.KeyParents] {
		_, err := s.rels.Create(ctx, tenantID, models.CreatePendingRelationshipRequest{
			ImporterRunID:    runID,
			ParentIdentifier: parent,
			ChildIdentifier:  identifier,
		})
		if err != nil {
			return err
		}
	}
	for _, coll := range md[mapping.KeyCollections] {
		_, err := s.rels.Create(ctx, tenantID, models.CreatePendingRelationshipRequest{
			ImporterRunID:    runID,
			ParentIdentifier: coll,
			ChildIdentifier:  identifier,
		})
		if err != nil {
			return err
		}
	}
	for i, child := range md[mapping.KeyChildren] {
		_, err := s.rels.Create(ctx, tenantID, models.CreatePendingRelationshipRequest{
			ImporterRunID:    runID,
			ParentIdentifier: identifier,
			ChildIdentifier:  child,
			OrderHint:        i,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// recordFailure appends the attempt's Failed status and bumps the failure
// counters. terminal failures additionally count as invalid records.
func (s *Service) recordFailure(ctx context.Context, e *models.Entry, runID string, cause error, terminal bool) {
	log := s.logger.WithContext(ctx).WithError(cause).WithFields(map[string]any{
		"entry_id": e.ID,
		"run_id":   runID,
		"terminal": terminal,
	})
	log.Error("Failed to build entry")

	errClass := fmt.Sprintf("%T", cause)
	errMsg := cause.Error()
	_, err := s.statuses.Append(ctx, e.TenantID, models.CreateStatusRequest{
		OwnerType:    models.StatusOwnerEntry,
		OwnerID:      e.ID,
		RunID:        &runID,
		Message:      models.StatusFailed,
		ErrorClass:   &errClass,
		ErrorMessage: &errMsg,
	})
	if err != nil {
		log.WithError(err).Error("Failed to append failure status")
	}

	deltas := []models.CounterDelta{{Column: run.ColFailedRecs, Delta: 1}}
	if terminal {
		deltas = append(deltas, models.CounterDelta{Column: run.ColInvalidRecs, Delta: 1})
	}
	if col := failedColumn(e.TargetClass); col != "" {
		deltas = append(deltas, models.CounterDelta{Column: col, Delta: 1})
	}
	if err := s.runs.Adjust(ctx, e.TenantID, kindFor(e.OwnerType), runID, deltas); err != nil {
		log.WithError(err).Error("Failed to adjust failure counters")
	}

	if err := s.emitter.EmitEntryFailed(ctx, e, runID, cause); err != nil {
		log.WithError(err).Warn("Failure recorded but event emission failed")
	}
}

// defaultsFor overlays importer-level deposit settings on the configured
// defaults.
func (s *Service) defaultsFor(imp *models.Importer) mapping.Defaults {
	d := s.defaults
	if imp.AdminSetID != nil && *imp.AdminSetID != "" {
		d.AdminSetID = *imp.AdminSetID
	}
	if imp.UserID != "" {
		d.Depositor = imp.UserID
	}
	return d
}

func kindFor(ownerType string) run.Kind {
	if ownerType == models.OwnerTypeExporter {
		return run.KindExporter
	}
	return run.KindImporter
}

func processedColumn(class string) string {
	switch class {
	case graph.ClassWork:
		return run.ColProcessedWorks
	case graph.ClassCollection:
		return run.ColProcessedColls
	case graph.ClassFileSet:
		return run.ColProcessedFiles
	default:
		return ""
	}
}

func failedColumn(class string) string {
	switch class {
	case graph.ClassWork:
		return run.ColFailedWorks
	case graph.ClassCollection:
		return run.ColFailedColls
	case graph.ClassFileSet:
		return run.ColFailedFiles
	default:
		return ""
	}
}

// decodeRaw converts stored raw metadata into the multi-valued field map the
// mapping engine consumes. Scalars become one-element lists.
func decodeRaw(raw json.RawMessage) (map[string][]string, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid raw metadata: %w", err)
	}

	fields := make(map[string][]string, len(doc))
	for k, v := range doc {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			fields[k] = []string{val}
		case []any:
			values := make([]string, 0, len(val))
			for _, item := range val {
				if s, ok := item.(string); ok {
					values = append(values, s)
				} else if item != nil {
					values = append(values, fmt.Sprint(item))
				}
			}
			fields[k] = values
		default:
			fields[k] = []string{fmt.Sprint(val)}
		}
	}
	return fields, nil
}
