package run

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Kind selects which run table an operation targets
type Kind string

const (
	KindImporter Kind = "importer"
	KindExporter Kind = "exporter"
)

func (k Kind) table() (string, error) {
	switch k {
	case KindImporter:
		return "importer_runs", nil
	case KindExporter:
		return "exporter_runs", nil
	default:
		return "", fmt.Errorf("unknown run kind %q", string(k))
	}
}

// Counter column names shared by both run tables.
const (
	ColTotal          = "total"
	ColEnqueued       = "enqueued"
	ColProcessedRecs  = "processed_records"
	ColFailedRecs     = "failed_records"
	ColDeletedRecs    = "deleted_records"
	ColProcessedWorks = "processed_works"
	ColFailedWorks    = "failed_works"
	ColProcessedColls = "processed_collections"
	ColFailedColls    = "failed_collections"
	ColProcessedFiles = "processed_file_sets"
	ColFailedFiles    = "failed_file_sets"
	ColProcessedRels  = "processed_relationships"
	ColFailedRels     = "failed_relationships"
	ColInvalidRecs    = "invalid_records"
)

// counterColumns is the allowlist for relative adjustments. Column names are
// interpolated into SQL, so anything outside this set is rejected.
var counterColumns = map[string]bool{
	ColTotal: true, ColEnqueued: true,
	ColProcessedRecs: true, ColFailedRecs: true, ColDeletedRecs: true,
	ColProcessedWorks: true, ColFailedWorks: true,
	ColProcessedColls: true, ColFailedColls: true,
	ColProcessedFiles: true, ColFailedFiles: true,
	ColProcessedRels: true, ColFailedRels: true,
	ColInvalidRecs: true,
}

// Repository handles importer/exporter run persistence and counter updates
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new run repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateImporterRun starts a new run for an importer. Counters start at zero.
func (r *Repository) CreateImporterRun(ctx context.Context, tenantID, importerID string) (*models.ImporterRun, error) {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.CreateImporterRun")
	defer span.End()

	now := time.Now().UTC()
	run := models.ImporterRun{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		ImporterID: importerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("importer_runs")
	ib.Cols("id", "tenant_id", "importer_id", "created_at", "updated_at")
	ib.Values(run.ID, run.TenantID, run.ImporterID, run.CreatedAt, run.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "importer_id": importerID}).Error("Failed to create importer run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create importer run")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": run.ID, "importer_id": importerID}).Info("Created importer run")
	return &run, nil
}

// CreateExporterRun starts a new run for an exporter
func (r *Repository) CreateExporterRun(ctx context.Context, tenantID, exporterID string) (*models.ExporterRun, error) {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.CreateExporterRun")
	defer span.End()

	now := time.Now().UTC()
	run := models.ExporterRun{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		ExporterID: exporterID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("exporter_runs")
	ib.Cols("id", "tenant_id", "exporter_id", "created_at", "updated_at")
	ib.Values(run.ID, run.TenantID, run.ExporterID, run.CreatedAt, run.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "exporter_id": exporterID}).Error("Failed to create exporter run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create exporter run")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": run.ID, "exporter_id": exporterID}).Info("Created exporter run")
	return &run, nil
}

// GetImporterRun retrieves an importer run by ID
func (r *Repository) GetImporterRun(ctx context.Context, tenantID, id string) (*models.ImporterRun, error) {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.GetImporterRun")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*")
	sb.From("importer_runs")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var run models.ImporterRun
	if err := r.db.GetContext(ctx, &run, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "importer run %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to get importer run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get importer run")
	}
	return &run, nil
}

// GetExporterRun retrieves an exporter run by ID
func (r *Repository) GetExporterRun(ctx context.Context, tenantID, id string) (*models.ExporterRun, error) {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.GetExporterRun")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*")
	sb.From("exporter_runs")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var run models.ExporterRun
	if err := r.db.GetContext(ctx, &run, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "exporter run %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to get exporter run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get exporter run")
	}
	return &run, nil
}

// ListByImporter returns runs for an importer, newest first
func (r *Repository) ListByImporter(ctx context.Context, tenantID, importerID string, limit int) ([]models.ImporterRun, error) {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.ListByImporter")
	defer span.End()

	if limit < 1 || limit > 100 {
		limit = 20
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*")
	sb.From("importer_runs")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("importer_id", importerID),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var runs []models.ImporterRun
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "importer_id": importerID}).Error("Failed to list importer runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list importer runs")
	}
	return runs, nil
}

// IncrementCounters records progress while walking the source: for the record
// at zero-based index, total becomes the configured limit when one is set,
// else the reader's reported total when known, else index+1 (a running count),
// and enqueued becomes index+1.
func (r *Repository) IncrementCounters(ctx context.Context, tenantID string, kind Kind, runID string, index, readerTotal, limit int) error {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.IncrementCounters")
	defer span.End()

	table, err := kind.table()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	total := index + 1
	switch {
	case limit > 0:
		total = limit
	case readerTotal >= 0:
		total = readerTotal
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET total = $1, enqueued = $2, updated_at = $3
		WHERE id = $4 AND tenant_id = $5
	`, table)

	result, err := r.db.ExecContext(ctx, query, total, index+1, time.Now().UTC(), runID, tenantID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID, "tenant_id": tenantID, "kind": string(kind), "index": index}).Error("Failed to increment run counters")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update run counters")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "run %s not found", runID)
	}
	return nil
}

// Adjust applies relative counter deltas in one atomic update. Negative deltas
// floor at zero so concurrent workers cannot drive a counter below it.
func (r *Repository) Adjust(ctx context.Context, tenantID string, kind Kind, runID string, deltas []models.CounterDelta) error {
	ctx, span := tracing.StartSpan(ctx, "run.Repository.Adjust")
	defer span.End()

	if len(deltas) == 0 {
		return nil
	}

	table, err := kind.table()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	assigns := make([]string, 0, len(deltas)+1)
	args := make([]any, 0, len(deltas)+3)
	for _, d := range deltas {
		if !counterColumns[d.Column] {
			return httperror.NewHTTPErrorf(http.StatusInternalServerError, "unknown counter column %q", d.Column)
		}
		args = append(args, d.Delta)
		assigns = append(assigns, fmt.Sprintf("%s = GREATEST(%s + $%d, 0)", d.Column, d.Column, len(args)))
	}
	args = append(args, time.Now().UTC())
	assigns = append(assigns, fmt.Sprintf("updated_at = $%d", len(args)))

	args = append(args, runID, tenantID)
	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d AND tenant_id = $%d",
		table, strings.Join(assigns, ", "), len(args)-1, len(args),
	)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID, "tenant_id": tenantID, "kind": string(kind)}).Error("Failed to adjust run counters")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update run counters")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "run %s not found", runID)
	}
	return nil
}
