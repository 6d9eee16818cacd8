package exporter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/models"
)

var exporterColumns = []string{
	"id", "tenant_id", "name", "user_id", "export_kind", "export_source",
	"writer_format", "field_mappings", "record_limit", "last_run_at",
	"created_at", "updated_at", "deleted_at",
}

// Repository handles exporter persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new exporter repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new exporter
func (r *Repository) Create(ctx context.Context, tenantID string, req models.CreateExporterRequest) (*models.Exporter, error) {
	ctx, span := tracing.StartSpan(ctx, "exporter.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	exp := models.Exporter{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		Name:          req.Name,
		UserID:        req.UserID,
		ExportKind:    req.ExportKind,
		ExportSource:  req.ExportSource,
		WriterFormat:  req.WriterFormat,
		FieldMappings: req.FieldMappings,
		Limit:         req.Limit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("exporters")
	ib.Cols("id", "tenant_id", "name", "user_id", "export_kind", "export_source",
		"writer_format", "field_mappings", "record_limit", "created_at", "updated_at")
	ib.Values(exp.ID, exp.TenantID, exp.Name, exp.UserID, exp.ExportKind, exp.ExportSource,
		exp.WriterFormat, exp.FieldMappings, exp.Limit, exp.CreatedAt, exp.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "name": req.Name}).Error("Failed to create exporter")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create exporter")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": exp.ID, "name": exp.Name}).Info("Created exporter")
	return &exp, nil
}

// Get retrieves an exporter by ID
func (r *Repository) Get(ctx context.Context, tenantID string, id string) (*models.Exporter, error) {
	ctx, span := tracing.StartSpan(ctx, "exporter.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(exporterColumns...)
	sb.From("exporters")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var exp models.Exporter
	if err := r.db.GetContext(ctx, &exp, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "exporter %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to get exporter")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get exporter")
	}

	return &exp, nil
}

// List retrieves exporters with pagination
func (r *Repository) List(ctx context.Context, tenantID string, page, pageSize int) (*models.ExporterListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "exporter.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("exporters")
	countSb.Where(
		countSb.Equal("tenant_id", tenantID),
		countSb.IsNull("deleted_at"),
	)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to count exporters")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count exporters")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(exporterColumns...)
	sb.From("exporters")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var exporters []models.Exporter
	if err := r.db.SelectContext(ctx, &exporters, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "page": page, "page_size": pageSize}).Error("Failed to list exporters")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list exporters")
	}

	return &models.ExporterListResponse{
		Items:      exporters,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// MarkRan records the last run time
func (r *Repository) MarkRan(ctx context.Context, tenantID, id string, ranAt time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "exporter.Repository.MarkRan")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("exporters")
	sb.Set(
		sb.Assign("last_run_at", ranAt),
		sb.Assign("updated_at", ranAt),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to mark exporter ran")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update exporter")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "exporter %s not found", id)
	}
	return nil
}

// SoftDelete marks an exporter as deleted
func (r *Repository) SoftDelete(ctx context.Context, tenantID string, id string) error {
	ctx, span := tracing.StartSpan(ctx, "exporter.Repository.SoftDelete")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("exporters")
	sb.Set(sb.Assign("deleted_at", now))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to soft delete exporter")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete exporter")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("exporter %s not found", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Soft deleted exporter")
	return nil
}
