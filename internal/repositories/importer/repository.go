package importer

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

var importerColumns = []string{
	"id", "tenant_id", "name", "admin_set_id", "user_id", "reader_format",
	"reader_config", "field_mappings", "run_interval", "next_run_at", "last_run_at",
	"record_limit", "created_at", "updated_at", "deleted_at",
}

// Repository handles importer persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new importer repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new importer
func (r *Repository) Create(ctx context.Context, tenantID string, req models.CreateImporterRequest) (*models.Importer, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	imp := models.Importer{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		Name:          req.Name,
		AdminSetID:    req.AdminSetID,
		UserID:        req.UserID,
		ReaderFormat:  req.ReaderFormat,
		ReaderConfig:  req.ReaderConfig,
		FieldMappings: req.FieldMappings,
		RunInterval:   req.RunInterval,
		Limit:         req.Limit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.RunInterval > 0 {
		next := now.Add(req.RunInterval)
		imp.NextRunAt = &next
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("importers")
	ib.Cols("id", "tenant_id", "name", "admin_set_id", "user_id", "reader_format",
		"reader_config", "field_mappings", "run_interval", "next_run_at", "record_limit",
		"created_at", "updated_at")
	ib.Values(imp.ID, imp.TenantID, imp.Name, imp.AdminSetID, imp.UserID, imp.ReaderFormat,
		imp.ReaderConfig, imp.FieldMappings, imp.RunInterval, imp.NextRunAt, imp.Limit,
		imp.CreatedAt, imp.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "name": req.Name}).Error("Failed to create importer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create importer")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": imp.ID, "name": imp.Name}).Info("Created importer")
	return &imp, nil
}

// Get retrieves an importer by ID
func (r *Repository) Get(ctx context.Context, tenantID string, id string) (*models.Importer, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(importerColumns...)
	sb.From("importers")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var imp models.Importer
	if err := r.db.GetContext(ctx, &imp, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "importer %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to get importer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get importer")
	}

	return &imp, nil
}

// Update applies a partial update to an importer
func (r *Repository) Update(ctx context.Context, tenantID string, id string, req models.UpdateImporterRequest) (*models.Importer, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Repository.Update")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("importers")

	assigns := []string{sb.Assign("updated_at", now)}
	if req.Name != nil {
		assigns = append(assigns, sb.Assign("name", *req.Name))
	}
	if req.AdminSetID != nil {
		assigns = append(assigns, sb.Assign("admin_set_id", *req.AdminSetID))
	}
	if req.ReaderFormat != nil {
		assigns = append(assigns, sb.Assign("reader_format", *req.ReaderFormat))
	}
	if req.ReaderConfig != nil {
		assigns = append(assigns, sb.Assign("reader_config", req.ReaderConfig))
	}
	if req.FieldMappings != nil {
		assigns = append(assigns, sb.Assign("field_mappings", req.FieldMappings))
	}
	if req.RunInterval != nil {
		assigns = append(assigns, sb.Assign("run_interval", *req.RunInterval))
		if *req.RunInterval > 0 {
			assigns = append(assigns, sb.Assign("next_run_at", now.Add(*req.RunInterval)))
		} else {
			assigns = append(assigns, sb.Assign("next_run_at", nil))
		}
	}
	if req.Limit != nil {
		assigns = append(assigns, sb.Assign("record_limit", *req.Limit))
	}
	sb.Set(assigns...)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to update importer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update importer")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "importer %s not found", id)
	}

	return r.Get(ctx, tenantID, id)
}

// List retrieves importers with pagination
func (r *Repository) List(ctx context.Context, tenantID string, page, pageSize int) (*models.ImporterListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Repository.List")
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
	countSb.From("importers")
	countSb.Where(
		countSb.Equal("tenant_id", tenantID),
		countSb.IsNull("deleted_at"),
	)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to count importers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count importers")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(importerColumns...)
	sb.From("importers")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var importers []models.Importer
	if err := r.db.SelectContext(ctx, &importers, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "page": page, "page_size": pageSize}).Error("Failed to list importers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list importers")
	}

	return &models.ImporterListResponse{
		Items:      importers,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// ListDue returns importers across all tenants whose next_run_at has passed.
// Only importers with a positive run_interval are ever due.
func (r *Repository) ListDue(ctx context.Context, asOf time.Time, limit int) ([]models.Importer, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Repository.ListDue")
	defer span.End()

	if limit < 1 {
		limit = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(importerColumns...)
	sb.From("importers")
	sb.Where(
		sb.GreaterThan("run_interval", 0),
		sb.IsNotNull("next_run_at"),
		sb.LessEqualThan("next_run_at", asOf),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("next_run_at")
	sb.Limit(limit)

	query, args := sb.Build()
	var importers []models.Importer
	if err := r.db.SelectContext(ctx, &importers, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list due importers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list due importers")
	}
	return importers, nil
}

// MarkRan records a run start and pushes next_run_at forward one interval
func (r *Repository) MarkRan(ctx context.Context, tenantID, id string, ranAt time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "importer.Repository.MarkRan")
	defer span.End()

	// next_run_at advances only for scheduled importers; on-demand runs leave it alone.
	query := `
		UPDATE importers
		SET last_run_at = $1,
		    next_run_at = CASE WHEN run_interval > 0 THEN $1 + (run_interval / 1000000000.0) * interval '1 second' ELSE next_run_at END,
		    updated_at = $1
		WHERE id = $2 AND tenant_id = $3 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, ranAt, id, tenantID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to mark importer ran")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update importer")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "importer %s not found", id)
	}
	return nil
}

// SoftDelete marks an importer as deleted
func (r *Repository) SoftDelete(ctx context.Context, tenantID string, id string) error {
	ctx, span := tracing.StartSpan(ctx, "importer.Repository.SoftDelete")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("importers")
	sb.Set(sb.Assign("deleted_at", now))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to soft delete importer")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete importer")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("importer %s not found", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Soft deleted importer")
	return nil
}
