package derivative

import (
	"context"
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

var derivativeColumns = []string{
	"id", "tenant_id", "entry_id", "source_url", "file_name", "content_type",
	"byte_size", "checksum", "file_set_id", "created_at", "updated_at", "deleted_at",
}

// Repository handles entry derivative persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new derivative repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Record upserts a fetched file for an entry, keyed on (entry_id, source_url).
// Re-fetching the same URL updates the checksum and size in place.
func (r *Repository) Record(ctx context.Context, tenantID string, d models.EntryDerivative) (*models.EntryDerivative, error) {
	ctx, span := tracing.StartSpan(ctx, "derivative.Repository.Record")
	defer span.End()

	now := time.Now().UTC()
	id := uuid.New().String()

	query := `
		WITH upsert AS (
			INSERT INTO entry_derivatives (
				id, tenant_id, entry_id, source_url, file_name, content_type,
				byte_size, checksum, file_set_id, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (tenant_id, entry_id, source_url)
			DO UPDATE SET
				file_name = EXCLUDED.file_name,
				content_type = EXCLUDED.content_type,
				byte_size = EXCLUDED.byte_size,
				checksum = EXCLUDED.checksum,
				file_set_id = COALESCE(EXCLUDED.file_set_id, entry_derivatives.file_set_id),
				updated_at = EXCLUDED.updated_at,
				deleted_at = NULL
			RETURNING
				id, tenant_id, entry_id, source_url, file_name, content_type,
				byte_size, checksum, file_set_id, created_at, updated_at, deleted_at
		)
		SELECT * FROM upsert
	`

	var out models.EntryDerivative
	err := r.db.GetContext(ctx, &out, query,
		id, tenantID, d.EntryID, d.SourceURL, d.FileName, d.ContentType,
		d.ByteSize, d.Checksum, d.FileSetID, now, now,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "entry_id": d.EntryID, "source_url": d.SourceURL}).Error("Failed to record entry derivative")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record derivative")
	}

	return &out, nil
}

// ListByEntry returns an entry's live derivatives
func (r *Repository) ListByEntry(ctx context.Context, tenantID, entryID string) ([]models.EntryDerivative, error) {
	ctx, span := tracing.StartSpan(ctx, "derivative.Repository.ListByEntry")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(derivativeColumns...)
	sb.From("entry_derivatives")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("entry_id", entryID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var derivatives []models.EntryDerivative
	if err := r.db.SelectContext(ctx, &derivatives, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "entry_id": entryID}).Error("Failed to list entry derivatives")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list derivatives")
	}
	return derivatives, nil
}

// SetFileSetID links a derivative to the file set node created for it
func (r *Repository) SetFileSetID(ctx context.Context, tenantID, id, fileSetID string) error {
	ctx, span := tracing.StartSpan(ctx, "derivative.Repository.SetFileSetID")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entry_derivatives")
	sb.Set(
		sb.Assign("file_set_id", fileSetID),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID, "file_set_id": fileSetID}).Error("Failed to set file set id")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update derivative")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "derivative %s not found", id)
	}
	return nil
}
