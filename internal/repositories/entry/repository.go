package entry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
)

// entryColumns matches schema order: id, tenant_id, owner_type, owner_id, identifier, ...
var entryColumns = []string{
	"id", "tenant_id", "owner_type", "owner_id", "identifier", "target_class",
	"raw_metadata", "parsed_metadata", "collection_ids", "parent_ids", "child_ids",
	"entity_id", "import_attempts", "fingerprint", "previous_fingerprint",
	"created_at", "updated_at", "deleted_at",
}

// Repository handles entry persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entry repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// UpsertResult contains the result of an upsert operation
type UpsertResult struct {
	Entry     *models.Entry
	IsNew     bool
	IsChanged bool
}

// Upsert creates or updates an entry keyed on (owner_type, owner_id, identifier).
// Re-running the same source record lands on the same row; IsChanged reports
// whether the raw metadata fingerprint moved since the last run.
func (r *Repository) Upsert(ctx context.Context, tenantID string, req models.CreateEntryRequest) (*UpsertResult, error) {
	ctx, span := tracing.StartSpan(ctx, "entry.Repository.Upsert")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":     "Upsert",
		"tenant_id":  tenantID,
		"owner_type": req.OwnerType,
		"owner_id":   req.OwnerID,
		"identifier": req.Identifier,
	})

	now := time.Now().UTC()
	id := uuid.New().String()

	fp, err := fingerprint.GenerateFromJSON(req.RawMetadata)
	if err != nil {
		log.WithError(err).Error("Failed to generate fingerprint")
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid raw metadata")
	}

	// Single atomic upsert. previous_fingerprint keeps the pre-update value so
	// unchanged re-imports can be skipped by the caller.
	query := `
		WITH upsert AS (
			INSERT INTO entries (
				id, tenant_id, owner_type, owner_id, identifier, target_class,
				raw_metadata, fingerprint, previous_fingerprint, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (tenant_id, owner_type, owner_id, identifier)
			DO UPDATE SET
				target_class = EXCLUDED.target_class,
				raw_metadata = EXCLUDED.raw_metadata,
				previous_fingerprint = entries.fingerprint,
				fingerprint = EXCLUDED.fingerprint,
				updated_at = EXCLUDED.updated_at,
				deleted_at = NULL
			RETURNING
				id, tenant_id, owner_type, owner_id, identifier, target_class,
				raw_metadata, parsed_metadata, collection_ids, parent_ids, child_ids,
				entity_id, import_attempts, fingerprint, previous_fingerprint,
				created_at, updated_at, deleted_at,
				(xmax = 0) AS inserted
		)
		SELECT * FROM upsert
	`

	var result struct {
		models.Entry
		Inserted bool `db:"inserted"`
	}

	err = r.db.GetContext(ctx, &result, query,
		id, tenantID, req.OwnerType, req.OwnerID, req.Identifier, req.TargetClass,
		req.RawMetadata, fp, "", now, now,
	)
	if err != nil {
		log.WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to upsert entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert entry")
	}

	if result.Inserted {
		log.WithFields(map[string]any{"id": result.ID}).Info("Created entry")
		return &UpsertResult{Entry: &result.Entry, IsNew: true, IsChanged: true}, nil
	}

	changed := fingerprint.HasChanged(result.PreviousFingerprint, result.Fingerprint)
	if changed {
		log.WithFields(map[string]any{"id": result.ID}).Info("Updated entry")
	} else {
		log.WithFields(map[string]any{"id": result.ID}).Debug("Marked entry as seen (unchanged)")
	}
	return &UpsertResult{Entry: &result.Entry, IsNew: false, IsChanged: changed}, nil
}

// Get retrieves an entry by ID
func (r *Repository) Get(ctx context.Context, tenantID string, id string) (*models.Entry, error) {
	ctx, span := tracing.StartSpan(ctx, "entry.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(entryColumns...)
	sb.From("entries")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var e models.Entry
	if err := r.db.GetContext(ctx, &e, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "entry %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to get entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entry")
	}

	return &e, nil
}

// GetByIdentifier retrieves an entry by its owner scope and source identifier
func (r *Repository) GetByIdentifier(ctx context.Context, tenantID, ownerType, ownerID, identifier string) (*models.Entry, error) {
	ctx, span := tracing.StartSpan(ctx, "entry.Repository.GetByIdentifier")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(entryColumns...)
	sb.From("entries")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("owner_type", ownerType),
		sb.Equal("owner_id", ownerID),
		sb.Equal("identifier", identifier),
		sb.IsNull("deleted_at"),
	)
	sb.Limit(1)

	query, args := sb.Build()
	var e models.Entry
	if err := r.db.GetContext(ctx, &e, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "owner_type": ownerType, "owner_id": ownerID, "identifier": identifier}).Error("Failed to get entry by identifier")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entry")
	}

	return &e, nil
}

// FindByIdentifier returns the most recently updated importer entry matching
// the source identifier, or nil when none exists. Soft-deleted entries are
// included: relationship messages can arrive after the entry was superseded,
// and the persisted entity id is still the right answer.
func (r *Repository) FindByIdentifier(ctx context.Context, tenantID, identifier string) (*models.Entry, error) {
	ctx, span := tracing.StartSpan(ctx, "entry.Repository.FindByIdentifier")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(entryColumns...)
	sb.From("entries")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("owner_type", models.OwnerTypeImporter),
		sb.Equal("identifier", identifier),
	)
	sb.OrderBy("deleted_at NULLS FIRST", "updated_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var e models.Entry
	if err := r.db.GetContext(ctx, &e, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "identifier": identifier}).Error("Failed to find entry by identifier")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find entry")
	}

	return &e, nil
}

// SetParsed records the normalization outcome: the parsed metadata plus the
// relationship references captured from it.
func (r *Repository) SetParsed(ctx context.Context, tenantID, id string, parsed json.RawMessage, collectionIDs, parentIDs, childIDs models.StringList) error {
	ctx, span := tracing.StartSpan(ctx, "entry.Repository.SetParsed")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entries")
	sb.Set(
		sb.Assign("parsed_metadata", parsed),
		sb.Assign("collection_ids", collectionIDs),
		sb.Assign("parent_ids", parentIDs),
		sb.Assign("child_ids", childIDs),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to set parsed metadata")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update entry")
	}
	return nil
}

// SetEntityID records the persisted graph entity id after the factory has run
func (r *Repository) SetEntityID(ctx context.Context, tenantID, id, entityID string) error {
	ctx, span := tracing.StartSpan(ctx, "entry.Repository.SetEntityID")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entries")
	sb.Set(
		sb.Assign("entity_id", entityID),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID, "entity_id": entityID}).Error("Failed to set entity id")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update entry")
	}
	return nil
}

// IncrementAttempts bumps the import attempt counter and returns the new value
func (r *Repository) IncrementAttempts(ctx context.Context, tenantID, id string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "entry.Repository.IncrementAttempts")
	defer span.End()

	query := `
		UPDATE entries
		SET import_attempts = import_attempts + 1, updated_at = $1
		WHERE id = $2 AND tenant_id = $3
		RETURNING import_attempts
	`

	var attempts int
	if err := r.db.GetContext(ctx, &attempts, query, time.Now().UTC(), id, tenantID); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return 0, httperror.NewHTTPErrorf(http.StatusNotFound, "entry %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to increment import attempts")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update entry")
	}
	return attempts, nil
}

// List retrieves entries with filtering and pagination
func (r *Repository) List(ctx context.Context, tenantID string, ownerType, ownerID *string, page, pageSize int) (*models.EntryListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "entry.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	// Count total
	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("entries")
	countWhere := []string{
		countSb.Equal("tenant_id", tenantID),
		countSb.IsNull("deleted_at"),
	}
	if ownerType != nil {
		countWhere = append(countWhere, countSb.Equal("owner_type", *ownerType))
	}
	if ownerID != nil {
		countWhere = append(countWhere, countSb.Equal("owner_id", *ownerID))
	}
	countSb.Where(countWhere...)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "owner_type": ownerType, "owner_id": ownerID}).Error("Failed to count entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count entries")
	}

	// Fetch page
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(entryColumns...)
	sb.From("entries")
	where := []string{
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	}
	if ownerType != nil {
		where = append(where, sb.Equal("owner_type", *ownerType))
	}
	if ownerID != nil {
		where = append(where, sb.Equal("owner_id", *ownerID))
	}
	sb.Where(where...)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var entries []models.Entry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "owner_type": ownerType, "owner_id": ownerID, "page": page, "page_size": pageSize}).Error("Failed to list entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list entries")
	}

	return &models.EntryListResponse{
		Items:      entries,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// ListByOwner returns all live entries belonging to an importer or exporter
func (r *Repository) ListByOwner(ctx context.Context, tenantID, ownerType, ownerID string) ([]models.Entry, error) {
	ctx, span := tracing.StartSpan(ctx, "entry.Repository.ListByOwner")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(entryColumns...)
	sb.From("entries")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("owner_type", ownerType),
		sb.Equal("owner_id", ownerID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var entries []models.Entry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "owner_type": ownerType, "owner_id": ownerID}).Error("Failed to list entries by owner")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list entries")
	}
	return entries, nil
}

// SoftDelete marks an entry as deleted
func (r *Repository) SoftDelete(ctx context.Context, tenantID string, id string) error {
	ctx, span := tracing.StartSpan(ctx, "entry.Repository.SoftDelete")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entries")
	sb.Set(sb.Assign("deleted_at", now))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to soft delete entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete entry")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("entry %s not found", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Soft deleted entry")
	return nil
}

// ListStale returns an owner's live entries that were not touched on or after
// the given run start. Full (non-incremental) imports delete these: their
// source records disappeared.
func (r *Repository) ListStale(ctx context.Context, tenantID, ownerType, ownerID string, runStartedAt time.Time) ([]models.Entry, error) {
	ctx, span := tracing.StartSpan(ctx, "entry.Repository.ListStale")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(entryColumns...)
	sb.From("entries")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("owner_type", ownerType),
		sb.Equal("owner_id", ownerID),
		sb.LessThan("updated_at", runStartedAt),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var entries []models.Entry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "owner_type": ownerType, "owner_id": ownerID}).Error("Failed to list stale entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list stale entries")
	}
	return entries, nil
}
