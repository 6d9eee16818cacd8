package pendingrelationship

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

var relationshipColumns = []string{
	"id", "tenant_id", "importer_run_id", "parent_identifier", "child_identifier",
	"order_hint", "state", "attempts", "error_detail",
	"created_at", "updated_at", "deleted_at",
}

// Repository handles pending relationship persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new pending relationship repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create records a pending edge declared during normalization. The same edge
// declared twice in one run lands on one row.
func (r *Repository) Create(ctx context.Context, tenantID string, req models.CreatePendingRelationshipRequest) (*models.PendingRelationship, error) {
	ctx, span := tracing.StartSpan(ctx, "pendingrelationship.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	id := uuid.New().String()

	query := `
		WITH upsert AS (
			INSERT INTO pending_relationships (
				id, tenant_id, importer_run_id, parent_identifier, child_identifier,
				order_hint, state, attempts, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)
			ON CONFLICT (tenant_id, importer_run_id, parent_identifier, child_identifier)
			DO UPDATE SET
				order_hint = EXCLUDED.order_hint,
				updated_at = EXCLUDED.updated_at
			RETURNING
				id, tenant_id, importer_run_id, parent_identifier, child_identifier,
				order_hint, state, attempts, error_detail, created_at, updated_at, deleted_at
		)
		SELECT * FROM upsert
	`

	var rel models.PendingRelationship
	err := r.db.GetContext(ctx, &rel, query,
		id, tenantID, req.ImporterRunID, req.ParentIdentifier, req.ChildIdentifier,
		req.OrderHint, models.RelationshipStatePending, now, now,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id":         tenantID,
			"importer_run_id":   req.ImporterRunID,
			"parent_identifier": req.ParentIdentifier,
			"child_identifier":  req.ChildIdentifier,
		}).Error("Failed to create pending relationship")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create pending relationship")
	}

	return &rel, nil
}

// Get retrieves a pending relationship by ID
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.PendingRelationship, error) {
	ctx, span := tracing.StartSpan(ctx, "pendingrelationship.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(relationshipColumns...)
	sb.From("pending_relationships")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var rel models.PendingRelationship
	if err := r.db.GetContext(ctx, &rel, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "pending relationship %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to get pending relationship")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get pending relationship")
	}
	return &rel, nil
}

// ListByRun returns a run's pending edges grouped by parent, ordered by the
// declared order hint within each parent.
func (r *Repository) ListByRun(ctx context.Context, tenantID, runID string, states []string) ([]models.PendingRelationship, error) {
	ctx, span := tracing.StartSpan(ctx, "pendingrelationship.Repository.ListByRun")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(relationshipColumns...)
	sb.From("pending_relationships")
	where := []string{
		sb.Equal("tenant_id", tenantID),
		sb.Equal("importer_run_id", runID),
		sb.IsNull("deleted_at"),
	}
	if len(states) > 0 {
		where = append(where, sb.In("state", sqlbuilder.Flatten(states)...))
	}
	sb.Where(where...)
	sb.OrderBy("parent_identifier", "order_hint", "created_at")

	query, args := sb.Build()
	var rels []models.PendingRelationship
	if err := r.db.SelectContext(ctx, &rels, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "run_id": runID, "states": states}).Error("Failed to list pending relationships")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list pending relationships")
	}
	return rels, nil
}

// MarkResolved records a successful edge write
func (r *Repository) MarkResolved(ctx context.Context, tenantID, id string) error {
	return r.setState(ctx, tenantID, id, models.RelationshipStateResolved, nil, false)
}

// MarkRescheduled bumps the attempt counter and records why the edge was put
// back on the queue. Returns the new attempt count.
func (r *Repository) MarkRescheduled(ctx context.Context, tenantID, id string, detail string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "pendingrelationship.Repository.MarkRescheduled")
	defer span.End()

	query := `
		UPDATE pending_relationships
		SET state = $1, attempts = attempts + 1, error_detail = $2, updated_at = $3
		WHERE id = $4 AND tenant_id = $5 AND deleted_at IS NULL
		RETURNING attempts
	`

	var attempts int
	err := r.db.GetContext(ctx, &attempts, query,
		models.RelationshipStateRescheduled, detail, time.Now().UTC(), id, tenantID)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return 0, httperror.NewHTTPErrorf(http.StatusNotFound, "pending relationship %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to mark relationship rescheduled")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update pending relationship")
	}
	return attempts, nil
}

// MarkFailed records a terminal failure with its error detail
func (r *Repository) MarkFailed(ctx context.Context, tenantID, id string, detail string) error {
	return r.setState(ctx, tenantID, id, models.RelationshipStateFailed, &detail, true)
}

func (r *Repository) setState(ctx context.Context, tenantID, id, state string, detail *string, keepDetail bool) error {
	ctx, span := tracing.StartSpan(ctx, "pendingrelationship.Repository.setState")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("pending_relationships")
	assigns := []string{
		sb.Assign("state", state),
		sb.Assign("updated_at", now),
	}
	if keepDetail {
		assigns = append(assigns, sb.Assign("error_detail", detail))
	} else {
		assigns = append(assigns, sb.Assign("error_detail", nil))
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
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID, "state": state}).Error("Failed to set relationship state")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update pending relationship")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "pending relationship %s not found", id)
	}
	return nil
}

// CountUnsettledByRun counts edges in a run that are neither resolved nor
// terminally failed.
func (r *Repository) CountUnsettledByRun(ctx context.Context, tenantID, runID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "pendingrelationship.Repository.CountUnsettledByRun")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("pending_relationships")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("importer_run_id", runID),
		sb.In("state", models.RelationshipStatePending, models.RelationshipStateRescheduled),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "run_id": runID}).Error("Failed to count unsettled relationships")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count pending relationships")
	}
	return count, nil
}
