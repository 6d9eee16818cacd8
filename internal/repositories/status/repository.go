package status

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/models"
)

var statusColumns = []string{
	"id", "tenant_id", "owner_type", "owner_id", "run_id", "message",
	"error_class", "error_message", "error_backtrace", "created_at",
}

// Repository handles the append-only status ledger
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new status repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Append records one outcome. Rows are never updated or deleted; the bigserial
// id gives a total order per owner.
func (r *Repository) Append(ctx context.Context, tenantID string, req models.CreateStatusRequest) (*models.Status, error) {
	ctx, span := tracing.StartSpan(ctx, "status.Repository.Append")
	defer span.End()

	now := time.Now().UTC()
	query := `
		INSERT INTO statuses (
			tenant_id, owner_type, owner_id, run_id, message,
			error_class, error_message, error_backtrace, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, tenant_id, owner_type, owner_id, run_id, message,
			error_class, error_message, error_backtrace, created_at
	`

	var s models.Status
	err := r.db.GetContext(ctx, &s, query,
		tenantID, req.OwnerType, req.OwnerID, req.RunID, req.Message,
		req.ErrorClass, req.ErrorMessage, req.ErrorBacktrace, now,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id":  tenantID,
			"owner_type": req.OwnerType,
			"owner_id":   req.OwnerID,
			"message":    req.Message,
		}).Error("Failed to append status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to append status")
	}

	return &s, nil
}

// Latest returns the owner's current status row, or nil when the owner has
// none yet (callers treat that as Pending).
func (r *Repository) Latest(ctx context.Context, tenantID, ownerType, ownerID string) (*models.Status, error) {
	ctx, span := tracing.StartSpan(ctx, "status.Repository.Latest")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(statusColumns...)
	sb.From("statuses")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("owner_type", ownerType),
		sb.Equal("owner_id", ownerID),
	)
	sb.OrderBy("id DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var s models.Status
	if err := r.db.GetContext(ctx, &s, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "owner_type": ownerType, "owner_id": ownerID}).Error("Failed to get latest status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get status")
	}
	return &s, nil
}

// CurrentMessage resolves the owner's current status message, Pending when the
// owner has no rows.
func (r *Repository) CurrentMessage(ctx context.Context, tenantID, ownerType, ownerID string) (string, error) {
	s, err := r.Latest(ctx, tenantID, ownerType, ownerID)
	if err != nil {
		return "", err
	}
	if s == nil {
		return models.StatusPending, nil
	}
	return s.Message, nil
}

// List returns an owner's status history, newest first
func (r *Repository) List(ctx context.Context, tenantID, ownerType, ownerID string, limit int) ([]models.Status, error) {
	ctx, span := tracing.StartSpan(ctx, "status.Repository.List")
	defer span.End()

	if limit < 1 || limit > 200 {
		limit = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(statusColumns...)
	sb.From("statuses")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("owner_type", ownerType),
		sb.Equal("owner_id", ownerID),
	)
	sb.OrderBy("id DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var statuses []models.Status
	if err := r.db.SelectContext(ctx, &statuses, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "owner_type": ownerType, "owner_id": ownerID}).Error("Failed to list statuses")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list statuses")
	}
	return statuses, nil
}

// CountSettledEntries counts distinct entries in a run that have at least one
// status row, i.e. have left Pending. Compared against the run's enqueued
// counter to decide when relationship resolution can start.
func (r *Repository) CountSettledEntries(ctx context.Context, tenantID, runID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "status.Repository.CountSettledEntries")
	defer span.End()

	query := `
		SELECT COUNT(DISTINCT owner_id)
		FROM statuses
		WHERE tenant_id = $1 AND run_id = $2 AND owner_type = $3
	`

	var count int
	if err := r.db.GetContext(ctx, &count, query, tenantID, runID, models.StatusOwnerEntry); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "run_id": runID}).Error("Failed to count settled entries")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count settled entries")
	}
	return count, nil
}
