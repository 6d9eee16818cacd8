package run

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Ramsey-B/stem/pkg/context"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/pendingrelationship"
	"github.com/Ramsey-B/fern/internal/repositories/run"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Register registers run routes
func Register(g *echo.Group) {
	g.GET("/importer/:id", GetImporterRun)
	g.GET("/exporter/:id", GetExporterRun)
	g.GET("/importer/:id/relationships", GetRunRelationships)
}

// GetImporterRun gets an importer run with its derived status
func GetImporterRun(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*run.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	r, err := repo.GetImporterRun(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.RunResponse{
		ID:        r.ID,
		OwnerType: models.OwnerTypeImporter,
		OwnerID:   r.ImporterID,
		Counters:  r.RunCounters,
		Status:    r.RunCounters.Status(),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	})
}

// GetExporterRun gets an exporter run with its derived status
func GetExporterRun(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*run.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	r, err := repo.GetExporterRun(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.RunResponse{
		ID:        r.ID,
		OwnerType: models.OwnerTypeExporter,
		OwnerID:   r.ExporterID,
		Counters:  r.RunCounters,
		Status:    r.RunCounters.Status(),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	})
}

// GetRunRelationships lists an importer run's pending relationships,
// optionally filtered by state
func GetRunRelationships(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	var states []string
	if v := c.QueryParam("state"); v != "" {
		states = []string{v}
	}

	ctx, rels, err := ectoinject.GetContext[*pendingrelationship.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	items, err := rels.ListByRun(ctx, tenantID, id, states)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, items)
}
