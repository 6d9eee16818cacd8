package importer

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Ramsey-B/stem/pkg/context"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/importer"
	"github.com/Ramsey-B/fern/internal/repositories/run"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/queue"
)

var validate = validator.New()

// Register registers importer routes
func Register(g *echo.Group) {
	g.GET("", ListImporters)
	g.GET("/:id", GetImporter)
	g.POST("", CreateImporter)
	g.PUT("/:id", UpdateImporter)
	g.DELETE("/:id", DeleteImporter)
	g.POST("/:id/run", TriggerRun)
	g.GET("/:id/runs", ListRuns)
}

// ListImporters lists importers for the tenant
func ListImporters(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	ctx, repo, err := ectoinject.GetContext[*importer.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	importers, err := repo.List(ctx, tenantID, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, importers)
}

// GetImporter gets an importer by ID
func GetImporter(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*importer.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	imp, err := repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, imp)
}

// CreateImporter creates a new importer
func CreateImporter(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	var req models.CreateImporterRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, repo, err := ectoinject.GetContext[*importer.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	imp, err := repo.Create(ctx, tenantID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, imp)
}

// UpdateImporter updates an importer
func UpdateImporter(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	var req models.UpdateImporterRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, repo, err := ectoinject.GetContext[*importer.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	imp, err := repo.Update(ctx, tenantID, id, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, imp)
}

// DeleteImporter soft-deletes an importer
func DeleteImporter(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*importer.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := repo.SoftDelete(ctx, tenantID, id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// TriggerRun enqueues a run of the importer. Pass only_updates=true to skip
// records whose raw metadata is unchanged.
func TriggerRun(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")
	onlyUpdates := c.QueryParam("only_updates") == "true"

	ctx, repo, err := ectoinject.GetContext[*importer.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	// Confirm the importer exists before enqueueing
	imp, err := repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	ctx, enqueuer, err := ectoinject.GetContext[*queue.Enqueuer](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "queue unavailable")
	}

	err = enqueuer.Enqueue(ctx, tenantID, queue.JobTypeImporterRun, queue.ImporterRunJob{
		ImporterID:  imp.ID,
		OnlyUpdates: onlyUpdates,
	})
	if err != nil {
		return err
	}

	// A manual trigger also advances the schedule, so a scheduled run does
	// not immediately follow it.
	if imp.RunInterval > 0 {
		if err := repo.MarkRan(ctx, tenantID, imp.ID, time.Now().UTC()); err != nil {
			return err
		}
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "enqueued"})
}

// ListRuns lists historical runs of an importer, newest first
func ListRuns(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ctx, runs, err := ectoinject.GetContext[*run.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	items, err := runs.ListByImporter(ctx, tenantID, id, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, items)
}
