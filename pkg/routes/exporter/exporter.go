package exporter

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Ramsey-B/stem/pkg/context"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/exporter"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/queue"
)

var validate = validator.New()

// Register registers exporter routes
func Register(g *echo.Group) {
	g.GET("", ListExporters)
	g.GET("/:id", GetExporter)
	g.POST("", CreateExporter)
	g.DELETE("/:id", DeleteExporter)
	g.POST("/:id/run", TriggerRun)
}

// ListExporters lists exporters for the tenant
func ListExporters(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	ctx, repo, err := ectoinject.GetContext[*exporter.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	exporters, err := repo.List(ctx, tenantID, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, exporters)
}

// GetExporter gets an exporter by ID
func GetExporter(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*exporter.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	exp, err := repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, exp)
}

// CreateExporter creates a new exporter
func CreateExporter(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	var req models.CreateExporterRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, repo, err := ectoinject.GetContext[*exporter.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	exp, err := repo.Create(ctx, tenantID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, exp)
}

// DeleteExporter soft-deletes an exporter
func DeleteExporter(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*exporter.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := repo.SoftDelete(ctx, tenantID, id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// TriggerRun enqueues a run of the exporter
func TriggerRun(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*exporter.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	exp, err := repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	ctx, enqueuer, err := ectoinject.GetContext[*queue.Enqueuer](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "queue unavailable")
	}

	err = enqueuer.Enqueue(ctx, tenantID, queue.JobTypeExporterRun, queue.ExporterRunJob{
		ExporterID: exp.ID,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "enqueued"})
}
