package entry

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Ramsey-B/stem/pkg/context"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/entry"
	"github.com/Ramsey-B/fern/internal/repositories/status"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Register registers entry routes
func Register(g *echo.Group) {
	g.GET("", ListEntries)
	g.GET("/:id", GetEntry)
	g.GET("/:id/statuses", GetEntryStatuses)
}

// ListEntries lists entries, optionally filtered by owner
func ListEntries(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	var ownerType, ownerID *string
	if v := c.QueryParam("owner_type"); v != "" {
		ownerType = &v
	}
	if v := c.QueryParam("owner_id"); v != "" {
		ownerID = &v
	}

	ctx, repo, err := ectoinject.GetContext[*entry.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	entries, err := repo.List(ctx, tenantID, ownerType, ownerID, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entries)
}

// EntryResponse is an entry plus its current status
type EntryResponse struct {
	models.Entry
	Status string `json:"status"`
}

// GetEntry gets an entry by ID with its current status
func GetEntry(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*entry.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	e, err := repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	ctx, statuses, err := ectoinject.GetContext[*status.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	current, err := statuses.CurrentMessage(ctx, tenantID, models.StatusOwnerEntry, e.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, EntryResponse{Entry: *e, Status: current})
}

// GetEntryStatuses lists the status history of an entry, newest first
func GetEntryStatuses(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ctx, statuses, err := ectoinject.GetContext[*status.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	items, err := statuses.List(ctx, tenantID, models.StatusOwnerEntry, id, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, items)
}
