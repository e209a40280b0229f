package snapshot

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/pasifika-atlas/reef/pkg/snapshot"
)

// Handler serves the published snapshot read surface.
type Handler struct {
	publisher *snapshot.Publisher
}

func NewHandler(publisher *snapshot.Publisher) *Handler {
	return &Handler{publisher: publisher}
}

// Register registers snapshot routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/current", h.Current)
	g.GET("/current/export", h.ExportCurrent)
	g.GET("/:version", h.ByVersion)
}

// Current returns the snapshot the current pointer designates.
func (h *Handler) Current(c echo.Context) error {
	ctx := c.Request().Context()

	snap, err := h.publisher.Current(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "no snapshot published yet")
	}
	return c.JSON(http.StatusOK, snap)
}

// ExportCurrent returns the current snapshot decoded for download.
func (h *Handler) ExportCurrent(c echo.Context) error {
	ctx := c.Request().Context()

	export, err := h.publisher.Export(ctx, nil)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, export)
}

// ByVersion returns the decoded export of one immutable snapshot version.
func (h *Handler) ByVersion(c echo.Context) error {
	ctx := c.Request().Context()

	version, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil || version < 1 {
		return httperror.NewHTTPError(http.StatusBadRequest, "version must be a positive integer")
	}

	export, err := h.publisher.Export(ctx, &version)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, export)
}
