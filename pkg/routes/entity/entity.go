package entity

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/pasifika-atlas/reef/internal/repositories/canonicalentity"
	"github.com/pasifika-atlas/reef/pkg/graph"
	"github.com/pasifika-atlas/reef/pkg/ledger"
	"github.com/pasifika-atlas/reef/pkg/models"
)

// Handler serves the canonical entity read surface.
type Handler struct {
	entities *canonicalentity.Repository
	ledger   *ledger.Service
	queries  *graph.QueryService
}

// NewHandler creates the entity handler. queries may be nil when the graph
// projection is disabled.
func NewHandler(entities *canonicalentity.Repository, ledgerService *ledger.Service, queries *graph.QueryService) *Handler {
	return &Handler{
		entities: entities,
		ledger:   ledgerService,
		queries:  queries,
	}
}

// Register registers entity routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/relations", h.Relations)
	g.GET("/:id/history", h.History)
	g.GET("/:id/as-of/:runID", h.AsOf)
	g.GET("/:id/neighbors", h.Neighbors)
}

// List returns a page of canonical entities, optionally filtered by type.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()

	var entityType *string
	if t := c.QueryParam("entity_type"); t != "" {
		if t != models.EntityTypeCulturalWork && t != models.EntityTypeGeographicEntity {
			return httperror.NewHTTPError(http.StatusBadRequest, "unknown entity_type")
		}
		entityType = &t
	}

	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 50)

	resp, err := h.entities.List(ctx, entityType, page, pageSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Get returns one canonical entity by id.
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	entity, err := h.entities.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if entity == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "entity not found")
	}
	return c.JSON(http.StatusOK, entity)
}

// Relations returns an entity's outgoing affiliation edges.
func (h *Handler) Relations(c echo.Context) error {
	ctx := c.Request().Context()

	relations, err := h.entities.ListRelationsFrom(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, relations)
}

// History returns the entity's full provenance ledger.
func (h *Handler) History(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	entries, err := h.ledger.History(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.EntityHistoryResponse{
		EntityID: id,
		Entries:  entries,
	})
}

// AsOf reconstructs the entity's attribute state as of a given run.
func (h *Handler) AsOf(c echo.Context) error {
	ctx := c.Request().Context()

	state, err := h.ledger.AsOf(ctx, c.Param("id"), c.Param("runID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, state)
}

// Neighbors returns graph neighbors within N hops.
func (h *Handler) Neighbors(c echo.Context) error {
	ctx := c.Request().Context()

	if h.queries == nil {
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "graph projection disabled")
	}

	hops := queryInt(c, "hops", 1)
	result, err := h.queries.FindNeighbors(ctx, c.Param("id"), hops)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
