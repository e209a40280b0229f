package moderation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/pasifika-atlas/reef/pkg/gate"
	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/pipeline"
)

// Handler serves the moderation queue and decision endpoint.
type Handler struct {
	moderation *pipeline.Moderation
	validate   *validator.Validate
}

func NewHandler(moderation *pipeline.Moderation) *Handler {
	return &Handler{
		moderation: moderation,
		validate:   validator.New(),
	}
}

// Register registers moderation routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/queue", h.Queue)
	g.POST("/:outcomeID/decision", h.Decide)
}

// Queue lists held records awaiting review, oldest first.
func (h *Handler) Queue(c echo.Context) error {
	ctx := c.Request().Context()

	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 50)

	held, err := h.moderation.Queue(ctx, page, pageSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"items":     held,
		"page":      page,
		"page_size": pageSize,
	})
}

// Decide applies a moderator decision to a held outcome.
func (h *Handler) Decide(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.ModerationDecisionRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	outcome, err := h.moderation.Decide(ctx, c.Param("outcomeID"), req)
	if err != nil {
		var stateErr *gate.ModerationStateError
		if errors.As(err, &stateErr) {
			return httperror.NewHTTPError(http.StatusConflict, stateErr.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, outcome)
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
