package run

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/pasifika-atlas/reef/internal/repositories/ingestionrun"
	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/pipeline"
	"github.com/pasifika-atlas/reef/pkg/sources"
)

// Handler serves ingestion run endpoints.
type Handler struct {
	runner   *pipeline.Runner
	runs     *ingestionrun.Repository
	validate *validator.Validate
}

func NewHandler(runner *pipeline.Runner, runs *ingestionrun.Repository) *Handler {
	return &Handler{
		runner:   runner,
		runs:     runs,
		validate: validator.New(),
	}
}

// Register registers run routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("", h.Trigger)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
}

// TriggerRunRequest submits an inline batch of records as one run.
type TriggerRunRequest struct {
	Source  string      `json:"source" validate:"required"`
	Records []RunRecord `json:"records" validate:"required,min=1,dive"`
}

// RunRecord is one raw record inside an inline batch.
type RunRecord struct {
	SourceSystem     string          `json:"source_system" validate:"required"`
	EntityType       string          `json:"entity_type" validate:"required"`
	Fields           json.RawMessage `json:"fields" validate:"required"`
	RawGeometry      json.RawMessage `json:"raw_geometry,omitempty"`
	GeometryEncoding string          `json:"geometry_encoding,omitempty"`
	TrustTier        string          `json:"trust_tier" validate:"required,oneof=verified unverified"`
}

// Trigger runs the pipeline over an inline batch and returns the finished
// run with its counters.
func (h *Handler) Trigger(c echo.Context) error {
	ctx := c.Request().Context()

	var req TriggerRunRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	reqs := make([]*models.CreateSourceRecordRequest, 0, len(req.Records))
	for _, rec := range req.Records {
		r := &models.CreateSourceRecordRequest{
			SourceSystem: rec.SourceSystem,
			EntityType:   rec.EntityType,
			Fields:       rec.Fields,
			TrustTier:    rec.TrustTier,
		}
		if len(rec.RawGeometry) > 0 {
			r.RawGeometry = []byte(rec.RawGeometry)
			encoding := rec.GeometryEncoding
			if encoding == "" {
				encoding = "geojson"
			}
			r.GeometryEncoding = &encoding
		}
		reqs = append(reqs, r)
	}

	finished, err := h.runner.Run(ctx, sources.NewStaticSource(req.Source, reqs...))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, finished)
}

// List returns ingestion runs, most recent first.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()

	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 50)

	resp, err := h.runs.List(ctx, page, pageSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Get returns one run with its counters.
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	run, err := h.runs.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if run == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, run)
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
