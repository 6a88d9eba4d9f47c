package lists

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/mediacore/mediacore/internal/catalog"
	"github.com/mediacore/mediacore/internal/engine"
	"github.com/mediacore/mediacore/internal/filter"
	"github.com/mediacore/mediacore/internal/ratelimit"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Handlers provides HTTP handlers for list operations.
type Handlers struct {
	service *Service
}

// NewHandlers creates new list handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers the list routes.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.POST("/preview", h.Preview)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/refresh", h.Refresh)
}

// RegisterFilterRoutes registers the field registry routes.
func (h *Handlers) RegisterFilterRoutes(g *echo.Group) {
	g.GET("/:mediaType", h.Fields)
}

// PreviewResponse is the body of a preview.
type PreviewResponse struct {
	Items              []catalog.Item `json:"items"`
	Mode               engine.Mode    `json:"mode"`
	PagesFetched       int            `json:"pagesFetched"`
	PossiblyIncomplete bool           `json:"possiblyIncomplete"`
}

// FieldResponse describes one field of the capability registry.
type FieldResponse struct {
	Field             filter.Field      `json:"field"`
	Label             string            `json:"label"`
	Kind              filter.Kind       `json:"kind"`
	Operators         []filter.Operator `json:"operators"`
	Filterable        bool              `json:"filterable"`
	Sortable          bool              `json:"sortable"`
	RequiresLocalJoin bool              `json:"requiresLocalJoin"`
	Min               *float64          `json:"min,omitempty"`
	Max               *float64          `json:"max,omitempty"`
}

// List returns all lists.
// GET /api/v1/lists
func (h *Handlers) List(c echo.Context) error {
	lists, err := h.service.List(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, lists)
}

// Get returns a single list with its items.
// GET /api/v1/lists/:id
func (h *Handlers) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	l, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, l)
}

// Create saves a new list and evaluates it.
// POST /api/v1/lists
func (h *Handlers) Create(c echo.Context) error {
	var input CreateListInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, validationMessage(err))
	}

	l, err := h.service.Create(c.Request().Context(), input)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, l)
}

// Update edits a list.
// PATCH /api/v1/lists/:id
func (h *Handlers) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var input UpdateListInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, validationMessage(err))
	}

	l, err := h.service.Update(c.Request().Context(), id, input)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, l)
}

// Delete removes a list.
// DELETE /api/v1/lists/:id
func (h *Handlers) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.service.Delete(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Refresh queues a background refresh.
// POST /api/v1/lists/:id/refresh
func (h *Handlers) Refresh(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	queued, err := h.service.RequestRefresh(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{"id": id, "queued": queued})
}

// Preview evaluates a filter set without saving it. The evaluation stops when
// the client disconnects.
// POST /api/v1/lists/preview
func (h *Handlers) Preview(c echo.Context) error {
	var set filter.Set
	if err := c.Bind(&set); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.service.Preview(c.Request().Context(), set)
	if err != nil {
		return toHTTPError(err)
	}

	items := result.Items
	if items == nil {
		items = []catalog.Item{}
	}
	return c.JSON(http.StatusOK, PreviewResponse{
		Items:              items,
		Mode:               result.Mode,
		PagesFetched:       result.PagesFetched,
		PossiblyIncomplete: result.PossiblyIncomplete,
	})
}

// Fields returns the filterable and sortable fields of a media type.
// GET /api/v1/filters/:mediaType
func (h *Handlers) Fields(c echo.Context) error {
	mediaType := catalog.MediaType(c.Param("mediaType"))
	if !mediaType.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown media type")
	}

	caps := filter.Fields(mediaType)
	fields := make([]FieldResponse, len(caps))
	for i, fc := range caps {
		fields[i] = FieldResponse{
			Field:             fc.Field,
			Label:             fc.Label,
			Kind:              fc.Kind,
			Operators:         fc.AllowedOperators(),
			Filterable:        fc.Filterable,
			Sortable:          fc.Sortable(mediaType),
			RequiresLocalJoin: fc.RequiresLocalJoin,
			Min:               fc.Min,
			Max:               fc.Max,
		}
	}
	return c.JSON(http.StatusOK, fields)
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// toHTTPError maps domain errors onto status codes.
func toHTTPError(err error) error {
	var invalidFilter *filter.InvalidFilterError
	switch {
	case errors.As(err, &invalidFilter), errors.Is(err, ErrInvalidList):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ratelimit.ErrTimeout):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, catalog.ErrUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return "invalid " + fe.Field() + ": failed " + fe.Tag() + " check"
}
