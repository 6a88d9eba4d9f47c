package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/mediacore/mediacore/internal/catalog"
	"github.com/mediacore/mediacore/internal/ratelimit"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RatingLookup finds the local rating of an IMDb title.
type RatingLookup interface {
	RatingByImdbID(ctx context.Context, imdbID string) (catalog.LocalRating, bool, error)
}

// MediaHandler serves catalog lookups outside of list evaluation.
// Every call goes through the catalog client and so takes a token from the shared limiter.
type MediaHandler struct {
	catalog catalog.Catalog
	ratings RatingLookup
}

// NewMediaHandler creates a new media handler. ratings may be nil.
func NewMediaHandler(c catalog.Catalog, ratings RatingLookup) *MediaHandler {
	return &MediaHandler{
		catalog: c,
		ratings: ratings,
	}
}

// RegisterRoutes registers the media routes.
func (h *MediaHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/search/:mediaType", h.Search)
	g.GET("/trending/:mediaType", h.Trending)
	g.GET("/:mediaType/:id", h.Detail)
}

// PageResponse is one page of catalog results.
type PageResponse struct {
	Items        []catalog.Item `json:"items"`
	Page         int            `json:"page"`
	TotalPages   int            `json:"totalPages"`
	TotalResults int            `json:"totalResults"`
}

type searchRequest struct {
	Query string `query:"query" validate:"required,max=200"`
	Year  int    `query:"year" validate:"omitempty,min=1870,max=2200"`
	Page  int    `query:"page" validate:"omitempty,min=1,max=500"`
}

type trendingRequest struct {
	Window string `query:"window" validate:"omitempty,oneof=day week"`
	Page   int    `query:"page" validate:"omitempty,min=1,max=500"`
}

// Search runs a free-text title search.
// GET /api/v1/media/search/:mediaType?query=&year=&page=
func (h *MediaHandler) Search(c echo.Context) error {
	mediaType, err := mediaTypeParam(c)
	if err != nil {
		return err
	}

	var req searchRequest
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &req); err != nil {
		return err
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	page, err := h.catalog.Search(c.Request().Context(), catalog.SearchParams{
		MediaType: mediaType,
		Query:     req.Query,
		Year:      req.Year,
	}, pageOrFirst(req.Page))
	if err != nil {
		return mediaError(err)
	}
	return c.JSON(http.StatusOK, toPageResponse(page))
}

// Trending returns the trending feed for a day or week window.
// GET /api/v1/media/trending/:mediaType?window=&page=
func (h *MediaHandler) Trending(c echo.Context) error {
	mediaType, err := mediaTypeParam(c)
	if err != nil {
		return err
	}

	var req trendingRequest
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &req); err != nil {
		return err
	}
	if err := validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	page, err := h.catalog.Trending(c.Request().Context(), catalog.TrendingParams{
		MediaType:  mediaType,
		TimeWindow: req.Window,
	}, pageOrFirst(req.Page))
	if err != nil {
		return mediaError(err)
	}
	return c.JSON(http.StatusOK, toPageResponse(page))
}

// Detail returns one title, with its local IMDb rating when the index has it.
// GET /api/v1/media/:mediaType/:id
func (h *MediaHandler) Detail(c echo.Context) error {
	mediaType, err := mediaTypeParam(c)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	ctx := c.Request().Context()
	item, err := h.catalog.Detail(ctx, mediaType, id)
	if err != nil {
		return mediaError(err)
	}

	if h.ratings != nil && item.ImdbID != "" && item.Rating == nil {
		rating, ok, err := h.ratings.RatingByImdbID(ctx, item.ImdbID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if ok {
			item.Rating = &rating
		}
	}

	return c.JSON(http.StatusOK, item)
}

func mediaTypeParam(c echo.Context) (catalog.MediaType, error) {
	mediaType := catalog.MediaType(c.Param("mediaType"))
	if !mediaType.Valid() {
		return "", echo.NewHTTPError(http.StatusBadRequest, "unknown media type")
	}
	return mediaType, nil
}

func pageOrFirst(page int) int {
	if page == 0 {
		return 1
	}
	return page
}

func toPageResponse(p *catalog.Page) PageResponse {
	items := p.Items
	if items == nil {
		items = []catalog.Item{}
	}
	return PageResponse{
		Items:        items,
		Page:         p.Page,
		TotalPages:   p.TotalPages,
		TotalResults: p.TotalResults,
	}
}

// mediaError maps catalog failures onto status codes. Anything else the
// catalog failed with is reported as a bad gateway.
func mediaError(err error) error {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ratelimit.ErrTimeout), catalog.IsRateLimited(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}
