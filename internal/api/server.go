// Package api exposes the list engine over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mediacore/mediacore/internal/api/handlers"
	"github.com/mediacore/mediacore/internal/api/middleware"
	"github.com/mediacore/mediacore/internal/catalog"
	"github.com/mediacore/mediacore/internal/database"
	"github.com/mediacore/mediacore/internal/lists"
	"github.com/mediacore/mediacore/internal/ratelimit"
	"github.com/mediacore/mediacore/internal/ratings"
	"github.com/mediacore/mediacore/internal/scheduler"
	"github.com/mediacore/mediacore/internal/websocket"
)

// CatalogStatus reports the health of the remote catalog client.
type CatalogStatus interface {
	IsConfigured() bool
	BreakerState() string
}

// Deps are the services the server routes to.
type Deps struct {
	DB        *database.DB
	Hub       *websocket.Hub
	Lists     *lists.Service
	Scheduler *scheduler.Scheduler
	Ratings   *ratings.Store
	Catalog   CatalogStatus
	Media     catalog.Catalog
	Limiter   *ratelimit.Limiter
}

// Server handles HTTP requests for the MediaCore API.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger zerolog.Logger
}

// NewServer creates a new API server instance.
func NewServer(deps Deps, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger.With().Str("component", "api").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())

	s.echo.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	s.echo.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	s.echo.Use(middleware.SecurityHeaders())

	s.echo.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogMethod:    true,
		LogError:     true,
		LogRequestID: true,
		HandleError:  true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/health"
		},
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			event := s.logger.Info()
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
			}
			event.
				Str("requestId", v.RequestID).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.echo.Use(echomw.GzipWithConfig(echomw.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return c.Request().Header.Get("Upgrade") == "websocket"
		},
	}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if s.deps.Hub != nil {
		s.echo.GET("/ws", s.deps.Hub.HandleWebSocket)
	}

	api := s.echo.Group("/api/v1")
	api.GET("/status", s.getStatus)

	listHandlers := lists.NewHandlers(s.deps.Lists)
	listHandlers.RegisterRoutes(api.Group("/lists"))
	listHandlers.RegisterFilterRoutes(api.Group("/filters"))

	if s.deps.Media != nil {
		var lookup handlers.RatingLookup
		if s.deps.Ratings != nil {
			lookup = s.deps.Ratings
		}
		mediaHandler := handlers.NewMediaHandler(s.deps.Media, lookup)
		mediaHandler.RegisterRoutes(api.Group("/media"))
	}

	if s.deps.Scheduler != nil {
		schedulerHandler := handlers.NewSchedulerHandler(s.deps.Scheduler)
		schedulerHandler.RegisterRoutes(api.Group("/scheduler"))
	}
}

// Start begins listening for HTTP requests. It returns nil after Shutdown.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("Starting HTTP server")

	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.DB.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse summarizes the state of the engine's collaborators.
type StatusResponse struct {
	SchemaVersion     int64   `json:"schemaVersion"`
	Lists             int     `json:"lists"`
	Ratings           int     `json:"ratings"`
	TitleLinks        int     `json:"titleLinks"`
	CatalogConfigured bool    `json:"catalogConfigured"`
	CatalogBreaker    string  `json:"catalogBreaker"`
	RateTokens        float64 `json:"rateTokens"`
	WebsocketClients  int     `json:"websocketClients"`
}

// getStatus returns counts and collaborator state.
// GET /api/v1/status
func (s *Server) getStatus(c echo.Context) error {
	ctx := c.Request().Context()
	var resp StatusResponse

	version, err := s.deps.DB.Version(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp.SchemaVersion = version

	all, err := s.deps.Lists.List(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp.Lists = len(all)

	if s.deps.Ratings != nil {
		resp.Ratings, resp.TitleLinks, err = s.deps.Ratings.Counts(ctx)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	if s.deps.Catalog != nil {
		resp.CatalogConfigured = s.deps.Catalog.IsConfigured()
		resp.CatalogBreaker = s.deps.Catalog.BreakerState()
	}
	if s.deps.Limiter != nil {
		resp.RateTokens = s.deps.Limiter.Available()
	}
	if s.deps.Hub != nil {
		resp.WebsocketClients = s.deps.Hub.ClientCount()
	}

	return c.JSON(http.StatusOK, resp)
}
