// Package api exposes the review and operations HTTP surface: merge and
// reprocess, the labeling queue, visit review mutations, sync triggering
// and metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nestwatch/nestwatch-go/internal/conf"
	"github.com/nestwatch/nestwatch-go/internal/datastore"
	"github.com/nestwatch/nestwatch-go/internal/errors"
	"github.com/nestwatch/nestwatch-go/internal/logging"
	"github.com/nestwatch/nestwatch-go/internal/observability"
	"github.com/nestwatch/nestwatch-go/internal/pipeline"
)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	DS       datastore.Interface
	Settings *conf.Settings

	orchestrator *pipeline.Orchestrator
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// New builds the controller and registers its routes.
func New(settings *conf.Settings, ds datastore.Interface, orchestrator *pipeline.Orchestrator, metrics *observability.Metrics) *Controller {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	c := &Controller{
		Echo:         e,
		DS:           ds,
		Settings:     settings,
		orchestrator: orchestrator,
		metrics:      metrics,
		logger:       logging.ForService("api"),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Echo.GET("/healthz", c.Healthz)
	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}

	v1 := c.Echo.Group("/api/v1")

	v1.GET("/files", c.ListFiles)
	v1.GET("/files/:id", c.GetFile)
	v1.GET("/files/:id/visits", c.FileVisits)
	v1.POST("/files/:id/merge", c.MergeFile)
	v1.POST("/files/:id/reprocess", c.ReprocessFile)
	v1.POST("/files/:id/requeue", c.RequeueFile)

	v1.GET("/visits/:id", c.GetVisit)
	v1.POST("/visits/:id/override", c.OverrideVisit)
	v1.POST("/visits/:id/cover", c.SetVisitCover)
	v1.POST("/visits/:id/split", c.SplitVisit)

	v1.GET("/annotations/queue", c.AnnotationQueue)
	v1.POST("/detections/:id/annotation", c.AnnotateDetection)
	v1.POST("/detections/review", c.ReviewDetections)

	v1.POST("/sync/trigger", c.TriggerSync)
}

// Start runs the HTTP server until it fails or is shut down.
func (c *Controller) Start() error {
	addr := ":" + c.Settings.WebServer.Port
	c.logger.Info("starting API server", "addr", addr)
	if err := c.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.Echo.Shutdown(ctx)
}

// Healthz reports liveness.
func (c *Controller) Healthz(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// httpError maps the error taxonomy onto HTTP status codes.
func httpError(ctx echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryValidation):
		status = http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryState),
		errors.IsClaimConflict(err):
		status = http.StatusConflict
	}
	return ctx.JSON(status, map[string]string{"error": err.Error()})
}
