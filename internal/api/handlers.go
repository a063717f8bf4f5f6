package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/nestwatch/nestwatch-go/internal/datastore"
	"github.com/nestwatch/nestwatch-go/internal/inference"
)

func paramID(ctx echo.Context) (uint, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}

func queryInt(ctx echo.Context, name string, fallback int) int {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// ListFiles returns files in reverse event order.
func (c *Controller) ListFiles(ctx echo.Context) error {
	limit := queryInt(ctx, "limit", 50)
	offset := queryInt(ctx, "offset", 0)
	files, err := c.DS.ListFiles(limit, offset)
	if err != nil {
		return httpError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, files)
}

// GetFile returns one file row.
func (c *Controller) GetFile(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	file, err := c.DS.GetFile(id)
	if err != nil {
		return httpError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, file)
}

// FileVisits returns a file's non-deleted visits.
func (c *Controller) FileVisits(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	visits, err := c.DS.VisitsForFile(id)
	if err != nil {
		return httpError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, visits)
}

type mergeRequest struct {
	TargetID     uint     `json:"target_id"`
	OverlapScore *float64 `json:"overlap_score"`
}

// MergeFile marks a file as duplicate of another.
func (c *Controller) MergeFile(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	var req mergeRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.DS.MergeFile(id, req.TargetID, req.OverlapScore); err != nil {
		return httpError(ctx, err)
	}
	c.logger.Info("file merged via API", "source_file_id", id, "target_file_id", req.TargetID)
	return ctx.NoContent(http.StatusNoContent)
}

// ReprocessFile reverses a merge, returning the file to the pending queue.
func (c *Controller) ReprocessFile(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	if err := c.DS.ReprocessFile(id); err != nil {
		return httpError(ctx, err)
	}
	if c.orchestrator != nil {
		c.orchestrator.TriggerSync()
	}
	return ctx.NoContent(http.StatusNoContent)
}

// RequeueFile forces a stuck processing file back to pending.
func (c *Controller) RequeueFile(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	if err := c.DS.RequeueFile(id); err != nil {
		return httpError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

type visitResponse struct {
	datastore.Visit
	ResolvedTaxonID *uint                 `json:"resolved_taxon_id"`
	Detections      []datastore.Detection `json:"detections"`
}

// GetVisit returns one visit with its detections and resolved species.
func (c *Controller) GetVisit(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	visit, err := c.DS.GetVisit(id)
	if err != nil {
		return httpError(ctx, err)
	}
	detections, err := c.DS.DetectionsForVisit(id)
	if err != nil {
		return httpError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, visitResponse{
		Visit:           *visit,
		ResolvedTaxonID: visit.ResolvedTaxonID(),
		Detections:      detections,
	})
}

type overrideRequest struct {
	TaxonID *uint `json:"taxon_id"` // null clears the override
}

// OverrideVisit records or clears a reviewer's species correction.
func (c *Controller) OverrideVisit(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	var req overrideRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.DS.SetVisitOverride(id, req.TaxonID); err != nil {
		return httpError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

type coverRequest struct {
	DetectionID uint `json:"detection_id"`
}

// SetVisitCover reassigns a visit's display detection.
func (c *Controller) SetVisitCover(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	var req coverRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.DS.SetVisitCover(id, req.DetectionID); err != nil {
		return httpError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

type splitRequest struct {
	Segments []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		TaxonID *uint   `json:"taxon_id"`
	} `json:"segments"`
}

// SplitVisit splits a visit into time segments.
func (c *Controller) SplitVisit(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	var req splitRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	specs := make([]datastore.SegmentSpec, 0, len(req.Segments))
	for _, s := range req.Segments {
		specs = append(specs, datastore.SegmentSpec{Start: s.Start, End: s.End, TaxonID: s.TaxonID})
	}
	created, err := c.DS.SplitVisit(id, specs)
	if err != nil {
		return httpError(ctx, err)
	}
	c.logger.Info("visit split via API", "visit_id", id, "segments", len(created))
	return ctx.JSON(http.StatusOK, created)
}

// AnnotationQueue returns the next detections needing a face annotation.
func (c *Controller) AnnotationQueue(ctx echo.Context) error {
	limit := queryInt(ctx, "limit", 20)
	detections, err := c.DS.DetectionsNeedingAnnotation(limit)
	if err != nil {
		return httpError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, detections)
}

type annotationRequest struct {
	Source string         `json:"source"` // human_confirmed, human_corrected, no_face
	Box    *inference.Box `json:"box"`
}

// AnnotateDetection records a human face annotation.
func (c *Controller) AnnotateDetection(ctx echo.Context) error {
	id, err := paramID(ctx)
	if err != nil {
		return err
	}
	var req annotationRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.DS.ApplyAnnotation(id, req.Source, req.Box); err != nil {
		return httpError(ctx, err)
	}
	if c.metrics != nil {
		c.metrics.Pipeline.RecordAnnotation(req.Source)
	}
	return ctx.NoContent(http.StatusNoContent)
}

type reviewRequest struct {
	IDs []uint `json:"ids"`
}

// ReviewDetections stamps a batch of detections as reviewed.
func (c *Controller) ReviewDetections(ctx echo.Context) error {
	var req reviewRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.DS.MarkDetectionsReviewed(req.IDs); err != nil {
		return httpError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// TriggerSync requests an immediate event source poll.
func (c *Controller) TriggerSync(ctx echo.Context) error {
	if c.orchestrator == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "scheduler not running")
	}
	queued := c.orchestrator.TriggerSync()
	return ctx.JSON(http.StatusAccepted, map[string]bool{"queued": queued})
}
