// Package annotation implements the face-region labeling workflow: a
// machine proposer that seeds face boxes on fresh detections, and the batch
// task that runs it over the labeling queue. Humans later confirm, correct,
// or reject the proposals through the API.
package annotation

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"

	"github.com/nestwatch/nestwatch-go/internal/datastore"
	"github.com/nestwatch/nestwatch-go/internal/inference"
	"github.com/nestwatch/nestwatch-go/internal/logging"
)

// Insets of the heuristic face box relative to the bird bounding box. The
// head is almost always in the upper part of the box for a bird on a feeder,
// so the proposal takes the top quarter with a small margin trimmed off.
const (
	headFraction    = 0.25
	horizontalInset = 0.05
	verticalInset   = 0.02
)

// ProposeFaceBox derives a face-region proposal from a bird bounding box
// using geometry alone. Boxes too small to carry a meaningful sub-region
// produce no proposal.
func ProposeFaceBox(bird inference.Box) *inference.Box {
	w, h := bird.Width(), bird.Height()
	if w < 20 || h < 20 {
		return nil
	}

	dx := int(float64(w) * horizontalInset)
	dy := int(float64(h) * verticalInset)
	face := inference.Box{
		X1: bird.X1 + dx,
		Y1: bird.Y1 + dy,
		X2: bird.X2 - dx,
		Y2: bird.Y1 + int(float64(h)*headFraction),
	}
	if face.Width() <= 0 || face.Height() <= 0 {
		return nil
	}
	return &face
}

// Annotator runs machine face proposals over the labeling queue in batches.
// When a FaceLocator is configured it runs against the detection's stored
// crop image; without one, or when the crop is unavailable, the geometric
// heuristic applies.
type Annotator struct {
	ds        datastore.Interface
	locator   inference.FaceLocator
	batchSize int
}

func New(ds datastore.Interface, locator inference.FaceLocator, batchSize int) *Annotator {
	return &Annotator{ds: ds, locator: locator, batchSize: batchSize}
}

// RunBatch proposes face boxes for one batch of unannotated detections and
// returns how many were annotated. Detections where the locator finds no
// face stay in the queue for a human; the machine only ever writes positive
// proposals. Safe to run concurrently with reviewers: a detection annotated
// in the meantime is skipped.
func (a *Annotator) RunBatch(ctx context.Context) (int, error) {
	detections, err := a.ds.DetectionsNeedingAnnotation(a.batchSize)
	if err != nil {
		return 0, err
	}

	annotated := 0
	for _, d := range detections {
		if err := ctx.Err(); err != nil {
			return annotated, err
		}

		face, err := a.propose(ctx, &d)
		if err != nil {
			a.logger().Warn("face proposal failed",
				"detection_id", d.ID, "error", err)
			continue
		}
		if face == nil {
			continue
		}

		applied, err := a.ds.ApplyMachineAnnotation(d.ID, *face)
		if err != nil {
			return annotated, err
		}
		if applied {
			annotated++
		}
	}

	if annotated > 0 {
		a.logger().Info("machine annotation batch complete",
			"batch", len(detections), "annotated", annotated)
	}
	return annotated, nil
}

func (a *Annotator) propose(ctx context.Context, d *datastore.Detection) (*inference.Box, error) {
	if a.locator != nil && d.CropPath != "" {
		crop, err := loadCrop(d.CropPath)
		if err == nil {
			face, err := a.locator.LocateFace(ctx, crop)
			if err != nil {
				return nil, err
			}
			if face == nil {
				// Model saw no face; leave the detection for a human.
				return nil, nil
			}
			// Locator coordinates are crop-relative; translate into the
			// frame so all stored boxes share one coordinate space.
			face.X1 += d.BboxX1
			face.Y1 += d.BboxY1
			face.X2 += d.BboxX1
			face.Y2 += d.BboxY1
			return face, nil
		}
		a.logger().Debug("crop unreadable, falling back to heuristic",
			"detection_id", d.ID, "crop_path", d.CropPath, "error", err)
	}

	bird := inference.Box{X1: d.BboxX1, Y1: d.BboxY1, X2: d.BboxX2, Y2: d.BboxY2}
	return ProposeFaceBox(bird), nil
}

func loadCrop(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func (a *Annotator) logger() *slog.Logger {
	if l := logging.ForService("annotation"); l != nil {
		return l
	}
	return slog.Default()
}
